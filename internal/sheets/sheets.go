// Package sheets mirrors the reservation ledger into a Google Spreadsheet
// that dispatchers keep open. The mirror is derived data; the database stays
// the source of truth and the sheet may lag behind it.
package sheets

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"fleetbook/internal/models"
)

const (
	ledgerSheet   = "Reservations"
	scheduleSheet = "Schedule"
)

// SheetsService writes reservation rows and the schedule grid. The row cache
// maps reservation id to its spreadsheet row so repeat updates skip the
// lookup scan.
type SheetsService struct {
	srv           *sheets.Service
	spreadsheetID string
	logger        *zerolog.Logger

	cacheMu  sync.RWMutex
	rowCache map[int64]int
}

// NewSheetsService authenticates with a service account JSON key file.
func NewSheetsService(ctx context.Context, credentialsFile, spreadsheetID string, logger *zerolog.Logger) (*SheetsService, error) {
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read sheets credentials: %w", err)
	}

	jwtConfig, err := google.JWTConfigFromJSON(data, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse sheets credentials: %w", err)
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(jwtConfig.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("init sheets service: %w", err)
	}

	return &SheetsService{
		srv:           srv,
		spreadsheetID: spreadsheetID,
		logger:        logger,
		rowCache:      make(map[int64]int),
	}, nil
}

func (s *SheetsService) getCachedRow(id int64) (int, bool) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	row, ok := s.rowCache[id]
	return row, ok
}

func (s *SheetsService) setCachedRow(id int64, row int) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.rowCache[id] = row
}

func (s *SheetsService) deleteCacheRow(id int64) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	delete(s.rowCache, id)
}

// ClearCache drops all cached row positions, forcing fresh lookups.
func (s *SheetsService) ClearCache() {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.rowCache = make(map[int64]int)
}

// filterActiveReservations drops rejected entries; the mirror only shows
// reservations that can still occupy a vehicle.
func (s *SheetsService) filterActiveReservations(list []models.Reservation) []models.Reservation {
	active := make([]models.Reservation, 0, len(list))
	for _, r := range list {
		if r.Status == models.StatusRejected {
			continue
		}
		active = append(active, r)
	}
	return active
}

func reservationRowValues(r *models.Reservation) []interface{} {
	decidedAt := ""
	if r.RespondedAt != nil {
		decidedAt = r.RespondedAt.Format("2006-01-02 15:04:05")
	}

	return []interface{}{
		r.ID,
		r.VehicleName,
		r.RequesterName,
		r.RequesterDepartment,
		r.Range.Start.Format("2006-01-02 15:04"),
		r.Range.End.Format("2006-01-02 15:04"),
		r.Purpose,
		r.Destination,
		r.Status,
		decidedAt,
		r.CreatedAt.Format("2006-01-02 15:04:05"),
	}
}

// UpsertReservation writes one reservation into the ledger sheet, updating
// its existing row when known.
func (s *SheetsService) UpsertReservation(ctx context.Context, r *models.Reservation) error {
	row, ok := s.getCachedRow(r.ID)
	if !ok {
		found, err := s.findReservationRow(ctx, r.ID)
		if err != nil {
			return err
		}
		row = found
	}

	values := &sheets.ValueRange{Values: [][]interface{}{reservationRowValues(r)}}

	if row > 0 {
		rangeA1 := fmt.Sprintf("%s!A%d", ledgerSheet, row)
		_, err := s.srv.Spreadsheets.Values.Update(s.spreadsheetID, rangeA1, values).
			ValueInputOption("RAW").Context(ctx).Do()
		if err != nil {
			s.deleteCacheRow(r.ID)
			return fmt.Errorf("update reservation row %d: %w", row, err)
		}
		return nil
	}

	resp, err := s.srv.Spreadsheets.Values.Append(s.spreadsheetID, ledgerSheet+"!A:A", values).
		ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("append reservation %d: %w", r.ID, err)
	}

	if resp.Updates != nil && resp.Updates.UpdatedRange != "" {
		if appendedRow := parseRowFromRange(resp.Updates.UpdatedRange); appendedRow > 0 {
			s.setCachedRow(r.ID, appendedRow)
		}
	}
	return nil
}

// findReservationRow scans the id column for the reservation and caches the
// hit. Returns 0 when the reservation is not in the sheet yet.
func (s *SheetsService) findReservationRow(ctx context.Context, id int64) (int, error) {
	resp, err := s.srv.Spreadsheets.Values.Get(s.spreadsheetID, ledgerSheet+"!A:A").
		Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("scan ledger ids: %w", err)
	}

	want := fmt.Sprintf("%d", id)
	for i, row := range resp.Values {
		if len(row) > 0 && fmt.Sprintf("%v", row[0]) == want {
			rowNum := i + 1
			s.setCachedRow(id, rowNum)
			return rowNum, nil
		}
	}
	return 0, nil
}

// parseRowFromRange extracts the row number from an A1 range like
// "Reservations!A42:K42".
func parseRowFromRange(a1 string) int {
	row := 0
	inDigits := false
	for _, ch := range a1 {
		switch {
		case ch >= '0' && ch <= '9':
			row = row*10 + int(ch-'0')
			inDigits = true
		case ch == ':' && inDigits:
			return row
		default:
			if inDigits {
				row = 0
				inDigits = false
			}
		}
	}
	return row
}

// prepareDateHeaders builds the schedule header row: one leading vehicle
// column plus one column per day.
func (s *SheetsService) prepareDateHeaders(start, end time.Time) ([]interface{}, int) {
	headers := []interface{}{"Vehicle"}
	cols := 0
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		headers = append(headers, d.Format("02.01"))
		cols++
	}
	return headers, cols
}

var (
	colorFree = &sheets.Color{Red: 0.85, Green: 0.95, Blue: 0.85}
	colorBusy = &sheets.Color{Red: 0.96, Green: 0.80, Blue: 0.80}
)

// formatScheduleCell renders one vehicle-day cell: empty days show "free",
// booked days list the requesters.
func (s *SheetsService) formatScheduleCell(vehicle models.Vehicle, dayReservations []models.Reservation) (string, *sheets.Color) {
	if len(dayReservations) == 0 {
		return "free", colorFree
	}

	text := ""
	for i, r := range dayReservations {
		if i > 0 {
			text += "\n"
		}
		text += fmt.Sprintf("%s %s-%s",
			r.RequesterName,
			r.Range.Start.Format("15:04"),
			r.Range.End.Format("15:04"))
	}
	return text, colorBusy
}

// SyncSchedule rewrites the schedule grid for the window: vehicles as rows,
// days as columns.
func (s *SheetsService) SyncSchedule(ctx context.Context, vehicles []models.Vehicle, byVehicle map[int64][]models.Reservation, start, end time.Time) error {
	headers, cols := s.prepareDateHeaders(start, end)

	grid := [][]interface{}{headers}
	for _, v := range vehicles {
		row := make([]interface{}, 0, cols+1)
		row = append(row, v.Name)

		for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
			dayStart := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, d.Location())
			day := models.TimeRange{Start: dayStart, End: dayStart.AddDate(0, 0, 1)}

			var hits []models.Reservation
			for _, r := range s.filterActiveReservations(byVehicle[v.ID]) {
				if r.Status == models.StatusApproved && r.Range.Overlaps(day) {
					hits = append(hits, r)
				}
			}

			text, _ := s.formatScheduleCell(v, hits)
			row = append(row, text)
		}
		grid = append(grid, row)
	}

	_, err := s.srv.Spreadsheets.Values.Update(s.spreadsheetID, scheduleSheet+"!A1",
		&sheets.ValueRange{Values: grid}).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("write schedule grid: %w", err)
	}

	s.logger.Debug().
		Int("vehicles", len(vehicles)).
		Int("days", cols).
		Msg("schedule grid synced")
	return nil
}
