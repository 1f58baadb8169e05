// Package export renders the reservation ledger as an xlsx workbook with one
// sheet per status view.
package export

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"fleetbook/internal/models"
)

// ReservationSource is the listing surface the exporter reads from.
type ReservationSource interface {
	List(ctx context.Context) ([]models.Reservation, error)
	Partition(list []models.Reservation) (current, archived []models.Reservation)
}

type LedgerExporter struct {
	source ReservationSource
	logger *zerolog.Logger
}

func NewLedgerExporter(source ReservationSource, logger *zerolog.Logger) *LedgerExporter {
	return &LedgerExporter{source: source, logger: logger}
}

var ledgerColumns = []string{
	"ID", "Vehicle", "Requester", "Department", "Pickup", "Return",
	"Purpose", "Destination", "Passengers", "Status", "Decided at",
	"Decision note", "Created at",
}

// WriteLedger streams the workbook to w. Sheets: Current, Archive.
func (e *LedgerExporter) WriteLedger(ctx context.Context, w io.Writer) error {
	list, err := e.source.List(ctx)
	if err != nil {
		return fmt.Errorf("load reservations: %w", err)
	}
	current, archived := e.source.Partition(list)

	f := excelize.NewFile()
	defer f.Close()

	if err := writeSheet(f, "Current", true, current); err != nil {
		return err
	}
	if err := writeSheet(f, "Archive", false, archived); err != nil {
		return err
	}

	e.logger.Info().
		Int("current", len(current)).
		Int("archived", len(archived)).
		Msg("ledger exported")

	return f.Write(w)
}

func writeSheet(f *excelize.File, name string, first bool, list []models.Reservation) error {
	if first {
		f.SetSheetName("Sheet1", name)
	} else {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("create sheet %s: %w", name, err)
		}
	}

	for i, col := range ledgerColumns {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(name, cell, col); err != nil {
			return err
		}
	}

	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		startCell, _ := excelize.CoordinatesToCellName(1, 1)
		endCell, _ := excelize.CoordinatesToCellName(len(ledgerColumns), 1)
		_ = f.SetCellStyle(name, startCell, endCell, style)
	}

	for rowIdx, r := range list {
		for colIdx, val := range ledgerRow(r) {
			cell, err := excelize.CoordinatesToCellName(colIdx+1, rowIdx+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(name, cell, val); err != nil {
				return err
			}
		}
	}
	return nil
}

func ledgerRow(r models.Reservation) []interface{} {
	decidedAt := ""
	if r.RespondedAt != nil {
		decidedAt = r.RespondedAt.Format("02.01.2006 15:04")
	}

	status := r.Status
	if r.IsAdminDirect {
		status += " (direct)"
	}

	return []interface{}{
		r.ID,
		r.VehicleName,
		r.RequesterName,
		r.RequesterDepartment,
		r.Range.Start.Format("02.01.2006 15:04"),
		r.Range.End.Format("02.01.2006 15:04"),
		r.Purpose,
		r.Destination,
		r.PassengerCount,
		status,
		decidedAt,
		r.ResponseNote,
		r.CreatedAt.Format("02.01.2006 15:04"),
	}
}
