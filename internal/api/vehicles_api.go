package api

import (
	"fmt"
	"net/http"
	"time"

	"fleetbook/internal/metrics"
	"fleetbook/internal/models"
)

// MaxAvailabilityDaysRange caps the availability window.
const MaxAvailabilityDaysRange = 90

// VehicleResponse represents a vehicle in API responses.
type VehicleResponse struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Plate string `json:"plate,omitempty"`
	Seats int    `json:"seats"`
}

// handleVehicles lists active vehicles in display order.
// GET /api/vehicles
func (s *HTTPServer) handleVehicles(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("vehicles")

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	vehicles, err := s.vehicles.GetActiveVehicles(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("list vehicles failed")
		writeError(w, http.StatusInternalServerError, "failed to list vehicles")
		return
	}

	out := make([]VehicleResponse, 0, len(vehicles))
	for _, v := range vehicles {
		out = append(out, VehicleResponse{
			ID:    v.ID,
			Name:  v.Name,
			Plate: v.Plate,
			Seats: v.Seats,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"vehicles": out})
}

// AvailabilityRequest is the body for POST /api/vehicles/availability.
type AvailabilityRequest struct {
	StartDate  string  `json:"start_date"` // Format: YYYY-MM-DD
	EndDate    string  `json:"end_date"`   // Format: YYYY-MM-DD
	VehicleIDs []int64 `json:"vehicle_ids,omitempty"`
}

// DateAvailability reports one day for one vehicle.
type DateAvailability struct {
	Date      string `json:"date"`
	Available bool   `json:"available"`
}

// VehicleAvailability is a vehicle with its per-day availability.
type VehicleAvailability struct {
	ID           int64              `json:"id"`
	Name         string             `json:"name"`
	Availability []DateAvailability `json:"availability"`
}

// AvailabilityResponse is the response for POST /api/vehicles/availability.
type AvailabilityResponse struct {
	Vehicles []VehicleAvailability `json:"vehicles"`
	Period   struct {
		Start string `json:"start"`
		End   string `json:"end"`
	} `json:"period"`
}

// handleAvailability returns day-granular availability for vehicles within a
// window. A day counts as unavailable when any approved reservation overlaps
// it.
// POST /api/vehicles/availability
func (s *HTTPServer) handleAvailability(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("vehicles_availability")

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use POST")
		return
	}

	var req AvailabilityRequest
	if err := decodeStrict(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	startDate, endDate, err := s.validateAvailabilityRequest(&req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	vehicles, err := s.vehicles.GetActiveVehicles(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("list vehicles failed")
		writeError(w, http.StatusInternalServerError, "failed to list vehicles")
		return
	}

	loc := s.validator.Location()
	response := AvailabilityResponse{Vehicles: make([]VehicleAvailability, 0, len(vehicles))}
	response.Period.Start = req.StartDate
	response.Period.End = req.EndDate

	for _, v := range vehicles {
		if !includeVehicle(v.ID, req.VehicleIDs) {
			continue
		}

		windowStart := time.Date(startDate.Year(), startDate.Month(), startDate.Day(), 0, 0, 0, 0, loc)
		windowEnd := time.Date(endDate.Year(), endDate.Month(), endDate.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)

		approved, err := s.vehicles.GetApprovedInWindow(r.Context(), v.ID, windowStart, windowEnd)
		if err != nil {
			s.log.Error().Err(err).Int64("vehicle_id", v.ID).Msg("availability query failed")
			writeError(w, http.StatusInternalServerError, "availability check failed")
			return
		}

		response.Vehicles = append(response.Vehicles, VehicleAvailability{
			ID:           v.ID,
			Name:         v.Name,
			Availability: dailyAvailability(approved, startDate, endDate, loc),
		})
	}

	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) validateAvailabilityRequest(req *AvailabilityRequest) (start, end time.Time, err error) {
	if req.StartDate == "" || req.EndDate == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("start_date and end_date are required")
	}

	startDate, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start_date format; expected YYYY-MM-DD")
	}

	endDate, err := time.Parse("2006-01-02", req.EndDate)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end_date format; expected YYYY-MM-DD")
	}

	if startDate.After(endDate) {
		return time.Time{}, time.Time{}, fmt.Errorf("start_date must be before or equal to end_date")
	}

	days := int(endDate.Sub(startDate).Hours() / 24)
	if days > MaxAvailabilityDaysRange {
		return time.Time{}, time.Time{}, fmt.Errorf("date range exceeds maximum of %d days", MaxAvailabilityDaysRange)
	}

	return startDate, endDate, nil
}

func includeVehicle(id int64, filter []int64) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		if f == id {
			return true
		}
	}
	return false
}

// dailyAvailability marks each day in [start, end] busy when any approved
// reservation overlaps that day's half-open range.
func dailyAvailability(approved []models.Reservation, start, end time.Time, loc *time.Location) []DateAvailability {
	out := make([]DateAvailability, 0)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		dayStart := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
		day := models.TimeRange{Start: dayStart, End: dayStart.AddDate(0, 0, 1)}

		busy := false
		for _, r := range approved {
			if r.Range.Overlaps(day) {
				busy = true
				break
			}
		}
		out = append(out, DateAvailability{
			Date:      d.Format("2006-01-02"),
			Available: !busy,
		})
	}
	return out
}

// handleExport streams the reservation ledger as an xlsx workbook.
// GET /api/export
func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("export")

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.exporter == nil {
		writeError(w, http.StatusServiceUnavailable, "export is not configured")
		return
	}

	filename := fmt.Sprintf("reservations_%s.xlsx", time.Now().Format("20060102"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	if err := s.exporter.WriteLedger(r.Context(), w); err != nil {
		s.log.Error().Err(err).Msg("ledger export failed")
	}
}
