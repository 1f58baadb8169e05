package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fleetbook/internal/metrics"
	"fleetbook/internal/models"
	"fleetbook/internal/service"
	"fleetbook/internal/validate"
)

// SubmitReservationRequest is the body for POST /api/reservations. Dates use
// DD.MM.YYYY, times use HH:MM.
type SubmitReservationRequest struct {
	VehicleID           int64  `json:"vehicle_id"`
	RequesterID         int64  `json:"requester_id"`
	RequesterName       string `json:"requester_name"`
	RequesterDepartment string `json:"requester_department,omitempty"`
	PickupDate          string `json:"pickup_date"`
	PickupTime          string `json:"pickup_time"`
	ReturnDate          string `json:"return_date"`
	ReturnTime          string `json:"return_time"`
	Purpose             string `json:"purpose"`
	Destination         string `json:"destination"`
	PassengerCount      int    `json:"passenger_count,omitempty"`
	Notes               string `json:"notes,omitempty"`
	// Direct creates an already approved walk-in booking. Manager key
	// required.
	Direct bool   `json:"direct,omitempty"`
	Note   string `json:"note,omitempty"`
}

// ReservationResponse wraps a reservation together with any advisory
// conflicts.
type ReservationResponse struct {
	Reservation     *models.Reservation  `json:"reservation"`
	Conflicts       []models.Reservation `json:"conflicts,omitempty"`
	ConflictWarning bool                 `json:"conflict_warning"`
}

type decisionRequest struct {
	Note string `json:"note,omitempty"`
}

type rescheduleRequest struct {
	PickupDate string `json:"pickup_date"`
	PickupTime string `json:"pickup_time"`
	ReturnDate string `json:"return_date"`
	ReturnTime string `json:"return_time"`
	Note       string `json:"note,omitempty"`
}

// handleReservations serves GET (listing) and POST (submission) on
// /api/reservations.
func (s *HTTPServer) handleReservations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listReservations(w, r)
	case http.MethodPost:
		s.submitReservation(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// listReservations filters by vehicle_id or requester_id and splits into the
// current or archived view. GET /api/reservations?view=archived
func (s *HTTPServer) listReservations(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("reservations_list")

	var (
		list []models.Reservation
		err  error
	)
	ctx := r.Context()

	switch {
	case r.URL.Query().Get("vehicle_id") != "":
		id, perr := strconv.ParseInt(r.URL.Query().Get("vehicle_id"), 10, 64)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "invalid vehicle_id")
			return
		}
		list, err = s.svc.ListByVehicle(ctx, id)
	case r.URL.Query().Get("requester_id") != "":
		id, perr := strconv.ParseInt(r.URL.Query().Get("requester_id"), 10, 64)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "invalid requester_id")
			return
		}
		list, err = s.svc.ListByRequester(ctx, id)
	default:
		list, err = s.svc.List(ctx)
	}
	if err != nil {
		s.log.Error().Err(err).Msg("list reservations failed")
		writeError(w, http.StatusInternalServerError, "failed to list reservations")
		return
	}

	current, archived := s.svc.Partition(list)
	switch r.URL.Query().Get("view") {
	case "", "current":
		writeJSON(w, http.StatusOK, map[string]any{"reservations": current})
	case "archived":
		writeJSON(w, http.StatusOK, map[string]any{"reservations": archived})
	case "all":
		writeJSON(w, http.StatusOK, map[string]any{"reservations": list})
	default:
		writeError(w, http.StatusBadRequest, "view must be current, archived or all")
	}
}

// submitReservation validates the booking form and creates a pending
// reservation, or an approved one for manager walk-ins.
func (s *HTTPServer) submitReservation(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("reservations_submit")

	var req SubmitReservationRequest
	if err := decodeStrict(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.Direct && !s.isManager(r) {
		writeError(w, http.StatusUnauthorized, "direct booking requires manager API key")
		return
	}

	if !req.Direct && s.state != nil {
		ok, err := s.state.CheckRateLimit(r.Context(), req.RequesterID, s.submitLimit, time.Hour)
		if err != nil {
			s.log.Error().Err(err).Int64("requester_id", req.RequesterID).Msg("rate limit check failed")
		} else if !ok {
			writeError(w, http.StatusTooManyRequests, "submission limit reached, try again later")
			return
		}
	}

	form := validate.AutofillReturnDate(validate.Form{
		PickupDate:  req.PickupDate,
		PickupTime:  req.PickupTime,
		ReturnDate:  req.ReturnDate,
		ReturnTime:  req.ReturnTime,
		Purpose:     req.Purpose,
		Destination: req.Destination,
	})

	reqRange, err := s.validator.Validate(form)
	if err != nil {
		s.writeValidationError(w, err)
		return
	}

	submit := service.SubmitRequest{
		VehicleID:           req.VehicleID,
		RequesterID:         req.RequesterID,
		RequesterName:       req.RequesterName,
		RequesterDepartment: req.RequesterDepartment,
		Range:               reqRange,
		Purpose:             strings.TrimSpace(req.Purpose),
		Destination:         strings.TrimSpace(req.Destination),
		PassengerCount:      req.PassengerCount,
		Notes:               req.Notes,
	}

	if req.Direct {
		reservation, conflicts, err := s.svc.SubmitDirect(r.Context(), submit, req.Note)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.clearFormSession(r.Context(), req.RequesterID)
		writeJSON(w, http.StatusCreated, ReservationResponse{
			Reservation:     reservation,
			Conflicts:       conflicts,
			ConflictWarning: len(conflicts) > 0,
		})
		return
	}

	reservation, err := s.svc.Submit(r.Context(), submit)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.clearFormSession(r.Context(), req.RequesterID)
	writeJSON(w, http.StatusCreated, ReservationResponse{Reservation: reservation})
}

// handleReservationAction routes /api/reservations/{id} and
// /api/reservations/{id}/(approve|reject|reschedule).
func (s *HTTPServer) handleReservationAction(w http.ResponseWriter, r *http.Request) {
	const prefix = "/api/reservations/"
	rest := strings.TrimPrefix(r.URL.Path, prefix)
	parts := strings.SplitN(rest, "/", 2)

	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid reservation id")
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.getReservation(w, r, id)
		return
	}

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use POST")
		return
	}
	if !s.isManager(r) {
		writeError(w, http.StatusUnauthorized, "invalid or missing API key")
		return
	}

	switch parts[1] {
	case "approve":
		s.approveReservation(w, r, id)
	case "reject":
		s.rejectReservation(w, r, id)
	case "reschedule":
		s.rescheduleReservation(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "unknown action")
	}
}

func (s *HTTPServer) getReservation(w http.ResponseWriter, r *http.Request, id int64) {
	metrics.IncHTTP("reservations_get")

	reservation, err := s.svc.Get(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ReservationResponse{Reservation: reservation})
}

func (s *HTTPServer) approveReservation(w http.ResponseWriter, r *http.Request, id int64) {
	metrics.IncHTTP("reservations_approve")

	var req decisionRequest
	if err := decodeStrict(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	reservation, conflicts, err := s.svc.Approve(r.Context(), id, req.Note)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ReservationResponse{
		Reservation:     reservation,
		Conflicts:       conflicts,
		ConflictWarning: len(conflicts) > 0,
	})
}

func (s *HTTPServer) rejectReservation(w http.ResponseWriter, r *http.Request, id int64) {
	metrics.IncHTTP("reservations_reject")

	var req decisionRequest
	if err := decodeStrict(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	reservation, err := s.svc.Reject(r.Context(), id, req.Note)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ReservationResponse{Reservation: reservation})
}

// rescheduleReservation validates the replacement range with the same rules
// as submission, reusing the stored purpose and destination.
func (s *HTTPServer) rescheduleReservation(w http.ResponseWriter, r *http.Request, id int64) {
	metrics.IncHTTP("reservations_reschedule")

	var req rescheduleRequest
	if err := decodeStrict(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	existing, err := s.svc.Get(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	form := validate.AutofillReturnDate(validate.Form{
		PickupDate:  req.PickupDate,
		PickupTime:  req.PickupTime,
		ReturnDate:  req.ReturnDate,
		ReturnTime:  req.ReturnTime,
		Purpose:     existing.Purpose,
		Destination: existing.Destination,
	})

	newRange, err := s.validator.Validate(form)
	if err != nil {
		s.writeValidationError(w, err)
		return
	}

	reservation, conflicts, err := s.svc.Reschedule(r.Context(), id, newRange, req.Note)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ReservationResponse{
		Reservation:     reservation,
		Conflicts:       conflicts,
		ConflictWarning: len(conflicts) > 0,
	})
}

// writeValidationError maps validator failures to 422 with the field and
// code, or 400 for structural range errors.
func (s *HTTPServer) writeValidationError(w http.ResponseWriter, err error) {
	var fe *validate.FieldError
	if errors.As(err, &fe) {
		metrics.IncValidationFailed(fe.Code)
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error": "validation failed",
			"field": fe.Field,
			"code":  fe.Code,
		})
		return
	}
	if errors.Is(err, models.ErrInvalidRange) {
		writeError(w, http.StatusBadRequest, "pickup must be before return")
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrReservationNotFound):
		writeError(w, http.StatusNotFound, "reservation not found")
	case errors.Is(err, service.ErrVehicleNotFound):
		writeError(w, http.StatusNotFound, "vehicle not found")
	case errors.Is(err, service.ErrVehicleInactive):
		writeError(w, http.StatusConflict, "vehicle is not active")
	default:
		s.log.Error().Err(err).Msg("reservation operation failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
