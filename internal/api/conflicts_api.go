package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"fleetbook/internal/dateinput"
	"fleetbook/internal/metrics"
	"fleetbook/internal/models"
	"fleetbook/internal/validate"
)

// ConflictCheckRequest is the body for POST /api/conflicts. The preview only
// needs a structurally valid range, so purpose and destination are not
// required here.
type ConflictCheckRequest struct {
	VehicleID  int64  `json:"vehicle_id"`
	PickupDate string `json:"pickup_date"`
	PickupTime string `json:"pickup_time"`
	ReturnDate string `json:"return_date"`
	ReturnTime string `json:"return_time"`
	// ExcludeID leaves one reservation out of the scan, for reschedule
	// previews.
	ExcludeID int64 `json:"exclude_id,omitempty"`
}

type ConflictCheckResponse struct {
	Conflicts   []models.Reservation `json:"conflicts"`
	HasConflict bool                 `json:"has_conflict"`
}

// handleConflicts runs a non-binding conflict preview.
// POST /api/conflicts
func (s *HTTPServer) handleConflicts(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("conflicts_preview")

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use POST")
		return
	}

	var req ConflictCheckRequest
	if err := decodeStrict(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.VehicleID <= 0 {
		writeError(w, http.StatusBadRequest, "vehicle_id is required")
		return
	}

	candidate, err := s.parseRange(req.PickupDate, req.PickupTime, req.ReturnDate, req.ReturnTime)
	if err != nil {
		s.writeValidationError(w, err)
		return
	}

	conflicts, err := s.svc.Conflicts(r.Context(), req.VehicleID, candidate, req.ExcludeID)
	if err != nil {
		s.log.Error().Err(err).Int64("vehicle_id", req.VehicleID).Msg("conflict preview failed")
		writeError(w, http.StatusInternalServerError, "conflict check failed")
		return
	}

	writeJSON(w, http.StatusOK, ConflictCheckResponse{
		Conflicts:   conflicts,
		HasConflict: len(conflicts) > 0,
	})
}

// parseRange builds a time range from raw form fields, reporting failures
// with the same field codes as the validator.
func (s *HTTPServer) parseRange(pickupDate, pickupTime, returnDate, returnTime string) (models.TimeRange, error) {
	pd, err := dateinput.ParseDate(pickupDate)
	if err != nil {
		return models.TimeRange{}, &validate.FieldError{Field: validate.FieldPickupDate, Code: validate.CodeMalformedDate}
	}
	rd, err := dateinput.ParseDate(returnDate)
	if err != nil {
		return models.TimeRange{}, &validate.FieldError{Field: validate.FieldReturnDate, Code: validate.CodeMalformedDate}
	}
	pt, err := dateinput.ParseTime(pickupTime)
	if err != nil {
		return models.TimeRange{}, &validate.FieldError{Field: validate.FieldPickupTime, Code: validate.CodeMalformedTime}
	}
	rt, err := dateinput.ParseTime(returnTime)
	if err != nil {
		return models.TimeRange{}, &validate.FieldError{Field: validate.FieldReturnTime, Code: validate.CodeMalformedTime}
	}

	loc := s.validator.Location()
	return models.NewTimeRange(dateinput.Combine(pd, pt, loc), dateinput.Combine(rd, rt, loc))
}

// ValidateRequest is the body for POST /api/validate. Step 0 runs the full
// pipeline; 1 through 5 run a single step. When requester_id is set the form
// is merged with the requester's stored session, so each step only has to
// send the fields it changed.
type ValidateRequest struct {
	RequesterID int64         `json:"requester_id,omitempty"`
	Step        int           `json:"step"`
	Form        validate.Form `json:"form"`
}

type ValidateResponse struct {
	Valid bool          `json:"valid"`
	Field string        `json:"field,omitempty"`
	Code  string        `json:"code,omitempty"`
	Form  validate.Form `json:"form"`
}

// handleValidate checks the booking form without creating anything. The form
// in the response has input masking and return-date autofill applied, so the
// UI can echo it back to the user.
// POST /api/validate
func (s *HTTPServer) handleValidate(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("validate_form")

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use POST")
		return
	}

	var req ValidateRequest
	if err := decodeStrict(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Step < 0 || req.Step > validate.StepCount {
		writeError(w, http.StatusBadRequest, "step must be between 0 and 5")
		return
	}

	form := req.Form
	if req.RequesterID > 0 && s.state != nil {
		if sess, err := s.state.GetSession(r.Context(), req.RequesterID); err == nil && sess != nil {
			form = mergeSessionForm(sess.Fields, form)
		}
	}
	form.PickupDate = dateinput.MaskDate(form.PickupDate)
	form.ReturnDate = dateinput.MaskDate(form.ReturnDate)
	form.PickupTime = dateinput.MaskTime(form.PickupTime)
	form.ReturnTime = dateinput.MaskTime(form.ReturnTime)
	form = validate.AutofillReturnDate(form)

	var err error
	if req.Step == 0 {
		_, err = s.validator.Validate(form)
	} else {
		err = s.validator.ValidateStep(req.Step, form)
	}

	if req.RequesterID > 0 && s.state != nil {
		s.storeFormSession(r.Context(), req.RequesterID, req.Step, form, err == nil)
	}

	resp := ValidateResponse{Valid: err == nil, Form: form}
	if err != nil {
		var fe *validate.FieldError
		if errors.As(err, &fe) {
			metrics.IncValidationFailed(fe.Code)
			resp.Field = fe.Field
			resp.Code = fe.Code
		} else {
			resp.Code = "invalid_range"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// storeFormSession persists the merged form so the requester's next step
// resumes from it. A passed full pipeline clears the session instead; the
// submission that follows starts clean.
func (s *HTTPServer) storeFormSession(ctx context.Context, userID int64, step int, form validate.Form, valid bool) {
	if valid && step == 0 {
		s.clearFormSession(ctx, userID)
		return
	}

	next := step
	if valid && step < validate.StepCount {
		next = step + 1
	}
	sess := &models.FormSession{
		UserID:    userID,
		Step:      next,
		Fields:    formFields(form),
		UpdatedAt: time.Now(),
	}
	if err := s.state.SetSession(ctx, sess); err != nil {
		s.log.Warn().Err(err).Int64("user_id", userID).Msg("store form session failed")
	}
}

func (s *HTTPServer) clearFormSession(ctx context.Context, userID int64) {
	if s.state == nil || userID <= 0 {
		return
	}
	if err := s.state.ClearSession(ctx, userID); err != nil {
		s.log.Warn().Err(err).Int64("user_id", userID).Msg("clear form session failed")
	}
}

func formFields(f validate.Form) map[string]string {
	return map[string]string{
		validate.FieldPickupDate:  f.PickupDate,
		validate.FieldPickupTime:  f.PickupTime,
		validate.FieldReturnDate:  f.ReturnDate,
		validate.FieldReturnTime:  f.ReturnTime,
		validate.FieldPurpose:     f.Purpose,
		validate.FieldDestination: f.Destination,
	}
}

// mergeSessionForm fills fields the request left empty from the stored
// session. Incoming values always win.
func mergeSessionForm(stored map[string]string, f validate.Form) validate.Form {
	pick := func(field, incoming string) string {
		if incoming != "" {
			return incoming
		}
		return stored[field]
	}
	f.PickupDate = pick(validate.FieldPickupDate, f.PickupDate)
	f.PickupTime = pick(validate.FieldPickupTime, f.PickupTime)
	f.ReturnDate = pick(validate.FieldReturnDate, f.ReturnDate)
	f.ReturnTime = pick(validate.FieldReturnTime, f.ReturnTime)
	f.Purpose = pick(validate.FieldPurpose, f.Purpose)
	f.Destination = pick(validate.FieldDestination, f.Destination)
	return f
}
