// Package validate implements the multi-step validation pipeline that gates
// reservation submission. Steps run in order and fail fast; each failure is
// reported as a field-scoped code, never aggregated or coerced.
package validate

import (
	"strings"
	"time"

	"fleetbook/internal/dateinput"
	"fleetbook/internal/models"
)

// Validation codes surfaced to the form, one per rule.
const (
	CodeMalformedDate              = "malformed_date"
	CodeMalformedTime              = "malformed_time"
	CodePastDateRejected           = "past_date_rejected"
	CodeReturnBeforePickup         = "return_before_pickup"
	CodeReturnTimeBeforePickupTime = "return_time_before_pickup_time"
	CodeMissingPurpose             = "missing_purpose"
	CodeMissingDestination         = "missing_destination"
)

// Form field names as used in FieldError.Field.
const (
	FieldPickupDate  = "pickup_date"
	FieldPickupTime  = "pickup_time"
	FieldReturnDate  = "return_date"
	FieldReturnTime  = "return_time"
	FieldPurpose     = "purpose"
	FieldDestination = "destination"
)

// StepCount is the number of validation steps in the pipeline.
const StepCount = 5

// FieldError attributes a validation failure to a single form field.
type FieldError struct {
	Field string `json:"field"`
	Code  string `json:"code"`
}

func (e *FieldError) Error() string {
	return e.Code + " (" + e.Field + ")"
}

// Form is the raw booking form as entered by the user. Dates are DD.MM.YYYY,
// times are HH:MM; nothing is trusted until Validate has passed.
type Form struct {
	PickupDate  string `json:"pickup_date"`
	PickupTime  string `json:"pickup_time"`
	ReturnDate  string `json:"return_date"`
	ReturnTime  string `json:"return_time"`
	Purpose     string `json:"purpose"`
	Destination string `json:"destination"`
}

// Clock abstracts time.Now so past-date checks are deterministic under test.
type Clock interface {
	Now() time.Time
}

// Validator runs the five-step pipeline against a fixed booking timezone.
type Validator struct {
	clock Clock
	loc   *time.Location
}

// New creates a validator. loc is the single system-wide booking zone.
func New(clock Clock, loc *time.Location) *Validator {
	return &Validator{clock: clock, loc: loc}
}

// Location returns the booking timezone the validator combines dates in.
func (v *Validator) Location() *time.Location {
	return v.loc
}

// Validate runs all five steps in order and, on success, returns the
// validated time range ready for conflict detection. "Now" is sampled once
// for the whole pass.
func (v *Validator) Validate(f Form) (models.TimeRange, error) {
	now := v.clock.Now()

	for step := 1; step <= StepCount; step++ {
		if err := v.runStep(step, f, now); err != nil {
			return models.TimeRange{}, err
		}
	}

	pickup, ret, _ := v.instants(f)
	return models.NewTimeRange(pickup, ret)
}

// ValidateStep runs a single numbered step (1-based). Used by the form UI to
// check a step on blur without submitting the rest.
func (v *Validator) ValidateStep(step int, f Form) error {
	return v.runStep(step, f, v.clock.Now())
}

func (v *Validator) runStep(step int, f Form, now time.Time) error {
	switch step {
	case 1:
		return v.checkParses(f)
	case 2:
		return v.checkNotPast(f, now)
	case 3:
		return v.checkReturnDate(f)
	case 4:
		return v.checkSameDayTimes(f)
	case 5:
		return v.checkRequiredFields(f)
	default:
		return &FieldError{Field: "step", Code: "unknown_step"}
	}
}

// Step 1: both dates and both times parse under the strict formats.
func (v *Validator) checkParses(f Form) error {
	if _, err := dateinput.ParseDate(f.PickupDate); err != nil {
		return &FieldError{Field: FieldPickupDate, Code: CodeMalformedDate}
	}
	if _, err := dateinput.ParseDate(f.ReturnDate); err != nil {
		return &FieldError{Field: FieldReturnDate, Code: CodeMalformedDate}
	}
	if _, err := dateinput.ParseTime(f.PickupTime); err != nil {
		return &FieldError{Field: FieldPickupTime, Code: CodeMalformedTime}
	}
	if _, err := dateinput.ParseTime(f.ReturnTime); err != nil {
		return &FieldError{Field: FieldReturnTime, Code: CodeMalformedTime}
	}
	return nil
}

// Step 2: the pickup instant must not lie strictly before now.
func (v *Validator) checkNotPast(f Form, now time.Time) error {
	pickup, _, err := v.instants(f)
	if err != nil {
		return err
	}
	if pickup.Before(now) {
		return &FieldError{Field: FieldPickupDate, Code: CodePastDateRejected}
	}
	return nil
}

// Step 3: the return date must not fall on an earlier calendar day than the
// pickup date. Time of day is deliberately ignored here; an "early" return
// time on a later date is a valid multi-day booking.
func (v *Validator) checkReturnDate(f Form) error {
	pd, err1 := dateinput.ParseDate(f.PickupDate)
	rd, err2 := dateinput.ParseDate(f.ReturnDate)
	if err1 != nil || err2 != nil {
		return v.checkParses(f)
	}

	pickupDay := dateinput.Combine(pd, dateinput.TimeOfDay{}, v.loc)
	returnDay := dateinput.Combine(rd, dateinput.TimeOfDay{}, v.loc)
	if returnDay.Before(pickupDay) {
		return &FieldError{Field: FieldReturnDate, Code: CodeReturnBeforePickup}
	}
	return nil
}

// Step 4: on a same-day booking the return time must not precede the pickup
// time. This is the stricter same-day special case of step 3.
func (v *Validator) checkSameDayTimes(f Form) error {
	pd, err1 := dateinput.ParseDate(f.PickupDate)
	rd, err2 := dateinput.ParseDate(f.ReturnDate)
	pt, err3 := dateinput.ParseTime(f.PickupTime)
	rt, err4 := dateinput.ParseTime(f.ReturnTime)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return v.checkParses(f)
	}

	if pd != rd {
		return nil
	}
	if rt.Minutes() < pt.Minutes() {
		return &FieldError{Field: FieldReturnTime, Code: CodeReturnTimeBeforePickupTime}
	}
	return nil
}

// Step 5: purpose and destination are required after trimming.
func (v *Validator) checkRequiredFields(f Form) error {
	if strings.TrimSpace(f.Purpose) == "" {
		return &FieldError{Field: FieldPurpose, Code: CodeMissingPurpose}
	}
	if strings.TrimSpace(f.Destination) == "" {
		return &FieldError{Field: FieldDestination, Code: CodeMissingDestination}
	}
	return nil
}

func (v *Validator) instants(f Form) (pickup, ret time.Time, err error) {
	pd, err := dateinput.ParseDate(f.PickupDate)
	if err != nil {
		return time.Time{}, time.Time{}, &FieldError{Field: FieldPickupDate, Code: CodeMalformedDate}
	}
	rd, err := dateinput.ParseDate(f.ReturnDate)
	if err != nil {
		return time.Time{}, time.Time{}, &FieldError{Field: FieldReturnDate, Code: CodeMalformedDate}
	}
	pt, err := dateinput.ParseTime(f.PickupTime)
	if err != nil {
		return time.Time{}, time.Time{}, &FieldError{Field: FieldPickupTime, Code: CodeMalformedTime}
	}
	rt, err := dateinput.ParseTime(f.ReturnTime)
	if err != nil {
		return time.Time{}, time.Time{}, &FieldError{Field: FieldReturnTime, Code: CodeMalformedTime}
	}
	return dateinput.Combine(pd, pt, v.loc), dateinput.Combine(rd, rt, v.loc), nil
}

// AutofillReturnDate mirrors the booking form convenience: when the pickup
// date is edited and no later return date exists, the return date follows the
// pickup date. Pure UX affordance; the validation rules above stay
// authoritative regardless of how the fields were populated.
func AutofillReturnDate(f Form) Form {
	pd, err := dateinput.ParseDate(f.PickupDate)
	if err != nil {
		return f
	}

	rd, err := dateinput.ParseDate(f.ReturnDate)
	if err != nil {
		f.ReturnDate = pd.Format()
		return f
	}

	pickup := dateinput.Combine(pd, dateinput.TimeOfDay{}, time.UTC)
	ret := dateinput.Combine(rd, dateinput.TimeOfDay{}, time.UTC)
	if ret.Before(pickup) {
		f.ReturnDate = pd.Format()
	}
	return f
}
