package models

import "time"

// Reservation status values. A reservation is never deleted; "archived" is a
// derived classification (see IsArchived), not a stored status.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// Reservation represents a vehicle reservation request or direct booking.
type Reservation struct {
	ID                  int64      `json:"id"`
	VehicleID           int64      `json:"vehicle_id"`
	VehicleName         string     `json:"vehicle_name"`
	RequesterID         int64      `json:"requester_id"`
	RequesterName       string     `json:"requester_name"`
	RequesterDepartment string     `json:"requester_department"`
	Range               TimeRange  `json:"range"`
	Purpose             string     `json:"purpose"`
	Destination         string     `json:"destination"`
	PassengerCount      int        `json:"passenger_count"`
	Notes               string     `json:"notes,omitempty"`
	Status              string     `json:"status"` // pending, approved, rejected
	CreatedAt           time.Time  `json:"created_at"`
	RespondedAt         *time.Time `json:"responded_at,omitempty"` // nullable until a decision is made
	ResponseNote        string     `json:"response_note,omitempty"`
	IsAdminDirect       bool       `json:"is_admin_direct"`
	Version             int64      `json:"version"`
}

// OverlapsWith checks if this reservation's range overlaps another's.
func (r *Reservation) OverlapsWith(other *Reservation) bool {
	return r.Range.Overlaps(other.Range)
}

// IsArchived reports whether the reservation ended before now. Archival is a
// query-time partition for display; it never changes Status.
func (r *Reservation) IsArchived(now time.Time) bool {
	return r.Range.End.Before(now)
}

// IsDecided reports whether a status-changing decision has been recorded.
func (r *Reservation) IsDecided() bool {
	return r.RespondedAt != nil
}
