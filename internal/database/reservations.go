package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"fleetbook/internal/models"
)

const reservationColumns = `id, vehicle_id, vehicle_name, requester_id, requester_name,
	requester_department, start_at, end_at, purpose, destination, passenger_count,
	notes, status, created_at, responded_at, response_note, is_admin_direct, version`

// CreateReservation inserts a reservation and fills in its assigned id.
func (db *DB) CreateReservation(ctx context.Context, r *models.Reservation) error {
	query := `INSERT INTO reservations (
		vehicle_id, vehicle_name, requester_id, requester_name, requester_department,
		start_at, end_at, purpose, destination, passenger_count, notes, status,
		created_at, responded_at, response_note, is_admin_direct, version
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := db.ExecContext(ctx, query,
		r.VehicleID, r.VehicleName, r.RequesterID, r.RequesterName, r.RequesterDepartment,
		r.Range.Start, r.Range.End, r.Purpose, r.Destination, r.PassengerCount,
		r.Notes, r.Status, r.CreatedAt, nullableTime(r.RespondedAt), r.ResponseNote,
		r.IsAdminDirect, r.Version,
	)
	if err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	r.ID = id
	return nil
}

// UpdateReservation writes the mutable fields under an optimistic version
// check and bumps the version on success.
func (db *DB) UpdateReservation(ctx context.Context, r *models.Reservation) error {
	query := `UPDATE reservations SET
		start_at = ?, end_at = ?, status = ?, responded_at = ?, response_note = ?,
		version = version + 1
	WHERE id = ? AND version = ?`

	res, err := db.ExecContext(ctx, query,
		r.Range.Start, r.Range.End, r.Status, nullableTime(r.RespondedAt),
		r.ResponseNote, r.ID, r.Version,
	)
	if err != nil {
		return fmt.Errorf("update reservation %d: %w", r.ID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("reservation %d: %w", r.ID, ErrConcurrentModification)
	}

	r.Version++
	return nil
}

// GetReservation fetches one reservation by id.
func (db *DB) GetReservation(ctx context.Context, id int64) (*models.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = ?`
	row := db.QueryRowContext(ctx, query, id)

	r, err := scanReservation(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("reservation %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get reservation %d: %w", id, err)
	}
	return r, nil
}

// ListReservations returns all reservations ordered by id.
func (db *DB) ListReservations(ctx context.Context) ([]models.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations ORDER BY id`
	return db.queryReservations(ctx, query)
}

// GetReservationsByVehicle returns every reservation for one vehicle,
// regardless of status.
func (db *DB) GetReservationsByVehicle(ctx context.Context, vehicleID int64) ([]models.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations
		WHERE vehicle_id = ? ORDER BY start_at`
	return db.queryReservations(ctx, query, vehicleID)
}

// GetReservationsByRequester returns every reservation created by one
// requester.
func (db *DB) GetReservationsByRequester(ctx context.Context, requesterID int64) ([]models.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations
		WHERE requester_id = ? ORDER BY start_at`
	return db.queryReservations(ctx, query, requesterID)
}

// GetApprovedByVehicle returns the approved reservations of one vehicle.
// This is the set the conflict detector scans.
func (db *DB) GetApprovedByVehicle(ctx context.Context, vehicleID int64) ([]models.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations
		WHERE vehicle_id = ? AND status = ? ORDER BY start_at`
	return db.queryReservations(ctx, query, vehicleID, models.StatusApproved)
}

// GetApprovedInWindow returns approved reservations of one vehicle whose
// range overlaps the window. Used by the availability view.
func (db *DB) GetApprovedInWindow(ctx context.Context, vehicleID int64, start, end time.Time) ([]models.Reservation, error) {
	// Half-open overlap in SQL: start_at < windowEnd AND windowStart < end_at.
	query := `SELECT ` + reservationColumns + ` FROM reservations
		WHERE vehicle_id = ? AND status = ? AND start_at < ? AND ? < end_at
		ORDER BY start_at`
	return db.queryReservations(ctx, query, vehicleID, models.StatusApproved, end, start)
}

func (db *DB) queryReservations(ctx context.Context, query string, args ...interface{}) ([]models.Reservation, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query reservations: %w", err)
	}
	defer rows.Close()

	var list []models.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		list = append(list, *r)
	}
	return list, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReservation(row rowScanner) (*models.Reservation, error) {
	var r models.Reservation
	var respondedAt sql.NullTime
	var department, notes, responseNote sql.NullString

	err := row.Scan(
		&r.ID, &r.VehicleID, &r.VehicleName, &r.RequesterID, &r.RequesterName,
		&department, &r.Range.Start, &r.Range.End, &r.Purpose, &r.Destination,
		&r.PassengerCount, &notes, &r.Status, &r.CreatedAt, &respondedAt,
		&responseNote, &r.IsAdminDirect, &r.Version,
	)
	if err != nil {
		return nil, err
	}

	r.RequesterDepartment = department.String
	r.Notes = notes.String
	r.ResponseNote = responseNote.String
	if respondedAt.Valid {
		t := respondedAt.Time
		r.RespondedAt = &t
	}
	return &r, nil
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}
