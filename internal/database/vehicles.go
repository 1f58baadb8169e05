package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"fleetbook/internal/models"
)

const vehicleCacheTTL = 5 * time.Minute

// LoadVehicles refreshes the in-memory vehicle cache.
func (db *DB) LoadVehicles(ctx context.Context) error {
	rows, err := db.QueryContext(ctx, `SELECT id, name, plate, seats, sort_order,
		is_active, created_at, updated_at FROM vehicles ORDER BY sort_order, id`)
	if err != nil {
		return fmt.Errorf("load vehicles: %w", err)
	}
	defer rows.Close()

	cache := make(map[int64]models.Vehicle)
	for rows.Next() {
		v, err := scanVehicle(rows)
		if err != nil {
			return fmt.Errorf("scan vehicle: %w", err)
		}
		cache[v.ID] = *v
	}
	if err := rows.Err(); err != nil {
		return err
	}

	db.mu.Lock()
	db.vehicleCache = cache
	db.cacheTime = time.Now()
	db.mu.Unlock()
	return nil
}

// GetVehicleByID serves from the cache when fresh, otherwise hits the table.
func (db *DB) GetVehicleByID(ctx context.Context, id int64) (*models.Vehicle, error) {
	db.mu.RLock()
	v, ok := db.vehicleCache[id]
	fresh := time.Since(db.cacheTime) < vehicleCacheTTL
	db.mu.RUnlock()
	if ok && fresh {
		return &v, nil
	}

	row := db.QueryRowContext(ctx, `SELECT id, name, plate, seats, sort_order,
		is_active, created_at, updated_at FROM vehicles WHERE id = ?`, id)

	vehicle, err := scanVehicle(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("vehicle %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get vehicle %d: %w", id, err)
	}

	db.mu.Lock()
	db.vehicleCache[vehicle.ID] = *vehicle
	db.mu.Unlock()
	return vehicle, nil
}

// GetActiveVehicles returns active vehicles in display order.
func (db *DB) GetActiveVehicles(ctx context.Context) ([]models.Vehicle, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, name, plate, seats, sort_order,
		is_active, created_at, updated_at FROM vehicles
		WHERE is_active = 1 ORDER BY sort_order, id`)
	if err != nil {
		return nil, fmt.Errorf("list active vehicles: %w", err)
	}
	defer rows.Close()

	var list []models.Vehicle
	for rows.Next() {
		v, err := scanVehicle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan vehicle: %w", err)
		}
		list = append(list, *v)
	}
	return list, rows.Err()
}

// CreateVehicle inserts a vehicle and invalidates the cache.
func (db *DB) CreateVehicle(ctx context.Context, v *models.Vehicle) error {
	res, err := db.ExecContext(ctx, `INSERT INTO vehicles
		(name, plate, seats, sort_order, is_active) VALUES (?, ?, ?, ?, ?)`,
		v.Name, v.Plate, v.Seats, v.SortOrder, v.IsActive)
	if err != nil {
		return fmt.Errorf("insert vehicle: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	v.ID = id

	return db.LoadVehicles(ctx)
}

// DeactivateVehicle soft-deletes a vehicle so its reservation history stays
// intact.
func (db *DB) DeactivateVehicle(ctx context.Context, id int64) error {
	_, err := db.ExecContext(ctx, `UPDATE vehicles SET is_active = 0,
		updated_at = CURRENT_TIMESTAMP WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deactivate vehicle %d: %w", id, err)
	}
	return db.LoadVehicles(ctx)
}

func scanVehicle(row rowScanner) (*models.Vehicle, error) {
	var v models.Vehicle
	var plate sql.NullString
	err := row.Scan(&v.ID, &v.Name, &plate, &v.Seats, &v.SortOrder,
		&v.IsActive, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	v.Plate = plate.String
	return &v, nil
}
