// Package service implements the reservation lifecycle: submission, approval
// decisions, reschedules and the advisory conflict detector.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"fleetbook/internal/events"
	"fleetbook/internal/metrics"
	"fleetbook/internal/models"
)

var (
	ErrReservationNotFound = errors.New("reservation not found")
	ErrVehicleNotFound     = errors.New("vehicle not found")
	ErrVehicleInactive     = errors.New("vehicle is not active")
)

// Clock abstracts time.Now; core logic never reads system time directly.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Repository is the persistence contract the service depends on. The
// repository is the source of truth: no transition is reflected in returned
// state until the corresponding write has succeeded.
type Repository interface {
	GetReservation(ctx context.Context, id int64) (*models.Reservation, error)
	CreateReservation(ctx context.Context, r *models.Reservation) error
	UpdateReservation(ctx context.Context, r *models.Reservation) error
	ListReservations(ctx context.Context) ([]models.Reservation, error)
	GetReservationsByVehicle(ctx context.Context, vehicleID int64) ([]models.Reservation, error)
	GetReservationsByRequester(ctx context.Context, requesterID int64) ([]models.Reservation, error)
	GetApprovedByVehicle(ctx context.Context, vehicleID int64) ([]models.Reservation, error)
	GetVehicleByID(ctx context.Context, id int64) (*models.Vehicle, error)
}

// EventPublisher pushes domain events to interested consumers.
type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// SyncQueue feeds the external schedule mirror. May be a no-op.
type SyncQueue interface {
	EnqueueTask(ctx context.Context, taskType string, reservationID int64) error
}

// SubmitRequest carries a validated reservation candidate. The range has
// already passed the request validator; the service does not re-validate
// form-level rules.
type SubmitRequest struct {
	VehicleID           int64
	RequesterID         int64
	RequesterName       string
	RequesterDepartment string
	Range               models.TimeRange
	Purpose             string
	Destination         string
	PassengerCount      int
	Notes               string
}

// Decision names used in events and metrics.
const (
	DecisionApproved    = "approved"
	DecisionRejected    = "rejected"
	DecisionRescheduled = "rescheduled"
)

// ReservationService owns all status transitions. Writes for one vehicle are
// serialized behind a per-vehicle mutex so the read-conflicts-then-write
// sequence is atomic with respect to other writers on the same vehicle;
// operations on different vehicles proceed in parallel. The lock covers the
// conflict read and the persistence write only; events and sync tasks go out
// after release.
type ReservationService struct {
	repo   Repository
	bus    EventPublisher
	queue  SyncQueue
	clock  Clock
	logger *zerolog.Logger

	mu           sync.Mutex
	vehicleLocks map[int64]*sync.Mutex
}

func NewReservationService(repo Repository, bus EventPublisher, queue SyncQueue, clock Clock, logger *zerolog.Logger) *ReservationService {
	return &ReservationService{
		repo:         repo,
		bus:          bus,
		queue:        queue,
		clock:        clock,
		logger:       logger,
		vehicleLocks: make(map[int64]*sync.Mutex),
	}
}

// lockVehicle serializes writers per vehicle and returns the unlock func.
func (s *ReservationService) lockVehicle(vehicleID int64) func() {
	s.mu.Lock()
	l, ok := s.vehicleLocks[vehicleID]
	if !ok {
		l = &sync.Mutex{}
		s.vehicleLocks[vehicleID] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Submit creates a reservation in pending state. Conflicts are not checked
// here: pending reservations may coexist with anything, and several
// requesters may compete for the same slot.
func (s *ReservationService) Submit(ctx context.Context, req SubmitRequest) (*models.Reservation, error) {
	vehicle, err := s.repo.GetVehicleByID(ctx, req.VehicleID)
	if err != nil {
		return nil, fmt.Errorf("%w: id %d", ErrVehicleNotFound, req.VehicleID)
	}
	if !vehicle.IsActive {
		return nil, fmt.Errorf("%w: id %d", ErrVehicleInactive, req.VehicleID)
	}

	unlock := s.lockVehicle(req.VehicleID)

	r := s.newReservation(req, vehicle, models.StatusPending)
	if err := s.repo.CreateReservation(ctx, r); err != nil {
		unlock()
		return nil, fmt.Errorf("create reservation: %w", err)
	}
	unlock()

	s.afterWrite(ctx, events.TypeReservationCreated, r, nil)
	metrics.IncReservationCreated(models.StatusPending)

	s.logger.Info().
		Int64("reservation_id", r.ID).
		Int64("vehicle_id", r.VehicleID).
		Time("start", r.Range.Start).
		Time("end", r.Range.End).
		Msg("reservation submitted")

	return r, nil
}

// SubmitDirect creates an administrator walk-in booking that starts directly
// in approved state. The advisory conflict check applies at creation time;
// conflicts are returned as a warning, never a block.
func (s *ReservationService) SubmitDirect(ctx context.Context, req SubmitRequest, note string) (*models.Reservation, []models.Reservation, error) {
	vehicle, err := s.repo.GetVehicleByID(ctx, req.VehicleID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: id %d", ErrVehicleNotFound, req.VehicleID)
	}
	if !vehicle.IsActive {
		return nil, nil, fmt.Errorf("%w: id %d", ErrVehicleInactive, req.VehicleID)
	}

	unlock := s.lockVehicle(req.VehicleID)

	conflicts, err := s.conflictsLocked(ctx, req.VehicleID, req.Range, 0)
	if err != nil {
		unlock()
		return nil, nil, err
	}

	now := s.clock.Now()
	r := s.newReservation(req, vehicle, models.StatusApproved)
	r.IsAdminDirect = true
	r.RespondedAt = &now
	r.ResponseNote = note

	if err := s.repo.CreateReservation(ctx, r); err != nil {
		unlock()
		return nil, nil, fmt.Errorf("create direct booking: %w", err)
	}
	unlock()

	s.afterWrite(ctx, events.TypeReservationCreated, r, conflicts)
	metrics.IncReservationCreated(models.StatusApproved)
	if len(conflicts) > 0 {
		metrics.IncConflictWarning()
	}

	s.logger.Info().
		Int64("reservation_id", r.ID).
		Int64("vehicle_id", r.VehicleID).
		Int("conflicts", len(conflicts)).
		Msg("direct booking created")

	return r, conflicts, nil
}

// Approve transitions a reservation to approved. The conflict check runs
// first against the approved set of the same vehicle; any overlap is returned
// as an advisory warning alongside the successful transition, since an
// authorized approver may override a double booking. Re-approving from any
// prior state is allowed.
func (s *ReservationService) Approve(ctx context.Context, id int64, note string) (*models.Reservation, []models.Reservation, error) {
	r, err := s.repo.GetReservation(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: id %d", ErrReservationNotFound, id)
	}

	unlock := s.lockVehicle(r.VehicleID)

	// Re-read under the lock so the conflict check sees the current
	// approved set.
	r, err = s.repo.GetReservation(ctx, id)
	if err != nil {
		unlock()
		return nil, nil, fmt.Errorf("%w: id %d", ErrReservationNotFound, id)
	}

	conflicts, err := s.conflictsLocked(ctx, r.VehicleID, r.Range, r.ID)
	if err != nil {
		unlock()
		return nil, nil, err
	}

	now := s.clock.Now()
	r.Status = models.StatusApproved
	r.RespondedAt = &now
	r.ResponseNote = note

	if err := s.repo.UpdateReservation(ctx, r); err != nil {
		unlock()
		return nil, nil, fmt.Errorf("update reservation %d: %w", id, err)
	}
	unlock()

	s.afterWrite(ctx, events.TypeReservationDecided, r, conflicts)
	metrics.IncDecision(DecisionApproved)
	if len(conflicts) > 0 {
		metrics.IncConflictWarning()
		s.logger.Warn().
			Int64("reservation_id", r.ID).
			Int64("vehicle_id", r.VehicleID).
			Int("conflicts", len(conflicts)).
			Msg("reservation approved despite overlap")
	}

	return r, conflicts, nil
}

// Reject transitions a reservation to rejected. Unconditional; rejected
// reservations are exempt from the overlap invariant.
func (s *ReservationService) Reject(ctx context.Context, id int64, note string) (*models.Reservation, error) {
	r, err := s.repo.GetReservation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: id %d", ErrReservationNotFound, id)
	}

	unlock := s.lockVehicle(r.VehicleID)

	r, err = s.repo.GetReservation(ctx, id)
	if err != nil {
		unlock()
		return nil, fmt.Errorf("%w: id %d", ErrReservationNotFound, id)
	}

	now := s.clock.Now()
	r.Status = models.StatusRejected
	r.RespondedAt = &now
	r.ResponseNote = note

	if err := s.repo.UpdateReservation(ctx, r); err != nil {
		unlock()
		return nil, fmt.Errorf("update reservation %d: %w", id, err)
	}
	unlock()

	s.afterWrite(ctx, events.TypeReservationDecided, r, nil)
	metrics.IncDecision(DecisionRejected)

	return r, nil
}

// Reschedule replaces the reservation's range and forces approved status
// regardless of the prior state. This is the only transition that mutates the
// range; the conflict check runs against the new range and is advisory.
func (s *ReservationService) Reschedule(ctx context.Context, id int64, newRange models.TimeRange, note string) (*models.Reservation, []models.Reservation, error) {
	r, err := s.repo.GetReservation(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: id %d", ErrReservationNotFound, id)
	}

	unlock := s.lockVehicle(r.VehicleID)

	r, err = s.repo.GetReservation(ctx, id)
	if err != nil {
		unlock()
		return nil, nil, fmt.Errorf("%w: id %d", ErrReservationNotFound, id)
	}

	conflicts, err := s.conflictsLocked(ctx, r.VehicleID, newRange, r.ID)
	if err != nil {
		unlock()
		return nil, nil, err
	}

	now := s.clock.Now()
	r.Range = newRange
	r.Status = models.StatusApproved
	r.RespondedAt = &now
	r.ResponseNote = note

	if err := s.repo.UpdateReservation(ctx, r); err != nil {
		unlock()
		return nil, nil, fmt.Errorf("update reservation %d: %w", id, err)
	}
	unlock()

	s.afterWrite(ctx, events.TypeReservationRescheduled, r, conflicts)
	metrics.IncDecision(DecisionRescheduled)
	if len(conflicts) > 0 {
		metrics.IncConflictWarning()
	}

	return r, conflicts, nil
}

// Conflicts runs a non-binding conflict preview against the current approved
// set. The result is advisory; the authoritative check re-runs under the
// vehicle lock inside Approve, Reschedule and SubmitDirect.
func (s *ReservationService) Conflicts(ctx context.Context, vehicleID int64, candidate models.TimeRange, excludeID int64) ([]models.Reservation, error) {
	return s.conflictsLocked(ctx, vehicleID, candidate, excludeID)
}

// conflictsLocked scans the approved reservations of one vehicle for overlap
// with the candidate range. Linear in the approved set of that vehicle;
// results are sorted by range start for stable output.
func (s *ReservationService) conflictsLocked(ctx context.Context, vehicleID int64, candidate models.TimeRange, excludeID int64) ([]models.Reservation, error) {
	approved, err := s.repo.GetApprovedByVehicle(ctx, vehicleID)
	if err != nil {
		return nil, fmt.Errorf("load approved reservations for vehicle %d: %w", vehicleID, err)
	}

	conflicts := make([]models.Reservation, 0)
	for _, r := range approved {
		if r.ID == excludeID {
			continue
		}
		if r.Range.Overlaps(candidate) {
			conflicts = append(conflicts, r)
		}
	}

	sort.Slice(conflicts, func(i, j int) bool {
		return conflicts[i].Range.Start.Before(conflicts[j].Range.Start)
	})
	return conflicts, nil
}

// Partition splits reservations into current and archived views. Archival is
// derived from the range end against the injected clock, never stored.
func (s *ReservationService) Partition(list []models.Reservation) (current, archived []models.Reservation) {
	now := s.clock.Now()
	current = make([]models.Reservation, 0, len(list))
	archived = make([]models.Reservation, 0)
	for _, r := range list {
		if r.IsArchived(now) {
			archived = append(archived, r)
		} else {
			current = append(current, r)
		}
	}
	return current, archived
}

// ListByVehicle returns all reservations for one vehicle, ordered by id.
func (s *ReservationService) ListByVehicle(ctx context.Context, vehicleID int64) ([]models.Reservation, error) {
	return s.repo.GetReservationsByVehicle(ctx, vehicleID)
}

// ListByRequester returns all reservations created by one requester.
func (s *ReservationService) ListByRequester(ctx context.Context, requesterID int64) ([]models.Reservation, error) {
	return s.repo.GetReservationsByRequester(ctx, requesterID)
}

// List returns all reservations ordered by id.
func (s *ReservationService) List(ctx context.Context) ([]models.Reservation, error) {
	return s.repo.ListReservations(ctx)
}

// Get returns one reservation by id.
func (s *ReservationService) Get(ctx context.Context, id int64) (*models.Reservation, error) {
	r, err := s.repo.GetReservation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: id %d", ErrReservationNotFound, id)
	}
	return r, nil
}

func (s *ReservationService) newReservation(req SubmitRequest, vehicle *models.Vehicle, status string) *models.Reservation {
	return &models.Reservation{
		VehicleID:           req.VehicleID,
		VehicleName:         vehicle.Name,
		RequesterID:         req.RequesterID,
		RequesterName:       req.RequesterName,
		RequesterDepartment: req.RequesterDepartment,
		Range:               req.Range,
		Purpose:             req.Purpose,
		Destination:         req.Destination,
		PassengerCount:      req.PassengerCount,
		Notes:               req.Notes,
		Status:              status,
		CreatedAt:           s.clock.Now(),
		Version:             1,
	}
}

// reservationEvent is the payload published on the event bus.
type reservationEvent struct {
	Reservation *models.Reservation  `json:"reservation"`
	Conflicts   []models.Reservation `json:"conflicts,omitempty"`
}

// afterWrite publishes the event and queues the schedule mirror update.
// Both are best-effort: the repository write has already succeeded and stays
// authoritative. Always called with the vehicle lock released; bus handlers
// run synchronously and may do network I/O.
func (s *ReservationService) afterWrite(ctx context.Context, eventType string, r *models.Reservation, conflicts []models.Reservation) {
	if s.bus != nil {
		if err := s.bus.PublishJSON(eventType, reservationEvent{Reservation: r, Conflicts: conflicts}); err != nil {
			s.logger.Error().Err(err).Str("event", eventType).Msg("publish event failed")
		}
	}
	if s.queue != nil {
		if err := s.queue.EnqueueTask(ctx, eventType, r.ID); err != nil {
			s.logger.Error().Err(err).Int64("reservation_id", r.ID).Msg("enqueue sync task failed")
		}
	}
}
