package service

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"fleetbook/internal/models"
)

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) GetReservation(ctx context.Context, id int64) (*models.Reservation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Reservation), args.Error(1)
}

func (m *mockRepo) CreateReservation(ctx context.Context, r *models.Reservation) error {
	return m.Called(ctx, r).Error(0)
}

func (m *mockRepo) UpdateReservation(ctx context.Context, r *models.Reservation) error {
	return m.Called(ctx, r).Error(0)
}

func (m *mockRepo) ListReservations(ctx context.Context) ([]models.Reservation, error) {
	args := m.Called(ctx)
	return args.Get(0).([]models.Reservation), args.Error(1)
}

func (m *mockRepo) GetReservationsByVehicle(ctx context.Context, vehicleID int64) ([]models.Reservation, error) {
	args := m.Called(ctx, vehicleID)
	return args.Get(0).([]models.Reservation), args.Error(1)
}

func (m *mockRepo) GetReservationsByRequester(ctx context.Context, requesterID int64) ([]models.Reservation, error) {
	args := m.Called(ctx, requesterID)
	return args.Get(0).([]models.Reservation), args.Error(1)
}

func (m *mockRepo) GetApprovedByVehicle(ctx context.Context, vehicleID int64) ([]models.Reservation, error) {
	args := m.Called(ctx, vehicleID)
	return args.Get(0).([]models.Reservation), args.Error(1)
}

func (m *mockRepo) GetVehicleByID(ctx context.Context, id int64) (*models.Vehicle, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Vehicle), args.Error(1)
}

type mockBus struct {
	mock.Mock
}

func (m *mockBus) PublishJSON(eventType string, payload interface{}) error {
	return m.Called(eventType, payload).Error(0)
}

type mockQueue struct {
	mock.Mock
}

func (m *mockQueue) EnqueueTask(ctx context.Context, taskType string, reservationID int64) error {
	return m.Called(ctx, taskType, reservationID).Error(0)
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func rangeAt(day, startHour, endHour int) models.TimeRange {
	return models.TimeRange{
		Start: time.Date(2025, 3, day, startHour, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 3, day, endHour, 0, 0, 0, time.UTC),
	}
}

func newTestService(repo *mockRepo, bus *mockBus, queue *mockQueue) *ReservationService {
	logger := zerolog.New(io.Discard)
	// A nil *mockBus stored in the interface is a non-nil interface value, so
	// absent collaborators must stay untyped nil.
	var b EventPublisher
	if bus != nil {
		b = bus
	}
	var q SyncQueue
	if queue != nil {
		q = queue
	}
	return NewReservationService(repo, b, q, fixedClock{now: testNow}, &logger)
}

func approvedReservation(id int64, r models.TimeRange) models.Reservation {
	return models.Reservation{ID: id, VehicleID: 1, Range: r, Status: models.StatusApproved}
}

func TestSubmit(t *testing.T) {
	ctx := context.Background()
	vehicle := &models.Vehicle{ID: 1, Name: "Transporter 1", IsActive: true}

	t.Run("creates pending reservation", func(t *testing.T) {
		repo := new(mockRepo)
		bus := new(mockBus)
		queue := new(mockQueue)
		svc := newTestService(repo, bus, queue)

		repo.On("GetVehicleByID", ctx, int64(1)).Return(vehicle, nil).Once()
		repo.On("CreateReservation", ctx, mock.Anything).Return(nil).Once()
		bus.On("PublishJSON", "reservation.created", mock.Anything).Return(nil).Once()
		queue.On("EnqueueTask", ctx, "reservation.created", mock.Anything).Return(nil).Once()

		r, err := svc.Submit(ctx, SubmitRequest{
			VehicleID:   1,
			RequesterID: 42,
			Range:       rangeAt(11, 9, 17),
			Purpose:     "Kundenbesuch",
			Destination: "Hamburg",
		})
		assert.NoError(t, err)
		assert.Equal(t, models.StatusPending, r.Status)
		assert.Equal(t, "Transporter 1", r.VehicleName)
		assert.Equal(t, testNow, r.CreatedAt)
		assert.Nil(t, r.RespondedAt)
		repo.AssertExpectations(t)
	})

	t.Run("no conflict check on submit", func(t *testing.T) {
		repo := new(mockRepo)
		bus := new(mockBus)
		svc := newTestService(repo, bus, nil)

		repo.On("GetVehicleByID", ctx, int64(1)).Return(vehicle, nil).Once()
		repo.On("CreateReservation", ctx, mock.Anything).Return(nil).Once()
		bus.On("PublishJSON", mock.Anything, mock.Anything).Return(nil).Once()

		_, err := svc.Submit(ctx, SubmitRequest{VehicleID: 1, Range: rangeAt(11, 9, 17)})
		assert.NoError(t, err)
		repo.AssertNotCalled(t, "GetApprovedByVehicle", mock.Anything, mock.Anything)
	})

	t.Run("inactive vehicle rejected", func(t *testing.T) {
		repo := new(mockRepo)
		svc := newTestService(repo, nil, nil)

		repo.On("GetVehicleByID", ctx, int64(2)).
			Return(&models.Vehicle{ID: 2, IsActive: false}, nil).Once()

		_, err := svc.Submit(ctx, SubmitRequest{VehicleID: 2, Range: rangeAt(11, 9, 17)})
		assert.ErrorIs(t, err, ErrVehicleInactive)
	})

	t.Run("unknown vehicle rejected", func(t *testing.T) {
		repo := new(mockRepo)
		svc := newTestService(repo, nil, nil)

		repo.On("GetVehicleByID", ctx, int64(99)).Return(nil, errors.New("no rows")).Once()

		_, err := svc.Submit(ctx, SubmitRequest{VehicleID: 99, Range: rangeAt(11, 9, 17)})
		assert.ErrorIs(t, err, ErrVehicleNotFound)
	})

	t.Run("works without bus and queue", func(t *testing.T) {
		repo := new(mockRepo)
		svc := newTestService(repo, nil, nil)

		repo.On("GetVehicleByID", ctx, int64(1)).Return(vehicle, nil).Once()
		repo.On("CreateReservation", ctx, mock.Anything).Return(nil).Once()

		r, err := svc.Submit(ctx, SubmitRequest{VehicleID: 1, Range: rangeAt(11, 9, 17)})
		assert.NoError(t, err)
		assert.Equal(t, models.StatusPending, r.Status)
		repo.AssertExpectations(t)
	})
}

func TestApprove(t *testing.T) {
	ctx := context.Background()

	t.Run("clean approve", func(t *testing.T) {
		repo := new(mockRepo)
		bus := new(mockBus)
		svc := newTestService(repo, bus, nil)

		pending := &models.Reservation{ID: 10, VehicleID: 1, Range: rangeAt(11, 9, 17), Status: models.StatusPending}
		repo.On("GetReservation", ctx, int64(10)).Return(pending, nil).Twice()
		repo.On("GetApprovedByVehicle", ctx, int64(1)).Return([]models.Reservation{}, nil).Once()
		repo.On("UpdateReservation", ctx, mock.Anything).Return(nil).Once()
		bus.On("PublishJSON", "reservation.decided", mock.Anything).Return(nil).Once()

		r, conflicts, err := svc.Approve(ctx, 10, "ok")
		assert.NoError(t, err)
		assert.Equal(t, models.StatusApproved, r.Status)
		assert.Empty(t, conflicts)
		assert.NotNil(t, r.RespondedAt)
		assert.Equal(t, "ok", r.ResponseNote)
		repo.AssertExpectations(t)
	})

	t.Run("overlap is warned, not blocked", func(t *testing.T) {
		repo := new(mockRepo)
		bus := new(mockBus)
		svc := newTestService(repo, bus, nil)

		pending := &models.Reservation{ID: 10, VehicleID: 1, Range: rangeAt(11, 9, 17), Status: models.StatusPending}
		other := approvedReservation(11, rangeAt(11, 16, 20))

		repo.On("GetReservation", ctx, int64(10)).Return(pending, nil).Twice()
		repo.On("GetApprovedByVehicle", ctx, int64(1)).Return([]models.Reservation{other}, nil).Once()
		repo.On("UpdateReservation", ctx, mock.Anything).Return(nil).Once()
		bus.On("PublishJSON", mock.Anything, mock.Anything).Return(nil).Once()

		r, conflicts, err := svc.Approve(ctx, 10, "")
		assert.NoError(t, err)
		assert.Equal(t, models.StatusApproved, r.Status)
		assert.Len(t, conflicts, 1)
		assert.Equal(t, int64(11), conflicts[0].ID)
	})

	t.Run("adjacent ranges do not conflict", func(t *testing.T) {
		repo := new(mockRepo)
		bus := new(mockBus)
		svc := newTestService(repo, bus, nil)

		pending := &models.Reservation{ID: 10, VehicleID: 1, Range: rangeAt(11, 9, 17), Status: models.StatusPending}
		adjacent := approvedReservation(12, rangeAt(11, 17, 20))

		repo.On("GetReservation", ctx, int64(10)).Return(pending, nil).Twice()
		repo.On("GetApprovedByVehicle", ctx, int64(1)).Return([]models.Reservation{adjacent}, nil).Once()
		repo.On("UpdateReservation", ctx, mock.Anything).Return(nil).Once()
		bus.On("PublishJSON", mock.Anything, mock.Anything).Return(nil).Once()

		_, conflicts, err := svc.Approve(ctx, 10, "")
		assert.NoError(t, err)
		assert.Empty(t, conflicts)
	})

	t.Run("missing reservation", func(t *testing.T) {
		repo := new(mockRepo)
		svc := newTestService(repo, nil, nil)

		repo.On("GetReservation", ctx, int64(404)).Return(nil, errors.New("no rows")).Once()

		_, _, err := svc.Approve(ctx, 404, "")
		assert.ErrorIs(t, err, ErrReservationNotFound)
	})

	t.Run("persist failure keeps state", func(t *testing.T) {
		repo := new(mockRepo)
		bus := new(mockBus)
		svc := newTestService(repo, bus, nil)

		pending := &models.Reservation{ID: 10, VehicleID: 1, Range: rangeAt(11, 9, 17), Status: models.StatusPending}
		repo.On("GetReservation", ctx, int64(10)).Return(pending, nil).Twice()
		repo.On("GetApprovedByVehicle", ctx, int64(1)).Return([]models.Reservation{}, nil).Once()
		repo.On("UpdateReservation", ctx, mock.Anything).Return(errors.New("locked")).Once()

		_, _, err := svc.Approve(ctx, 10, "")
		assert.Error(t, err)
		bus.AssertNotCalled(t, "PublishJSON", mock.Anything, mock.Anything)
	})
}

func TestReject(t *testing.T) {
	ctx := context.Background()
	repo := new(mockRepo)
	bus := new(mockBus)
	svc := newTestService(repo, bus, nil)

	pending := &models.Reservation{ID: 10, VehicleID: 1, Range: rangeAt(11, 9, 17), Status: models.StatusPending}
	repo.On("GetReservation", ctx, int64(10)).Return(pending, nil).Twice()
	repo.On("UpdateReservation", ctx, mock.Anything).Return(nil).Once()
	bus.On("PublishJSON", "reservation.decided", mock.Anything).Return(nil).Once()

	r, err := svc.Reject(ctx, 10, "vehicle in maintenance")
	assert.NoError(t, err)
	assert.Equal(t, models.StatusRejected, r.Status)
	assert.Equal(t, "vehicle in maintenance", r.ResponseNote)
	// Rejection never consults the approved set.
	repo.AssertNotCalled(t, "GetApprovedByVehicle", mock.Anything, mock.Anything)
}

func TestReschedule(t *testing.T) {
	ctx := context.Background()

	t.Run("replaces range and forces approved", func(t *testing.T) {
		repo := new(mockRepo)
		bus := new(mockBus)
		svc := newTestService(repo, bus, nil)

		rejected := &models.Reservation{ID: 10, VehicleID: 1, Range: rangeAt(11, 9, 17), Status: models.StatusRejected}
		newRange := rangeAt(12, 8, 12)

		repo.On("GetReservation", ctx, int64(10)).Return(rejected, nil).Twice()
		repo.On("GetApprovedByVehicle", ctx, int64(1)).Return([]models.Reservation{}, nil).Once()
		repo.On("UpdateReservation", ctx, mock.Anything).Return(nil).Once()
		bus.On("PublishJSON", "reservation.rescheduled", mock.Anything).Return(nil).Once()

		r, conflicts, err := svc.Reschedule(ctx, 10, newRange, "moved")
		assert.NoError(t, err)
		assert.Equal(t, models.StatusApproved, r.Status)
		assert.True(t, r.Range.Equal(newRange))
		assert.Empty(t, conflicts)
	})

	t.Run("conflicts checked against new range only", func(t *testing.T) {
		repo := new(mockRepo)
		bus := new(mockBus)
		svc := newTestService(repo, bus, nil)

		// Old range overlaps the existing booking, the new one does not.
		current := &models.Reservation{ID: 10, VehicleID: 1, Range: rangeAt(11, 9, 17), Status: models.StatusApproved}
		other := approvedReservation(11, rangeAt(11, 10, 12))
		newRange := rangeAt(13, 9, 17)

		repo.On("GetReservation", ctx, int64(10)).Return(current, nil).Twice()
		repo.On("GetApprovedByVehicle", ctx, int64(1)).Return([]models.Reservation{other}, nil).Once()
		repo.On("UpdateReservation", ctx, mock.Anything).Return(nil).Once()
		bus.On("PublishJSON", mock.Anything, mock.Anything).Return(nil).Once()

		_, conflicts, err := svc.Reschedule(ctx, 10, newRange, "")
		assert.NoError(t, err)
		assert.Empty(t, conflicts)
	})
}

func TestConflicts(t *testing.T) {
	ctx := context.Background()

	t.Run("pending and rejected never conflict", func(t *testing.T) {
		repo := new(mockRepo)
		svc := newTestService(repo, nil, nil)

		// Repository contract: GetApprovedByVehicle returns only approved
		// rows, so the detector sees no pending or rejected entries at all.
		repo.On("GetApprovedByVehicle", ctx, int64(1)).Return([]models.Reservation{}, nil).Once()

		conflicts, err := svc.Conflicts(ctx, 1, rangeAt(11, 9, 17), 0)
		assert.NoError(t, err)
		assert.Empty(t, conflicts)
	})

	t.Run("self is excluded", func(t *testing.T) {
		repo := new(mockRepo)
		svc := newTestService(repo, nil, nil)

		self := approvedReservation(10, rangeAt(11, 9, 17))
		repo.On("GetApprovedByVehicle", ctx, int64(1)).Return([]models.Reservation{self}, nil).Once()

		conflicts, err := svc.Conflicts(ctx, 1, rangeAt(11, 9, 17), 10)
		assert.NoError(t, err)
		assert.Empty(t, conflicts)
	})

	t.Run("results sorted by start", func(t *testing.T) {
		repo := new(mockRepo)
		svc := newTestService(repo, nil, nil)

		late := approvedReservation(21, rangeAt(11, 14, 18))
		early := approvedReservation(22, rangeAt(11, 8, 11))
		repo.On("GetApprovedByVehicle", ctx, int64(1)).
			Return([]models.Reservation{late, early}, nil).Once()

		conflicts, err := svc.Conflicts(ctx, 1, rangeAt(11, 7, 19), 0)
		assert.NoError(t, err)
		assert.Len(t, conflicts, 2)
		assert.Equal(t, int64(22), conflicts[0].ID)
		assert.Equal(t, int64(21), conflicts[1].ID)
	})

	t.Run("one minute overlap counts", func(t *testing.T) {
		repo := new(mockRepo)
		svc := newTestService(repo, nil, nil)

		other := approvedReservation(30, models.TimeRange{
			Start: time.Date(2025, 3, 11, 10, 0, 0, 0, time.UTC),
			End:   time.Date(2025, 3, 11, 11, 0, 0, 0, time.UTC),
		})
		candidate := models.TimeRange{
			Start: time.Date(2025, 3, 11, 9, 0, 0, 0, time.UTC),
			End:   time.Date(2025, 3, 11, 10, 1, 0, 0, time.UTC),
		}
		repo.On("GetApprovedByVehicle", ctx, int64(1)).
			Return([]models.Reservation{other}, nil).Once()

		conflicts, err := svc.Conflicts(ctx, 1, candidate, 0)
		assert.NoError(t, err)
		assert.Len(t, conflicts, 1)
	})
}

func TestSubmitDirect(t *testing.T) {
	ctx := context.Background()
	vehicle := &models.Vehicle{ID: 1, Name: "Transporter 1", IsActive: true}

	repo := new(mockRepo)
	bus := new(mockBus)
	svc := newTestService(repo, bus, nil)

	other := approvedReservation(11, rangeAt(11, 10, 12))
	repo.On("GetVehicleByID", ctx, int64(1)).Return(vehicle, nil).Once()
	repo.On("GetApprovedByVehicle", ctx, int64(1)).Return([]models.Reservation{other}, nil).Once()
	repo.On("CreateReservation", ctx, mock.Anything).Return(nil).Once()
	bus.On("PublishJSON", "reservation.created", mock.Anything).Return(nil).Once()

	r, conflicts, err := svc.SubmitDirect(ctx, SubmitRequest{
		VehicleID: 1,
		Range:     rangeAt(11, 9, 17),
	}, "walk-in")
	assert.NoError(t, err)
	assert.Equal(t, models.StatusApproved, r.Status)
	assert.True(t, r.IsAdminDirect)
	assert.NotNil(t, r.RespondedAt)
	assert.Len(t, conflicts, 1)
}

func TestPartition(t *testing.T) {
	repo := new(mockRepo)
	svc := newTestService(repo, nil, nil)

	past := models.Reservation{ID: 1, Range: models.TimeRange{
		Start: testNow.Add(-4 * time.Hour),
		End:   testNow.Add(-2 * time.Hour),
	}}
	running := models.Reservation{ID: 2, Range: models.TimeRange{
		Start: testNow.Add(-1 * time.Hour),
		End:   testNow.Add(1 * time.Hour),
	}}
	endingNow := models.Reservation{ID: 3, Range: models.TimeRange{
		Start: testNow.Add(-1 * time.Hour),
		End:   testNow,
	}}
	future := models.Reservation{ID: 4, Range: models.TimeRange{
		Start: testNow.Add(24 * time.Hour),
		End:   testNow.Add(30 * time.Hour),
	}}

	current, archived := svc.Partition([]models.Reservation{past, running, endingNow, future})

	assert.Len(t, archived, 1)
	assert.Equal(t, int64(1), archived[0].ID)
	// End exactly at now is still current: archival is end strictly before now.
	assert.Len(t, current, 3)
}

// stallingBus blocks the first publish until released; later publishes
// return immediately.
type stallingBus struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (b *stallingBus) PublishJSON(string, interface{}) error {
	first := false
	b.once.Do(func() { first = true })
	if !first {
		return nil
	}
	close(b.entered)
	<-b.release
	return nil
}

func TestPublishRunsOutsideVehicleLock(t *testing.T) {
	ctx := context.Background()
	vehicle := &models.Vehicle{ID: 1, Name: "Transporter 1", IsActive: true}

	repo := new(mockRepo)
	repo.On("GetVehicleByID", ctx, int64(1)).Return(vehicle, nil)
	repo.On("CreateReservation", ctx, mock.Anything).Return(nil)

	bus := &stallingBus{entered: make(chan struct{}), release: make(chan struct{})}
	logger := zerolog.New(io.Discard)
	svc := NewReservationService(repo, bus, nil, fixedClock{now: testNow}, &logger)

	go func() {
		_, _ = svc.Submit(ctx, SubmitRequest{VehicleID: 1, Range: rangeAt(11, 9, 17)})
	}()
	<-bus.entered

	// With the first publish still in flight, a second submit on the same
	// vehicle must acquire the lock and complete.
	done := make(chan struct{})
	go func() {
		_, err := svc.Submit(ctx, SubmitRequest{VehicleID: 1, Range: rangeAt(12, 9, 17)})
		assert.NoError(t, err)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("second submit queued behind an in-flight publish")
	}
	close(bus.release)
}
