package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	v1 "github.com/aevon-lab/fuel-ledger/internal/api/v1"
	"github.com/aevon-lab/fuel-ledger/internal/core/storage"
	"github.com/aevon-lab/fuel-ledger/internal/core/storage/memory"
	"github.com/aevon-lab/fuel-ledger/internal/notify"
	"github.com/aevon-lab/fuel-ledger/internal/pricing"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var day1 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu      sync.Mutex
	changes []notify.Change
	err     error
}

func (p *recordingPublisher) Publish(_ context.Context, c notify.Change) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, c)
	return p.err
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.changes)
}

type mockEventStore struct {
	mock.Mock
}

func (m *mockEventStore) Save(ctx context.Context, evt *v1.FuelEvent) error {
	return m.Called(ctx, evt).Error(0)
}

func (m *mockEventStore) Get(ctx context.Context, id string) (*v1.FuelEvent, error) {
	args := m.Called(ctx, id)
	evt, _ := args.Get(0).(*v1.FuelEvent)
	return evt, args.Error(1)
}

func (m *mockEventStore) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockEventStore) LatestForVehicle(ctx context.Context, vehicleRef string) (*v1.FuelEvent, error) {
	args := m.Called(ctx, vehicleRef)
	evt, _ := args.Get(0).(*v1.FuelEvent)
	return evt, args.Error(1)
}

func (m *mockEventStore) FindByInvoice(ctx context.Context, stationRef, invoiceNumber string) (*v1.FuelEvent, error) {
	args := m.Called(ctx, stationRef, invoiceNumber)
	evt, _ := args.Get(0).(*v1.FuelEvent)
	return evt, args.Error(1)
}

func (m *mockEventStore) ListByVehicle(ctx context.Context, vehicleRef string) ([]v1.FuelEvent, error) {
	args := m.Called(ctx, vehicleRef)
	events, _ := args.Get(0).([]v1.FuelEvent)
	return events, args.Error(1)
}

func (m *mockEventStore) ListInRange(ctx context.Context, start, end time.Time) ([]v1.FuelEvent, error) {
	args := m.Called(ctx, start, end)
	events, _ := args.Get(0).([]v1.FuelEvent)
	return events, args.Error(1)
}

func (m *mockEventStore) NextProtocol(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

// sharedStore is a memory store that also provides vehicle locks, as a store
// shared between processes does.
type sharedStore struct {
	*memory.EventStore

	mu       sync.Mutex
	locked   []string
	released int
	lockErr  error
	gets     int
	afterGet func(n int)
}

func newSharedStore() *sharedStore {
	return &sharedStore{EventStore: memory.NewEventStore()}
}

func (s *sharedStore) LockVehicle(_ context.Context, vehicleRef string) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lockErr != nil {
		return nil, s.lockErr
	}
	s.locked = append(s.locked, vehicleRef)
	return func() {
		s.mu.Lock()
		s.released++
		s.mu.Unlock()
	}, nil
}

func (s *sharedStore) Get(ctx context.Context, id string) (*v1.FuelEvent, error) {
	evt, err := s.EventStore.Get(ctx, id)

	s.mu.Lock()
	s.gets++
	n, hook := s.gets, s.afterGet
	s.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	return evt, err
}

func (s *sharedStore) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locked, s.released, s.gets = nil, 0, 0
}

type fixture struct {
	svc       *Service
	store     *memory.EventStore
	prices    *pricing.Cache
	published *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	prices := pricing.NewCache(memory.NewPriceStore())
	_, err := prices.SetPrice(context.Background(), storage.PriceEntry{
		FuelType:  v1.FuelDiesel,
		UnitPrice: decimal.RequireFromString("6.00"),
	})
	require.NoError(t, err)

	store := memory.NewEventStore()
	published := &recordingPublisher{}
	svc := NewService(store, prices, published, WithClock(func() time.Time { return day1.Add(30 * 24 * time.Hour) }))
	return &fixture{svc: svc, store: store, prices: prices, published: published}
}

func supply(vehicle string, at time.Time, odometer, liters string) *v1.FuelEvent {
	return &v1.FuelEvent{
		VehicleRef: vehicle,
		OccurredAt: at,
		FuelType:   v1.FuelDiesel,
		Odometer:   decimal.RequireFromString(odometer),
		Liters:     decimal.RequireFromString(liters),
	}
}

func TestSubmit_CreateAssignsIdentityAndQuotesCost(t *testing.T) {
	f := newFixture(t)

	saved, err := f.svc.Submit(context.Background(), supply("V", day1, "100", "40"), false)
	require.NoError(t, err)

	require.NotEmpty(t, saved.ID)
	require.Equal(t, "ABS-2026-000001", saved.Protocol)
	require.Equal(t, "240.00", saved.Cost.StringFixed(2))
	require.Equal(t, "6.000", saved.UnitPriceLabel)
	require.False(t, saved.CreatedAt.IsZero())

	second, err := f.svc.Submit(context.Background(), supply("V", day1.Add(24*time.Hour), "150", "10"), false)
	require.NoError(t, err)
	require.Equal(t, "ABS-2026-000002", second.Protocol)

	require.Equal(t, 2, f.published.count())
	require.Equal(t, notify.KindCreated, f.published.changes[0].Kind)
}

func TestSubmit_OperatorCostIsKept(t *testing.T) {
	f := newFixture(t)

	evt := supply("V", day1, "100", "40")
	evt.Cost = decimal.RequireFromString("199.90")

	saved, err := f.svc.Submit(context.Background(), evt, false)
	require.NoError(t, err)
	require.Equal(t, "199.90", saved.Cost.StringFixed(2))
	require.Equal(t, "6.000", saved.UnitPriceLabel)
}

func TestSubmit_CreateRejectionsInOrder(t *testing.T) {
	tests := []struct {
		name     string
		evt      *v1.FuelEvent
		sentinel error
		reason   Reason
	}{
		{name: "zero liters", evt: supply("V", day1, "100", "0"), sentinel: ErrInvalidVolume, reason: ReasonInvalidVolume},
		{name: "negative liters checked before odometer", evt: supply("V", day1, "0", "-1"), sentinel: ErrInvalidVolume, reason: ReasonInvalidVolume},
		{name: "zero odometer", evt: supply("V", day1, "0", "10"), sentinel: ErrInvalidOdometer, reason: ReasonInvalidOdometer},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)

			_, err := f.svc.Submit(context.Background(), tc.evt, false)
			require.ErrorIs(t, err, tc.sentinel)
			require.ErrorIs(t, err, ErrRejected)

			var rej *RejectionError
			require.ErrorAs(t, err, &rej)
			require.Equal(t, tc.reason, rej.Reason)
			require.Zero(t, f.published.count())
		})
	}
}

func TestSubmit_EnvelopeValidation(t *testing.T) {
	f := newFixture(t)

	evt := supply("", day1, "100", "10")
	_, err := f.svc.Submit(context.Background(), evt, false)
	require.ErrorIs(t, err, ErrInvalidEvent)
	require.NotErrorIs(t, err, ErrRejected)

	_, err = f.svc.Submit(context.Background(), supply("V", day1, "100", "10"), true)
	require.ErrorIs(t, err, ErrInvalidEvent, "edits need an id")
}

func TestSubmit_OdometerNotMonotonic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, supply("V", day1, "100", "5"), false)
	require.NoError(t, err)
	latest, err := f.svc.Submit(ctx, supply("V", day1.Add(9*24*time.Hour), "150", "10"), false)
	require.NoError(t, err)

	_, err = f.svc.Submit(ctx, supply("V", day1.Add(12*24*time.Hour), "90", "10"), false)
	require.ErrorIs(t, err, ErrOdometerNotMonotonic)

	var rej *RejectionError
	require.ErrorAs(t, err, &rej)
	require.True(t, rej.LatestOdometer.Valid)
	require.Equal(t, "150", rej.LatestOdometer.Decimal.String())
	require.Equal(t, latest.ID, rej.ConflictingEventID)
	require.Contains(t, rej.Error(), "last recorded value of 150")

	// Equal reading is not an increase.
	_, err = f.svc.Submit(ctx, supply("V", day1.Add(12*24*time.Hour), "150", "10"), false)
	require.ErrorIs(t, err, ErrOdometerNotMonotonic)

	history, err := f.svc.VehicleHistory(ctx, "V")
	require.NoError(t, err)
	require.Len(t, history, 2, "rejected submissions are not persisted")
}

func TestSubmit_GuardFollowsSubmissionOrderAgainstLatestByDate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	day10 := day1.Add(9 * 24 * time.Hour)

	// e2 (later date) is submitted first.
	_, err := f.svc.Submit(ctx, supply("V", day10, "150", "10"), false)
	require.NoError(t, err)

	// e1 is dated earlier but its reading does not exceed the latest-by-date.
	_, err = f.svc.Submit(ctx, supply("V", day1, "100", "5"), false)
	require.ErrorIs(t, err, ErrOdometerNotMonotonic)

	// A backdated event whose reading exceeds the latest-by-date gets through.
	_, err = f.svc.Submit(ctx, supply("V", day1, "160", "5"), false)
	require.NoError(t, err)

	latest, err := f.svc.LatestOdometer(ctx, "V")
	require.NoError(t, err)
	require.Equal(t, "150", latest.Decimal.String(), "latest is by occurred_at, not by insertion")
}

func TestSubmit_DuplicateInvoice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := supply("V", day1, "100", "10")
	first.InvoiceNumber, first.StationRef = "123", "A"
	saved, err := f.svc.Submit(ctx, first, false)
	require.NoError(t, err)

	second := supply("W", day1, "500", "10")
	second.InvoiceNumber, second.StationRef = "123", "A"
	_, err = f.svc.Submit(ctx, second, false)
	require.ErrorIs(t, err, ErrDuplicateInvoice)

	var rej *RejectionError
	require.ErrorAs(t, err, &rej)
	require.Equal(t, saved.ID, rej.ConflictingEventID)

	second.StationRef = "B"
	_, err = f.svc.Submit(ctx, second, false)
	require.NoError(t, err, "different station")

	third := supply("X", day1, "900", "10")
	third.InvoiceNumber, third.StationRef = "124", "A"
	_, err = f.svc.Submit(ctx, third, false)
	require.NoError(t, err, "different invoice number")

	onlyInvoice := supply("Y", day1, "900", "10")
	onlyInvoice.InvoiceNumber = "123"
	_, err = f.svc.Submit(ctx, onlyInvoice, false)
	require.NoError(t, err, "pair is only enforced when both are present")
}

func TestSubmit_StoreIndexViolationIsDuplicateInvoice(t *testing.T) {
	store := &mockEventStore{}
	store.On("LatestForVehicle", mock.Anything, "V").Return(nil, storage.ErrNotFound)
	store.On("FindByInvoice", mock.Anything, "A", "123").Return(nil, storage.ErrNotFound)
	store.On("NextProtocol", mock.Anything).Return(int64(7), nil)
	store.On("Save", mock.Anything, mock.Anything).Return(storage.ErrDuplicateInvoice)

	svc := NewService(store, pricing.NewCache(memory.NewPriceStore()), nil)

	evt := supply("V", day1, "100", "10")
	evt.InvoiceNumber, evt.StationRef = "123", "A"
	_, err := svc.Submit(context.Background(), evt, false)
	require.ErrorIs(t, err, ErrDuplicateInvoice)
	store.AssertExpectations(t)
}

func TestSubmit_InfrastructureFailureIsNotARejection(t *testing.T) {
	store := &mockEventStore{}
	store.On("LatestForVehicle", mock.Anything, "V").Return(nil, errors.New("connection refused"))

	svc := NewService(store, pricing.NewCache(memory.NewPriceStore()), nil)

	_, err := svc.Submit(context.Background(), supply("V", day1, "100", "10"), false)
	require.ErrorContains(t, err, "connection refused")
	require.NotErrorIs(t, err, ErrRejected)
	store.AssertExpectations(t)
}

func TestSubmit_IdempotentResubmission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	evt := supply("V", day1, "100", "10")
	evt.ID = "evt-1"
	saved, err := f.svc.Submit(ctx, evt, false)
	require.NoError(t, err)
	require.Equal(t, 1, f.published.count())

	again, err := f.svc.Submit(ctx, evt, false)
	require.NoError(t, err)
	require.Equal(t, saved.Protocol, again.Protocol)
	require.Equal(t, 1, f.published.count(), "no-op emits no notification")

	latest, err := f.svc.LatestOdometer(ctx, "V")
	require.NoError(t, err)
	require.Equal(t, "100", latest.Decimal.String())

	history, err := f.svc.VehicleHistory(ctx, "V")
	require.NoError(t, err)
	require.Len(t, history, 1)

	changed := *evt
	changed.Notes = "different"
	_, err = f.svc.Submit(ctx, &changed, false)
	require.ErrorIs(t, err, storage.ErrDuplicate)
}

func TestSubmit_ResubmissionAfterPriceChangeIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	evt := supply("V", day1, "100", "10")
	evt.ID = "evt-1"
	saved, err := f.svc.Submit(ctx, evt, false)
	require.NoError(t, err)
	require.Equal(t, "60.00", saved.Cost.StringFixed(2))

	_, err = f.prices.SetPrice(ctx, storage.PriceEntry{
		FuelType:  v1.FuelDiesel,
		UnitPrice: decimal.RequireFromString("7.00"),
	})
	require.NoError(t, err)

	again, err := f.svc.Submit(ctx, evt, false)
	require.NoError(t, err)
	require.Equal(t, saved.Protocol, again.Protocol)
	require.Equal(t, "60.00", again.Cost.StringFixed(2))
	require.Equal(t, "6.000", again.UnitPriceLabel)
	require.Equal(t, 1, f.published.count())

	// An explicit cost that differs from the stored one is not a retry.
	priced := *evt
	priced.Cost = decimal.RequireFromString("70.00")
	_, err = f.svc.Submit(ctx, &priced, false)
	require.ErrorIs(t, err, storage.ErrDuplicate)
}

func TestSubmit_EditSemantics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Submit(ctx, supply("V", day1, "100", "10"), false)
	require.NoError(t, err)
	invoiced := supply("V", day1.Add(24*time.Hour), "200", "10")
	invoiced.InvoiceNumber, invoiced.StationRef = "123", "A"
	second, err := f.svc.Submit(ctx, invoiced, false)
	require.NoError(t, err)

	t.Run("odometer rules are not re-applied", func(t *testing.T) {
		edit := *first
		edit.Odometer = decimal.NewFromInt(500)
		edit.DriverName = "Carlos"

		saved, err := f.svc.Submit(ctx, &edit, true)
		require.NoError(t, err)
		require.Equal(t, first.Protocol, saved.Protocol)
		require.True(t, first.CreatedAt.Equal(saved.CreatedAt))
		require.Equal(t, "Carlos", saved.DriverName)
	})

	t.Run("volume is still checked", func(t *testing.T) {
		edit := *first
		edit.Liters = decimal.Zero
		_, err := f.svc.Submit(ctx, &edit, true)
		require.ErrorIs(t, err, ErrInvalidVolume)
	})

	t.Run("own invoice does not conflict", func(t *testing.T) {
		edit := *second
		edit.Notes = "receipt checked"
		_, err := f.svc.Submit(ctx, &edit, true)
		require.NoError(t, err)
	})

	t.Run("another event's invoice conflicts", func(t *testing.T) {
		edit := *first
		edit.InvoiceNumber, edit.StationRef = "123", "A"
		_, err := f.svc.Submit(ctx, &edit, true)
		require.ErrorIs(t, err, ErrDuplicateInvoice)
	})

	t.Run("unknown id", func(t *testing.T) {
		edit := *first
		edit.ID = "missing"
		_, err := f.svc.Submit(ctx, &edit, true)
		require.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("unchanged edit is a no-op", func(t *testing.T) {
		stored, err := f.svc.Get(ctx, second.ID)
		require.NoError(t, err)
		before := f.published.count()

		_, err = f.svc.Submit(ctx, stored, true)
		require.NoError(t, err)
		require.Equal(t, before, f.published.count())
	})
}

func TestSubmit_EditMovingVehicleNotifiesBoth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	saved, err := f.svc.Submit(ctx, supply("V", day1, "100", "10"), false)
	require.NoError(t, err)

	edit := *saved
	edit.VehicleRef = "W"
	_, err = f.svc.Submit(ctx, &edit, true)
	require.NoError(t, err)

	last := f.published.changes[len(f.published.changes)-1]
	require.Equal(t, notify.KindUpdated, last.Kind)
	require.Equal(t, "W", last.VehicleRef)
	require.Equal(t, "V", last.PreviousVehicleRef)
}

func TestSubmit_EditRelocksWhenRecordMovedConcurrently(t *testing.T) {
	ctx := context.Background()
	store := newSharedStore()
	published := &recordingPublisher{}
	svc := NewService(store, pricing.NewCache(memory.NewPriceStore()), published)

	saved, err := svc.Submit(ctx, supply("V", day1, "100", "10"), false)
	require.NoError(t, err)
	store.reset()

	// Another writer moves the record to W right after the first read.
	store.afterGet = func(n int) {
		if n == 1 {
			moved := *saved
			moved.VehicleRef = "W"
			require.NoError(t, store.EventStore.Save(ctx, &moved))
		}
	}

	edit := *saved
	edit.Notes = "checked"
	out, err := svc.Submit(ctx, &edit, true)
	require.NoError(t, err)
	require.Equal(t, "V", out.VehicleRef)

	require.Equal(t, []string{"V", "V", "W"}, store.locked)
	require.Equal(t, 3, store.released)

	last := published.changes[len(published.changes)-1]
	require.Equal(t, "W", last.PreviousVehicleRef)
}

func TestSubmit_SharedStoreLocksVehicle(t *testing.T) {
	ctx := context.Background()
	store := newSharedStore()
	svc := NewService(store, pricing.NewCache(memory.NewPriceStore()), nil)

	saved, err := svc.Submit(ctx, supply("V", day1, "100", "10"), false)
	require.NoError(t, err)
	require.Equal(t, []string{"V"}, store.locked)
	require.Equal(t, 1, store.released)

	store.reset()
	edit := *saved
	edit.VehicleRef = "A"
	_, err = svc.Submit(ctx, &edit, true)
	require.NoError(t, err)
	require.Equal(t, []string{"A", "V"}, store.locked, "locks are taken in ref order")
	require.Equal(t, 2, store.released)

	store.reset()
	require.NoError(t, svc.Delete(ctx, saved.ID))
	require.Equal(t, []string{"A"}, store.locked)
	require.Equal(t, 1, store.released)
}

func TestSubmit_LockFailureIsNotARejection(t *testing.T) {
	ctx := context.Background()
	store := newSharedStore()
	store.lockErr = errors.New("too many connections")
	svc := NewService(store, pricing.NewCache(memory.NewPriceStore()), nil)

	_, err := svc.Submit(ctx, supply("V", day1, "100", "10"), false)
	require.ErrorContains(t, err, "too many connections")
	require.NotErrorIs(t, err, ErrRejected)

	history, err := svc.VehicleHistory(ctx, "V")
	require.NoError(t, err)
	require.Empty(t, history)
}

func TestSubmit_NotificationFailureDoesNotFailWrite(t *testing.T) {
	f := newFixture(t)
	f.published.err = errors.New("subscriber down")

	saved, err := f.svc.Submit(context.Background(), supply("V", day1, "100", "10"), false)
	require.NoError(t, err)

	_, err = f.svc.Get(context.Background(), saved.ID)
	require.NoError(t, err)
}

func TestSubmit_ConcurrentSameVehicleAcceptsOneReading(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const writers = 16
	var wg sync.WaitGroup
	errs := make(chan error, writers)

	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func(i int) {
			defer wg.Done()
			evt := supply("V", day1.Add(time.Duration(i)*time.Minute), "1000", "10")
			evt.Notes = fmt.Sprintf("writer %d", i)
			_, err := f.svc.Submit(ctx, evt, false)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	accepted := 0
	for err := range errs {
		if err == nil {
			accepted++
			continue
		}
		require.ErrorIs(t, err, ErrOdometerNotMonotonic)
	}
	require.Equal(t, 1, accepted)
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	saved, err := f.svc.Submit(ctx, supply("V", day1, "100", "10"), false)
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, saved.ID))
	require.ErrorIs(t, f.svc.Delete(ctx, saved.ID), storage.ErrNotFound)

	last := f.published.changes[len(f.published.changes)-1]
	require.Equal(t, notify.KindDeleted, last.Kind)

	latest, err := f.svc.LatestOdometer(ctx, "V")
	require.NoError(t, err)
	require.False(t, latest.Valid)
}

func TestFormatProtocol(t *testing.T) {
	require.Equal(t, "ABS-2026-000042", FormatProtocol(2026, 42))
	require.Equal(t, "ABS-2027-1234567", FormatProtocol(2027, 1234567))
}
