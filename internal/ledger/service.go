// Package ledger is the authoritative write path for fuel events. It owns the
// integrity rules: positive volume, odometer monotonicity on creation, and
// receipt uniqueness.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	v1 "github.com/aevon-lab/fuel-ledger/internal/api/v1"
	"github.com/aevon-lab/fuel-ledger/internal/core/storage"
	"github.com/aevon-lab/fuel-ledger/internal/notify"
	"github.com/aevon-lab/fuel-ledger/internal/observability/metrics"
	"github.com/aevon-lab/fuel-ledger/internal/pricing"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	kindCreate = "create"
	kindEdit   = "edit"
	kindDelete = "delete"

	protocolPrefix = "ABS"
)

// PriceQuoter prices a supply from the current price tables.
type PriceQuoter interface {
	Quote(ft v1.FuelType, stationRef string, liters decimal.Decimal) pricing.Quote
}

type Service struct {
	store    storage.FuelEventStore
	prices   PriceQuoter
	notifier notify.Publisher
	locks    *vehicleLocks
	remote   storage.VehicleLocker

	maxBodySizeBytes int64
	nowFn            func() time.Time
	idFn             func() string
}

// Option configures a Service.
type Option func(*Service)

// WithMaxBodySizeMB caps request bodies accepted by the HTTP handlers.
func WithMaxBodySizeMB(mb int) Option {
	return func(s *Service) {
		if mb > 0 {
			s.maxBodySizeBytes = int64(mb) * 1024 * 1024
		}
	}
}

// WithClock overrides the time source used for protocols and timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// NewService wires the ledger. notifier may be nil when nothing consumes changes.
func NewService(store storage.FuelEventStore, prices PriceQuoter, notifier notify.Publisher, opts ...Option) *Service {
	if store == nil {
		panic("ledger: store must not be nil")
	}
	if prices == nil {
		panic("ledger: price quoter must not be nil")
	}
	s := &Service{
		store:            store,
		prices:           prices,
		notifier:         notifier,
		locks:            &vehicleLocks{},
		maxBodySizeBytes: 1024 * 1024,
		nowFn:            time.Now,
		idFn:             uuid.NewString,
	}
	if locker, ok := store.(storage.VehicleLocker); ok {
		s.remote = locker
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterRoutes registers the ledger routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/fuel-events", s.CreateHandler)
	r.GET("/v1/fuel-events/:id", s.GetHandler)
	r.PUT("/v1/fuel-events/:id", s.EditHandler)
	r.DELETE("/v1/fuel-events/:id", s.DeleteHandler)
	r.GET("/v1/vehicles/:vehicle_ref/odometer", s.LatestOdometerHandler)
}

// FormatProtocol renders a sequence value as the human-facing protocol, e.g. ABS-2026-000042.
func FormatProtocol(year int, seq int64) string {
	return fmt.Sprintf("%s-%d-%06d", protocolPrefix, year, seq)
}

// Submit validates and persists a fuel event.
//
// A new record must have liters > 0, odometer > 0, an odometer strictly above the
// vehicle's latest-dated event, and an unused (station, invoice) pair. Edits only
// re-check volume and the invoice pair (excluding the record itself). Resubmitting
// an existing id with identical content is a no-op.
//
// Rule violations are returned as *RejectionError; anything else is an
// infrastructure failure.
func (s *Service) Submit(ctx context.Context, in *v1.FuelEvent, isEdit bool) (*v1.FuelEvent, error) {
	start := time.Now()
	kind := kindCreate
	if isEdit {
		kind = kindEdit
	}

	out, err := s.submit(ctx, in, isEdit)

	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
		var rej *RejectionError
		if errors.As(err, &rej) {
			metrics.IncRejection(string(rej.Reason))
		}
	}
	metrics.ObserveSubmission(kind, result, time.Since(start))

	return out, err
}

func (s *Service) submit(ctx context.Context, in *v1.FuelEvent, isEdit bool) (*v1.FuelEvent, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: event is required", ErrInvalidEvent)
	}

	evt := *in
	evt.Normalize()
	if err := evt.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	if isEdit {
		return s.edit(ctx, &evt)
	}
	return s.create(ctx, &evt)
}

func (s *Service) create(ctx context.Context, evt *v1.FuelEvent) (*v1.FuelEvent, error) {
	unlock, err := s.lockVehicles(ctx, evt.VehicleRef)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if evt.ID != "" {
		existing, err := s.store.Get(ctx, evt.ID)
		switch {
		case err == nil:
			if isResubmission(existing, evt) {
				slog.Debug("[Ledger] Identical resubmission ignored", "event_id", evt.ID)
				return existing, nil
			}
			return nil, storage.ErrDuplicate
		case !errors.Is(err, storage.ErrNotFound):
			return nil, fmt.Errorf("failed to look up event %s: %w", evt.ID, err)
		}
	}

	s.applyPricing(evt, nil)

	if !evt.Liters.IsPositive() {
		return nil, invalidVolume()
	}
	if !evt.Odometer.IsPositive() {
		return nil, invalidOdometer()
	}

	latest, err := s.store.LatestForVehicle(ctx, evt.VehicleRef)
	switch {
	case err == nil:
		if evt.Odometer.LessThanOrEqual(latest.Odometer) {
			slog.Info("[Ledger] Rejected non-monotonic odometer",
				"vehicle_ref", evt.VehicleRef,
				"odometer", evt.Odometer.String(),
				"latest_odometer", latest.Odometer.String())
			return nil, odometerNotMonotonic(latest.Odometer, latest.ID)
		}
	case !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("failed to load latest event for vehicle %s: %w", evt.VehicleRef, err)
	}

	if err := s.checkInvoice(ctx, evt); err != nil {
		return nil, err
	}

	seq, err := s.store.NextProtocol(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate protocol: %w", err)
	}

	now := s.nowFn().UTC()
	if evt.ID == "" {
		evt.ID = s.idFn()
	}
	evt.Protocol = FormatProtocol(now.Year(), seq)
	evt.CreatedAt = now
	evt.UpdatedAt = now

	if err := s.save(ctx, evt); err != nil {
		return nil, err
	}

	slog.Info("[Ledger] Fuel event recorded",
		"event_id", evt.ID,
		"protocol", evt.Protocol,
		"vehicle_ref", evt.VehicleRef,
		"fuel_type", evt.FuelType,
		"liters", evt.Liters.String())

	s.publish(ctx, notify.Change{VehicleRef: evt.VehicleRef, EventID: evt.ID, Kind: notify.KindCreated})
	return evt, nil
}

// isResubmission reports whether evt repeats the stored record. Cost and unit
// price label left empty by the caller were filled at pricing time, so they are
// taken from the stored record rather than re-quoted.
func isResubmission(stored, evt *v1.FuelEvent) bool {
	candidate := *evt
	if candidate.Cost.IsZero() {
		candidate.Cost = stored.Cost
	}
	if candidate.UnitPriceLabel == "" {
		candidate.UnitPriceLabel = stored.UnitPriceLabel
	}
	return stored.SameContent(&candidate)
}

// edit replaces an existing record. Odometer rules are not re-applied so that
// operators can correct driver, cost or notes on historical records.
func (s *Service) edit(ctx context.Context, evt *v1.FuelEvent) (*v1.FuelEvent, error) {
	if evt.ID == "" {
		return nil, fmt.Errorf("%w: id is required for edits", ErrInvalidEvent)
	}

	existing, unlock, err := s.lockStored(ctx, evt.ID, evt.VehicleRef)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if !evt.Liters.IsPositive() {
		return nil, invalidVolume()
	}

	s.applyPricing(evt, existing)
	evt.Protocol = existing.Protocol
	evt.CreatedAt = existing.CreatedAt

	if existing.SameContent(evt) {
		slog.Debug("[Ledger] Edit without changes ignored", "event_id", evt.ID)
		return existing, nil
	}

	if err := s.checkInvoice(ctx, evt); err != nil {
		return nil, err
	}

	evt.UpdatedAt = s.nowFn().UTC()
	if err := s.save(ctx, evt); err != nil {
		return nil, err
	}

	slog.Info("[Ledger] Fuel event edited",
		"event_id", evt.ID,
		"protocol", evt.Protocol,
		"vehicle_ref", evt.VehicleRef)

	change := notify.Change{VehicleRef: evt.VehicleRef, EventID: evt.ID, Kind: notify.KindUpdated}
	if existing.VehicleRef != evt.VehicleRef {
		change.PreviousVehicleRef = existing.VehicleRef
	}
	s.publish(ctx, change)
	return evt, nil
}

// applyPricing fills a missing cost with the quoted cost and a missing unit
// price label with the resolved price. On edits the stored label is kept when
// the fuel type and station are unchanged.
func (s *Service) applyPricing(evt *v1.FuelEvent, existing *v1.FuelEvent) {
	if evt.UnitPriceLabel == "" && existing != nil &&
		existing.FuelType == evt.FuelType && existing.StationRef == evt.StationRef {
		evt.UnitPriceLabel = existing.UnitPriceLabel
	}
	if !evt.Cost.IsZero() && evt.UnitPriceLabel != "" {
		return
	}

	quote := s.prices.Quote(evt.FuelType, evt.StationRef, evt.Liters)
	if !quote.Known {
		slog.Warn("[Ledger] No unit price configured",
			"fuel_type", evt.FuelType,
			"station_ref", evt.StationRef,
			"vehicle_ref", evt.VehicleRef)
	}
	if evt.UnitPriceLabel == "" {
		evt.UnitPriceLabel = quote.Label
	}
	if evt.Cost.IsZero() {
		evt.Cost = quote.Cost
	}
}

func (s *Service) checkInvoice(ctx context.Context, evt *v1.FuelEvent) error {
	if !evt.HasInvoice() {
		return nil
	}

	other, err := s.store.FindByInvoice(ctx, evt.StationRef, evt.InvoiceNumber)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("failed to check invoice %s: %w", evt.InvoiceNumber, err)
	case other.ID == evt.ID:
		return nil
	}

	slog.Info("[Ledger] Rejected duplicate invoice",
		"invoice_number", evt.InvoiceNumber,
		"station_ref", evt.StationRef,
		"conflicting_event_id", other.ID)
	return duplicateInvoice(evt.StationRef, evt.InvoiceNumber, other.ID)
}

func (s *Service) save(ctx context.Context, evt *v1.FuelEvent) error {
	err := s.store.Save(ctx, evt)
	if errors.Is(err, storage.ErrDuplicateInvoice) {
		// Lost a race with a write from another process; the index caught it.
		return duplicateInvoice(evt.StationRef, evt.InvoiceNumber, "")
	}
	if err != nil {
		return fmt.Errorf("failed to persist fuel event %s: %w", evt.ID, err)
	}
	return nil
}

func (s *Service) publish(ctx context.Context, change notify.Change) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Publish(ctx, change); err != nil {
		slog.Error("[Ledger] Change notification failed",
			"vehicle_ref", change.VehicleRef,
			"event_id", change.EventID,
			"kind", change.Kind,
			"error", err)
	}
}

func (s *Service) get(ctx context.Context, id string) (*v1.FuelEvent, error) {
	evt, err := s.store.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load event %s: %w", id, err)
	}
	return evt, nil
}

// Get returns one event or storage.ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (*v1.FuelEvent, error) {
	return s.get(ctx, id)
}

// Delete removes an event and notifies subscribers.
func (s *Service) Delete(ctx context.Context, id string) error {
	start := time.Now()
	err := s.delete(ctx, id)

	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.ObserveSubmission(kindDelete, result, time.Since(start))
	return err
}

func (s *Service) delete(ctx context.Context, id string) error {
	existing, unlock, err := s.lockStored(ctx, id, "")
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.store.Delete(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return err
		}
		return fmt.Errorf("failed to delete event %s: %w", id, err)
	}

	slog.Info("[Ledger] Fuel event deleted",
		"event_id", id,
		"protocol", existing.Protocol,
		"vehicle_ref", existing.VehicleRef)

	s.publish(ctx, notify.Change{VehicleRef: existing.VehicleRef, EventID: id, Kind: notify.KindDeleted})
	return nil
}

// LatestOdometer returns the reading of the vehicle's latest-dated event, or an
// invalid NullDecimal when the vehicle has no history.
func (s *Service) LatestOdometer(ctx context.Context, vehicleRef string) (decimal.NullDecimal, error) {
	latest, err := s.store.LatestForVehicle(ctx, vehicleRef)
	if errors.Is(err, storage.ErrNotFound) {
		return decimal.NullDecimal{}, nil
	}
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("failed to load latest event for vehicle %s: %w", vehicleRef, err)
	}
	return decimal.NullDecimal{Decimal: latest.Odometer, Valid: true}, nil
}

// VehicleHistory returns the vehicle's events in chronological order.
func (s *Service) VehicleHistory(ctx context.Context, vehicleRef string) ([]v1.FuelEvent, error) {
	events, err := s.store.ListByVehicle(ctx, vehicleRef)
	if err != nil {
		return nil, fmt.Errorf("failed to load history for vehicle %s: %w", vehicleRef, err)
	}
	return events, nil
}
