// Package memory provides in-process storage adapters for development mode and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	v1 "github.com/aevon-lab/fuel-ledger/internal/api/v1"
	"github.com/aevon-lab/fuel-ledger/internal/core/storage"
)

// EventStore implements storage.FuelEventStore in memory.
type EventStore struct {
	mu       sync.RWMutex
	events   map[string]v1.FuelEvent
	protocol int64
}

func NewEventStore() *EventStore {
	return &EventStore{events: make(map[string]v1.FuelEvent)}
}

// Save inserts or replaces evt. It enforces the same (station_ref, invoice_number)
// uniqueness as the postgres index.
func (s *EventStore) Save(_ context.Context, evt *v1.FuelEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if evt.HasInvoice() {
		for id, other := range s.events {
			if id != evt.ID && other.StationRef == evt.StationRef && other.InvoiceNumber == evt.InvoiceNumber {
				return storage.ErrDuplicateInvoice
			}
		}
	}

	s.events[evt.ID] = *evt
	return nil
}

func (s *EventStore) Get(_ context.Context, id string) (*v1.FuelEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	evt, ok := s.events[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &evt, nil
}

func (s *EventStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.events, id)
	return nil
}

func (s *EventStore) LatestForVehicle(_ context.Context, vehicleRef string) (*v1.FuelEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *v1.FuelEvent
	for _, evt := range s.events {
		if evt.VehicleRef != vehicleRef {
			continue
		}
		if latest == nil || later(evt, *latest) {
			e := evt
			latest = &e
		}
	}
	if latest == nil {
		return nil, storage.ErrNotFound
	}
	return latest, nil
}

func (s *EventStore) FindByInvoice(_ context.Context, stationRef, invoiceNumber string) (*v1.FuelEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, evt := range s.events {
		if evt.StationRef == stationRef && evt.InvoiceNumber == invoiceNumber {
			e := evt
			return &e, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *EventStore) ListByVehicle(_ context.Context, vehicleRef string) ([]v1.FuelEvent, error) {
	return s.collect(func(evt v1.FuelEvent) bool {
		return evt.VehicleRef == vehicleRef
	}), nil
}

func (s *EventStore) ListInRange(_ context.Context, start, end time.Time) ([]v1.FuelEvent, error) {
	return s.collect(func(evt v1.FuelEvent) bool {
		return !evt.OccurredAt.Before(start) && evt.OccurredAt.Before(end)
	}), nil
}

func (s *EventStore) NextProtocol(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.protocol++
	return s.protocol, nil
}

func (s *EventStore) collect(keep func(v1.FuelEvent) bool) []v1.FuelEvent {
	s.mu.RLock()
	out := make([]v1.FuelEvent, 0)
	for _, evt := range s.events {
		if keep(evt) {
			out = append(out, evt)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return later(out[j], out[i])
	})
	return out
}

// later orders by occurred_at, then odometer, then id.
func later(a, b v1.FuelEvent) bool {
	if !a.OccurredAt.Equal(b.OccurredAt) {
		return a.OccurredAt.After(b.OccurredAt)
	}
	if c := a.Odometer.Cmp(b.Odometer); c != 0 {
		return c > 0
	}
	return a.ID > b.ID
}
