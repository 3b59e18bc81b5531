// Package notify carries ledger change notifications to in-process subscribers.
package notify

import (
	"context"
	"errors"
	"sync"
)

// Kind names the ledger write that produced a change.
type Kind string

const (
	KindCreated Kind = "created"
	KindUpdated Kind = "updated"
	KindDeleted Kind = "deleted"
)

// Change tells subscribers that a vehicle's history is different.
type Change struct {
	VehicleRef string
	EventID    string
	Kind       Kind

	// PreviousVehicleRef is set when an edit moved the event to another vehicle.
	PreviousVehicleRef string
}

// Handler reacts to a change.
type Handler func(context.Context, Change) error

// Publisher is what the ledger depends on.
type Publisher interface {
	Publish(ctx context.Context, change Change) error
}

// Bus is an in-process fan-out of changes, either to every change or to one vehicle's.
type Bus struct {
	mu        sync.RWMutex
	all       []Handler
	byVehicle map[string][]Handler
}

func NewBus() *Bus {
	return &Bus{byVehicle: make(map[string][]Handler)}
}

// Subscribe registers a handler for every change.
func (b *Bus) Subscribe(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, handler)
}

// SubscribeVehicle registers a handler for changes to one vehicle.
func (b *Bus) SubscribeVehicle(vehicleRef string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byVehicle[vehicleRef] = append(b.byVehicle[vehicleRef], handler)
}

// Publish delivers change to every matching handler. All handlers run even if
// some fail; their errors are joined.
func (b *Bus) Publish(ctx context.Context, change Change) error {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.all...)
	handlers = append(handlers, b.byVehicle[change.VehicleRef]...)
	if change.PreviousVehicleRef != "" && change.PreviousVehicleRef != change.VehicleRef {
		handlers = append(handlers, b.byVehicle[change.PreviousVehicleRef]...)
	}
	b.mu.RUnlock()

	var errs []error
	for _, handler := range handlers {
		if handler == nil {
			continue
		}
		if err := handler(ctx, change); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
