package storage

import (
	"context"
	"errors"
	"time"

	v1 "github.com/aevon-lab/fuel-ledger/internal/api/v1"
	"github.com/shopspring/decimal"
)

var (
	// ErrDuplicate is returned when an event with the same id already exists.
	ErrDuplicate = errors.New("event already exists")

	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateInvoice is returned when another event already carries the
	// same (station_ref, invoice_number) pair.
	ErrDuplicateInvoice = errors.New("invoice already registered for station")
)

// FuelEventStore persists fuel events.
type FuelEventStore interface {
	// Save inserts or replaces the event keyed by ID.
	Save(ctx context.Context, evt *v1.FuelEvent) error

	Get(ctx context.Context, id string) (*v1.FuelEvent, error)

	Delete(ctx context.Context, id string) error

	// LatestForVehicle returns the vehicle's event with the greatest OccurredAt,
	// or ErrNotFound when the vehicle has no history.
	LatestForVehicle(ctx context.Context, vehicleRef string) (*v1.FuelEvent, error)

	// FindByInvoice returns the event registered under the receipt pair, or ErrNotFound.
	FindByInvoice(ctx context.Context, stationRef, invoiceNumber string) (*v1.FuelEvent, error)

	// ListByVehicle returns the vehicle's full history ordered by OccurredAt.
	ListByVehicle(ctx context.Context, vehicleRef string) ([]v1.FuelEvent, error)

	// ListInRange returns every event with start <= OccurredAt < end, ordered by OccurredAt.
	ListInRange(ctx context.Context, start, end time.Time) ([]v1.FuelEvent, error)

	// NextProtocol returns the next value of the protocol sequence. Values are never reused.
	NextProtocol(ctx context.Context) (int64, error)
}

// VehicleLocker is implemented by stores shared between processes. LockVehicle
// blocks until the caller is the only writer for the vehicle; the returned func
// releases it.
type VehicleLocker interface {
	LockVehicle(ctx context.Context, vehicleRef string) (func(), error)
}

// PriceEntry is one configured unit price. An empty StationRef denotes the global table.
type PriceEntry struct {
	StationRef string
	FuelType   v1.FuelType
	UnitPrice  decimal.Decimal
	UpdatedAt  time.Time
}

// PriceStore persists the global and per-station price tables.
type PriceStore interface {
	ListPrices(ctx context.Context) ([]PriceEntry, error)
	UpsertPrice(ctx context.Context, entry PriceEntry) error
}

// VehicleInfo is the directory view of a vehicle.
type VehicleInfo struct {
	Ref       string
	Label     string
	SectorRef string
}

// SectorInfo is the directory view of an organizational unit.
type SectorInfo struct {
	Ref   string
	Label string
}

// Directory resolves display labels for vehicle and sector references.
// Unknown refs are simply absent from the returned map.
type Directory interface {
	LookupVehicles(ctx context.Context, refs []string) (map[string]VehicleInfo, error)
	LookupSectors(ctx context.Context, refs []string) (map[string]SectorInfo, error)
}
