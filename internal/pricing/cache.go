package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	v1 "github.com/aevon-lab/fuel-ledger/internal/api/v1"
	"github.com/aevon-lab/fuel-ledger/internal/core/storage"
	"github.com/aevon-lab/fuel-ledger/internal/observability/metrics"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// Cache holds the current PriceBook for readers and reloads it from the store on demand.
// Concurrent Refresh calls share one store read; a load never replaces the
// result of a load that started after it.
type Cache struct {
	store storage.PriceStore
	nowFn func() time.Time

	mu   sync.RWMutex
	book PriceBook
	// started numbers loads as they begin; installed is the newest one in book.
	started   uint64
	installed uint64

	group singleflight.Group
}

func NewCache(store storage.PriceStore) *Cache {
	if store == nil {
		panic("pricing: store must not be nil")
	}
	return &Cache{
		store: store,
		nowFn: time.Now,
		book:  PriceBook{Global: PriceTable{}, Stations: map[string]PriceTable{}},
	}
}

// Snapshot returns the current book. Callers must not mutate its maps.
func (c *Cache) Snapshot() PriceBook {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.book
}

// Resolve returns the unit price in effect for the fuel type at the station.
func (c *Cache) Resolve(ft v1.FuelType, stationRef string) decimal.Decimal {
	return c.Snapshot().Resolve(ft, stationRef)
}

// Quote prices a supply against the current snapshot.
func (c *Cache) Quote(ft v1.FuelType, stationRef string, liters decimal.Decimal) Quote {
	price := c.Resolve(ft, stationRef)
	return Quote{
		FuelType:   ft,
		StationRef: stationRef,
		Liters:     liters,
		UnitPrice:  price,
		Cost:       QuoteCost(liters, price),
		Label:      FormatUnitPrice(price),
		Known:      price.IsPositive(),
	}
}

// Refresh reloads the book from the store. On failure the previous snapshot is kept.
func (c *Cache) Refresh(ctx context.Context) (PriceBook, error) {
	v, err, shared := c.group.Do("refresh", func() (interface{}, error) {
		return c.load(ctx)
	})
	if err != nil {
		return c.Snapshot(), err
	}
	if shared {
		slog.Debug("[Pricing] Joined in-flight price refresh")
	}
	return v.(PriceBook), nil
}

// load reads the store and installs the result unless a load that started
// later has already been installed.
func (c *Cache) load(ctx context.Context) (PriceBook, error) {
	c.mu.Lock()
	c.started++
	seq := c.started
	c.mu.Unlock()

	entries, err := c.store.ListPrices(ctx)
	if err != nil {
		metrics.IncPriceRefresh(metrics.ResultError)
		return PriceBook{}, fmt.Errorf("failed to load prices: %w", err)
	}
	book := BookFromEntries(entries, c.nowFn().UTC())

	c.mu.Lock()
	if seq < c.installed {
		current := c.book
		c.mu.Unlock()
		slog.Debug("[Pricing] Discarded price load superseded by a newer one", "load", seq)
		return current, nil
	}
	book.Fingerprint = c.book.Fingerprint
	c.book = book
	c.installed = seq
	c.mu.Unlock()

	metrics.IncPriceRefresh(metrics.ResultSuccess)
	slog.Debug("[Pricing] Price book refreshed",
		"global_entries", len(book.Global),
		"stations", len(book.Stations))
	return book, nil
}

// SetPrice writes one entry through the store and reloads the snapshot. The
// reload is not shared with a refresh already in flight, which may have read
// the tables before the write.
func (c *Cache) SetPrice(ctx context.Context, entry storage.PriceEntry) (PriceBook, error) {
	if !entry.FuelType.Valid() {
		return PriceBook{}, fmt.Errorf("%w: fuel type %q is not supported", ErrInvalidPrice, entry.FuelType)
	}
	if entry.UnitPrice.IsNegative() {
		return PriceBook{}, fmt.Errorf("%w: unit price must not be negative", ErrInvalidPrice)
	}
	entry.UnitPrice = entry.UnitPrice.Round(3)
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = c.nowFn().UTC()
	}

	if err := c.store.UpsertPrice(ctx, entry); err != nil {
		return PriceBook{}, fmt.Errorf("failed to store price: %w", err)
	}

	book, err := c.load(ctx)
	if err != nil {
		return c.Snapshot(), err
	}
	return book, nil
}

func (c *Cache) setFingerprint(fp string) {
	c.mu.Lock()
	c.book.Fingerprint = fp
	c.mu.Unlock()
}
