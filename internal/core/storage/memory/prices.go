package memory

import (
	"context"
	"sort"
	"sync"

	v1 "github.com/aevon-lab/fuel-ledger/internal/api/v1"
	"github.com/aevon-lab/fuel-ledger/internal/core/storage"
)

type priceKey struct {
	station  string
	fuelType v1.FuelType
}

// PriceStore implements storage.PriceStore in memory.
type PriceStore struct {
	mu     sync.RWMutex
	prices map[priceKey]storage.PriceEntry
}

func NewPriceStore() *PriceStore {
	return &PriceStore{prices: make(map[priceKey]storage.PriceEntry)}
}

func (s *PriceStore) ListPrices(_ context.Context) ([]storage.PriceEntry, error) {
	s.mu.RLock()
	out := make([]storage.PriceEntry, 0, len(s.prices))
	for _, entry := range s.prices {
		out = append(out, entry)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StationRef != out[j].StationRef {
			return out[i].StationRef < out[j].StationRef
		}
		return out[i].FuelType < out[j].FuelType
	})
	return out, nil
}

func (s *PriceStore) UpsertPrice(_ context.Context, entry storage.PriceEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prices[priceKey{station: entry.StationRef, fuelType: entry.FuelType}] = entry
	return nil
}
