package pricing

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"time"

	v1 "github.com/aevon-lab/fuel-ledger/internal/api/v1"
	"github.com/aevon-lab/fuel-ledger/internal/core/numeric"
	"gopkg.in/yaml.v3"
)

// rawSeed is the on-disk YAML shape:
//
//	global:
//	  diesel: 6.19
//	stations:
//	  posto-centro:
//	    diesel: "5,99"
type rawSeed struct {
	Global   map[string]interface{}            `yaml:"global"`
	Stations map[string]map[string]interface{} `yaml:"stations"`
}

// LoadSeedFile parses a price seed file and fingerprints its raw bytes.
func LoadSeedFile(path string) (PriceBook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PriceBook{}, fmt.Errorf("reading price seed file %s: %w", path, err)
	}
	return ParseSeed(data)
}

// ParseSeed parses seed YAML. Unknown fuel types and non-numeric or negative
// prices are errors; a seed is operator input and should fail loudly.
func ParseSeed(data []byte) (PriceBook, error) {
	var raw rawSeed
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return PriceBook{}, fmt.Errorf("parsing price seed: %w", err)
	}

	global, err := parseTable("global", raw.Global)
	if err != nil {
		return PriceBook{}, err
	}

	stations := make(map[string]PriceTable, len(raw.Stations))
	for station, values := range raw.Stations {
		if station == "" {
			return PriceBook{}, fmt.Errorf("price seed: station key must not be empty")
		}
		table, err := parseTable("station "+station, values)
		if err != nil {
			return PriceBook{}, err
		}
		stations[station] = table
	}

	return PriceBook{
		Global:      global,
		Stations:    stations,
		Fingerprint: fmt.Sprintf("%x", sha256.Sum256(data)),
	}, nil
}

func parseTable(scope string, values map[string]interface{}) (PriceTable, error) {
	table := make(PriceTable, len(values))
	for key, value := range values {
		ft, err := v1.ParseFuelType(key)
		if err != nil {
			return nil, fmt.Errorf("price seed %s: %w", scope, err)
		}
		price, err := numeric.FromAny(value)
		if err != nil {
			return nil, fmt.Errorf("price seed %s %s: %w", scope, key, err)
		}
		if price.IsNegative() {
			return nil, fmt.Errorf("price seed %s %s: price must not be negative", scope, key)
		}
		table[ft] = price.Round(3)
	}
	return table, nil
}

// Seed writes every entry of book through the cache's store and reloads it.
func Seed(ctx context.Context, cache *Cache, book PriceBook) error {
	now := cache.nowFn().UTC()
	for _, entry := range book.Entries() {
		entry.UpdatedAt = now
		if err := cache.store.UpsertPrice(ctx, entry); err != nil {
			return fmt.Errorf("seeding price %s/%s: %w", entry.StationRef, entry.FuelType, err)
		}
	}

	if _, err := cache.load(ctx); err != nil {
		return err
	}
	cache.setFingerprint(book.Fingerprint)

	slog.Info("[Pricing] Seeded price tables",
		"global_entries", len(book.Global),
		"stations", len(book.Stations),
		"fingerprint", book.Fingerprint,
		"seeded_at", now.Format(time.RFC3339))
	return nil
}
