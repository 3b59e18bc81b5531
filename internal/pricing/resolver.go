// Package pricing resolves unit fuel prices and quotes supply costs.
package pricing

import (
	"time"

	v1 "github.com/aevon-lab/fuel-ledger/internal/api/v1"
	"github.com/aevon-lab/fuel-ledger/internal/core/storage"
	"github.com/shopspring/decimal"
)

// PriceTable maps fuel type to unit price.
type PriceTable map[v1.FuelType]decimal.Decimal

// ResolvePrice returns the unit price for a supply.
// A positive station-specific price wins; otherwise the global price applies;
// otherwise zero, meaning "unknown".
func ResolvePrice(ft v1.FuelType, stationRef string, global PriceTable, stations map[string]PriceTable) decimal.Decimal {
	if stationRef != "" {
		if table, ok := stations[stationRef]; ok {
			if price, ok := table[ft]; ok && price.IsPositive() {
				return price
			}
		}
	}
	if price, ok := global[ft]; ok {
		return price
	}
	return decimal.Zero
}

// QuoteCost returns liters × unit price rounded to cents.
func QuoteCost(liters, unitPrice decimal.Decimal) decimal.Decimal {
	return liters.Mul(unitPrice).Round(2)
}

// FormatUnitPrice renders the audit label stored with each event.
func FormatUnitPrice(price decimal.Decimal) string {
	return price.StringFixed(3)
}

// PriceBook is an immutable snapshot of the configured price tables.
type PriceBook struct {
	Global      PriceTable            `json:"global"`
	Stations    map[string]PriceTable `json:"stations"`
	Fingerprint string                `json:"fingerprint,omitempty"`
	LoadedAt    time.Time             `json:"loaded_at"`
}

// Resolve applies ResolvePrice to the book.
func (b PriceBook) Resolve(ft v1.FuelType, stationRef string) decimal.Decimal {
	return ResolvePrice(ft, stationRef, b.Global, b.Stations)
}

// BookFromEntries builds a PriceBook from stored entries. An empty station ref
// addresses the global table.
func BookFromEntries(entries []storage.PriceEntry, loadedAt time.Time) PriceBook {
	book := PriceBook{
		Global:   make(PriceTable),
		Stations: make(map[string]PriceTable),
		LoadedAt: loadedAt,
	}
	for _, entry := range entries {
		if entry.StationRef == "" {
			book.Global[entry.FuelType] = entry.UnitPrice
			continue
		}
		table, ok := book.Stations[entry.StationRef]
		if !ok {
			table = make(PriceTable)
			book.Stations[entry.StationRef] = table
		}
		table[entry.FuelType] = entry.UnitPrice
	}
	return book
}

// Entries flattens the book back into store entries.
func (b PriceBook) Entries() []storage.PriceEntry {
	var out []storage.PriceEntry
	for ft, price := range b.Global {
		out = append(out, storage.PriceEntry{FuelType: ft, UnitPrice: price, UpdatedAt: b.LoadedAt})
	}
	for station, table := range b.Stations {
		for ft, price := range table {
			out = append(out, storage.PriceEntry{StationRef: station, FuelType: ft, UnitPrice: price, UpdatedAt: b.LoadedAt})
		}
	}
	return out
}

// Quote is a priced supply ready for display or persistence.
type Quote struct {
	FuelType   v1.FuelType     `json:"fuel_type"`
	StationRef string          `json:"station_ref,omitempty"`
	Liters     decimal.Decimal `json:"liters"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Cost       decimal.Decimal `json:"cost"`
	Label      string          `json:"unit_price_label"`
	Known      bool            `json:"known"`
}
