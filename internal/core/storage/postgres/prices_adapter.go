package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	v1 "github.com/aevon-lab/fuel-ledger/internal/api/v1"
	"github.com/aevon-lab/fuel-ledger/internal/core/numeric"
	"github.com/aevon-lab/fuel-ledger/internal/core/storage"
)

// PriceAdapter implements storage.PriceStore using PostgreSQL.
type PriceAdapter struct {
	db *sql.DB
}

// NewPriceAdapter creates a PriceAdapter sharing the given connection.
func NewPriceAdapter(db *sql.DB) *PriceAdapter {
	return &PriceAdapter{db: db}
}

// ListPrices returns the global table (empty station ref) and every station override.
// Rows with an unknown fuel type or unreadable price are skipped and logged.
func (a *PriceAdapter) ListPrices(ctx context.Context) ([]storage.PriceEntry, error) {
	rows, err := a.db.QueryContext(ctx, queryListPrices)
	if err != nil {
		return nil, fmt.Errorf("list prices: %w", err)
	}
	defer rows.Close()

	var entries []storage.PriceEntry
	for rows.Next() {
		var entry storage.PriceEntry
		var fuelType, priceStr string

		if err := rows.Scan(&entry.StationRef, &fuelType, &priceStr, &entry.UpdatedAt); err != nil {
			return nil, fmt.Errorf("list prices: scan row: %w", err)
		}

		ft, err := v1.ParseFuelType(fuelType)
		if err != nil {
			slog.Warn("[PriceAdapter] Skipping price with unknown fuel type",
				"station_ref", entry.StationRef, "fuel_type", fuelType)
			continue
		}
		price, err := numeric.Parse(priceStr)
		if err != nil {
			slog.Warn("[PriceAdapter] Skipping unreadable price",
				"station_ref", entry.StationRef, "fuel_type", fuelType, "error", err)
			continue
		}

		entry.FuelType = ft
		entry.UnitPrice = price
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list prices: iterate rows: %w", err)
	}
	return entries, nil
}

// UpsertPrice writes one price entry, replacing any existing value for the same key.
func (a *PriceAdapter) UpsertPrice(ctx context.Context, entry storage.PriceEntry) error {
	_, err := a.db.ExecContext(ctx, queryUpsertPrice,
		entry.StationRef,
		string(entry.FuelType),
		entry.UnitPrice.String(),
		entry.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert price: %w", err)
	}
	return nil
}
