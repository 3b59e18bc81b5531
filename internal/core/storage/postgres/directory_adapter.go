package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aevon-lab/fuel-ledger/internal/core/storage"
	"github.com/lib/pq"
)

// DirectoryAdapter implements storage.Directory over the vehicles and sectors tables.
type DirectoryAdapter struct {
	db *sql.DB
}

// NewDirectoryAdapter creates a DirectoryAdapter sharing the given connection.
func NewDirectoryAdapter(db *sql.DB) *DirectoryAdapter {
	return &DirectoryAdapter{db: db}
}

func (a *DirectoryAdapter) LookupVehicles(ctx context.Context, refs []string) (map[string]storage.VehicleInfo, error) {
	out := make(map[string]storage.VehicleInfo, len(refs))
	if len(refs) == 0 {
		return out, nil
	}

	rows, err := a.db.QueryContext(ctx, queryLookupVehicles, pq.Array(refs))
	if err != nil {
		return nil, fmt.Errorf("lookup vehicles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var info storage.VehicleInfo
		if err := rows.Scan(&info.Ref, &info.Label, &info.SectorRef); err != nil {
			return nil, fmt.Errorf("lookup vehicles: scan row: %w", err)
		}
		out[info.Ref] = info
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lookup vehicles: iterate rows: %w", err)
	}
	return out, nil
}

func (a *DirectoryAdapter) LookupSectors(ctx context.Context, refs []string) (map[string]storage.SectorInfo, error) {
	out := make(map[string]storage.SectorInfo, len(refs))
	if len(refs) == 0 {
		return out, nil
	}

	rows, err := a.db.QueryContext(ctx, queryLookupSectors, pq.Array(refs))
	if err != nil {
		return nil, fmt.Errorf("lookup sectors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var info storage.SectorInfo
		if err := rows.Scan(&info.Ref, &info.Label); err != nil {
			return nil, fmt.Errorf("lookup sectors: scan row: %w", err)
		}
		out[info.Ref] = info
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lookup sectors: iterate rows: %w", err)
	}
	return out, nil
}
