package memory

import (
	"context"
	"sync"

	"github.com/aevon-lab/fuel-ledger/internal/core/storage"
)

// Directory implements storage.Directory in memory.
type Directory struct {
	mu       sync.RWMutex
	vehicles map[string]storage.VehicleInfo
	sectors  map[string]storage.SectorInfo
}

func NewDirectory() *Directory {
	return &Directory{
		vehicles: make(map[string]storage.VehicleInfo),
		sectors:  make(map[string]storage.SectorInfo),
	}
}

func (d *Directory) PutVehicle(info storage.VehicleInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.vehicles[info.Ref] = info
}

func (d *Directory) PutSector(info storage.SectorInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sectors[info.Ref] = info
}

func (d *Directory) LookupVehicles(_ context.Context, refs []string) (map[string]storage.VehicleInfo, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make(map[string]storage.VehicleInfo, len(refs))
	for _, ref := range refs {
		if info, ok := d.vehicles[ref]; ok {
			out[ref] = info
		}
	}
	return out, nil
}

func (d *Directory) LookupSectors(_ context.Context, refs []string) (map[string]storage.SectorInfo, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make(map[string]storage.SectorInfo, len(refs))
	for _, ref := range refs {
		if info, ok := d.sectors[ref]; ok {
			out[ref] = info
		}
	}
	return out, nil
}
