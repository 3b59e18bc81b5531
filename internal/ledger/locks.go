package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"

	v1 "github.com/aevon-lab/fuel-ledger/internal/api/v1"
	"github.com/aevon-lab/fuel-ledger/internal/core/partition"
)

// vehicleLocks serializes writes per vehicle through a fixed set of stripes.
// Two vehicles may share a stripe; that only costs parallelism.
type vehicleLocks struct {
	stripes [partition.Count]sync.Mutex
}

func (l *vehicleLocks) lock(vehicleRef string) func() {
	m := &l.stripes[partition.For(vehicleRef)]
	m.Lock()
	return m.Unlock
}

// lockPair locks the stripes of two vehicles in index order.
func (l *vehicleLocks) lockPair(a, b string) func() {
	i, j := partition.For(a), partition.For(b)
	if i == j {
		return l.lock(a)
	}
	if i > j {
		i, j = j, i
	}
	l.stripes[i].Lock()
	l.stripes[j].Lock()
	return func() {
		l.stripes[j].Unlock()
		l.stripes[i].Unlock()
	}
}

// lockVehicles takes the local stripes for refs and, when the store is shared
// between processes, the store's vehicle locks in ref order.
func (s *Service) lockVehicles(ctx context.Context, refs ...string) (func(), error) {
	var unlockLocal func()
	if len(refs) == 1 {
		unlockLocal = s.locks.lock(refs[0])
	} else {
		unlockLocal = s.locks.lockPair(refs[0], refs[1])
	}
	if s.remote == nil {
		return unlockLocal, nil
	}

	ordered := append([]string(nil), refs...)
	sort.Strings(ordered)

	releases := make([]func(), 0, len(ordered))
	unlockAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
		unlockLocal()
	}
	for i, ref := range ordered {
		if i > 0 && ref == ordered[i-1] {
			continue
		}
		release, err := s.remote.LockVehicle(ctx, ref)
		if err != nil {
			unlockAll()
			return nil, fmt.Errorf("failed to acquire write lock for vehicle %s: %w", ref, err)
		}
		releases = append(releases, release)
	}
	return unlockAll, nil
}

// lockStored locks the vehicle that owns the record, plus target when set, and
// returns the record as read under the lock. If a concurrent edit moved the
// record to another vehicle in between, the locks are retaken.
func (s *Service) lockStored(ctx context.Context, id, target string) (*v1.FuelEvent, func(), error) {
	prior, err := s.get(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	for {
		refs := []string{prior.VehicleRef}
		if target != "" {
			refs = append(refs, target)
		}
		unlock, err := s.lockVehicles(ctx, refs...)
		if err != nil {
			return nil, nil, err
		}

		current, err := s.get(ctx, id)
		if err != nil {
			unlock()
			return nil, nil, err
		}
		if current.VehicleRef == prior.VehicleRef {
			return current, unlock, nil
		}
		unlock()
		prior = current
	}
}
