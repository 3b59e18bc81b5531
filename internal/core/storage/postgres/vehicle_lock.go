package postgres

import (
	"context"
	"database/sql/driver"
	"fmt"
	"log/slog"

	"golang.org/x/sync/semaphore"
)

// lockSlots bounds how many pool connections may be pinned by vehicle locks so
// that lock holders can still run their own queries.
func lockSlots(maxOpenConns int) *semaphore.Weighted {
	if maxOpenConns <= 0 {
		return nil
	}
	return semaphore.NewWeighted(int64(max(1, maxOpenConns/2)))
}

// LockVehicle serializes writers for one vehicle across every process sharing
// the database. The returned func releases the lock and must be called once.
func (a *Adapter) LockVehicle(ctx context.Context, vehicleRef string) (func(), error) {
	if a.lockSlots != nil {
		if err := a.lockSlots.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("failed to wait for vehicle lock slot: %w", err)
		}
	}
	release := func() {
		if a.lockSlots != nil {
			a.lockSlots.Release(1)
		}
	}

	conn, err := a.db.Conn(ctx)
	if err != nil {
		release()
		return nil, fmt.Errorf("failed to acquire connection for vehicle lock: %w", err)
	}
	if _, err := conn.ExecContext(ctx, queryLockVehicle, vehicleRef); err != nil {
		conn.Close()
		release()
		return nil, fmt.Errorf("failed to lock vehicle %s: %w", vehicleRef, err)
	}

	return func() {
		defer release()
		if _, err := conn.ExecContext(context.Background(), queryUnlockVehicle, vehicleRef); err != nil {
			slog.Warn("[Postgres] Failed to release vehicle lock, discarding connection",
				"vehicle_ref", vehicleRef,
				"error", err)
			// The session still holds the lock; drop it instead of returning it to the pool.
			_ = conn.Raw(func(any) error { return driver.ErrBadConn })
		}
		conn.Close()
	}, nil
}
