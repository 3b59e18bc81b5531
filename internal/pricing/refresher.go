package pricing

import (
	"context"
	"log/slog"
	"time"
)

// Refresher reloads a Cache on a fixed interval so price edits made by other
// processes become visible.
type Refresher struct {
	cache    *Cache
	interval time.Duration
}

func NewRefresher(cache *Cache, interval time.Duration) *Refresher {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Refresher{cache: cache, interval: interval}
}

// Start loads the book once, then refreshes every interval until ctx is cancelled.
func (r *Refresher) Start(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	slog.Info("[Pricing] Starting price refresher", "interval", r.interval)

	r.refresh(ctx)

	for {
		select {
		case <-ticker.C:
			r.refresh(ctx)
		case <-ctx.Done():
			slog.Info("[Pricing] Stopping price refresher (context cancelled)")
			return nil
		}
	}
}

func (r *Refresher) refresh(ctx context.Context) {
	if _, err := r.cache.Refresh(ctx); err != nil {
		slog.Error("[Pricing] Price refresh failed, keeping previous snapshot", "error", err)
	}
}
