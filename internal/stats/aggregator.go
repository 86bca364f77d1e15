// Package stats serves directory statistics with a cached fast path and an
// explicit refresh.
package stats

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/localpages/directory/internal/directory"
)

// Aggregator reads cached statistics when the adapter keeps them and
// recomputes on demand.
type Aggregator struct {
	store  directory.Store
	clock  directory.Clock
	logger *zap.Logger
}

// New constructs an Aggregator over the given adapter.
func New(store directory.Store, clock directory.Clock, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{store: store, clock: clock, logger: logger}
}

// Stats returns cached statistics when the adapter exposes a cache and has a
// row; otherwise it computes fresh statistics without persisting them.
func (a *Aggregator) Stats(ctx context.Context) (directory.Stats, error) {
	if cache, ok := a.store.(directory.StatsCache); ok {
		cached, found, err := cache.CachedStats(ctx)
		if err != nil {
			// A broken cache read degrades to a live computation.
			a.logger.Warn("cached stats read failed, computing live", zap.Error(err))
		} else if found {
			return cached, nil
		}
	}
	stats, err := a.store.Aggregate(ctx)
	if err != nil {
		return directory.Stats{}, fmt.Errorf("aggregate stats: %w", err)
	}
	stats.UpdatedAt = a.clock.Now()
	return stats, nil
}

// Refresh recomputes statistics from live data and persists them when the
// adapter keeps a cache.
func (a *Aggregator) Refresh(ctx context.Context) (directory.Stats, error) {
	stats, err := a.store.Aggregate(ctx)
	if err != nil {
		return directory.Stats{}, fmt.Errorf("aggregate stats: %w", err)
	}
	stats.UpdatedAt = a.clock.Now()

	if cache, ok := a.store.(directory.StatsCache); ok {
		if err := cache.SaveStats(ctx, stats); err != nil {
			return directory.Stats{}, fmt.Errorf("persist stats: %w", err)
		}
	}
	a.logger.Info("statistics refreshed",
		zap.Int64("businesses", stats.TotalBusinesses),
		zap.Int64("reviews", stats.TotalReviews),
	)
	return stats, nil
}
