package directory

import (
	"context"
	"time"
)

// Store is the capability contract every storage adapter implements: query,
// count, upsert and aggregate. Adapters never merge partial records; Upsert
// replaces every mutable field of an existing row, so two concurrent upserts
// of the same ID resolve to whichever statement ran last (last-writer-wins is
// the documented contract, each write being a single whole-row statement).
type Store interface {
	// Query returns the matching page ordered by popularity, plus the total
	// match count across all pages.
	Query(ctx context.Context, filter Filter, page PageRequest) ([]Business, int64, error)

	// Count returns the number of records matching the filter.
	Count(ctx context.Context, filter Filter) (int64, error)

	// Upsert inserts or fully replaces the record keyed by its ID and
	// reports which of the two happened. UpdatedAt advances on every call.
	Upsert(ctx context.Context, biz Business) (UpsertOutcome, error)

	// Aggregate computes fresh statistics from the full business set.
	Aggregate(ctx context.Context) (Stats, error)

	// Close releases backend resources.
	Close() error
}

// StatsCache is optionally implemented by adapters that can persist a cached
// stats row. The aggregator type-asserts for it.
type StatsCache interface {
	CachedStats(ctx context.Context) (Stats, bool, error)
	SaveStats(ctx context.Context, stats Stats) error
}

// Clock abstracts wall time so tests control timestamps.
type Clock interface {
	Now() time.Time
}

// PlaceSource is the external place-search collaborator. One call resolves
// one category query into raw, alias-laden records.
type PlaceSource interface {
	SearchCategory(ctx context.Context, query string) ([]RawPlace, error)
}

// MediaCache downloads a record's remote logo and photos and rewrites the
// record to point at the cached copies. It reports how many of each were
// cached; fetch failures reduce the counts but are not errors.
type MediaCache interface {
	CacheMedia(ctx context.Context, biz *Business) (logos, photos int)
}
