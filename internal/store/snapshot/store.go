// Package snapshot provides a read-only storage adapter that serves a
// directory from previously built snapshot artifacts.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/localpages/directory/internal/blobstore"
	"github.com/localpages/directory/internal/directory"
	snapbuild "github.com/localpages/directory/internal/snapshot"
)

// Store implements directory.Store over immutable snapshot chunks loaded at
// open time. All writes fail with directory.ErrReadOnly.
type Store struct {
	businesses []directory.Business
	index      directory.ChunkIndex
}

// Open loads the snapshot under prefix from the blob store. Chunks listed in
// the index are loaded in order; a record that fails validation is skipped
// with a warning rather than failing the open.
func Open(ctx context.Context, blobs blobstore.Store, prefix string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	indexData, err := blobs.Get(ctx, snapbuild.IndexPath(prefix))
	if err != nil {
		return nil, fmt.Errorf("read snapshot index: %w", err)
	}
	var index directory.ChunkIndex
	if err := json.Unmarshal(indexData, &index); err != nil {
		return nil, fmt.Errorf("decode snapshot index: %w", err)
	}

	store := &Store{index: index}
	for _, info := range index.Chunks {
		data, err := blobs.Get(ctx, snapbuild.ChunkPath(prefix, info.Number))
		if err != nil {
			return nil, fmt.Errorf("read snapshot chunk %d: %w", info.Number, err)
		}
		var chunk []directory.Business
		if err := json.Unmarshal(data, &chunk); err != nil {
			return nil, fmt.Errorf("decode snapshot chunk %d: %w", info.Number, err)
		}
		for _, biz := range chunk {
			directory.ApplyDefaults(&biz)
			if err := biz.Validate(); err != nil {
				logger.Warn("skipping malformed snapshot record",
					zap.Int("chunk", info.Number),
					zap.String("id", biz.ID),
					zap.Error(err),
				)
				continue
			}
			store.businesses = append(store.businesses, biz)
		}
	}

	// Snapshots may be built from an arbitrarily ordered export; listings
	// must still come back rating desc, review count desc like every other
	// adapter.
	directory.SortByPopularity(store.businesses)

	logger.Info("snapshot loaded",
		zap.String("prefix", prefix),
		zap.Int("chunks", index.TotalChunks),
		zap.Int("businesses", len(store.businesses)),
	)
	return store, nil
}

// Index returns the snapshot index the store was opened from.
func (s *Store) Index() directory.ChunkIndex { return s.index }

// Query filters and paginates the in-memory snapshot. Records were sorted
// by popularity at open time, so slicing preserves the listing order.
func (s *Store) Query(
	_ context.Context,
	filter directory.Filter,
	page directory.PageRequest,
) ([]directory.Business, int64, error) {
	matched := []directory.Business{}
	for _, biz := range s.businesses {
		if filter.Matches(biz) {
			matched = append(matched, biz)
		}
	}
	total := int64(len(matched))
	if page.All {
		return matched, total, nil
	}

	size := page.PageSize
	if size <= 0 {
		size = 20
	}
	current := page.Page
	if current < 1 {
		current = 1
	}
	start := (current - 1) * size
	if start >= len(matched) {
		return []directory.Business{}, total, nil
	}
	end := start + size
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

// Count returns the number of snapshot records matching the filter.
func (s *Store) Count(_ context.Context, filter directory.Filter) (int64, error) {
	var total int64
	for _, biz := range s.businesses {
		if filter.Matches(biz) {
			total++
		}
	}
	return total, nil
}

// Upsert always fails; snapshots are immutable.
func (s *Store) Upsert(context.Context, directory.Business) (directory.UpsertOutcome, error) {
	return "", directory.ErrReadOnly
}

// Aggregate computes statistics over the loaded snapshot.
func (s *Store) Aggregate(_ context.Context) (directory.Stats, error) {
	var stats directory.Stats
	locations := map[string]struct{}{}
	var ratingSum float64
	for _, biz := range s.businesses {
		if biz.Status != directory.StatusOperational {
			continue
		}
		stats.TotalBusinesses++
		stats.TotalReviews += int64(biz.ReviewCount)
		ratingSum += biz.Rating
		if key, ok := locationKey(biz); ok {
			locations[key] = struct{}{}
		}
	}
	if stats.TotalBusinesses > 0 {
		stats.AvgRating = math.Round(ratingSum/float64(stats.TotalBusinesses)*100) / 100
	}
	stats.Locations = int64(len(locations))
	return stats, nil
}

// Close is a no-op; the snapshot holds no external resources after open.
func (s *Store) Close() error { return nil }

func locationKey(biz directory.Business) (string, bool) {
	if biz.Coordinates != nil {
		return fmt.Sprintf("%g,%g", biz.Coordinates.Latitude, biz.Coordinates.Longitude), true
	}
	if biz.Address != "" {
		return "addr:" + biz.Address, true
	}
	return "", false
}
