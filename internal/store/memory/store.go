// Package memory provides an in-memory storage adapter for development and
// tests.
package memory

import (
	"context"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/localpages/directory/internal/directory"
)

// Store keeps businesses in a mutex-guarded map. It implements both
// directory.Store and directory.StatsCache.
type Store struct {
	mu         sync.RWMutex
	businesses map[string]directory.Business
	stats      *directory.Stats
}

// New constructs an empty Store.
func New() *Store {
	return &Store{businesses: make(map[string]directory.Business)}
}

// Query returns the matching page ordered by popularity plus the total match
// count.
func (s *Store) Query(
	_ context.Context,
	filter directory.Filter,
	page directory.PageRequest,
) ([]directory.Business, int64, error) {
	s.mu.RLock()
	matches := s.collect(filter)
	s.mu.RUnlock()

	directory.SortByPopularity(matches)
	total := int64(len(matches))
	if page.All {
		return matches, total, nil
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
	if start >= len(matches) {
		return []directory.Business{}, total, nil
	}
	end := start + size
	if end > len(matches) {
		end = len(matches)
	}
	return matches[start:end], total, nil
}

// Count returns the number of records matching the filter.
func (s *Store) Count(_ context.Context, filter directory.Filter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.collect(filter))), nil
}

// Upsert inserts or fully replaces the record keyed by ID.
func (s *Store) Upsert(_ context.Context, biz directory.Business) (directory.UpsertOutcome, error) {
	if err := biz.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	outcome := directory.OutcomeCreated
	if existing, ok := s.businesses[biz.ID]; ok {
		outcome = directory.OutcomeUpdated
		if biz.CreatedAt.IsZero() {
			biz.CreatedAt = existing.CreatedAt
		}
	}
	if biz.CreatedAt.IsZero() {
		biz.CreatedAt = time.Now().UTC()
	}
	if biz.UpdatedAt.IsZero() {
		biz.UpdatedAt = time.Now().UTC()
	}
	s.businesses[biz.ID] = biz
	return outcome, nil
}

// Aggregate computes fresh statistics from the operational business set.
func (s *Store) Aggregate(_ context.Context) (directory.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats directory.Stats
	var ratingSum float64
	locations := make(map[string]struct{})
	for _, b := range s.businesses {
		if b.Status != directory.StatusOperational {
			continue
		}
		stats.TotalBusinesses++
		stats.TotalReviews += int64(b.ReviewCount)
		ratingSum += b.Rating
		if key := locationKey(b); key != "" {
			locations[key] = struct{}{}
		}
	}
	if stats.TotalBusinesses > 0 {
		stats.AvgRating = math.Round(ratingSum/float64(stats.TotalBusinesses)*100) / 100
	}
	stats.Locations = int64(len(locations))
	if s.stats != nil {
		stats.ScamReports = s.stats.ScamReports
	}
	return stats, nil
}

// CachedStats returns the last saved stats row, if any.
func (s *Store) CachedStats(_ context.Context) (directory.Stats, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stats == nil {
		return directory.Stats{}, false, nil
	}
	return *s.stats, true, nil
}

// SaveStats persists the cached stats row.
func (s *Store) SaveStats(_ context.Context, stats directory.Stats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = &stats
	return nil
}

// Close implements directory.Store; it performs no action.
func (s *Store) Close() error { return nil }

func (s *Store) collect(filter directory.Filter) []directory.Business {
	matches := make([]directory.Business, 0, len(s.businesses))
	for _, b := range s.businesses {
		if filter.Matches(b) {
			matches = append(matches, b)
		}
	}
	return matches
}

func locationKey(b directory.Business) string {
	if b.Coordinates != nil {
		return coordKey(*b.Coordinates)
	}
	if b.Address != "" {
		return "addr:" + b.Address
	}
	return ""
}

func coordKey(c directory.Coordinates) string {
	lat := strconv.FormatFloat(c.Latitude, 'f', -1, 64)
	lng := strconv.FormatFloat(c.Longitude, 'f', -1, 64)
	return "geo:" + lat + "," + lng
}
