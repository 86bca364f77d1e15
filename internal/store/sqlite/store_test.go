package sqlite

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/localpages/directory/internal/directory"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), ":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedBusiness(id string, rating float64, reviews int, now time.Time) directory.Business {
	return directory.Business{
		ID:          id,
		Name:        "Business " + id,
		Address:     id + " Main St",
		Category:    "Plumber",
		Rating:      rating,
		ReviewCount: reviews,
		Status:      directory.StatusOperational,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestUpsertCreatedThenUpdated(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()

	biz := seedBusiness("biz-1", 4.5, 10, now)
	outcome, err := store.Upsert(ctx, biz)
	require.NoError(t, err)
	require.Equal(t, directory.OutcomeCreated, outcome)

	biz.Rating = 3.9
	biz.UpdatedAt = now.Add(time.Hour)
	outcome, err = store.Upsert(ctx, biz)
	require.NoError(t, err)
	require.Equal(t, directory.OutcomeUpdated, outcome)

	items, total, err := store.Query(ctx, directory.Filter{}, directory.PageRequest{Page: 1, PageSize: 20})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Len(t, items, 1)
	require.InDelta(t, 3.9, items[0].Rating, 1e-9)
	require.True(t, items[0].CreatedAt.Equal(now), "CreatedAt must survive updates")
}

func TestUpsertConcurrentNewIDReportsOneCreate(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()
	biz := seedBusiness("biz-1", 4.5, 10, now)

	const workers = 8
	outcomes := make(chan directory.UpsertOutcome, workers)
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := store.Upsert(ctx, biz)
			outcomes <- outcome
			errs <- err
		}()
	}
	wg.Wait()
	close(outcomes)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	var created int
	for outcome := range outcomes {
		if outcome == directory.OutcomeCreated {
			created++
		}
	}
	require.Equal(t, 1, created, "exactly one concurrent upsert may report created")
}

func TestUpsertRejectsInvalid(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)

	_, err := store.Upsert(context.Background(), directory.Business{ID: "x"})
	var verr *directory.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestQueryOrdersByPopularity(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()

	for _, biz := range []directory.Business{
		seedBusiness("low", 3.0, 500, now),
		seedBusiness("top", 4.9, 10, now),
		seedBusiness("mid-few", 4.5, 5, now),
		seedBusiness("mid-many", 4.5, 90, now),
	} {
		_, err := store.Upsert(ctx, biz)
		require.NoError(t, err)
	}

	items, _, err := store.Query(ctx, directory.Filter{}, directory.PageRequest{All: true})
	require.NoError(t, err)

	ids := make([]string, 0, len(items))
	for _, biz := range items {
		ids = append(ids, biz.ID)
	}
	require.Equal(t, []string{"top", "mid-many", "mid-few", "low"}, ids)
}

func TestQueryPaginationPartitionsResults(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()

	for i := 0; i < 7; i++ {
		biz := seedBusiness(fmt.Sprintf("biz-%02d", i), 4.0, 100-i, now)
		_, err := store.Upsert(ctx, biz)
		require.NoError(t, err)
	}

	seen := map[string]bool{}
	for page := 1; page <= 3; page++ {
		items, total, err := store.Query(ctx, directory.Filter{},
			directory.PageRequest{Page: page, PageSize: 3})
		require.NoError(t, err)
		require.Equal(t, int64(7), total)
		for _, biz := range items {
			require.False(t, seen[biz.ID], "duplicate across pages: %s", biz.ID)
			seen[biz.ID] = true
		}
	}
	require.Len(t, seen, 7)
}

func TestQueryFiltersCategoryAndSearch(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()

	plumber := seedBusiness("p-1", 4.0, 10, now)
	electrician := seedBusiness("e-1", 4.0, 10, now)
	electrician.Name = "Sparks Bros"
	electrician.Category = "Electrician"
	closed := seedBusiness("c-1", 4.0, 10, now)
	closed.Status = directory.StatusClosed

	for _, biz := range []directory.Business{plumber, electrician, closed} {
		_, err := store.Upsert(ctx, biz)
		require.NoError(t, err)
	}

	items, total, err := store.Query(ctx, directory.Filter{Category: "electric"},
		directory.PageRequest{Page: 1, PageSize: 20})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Equal(t, "e-1", items[0].ID)

	items, _, err = store.Query(ctx, directory.Filter{Search: "SPARKS"},
		directory.PageRequest{Page: 1, PageSize: 20})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "e-1", items[0].ID)

	// Closed businesses are excluded unless requested explicitly.
	_, total, err = store.Query(ctx, directory.Filter{}, directory.PageRequest{All: true})
	require.NoError(t, err)
	require.Equal(t, int64(2), total)

	_, total, err = store.Query(ctx, directory.Filter{Status: directory.StatusClosed},
		directory.PageRequest{All: true})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
}

func TestRoundTripPreservesNestedFields(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()

	biz := seedBusiness("nested", 4.2, 33, now)
	biz.Coordinates = &directory.Coordinates{Latitude: 40.71, Longitude: -74.0}
	biz.Logo = &directory.Logo{URL: "https://cdn.example.com/logo.png", CachedURL: "memory://logos/nested.png"}
	biz.Photos = []directory.Photo{{URL: "https://cdn.example.com/1.jpg"}, {URL: "https://cdn.example.com/2.jpg"}}

	_, err := store.Upsert(ctx, biz)
	require.NoError(t, err)

	items, _, err := store.Query(ctx, directory.Filter{}, directory.PageRequest{All: true})
	require.NoError(t, err)
	require.Len(t, items, 1)
	got := items[0]
	require.NotNil(t, got.Coordinates)
	require.InDelta(t, 40.71, got.Coordinates.Latitude, 1e-9)
	require.NotNil(t, got.Logo)
	require.Equal(t, "memory://logos/nested.png", got.Logo.CachedURL)
	require.Len(t, got.Photos, 2)
}

func TestAggregateAndStatsCache(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()

	first := seedBusiness("a", 4.0, 100, now)
	first.Coordinates = &directory.Coordinates{Latitude: 1, Longitude: 2}
	second := seedBusiness("b", 5.0, 50, now)
	second.Coordinates = &directory.Coordinates{Latitude: 1, Longitude: 2}
	third := seedBusiness("c", 3.0, 25, now)
	third.Address = "Unique Ave 9"

	for _, biz := range []directory.Business{first, second, third} {
		_, err := store.Upsert(ctx, biz)
		require.NoError(t, err)
	}

	stats, err := store.Aggregate(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), stats.TotalBusinesses)
	require.Equal(t, int64(175), stats.TotalReviews)
	require.InDelta(t, 4.0, stats.AvgRating, 1e-9)
	require.Equal(t, int64(2), stats.Locations)

	_, found, err := store.CachedStats(ctx)
	require.NoError(t, err)
	require.False(t, found)

	stats.ScamReports = 4
	stats.UpdatedAt = now
	require.NoError(t, store.SaveStats(ctx, stats))

	cached, found, err := store.CachedStats(ctx)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, int64(4), cached.ScamReports)
	require.True(t, cached.UpdatedAt.Equal(now))

	// A later Aggregate keeps the externally maintained scam count.
	fresh, err := store.Aggregate(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(4), fresh.ScamReports)
}
