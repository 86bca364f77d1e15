// Package postgres provides the Postgres-backed storage adapter.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/localpages/directory/internal/directory"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of pgxpool.Pool the store uses; pgxmock satisfies it in
// tests.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements directory.Store and directory.StatsCache over Postgres.
type Store struct {
	pool   pool
	logger *zap.Logger
}

// Schema is the DDL the adapter expects. EnsureSchema applies it on startup.
const Schema = `
CREATE TABLE IF NOT EXISTS businesses (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	address         TEXT NOT NULL DEFAULT '',
	category        TEXT NOT NULL DEFAULT '',
	phone           TEXT NOT NULL DEFAULT '',
	website         TEXT NOT NULL DEFAULT '',
	email           TEXT NOT NULL DEFAULT '',
	rating          DOUBLE PRECISION NOT NULL DEFAULT 0,
	review_count    BIGINT NOT NULL DEFAULT 0,
	latitude        DOUBLE PRECISION,
	longitude       DOUBLE PRECISION,
	status          TEXT NOT NULL DEFAULT 'OPERATIONAL',
	logo_url        TEXT NOT NULL DEFAULT '',
	logo_cached_url TEXT NOT NULL DEFAULT '',
	photos          JSONB NOT NULL DEFAULT '[]',
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS businesses_popularity_idx
	ON businesses (status, rating DESC, review_count DESC, id);
CREATE TABLE IF NOT EXISTS directory_stats (
	id               INT PRIMARY KEY DEFAULT 1,
	total_businesses BIGINT NOT NULL,
	total_reviews    BIGINT NOT NULL,
	avg_rating       DOUBLE PRECISION NOT NULL,
	locations        BIGINT NOT NULL,
	scam_reports     BIGINT NOT NULL DEFAULT 0,
	updated_at       TIMESTAMPTZ NOT NULL,
	CONSTRAINT directory_stats_single_row CHECK (id = 1)
);
`

const businessColumns = `id, name, address, category, phone, website, email,
rating, review_count, latitude, longitude, status,
logo_url, logo_cached_url, photos, created_at, updated_at`

// New connects a pooled Postgres store.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewWithPool(p, logger), nil
}

// NewWithPool constructs a store from an existing pool (primarily for tests).
func NewWithPool(p pool, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: p, logger: logger}
}

// EnsureSchema creates the tables the adapter needs.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Query returns the matching page ordered by popularity plus the total match
// count.
func (s *Store) Query(
	ctx context.Context,
	filter directory.Filter,
	page directory.PageRequest,
) ([]directory.Business, int64, error) {
	total, err := s.Count(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + businessColumns + `
FROM businesses
WHERE status = $1
	AND ($2 = '' OR category ILIKE '%' || $2 || '%')
	AND ($3 = '' OR name ILIKE '%' || $3 || '%'
		OR address ILIKE '%' || $3 || '%'
		OR category ILIKE '%' || $3 || '%')
ORDER BY rating DESC, review_count DESC, id ASC`
	args := []any{string(filter.EffectiveStatus()), filter.Category, filter.Search}
	if !page.All {
		size := page.PageSize
		if size <= 0 {
			size = 20
		}
		current := page.Page
		if current < 1 {
			current = 1
		}
		query += ` LIMIT $4 OFFSET $5`
		args = append(args, size, (current-1)*size)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, unavailable("query businesses", err)
	}
	defer rows.Close()

	var items []directory.Business
	for rows.Next() {
		biz, scanErr := s.scanBusiness(rows)
		if scanErr != nil {
			// Malformed rows are skipped, never fatal for the read path.
			s.logger.Warn("skipping malformed business row", zap.Error(scanErr))
			continue
		}
		items = append(items, biz)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, unavailable("iterate businesses", err)
	}
	if items == nil {
		items = []directory.Business{}
	}
	return items, total, nil
}

// Count returns the number of records matching the filter.
func (s *Store) Count(ctx context.Context, filter directory.Filter) (int64, error) {
	query := `SELECT COUNT(*)
FROM businesses
WHERE status = $1
	AND ($2 = '' OR category ILIKE '%' || $2 || '%')
	AND ($3 = '' OR name ILIKE '%' || $3 || '%'
		OR address ILIKE '%' || $3 || '%'
		OR category ILIKE '%' || $3 || '%')`
	var total int64
	err := s.pool.QueryRow(ctx, query,
		string(filter.EffectiveStatus()), filter.Category, filter.Search,
	).Scan(&total)
	if err != nil {
		return 0, unavailable("count businesses", err)
	}
	return total, nil
}

// Upsert inserts or fully replaces the record keyed by ID. The whole row is
// written in one statement, so concurrent upserts of the same ID resolve to
// whichever statement committed last.
func (s *Store) Upsert(ctx context.Context, biz directory.Business) (directory.UpsertOutcome, error) {
	if err := biz.Validate(); err != nil {
		return "", err
	}
	photosJSON, err := json.Marshal(photosOrEmpty(biz.Photos))
	if err != nil {
		return "", fmt.Errorf("marshal photos: %w", err)
	}

	var lat, lng *float64
	if biz.Coordinates != nil {
		lat = &biz.Coordinates.Latitude
		lng = &biz.Coordinates.Longitude
	}
	var logoURL, logoCached string
	if biz.Logo != nil {
		logoURL = biz.Logo.URL
		logoCached = biz.Logo.CachedURL
	}
	status := biz.Status
	if status == "" {
		status = directory.StatusOperational
	}

	query := `INSERT INTO businesses (` + businessColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name,
	address = EXCLUDED.address,
	category = EXCLUDED.category,
	phone = EXCLUDED.phone,
	website = EXCLUDED.website,
	email = EXCLUDED.email,
	rating = EXCLUDED.rating,
	review_count = EXCLUDED.review_count,
	latitude = EXCLUDED.latitude,
	longitude = EXCLUDED.longitude,
	status = EXCLUDED.status,
	logo_url = EXCLUDED.logo_url,
	logo_cached_url = EXCLUDED.logo_cached_url,
	photos = EXCLUDED.photos,
	updated_at = EXCLUDED.updated_at
RETURNING (xmax = 0) AS inserted`

	var inserted bool
	err = s.pool.QueryRow(ctx, query,
		biz.ID, biz.Name, biz.Address, biz.Category, biz.Phone, biz.Website, biz.Email,
		biz.Rating, biz.ReviewCount, lat, lng, string(status),
		logoURL, logoCached, photosJSON, biz.CreatedAt, biz.UpdatedAt,
	).Scan(&inserted)
	if err != nil {
		return "", unavailable("upsert business", err)
	}
	if inserted {
		return directory.OutcomeCreated, nil
	}
	return directory.OutcomeUpdated, nil
}

// Aggregate computes fresh statistics from the operational business set. The
// externally supplied scam report count carries over from the cached row.
func (s *Store) Aggregate(ctx context.Context) (directory.Stats, error) {
	query := `SELECT
	COUNT(*),
	COALESCE(SUM(review_count), 0),
	COALESCE(ROUND(AVG(rating)::numeric, 2), 0)::float8,
	COUNT(DISTINCT CASE
		WHEN latitude IS NOT NULL AND longitude IS NOT NULL
			THEN latitude::text || ',' || longitude::text
		WHEN address <> '' THEN 'addr:' || lower(address)
	END)
FROM businesses
WHERE status = $1`

	var stats directory.Stats
	err := s.pool.QueryRow(ctx, query, string(directory.StatusOperational)).Scan(
		&stats.TotalBusinesses,
		&stats.TotalReviews,
		&stats.AvgRating,
		&stats.Locations,
	)
	if err != nil {
		return directory.Stats{}, unavailable("aggregate businesses", err)
	}
	if cached, found, cacheErr := s.CachedStats(ctx); cacheErr == nil && found {
		stats.ScamReports = cached.ScamReports
	}
	return stats, nil
}

// CachedStats reads the single cached stats row.
func (s *Store) CachedStats(ctx context.Context) (directory.Stats, bool, error) {
	query := `SELECT total_businesses, total_reviews, avg_rating, locations, scam_reports, updated_at
FROM directory_stats WHERE id = 1`
	var stats directory.Stats
	err := s.pool.QueryRow(ctx, query).Scan(
		&stats.TotalBusinesses,
		&stats.TotalReviews,
		&stats.AvgRating,
		&stats.Locations,
		&stats.ScamReports,
		&stats.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return directory.Stats{}, false, nil
	}
	if err != nil {
		return directory.Stats{}, false, unavailable("read cached stats", err)
	}
	return stats, true, nil
}

// SaveStats writes the single cached stats row.
func (s *Store) SaveStats(ctx context.Context, stats directory.Stats) error {
	query := `INSERT INTO directory_stats (id, total_businesses, total_reviews, avg_rating, locations, scam_reports, updated_at)
VALUES (1, $1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
	total_businesses = EXCLUDED.total_businesses,
	total_reviews = EXCLUDED.total_reviews,
	avg_rating = EXCLUDED.avg_rating,
	locations = EXCLUDED.locations,
	scam_reports = EXCLUDED.scam_reports,
	updated_at = EXCLUDED.updated_at`
	_, err := s.pool.Exec(ctx, query,
		stats.TotalBusinesses, stats.TotalReviews, stats.AvgRating,
		stats.Locations, stats.ScamReports, stats.UpdatedAt,
	)
	if err != nil {
		return unavailable("save cached stats", err)
	}
	return nil
}

func (s *Store) scanBusiness(rows pgx.Rows) (directory.Business, error) {
	var (
		biz        directory.Business
		lat, lng   *float64
		status     string
		logoURL    string
		logoCached string
		photosJSON []byte
	)
	err := rows.Scan(
		&biz.ID, &biz.Name, &biz.Address, &biz.Category, &biz.Phone, &biz.Website, &biz.Email,
		&biz.Rating, &biz.ReviewCount, &lat, &lng, &status,
		&logoURL, &logoCached, &photosJSON, &biz.CreatedAt, &biz.UpdatedAt,
	)
	if err != nil {
		return directory.Business{}, fmt.Errorf("scan business row: %w", err)
	}
	biz.Status = directory.BusinessStatus(status)
	if lat != nil && lng != nil {
		biz.Coordinates = &directory.Coordinates{Latitude: *lat, Longitude: *lng}
	}
	if logoURL != "" || logoCached != "" {
		biz.Logo = &directory.Logo{URL: logoURL, CachedURL: logoCached}
	}
	if len(photosJSON) > 0 {
		var photos []directory.Photo
		if err := json.Unmarshal(photosJSON, &photos); err != nil {
			return directory.Business{}, fmt.Errorf("decode photos for %s: %w", biz.ID, err)
		}
		if len(photos) > 0 {
			biz.Photos = photos
		}
	}
	return biz, nil
}

func photosOrEmpty(photos []directory.Photo) []directory.Photo {
	if photos == nil {
		return []directory.Photo{}
	}
	return photos
}

// unavailable tags backend failures so the read path can degrade instead of
// crashing.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(directory.ErrStorageUnavailable, err))
}
