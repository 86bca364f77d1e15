// Package sqlite provides an embedded storage adapter backed by
// modernc.org/sqlite, used for single node deployments and tests.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/localpages/directory/internal/directory"
)

const schema = `
CREATE TABLE IF NOT EXISTS businesses (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	address         TEXT NOT NULL DEFAULT '',
	category        TEXT NOT NULL DEFAULT '',
	phone           TEXT NOT NULL DEFAULT '',
	website         TEXT NOT NULL DEFAULT '',
	email           TEXT NOT NULL DEFAULT '',
	rating          REAL NOT NULL DEFAULT 0,
	review_count    INTEGER NOT NULL DEFAULT 0,
	latitude        REAL,
	longitude       REAL,
	status          TEXT NOT NULL DEFAULT 'OPERATIONAL',
	logo_url        TEXT NOT NULL DEFAULT '',
	logo_cached_url TEXT NOT NULL DEFAULT '',
	photos          TEXT NOT NULL DEFAULT '[]',
	created_at      TIMESTAMP NOT NULL,
	updated_at      TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS businesses_popularity_idx
	ON businesses (status, rating DESC, review_count DESC, id);
CREATE TABLE IF NOT EXISTS directory_stats (
	id               INTEGER PRIMARY KEY CHECK (id = 1),
	total_businesses INTEGER NOT NULL,
	total_reviews    INTEGER NOT NULL,
	avg_rating       REAL NOT NULL,
	locations        INTEGER NOT NULL,
	scam_reports     INTEGER NOT NULL DEFAULT 0,
	updated_at       TIMESTAMP NOT NULL
);
`

const businessColumns = `id, name, address, category, phone, website, email,
rating, review_count, latitude, longitude, status,
logo_url, logo_cached_url, photos, created_at, updated_at`

// Store implements directory.Store and directory.StatsCache on a local
// SQLite file.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open creates or opens the database at path and applies the schema.
// Use ":memory:" for an ephemeral database.
func Open(ctx context.Context, path string, logger *zap.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("db.path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// The modernc driver serializes writes itself; a single connection
	// avoids SQLITE_BUSY under concurrent upserts.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func filterClause() (string, func(f directory.Filter) []any) {
	clause := ` WHERE status = ?
	AND (? = '' OR instr(lower(category), lower(?)) > 0)
	AND (? = '' OR instr(lower(name), lower(?)) > 0
		OR instr(lower(address), lower(?)) > 0
		OR instr(lower(category), lower(?)) > 0)`
	args := func(f directory.Filter) []any {
		return []any{
			string(f.EffectiveStatus()),
			f.Category, f.Category,
			f.Search, f.Search, f.Search, f.Search,
		}
	}
	return clause, args
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

	where, whereArgs := filterClause()
	query := `SELECT ` + businessColumns + ` FROM businesses` + where +
		` ORDER BY rating DESC, review_count DESC, id ASC`
	args := whereArgs(filter)
	if !page.All {
		size := page.PageSize
		if size <= 0 {
			size = 20
		}
		current := page.Page
		if current < 1 {
			current = 1
		}
		query += ` LIMIT ? OFFSET ?`
		args = append(args, size, (current-1)*size)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, unavailable("query businesses", err)
	}
	defer rows.Close()

	items := []directory.Business{}
	for rows.Next() {
		biz, scanErr := scanBusiness(rows)
		if scanErr != nil {
			s.logger.Warn("skipping malformed business row", zap.Error(scanErr))
			continue
		}
		items = append(items, biz)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, unavailable("iterate businesses", err)
	}
	return items, total, nil
}

// Count returns the number of records matching the filter.
func (s *Store) Count(ctx context.Context, filter directory.Filter) (int64, error) {
	where, whereArgs := filterClause()
	var total int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM businesses`+where, whereArgs(filter)...,
	).Scan(&total)
	if err != nil {
		return 0, unavailable("count businesses", err)
	}
	return total, nil
}

// Upsert inserts or fully replaces the record keyed by ID.
func (s *Store) Upsert(ctx context.Context, biz directory.Business) (directory.UpsertOutcome, error) {
	if err := biz.Validate(); err != nil {
		return "", err
	}
	photos := biz.Photos
	if photos == nil {
		photos = []directory.Photo{}
	}
	photosJSON, err := json.Marshal(photos)
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

	// SQLite has no RETURNING (xmax = 0) equivalent, so existence is
	// checked first. The transaction keeps check and write atomic under
	// concurrent upserts of the same new ID.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", unavailable("begin upsert", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM businesses WHERE id = ?`, biz.ID,
	).Scan(&exists)
	if err != nil {
		return "", unavailable("check business exists", err)
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO businesses (`+businessColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT (id) DO UPDATE SET
	name = excluded.name,
	address = excluded.address,
	category = excluded.category,
	phone = excluded.phone,
	website = excluded.website,
	email = excluded.email,
	rating = excluded.rating,
	review_count = excluded.review_count,
	latitude = excluded.latitude,
	longitude = excluded.longitude,
	status = excluded.status,
	logo_url = excluded.logo_url,
	logo_cached_url = excluded.logo_cached_url,
	photos = excluded.photos,
	updated_at = excluded.updated_at`,
		biz.ID, biz.Name, biz.Address, biz.Category, biz.Phone, biz.Website, biz.Email,
		biz.Rating, biz.ReviewCount, lat, lng, string(status),
		logoURL, logoCached, string(photosJSON), biz.CreatedAt, biz.UpdatedAt,
	)
	if err != nil {
		return "", unavailable("upsert business", err)
	}
	if err := tx.Commit(); err != nil {
		return "", unavailable("commit upsert", err)
	}
	if exists > 0 {
		return directory.OutcomeUpdated, nil
	}
	return directory.OutcomeCreated, nil
}

// Aggregate computes fresh statistics over the operational business set.
func (s *Store) Aggregate(ctx context.Context) (directory.Stats, error) {
	query := `SELECT
	COUNT(*),
	COALESCE(SUM(review_count), 0),
	COALESCE(ROUND(AVG(rating), 2), 0),
	COUNT(DISTINCT CASE
		WHEN latitude IS NOT NULL AND longitude IS NOT NULL
			THEN CAST(latitude AS TEXT) || ',' || CAST(longitude AS TEXT)
		WHEN address <> '' THEN 'addr:' || lower(address)
	END)
FROM businesses
WHERE status = ?`

	var stats directory.Stats
	err := s.db.QueryRowContext(ctx, query, string(directory.StatusOperational)).Scan(
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
	var stats directory.Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT total_businesses, total_reviews, avg_rating, locations, scam_reports, updated_at
FROM directory_stats WHERE id = 1`,
	).Scan(
		&stats.TotalBusinesses,
		&stats.TotalReviews,
		&stats.AvgRating,
		&stats.Locations,
		&stats.ScamReports,
		&stats.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return directory.Stats{}, false, nil
	}
	if err != nil {
		return directory.Stats{}, false, unavailable("read cached stats", err)
	}
	stats.UpdatedAt = stats.UpdatedAt.UTC()
	return stats, true, nil
}

// SaveStats writes the single cached stats row.
func (s *Store) SaveStats(ctx context.Context, stats directory.Stats) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO directory_stats (id, total_businesses, total_reviews, avg_rating, locations, scam_reports, updated_at)
VALUES (1, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	total_businesses = excluded.total_businesses,
	total_reviews = excluded.total_reviews,
	avg_rating = excluded.avg_rating,
	locations = excluded.locations,
	scam_reports = excluded.scam_reports,
	updated_at = excluded.updated_at`,
		stats.TotalBusinesses, stats.TotalReviews, stats.AvgRating,
		stats.Locations, stats.ScamReports, stats.UpdatedAt,
	)
	if err != nil {
		return unavailable("save cached stats", err)
	}
	return nil
}

func scanBusiness(rows *sql.Rows) (directory.Business, error) {
	var (
		biz        directory.Business
		lat, lng   sql.NullFloat64
		status     string
		logoURL    string
		logoCached string
		photosJSON string
		createdAt  time.Time
		updatedAt  time.Time
	)
	err := rows.Scan(
		&biz.ID, &biz.Name, &biz.Address, &biz.Category, &biz.Phone, &biz.Website, &biz.Email,
		&biz.Rating, &biz.ReviewCount, &lat, &lng, &status,
		&logoURL, &logoCached, &photosJSON, &createdAt, &updatedAt,
	)
	if err != nil {
		return directory.Business{}, fmt.Errorf("scan business row: %w", err)
	}
	biz.Status = directory.BusinessStatus(status)
	biz.CreatedAt = createdAt.UTC()
	biz.UpdatedAt = updatedAt.UTC()
	if lat.Valid && lng.Valid {
		biz.Coordinates = &directory.Coordinates{Latitude: lat.Float64, Longitude: lng.Float64}
	}
	if logoURL != "" || logoCached != "" {
		biz.Logo = &directory.Logo{URL: logoURL, CachedURL: logoCached}
	}
	if photosJSON != "" {
		var photos []directory.Photo
		if err := json.Unmarshal([]byte(photosJSON), &photos); err != nil {
			return directory.Business{}, fmt.Errorf("decode photos for %s: %w", biz.ID, err)
		}
		if len(photos) > 0 {
			biz.Photos = photos
		}
	}
	return biz, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(directory.ErrStorageUnavailable, err))
}
