package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/wxdecoder/wxdecoder/internal/cache"
	"github.com/wxdecoder/wxdecoder/pkg/logger"
)

// CacheStorage is the flight_cache table. It implements cache.Backend.
type CacheStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

var _ cache.Backend = (*CacheStorage)(nil)

// NewCacheStorage creates the cache store
func NewCacheStorage(d *DB, log *logger.Logger) *CacheStorage {
	return &CacheStorage{db: d.db, logger: log.Named("sqlite-cache")}
}

// Get implements cache.Backend
func (s *CacheStorage) Get(ctx context.Context, key string) (*cache.Record, error) {
	var (
		rec      cache.Record
		icao     sql.NullString
		category sql.NullString
		ts       string
		data     string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT key, icao, category, timestamp, data FROM flight_cache WHERE key = ?`, key,
	).Scan(&rec.Key, &icao, &category, &ts, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache row: %w", err)
	}
	rec.Airport = icao.String
	rec.Category = category.String
	rec.StoredAt = parseTime(ts)
	rec.Data = []byte(data)
	return &rec, nil
}

// Put implements cache.Backend with an atomic upsert
func (s *CacheStorage) Put(ctx context.Context, rec *cache.Record, ttl time.Duration) error {
	var expires any
	if ttl > 0 {
		expires = formatTime(rec.StoredAt.Add(ttl))
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO flight_cache (key, icao, category, timestamp, expires_at, data)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			icao = excluded.icao,
			category = excluded.category,
			timestamp = excluded.timestamp,
			expires_at = excluded.expires_at,
			data = excluded.data`,
		rec.Key, rec.Airport, rec.Category, formatTime(rec.StoredAt), expires, string(rec.Data),
	)
	if err != nil {
		return fmt.Errorf("failed to write cache row: %w", err)
	}
	return nil
}

// DeleteExpired removes rows past their expiry. Rows stored without an expiry
// are removed once older than legacyMaxAge.
func (s *CacheStorage) DeleteExpired(ctx context.Context, now time.Time, legacyMaxAge time.Duration) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM flight_cache
		WHERE (expires_at IS NOT NULL AND expires_at <= ?)
		   OR (expires_at IS NULL AND timestamp < ?)`,
		formatTime(now), formatTime(now.Add(-legacyMaxAge)),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge cache: %w", err)
	}
	return result.RowsAffected()
}

// CountCache reports the number of cached rows
func (s *CacheStorage) CountCache(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM flight_cache`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count cache rows: %w", err)
	}
	return n, nil
}
