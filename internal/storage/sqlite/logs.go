package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/wxdecoder/wxdecoder/pkg/logger"
)

// Request outcomes recorded in the logs table
const (
	StatusSuccess      = "SUCCESS"
	StatusCacheHit     = "CACHE_HIT"
	StatusCacheHitLink = "CACHE_HIT_LINK"
	StatusRateLimit    = "RATE_LIMIT"
	StatusFail         = "FAIL"
	StatusError        = "ERROR"
)

// LogRecord is one analysis request
type LogRecord struct {
	ID              int64      `json:"id"`
	RequestID       string     `json:"request_id"`
	Timestamp       time.Time  `json:"timestamp"`
	ClientID        string     `json:"client_id"`
	IPAddress       string     `json:"ip_address"`
	InputICAO       string     `json:"input_icao"`
	ResolvedICAO    string     `json:"resolved_icao"`
	PlaneProfile    string     `json:"plane_profile"`
	DurationSeconds float64    `json:"duration_seconds"`
	Status          string     `json:"status"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	ModelUsed       string     `json:"model_used,omitempty"`
	TokensUsed      int        `json:"tokens_used"`
	WeatherICAO     string     `json:"weather_icao,omitempty"`
	Expiration      *time.Time `json:"expiration_timestamp,omitempty"`
	DurationWx      float64    `json:"duration_wx"`
	DurationNOTAMs  float64    `json:"duration_notams"`
	DurationAlt     float64    `json:"duration_alt"`
	DurationAI      float64    `json:"duration_ai"`
}

// LogStorage handles the logs table
type LogStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewLogStorage creates the log store
func NewLogStorage(d *DB, log *logger.Logger) *LogStorage {
	return &LogStorage{db: d.db, logger: log.Named("sqlite-logs")}
}

// InsertLog appends a record and returns its row id
func (s *LogStorage) InsertLog(ctx context.Context, r *LogRecord) (int64, error) {
	var expiration any
	if r.Expiration != nil {
		expiration = formatTime(*r.Expiration)
	}
	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO logs
		(request_id, timestamp, client_id, ip_address, input_icao, resolved_icao, plane_profile,
		 duration_seconds, status, error_message, model_used, tokens_used, weather_icao,
		 expiration_timestamp, duration_wx, duration_notams, duration_alt, duration_ai)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RequestID,
		formatTime(ts),
		r.ClientID,
		r.IPAddress,
		r.InputICAO,
		r.ResolvedICAO,
		r.PlaneProfile,
		r.DurationSeconds,
		r.Status,
		nullString(r.ErrorMessage),
		nullString(r.ModelUsed),
		r.TokensUsed,
		nullString(r.WeatherICAO),
		expiration,
		r.DurationWx,
		r.DurationNOTAMs,
		r.DurationAlt,
		r.DurationAI,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert log: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}
	return id, nil
}

// RecentLogs returns the newest records first
func (s *LogStorage) RecentLogs(ctx context.Context, limit int) ([]*LogRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, request_id, timestamp, client_id, ip_address, input_icao, resolved_icao, plane_profile,
		        duration_seconds, status, error_message, model_used, tokens_used, weather_icao,
		        expiration_timestamp, duration_wx, duration_notams, duration_alt, duration_ai
		FROM logs
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query logs: %w", err)
	}
	defer rows.Close()

	var records []*LogRecord
	for rows.Next() {
		var (
			r                               LogRecord
			ts                              string
			clientID, ip, input, resolved   sql.NullString
			profile, errMsg, model, weather sql.NullString
			expiration                      sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.RequestID, &ts, &clientID, &ip, &input, &resolved, &profile,
			&r.DurationSeconds, &r.Status, &errMsg, &model, &r.TokensUsed, &weather,
			&expiration, &r.DurationWx, &r.DurationNOTAMs, &r.DurationAlt, &r.DurationAI); err != nil {
			return nil, fmt.Errorf("failed to scan log: %w", err)
		}
		r.Timestamp = parseTime(ts)
		r.ClientID = clientID.String
		r.IPAddress = ip.String
		r.InputICAO = input.String
		r.ResolvedICAO = resolved.String
		r.PlaneProfile = profile.String
		r.ErrorMessage = errMsg.String
		r.ModelUsed = model.String
		r.WeatherICAO = weather.String
		if expiration.Valid {
			t := parseTime(expiration.String)
			r.Expiration = &t
		}
		records = append(records, &r)
	}
	return records, rows.Err()
}

// DeleteLogsBefore removes records older than cutoff
func (s *LogStorage) DeleteLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM logs WHERE timestamp < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to purge logs: %w", err)
	}
	return result.RowsAffected()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
