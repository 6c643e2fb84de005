package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/wxdecoder/wxdecoder/pkg/logger"
)

// SettingsStorage handles system_settings and notification_rules
type SettingsStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewSettingsStorage creates the settings store
func NewSettingsStorage(d *DB, log *logger.Logger) *SettingsStorage {
	return &SettingsStorage{db: d.db, logger: log.Named("sqlite-settings")}
}

// AllSettings returns every stored key/value pair
func (s *SettingsStorage) AllSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM system_settings`)
	if err != nil {
		return nil, fmt.Errorf("failed to query settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var key string
		var value sql.NullString
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		out[key] = value.String
	}
	return out, rows.Err()
}

// SetSetting upserts one setting
func (s *SettingsStorage) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO system_settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("failed to write setting %s: %w", key, err)
	}
	return nil
}

// Rule routes one event type to channels
type Rule struct {
	EventType string   `json:"event_type"`
	Channels  []string `json:"channels"`
	Enabled   bool     `json:"enabled"`
}

// Channels returns the channels of the enabled rule for eventType, nil when none.
// It implements alerts.RuleStore.
func (s *SettingsStorage) Channels(ctx context.Context, eventType string) ([]string, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT channels FROM notification_rules WHERE event_type = ? AND enabled = 1`, eventType,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read rule %s: %w", eventType, err)
	}

	var channels []string
	if err := json.Unmarshal([]byte(raw), &channels); err != nil {
		return nil, fmt.Errorf("corrupt channels for rule %s: %w", eventType, err)
	}
	return channels, nil
}

// Rules lists every rule
func (s *SettingsStorage) Rules(ctx context.Context) ([]Rule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT event_type, channels, enabled FROM notification_rules ORDER BY event_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		var r Rule
		var raw string
		if err := rows.Scan(&r.EventType, &raw, &r.Enabled); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &r.Channels); err != nil {
			s.logger.Warn("Skipping rule with corrupt channels", logger.String("event_type", r.EventType))
			continue
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// SetRule upserts a rule
func (s *SettingsStorage) SetRule(ctx context.Context, r Rule) error {
	channels := r.Channels
	if channels == nil {
		channels = []string{}
	}
	raw, err := json.Marshal(channels)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO notification_rules (event_type, channels, enabled) VALUES (?, ?, ?)
		ON CONFLICT(event_type) DO UPDATE SET channels = excluded.channels, enabled = excluded.enabled`,
		r.EventType, string(raw), r.Enabled)
	if err != nil {
		return fmt.Errorf("failed to write rule %s: %w", r.EventType, err)
	}
	return nil
}
