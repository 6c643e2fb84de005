package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wxdecoder/wxdecoder/internal/cache"
	"github.com/wxdecoder/wxdecoder/pkg/logger"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), "wx.db"), logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

var t0 = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

// --- logs ---

func TestLogRoundTrip(t *testing.T) {
	s := NewLogStorage(openTestDB(t), logger.NewNop())
	ctx := context.Background()
	exp := t0.Add(50 * time.Minute)

	id, err := s.InsertLog(ctx, &LogRecord{
		RequestID:       "req-1",
		Timestamp:       t0,
		ClientID:        "client",
		IPAddress:       "203.0.113.7",
		InputICAO:       "BWI",
		ResolvedICAO:    "KBWI",
		PlaneProfile:    "small",
		DurationSeconds: 1.25,
		Status:          StatusSuccess,
		ModelUsed:       "gemini-2.5-flash",
		TokensUsed:      812,
		WeatherICAO:     "KBWI",
		Expiration:      &exp,
		DurationWx:      0.4,
	})
	require.NoError(t, err)
	assert.Positive(t, id)

	_, err = s.InsertLog(ctx, &LogRecord{RequestID: "req-2", Timestamp: t0.Add(time.Second), Status: StatusRateLimit})
	require.NoError(t, err)

	logs, err := s.RecentLogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "req-2", logs[0].RequestID)
	assert.Nil(t, logs[0].Expiration)

	got := logs[1]
	assert.Equal(t, "KBWI", got.ResolvedICAO)
	assert.Equal(t, 812, got.TokensUsed)
	assert.True(t, got.Timestamp.Equal(t0))
	require.NotNil(t, got.Expiration)
	assert.True(t, got.Expiration.Equal(exp))
}

func TestDeleteLogsBefore(t *testing.T) {
	s := NewLogStorage(openTestDB(t), logger.NewNop())
	ctx := context.Background()

	for _, ts := range []time.Time{t0.AddDate(0, 0, -91), t0.AddDate(0, 0, -89), t0} {
		_, err := s.InsertLog(ctx, &LogRecord{RequestID: ts.String(), Timestamp: ts, Status: StatusSuccess})
		require.NoError(t, err)
	}

	n, err := s.DeleteLogsBefore(ctx, t0.AddDate(0, 0, -90))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	logs, err := s.RecentLogs(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, logs, 2)
}

// --- flight_cache ---

func TestCacheStorage(t *testing.T) {
	s := NewCacheStorage(openTestDB(t), logger.NewNop())
	ctx := context.Background()

	rec, err := s.Get(ctx, "KBWI_SMALL")
	require.NoError(t, err)
	assert.Nil(t, rec)

	require.NoError(t, s.Put(ctx, &cache.Record{
		Key: "KBWI_SMALL", Airport: "KBWI", Category: "small", StoredAt: t0, Data: []byte(`{"a":1}`),
	}, 30*time.Minute))
	require.NoError(t, s.Put(ctx, &cache.Record{
		Key: "KBWI_SMALL", Airport: "KBWI", Category: "small", StoredAt: t0, Data: []byte(`{"a":2}`),
	}, 30*time.Minute))

	rec, err = s.Get(ctx, "KBWI_SMALL")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.JSONEq(t, `{"a":2}`, string(rec.Data))
	assert.True(t, rec.StoredAt.Equal(t0))

	n, err := s.CountCache(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCacheDeleteExpired(t *testing.T) {
	s := NewCacheStorage(openTestDB(t), logger.NewNop())
	ctx := context.Background()

	put := func(key string, stored time.Time, ttl time.Duration) {
		require.NoError(t, s.Put(ctx, &cache.Record{Key: key, StoredAt: stored, Data: []byte(`{}`)}, ttl))
	}
	put("EXPIRED", t0.Add(-2*time.Hour), time.Hour)
	put("FRESH", t0, time.Hour)
	put("LEGACY_OLD", t0.Add(-3*time.Hour), 0)
	put("LEGACY_NEW", t0.Add(-10*time.Minute), 0)

	n, err := s.DeleteExpired(ctx, t0, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	for key, want := range map[string]bool{"EXPIRED": false, "FRESH": true, "LEGACY_OLD": false, "LEGACY_NEW": true} {
		rec, err := s.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, want, rec != nil, key)
	}
}

func TestCacheStorageBacksReportCache(t *testing.T) {
	s := NewCacheStorage(openTestDB(t), logger.NewNop())
	now := time.Now().UTC().Truncate(time.Second)
	rc := cache.New(s, logger.NewNop(), cache.WithClock(func() time.Time { return now }))
	ctx := context.Background()
	key := cache.Key{Airport: "KBWI", Category: "small"}

	_, _, err := rc.Store(ctx, key, map[string]any{"airport_name": "BWI"}, 20*time.Minute)
	require.NoError(t, err)

	payload, ok, err := rc.Lookup(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, string(payload), `"cached":true`)
}

// --- settings & rules ---

func TestSettings(t *testing.T) {
	s := NewSettingsStorage(openTestDB(t), logger.NewNop())
	ctx := context.Background()

	require.NoError(t, s.SetSetting(ctx, "rate_limit_calls", "5"))
	require.NoError(t, s.SetSetting(ctx, "rate_limit_calls", "8"))
	require.NoError(t, s.SetSetting(ctx, "global_pause", "false"))

	all, err := s.AllSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"rate_limit_calls": "8", "global_pause": "false"}, all)
}

func TestNotificationRules(t *testing.T) {
	s := NewSettingsStorage(openTestDB(t), logger.NewNop())
	ctx := context.Background()

	channels, err := s.Channels(ctx, "rate_limit")
	require.NoError(t, err)
	assert.Nil(t, channels)

	require.NoError(t, s.SetRule(ctx, Rule{EventType: "rate_limit", Channels: []string{"discord", "smtp"}, Enabled: true}))
	require.NoError(t, s.SetRule(ctx, Rule{EventType: "error", Channels: []string{"slack"}, Enabled: false}))

	channels, err = s.Channels(ctx, "rate_limit")
	require.NoError(t, err)
	assert.Equal(t, []string{"discord", "smtp"}, channels)

	channels, err = s.Channels(ctx, "error")
	require.NoError(t, err)
	assert.Nil(t, channels)

	rules, err := s.Rules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "error", rules[0].EventType)
	assert.False(t, rules[0].Enabled)
}
