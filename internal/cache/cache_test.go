package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wxdecoder/wxdecoder/internal/physics"
	"github.com/wxdecoder/wxdecoder/pkg/logger"
)

type memBackend struct {
	mu   sync.Mutex
	rows map[string]*Record
	ttls map[string]time.Duration
	err  error
}

func newMemBackend() *memBackend {
	return &memBackend{rows: map[string]*Record{}, ttls: map[string]time.Duration{}}
}

func (m *memBackend) Get(_ context.Context, key string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.rows[key], nil
}

func (m *memBackend) Put(_ context.Context, rec *Record, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.rows[rec.Key] = rec
	m.ttls[rec.Key] = ttl
	return nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestCache(b Backend) (*ReportCache, *clock) {
	clk := &clock{t: time.Date(2026, 10, 14, 12, 20, 0, 0, time.UTC)}
	return New(b, logger.NewNop(), WithClock(clk.now)), clk
}

var bwiKey = Key{Airport: "KBWI", Category: physics.CategorySmall}

// --- Keys ---

func TestKeyString(t *testing.T) {
	assert.Equal(t, "KBWI_SMALL", bwiKey.String())
	assert.Equal(t, "KANP_MEDIUM_KBWI", Key{Airport: "kanp", Category: physics.CategoryMedium, Override: "kbwi"}.String())
	assert.Equal(t, "LINK:KBWI_LARGE", LinkKey(physics.CategoryLarge, "kbwi").String())
}

// --- Round trip ---

func TestStoreThenLookup(t *testing.T) {
	b := newMemBackend()
	c, clk := newTestCache(b)
	ctx := context.Background()

	payload := map[string]any{"airport_name": "Baltimore", "analysis": map[string]any{"wind_risk": "HIGH"}}
	_, until, err := c.Store(ctx, bwiKey, payload, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, clk.t.Add(30*time.Minute), until)
	assert.Equal(t, 30*time.Minute, b.ttls["KBWI_SMALL"])

	clk.t = clk.t.Add(29 * time.Minute)
	raw, ok, err := c.Lookup(ctx, bwiKey)
	require.NoError(t, err)
	require.True(t, ok)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, true, got[CachedField])
	delete(got, CachedField)
	delete(got, ValidUntilField)
	want := map[string]any{"airport_name": "Baltimore", "analysis": map[string]any{"wind_risk": "HIGH"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("payload mismatch (-want +got):\n%s", diff)
	}

	clk.t = clk.t.Add(2 * time.Minute)
	_, ok, err = c.Lookup(ctx, bwiKey)
	require.NoError(t, err)
	assert.False(t, ok, "expired by valid_until")
}

func TestLookupAbsent(t *testing.T) {
	c, _ := newTestCache(newMemBackend())
	_, ok, err := c.Lookup(context.Background(), bwiKey)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestValidUntilWinsOverStorageAge(t *testing.T) {
	b := newMemBackend()
	c, clk := newTestCache(b)

	// Stored long ago but valid_until is still ahead
	b.rows["KBWI_SMALL"] = &Record{
		Key:      "KBWI_SMALL",
		StoredAt: clk.t.Add(-5 * time.Hour),
		Data:     []byte(`{"airport_name":"x","valid_until":` + formatEpoch(clk.t.Add(10*time.Minute)) + `}`),
	}
	_, ok, err := c.Lookup(context.Background(), bwiKey)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLegacyPayloadUsesDefaultTTL(t *testing.T) {
	b := newMemBackend()
	clk := &clock{t: time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)}
	ttl := 30 * time.Minute
	c := New(b, logger.NewNop(), WithClock(clk.now), WithDefaultTTL(func() time.Duration { return ttl }))

	b.rows["KBWI_SMALL"] = &Record{Key: "KBWI_SMALL", StoredAt: clk.t.Add(-20 * time.Minute), Data: []byte(`{"airport_name":"x"}`)}
	_, ok, _ := c.Lookup(context.Background(), bwiKey)
	assert.True(t, ok)

	ttl = 10 * time.Minute
	_, ok, _ = c.Lookup(context.Background(), bwiKey)
	assert.False(t, ok, "default TTL is read on every lookup")

	ttl = 30 * time.Minute
	b.rows["KBWI_SMALL"].Data = []byte(`{"airport_name":"x","valid_until":null}`)
	_, ok, _ = c.Lookup(context.Background(), bwiKey)
	assert.True(t, ok, "null valid_until counts as legacy")
}

func TestLookupCorruptPayload(t *testing.T) {
	b := newMemBackend()
	c, _ := newTestCache(b)
	b.rows["KBWI_SMALL"] = &Record{Key: "KBWI_SMALL", Data: []byte(`[1,2]`)}
	_, ok, err := c.Lookup(context.Background(), bwiKey)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBackendErrors(t *testing.T) {
	b := newMemBackend()
	b.err = errors.New("disk full")
	c, _ := newTestCache(b)

	_, _, err := c.Lookup(context.Background(), bwiKey)
	assert.Error(t, err)
	_, _, err = c.Store(context.Background(), bwiKey, map[string]any{"a": 1}, time.Minute)
	assert.Error(t, err)
	_, _, err = c.Store(context.Background(), bwiKey, []int{1}, time.Minute)
	assert.ErrorIs(t, err, ErrNotObject)
}

// --- Link slot ---

func TestLinkBackfillKeepsValidUntil(t *testing.T) {
	b := newMemBackend()
	c, clk := newTestCache(b)
	ctx := context.Background()

	link := LinkKey(physics.CategorySmall, "KBWI")
	_, until, err := c.Store(ctx, link, map[string]any{"airport_name": "Lee"}, time.Hour)
	require.NoError(t, err)

	clk.t = clk.t.Add(10 * time.Minute)
	raw, ok, err := c.LookupLink(ctx, physics.CategorySmall, "kbwi")
	require.NoError(t, err)
	require.True(t, ok)

	primary := Key{Airport: "KANP", Category: physics.CategorySmall}
	require.NoError(t, c.Backfill(ctx, primary, raw))
	assert.Equal(t, 50*time.Minute, b.ttls["KANP_SMALL"])

	stored, ok := ValidUntil(b.rows["KANP_SMALL"].Data)
	require.True(t, ok)
	assert.WithinDuration(t, until, stored, time.Millisecond)
	assert.NotContains(t, string(b.rows["KANP_SMALL"].Data), `"cached"`)
}

func TestBackfillExpiredIsSkipped(t *testing.T) {
	b := newMemBackend()
	c, clk := newTestCache(b)
	raw := json.RawMessage(`{"valid_until":` + formatEpoch(clk.t.Add(-time.Minute)) + `}`)
	require.NoError(t, c.Backfill(context.Background(), bwiKey, raw))
	assert.Empty(t, b.rows)
}
