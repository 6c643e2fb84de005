// Package cache stores computed briefings with an expiration embedded in the payload.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/wxdecoder/wxdecoder/internal/physics"
	"github.com/wxdecoder/wxdecoder/pkg/logger"
)

const (
	// ValidUntilField carries the absolute expiry in epoch seconds
	ValidUntilField = "valid_until"
	// CachedField is added to payloads served from the cache
	CachedField = "cached"

	linkPrefix = "LINK"
)

// ErrNotObject is returned when a payload does not encode to a JSON object
var ErrNotObject = errors.New("cache payload must be a JSON object")

// Key identifies a cache slot
type Key struct {
	Airport  string
	Category physics.Category
	Override string // requested weather source, empty for the default
}

// String renders the storage key, e.g. KBWI_SMALL or KANP_SMALL_KBWI
func (k Key) String() string {
	s := strings.ToUpper(k.Airport) + "_" + strings.ToUpper(string(k.Category))
	if k.Override != "" {
		s += "_" + strings.ToUpper(k.Override)
	}
	return s
}

// LinkKey is the slot keyed by the weather source a request actually resolved to
func LinkKey(category physics.Category, source string) Key {
	return Key{Airport: linkPrefix + ":" + strings.ToUpper(source), Category: category}
}

// Record is a stored cache row
type Record struct {
	Key      string
	Airport  string
	Category string
	StoredAt time.Time
	Data     []byte
}

// Backend persists records. Get returns nil, nil when the key is absent.
type Backend interface {
	Get(ctx context.Context, key string) (*Record, error)
	Put(ctx context.Context, rec *Record, ttl time.Duration) error
}

// Option configures a ReportCache
type Option func(*ReportCache)

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(c *ReportCache) { c.now = now }
}

// WithDefaultTTL supplies the freshness window for payloads without valid_until.
// The function is called on every lookup so runtime settings apply immediately.
func WithDefaultTTL(ttl func() time.Duration) Option {
	return func(c *ReportCache) { c.defaultTTL = ttl }
}

// ReportCache implements the primary and link cache slots over a Backend
type ReportCache struct {
	backend    Backend
	defaultTTL func() time.Duration
	now        func() time.Time
	logger     *logger.Logger
}

// New creates a report cache
func New(backend Backend, log *logger.Logger, opts ...Option) *ReportCache {
	c := &ReportCache{
		backend:    backend,
		defaultTTL: func() time.Duration { return 30 * time.Minute },
		now:        time.Now,
		logger:     log.Named("report-cache"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Lookup returns the payload for key with cached set to true, or false when
// the slot is empty or logically expired
func (c *ReportCache) Lookup(ctx context.Context, key Key) (json.RawMessage, bool, error) {
	rec, err := c.backend.Get(ctx, key.String())
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache slot %s: %w", key, err)
	}
	if rec == nil {
		return nil, false, nil
	}

	obj, err := decodeObject(rec.Data)
	if err != nil {
		c.logger.Warn("Discarding unreadable cache payload",
			logger.String("key", key.String()),
			logger.Error(err))
		return nil, false, nil
	}

	now := c.now()
	if until, ok := validUntil(obj); ok {
		if now.After(until) {
			return nil, false, nil
		}
	} else if now.Sub(rec.StoredAt) > c.defaultTTL() {
		return nil, false, nil
	}

	obj[CachedField] = json.RawMessage("true")
	out, err := json.Marshal(obj)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// LookupLink probes the slot keyed by the resolved weather source
func (c *ReportCache) LookupLink(ctx context.Context, category physics.Category, source string) (json.RawMessage, bool, error) {
	return c.Lookup(ctx, LinkKey(category, source))
}

// Store injects valid_until = now + ttl into payload and writes it to key.
// The returned bytes are the stored payload.
func (c *ReportCache) Store(ctx context.Context, key Key, payload any, ttl time.Duration) (json.RawMessage, time.Time, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to encode cache payload: %w", err)
	}
	obj, err := decodeObject(raw)
	if err != nil {
		return nil, time.Time{}, err
	}

	now := c.now()
	until := now.Add(ttl)
	obj[ValidUntilField] = json.RawMessage(formatEpoch(until))
	delete(obj, CachedField)

	data, err := json.Marshal(obj)
	if err != nil {
		return nil, time.Time{}, err
	}
	if err := c.put(ctx, key, data, now, ttl); err != nil {
		return nil, time.Time{}, err
	}
	return data, until, nil
}

// Backfill copies a link-slot payload into key, keeping its valid_until
func (c *ReportCache) Backfill(ctx context.Context, key Key, payload json.RawMessage) error {
	obj, err := decodeObject(payload)
	if err != nil {
		return err
	}
	delete(obj, CachedField)

	now := c.now()
	ttl := c.defaultTTL()
	if until, ok := validUntil(obj); ok {
		ttl = until.Sub(now)
		if ttl <= 0 {
			return nil
		}
	}

	data, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	return c.put(ctx, key, data, now, ttl)
}

func (c *ReportCache) put(ctx context.Context, key Key, data []byte, now time.Time, ttl time.Duration) error {
	rec := &Record{
		Key:      key.String(),
		Airport:  strings.ToUpper(key.Airport),
		Category: strings.ToUpper(string(key.Category)),
		StoredAt: now,
		Data:     data,
	}
	if err := c.backend.Put(ctx, rec, ttl); err != nil {
		return fmt.Errorf("failed to write cache slot %s: %w", rec.Key, err)
	}
	c.logger.Debug("Cached report",
		logger.String("key", rec.Key),
		logger.Duration("ttl", ttl))
	return nil
}

// ValidUntil reads the embedded expiry of a payload
func ValidUntil(payload []byte) (time.Time, bool) {
	obj, err := decodeObject(payload)
	if err != nil {
		return time.Time{}, false
	}
	return validUntil(obj)
}

func decodeObject(data []byte) (map[string]json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotObject, err)
	}
	if obj == nil {
		return nil, ErrNotObject
	}
	return obj, nil
}

// validUntil treats a missing, null or zero value as absent
func validUntil(obj map[string]json.RawMessage) (time.Time, bool) {
	raw, ok := obj[ValidUntilField]
	if !ok {
		return time.Time{}, false
	}
	var secs *float64
	if err := json.Unmarshal(raw, &secs); err != nil || secs == nil || *secs == 0 {
		return time.Time{}, false
	}
	whole, frac := math.Modf(*secs)
	return time.Unix(int64(whole), int64(frac*1e9)), true
}

func formatEpoch(t time.Time) string {
	b, _ := json.Marshal(float64(t.UnixNano()) / 1e9)
	return string(b)
}
