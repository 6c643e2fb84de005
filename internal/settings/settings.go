// Package settings exposes runtime-editable settings as a cached typed snapshot.
package settings

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/wxdecoder/wxdecoder/internal/physics"
	"github.com/wxdecoder/wxdecoder/pkg/logger"
)

// Setting keys in the system_settings table
const (
	KeyRateLimitCalls     = "rate_limit_calls"
	KeyRateLimitPeriod    = "rate_limit_period"
	KeyGlobalPause        = "global_pause"
	KeyGlobalPauseMessage = "global_pause_message"
	KeyBannerEnabled      = "banner_enabled"
	KeyBannerMessage      = "banner_message"
	KeyAIModel            = "ai_model"
	KeyLegacyModel        = "openai_model"
	KeyCacheDefaultTTL    = "cache_default_ttl_minutes"
	KeyCrosswindPrefix    = "crosswind_limit_"
)

var knownKeys = map[string]bool{
	KeyRateLimitCalls:     true,
	KeyRateLimitPeriod:    true,
	KeyGlobalPause:        true,
	KeyGlobalPauseMessage: true,
	KeyBannerEnabled:      true,
	KeyBannerMessage:      true,
	KeyAIModel:            true,
	KeyLegacyModel:        true,
	KeyCacheDefaultTTL:    true,
}

// KnownKey reports whether key is read by the snapshot. Crosswind overrides
// are crosswind_limit_<category>.
func KnownKey(key string) bool {
	if knownKeys[key] {
		return true
	}
	if cat, ok := strings.CutPrefix(key, KeyCrosswindPrefix); ok {
		switch physics.Category(cat) {
		case physics.CategorySmall, physics.CategoryMedium, physics.CategoryLarge:
			return true
		}
	}
	return false
}

// DefaultPauseMessage is shown when the pause has no message of its own
const DefaultPauseMessage = "System is under maintenance."

const snapshotKey = "snapshot"

// Store persists raw key/value settings
type Store interface {
	AllSettings(ctx context.Context) (map[string]string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Snapshot is a typed view of the settings at one point in time
type Snapshot struct {
	RateLimitCalls     int
	RateLimitPeriod    time.Duration
	GlobalPause        bool
	GlobalPauseMessage string
	BannerEnabled      bool
	BannerMessage      string
	AIModel            string
	DefaultCacheTTL    time.Duration
	CrosswindLimits    map[physics.Category]int
}

// CrosswindLimit returns the override for c, 0 when none
func (s Snapshot) CrosswindLimit(c physics.Category) int {
	return s.CrosswindLimits[c]
}

// Defaults are the values used for keys absent from the store
type Defaults struct {
	RateLimitCalls  int
	RateLimitPeriod time.Duration
	AIModel         string
	DefaultCacheTTL time.Duration
}

// Service reads settings through a short-lived cache
type Service struct {
	store    Store
	defaults Defaults
	cache    *expirable.LRU[string, Snapshot]
	logger   *logger.Logger

	mu   sync.Mutex
	last *Snapshot // served when the store is unreachable
}

// NewService creates a settings service. refresh is how long a read stays cached.
func NewService(store Store, defaults Defaults, refresh time.Duration, log *logger.Logger) *Service {
	if refresh <= 0 {
		refresh = 30 * time.Second
	}
	return &Service{
		store:    store,
		defaults: defaults,
		cache:    expirable.NewLRU[string, Snapshot](1, nil, refresh),
		logger:   log.Named("settings"),
	}
}

// Current returns the cached snapshot, reloading it when stale
func (s *Service) Current(ctx context.Context) Snapshot {
	if snap, ok := s.cache.Get(snapshotKey); ok {
		return snap
	}

	raw, err := s.store.AllSettings(ctx)
	if err != nil {
		s.logger.Warn("Failed to load settings, using last known values", logger.Error(err))
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.last != nil {
			return *s.last
		}
		return s.parse(nil)
	}

	snap := s.parse(raw)
	s.cache.Add(snapshotKey, snap)
	s.mu.Lock()
	s.last = &snap
	s.mu.Unlock()
	return snap
}

// Set writes a setting and drops the cached snapshot
func (s *Service) Set(ctx context.Context, key, value string) error {
	if err := s.store.SetSetting(ctx, key, value); err != nil {
		return err
	}
	s.cache.Purge()
	s.logger.Info("Setting updated", logger.String("key", key))
	return nil
}

func (s *Service) parse(raw map[string]string) Snapshot {
	snap := Snapshot{
		RateLimitCalls:     s.defaults.RateLimitCalls,
		RateLimitPeriod:    s.defaults.RateLimitPeriod,
		GlobalPauseMessage: DefaultPauseMessage,
		AIModel:            s.defaults.AIModel,
		DefaultCacheTTL:    s.defaults.DefaultCacheTTL,
		CrosswindLimits:    map[physics.Category]int{},
	}

	if v, ok := intValue(raw, KeyRateLimitCalls); ok {
		snap.RateLimitCalls = v
	}
	if v, ok := intValue(raw, KeyRateLimitPeriod); ok && v > 0 {
		snap.RateLimitPeriod = time.Duration(v) * time.Second
	}
	snap.GlobalPause = boolValue(raw, KeyGlobalPause)
	if v := strings.TrimSpace(raw[KeyGlobalPauseMessage]); v != "" {
		snap.GlobalPauseMessage = v
	}
	snap.BannerEnabled = boolValue(raw, KeyBannerEnabled)
	snap.BannerMessage = raw[KeyBannerMessage]

	if v := strings.TrimSpace(raw[KeyAIModel]); v != "" {
		snap.AIModel = v
	} else if v := strings.TrimSpace(raw[KeyLegacyModel]); v != "" {
		snap.AIModel = v
	}
	if v, ok := intValue(raw, KeyCacheDefaultTTL); ok && v > 0 {
		snap.DefaultCacheTTL = time.Duration(v) * time.Minute
	}
	for _, c := range []physics.Category{physics.CategorySmall, physics.CategoryMedium, physics.CategoryLarge} {
		if v, ok := intValue(raw, KeyCrosswindPrefix+string(c)); ok && v > 0 {
			snap.CrosswindLimits[c] = v
		}
	}
	return snap
}

func intValue(raw map[string]string, key string) (int, bool) {
	v, ok := raw[key]
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return n, true
}

func boolValue(raw map[string]string, key string) bool {
	switch strings.ToLower(strings.TrimSpace(raw[key])) {
	case "true", "1", "yes", "on":
		return true
	}
	return false
}
