package config

import (
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config represents the main application configuration structure
// containing all configuration sections
type Config struct {
	Server      ServerConfig      `toml:"server"`      // HTTP server settings
	Logging     LoggingConfig     `toml:"logging"`     // Application logging settings
	Storage     StorageConfig     `toml:"storage"`     // SQLite and Redis settings
	Airports    AirportsConfig    `toml:"airports"`    // Airport directory sources
	Weather     WeatherConfig     `toml:"wx"`          // METAR/TAF, NOTAM and station lookup upstreams
	Fallback    FallbackConfig    `toml:"fallback"`    // Nearest-station search settings
	Cache       CacheConfig       `toml:"cache"`       // Report cache settings
	RateLimit   RateLimitConfig   `toml:"rate_limit"`  // Per-caller allowance defaults
	Briefing    BriefingConfig    `toml:"briefing"`    // Briefing generator settings
	Alerts      AlertsConfig      `toml:"alerts"`      // Alert channel credentials
	Maintenance MaintenanceConfig `toml:"maintenance"` // Sweep and probe cadence
	Physics     PhysicsConfig     `toml:"physics"`     // Crosswind computation options
	Settings    SettingsConfig    `toml:"settings"`    // Runtime settings reload behaviour
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port               int      `toml:"port"`                  // HTTP port for the server
	Host               string   `toml:"host"`                  // Host address to bind to (0.0.0.0 for all interfaces)
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`  // Origins allowed for CORS requests (["*"] for all)
	ReadTimeoutSecs    int      `toml:"read_timeout_seconds"`  // Maximum duration for reading the entire request
	WriteTimeoutSecs   int      `toml:"write_timeout_seconds"` // Maximum duration for writing the response
	IdleTimeoutSecs    int      `toml:"idle_timeout_seconds"`  // Keep-alive idle timeout
	StaticFilesDir     string   `toml:"static_files_dir"`      // Directory holding the built SPA (empty disables it)
}

// LoggingConfig contains application logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", or "error"
	Format string `toml:"format"` // Log format: "json" (structured) or "console" (human-readable)
	File   string `toml:"file"`   // Optional rotating log file path
}

// StorageConfig contains data persistence configuration
type StorageConfig struct {
	SQLitePath       string `toml:"sqlite_path"`        // SQLite database file for logs, cache, settings and rules
	CacheBackend     string `toml:"cache_backend"`      // "sqlite" or "redis"
	RateLimitBackend string `toml:"rate_limit_backend"` // "redis" or "memory"
	RedisURL         string `toml:"redis_url"`          // redis://host:port/db, REDIS_URL overrides
}

// AirportsConfig contains airport directory sources
type AirportsConfig struct {
	AirportsDBPath string `toml:"airports_db_path"` // OurAirports airports.csv
	RunwaysDBPath  string `toml:"runways_db_path"`  // OurAirports runways.csv (optional)
}

// WeatherConfig contains upstream weather provider settings
type WeatherConfig struct {
	APIBaseURL            string  `toml:"api_base_url"`            // AviationWeather data API base (metar, station)
	NOTAMSearchURL        string  `toml:"notam_search_url"`        // FAA NOTAM search endpoint
	RequestTimeoutSeconds int     `toml:"request_timeout_seconds"` // HTTP request timeout in seconds
	MaxRetries            int     `toml:"max_retries"`             // Retries after the first attempt
	UpstreamRPS           float64 `toml:"upstream_rps"`            // Outbound requests per second per upstream
	UpstreamBurst         int     `toml:"upstream_burst"`          // Outbound burst per upstream
}

// FallbackConfig contains nearest-station search settings
type FallbackConfig struct {
	RadiusNM       float64 `toml:"radius_nm"`       // Candidate search radius
	CandidateLimit int     `toml:"candidate_limit"` // Maximum candidates fetched in one batch
}

// CacheConfig contains report cache settings
type CacheConfig struct {
	DefaultTTLMinutes int `toml:"default_ttl_minutes"` // Freshness of entries without valid_until
}

// RateLimitConfig contains rate limiting defaults, runtime settings override the allowance
type RateLimitConfig struct {
	Calls         int      `toml:"calls"`          // Requests allowed per period
	PeriodSeconds int      `toml:"period_seconds"` // Window length
	ExemptCIDRs   []string `toml:"exempt_cidrs"`   // Networks that are never limited
	KioskKeys     []string `toml:"kiosk_keys"`     // Keys that authorize forced refresh
}

// BriefingConfig contains generator settings
type BriefingConfig struct {
	Provider       string  `toml:"provider"`        // "gemini", "openai" or "none"
	Model          string  `toml:"model"`           // Default model, runtime setting ai_model overrides
	APIKey         string  `toml:"api_key"`         // Provider key, GEMINI_API_KEY/OPENAI_API_KEY override
	BaseURL        string  `toml:"base_url"`        // OpenAI-compatible base URL
	TimeoutSeconds int     `toml:"timeout_seconds"` // Generation timeout
	SameAirportNM  float64 `toml:"same_airport_nm"` // Distance below which the weather source counts as the target
	MaxNOTAMs      int     `toml:"max_notams"`      // NOTAMs included in the prompt
}

// AlertsConfig contains alert channel settings
type AlertsConfig struct {
	SMTPHost          string `toml:"smtp_host"`
	SMTPPort          int    `toml:"smtp_port"`
	SMTPUser          string `toml:"smtp_user"`
	SMTPPass          string `toml:"smtp_pass"` // SMTP_PASS overrides
	FromEmail         string `toml:"from_email"`
	AdminEmail        string `toml:"admin_email"`
	DiscordWebhookURL string `toml:"discord_webhook_url"`
	SlackWebhookURL   string `toml:"slack_webhook_url"`
}

// MaintenanceConfig contains background task cadence
type MaintenanceConfig struct {
	SweepIntervalMinutes int    `toml:"sweep_interval_minutes"` // Expired cache and old log purge cadence
	LogRetentionDays     int    `toml:"log_retention_days"`     // Log rows older than this are deleted
	ProbeIntervalMinutes int    `toml:"probe_interval_minutes"` // Upstream health probe cadence (0 disables)
	ProbeStation         string `toml:"probe_station"`          // Station used by the weather probe
}

// PhysicsConfig contains crosswind options
type PhysicsConfig struct {
	ApplyMagneticVariation bool `toml:"apply_magnetic_variation"` // Convert true METAR wind to magnetic before runway comparison
}

// SettingsConfig contains runtime settings cache behaviour
type SettingsConfig struct {
	RefreshSeconds int `toml:"refresh_seconds"` // How long a settings read stays cached
}

// Load loads the configuration from the specified file path
func Load(path string) (*Config, error) {
	var config Config

	// Check if the file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	config.applyEnv()
	return &config, nil
}

// applyEnv lets secrets live outside the config file
func (c *Config) applyEnv() {
	if c.Briefing.APIKey == "" {
		switch c.Briefing.Provider {
		case "gemini":
			c.Briefing.APIKey = os.Getenv("GEMINI_API_KEY")
		case "openai":
			c.Briefing.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Storage.RedisURL = v
	}
	if v := os.Getenv("SMTP_PASS"); v != "" {
		c.Alerts.SMTPPass = v
	}
}

// LoadWithFallback loads the configuration by checking multiple locations in order of preference
func LoadWithFallback(preferredPath string) (*Config, error) {
	searchPaths := []string{
		preferredPath,         // User-specified path (if provided)
		"configs/config.toml", // configs/ folder
		"config.toml",         // Root directory
	}

	// Remove duplicates while preserving order
	uniquePaths := make([]string, 0, len(searchPaths))
	seen := make(map[string]bool)
	for _, path := range searchPaths {
		if path != "" && !seen[path] {
			uniquePaths = append(uniquePaths, path)
			seen[path] = true
		}
	}

	var lastErr error
	for _, path := range uniquePaths {
		if _, err := os.Stat(path); err == nil {
			config, err := Load(path)
			if err != nil {
				lastErr = fmt.Errorf("failed to load config from %s: %w", path, err)
				continue
			}
			return config, nil
		}
		lastErr = fmt.Errorf("config file not found: %s", path)
	}

	return nil, fmt.Errorf("config file not found in any of the expected locations: %v. Last error: %w", uniquePaths, lastErr)
}

// Validate fills defaults and validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeoutSecs == 0 {
		c.Server.ReadTimeoutSecs = 15
	}
	if c.Server.WriteTimeoutSecs == 0 {
		c.Server.WriteTimeoutSecs = 90 // generation can take a while
	}
	if c.Server.IdleTimeoutSecs == 0 {
		c.Server.IdleTimeoutSecs = 60
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	if err := c.ValidateStorage(); err != nil {
		return err
	}
	if err := c.ValidateWeather(); err != nil {
		return err
	}
	if err := c.ValidateRateLimit(); err != nil {
		return err
	}
	if err := c.ValidateBriefing(); err != nil {
		return err
	}

	if c.Airports.AirportsDBPath == "" {
		return fmt.Errorf("airports airports_db_path is required")
	}

	if c.Fallback.RadiusNM == 0 {
		c.Fallback.RadiusNM = 50
	}
	if c.Fallback.RadiusNM < 0 {
		return fmt.Errorf("fallback radius_nm must be positive: %f", c.Fallback.RadiusNM)
	}
	if c.Fallback.CandidateLimit == 0 {
		c.Fallback.CandidateLimit = 10
	}
	if c.Fallback.CandidateLimit < 0 {
		return fmt.Errorf("fallback candidate_limit must be positive: %d", c.Fallback.CandidateLimit)
	}

	if c.Cache.DefaultTTLMinutes == 0 {
		c.Cache.DefaultTTLMinutes = 30
	}
	if c.Cache.DefaultTTLMinutes < 0 {
		return fmt.Errorf("cache default_ttl_minutes must be positive: %d", c.Cache.DefaultTTLMinutes)
	}

	if c.Maintenance.SweepIntervalMinutes == 0 {
		c.Maintenance.SweepIntervalMinutes = 60
	}
	if c.Maintenance.LogRetentionDays == 0 {
		c.Maintenance.LogRetentionDays = 90
	}
	if c.Maintenance.ProbeStation == "" {
		c.Maintenance.ProbeStation = "KJFK"
	}
	if c.Maintenance.SweepIntervalMinutes < 0 || c.Maintenance.LogRetentionDays < 0 || c.Maintenance.ProbeIntervalMinutes < 0 {
		return fmt.Errorf("maintenance intervals must not be negative")
	}

	if c.Settings.RefreshSeconds == 0 {
		c.Settings.RefreshSeconds = 30
	}

	if c.Alerts.SMTPPort == 0 {
		c.Alerts.SMTPPort = 587
	}

	return nil
}

// ValidateStorage validates the storage configuration
func (c *Config) ValidateStorage() error {
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "data/wxdecoder.db"
	}
	if c.Storage.CacheBackend == "" {
		c.Storage.CacheBackend = "sqlite"
	}
	if c.Storage.RateLimitBackend == "" {
		c.Storage.RateLimitBackend = "memory"
	}

	switch c.Storage.CacheBackend {
	case "sqlite", "redis":
	default:
		return fmt.Errorf("storage cache_backend must be sqlite or redis: %s", c.Storage.CacheBackend)
	}
	switch c.Storage.RateLimitBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("storage rate_limit_backend must be memory or redis: %s", c.Storage.RateLimitBackend)
	}

	if (c.Storage.CacheBackend == "redis" || c.Storage.RateLimitBackend == "redis") && c.Storage.RedisURL == "" {
		return fmt.Errorf("storage redis_url is required when a redis backend is selected")
	}
	return nil
}

// ValidateWeather validates the weather configuration
func (c *Config) ValidateWeather() error {
	if c.Weather.APIBaseURL == "" {
		c.Weather.APIBaseURL = "https://aviationweather.gov/api/data"
	}
	if c.Weather.NOTAMSearchURL == "" {
		c.Weather.NOTAMSearchURL = "https://notams.aim.faa.gov/notamSearch/search"
	}
	if c.Weather.RequestTimeoutSeconds == 0 {
		c.Weather.RequestTimeoutSeconds = 10
	}
	if c.Weather.MaxRetries == 0 {
		c.Weather.MaxRetries = 2
	}
	if c.Weather.UpstreamRPS == 0 {
		c.Weather.UpstreamRPS = 5
	}
	if c.Weather.UpstreamBurst == 0 {
		c.Weather.UpstreamBurst = 10
	}

	if c.Weather.RequestTimeoutSeconds < 0 {
		return fmt.Errorf("wx request_timeout_seconds must be greater than 0: %d", c.Weather.RequestTimeoutSeconds)
	}
	if c.Weather.MaxRetries < 0 || c.Weather.MaxRetries > 5 {
		return fmt.Errorf("wx max_retries must be between 0 and 5: %d", c.Weather.MaxRetries)
	}
	if c.Weather.UpstreamRPS < 0 {
		return fmt.Errorf("wx upstream_rps must be positive: %f", c.Weather.UpstreamRPS)
	}
	return nil
}

// ValidateRateLimit validates the rate limit configuration
func (c *Config) ValidateRateLimit() error {
	if c.RateLimit.Calls == 0 {
		c.RateLimit.Calls = 5
	}
	if c.RateLimit.PeriodSeconds == 0 {
		c.RateLimit.PeriodSeconds = 300
	}
	if c.RateLimit.PeriodSeconds < 0 {
		return fmt.Errorf("rate_limit period_seconds must be positive: %d", c.RateLimit.PeriodSeconds)
	}
	if c.RateLimit.ExemptCIDRs == nil {
		c.RateLimit.ExemptCIDRs = []string{"127.0.0.0/8", "::1/128", "10.0.0.0/8"}
	}
	for _, cidr := range c.RateLimit.ExemptCIDRs {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("rate_limit exempt_cidrs: invalid network %q: %w", cidr, err)
		}
	}
	return nil
}

// ValidateBriefing validates the briefing generator configuration
func (c *Config) ValidateBriefing() error {
	c.Briefing.Provider = strings.ToLower(c.Briefing.Provider)
	if c.Briefing.Provider == "" {
		c.Briefing.Provider = "openai"
	}

	switch c.Briefing.Provider {
	case "openai":
		if c.Briefing.Model == "" {
			c.Briefing.Model = "gpt-4o-mini"
		}
	case "gemini":
		if c.Briefing.Model == "" {
			c.Briefing.Model = "gemini-2.5-flash"
		}
	case "none":
	default:
		return fmt.Errorf("briefing provider must be gemini, openai or none: %s", c.Briefing.Provider)
	}

	if c.Briefing.Provider != "none" && c.Briefing.APIKey == "" {
		fmt.Printf("WARN: No API key provided for briefing provider %s\n", c.Briefing.Provider)
	}

	if c.Briefing.TimeoutSeconds == 0 {
		c.Briefing.TimeoutSeconds = 60
	}
	if c.Briefing.SameAirportNM == 0 {
		c.Briefing.SameAirportNM = 2
	}
	if c.Briefing.SameAirportNM < 0 {
		return fmt.Errorf("briefing same_airport_nm must be positive: %f", c.Briefing.SameAirportNM)
	}
	if c.Briefing.MaxNOTAMs == 0 {
		c.Briefing.MaxNOTAMs = 50
	}
	return nil
}
