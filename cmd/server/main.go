package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wxdecoder/wxdecoder/internal/ai/gemini"
	"github.com/wxdecoder/wxdecoder/internal/ai/openai"
	"github.com/wxdecoder/wxdecoder/internal/airports"
	"github.com/wxdecoder/wxdecoder/internal/airspace"
	"github.com/wxdecoder/wxdecoder/internal/alerts"
	"github.com/wxdecoder/wxdecoder/internal/analysis"
	"github.com/wxdecoder/wxdecoder/internal/api"
	"github.com/wxdecoder/wxdecoder/internal/briefing"
	"github.com/wxdecoder/wxdecoder/internal/cache"
	"github.com/wxdecoder/wxdecoder/internal/config"
	"github.com/wxdecoder/wxdecoder/internal/maintenance"
	"github.com/wxdecoder/wxdecoder/internal/ratelimit"
	"github.com/wxdecoder/wxdecoder/internal/settings"
	"github.com/wxdecoder/wxdecoder/internal/stations"
	"github.com/wxdecoder/wxdecoder/internal/storage/sqlite"
	"github.com/wxdecoder/wxdecoder/internal/weather"
	"github.com/wxdecoder/wxdecoder/internal/websocket"
	"github.com/wxdecoder/wxdecoder/pkg/logger"
)

var (
	// Version is injected at build time
	Version = "dev"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file (optional - will search in configs/ and root directory)")
	flag.Parse()

	// Load configuration with fallback logic
	cfg, err := config.LoadWithFallback(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Create logger
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting WxDecoder server",
		logger.String("version", Version),
		logger.String("config_path", *configPath),
	)

	if err := run(cfg, log); err != nil {
		log.Error("Server failed", logger.Error(err))
		log.Sync()
		os.Exit(1)
	}
	log.Info("Server fully stopped")
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Airport directory and upstream clients
	dir, err := airports.Load(cfg.Airports.AirportsDBPath, cfg.Airports.RunwaysDBPath, log)
	if err != nil {
		return fmt.Errorf("failed to load airport directory: %w", err)
	}
	wxClient := weather.NewClient(cfg.Weather, log)
	dir.SetRemoteLookup(wxClient)
	notamClient := weather.NewNOTAMClient(cfg.Weather, log)

	// Persistence
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0o755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := sqlite.Open(cfg.Storage.SQLitePath, log)
	if err != nil {
		return err
	}
	defer db.Close()
	logStore := sqlite.NewLogStorage(db, log)
	cacheStore := sqlite.NewCacheStorage(db, log)
	settingsStore := sqlite.NewSettingsStorage(db, log)

	var redisClient *redis.Client
	if cfg.Storage.CacheBackend == "redis" || cfg.Storage.RateLimitBackend == "redis" {
		redisClient, err = cache.NewRedisClient(cfg.Storage.RedisURL)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			// Operations fail open, so a missing Redis is survivable
			log.Warn("Redis is unreachable at startup", logger.Error(err))
		}
		pingCancel()
	}

	// Runtime settings
	settingsSvc := settings.NewService(settingsStore, settings.Defaults{
		RateLimitCalls:  cfg.RateLimit.Calls,
		RateLimitPeriod: time.Duration(cfg.RateLimit.PeriodSeconds) * time.Second,
		AIModel:         cfg.Briefing.Model,
		DefaultCacheTTL: time.Duration(cfg.Cache.DefaultTTLMinutes) * time.Minute,
	}, time.Duration(cfg.Settings.RefreshSeconds)*time.Second, log)
	defaultTTL := func() time.Duration { return settingsSvc.Current(ctx).DefaultCacheTTL }

	// Report cache
	var backend cache.Backend = cacheStore
	if cfg.Storage.CacheBackend == "redis" {
		backend = cache.NewRedisBackend(redisClient)
	}
	reportCache := cache.New(backend, log, cache.WithDefaultTTL(defaultTTL))
	log.Info("Report cache ready", logger.String("backend", cfg.Storage.CacheBackend))

	// Rate limiter
	var counter ratelimit.Counter = ratelimit.NewMemoryCounter(time.Now)
	if cfg.Storage.RateLimitBackend == "redis" {
		counter = ratelimit.NewRedisCounter(redisClient)
	}
	limiter, err := ratelimit.New(counter, cfg.RateLimit.ExemptCIDRs, func() ratelimit.Allowance {
		snap := settingsSvc.Current(ctx)
		return ratelimit.Allowance{Calls: snap.RateLimitCalls, Period: snap.RateLimitPeriod}
	}, log)
	if err != nil {
		return err
	}

	generator, err := newGenerator(ctx, cfg.Briefing, log)
	if err != nil {
		return err
	}
	log.Info("Briefing generator ready", logger.String("provider", generator.Name()))

	notifier := alerts.NewNotifier(settingsStore, cfg.Alerts, log)
	defer notifier.Wait()

	// Live log feed
	wsServer := websocket.NewServer(log)
	go wsServer.Run()
	defer wsServer.Stop()

	analyzer := analysis.NewService(analysis.Deps{
		Directory:   dir,
		Weather:     wxClient,
		NOTAMs:      notamClient,
		Fallback:    stations.NewResolver(dir, wxClient, cfg.Fallback, log),
		Cache:       reportCache,
		Limiter:     limiter,
		Airspace:    airspace.NewChecker(nil),
		Generator:   generator,
		Settings:    settingsSvc,
		Logs:        logStore,
		Broadcaster: wsServer,
		Alerts:      notifier,
	}, analysis.Options{
		KioskKeys:              cfg.RateLimit.KioskKeys,
		SameAirportNM:          cfg.Briefing.SameAirportNM,
		MaxNOTAMs:              cfg.Briefing.MaxNOTAMs,
		ApplyMagneticVariation: cfg.Physics.ApplyMagneticVariation,
	}, log)

	maint := maintenance.NewService(cfg.Maintenance, cacheStore, logStore, wxClient, notifier, defaultTTL, log)
	if err := maint.Start(); err != nil {
		return err
	}
	defer maint.Stop()

	// Create API router
	handler := api.NewHandler(analyzer, settingsSvc, wxClient, Version, log)
	router := api.NewRouter(handler, wsServer, cfg.Server, log)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router.Routes(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSecs) * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	}

	log.Info("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", logger.Error(err))
	} else {
		log.Info("HTTP server shutdown complete")
	}
	return nil
}

func newGenerator(ctx context.Context, cfg config.BriefingConfig, log *logger.Logger) (briefing.Generator, error) {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	switch cfg.Provider {
	case "gemini":
		client, err := gemini.NewClient(ctx, cfg.APIKey, cfg.BaseURL, timeout, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini client: %w", err)
		}
		return briefing.NewLLMGenerator(client, cfg.Model, log), nil
	case "openai":
		return briefing.NewLLMGenerator(openai.NewClient(cfg.APIKey, log, cfg.BaseURL, timeout), cfg.Model, log), nil
	case "none":
		return briefing.LocalGenerator{}, nil
	}
	return nil, fmt.Errorf("unknown briefing provider %q", cfg.Provider)
}
