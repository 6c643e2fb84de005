// Package maintenance runs the periodic housekeeping jobs: purging expired
// cache rows and old request logs, and probing the weather upstream.
package maintenance

import (
	"context"
	"sync"
	"time"

	"github.com/wxdecoder/wxdecoder/internal/alerts"
	"github.com/wxdecoder/wxdecoder/internal/config"
	"github.com/wxdecoder/wxdecoder/pkg/logger"
)

// Outage alert text
const (
	OutageSubject = "FAA API Down"
	OutageBody    = "The AviationWeather API is failing to respond."
)

// CachePurger deletes expired cache rows. Rows without an expiry are removed
// once older than legacyMaxAge.
type CachePurger interface {
	DeleteExpired(ctx context.Context, now time.Time, legacyMaxAge time.Duration) (int64, error)
}

// LogPurger deletes request logs older than cutoff
type LogPurger interface {
	DeleteLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Prober checks that the weather upstream answers for station
type Prober interface {
	Probe(ctx context.Context, station string) error
}

// SweepResult reports one sweep
type SweepResult struct {
	CacheRows int64
	LogRows   int64
}

// Service owns the sweep and probe loops
type Service struct {
	cfg          config.MaintenanceConfig
	cache        CachePurger
	logs         LogPurger
	prober       Prober
	alerts       alerts.Dispatcher
	legacyMaxAge func() time.Duration
	now          func() time.Time
	logger       *logger.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex

	// probeFailing suppresses repeat outage alerts until a probe succeeds
	probeMu      sync.Mutex
	probeFailing bool
}

// NewService creates the maintenance service. prober may be nil to disable probing.
// legacyMaxAge is read on every sweep so the runtime cache TTL setting applies.
func NewService(cfg config.MaintenanceConfig, cache CachePurger, logs LogPurger, prober Prober, dispatcher alerts.Dispatcher, legacyMaxAge func() time.Duration, log *logger.Logger) *Service {
	if dispatcher == nil {
		dispatcher = alerts.Nop{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		cfg:          cfg,
		cache:        cache,
		logs:         logs,
		prober:       prober,
		alerts:       dispatcher,
		legacyMaxAge: legacyMaxAge,
		now:          time.Now,
		logger:       log.Named("maintenance"),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start launches the background loops
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.logger.Info("Starting maintenance service",
		logger.Int("sweep_interval_minutes", s.cfg.SweepIntervalMinutes),
		logger.Int("log_retention_days", s.cfg.LogRetentionDays),
		logger.Int("probe_interval_minutes", s.cfg.ProbeIntervalMinutes))

	if s.cfg.SweepIntervalMinutes > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.loop("sweep", time.Duration(s.cfg.SweepIntervalMinutes)*time.Minute, func(ctx context.Context) { s.Sweep(ctx) })
		}()
	}

	if s.prober != nil && s.cfg.ProbeIntervalMinutes > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.loop("probe", time.Duration(s.cfg.ProbeIntervalMinutes)*time.Minute, func(ctx context.Context) { s.Probe(ctx) })
		}()
	}

	s.started = true
	return nil
}

// Stop cancels the loops and waits for them
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	s.logger.Info("Stopping maintenance service")
	s.cancel()
	s.wg.Wait()
	s.started = false
	s.logger.Info("Maintenance service stopped")
	return nil
}

func (s *Service) loop(name string, interval time.Duration, job func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.runJob(s.ctx, name, job)
		}
	}
}

// runJob runs one job iteration. A panic is logged and the loop keeps going.
func (s *Service) runJob(ctx context.Context, name string, job func(context.Context)) (recovered bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Maintenance job panicked",
				logger.String("job", name),
				logger.Any("panic", r))
			recovered = true
		}
	}()
	job(ctx)
	return false
}

// Sweep purges expired cache rows and logs past the retention window.
// Failures are logged and swallowed.
func (s *Service) Sweep(ctx context.Context) SweepResult {
	var res SweepResult
	now := s.now().UTC()

	if s.cache != nil {
		maxAge := 30 * time.Minute
		if s.legacyMaxAge != nil {
			maxAge = s.legacyMaxAge()
		}
		n, err := s.cache.DeleteExpired(ctx, now, maxAge)
		if err != nil {
			s.logger.Error("Cache purge failed", logger.Error(err))
		} else {
			res.CacheRows = n
		}
	}

	if s.logs != nil && s.cfg.LogRetentionDays > 0 {
		cutoff := now.AddDate(0, 0, -s.cfg.LogRetentionDays)
		n, err := s.logs.DeleteLogsBefore(ctx, cutoff)
		if err != nil {
			s.logger.Error("Log purge failed", logger.Error(err))
		} else {
			res.LogRows = n
		}
	}

	s.logger.Info("Maintenance sweep complete",
		logger.Int64("cache_rows_deleted", res.CacheRows),
		logger.Int64("log_rows_deleted", res.LogRows))
	return res
}

// Probe checks the weather upstream and raises api_outage on the first
// failure of a streak. It reports whether the upstream answered.
func (s *Service) Probe(ctx context.Context) bool {
	if s.prober == nil {
		return true
	}
	err := s.prober.Probe(ctx, s.cfg.ProbeStation)

	s.probeMu.Lock()
	wasFailing := s.probeFailing
	s.probeFailing = err != nil
	s.probeMu.Unlock()

	if err != nil {
		s.logger.Warn("Weather upstream probe failed",
			logger.String("station", s.cfg.ProbeStation),
			logger.Error(err))
		if !wasFailing {
			s.alerts.Dispatch(alerts.EventAPIOutage, OutageSubject, OutageBody)
		}
		return false
	}
	if wasFailing {
		s.logger.Info("Weather upstream recovered", logger.String("station", s.cfg.ProbeStation))
	}
	return true
}
