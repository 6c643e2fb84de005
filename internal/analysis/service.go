// Package analysis runs the briefing pipeline for one request: normalize the
// airport, consult the cache, admit the caller, gather weather and NOTAMs,
// fall back to a nearby station, compute crosswind, generate the briefing,
// decide cache freshness and record the attempt.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/wxdecoder/wxdecoder/internal/airports"
	"github.com/wxdecoder/wxdecoder/internal/airspace"
	"github.com/wxdecoder/wxdecoder/internal/alerts"
	"github.com/wxdecoder/wxdecoder/internal/briefing"
	"github.com/wxdecoder/wxdecoder/internal/cache"
	"github.com/wxdecoder/wxdecoder/internal/physics"
	"github.com/wxdecoder/wxdecoder/internal/ratelimit"
	"github.com/wxdecoder/wxdecoder/internal/settings"
	"github.com/wxdecoder/wxdecoder/internal/stations"
	"github.com/wxdecoder/wxdecoder/internal/storage/sqlite"
	"github.com/wxdecoder/wxdecoder/internal/weather"
	"github.com/wxdecoder/wxdecoder/pkg/logger"
)

// logTimeout bounds the deferred log write, which runs even when the request
// context is already cancelled
const logTimeout = 5 * time.Second

// Request is the body of POST /api/analyze
type Request struct {
	ICAO            string `json:"icao"`
	PlaneSize       string `json:"plane_size"`
	Force           bool   `json:"force,omitempty"`
	WeatherOverride string `json:"weather_override,omitempty"`
}

// Caller identifies who sent the request
type Caller struct {
	ClientID     string
	ForwardedFor string
	RemoteAddr   string
	KioskKey     string
}

// RawData is the unprocessed upstream text returned with a briefing
type RawData struct {
	METAR         string   `json:"metar"`
	TAF           string   `json:"taf"`
	NOTAMs        []string `json:"notams"`
	WeatherSource string   `json:"weather_source"`
	SourceDistNM  float64  `json:"weather_source_distance_nm,omitempty"`
}

// Response is the briefing payload, also the unit stored in the cache
type Response struct {
	AirportName string            `json:"airport_name"`
	Analysis    briefing.Analysis `json:"analysis"`
	RawData     RawData           `json:"raw_data"`
}

// Outcome is what Analyze hands back to the HTTP layer
type Outcome struct {
	RequestID string
	Status    string
	Body      json.RawMessage
}

// Directory resolves user input to an airport
type Directory interface {
	Normalize(ctx context.Context, raw string) (airports.Resolution, error)
}

// FallbackFinder finds a nearby reporting station
type FallbackFinder interface {
	FindFallbackNear(ctx context.Context, target *airports.Airport) (*stations.Fallback, bool, error)
}

// Admitter is the rate limiter
type Admitter interface {
	Admit(ctx context.Context, caller ratelimit.Caller) (ratelimit.Decision, error)
}

// SettingsSource yields the current runtime settings
type SettingsSource interface {
	Current(ctx context.Context) settings.Snapshot
}

// LogStore persists request logs
type LogStore interface {
	InsertLog(ctx context.Context, rec *sqlite.LogRecord) (int64, error)
}

// LogBroadcaster pushes completed logs to live subscribers
type LogBroadcaster interface {
	BroadcastLog(record any)
}

// Deps are the collaborators of the pipeline. Broadcaster and Alerts are optional.
type Deps struct {
	Directory   Directory
	Weather     weather.Fetcher
	NOTAMs      weather.NOTAMFetcher
	Fallback    FallbackFinder
	Cache       *cache.ReportCache
	Limiter     Admitter
	Airspace    *airspace.Checker
	Generator   briefing.Generator
	Settings    SettingsSource
	Logs        LogStore
	Broadcaster LogBroadcaster
	Alerts      alerts.Dispatcher
}

// Options tune the pipeline
type Options struct {
	KioskKeys              []string
	SameAirportNM          float64
	MaxNOTAMs              int
	ApplyMagneticVariation bool
	Now                    func() time.Time
}

// Service is the request orchestrator
type Service struct {
	deps   Deps
	opts   Options
	kiosk  map[string]bool
	now    func() time.Time
	logger *logger.Logger
}

// NewService creates the orchestrator
func NewService(deps Deps, opts Options, log *logger.Logger) *Service {
	if deps.Alerts == nil {
		deps.Alerts = alerts.Nop{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	kiosk := make(map[string]bool, len(opts.KioskKeys))
	for _, k := range opts.KioskKeys {
		if k = strings.TrimSpace(k); k != "" {
			kiosk[k] = true
		}
	}
	return &Service{
		deps:   deps,
		opts:   opts,
		kiosk:  kiosk,
		now:    now,
		logger: log.Named("analysis"),
	}
}

// Analyze runs the pipeline. A LogRecord is written on every exit path,
// including a panic, which is re-raised after the error alert is queued.
// Only airports.ErrNotFound and ratelimit.ErrRateLimited are returned as
// errors in normal operation; every other degradation still yields a briefing.
func (s *Service) Analyze(ctx context.Context, req Request, caller Caller) (out *Outcome, err error) {
	start := time.Now()
	category := physics.CategoryFor(req.PlaneSize)
	rlCaller := ratelimit.Caller{
		ClientID:     caller.ClientID,
		ForwardedFor: caller.ForwardedFor,
		RemoteAddr:   caller.RemoteAddr,
	}
	rec := &sqlite.LogRecord{
		RequestID:    uuid.NewString(),
		Timestamp:    s.now().UTC(),
		ClientID:     caller.ClientID,
		IPAddress:    rlCaller.IP(),
		InputICAO:    strings.ToUpper(strings.TrimSpace(req.ICAO)),
		PlaneProfile: string(category),
		Status:       sqlite.StatusFail,
	}

	defer func() {
		if r := recover(); r != nil {
			rec.Status = sqlite.StatusError
			rec.ErrorMessage = fmt.Sprint(r)
			s.finish(rec, start)
			s.raiseError(rec)
			panic(r)
		}
		if err != nil && !errors.Is(err, airports.ErrNotFound) && !errors.Is(err, ratelimit.ErrRateLimited) {
			rec.Status = sqlite.StatusError
			rec.ErrorMessage = err.Error()
			s.raiseError(rec)
		}
		s.finish(rec, start)
	}()

	out, err = s.run(ctx, req, caller, rlCaller, category, rec)
	if out != nil {
		out.RequestID = rec.RequestID
		out.Status = rec.Status
	}
	return out, err
}

func (s *Service) run(ctx context.Context, req Request, caller Caller, rlCaller ratelimit.Caller, category physics.Category, rec *sqlite.LogRecord) (*Outcome, error) {
	snap := s.deps.Settings.Current(ctx)
	profile := physics.ProfileFor(category, snap.CrosswindLimit(category))

	res, err := s.deps.Directory.Normalize(ctx, req.ICAO)
	if err != nil {
		rec.ResolvedICAO = res.Input
		rec.ErrorMessage = err.Error()
		return nil, err
	}
	code := res.Code
	rec.ResolvedICAO = res.DisplayCode()

	override := strings.ToUpper(strings.TrimSpace(req.WeatherOverride))
	if override == code {
		override = ""
	}
	key := cache.Key{Airport: code, Category: category, Override: override}
	force := req.Force && s.kiosk[strings.TrimSpace(caller.KioskKey)]
	if req.Force && !force {
		s.logger.Warn("Ignoring force without a valid kiosk key", logger.String("airport", code))
	}

	if !force {
		body, hit, err := s.deps.Cache.Lookup(ctx, key)
		if err != nil {
			s.logger.Warn("Cache lookup failed", logger.String("key", key.String()), logger.Error(err))
		}
		if hit {
			rec.Status = sqlite.StatusCacheHit
			annotateFromPayload(rec, body)
			return &Outcome{Body: body}, nil
		}
	}

	rlCaller.Exempt = force
	if _, err := s.deps.Limiter.Admit(ctx, rlCaller); err != nil {
		rec.Status = sqlite.StatusRateLimit
		rec.ErrorMessage = err.Error()
		s.deps.Alerts.Dispatch(alerts.EventRateLimit,
			"Rate Limit Hit: "+code,
			fmt.Sprintf("User %s (IP: %s) exceeded limits.", rlCaller.Identifier(), rec.IPAddress))
		return nil, err
	}

	target := res.Airport
	var warnings []string
	if target != nil && s.deps.Airspace != nil {
		warnings = airspace.Messages(s.deps.Airspace.Check(code, target.Lat, target.Lon))
	}

	station := code
	if override != "" {
		station = override
	}
	obs, notams := s.gather(ctx, station, code, rec)

	source := station
	var distance float64
	if !obs.HasMETAR() && target != nil && s.deps.Fallback != nil {
		t := time.Now()
		fb, ok, err := s.deps.Fallback.FindFallbackNear(ctx, target)
		rec.DurationAlt = time.Since(t).Seconds()
		if err != nil {
			s.logger.Warn("Fallback search failed", logger.String("airport", code), logger.Error(err))
		}
		if ok {
			s.logger.Info("Using nearby station",
				logger.String("airport", code),
				logger.String("station", fb.Station),
				logger.Float64("distance_nm", fb.DistanceNM))
			obs = fb.Observation
			source = fb.Station
			distance = fb.DistanceNM
		}
	}

	name := code
	if target != nil && target.Name != "" {
		name = target.Name
	}
	if notams == nil {
		notams = []string{}
	}

	if !obs.HasMETAR() {
		rec.ErrorMessage = "no weather data"
		resp := Response{
			AirportName: name,
			Analysis:    briefing.ApplyComputed(briefing.NoWeatherAnalysis(code), physics.Evaluate(nil, nil, profile.CrosswindLimit, 0), warnings, nil),
			RawData:     RawData{TAF: weather.NoTAF, NOTAMs: notams},
		}
		return s.encode(resp)
	}
	rec.WeatherICAO = source

	if source != code && !force {
		body, hit, err := s.deps.Cache.LookupLink(ctx, category, source)
		if err != nil {
			s.logger.Warn("Link cache lookup failed", logger.String("source", source), logger.Error(err))
		}
		if hit {
			if err := s.deps.Cache.Backfill(ctx, key, body); err != nil {
				s.logger.Warn("Cache backfill failed", logger.String("key", key.String()), logger.Error(err))
			}
			rec.Status = sqlite.StatusCacheHitLink
			annotateFromPayload(rec, body)
			return &Outcome{Body: body}, nil
		}
	}

	var runways []physics.Runway
	var declination float64
	if target != nil {
		runways = target.Runways
		if s.opts.ApplyMagneticVariation && !res.Remote {
			declination = physics.CalculateMagneticVariation(target.Lat, target.Lon, target.ElevationFt, s.now())
		}
	}
	xw := physics.Evaluate(weather.ParseWind(obs.METAR), runways, profile.CrosswindLimit, declination)
	da := densityAltitude(target, res.Remote, obs.METAR)

	facts := briefing.Facts{
		Code:              code,
		AirportName:       name,
		Profile:           profile,
		METAR:             obs.METAR,
		TAF:               obs.TAF,
		WeatherSource:     source,
		SourceDistanceNM:  distance,
		SameAirport:       briefing.IsSameAirport(code, source, distance, s.opts.SameAirportNM),
		NOTAMs:            capNOTAMs(notams, s.opts.MaxNOTAMs),
		AirspaceWarnings:  warnings,
		Crosswind:         xw,
		DensityAltitudeFt: da,
		Model:             snap.AIModel,
	}

	t := time.Now()
	result := briefing.Generate(ctx, s.deps.Generator, facts)
	rec.DurationAI = time.Since(t).Seconds()
	rec.ModelUsed = result.Usage.Model
	rec.TokensUsed = result.Usage.Tokens

	resp := Response{
		AirportName: name,
		Analysis:    briefing.ApplyComputed(result.Analysis, xw, warnings, da),
		RawData: RawData{
			METAR:         obs.METAR,
			TAF:           obs.TAF,
			NOTAMs:        notams,
			WeatherSource: source,
			SourceDistNM:  distance,
		},
	}

	if result.Fallback {
		rec.ErrorMessage = result.Err.Error()
		s.logger.Warn("Briefing generation failed", logger.String("airport", code), logger.Error(result.Err))
		return s.encode(resp)
	}
	rec.Status = sqlite.StatusSuccess

	ttl, ok := cache.DecideTTL(s.now(), obs.METAR)
	if !ok {
		s.logger.Debug("Observation too old to cache", logger.String("airport", code))
		return s.encode(resp)
	}
	body, until, err := s.deps.Cache.Store(ctx, key, resp, ttl)
	if err != nil {
		s.logger.Warn("Cache store failed", logger.String("key", key.String()), logger.Error(err))
		return s.encode(resp)
	}
	rec.Expiration = &until
	if source != code {
		if err := s.deps.Cache.Backfill(ctx, cache.LinkKey(category, source), body); err != nil {
			s.logger.Warn("Link cache store failed", logger.String("source", source), logger.Error(err))
		}
	}
	return &Outcome{Body: body}, nil
}

// gather fetches the METAR/TAF for station and the NOTAMs for code concurrently.
// Failures degrade to empty results.
func (s *Service) gather(ctx context.Context, station, code string, rec *sqlite.LogRecord) (*weather.Observation, []string) {
	var (
		obs    *weather.Observation
		notams []string
		wxDur  time.Duration
		ntDur  time.Duration
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t := time.Now()
		o, err := s.deps.Weather.FetchWeather(gctx, station)
		wxDur = time.Since(t)
		if err != nil {
			s.logger.Warn("Weather fetch failed", logger.String("station", station), logger.Error(err))
			return nil
		}
		obs = o
		return nil
	})
	if s.deps.NOTAMs != nil {
		g.Go(func() error {
			t := time.Now()
			notams = s.deps.NOTAMs.FetchNOTAMs(gctx, code)
			ntDur = time.Since(t)
			return nil
		})
	}
	_ = g.Wait()

	rec.DurationWx = wxDur.Seconds()
	rec.DurationNOTAMs = ntDur.Seconds()
	return obs, notams
}

func (s *Service) encode(resp Response) (*Outcome, error) {
	body, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to encode briefing: %w", err)
	}
	return &Outcome{Body: body}, nil
}

// finish writes the log record and publishes it
func (s *Service) finish(rec *sqlite.LogRecord, start time.Time) {
	rec.DurationSeconds = time.Since(start).Seconds()

	ctx, cancel := context.WithTimeout(context.Background(), logTimeout)
	defer cancel()
	if s.deps.Logs != nil {
		if _, err := s.deps.Logs.InsertLog(ctx, rec); err != nil {
			s.logger.Error("Failed to write request log",
				logger.String("request_id", rec.RequestID),
				logger.Error(err))
		}
	}
	if s.deps.Broadcaster != nil {
		s.deps.Broadcaster.BroadcastLog(rec)
	}

	s.logger.Info("Analysis finished",
		logger.String("request_id", rec.RequestID),
		logger.String("input", rec.InputICAO),
		logger.String("resolved", rec.ResolvedICAO),
		logger.String("status", rec.Status),
		logger.String("weather_source", rec.WeatherICAO),
		logger.Float64("duration_s", rec.DurationSeconds),
		logger.Float64("wx_s", rec.DurationWx),
		logger.Float64("notams_s", rec.DurationNOTAMs),
		logger.Float64("alt_s", rec.DurationAlt),
		logger.Float64("ai_s", rec.DurationAI))
}

func (s *Service) raiseError(rec *sqlite.LogRecord) {
	s.deps.Alerts.Dispatch(alerts.EventError,
		"System Error: "+rec.InputICAO,
		fmt.Sprintf("Request %s failed: %s", rec.RequestID, rec.ErrorMessage))
}

// annotateFromPayload copies the weather source and expiry of a cached
// payload into the log record
func annotateFromPayload(rec *sqlite.LogRecord, body []byte) {
	var p struct {
		RawData struct {
			WeatherSource string `json:"weather_source"`
		} `json:"raw_data"`
	}
	if json.Unmarshal(body, &p) == nil {
		rec.WeatherICAO = p.RawData.WeatherSource
	}
	if until, ok := cache.ValidUntil(body); ok {
		rec.Expiration = &until
	}
}

// densityAltitude needs a known field elevation, so remote airports are skipped
func densityAltitude(target *airports.Airport, remote bool, metar string) *float64 {
	if target == nil || remote {
		return nil
	}
	temp, ok := weather.ParseTemperature(metar)
	if !ok {
		return nil
	}
	altim, ok := weather.ParseAltimeter(metar)
	if !ok {
		return nil
	}
	da := physics.CalculateDensityAltitude(physics.PressureAltitude(target.ElevationFt, altim), temp)
	return &da
}

func capNOTAMs(notams []string, max int) []string {
	if max > 0 && len(notams) > max {
		return notams[:max]
	}
	return notams
}
