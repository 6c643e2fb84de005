// Package stations finds a nearby reporting station for airports without their own weather.
package stations

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/wxdecoder/wxdecoder/internal/airports"
	"github.com/wxdecoder/wxdecoder/internal/config"
	"github.com/wxdecoder/wxdecoder/internal/physics"
	"github.com/wxdecoder/wxdecoder/internal/weather"
	"github.com/wxdecoder/wxdecoder/pkg/logger"
)

// Candidate is a ranked nearby airport
type Candidate struct {
	Code       string
	Name       string
	DistanceNM float64
	Primary    bool
}

// Fallback is the chosen substitute weather source
type Fallback struct {
	Station     string               `json:"station"`
	Name        string               `json:"name"`
	DistanceNM  float64              `json:"distance_nm"`
	Observation *weather.Observation `json:"-"`
	Candidates  int                  `json:"candidates"`
}

// Resolver runs the nearest-station search
type Resolver struct {
	dir      *airports.Directory
	fetcher  weather.Fetcher
	radiusNM float64
	limit    int
	logger   *logger.Logger
}

// NewResolver creates a resolver over the directory's ICAO airports
func NewResolver(dir *airports.Directory, fetcher weather.Fetcher, cfg config.FallbackConfig, log *logger.Logger) *Resolver {
	return &Resolver{
		dir:      dir,
		fetcher:  fetcher,
		radiusNM: cfg.RadiusNM,
		limit:    cfg.CandidateLimit,
		logger:   log.Named("stations"),
	}
}

// Candidates ranks ICAO airports strictly within the radius of target: large and
// medium airports first, then the rest, each by ascending distance.
func (r *Resolver) Candidates(target *airports.Airport) []Candidate {
	var primary, secondary []Candidate
	targetCode := target.Code()

	for _, a := range r.dir.ICAOAirports() {
		if a.ICAO == targetCode || a.ICAO == target.ICAO {
			continue
		}
		dist := physics.HaversineNM(target.Lat, target.Lon, a.Lat, a.Lon)
		if dist >= r.radiusNM {
			continue
		}
		c := Candidate{Code: a.ICAO, Name: a.Name, DistanceNM: dist, Primary: a.IsPrimary()}
		if c.Primary {
			primary = append(primary, c)
		} else {
			secondary = append(secondary, c)
		}
	}

	byDistance := func(cs []Candidate) {
		sort.SliceStable(cs, func(i, j int) bool { return cs[i].DistanceNM < cs[j].DistanceNM })
	}
	byDistance(primary)
	byDistance(secondary)

	ranked := append(primary, secondary...)
	if r.limit > 0 && len(ranked) > r.limit {
		ranked = ranked[:r.limit]
	}
	return ranked
}

// FindFallback locates code and searches around it
func (r *Resolver) FindFallback(ctx context.Context, code string) (*Fallback, bool, error) {
	target, err := r.dir.Locate(ctx, code)
	if err != nil {
		return nil, false, err
	}
	return r.FindFallbackNear(ctx, target)
}

// FindFallbackNear fetches all candidates in one batch and picks the source.
// An empty candidate set is not an error.
func (r *Resolver) FindFallbackNear(ctx context.Context, target *airports.Airport) (*Fallback, bool, error) {
	start := time.Now()
	candidates := r.Candidates(target)
	if len(candidates) == 0 {
		r.logger.Info("No fallback candidates in range",
			logger.String("target", target.Code()),
			logger.Float64("radius_nm", r.radiusNM))
		return nil, false, nil
	}

	codes := make([]string, len(candidates))
	for i, c := range candidates {
		codes[i] = c.Code
	}

	observations, err := r.fetcher.FetchWeatherBatch(ctx, codes)
	if err != nil {
		return nil, false, fmt.Errorf("failed to fetch candidate weather: %w", err)
	}

	fb, ok := Choose(candidates, observations)
	if !ok {
		r.logger.Info("No candidate reported weather",
			logger.String("target", target.Code()),
			logger.Int("candidates", len(candidates)))
		return nil, false, nil
	}

	r.logger.Info("Resolved fallback weather source",
		logger.String("target", target.Code()),
		logger.String("station", fb.Station),
		logger.Float64("distance_nm", fb.DistanceNM),
		logger.Bool("has_taf", fb.Observation.HasUsableTAF()),
		logger.Duration("elapsed", time.Since(start)))
	return fb, true, nil
}

// Choose walks ranked candidates and returns the first with a METAR and a
// usable TAF, else the first with a METAR
func Choose(ranked []Candidate, observations map[string]*weather.Observation) (*Fallback, bool) {
	var firstMETAR *Candidate
	for i := range ranked {
		obs := observations[ranked[i].Code]
		if !obs.HasMETAR() {
			continue
		}
		if obs.HasUsableTAF() {
			return newFallback(ranked[i], obs, len(ranked)), true
		}
		if firstMETAR == nil {
			firstMETAR = &ranked[i]
		}
	}
	if firstMETAR == nil {
		return nil, false
	}
	return newFallback(*firstMETAR, observations[firstMETAR.Code], len(ranked)), true
}

func newFallback(c Candidate, obs *weather.Observation, n int) *Fallback {
	return &Fallback{
		Station:     c.Code,
		Name:        c.Name,
		DistanceNM:  c.DistanceNM,
		Observation: obs,
		Candidates:  n,
	}
}
