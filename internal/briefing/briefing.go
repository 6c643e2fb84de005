// Package briefing turns resolved weather facts into a structured go/no-go briefing.
package briefing

import (
	"context"
	"errors"
	"fmt"

	"github.com/wxdecoder/wxdecoder/internal/physics"
)

// ErrGeneration is returned when the generator failed or produced unusable output
var ErrGeneration = errors.New("briefing generation failed")

// Placeholder fills display fields the generator could not provide
const Placeholder = "--"

// Flight categories and wind risk grades
const (
	CategoryUnknown = "UNK"

	RiskLow      = "LOW"
	RiskModerate = "MODERATE"
	RiskHigh     = "HIGH"
	RiskUnknown  = "UNKNOWN"
)

// Facts is everything the generator is told about a request
type Facts struct {
	Code              string
	AirportName       string
	Profile           physics.Profile
	METAR             string
	TAF               string
	WeatherSource     string
	SourceDistanceNM  float64
	SameAirport       bool
	NOTAMs            []string
	AirspaceWarnings  []string
	Crosswind         physics.CrosswindResult
	DensityAltitudeFt *float64
	Model             string
}

// Timeline is the forecast outlook
type Timeline struct {
	T06 string `json:"t_06"`
	T12 string `json:"t_12"`
	T24 string `json:"t_24"`
}

// Bubbles are short display strings
type Bubbles struct {
	Wind       string `json:"wind"`
	Visibility string `json:"visibility"`
	Ceiling    string `json:"ceiling"`
	Temp       string `json:"temp"`
}

// Analysis is the validated briefing body
type Analysis struct {
	FlightCategory    string                   `json:"flight_category"`
	WindRisk          string                   `json:"wind_risk"`
	ExecutiveSummary  string                   `json:"executive_summary"`
	Timeline          Timeline                 `json:"timeline"`
	Bubbles           Bubbles                  `json:"bubbles"`
	AirspaceWarnings  []string                 `json:"airspace_warnings"`
	CriticalNOTAMs    []string                 `json:"critical_notams"`
	Crosswind         *physics.CrosswindResult `json:"crosswind,omitempty"`
	DensityAltitudeFt *float64                 `json:"density_altitude_ft,omitempty"`
}

// Usage is generation metadata for the logs
type Usage struct {
	Model  string `json:"model"`
	Tokens int    `json:"tokens"`
}

// Result is what a generator returns
type Result struct {
	Analysis Analysis
	Usage    Usage
	// Fallback is set when Analysis is the error-shaped placeholder
	Fallback bool
	Err      error
}

// Generator produces briefings
type Generator interface {
	Generate(ctx context.Context, facts Facts) (*Result, error)
	Name() string
}

// FallbackAnalysis is returned in place of a briefing when generation fails
func FallbackAnalysis(err error) Analysis {
	return Analysis{
		FlightCategory:   CategoryUnknown,
		WindRisk:         RiskLow,
		ExecutiveSummary: fmt.Sprintf("AI Parsing Error: %v", err),
		Timeline:         Timeline{T06: Placeholder, T12: Placeholder, T24: Placeholder},
		Bubbles:          Bubbles{Wind: Placeholder, Visibility: Placeholder, Ceiling: Placeholder, Temp: Placeholder},
		AirspaceWarnings: []string{},
		CriticalNOTAMs:   []string{},
	}
}

// NoWeatherAnalysis is the degraded briefing used when neither the target
// nor any nearby station reported weather
func NoWeatherAnalysis(code string) Analysis {
	a := FallbackAnalysis(nil)
	a.WindRisk = RiskUnknown
	a.ExecutiveSummary = fmt.Sprintf("No weather data found for %s or any station within range. Obtain a briefing from an official source before flight.", code)
	return a
}

// Generate runs gen and never fails: errors produce the fallback payload
func Generate(ctx context.Context, gen Generator, facts Facts) *Result {
	res, err := gen.Generate(ctx, facts)
	if err == nil && res != nil {
		return res
	}
	if err == nil {
		err = fmt.Errorf("%w: empty result", ErrGeneration)
	}
	if !errors.Is(err, ErrGeneration) {
		err = fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	return &Result{
		Analysis: FallbackAnalysis(err),
		Usage:    Usage{Model: facts.Model},
		Fallback: true,
		Err:      err,
	}
}

// RiskFor maps a crosswind status to the wind risk grade
func RiskFor(s physics.Status) string {
	switch s {
	case physics.StatusExceedsProfile:
		return RiskHigh
	case physics.StatusNearLimits:
		return RiskModerate
	case physics.StatusWithinLimits:
		return RiskLow
	}
	return RiskUnknown
}

// ApplyComputed overrides the generator's wind numbers with the locally
// computed crosswind and guarantees the detected airspace warnings are present.
// a is not modified.
func ApplyComputed(a Analysis, xw physics.CrosswindResult, airspace []string, densityAltFt *float64) Analysis {
	out := a
	computed := xw
	out.Crosswind = &computed

	if xw.Status != physics.StatusUnknown {
		out.WindRisk = RiskFor(xw.Status)
	} else if out.WindRisk == "" {
		out.WindRisk = RiskUnknown
	}

	seen := make(map[string]bool, len(a.AirspaceWarnings)+len(airspace))
	merged := make([]string, 0, len(a.AirspaceWarnings)+len(airspace))
	for _, w := range airspace {
		if !seen[w] {
			seen[w] = true
			merged = append(merged, w)
		}
	}
	for _, w := range a.AirspaceWarnings {
		if !seen[w] {
			seen[w] = true
			merged = append(merged, w)
		}
	}
	out.AirspaceWarnings = merged

	if out.CriticalNOTAMs == nil {
		out.CriticalNOTAMs = []string{}
	}
	if densityAltFt != nil {
		v := *densityAltFt
		out.DensityAltitudeFt = &v
	}
	return out
}
