package physics

import (
	"fmt"
	"math"
	"strings"
)

// Status classifies a crosswind against an aircraft profile
type Status string

const (
	StatusWithinLimits   Status = "WITHIN_LIMITS"
	StatusNearLimits     Status = "NEAR_LIMITS"
	StatusExceedsProfile Status = "EXCEEDS_PROFILE"
	StatusUnknown        Status = "UNKNOWN"
)

// NearLimitMarginKts is the band below the limit reported as NEAR_LIMITS
const NearLimitMarginKts = 5

// Runway is one usable runway end
type Runway struct {
	Label   string  `json:"label"`
	Heading float64 `json:"heading"` // magnetic, degrees
}

// Wind is a surface wind observation
type Wind struct {
	Direction int  `json:"direction"` // degrees true, meaningless when Variable
	Variable  bool `json:"variable"`
	Speed     int  `json:"speed"` // sustained, knots
	Gust      int  `json:"gust"`  // 0 when none reported
}

// Peak returns the gust when present, else the sustained speed
func (w Wind) Peak() int {
	if w.Gust > w.Speed {
		return w.Gust
	}
	return w.Speed
}

// CrosswindResult is the deterministic runway and crosswind recommendation
type CrosswindResult struct {
	Runway        string  `json:"runway,omitempty"`
	RunwayHeading float64 `json:"runway_heading,omitempty"`
	Crosswind     int     `json:"crosswind_kts"`
	Headwind      int     `json:"headwind_kts"`
	Limit         int     `json:"limit_kts"`
	Status        Status  `json:"status"`
	Reason        string  `json:"reason,omitempty"`
}

// SelectRunway picks the runway end with the greatest headwind component.
// Ties keep the earlier runway.
func SelectRunway(runways []Runway, windDir, windSpeed float64) (Runway, bool) {
	if len(runways) == 0 {
		return Runway{}, false
	}
	best := runways[0]
	bestHW := Headwind(best.Heading, windDir, windSpeed)
	for _, rw := range runways[1:] {
		if hw := Headwind(rw.Heading, windDir, windSpeed); hw > bestHW {
			best, bestHW = rw, hw
		}
	}
	return best, true
}

// Classify grades a crosswind against a limit
func Classify(crosswind, limit int) Status {
	switch {
	case crosswind >= limit:
		return StatusExceedsProfile
	case crosswind >= limit-NearLimitMarginKts:
		return StatusNearLimits
	default:
		return StatusWithinLimits
	}
}

// Evaluate computes the recommendation for a wind, runway set and limit.
// declination (east positive) converts the true METAR wind to magnetic; pass 0 to skip.
func Evaluate(wind *Wind, runways []Runway, limit int, declination float64) CrosswindResult {
	res := CrosswindResult{Limit: limit, Status: StatusUnknown}

	if wind == nil {
		res.Reason = "no parseable surface wind in METAR"
		return res
	}
	if wind.Variable && wind.Speed > 0 {
		res.Reason = fmt.Sprintf("wind direction variable at %d kts, crosswind cannot be computed", wind.Peak())
		return res
	}

	dir := float64(wind.Direction)
	if declination != 0 {
		dir = TrueToMagnetic(dir, declination)
	}

	rw, ok := SelectRunway(runways, dir, float64(wind.Speed))
	if !ok {
		res.Reason = "no runway data for airport"
		return res
	}

	res.Runway = rw.Label
	res.RunwayHeading = rw.Heading
	res.Crosswind = Crosswind(rw.Heading, dir, float64(wind.Peak()))
	res.Headwind = int(math.RoundToEven(Headwind(rw.Heading, dir, float64(wind.Speed))))
	res.Status = Classify(res.Crosswind, limit)
	return res
}

// Summary renders the result for display bubbles
func (r CrosswindResult) Summary() string {
	if r.Status == StatusUnknown {
		return "Crosswind unknown: " + r.Reason
	}
	return fmt.Sprintf("Rwy %s: %d kt crosswind (limit %d kt, %s)",
		r.Runway, r.Crosswind, r.Limit, strings.ReplaceAll(strings.ToLower(string(r.Status)), "_", " "))
}
