package briefing

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/wxdecoder/wxdecoder/internal/physics"
	"github.com/wxdecoder/wxdecoder/internal/weather"
)

// LocalGenerator builds a briefing without a language model. It is used when
// no provider is configured.
type LocalGenerator struct{}

// Name implements Generator
func (LocalGenerator) Name() string { return "local" }

var (
	visibilityRe = regexp.MustCompile(`\b(M)?(?:(\d+)\s)?(\d+)(?:/(\d+))?SM\b`)
	ceilingRe    = regexp.MustCompile(`\b(BKN|OVC|VV)(\d{3})\b`)
)

// Generate implements Generator
func (LocalGenerator) Generate(_ context.Context, f Facts) (*Result, error) {
	if strings.TrimSpace(f.METAR) == "" {
		return nil, fmt.Errorf("%w: no METAR to brief", ErrGeneration)
	}

	vis, hasVis := Visibility(f.METAR)
	ceil, hasCeil := Ceiling(f.METAR)
	category := FlightCategory(vis, hasVis, ceil, hasCeil)

	a := Analysis{
		FlightCategory: category,
		WindRisk:       RiskFor(f.Crosswind.Status),
		Timeline:       Timeline{T06: Placeholder, T12: Placeholder, T24: Placeholder},
		Bubbles:        Bubbles{Wind: Placeholder, Visibility: Placeholder, Ceiling: Placeholder, Temp: Placeholder},
		CriticalNOTAMs: []string{},
	}
	if f.TAF == "" || f.TAF == weather.NoTAF {
		a.Timeline = Timeline{T06: "NO_TAF", T12: "NO_TAF", T24: "NO_TAF"}
	}

	if w := weather.ParseWind(f.METAR); w != nil {
		a.Bubbles.Wind = windText(*w)
	}
	if hasVis {
		a.Bubbles.Visibility = strconv.FormatFloat(vis, 'f', -1, 64) + " SM"
	}
	if hasCeil {
		a.Bubbles.Ceiling = fmt.Sprintf("%d ft", ceil)
	} else if strings.Contains(f.METAR, "CLR") || strings.Contains(f.METAR, "SKC") {
		a.Bubbles.Ceiling = "Clear"
	}
	if t, ok := weather.ParseTemperature(f.METAR); ok {
		a.Bubbles.Temp = fmt.Sprintf("%.0f°C", t)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s conditions", category)
	if f.WeatherSource != "" && !f.SameAirport {
		fmt.Fprintf(&b, " reported at %s", f.WeatherSource)
	}
	b.WriteString(". ")
	b.WriteString(f.Crosswind.Summary())
	b.WriteString(".")
	for _, w := range f.AirspaceWarnings {
		b.WriteString(" ")
		b.WriteString(w)
	}
	if n := len(f.NOTAMs); n > 0 && !weather.IsNOTAMSentinel(f.NOTAMs) {
		fmt.Fprintf(&b, " %d active NOTAMs, review before departure.", n)
	}
	a.ExecutiveSummary = b.String()

	return &Result{Analysis: a, Usage: Usage{Model: "local"}}, nil
}

// Visibility returns the prevailing visibility in statute miles
func Visibility(metar string) (float64, bool) {
	m := visibilityRe.FindStringSubmatch(metar)
	if m == nil {
		return 0, false
	}
	n, _ := strconv.ParseFloat(m[3], 64)
	if m[4] != "" {
		d, _ := strconv.ParseFloat(m[4], 64)
		if d == 0 {
			return 0, false
		}
		n /= d
	}
	if m[2] != "" {
		whole, _ := strconv.ParseFloat(m[2], 64)
		n += whole
	}
	return n, true
}

// Ceiling returns the lowest broken, overcast or vertical visibility layer in feet
func Ceiling(metar string) (int, bool) {
	lowest := math.MaxInt
	for _, m := range ceilingRe.FindAllStringSubmatch(metar, -1) {
		h, err := strconv.Atoi(m[2])
		if err == nil && h*100 < lowest {
			lowest = h * 100
		}
	}
	if lowest == math.MaxInt {
		return 0, false
	}
	return lowest, true
}

// FlightCategory applies the FAA ceiling and visibility bands
func FlightCategory(visSM float64, hasVis bool, ceilFt int, hasCeil bool) string {
	if !hasVis && !hasCeil {
		return CategoryUnknown
	}
	switch {
	case (hasCeil && ceilFt < 500) || (hasVis && visSM < 1):
		return "LIFR"
	case (hasCeil && ceilFt < 1000) || (hasVis && visSM < 3):
		return "IFR"
	case (hasCeil && ceilFt <= 3000) || (hasVis && visSM <= 5):
		return "MVFR"
	}
	return "VFR"
}

func windText(w physics.Wind) string {
	if w.Speed == 0 {
		return "Calm"
	}
	var s string
	if w.Variable {
		s = fmt.Sprintf("Variable at %dkts", w.Speed)
	} else {
		s = fmt.Sprintf("%s at %dkts", compassPoint(float64(w.Direction)), w.Speed)
	}
	if w.Gust > 0 {
		s += fmt.Sprintf(" gusting %d", w.Gust)
	}
	return s
}

var compassPoints = []string{"North", "Northeast", "East", "Southeast", "South", "Southwest", "West", "Northwest"}

func compassPoint(deg float64) string {
	i := int(math.Round(physics.NormalizeHeading(deg)/45)) % 8
	return compassPoints[i]
}
