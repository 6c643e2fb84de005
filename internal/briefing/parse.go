package briefing

import (
	"encoding/json"
	"fmt"
	"strings"
)

// rawAnalysis mirrors the generator's JSON with every field optional
type rawAnalysis struct {
	FlightCategory   *string `json:"flight_category"`
	WindRisk         *string `json:"wind_risk"`
	ExecutiveSummary *string `json:"executive_summary"`
	Timeline         *struct {
		T06 *string `json:"t_06"`
		T12 *string `json:"t_12"`
		T24 *string `json:"t_24"`
	} `json:"timeline"`
	Bubbles *struct {
		Wind       *string `json:"wind"`
		Visibility *string `json:"visibility"`
		Ceiling    *string `json:"ceiling"`
		Temp       *string `json:"temp"`
	} `json:"bubbles"`
	AirspaceWarnings []string `json:"airspace_warnings"`
	CriticalNOTAMs   []string `json:"critical_notams"`
}

var (
	flightCategories = map[string]bool{"VFR": true, "MVFR": true, "IFR": true, "LIFR": true}
	windRisks        = map[string]bool{RiskLow: true, RiskModerate: true, RiskHigh: true}
)

// ParseAnalysis validates generator output. The summary is required; other
// fields fall back to placeholders and unknown enum values are normalized.
func ParseAnalysis(text string) (Analysis, error) {
	text = stripFences(text)

	var raw rawAnalysis
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return Analysis{}, fmt.Errorf("%w: invalid JSON: %v", ErrGeneration, err)
	}
	if raw.ExecutiveSummary == nil || strings.TrimSpace(*raw.ExecutiveSummary) == "" {
		return Analysis{}, fmt.Errorf("%w: missing executive_summary", ErrGeneration)
	}

	a := Analysis{
		FlightCategory:   CategoryUnknown,
		WindRisk:         RiskUnknown,
		ExecutiveSummary: strings.TrimSpace(*raw.ExecutiveSummary),
		Timeline:         Timeline{T06: Placeholder, T12: Placeholder, T24: Placeholder},
		Bubbles:          Bubbles{Wind: Placeholder, Visibility: Placeholder, Ceiling: Placeholder, Temp: Placeholder},
		AirspaceWarnings: nonEmpty(raw.AirspaceWarnings),
		CriticalNOTAMs:   nonEmpty(raw.CriticalNOTAMs),
	}
	if raw.FlightCategory != nil {
		if fc := strings.ToUpper(strings.TrimSpace(*raw.FlightCategory)); flightCategories[fc] {
			a.FlightCategory = fc
		}
	}
	if raw.WindRisk != nil {
		if wr := strings.ToUpper(strings.TrimSpace(*raw.WindRisk)); windRisks[wr] {
			a.WindRisk = wr
		}
	}
	if t := raw.Timeline; t != nil {
		a.Timeline = Timeline{T06: orPlaceholder(t.T06), T12: orPlaceholder(t.T12), T24: orPlaceholder(t.T24)}
	}
	if b := raw.Bubbles; b != nil {
		a.Bubbles = Bubbles{
			Wind:       orPlaceholder(b.Wind),
			Visibility: orPlaceholder(b.Visibility),
			Ceiling:    orPlaceholder(b.Ceiling),
			Temp:       orPlaceholder(b.Temp),
		}
	}
	return a, nil
}

// stripFences removes a markdown code fence some models wrap JSON in
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func orPlaceholder(s *string) string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return Placeholder
	}
	return strings.TrimSpace(*s)
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
