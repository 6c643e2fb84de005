package briefing

import (
	"fmt"
	"strings"

	"github.com/wxdecoder/wxdecoder/internal/physics"
)

// MaxPromptNOTAMs bounds how many NOTAMs are sent to the generator
const MaxPromptNOTAMs = 50

const tfrURL = "https://tfr.faa.gov/"

const systemTemplate = `You are a Chief Pilot acting as a Go/No-Go decision aid.
AIRCRAFT PROFILE: %s

YOUR TASKS:
1. RUNWAY AND CROSSWIND:
   - The runway and crosswind below were computed from the METAR and are authoritative.
   - Use them as given in the summary. Do not recompute them.

2. CRITICAL NOTAMS (PLAIN ENGLISH TRANSLATION):
   - Scan raw NOTAMs for major hazards (runway closures, approach lighting out, tower closed).
   - Select the top 1-3 most critical and translate them to plain English.

3. EXECUTIVE SUMMARY:
   - Write a single flowing paragraph with no labels or bullet points.
   - Start with the conditions (VFR/IFR, ceiling, visibility).
   - Move to the favored runway and crosswind.
   - End with airspace warnings and the critical NOTAMs you identified.

4. TIMELINE:
   - If no TAF, return "NO_TAF" for each entry.
   - Else summarize the next 6/12/24 hours in plain English.

5. BUBBLES: short human readable text, e.g. wind "North at 10kts".

OUTPUT JSON FORMAT ONLY:
{
    "flight_category": "VFR" | "MVFR" | "IFR" | "LIFR",
    "wind_risk": "LOW" | "MODERATE" | "HIGH",
    "executive_summary": "...",
    "timeline": { "t_06": "...", "t_12": "...", "t_24": "..." },
    "bubbles": { "wind": "...", "visibility": "...", "ceiling": "...", "temp": "..." },
    "airspace_warnings": ["..."],
    "critical_notams": ["..."]
}`

// BuildPrompt renders the system and user messages for facts
func BuildPrompt(f Facts) (system, user string) {
	system = fmt.Sprintf(systemTemplate, f.Profile.Label)

	var b strings.Builder
	fmt.Fprintf(&b, "TARGET: %s", f.Code)
	if f.AirportName != "" && f.AirportName != f.Code {
		fmt.Fprintf(&b, " (%s)", f.AirportName)
	}
	b.WriteString("\n")

	if note := stationContext(f); note != "" {
		b.WriteString(note)
		b.WriteString("\n")
	}

	b.WriteString("\nAIRSPACE STATUS:\n")
	b.WriteString(airspaceBlock(f.AirspaceWarnings))

	b.WriteString("\nCOMPUTED CROSSWIND:\n")
	b.WriteString(crosswindBlock(f.Crosswind))
	if f.DensityAltitudeFt != nil {
		fmt.Fprintf(&b, "DENSITY ALTITUDE: %.0f ft\n", *f.DensityAltitudeFt)
	}

	fmt.Fprintf(&b, "\nMETAR: %s\nTAF: %s\n", f.METAR, f.TAF)

	notams := f.NOTAMs
	if len(notams) > MaxPromptNOTAMs {
		notams = notams[:MaxPromptNOTAMs]
	}
	b.WriteString("NOTAMS:\n")
	for _, n := range notams {
		b.WriteString("- ")
		b.WriteString(strings.ReplaceAll(n, "\n", " "))
		b.WriteString("\n")
	}
	return system, b.String()
}

func stationContext(f Facts) string {
	if f.WeatherSource == "" || f.SameAirport {
		return ""
	}
	if f.SourceDistanceNM > 0 {
		return fmt.Sprintf("NOTE: Target %s has no weather. Using %s (%.1f nm away) for METAR/TAF.",
			f.Code, f.WeatherSource, f.SourceDistanceNM)
	}
	return fmt.Sprintf("NOTE: Target %s has no weather. Using %s for METAR/TAF.", f.Code, f.WeatherSource)
}

func airspaceBlock(warnings []string) string {
	if len(warnings) == 0 {
		return "NOTE: No intersection with Permanent Prohibited/Restricted zones (P-40, DC SFRA, etc.) detected.\n" +
			"CRITICAL: This tool DOES NOT check dynamic TFRs (VIPs, Stadiums, Fire).\n" +
			"Pilot MUST verify TFRs at: " + tfrURL + "\n"
	}
	var b strings.Builder
	b.WriteString("[MANDATORY INCLUSION]\nThe following PERMANENT AIRSPACE RESTRICTIONS were detected:\n")
	for _, w := range warnings {
		b.WriteString("- ")
		b.WriteString(w)
		b.WriteString("\n")
	}
	b.WriteString("CRITICAL: Also verify dynamic TFRs at " + tfrURL + "\n")
	return b.String()
}

func crosswindBlock(xw physics.CrosswindResult) string {
	if xw.Status == physics.StatusUnknown {
		return fmt.Sprintf("UNKNOWN (%s). Limit %d kts.\n", xw.Reason, xw.Limit)
	}
	return fmt.Sprintf("Runway %s (heading %03.0f): crosswind %d kts, headwind %d kts, limit %d kts, status %s\n",
		xw.Runway, xw.RunwayHeading, xw.Crosswind, xw.Headwind, xw.Limit, xw.Status)
}

// IsSameAirport reports whether the weather source stands in for the target itself
func IsSameAirport(target, source string, distanceNM, thresholdNM float64) bool {
	if source == "" || strings.EqualFold(target, source) {
		return true
	}
	return distanceNM > 0 && distanceNM < thresholdNM
}
