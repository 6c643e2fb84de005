package weather

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/wxdecoder/wxdecoder/internal/physics"
)

var (
	reWind     = regexp.MustCompile(`\b(\d{3}|VRB)(\d{2,3})(?:G(\d{2,3}))?KT\b`)
	reObsTime  = regexp.MustCompile(`\b(\d{2})(\d{2})(\d{2})Z\b`)
	reTGroup   = regexp.MustCompile(`\bT([01])(\d{3})[01]\d{3}\b`)
	reTempDew  = regexp.MustCompile(`\s(M)?(\d{2})/(?:M)?\d{2}\b`)
	reAltimHg  = regexp.MustCompile(`\bA(\d{4})\b`)
	reAltimHPa = regexp.MustCompile(`\bQ(\d{4})\b`)
)

// rolloverHorizon bounds how far in the future a parsed observation may land
// before it is treated as belonging to the previous month
const rolloverHorizon = 15 * 24 * time.Hour

// SplitReport separates a raw METAR/TAF response for one station.
// Returns nil for an empty response.
func SplitReport(raw, station string) *Observation {
	obs, _ := splitLines(strings.Split(strings.TrimSpace(raw), "\n"), station)
	return obs
}

// splitLines picks the METAR as the first line naming METAR or the station
// outside a TAF and the TAF as the last TAF header plus its continuation lines.
// matched is false when the METAR fell back to the first line.
func splitLines(lines []string, station string) (obs *Observation, matched bool) {
	if len(lines) == 0 || (len(lines) == 1 && strings.TrimSpace(lines[0]) == "") {
		return nil, false
	}

	var metar, taf string
	inTAF := false
	for _, line := range lines {
		if metar == "" && (strings.Contains(line, "METAR") || (strings.Contains(line, station) && !strings.Contains(line, "TAF"))) {
			metar = line
		}
		switch {
		case strings.Contains(line, "TAF"):
			taf = strings.TrimSpace(line)
			inTAF = true
		case inTAF && isContinuation(line):
			taf += "\n" + strings.TrimSpace(line)
		default:
			inTAF = false
		}
	}

	matched = metar != ""
	if !matched {
		metar = lines[0]
	}
	if taf == "" {
		taf = NoTAF
	}
	return &Observation{Station: station, METAR: strings.TrimSpace(metar), TAF: taf}, matched
}

func isContinuation(line string) bool {
	return line != "" && (line[0] == ' ' || line[0] == '\t')
}

// SplitBatch splits a multi-station response into one observation per station.
// Stations with no METAR line are omitted.
func SplitBatch(raw string, stations []string) map[string]*Observation {
	wanted := make(map[string]bool, len(stations))
	for _, s := range stations {
		wanted[s] = true
	}

	groups := make(map[string][]string)
	current := ""
	for _, line := range strings.Split(raw, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if isContinuation(line) {
			if current != "" {
				groups[current] = append(groups[current], line)
			}
			continue
		}
		current = reportStation(line, wanted)
		if current != "" {
			groups[current] = append(groups[current], line)
		}
	}

	out := make(map[string]*Observation, len(groups))
	for station, lines := range groups {
		if obs, matched := splitLines(lines, station); matched {
			out[station] = obs
		}
	}
	return out
}

// reportStation returns the station a report line belongs to, skipping report type tokens
func reportStation(line string, wanted map[string]bool) string {
	for _, tok := range strings.Fields(line) {
		switch tok {
		case "METAR", "SPECI", "TAF", "AMD", "COR":
			continue
		}
		if wanted[tok] {
			return tok
		}
		return ""
	}
	return ""
}

// ParseWind extracts the surface wind group. Returns nil when none is present.
func ParseWind(metar string) *physics.Wind {
	m := reWind.FindStringSubmatch(metar)
	if m == nil {
		return nil
	}
	w := &physics.Wind{}
	if m[1] == "VRB" {
		w.Variable = true
	} else {
		w.Direction, _ = strconv.Atoi(m[1])
	}
	w.Speed, _ = strconv.Atoi(m[2])
	if m[3] != "" {
		w.Gust, _ = strconv.Atoi(m[3])
	}
	return w
}

// ParseObservationTime reads the DDHHMMZ group relative to now. A day that is
// not valid in the current month is tried against the previous month, and a
// result more than 15 days ahead is moved back one month.
func ParseObservationTime(metar string, now time.Time) (time.Time, bool) {
	m := reObsTime.FindStringSubmatch(metar)
	if m == nil {
		return time.Time{}, false
	}
	day, _ := strconv.Atoi(m[1])
	hour, _ := strconv.Atoi(m[2])
	minute, _ := strconv.Atoi(m[3])
	if hour > 23 || minute > 59 || day < 1 {
		return time.Time{}, false
	}

	now = now.UTC()
	year, month := now.Year(), now.Month()

	t, ok := utcDate(year, month, day, hour, minute)
	if !ok {
		if t, ok = utcDate(year, month-1, day, hour, minute); !ok {
			return time.Time{}, false
		}
	}
	if t.Sub(now) > rolloverHorizon {
		y, mo := t.Year(), t.Month()
		if t, ok = utcDate(y, mo-1, day, hour, minute); !ok {
			return time.Time{}, false
		}
	}
	return t, true
}

// utcDate builds a UTC time, rejecting days past the end of the month
func utcDate(year int, month time.Month, day, hour, minute int) (time.Time, bool) {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	lastDay := first.AddDate(0, 1, -1).Day()
	if day > lastDay {
		return time.Time{}, false
	}
	return time.Date(first.Year(), first.Month(), day, hour, minute, 0, 0, time.UTC), true
}

// ParseTemperature extracts the temperature in Celsius. The RMK T-group is
// preferred for its tenths precision.
func ParseTemperature(metar string) (float64, bool) {
	if i := strings.Index(metar, " RMK "); i >= 0 {
		if m := reTGroup.FindStringSubmatch(metar[i:]); m != nil {
			val, err := strconv.ParseFloat(m[2], 64)
			if err == nil {
				val /= 10
				if m[1] == "1" {
					val = -val
				}
				return val, true
			}
		}
	}

	body := metar
	if i := strings.Index(metar, " RMK "); i >= 0 {
		body = metar[:i]
	}
	if m := reTempDew.FindStringSubmatch(body); m != nil {
		val, err := strconv.ParseFloat(m[2], 64)
		if err == nil {
			if m[1] == "M" {
				val = -val
			}
			return val, true
		}
	}
	return 0, false
}

// ParseAltimeter returns the altimeter setting in inches of mercury from an
// A-group, or converted from a Q-group in hectopascals
func ParseAltimeter(metar string) (float64, bool) {
	if m := reAltimHg.FindStringSubmatch(metar); m != nil {
		v, err := strconv.Atoi(m[1])
		if err == nil {
			return float64(v) / 100, true
		}
	}
	if m := reAltimHPa.FindStringSubmatch(metar); m != nil {
		v, err := strconv.Atoi(m[1])
		if err == nil {
			return float64(v) * 0.0295300, true
		}
	}
	return 0, false
}
