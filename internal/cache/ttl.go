package cache

import (
	"time"

	"github.com/wxdecoder/wxdecoder/internal/weather"
)

const (
	// refreshMinute is when the next hourly METAR is expected
	refreshMinute = 50
	// freshWindow is how old an observation may be at or after refreshMinute and still be cached
	freshWindow = 15 * time.Minute
	// FullHourTTL is used for a fresh observation after refreshMinute
	FullHourTTL = time.Hour
)

// DecideTTL returns how long a briefing built from metar may be cached. ok is
// false when the observation is stale and the result must not be cached.
func DecideTTL(now time.Time, metar string) (ttl time.Duration, ok bool) {
	now = now.UTC()
	if m := now.Minute(); m < refreshMinute {
		return time.Duration(refreshMinute-m) * time.Minute, true
	}

	obs, parsed := weather.ParseObservationTime(metar, now)
	if !parsed {
		return 0, false
	}
	sameHour := obs.Truncate(time.Hour).Equal(now.Truncate(time.Hour))
	age := now.Sub(obs)
	if sameHour || (age >= 0 && age <= freshWindow) {
		return FullHourTTL, true
	}
	return 0, false
}
