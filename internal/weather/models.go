package weather

import (
	"context"
	"errors"
	"strings"
)

// ErrUpstreamUnavailable is returned when the weather provider cannot be reached
// or keeps failing after retries
var ErrUpstreamUnavailable = errors.New("weather upstream unavailable")

// NoTAF marks an observation that has no usable forecast
const NoTAF = "No TAF available"

// NOTAM sentinel entries. FetchNOTAMs never fails, it reports through these.
const (
	NoActiveNOTAMs       = "No active NOTAMs found."
	notamPortalErrorFmt  = "FAA Portal Error (Status %d)."
	notamConnectErrorFmt = "Connection Error: %v"
)

// Observation is the raw METAR/TAF pair for one station
type Observation struct {
	Station string `json:"station"`
	METAR   string `json:"metar"`
	TAF     string `json:"taf"`
}

// HasMETAR reports whether a METAR line was found
func (o *Observation) HasMETAR() bool {
	return o != nil && strings.TrimSpace(o.METAR) != ""
}

// HasUsableTAF reports whether the forecast is present and not the sentinel
func (o *Observation) HasUsableTAF() bool {
	return o != nil && o.TAF != "" && o.TAF != NoTAF
}

// Fetcher retrieves METAR/TAF observations
type Fetcher interface {
	FetchWeather(ctx context.Context, station string) (*Observation, error)
	// FetchWeatherBatch fetches several stations in one upstream call. Stations
	// without a report are absent from the map.
	FetchWeatherBatch(ctx context.Context, stations []string) (map[string]*Observation, error)
}

// NOTAMFetcher retrieves NOTAM text for an airport
type NOTAMFetcher interface {
	FetchNOTAMs(ctx context.Context, icao string) []string
}

// IsNOTAMSentinel reports whether a NOTAM list is a single placeholder entry
func IsNOTAMSentinel(notams []string) bool {
	if len(notams) != 1 {
		return false
	}
	n := notams[0]
	return n == NoActiveNOTAMs || strings.HasPrefix(n, "FAA Portal Error") || strings.HasPrefix(n, "Connection Error")
}

// stationResponse is one element of the station info JSON array
type stationResponse struct {
	ICAO string  `json:"icaoId"`
	Site string  `json:"site"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	Elev float64 `json:"elev"`
}

// notamSearchResponse is the subset of the FAA NOTAM search reply we read
type notamSearchResponse struct {
	NOTAMList []struct {
		ICAOMessage string `json:"icaoMessage"`
	} `json:"notamList"`
}
