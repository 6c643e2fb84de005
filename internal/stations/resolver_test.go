package stations

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wxdecoder/wxdecoder/internal/airports"
	"github.com/wxdecoder/wxdecoder/internal/config"
	"github.com/wxdecoder/wxdecoder/internal/weather"
	"github.com/wxdecoder/wxdecoder/pkg/logger"
)

type fakeFetcher struct {
	batches [][]string
	obs     map[string]*weather.Observation
	err     error
}

func (f *fakeFetcher) FetchWeather(_ context.Context, station string) (*weather.Observation, error) {
	if o, ok := f.obs[station]; ok {
		return o, nil
	}
	return nil, weather.ErrNoReport
}

func (f *fakeFetcher) FetchWeatherBatch(_ context.Context, stations []string) (map[string]*weather.Observation, error) {
	f.batches = append(f.batches, stations)
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]*weather.Observation)
	for _, s := range stations {
		if o, ok := f.obs[s]; ok {
			out[s] = o
		}
	}
	return out, nil
}

func metarOnly(code string) *weather.Observation {
	return &weather.Observation{Station: code, METAR: code + " 141254Z 05010KT 10SM", TAF: weather.NoTAF}
}

func withTAF(code string) *weather.Observation {
	return &weather.Observation{Station: code, METAR: code + " 141254Z 05010KT 10SM", TAF: "TAF " + code + " 141120Z 1412/1512 04012KT"}
}

// Annapolis area: KANP has no weather, a small field is closer than BWI
func testDirectory() *airports.Directory {
	return airports.NewDirectory([]*airports.Airport{
		{ICAO: "KANP", LID: "ANP", Name: "Lee", Lat: 38.9429, Lon: -76.5684, Type: airports.TypeSmall},
		{ICAO: "KW29", Name: "Bay Bridge", Lat: 38.9768, Lon: -76.3300, Type: airports.TypeSmall},
		{ICAO: "KBWI", Name: "Baltimore/Washington Intl", Lat: 39.1754, Lon: -76.6683, Type: airports.TypeLarge},
		{ICAO: "KESN", Name: "Easton", Lat: 38.8042, Lon: -76.0690, Type: airports.TypeMedium},
		{ICAO: "KJFK", Name: "John F Kennedy Intl", Lat: 40.6398, Lon: -73.7789, Type: airports.TypeLarge},
	}, logger.NewNop())
}

func newResolver(f weather.Fetcher, limit int) *Resolver {
	return NewResolver(testDirectory(), f, config.FallbackConfig{RadiusNM: 50, CandidateLimit: limit}, logger.NewNop())
}

// --- Candidates ---

func TestCandidatesPrimaryFirst(t *testing.T) {
	r := newResolver(&fakeFetcher{}, 10)
	target, _ := r.dir.LookupICAO("KANP")

	got := r.Candidates(target)
	require.Len(t, got, 3, "target and out-of-range airports excluded")
	assert.Equal(t, "KBWI", got[0].Code)
	assert.Equal(t, "KESN", got[1].Code)
	assert.Equal(t, "KW29", got[2].Code, "closer small airport ranks after primaries")
	assert.Less(t, got[2].DistanceNM, got[0].DistanceNM)
	assert.True(t, got[0].Primary)
	assert.False(t, got[2].Primary)
}

func TestCandidatesLimit(t *testing.T) {
	r := newResolver(&fakeFetcher{}, 2)
	target, _ := r.dir.LookupICAO("KANP")
	got := r.Candidates(target)
	require.Len(t, got, 2)
	assert.Equal(t, []string{"KBWI", "KESN"}, []string{got[0].Code, got[1].Code})
}

// --- Choose ---

func TestChoosePrefersTAF(t *testing.T) {
	ranked := []Candidate{{Code: "KBWI", DistanceNM: 12.3}, {Code: "KESN", DistanceNM: 40.1}}

	fb, ok := Choose(ranked, map[string]*weather.Observation{"KBWI": withTAF("KBWI"), "KESN": withTAF("KESN")})
	require.True(t, ok)
	assert.Equal(t, "KBWI", fb.Station)
	assert.Equal(t, 12.3, fb.DistanceNM)

	// TAF presence dominates rank order
	fb, ok = Choose(ranked, map[string]*weather.Observation{"KBWI": metarOnly("KBWI"), "KESN": withTAF("KESN")})
	require.True(t, ok)
	assert.Equal(t, "KESN", fb.Station)

	// No TAF anywhere: first METAR in rank order
	fb, ok = Choose(ranked, map[string]*weather.Observation{"KBWI": metarOnly("KBWI"), "KESN": metarOnly("KESN")})
	require.True(t, ok)
	assert.Equal(t, "KBWI", fb.Station)

	_, ok = Choose(ranked, map[string]*weather.Observation{})
	assert.False(t, ok)
}

// --- FindFallback ---

func TestFindFallbackSingleBatch(t *testing.T) {
	f := &fakeFetcher{obs: map[string]*weather.Observation{
		"KW29": withTAF("KW29"),
		"KBWI": withTAF("KBWI"),
		"KESN": metarOnly("KESN"),
	}}
	r := newResolver(f, 10)

	fb, ok, err := r.FindFallback(context.Background(), "ANP")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "KBWI", fb.Station, "farther large airport beats closer small one")
	assert.Equal(t, 3, fb.Candidates)
	require.Len(t, f.batches, 1)
	assert.Equal(t, []string{"KBWI", "KESN", "KW29"}, f.batches[0])
}

func TestFindFallbackNothing(t *testing.T) {
	r := newResolver(&fakeFetcher{}, 10)
	_, ok, err := r.FindFallback(context.Background(), "KANP")
	require.NoError(t, err)
	assert.False(t, ok)

	// Nothing within range of JFK in this directory
	f := &fakeFetcher{}
	r = newResolver(f, 10)
	_, ok, err = r.FindFallback(context.Background(), "KJFK")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, f.batches)
}

func TestFindFallbackErrors(t *testing.T) {
	r := newResolver(&fakeFetcher{err: weather.ErrUpstreamUnavailable}, 10)
	_, _, err := r.FindFallback(context.Background(), "KANP")
	assert.True(t, errors.Is(err, weather.ErrUpstreamUnavailable))

	_, _, err = r.FindFallback(context.Background(), "NOPE")
	assert.ErrorIs(t, err, airports.ErrNotFound)
}
