package weather

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wxdecoder/wxdecoder/internal/config"
	"github.com/wxdecoder/wxdecoder/pkg/logger"
)

func testConfig(baseURL string) config.WeatherConfig {
	return config.WeatherConfig{
		APIBaseURL:            baseURL,
		NOTAMSearchURL:        baseURL + "/notamSearch/search",
		RequestTimeoutSeconds: 2,
		MaxRetries:            2,
		UpstreamRPS:           1000,
		UpstreamBurst:         100,
	}
}

// --- METAR/TAF ---

func TestFetchWeather(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/metar", r.URL.Path)
		assert.Equal(t, "KBWI", r.URL.Query().Get("ids"))
		assert.Equal(t, "raw", r.URL.Query().Get("format"))
		assert.Equal(t, "true", r.URL.Query().Get("taf"))
		fmt.Fprint(w, bwiRaw)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), logger.NewNop())
	obs, err := c.FetchWeather(context.Background(), "kbwi")
	require.NoError(t, err)
	assert.Equal(t, "KBWI", obs.Station)
	assert.True(t, obs.HasUsableTAF())
}

func TestFetchWeatherEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), logger.NewNop())
	_, err := c.FetchWeather(context.Background(), "KANP")
	assert.ErrorIs(t, err, ErrNoReport)
}

func TestFetchWeatherRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, bwiRaw)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), logger.NewNop())
	obs, err := c.FetchWeather(context.Background(), "KBWI")
	require.NoError(t, err)
	assert.True(t, obs.HasMETAR())
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetchWeatherGivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.MaxRetries = 1
	c := NewClient(cfg, logger.NewNop())
	_, err := c.FetchWeather(context.Background(), "KBWI")
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetchWeatherNoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), logger.NewNop())
	_, err := c.FetchWeather(context.Background(), "KBWI")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadRequest, statusErr.Code)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchWeatherBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "KBWI,KESN", r.URL.Query().Get("ids"))
		fmt.Fprint(w, "KBWI 141254Z 05015G22KT 10SM\nKESN 141253Z 04010KT 10SM\nTAF KBWI 141120Z 1412/1512 04012KT\n")
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), logger.NewNop())
	got, err := c.FetchWeatherBatch(context.Background(), []string{"KBWI", "kesn"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	empty, err := c.FetchWeatherBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

// --- Station lookup and probe ---

func TestLookupCoordinates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/station", r.URL.Path)
		if r.URL.Query().Get("ids") == "CYYZ" {
			fmt.Fprint(w, `[{"icaoId":"CYYZ","site":"Toronto/Pearson Intl","lat":43.677,"lon":-79.631,"elev":173}]`)
			return
		}
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), logger.NewNop())
	lat, lon, name, err := c.LookupCoordinates(context.Background(), "CYYZ")
	require.NoError(t, err)
	assert.InDelta(t, 43.677, lat, 1e-9)
	assert.InDelta(t, -79.631, lon, 1e-9)
	assert.Equal(t, "Toronto/Pearson Intl", name)

	_, _, _, err = c.LookupCoordinates(context.Background(), "ZZZZ")
	assert.ErrorIs(t, err, ErrNoReport)
}

func TestProbe(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			fmt.Fprint(w, "KJFK 141251Z 18010KT 10SM")
			return
		}
		fmt.Fprint(w, "")
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), logger.NewNop())
	assert.NoError(t, c.Probe(context.Background(), "KJFK"))
	healthy.Store(false)
	assert.ErrorIs(t, c.Probe(context.Background(), "KJFK"), ErrUpstreamUnavailable)
}

// --- NOTAMs ---

func TestFetchNOTAMs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "KBWI", r.PostForm.Get("designatorsForLocation"))
		assert.Equal(t, "0", r.PostForm.Get("searchType"))
		assert.True(t, strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded"))
		fmt.Fprint(w, `{"notamList":[{"icaoMessage":"!BWI 10/001<br>RWY 10/28 CLSD"},{"icaoMessage":""}]}`)
	}))
	defer srv.Close()

	c := NewNOTAMClient(testConfig(srv.URL), logger.NewNop())
	got := c.FetchNOTAMs(context.Background(), "bwi")
	assert.Equal(t, []string{"!BWI 10/001\nRWY 10/28 CLSD"}, got)
}

func TestFetchNOTAMsSentinels(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
		fmt.Fprint(w, `{"notamList":[]}`)
	}))
	defer srv.Close()

	c := NewNOTAMClient(testConfig(srv.URL), logger.NewNop())
	assert.Equal(t, []string{NoActiveNOTAMs}, c.FetchNOTAMs(context.Background(), "KBWI"))

	status.Store(http.StatusForbidden)
	assert.Equal(t, []string{"FAA Portal Error (Status 403)."}, c.FetchNOTAMs(context.Background(), "KBWI"))
}

func TestFetchNOTAMsConnectionError(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.MaxRetries = 0
	c := NewNOTAMClient(cfg, logger.NewNop())
	got := c.FetchNOTAMs(context.Background(), "KBWI")
	require.Len(t, got, 1)
	assert.True(t, strings.HasPrefix(got[0], "Connection Error: "))
	assert.True(t, IsNOTAMSentinel(got))
}
