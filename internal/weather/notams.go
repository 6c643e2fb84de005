package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/wxdecoder/wxdecoder/internal/config"
	"github.com/wxdecoder/wxdecoder/pkg/logger"
	"golang.org/x/time/rate"
)

var (
	reBreak      = regexp.MustCompile(`(?i)<br\s*/?>`)
	reTag        = regexp.MustCompile(`<[^>]+>`)
	reBlankLines = regexp.MustCompile(`\n\s*\n`)
	reSpaces     = regexp.MustCompile(` +`)
)

// NOTAMClient queries the FAA NOTAM search portal
type NOTAMClient struct {
	searchURL  string
	maxRetries int
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logger.Logger
}

// NewNOTAMClient creates a NOTAM client
func NewNOTAMClient(cfg config.WeatherConfig, log *logger.Logger) *NOTAMClient {
	return &NOTAMClient{
		searchURL:  cfg.NOTAMSearchURL,
		maxRetries: cfg.MaxRetries,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.UpstreamRPS), cfg.UpstreamBurst),
		logger:  log.Named("notam-client"),
	}
}

// FetchNOTAMs returns cleaned NOTAM texts for an airport. On failure the list
// holds a single explanatory entry.
func (c *NOTAMClient) FetchNOTAMs(ctx context.Context, icao string) []string {
	icao = strings.ToUpper(strings.TrimSpace(icao))
	if len(icao) == 3 {
		icao = "K" + icao
	}

	form := url.Values{}
	form.Set("searchType", "0")
	form.Set("designatorsForLocation", icao)
	form.Set("notamsOnly", "false")
	form.Set("radius", "0")
	encoded := form.Encode()

	body, err := doWithRetry(ctx, c.httpClient, c.limiter, c.maxRetries, c.logger, "notams", icao, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.searchURL, strings.NewReader(encoded))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
		req.Header.Set("User-Agent", userAgent)
		return req, nil
	})
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			return []string{fmt.Sprintf(notamPortalErrorFmt, statusErr.Code)}
		}
		return []string{fmt.Sprintf(notamConnectErrorFmt, err)}
	}

	if len(body) == 0 {
		return []string{NoActiveNOTAMs}
	}

	var resp notamSearchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		c.logger.Warn("Failed to decode NOTAM response",
			logger.String("icao", icao),
			logger.Error(err))
		return []string{fmt.Sprintf(notamConnectErrorFmt, err)}
	}

	notams := make([]string, 0, len(resp.NOTAMList))
	for _, item := range resp.NOTAMList {
		if text := CleanHTML(item.ICAOMessage); text != "" {
			notams = append(notams, text)
		}
	}
	if len(notams) == 0 {
		return []string{NoActiveNOTAMs}
	}

	c.logger.Debug("Fetched NOTAMs",
		logger.String("icao", icao),
		logger.Int("count", len(notams)))
	return notams
}

// CleanHTML turns portal markup into plain text
func CleanHTML(raw string) string {
	if raw == "" {
		return ""
	}
	text := reBreak.ReplaceAllString(raw, "\n")
	text = reTag.ReplaceAllString(text, "")
	text = reBlankLines.ReplaceAllString(text, "\n")
	text = reSpaces.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
