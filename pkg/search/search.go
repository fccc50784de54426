// Package search provides the web search capability used to gather evidence.
//
// Available providers:
//
//   - Exa: requires an API key; returns text and summaries when enrichment is requested
//   - Tavily: requires an API key; advanced depth and raw page content when enriching
//   - DuckDuckGo: no API key; results are parsed from the lite HTML page
//
// Providers that cannot return page text are wrapped in an Enricher, which
// fetches thin results itself when the caller asks for enrichment.
package search

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/xhad/deepresearch/internal/logger"
	"github.com/xhad/deepresearch/internal/types"
	"golang.org/x/time/rate"
)

type Config struct {
	Provider   string
	APIKey     string
	BaseURL    string
	RateLimit  float64 // requests per second
	Timeout    time.Duration
	MaxRetries int
}

// New builds the configured provider. A non-nil fetcher enables page enrichment.
func New(cfg Config, fetcher types.Fetcher, log logger.Logger) (types.Searcher, error) {
	var s types.Searcher
	switch strings.ToLower(cfg.Provider) {
	case "exa", "":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, fmt.Errorf("exa: API key is missing")
		}
		s = NewExa(cfg)
	case "tavily":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, fmt.Errorf("tavily: API key is missing")
		}
		s = NewTavily(cfg)
	case "duckduckgo":
		s = NewDuckDuckGo(cfg)
	default:
		return nil, fmt.Errorf("unsupported search provider %q", cfg.Provider)
	}

	if fetcher != nil {
		s = NewEnricher(s, fetcher, log)
	}
	return s, nil
}

// transport paces requests and retries 429 responses with doubling back-off.
type transport struct {
	client     *http.Client
	limiter    *rate.Limiter
	maxRetries int
	retryDelay time.Duration
}

func newTransport(cfg Config) *transport {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 2
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 4
	}
	return &transport{
		client:     &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), 1),
		maxRetries: cfg.MaxRetries,
		retryDelay: time.Second,
	}
}

func (t *transport) do(ctx context.Context, newRequest func() (*http.Request, error)) (*http.Response, error) {
	delay := t.retryDelay
	for attempt := 0; ; attempt++ {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := newRequest()
		if err != nil {
			return nil, err
		}

		resp, err := t.client.Do(req)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode != http.StatusTooManyRequests || attempt >= t.maxRetries {
			return resp, nil
		}
		resp.Body.Close()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		if delay < 30*time.Second {
			delay *= 2
		}
	}
}

func parseTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02", time.RFC1123} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
