package search

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/xhad/deepresearch/internal/models"
	"github.com/xhad/deepresearch/internal/types"
)

const duckDuckGoBaseURL = "https://lite.duckduckgo.com/lite/"

// DuckDuckGo searches through DuckDuckGo's HTML lite interface.
// It never returns page text; pair it with an Enricher.
type DuckDuckGo struct {
	endpoint string
	t        *transport
}

func NewDuckDuckGo(cfg Config) *DuckDuckGo {
	if cfg.BaseURL == "" {
		cfg.BaseURL = duckDuckGoBaseURL
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 1
	}
	return &DuckDuckGo{endpoint: cfg.BaseURL, t: newTransport(cfg)}
}

func (d *DuckDuckGo) Name() string { return "duckduckgo" }

func (d *DuckDuckGo) Search(ctx context.Context, query string, opts types.SearchOptions) ([]models.SearchHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("duckduckgo: query is empty")
	}

	form := url.Values{}
	form.Set("q", query)

	resp, err := d.t.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo http %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: parse response: %w", err)
	}

	return parseLiteResults(doc, opts.MaxResults), nil
}

// parseLiteResults pairs each a.result-link with the n-th td.result-snippet.
func parseLiteResults(doc *goquery.Document, max int) []models.SearchHit {
	snippets := doc.Find("td.result-snippet").Map(func(_ int, s *goquery.Selection) string {
		return strings.Join(strings.Fields(s.Text()), " ")
	})

	var hits []models.SearchHit
	doc.Find("a.result-link").EachWithBreak(func(i int, s *goquery.Selection) bool {
		href, ok := s.Attr("href")
		if !ok {
			return true
		}
		target := resolveRedirect(href)
		title := strings.TrimSpace(s.Text())
		if target == "" || title == "" {
			return true
		}

		hit := models.SearchHit{URL: target, Title: title}
		if i < len(snippets) {
			hit.Snippet = snippets[i]
		}
		hits = append(hits, hit)

		return max <= 0 || len(hits) < max
	})
	return hits
}

// resolveRedirect unwraps duckduckgo.com/l/?uddg= links to their target.
func resolveRedirect(href string) string {
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if strings.HasSuffix(u.Host, "duckduckgo.com") {
		if target := u.Query().Get("uddg"); target != "" {
			return target
		}
		return ""
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}
