package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/xhad/deepresearch/internal/models"
	"github.com/xhad/deepresearch/pkg/processor"
	"golang.org/x/time/rate"
)

type ScraperConfig struct {
	RateLimit       float64 // requests per second
	Timeout         time.Duration
	MaxExcerptChars int
	UserAgent       string
	IgnorePatterns  []string
}

// Scraper fetches single pages and reduces them to their main content.
type Scraper struct {
	config    ScraperConfig
	client    *http.Client
	limiter   *rate.Limiter
	processor processor.Processor
}

func NewWithConfig(config ScraperConfig) *Scraper {
	if config.Timeout == 0 {
		config.Timeout = 15 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2
	}
	if config.UserAgent == "" {
		config.UserAgent = "Mozilla/5.0 (compatible; deepresearch/1.0)"
	}

	return &Scraper{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		processor: processor.NewWithConfig(processor.ProcessorConfig{
			MaxExcerptChars: config.MaxExcerptChars,
		}),
	}
}

func New() *Scraper {
	return NewWithConfig(ScraperConfig{})
}

func (s *Scraper) shouldFetch(urlStr string) bool {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return false
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return false
	}

	// binary documents cannot be reduced to text here
	path := strings.ToLower(parsedURL.Path)
	for _, ext := range []string{".pdf", ".zip", ".png", ".jpg", ".jpeg", ".gif", ".mp4", ".mp3"} {
		if strings.HasSuffix(path, ext) {
			return false
		}
	}

	for _, pattern := range s.config.IgnorePatterns {
		if strings.Contains(urlStr, pattern) {
			return false
		}
	}

	return true
}

func (s *Scraper) extractMainContent(doc *goquery.Document) string {
	doc.Find("script, style, nav, header, footer, aside, noscript").Remove()

	selectors := []string{
		"main",
		"article",
		"[role=main]",
		".content",
		"#content",
		".post",
	}

	var content string
	for _, selector := range selectors {
		if selected := doc.Find(selector); selected.Length() > 0 {
			content = selected.First().Text()
			break
		}
	}

	if strings.TrimSpace(content) == "" {
		content = doc.Find("body").Text()
	}

	return s.processor.Excerpt(content)
}

// Fetch downloads urlStr and returns its title and main-content excerpt.
func (s *Scraper) Fetch(ctx context.Context, urlStr string) (models.Document, error) {
	if !s.shouldFetch(urlStr) {
		return models.Document{}, fmt.Errorf("url not fetchable: %s", urlStr)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return models.Document{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return models.Document{}, err
	}
	req.Header.Set("User-Agent", s.config.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := s.client.Do(req)
	if err != nil {
		return models.Document{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.Document{}, fmt.Errorf("received status code %d for URL: %s", resp.StatusCode, urlStr)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && !strings.Contains(contentType, "html") {
		return models.Document{}, fmt.Errorf("unsupported content type %q for URL: %s", contentType, urlStr)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return models.Document{}, err
	}

	return models.Document{
		URL:         urlStr,
		Title:       s.processor.Clean(doc.Find("title").First().Text()),
		Content:     s.extractMainContent(doc),
		ContentType: contentType,
		FetchedAt:   time.Now(),
		Metadata: map[string]interface{}{
			"lastModified": resp.Header.Get("Last-Modified"),
		},
	}, nil
}
