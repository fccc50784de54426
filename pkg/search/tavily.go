package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/xhad/deepresearch/internal/models"
	"github.com/xhad/deepresearch/internal/types"
)

const tavilyBaseURL = "https://api.tavily.com"

// Tavily calls the Tavily search API.
type Tavily struct {
	apiKey  string
	baseURL string
	t       *transport
}

func NewTavily(cfg Config) *Tavily {
	if cfg.BaseURL == "" {
		cfg.BaseURL = tavilyBaseURL
	}
	return &Tavily{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		t:       newTransport(cfg),
	}
}

func (t *Tavily) Name() string { return "tavily" }

// Search posts a query to Tavily. Enrichment selects advanced depth and raw content.
func (t *Tavily) Search(ctx context.Context, query string, opts types.SearchOptions) ([]models.SearchHit, error) {
	depth := "basic"
	if opts.Enrich {
		depth = "advanced"
	}
	body := map[string]interface{}{
		"query":               query,
		"search_depth":        depth,
		"include_raw_content": opts.Enrich,
	}
	if opts.MaxResults > 0 {
		body["max_results"] = opts.MaxResults
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	resp, err := t.t.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/search", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tavily http %d", resp.StatusCode)
	}

	var response struct {
		Results []struct {
			Title         string   `json:"title"`
			URL           string   `json:"url"`
			Content       string   `json:"content"`
			RawContent    string   `json:"raw_content"`
			Score         *float64 `json:"score"`
			PublishedDate string   `json:"published_date"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("tavily: decode response: %w", err)
	}

	hits := make([]models.SearchHit, 0, len(response.Results))
	for _, r := range response.Results {
		hits = append(hits, models.SearchHit{
			URL:         r.URL,
			Title:       r.Title,
			Snippet:     r.Content,
			Text:        r.RawContent,
			Score:       r.Score,
			PublishedAt: parseTime(r.PublishedDate),
		})
	}
	return hits, nil
}
