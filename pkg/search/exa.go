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

const exaBaseURL = "https://api.exa.ai"

// Exa calls the Exa search API.
type Exa struct {
	apiKey  string
	baseURL string
	t       *transport
}

func NewExa(cfg Config) *Exa {
	if cfg.BaseURL == "" {
		cfg.BaseURL = exaBaseURL
	}
	return &Exa{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		t:       newTransport(cfg),
	}
}

func (e *Exa) Name() string { return "exa" }

func (e *Exa) Search(ctx context.Context, query string, opts types.SearchOptions) ([]models.SearchHit, error) {
	body := map[string]interface{}{
		"query": query,
		"type":  "auto",
	}
	if opts.MaxResults > 0 {
		body["numResults"] = opts.MaxResults
	}
	if opts.Enrich {
		body["contents"] = map[string]interface{}{
			"text":    map[string]interface{}{"maxCharacters": 3000},
			"summary": map[string]interface{}{"query": query},
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	resp, err := e.t.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/search", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-key", e.apiKey)
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("exa http %d", resp.StatusCode)
	}

	var response struct {
		Results []struct {
			Title         string   `json:"title"`
			URL           string   `json:"url"`
			PublishedDate string   `json:"publishedDate"`
			Score         *float64 `json:"score"`
			Text          string   `json:"text"`
			Summary       string   `json:"summary"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("exa: decode response: %w", err)
	}

	hits := make([]models.SearchHit, 0, len(response.Results))
	for _, r := range response.Results {
		snippet := r.Summary
		if snippet == "" {
			snippet = r.Text
		}
		hits = append(hits, models.SearchHit{
			URL:         r.URL,
			Title:       r.Title,
			Snippet:     snippet,
			Text:        r.Text,
			Score:       r.Score,
			PublishedAt: parseTime(r.PublishedDate),
		})
	}
	return hits, nil
}
