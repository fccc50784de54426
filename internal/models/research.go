package models

import (
	"fmt"
	"strings"
	"time"
)

const (
	// QueryCount is the fixed size of every QueryPlan.
	QueryCount = 5
	// RelatedQueryCount is the number of leading lateral expansions.
	RelatedQueryCount = 3
	// DecompositionQueryCount is the number of trailing sub-topic queries.
	DecompositionQueryCount = QueryCount - RelatedQueryCount
)

// QueryPlan is the set of derived search queries produced from one question.
// Positions 0-2 are related queries, positions 3-4 are decomposition queries.
type QueryPlan struct {
	Queries []string `json:"queries"`
}

// Related returns the lateral expansions of the original question.
func (p QueryPlan) Related() []string {
	if len(p.Queries) < RelatedQueryCount {
		return nil
	}
	return p.Queries[:RelatedQueryCount]
}

// Decomposition returns the queries that isolate sub-topics of the question.
func (p QueryPlan) Decomposition() []string {
	if len(p.Queries) != QueryCount {
		return nil
	}
	return p.Queries[RelatedQueryCount:]
}

// Validate reports whether the plan has exactly QueryCount non-blank queries.
func (p QueryPlan) Validate() error {
	if len(p.Queries) != QueryCount {
		return fmt.Errorf("expected %d queries, got %d", QueryCount, len(p.Queries))
	}
	for i, q := range p.Queries {
		if strings.TrimSpace(q) == "" {
			return fmt.Errorf("query %d is empty", i)
		}
	}
	return nil
}

// SearchHit is one raw result as returned by a search capability.
type SearchHit struct {
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	Snippet     string     `json:"snippet"`
	Text        string     `json:"text,omitempty"`
	Score       *float64   `json:"score,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// EvidenceItem is a retrieved document kept as evidence. URL is its key.
type EvidenceItem struct {
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	Snippet     string     `json:"snippet"`
	Score       *float64   `json:"score,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	SourceType  string     `json:"source_type"`
}

// EvidenceGroup holds the items retained for one derived query.
type EvidenceGroup struct {
	Query  string         `json:"query"`
	Engine string         `json:"engine"`
	Items  []EvidenceItem `json:"items"`
}

// Note is an analytic observation derived from one source.
type Note struct {
	ID        string `json:"id"`
	Query     string `json:"query"`
	SourceURL string `json:"source_url"`
	Summary   string `json:"summary"`
	Stance    string `json:"stance"`
	Quality   string `json:"quality"`
}

// EvidenceBundle is everything the synthesis stage is allowed to know.
type EvidenceBundle struct {
	OriginalQuery   string          `json:"original_query"`
	ExpandedQueries []string        `json:"expanded_queries"`
	SearchResults   []EvidenceGroup `json:"search_results"`
	Notes           []Note          `json:"notes,omitempty"`
}

// ItemCount returns the number of items across all groups.
func (b EvidenceBundle) ItemCount() int {
	n := 0
	for _, g := range b.SearchResults {
		n += len(g.Items)
	}
	return n
}

// Items returns every item in group order.
func (b EvidenceBundle) Items() []EvidenceItem {
	items := make([]EvidenceItem, 0, b.ItemCount())
	for _, g := range b.SearchResults {
		items = append(items, g.Items...)
	}
	return items
}

// Lookup finds the item retained for url.
func (b EvidenceBundle) Lookup(url string) (EvidenceItem, bool) {
	for _, g := range b.SearchResults {
		for _, it := range g.Items {
			if it.URL == url {
				return it, true
			}
		}
	}
	return EvidenceItem{}, false
}

// CitedSource is one entry of a report's numbered source list.
type CitedSource struct {
	Index  int    `json:"index"`
	Title  string `json:"title"`
	URL    string `json:"url"`
	Domain string `json:"domain"`
}

// Report is the terminal output of a pipeline run.
type Report struct {
	Markdown string        `json:"markdown"`
	Sources  []CitedSource `json:"sources"`
}
