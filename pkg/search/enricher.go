package search

import (
	"context"
	"strings"

	"github.com/xhad/deepresearch/internal/logger"
	"github.com/xhad/deepresearch/internal/models"
	"github.com/xhad/deepresearch/internal/types"
)

// minSnippetChars is the length below which a snippet counts as thin.
const minSnippetChars = 80

// Enricher fills thin results with the fetched page's main content when the
// caller requests enrichment. Fetch failures leave the hit as returned.
type Enricher struct {
	inner   types.Searcher
	fetcher types.Fetcher
	logger  logger.Logger
}

func NewEnricher(inner types.Searcher, fetcher types.Fetcher, log logger.Logger) *Enricher {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Enricher{
		inner:   inner,
		fetcher: fetcher,
		logger:  log.With(map[string]interface{}{"engine": inner.Name()}),
	}
}

func (e *Enricher) Name() string { return e.inner.Name() }

func (e *Enricher) Search(ctx context.Context, query string, opts types.SearchOptions) ([]models.SearchHit, error) {
	hits, err := e.inner.Search(ctx, query, opts)
	if err != nil || !opts.Enrich {
		return hits, err
	}

	for i := range hits {
		if len(strings.TrimSpace(hits[i].Snippet)) >= minSnippetChars {
			continue
		}
		if ctx.Err() != nil {
			return hits, nil
		}

		doc, err := e.fetcher.Fetch(ctx, hits[i].URL)
		if err != nil {
			e.logger.Debug("enrichment fetch failed", map[string]interface{}{
				"url":   hits[i].URL,
				"error": err.Error(),
			})
			continue
		}
		if doc.Content == "" {
			continue
		}

		hits[i].Text = doc.Content
		if len(doc.Content) > len(hits[i].Snippet) {
			hits[i].Snippet = doc.Content
		}
		if hits[i].Title == "" {
			hits[i].Title = doc.Title
		}
	}
	return hits, nil
}
