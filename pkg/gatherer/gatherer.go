// Package gatherer is the evidence gathering stage. It runs every derived
// query against the search capability, keeps one best occurrence per url,
// drops low-quality or off-topic items and assembles the evidence bundle.
package gatherer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xhad/deepresearch/internal/logger"
	"github.com/xhad/deepresearch/internal/models"
	"github.com/xhad/deepresearch/internal/types"
	"github.com/xhad/deepresearch/pkg/processor"
	"golang.org/x/sync/errgroup"
)

// ErrAllSearchesFailed is returned when not a single query could be searched.
var ErrAllSearchesFailed = errors.New("all searches failed")

type Config struct {
	MaxResults         int     // per query
	MinScore           float64 // items scored below this are dropped
	Concurrency        int
	RelevanceCheck     bool
	RelevanceThreshold float64 // cosine floor, only used with an embedder
	MaxExcerptChars    int
}

type Gatherer struct {
	config    Config
	searcher  types.Searcher
	embedder  types.Embedder
	notes     types.LanguageModel
	processor processor.Processor
	logger    logger.Logger
}

type Option func(*Gatherer)

// WithEmbedder enables the embedding relevance check.
func WithEmbedder(e types.Embedder) Option {
	return func(g *Gatherer) {
		g.embedder = e
	}
}

// WithNotes asks lm for analytic notes on the retained sources.
func WithNotes(lm types.LanguageModel) Option {
	return func(g *Gatherer) {
		g.notes = lm
	}
}

func New(searcher types.Searcher, log logger.Logger, config Config, opts ...Option) *Gatherer {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	if config.MaxResults <= 0 {
		config.MaxResults = 8
	}
	if config.Concurrency <= 0 {
		config.Concurrency = models.QueryCount
	}

	g := &Gatherer{
		config:   config,
		searcher: searcher,
		logger:   log,
		processor: processor.NewWithConfig(processor.ProcessorConfig{
			MaxExcerptChars: config.MaxExcerptChars,
		}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Gather searches every query of plan and returns the evidence bundle with
// exactly one group per query, in plan order. Individual search failures
// yield empty groups; only a failure of every search is an error.
func (g *Gatherer) Gather(ctx context.Context, question string, plan models.QueryPlan) (models.EvidenceBundle, error) {
	if err := plan.Validate(); err != nil {
		return models.EvidenceBundle{}, fail(fmt.Errorf("invalid query plan: %w", err))
	}

	engine := g.searcher.Name()
	groups := make([]models.EvidenceGroup, len(plan.Queries))
	errs := make([]error, len(plan.Queries))

	search := func(ctx context.Context, i int, query string) {
		hits, err := g.searcher.Search(ctx, query, types.SearchOptions{
			Enrich:     true,
			MaxResults: g.config.MaxResults,
		})
		groups[i] = models.EvidenceGroup{Query: query, Engine: engine, Items: []models.EvidenceItem{}}
		if err != nil {
			errs[i] = fmt.Errorf("search %q: %w", query, err)
			g.logger.Warn("search failed", map[string]interface{}{
				"query": query,
				"error": err.Error(),
			})
			return
		}
		groups[i].Items = g.toItems(hits)
	}

	// A panic on a search goroutine cannot reach the caller's recover, so it
	// comes back as an error and fails the whole stage.
	eg := new(errgroup.Group)
	eg.SetLimit(g.config.Concurrency)
	for i, query := range plan.Queries {
		i, query := i, query
		eg.Go(func() (err error) {
			defer func() {
				if v := recover(); v != nil {
					err = fmt.Errorf("search %q panicked: %v", query, v)
				}
			}()
			search(ctx, i, query)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		g.logger.Error("search crashed", map[string]interface{}{"error": err.Error()})
		return models.EvidenceBundle{}, models.NewStageError(models.UnexpectedFault, models.StateGathering, err)
	}

	if err := ctx.Err(); err != nil {
		return models.EvidenceBundle{}, fail(err)
	}

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
		}
	}
	if failed == len(plan.Queries) {
		return models.EvidenceBundle{}, fail(fmt.Errorf("%w: %w", ErrAllSearchesFailed, errors.Join(errs...)))
	}

	groups = g.Filter(ctx, g.deduplicate(groups))

	bundle := models.EvidenceBundle{
		OriginalQuery:   question,
		ExpandedQueries: append([]string(nil), plan.Queries...),
		SearchResults:   groups,
	}

	if g.notes != nil && bundle.ItemCount() > 0 {
		notes, err := g.takeNotes(ctx, bundle)
		if err != nil {
			g.logger.Warn("notes skipped", map[string]interface{}{"error": err.Error()})
		}
		bundle.Notes = notes
	}

	g.logger.Debug("evidence gathered", map[string]interface{}{
		"engine":         engine,
		"failed_queries": failed,
		"items":          bundle.ItemCount(),
		"notes":          len(bundle.Notes),
	})
	return bundle, nil
}

// toItems turns raw hits into evidence items. Hits without a url are not evidence.
func (g *Gatherer) toItems(hits []models.SearchHit) []models.EvidenceItem {
	items := make([]models.EvidenceItem, 0, len(hits))
	for _, hit := range hits {
		url := strings.TrimSpace(hit.URL)
		if url == "" {
			continue
		}

		snippet := g.processor.Excerpt(hit.Snippet)
		if snippet == "" {
			snippet = g.processor.Excerpt(hit.Text)
		}

		items = append(items, models.EvidenceItem{
			URL:         url,
			Title:       g.processor.Clean(hit.Title),
			Snippet:     snippet,
			Score:       hit.Score,
			PublishedAt: hit.PublishedAt,
			SourceType:  ClassifySource(url),
		})
	}
	return items
}

func fail(err error) error {
	return models.NewStageError(models.GatheringFailed, models.StateGathering, err)
}
