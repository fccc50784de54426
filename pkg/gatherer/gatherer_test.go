package gatherer

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/deepresearch/internal/logger"
	"github.com/xhad/deepresearch/internal/models"
	"github.com/xhad/deepresearch/internal/types"
)

func score(v float64) *float64 { return &v }

var testPlan = models.QueryPlan{Queries: []string{
	"diffusion models image generation",
	"GAN image generation",
	"image generation benchmarks",
	"diffusion models denoising",
	"GAN training stability",
}}

type fakeSearcher struct {
	mu      sync.Mutex
	results map[string][]models.SearchHit
	errs    map[string]error
	delays  map[string]time.Duration
	opts    []types.SearchOptions
}

func (f *fakeSearcher) Name() string { return "fake" }

func (f *fakeSearcher) Search(ctx context.Context, query string, opts types.SearchOptions) ([]models.SearchHit, error) {
	f.mu.Lock()
	f.opts = append(f.opts, opts)
	f.mu.Unlock()

	if d := f.delays[query]; d > 0 {
		time.Sleep(d)
	}
	if err := f.errs[query]; err != nil {
		return nil, err
	}
	return f.results[query], nil
}

func newTestGatherer(t *testing.T, s types.Searcher, cfg Config, opts ...Option) *Gatherer {
	return New(s, logger.NewTestLogger(t), cfg, opts...)
}

func TestGatherDeduplicatesAcrossQueries(t *testing.T) {
	s := &fakeSearcher{results: map[string][]models.SearchHit{
		testPlan.Queries[0]: {
			{URL: "http://example.com/a", Title: "Diffusion vs GAN", Snippet: "Diffusion models beat GANs on image quality.", Score: score(0.5)},
			{URL: "https://arxiv.org/abs/2105.05233", Title: "Diffusion Models Beat GANs", Snippet: "Diffusion models image synthesis.", Score: score(0.8)},
		},
		testPlan.Queries[1]: {
			{URL: "http://example.com/a", Title: "Diffusion vs GAN", Snippet: "GAN image generation compared with diffusion.", Score: score(0.9)},
		},
	}}

	g := newTestGatherer(t, s, Config{MinScore: 0.2, RelevanceCheck: true})
	bundle, err := g.Gather(context.Background(), "Compare diffusion models and GANs", testPlan)
	require.NoError(t, err)

	require.Len(t, bundle.SearchResults, models.QueryCount)
	assert.Equal(t, testPlan.Queries, bundle.ExpandedQueries)
	assert.Equal(t, "Compare diffusion models and GANs", bundle.OriginalQuery)

	first := bundle.SearchResults[0].Items
	require.Len(t, first, 1)
	assert.Equal(t, "https://arxiv.org/abs/2105.05233", first[0].URL)
	assert.Equal(t, "academic", first[0].SourceType)

	second := bundle.SearchResults[1].Items
	require.Len(t, second, 1)
	assert.Equal(t, "http://example.com/a", second[0].URL)
	assert.Equal(t, 0.9, *second[0].Score)

	assert.Equal(t, 2, bundle.ItemCount())
	for _, opts := range s.opts {
		assert.True(t, opts.Enrich, "every search requests enrichment")
		assert.Equal(t, 8, opts.MaxResults)
	}
	assert.Len(t, s.opts, models.QueryCount)
}

func TestGatherAllSearchesEmpty(t *testing.T) {
	g := newTestGatherer(t, &fakeSearcher{}, Config{})

	bundle, err := g.Gather(context.Background(), "q", testPlan)
	require.NoError(t, err)

	require.Len(t, bundle.SearchResults, models.QueryCount)
	for i, group := range bundle.SearchResults {
		assert.Equal(t, testPlan.Queries[i], group.Query)
		assert.Equal(t, "fake", group.Engine)
		assert.Empty(t, group.Items)
	}
	assert.Zero(t, bundle.ItemCount())
}

func TestGatherAllSearchesFail(t *testing.T) {
	errs := make(map[string]error)
	for _, q := range testPlan.Queries {
		errs[q] = errors.New("http 500")
	}
	g := newTestGatherer(t, &fakeSearcher{errs: errs}, Config{})

	_, err := g.Gather(context.Background(), "q", testPlan)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllSearchesFailed)

	var stageErr *models.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, models.GatheringFailed, stageErr.Kind)
	assert.Equal(t, models.StateGathering, stageErr.Stage)
}

type panickingSearcher struct{ fakeSearcher }

func (p *panickingSearcher) Search(ctx context.Context, query string, opts types.SearchOptions) ([]models.SearchHit, error) {
	if query == testPlan.Queries[2] {
		panic("provider crashed")
	}
	return p.fakeSearcher.Search(ctx, query, opts)
}

func TestGatherSearchPanicIsUnexpectedFault(t *testing.T) {
	g := newTestGatherer(t, &panickingSearcher{}, Config{})

	_, err := g.Gather(context.Background(), "q", testPlan)
	require.Error(t, err)
	assert.ErrorContains(t, err, "provider crashed")

	var stageErr *models.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, models.UnexpectedFault, stageErr.Kind)
	assert.Equal(t, models.StateGathering, stageErr.Stage)
}

func TestGatherPartialFailureYieldsEmptyGroup(t *testing.T) {
	s := &fakeSearcher{
		results: map[string][]models.SearchHit{
			testPlan.Queries[0]: {{URL: "https://a.example/1", Title: "Diffusion", Snippet: "diffusion models image generation"}},
		},
		errs: map[string]error{testPlan.Queries[2]: errors.New("timeout")},
	}
	g := newTestGatherer(t, s, Config{})

	bundle, err := g.Gather(context.Background(), "q", testPlan)
	require.NoError(t, err)
	require.Len(t, bundle.SearchResults, models.QueryCount)
	assert.Equal(t, testPlan.Queries[2], bundle.SearchResults[2].Query)
	assert.Empty(t, bundle.SearchResults[2].Items)
	assert.Equal(t, 1, bundle.ItemCount())
}

func TestGatherPreservesQueryOrder(t *testing.T) {
	s := &fakeSearcher{
		results: make(map[string][]models.SearchHit),
		delays:  make(map[string]time.Duration),
	}
	for i, q := range testPlan.Queries {
		s.results[q] = []models.SearchHit{{URL: "https://example.com/" + q, Title: q, Snippet: q}}
		s.delays[q] = time.Duration(len(testPlan.Queries)-i) * 5 * time.Millisecond
	}
	g := newTestGatherer(t, s, Config{Concurrency: 5})

	bundle, err := g.Gather(context.Background(), "q", testPlan)
	require.NoError(t, err)
	for i, group := range bundle.SearchResults {
		assert.Equal(t, testPlan.Queries[i], group.Query)
		require.Len(t, group.Items, 1)
		assert.Equal(t, "https://example.com/"+testPlan.Queries[i], group.Items[0].URL)
	}
}

func TestGatherRejectsInvalidPlan(t *testing.T) {
	s := &fakeSearcher{}
	g := newTestGatherer(t, s, Config{})

	_, err := g.Gather(context.Background(), "q", models.QueryPlan{Queries: []string{"only one"}})
	var stageErr *models.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, models.GatheringFailed, stageErr.Kind)
	assert.Empty(t, s.opts, "no search runs for an invalid plan")
}

func TestGatherCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	g := newTestGatherer(t, &fakeSearcher{}, Config{})
	_, err := g.Gather(ctx, "q", testPlan)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGatherSnippetFallsBackToText(t *testing.T) {
	s := &fakeSearcher{results: map[string][]models.SearchHit{
		testPlan.Queries[0]: {{URL: " https://a.example/1 ", Title: "  Diffusion\n models ", Text: "Diffusion models   iteratively denoise."}},
		testPlan.Queries[1]: {{Title: "no url", Snippet: "GAN image generation"}},
	}}
	g := newTestGatherer(t, s, Config{})

	bundle, err := g.Gather(context.Background(), "q", testPlan)
	require.NoError(t, err)
	require.Len(t, bundle.SearchResults[0].Items, 1)
	item := bundle.SearchResults[0].Items[0]
	assert.Equal(t, "https://a.example/1", item.URL)
	assert.Equal(t, "Diffusion models", item.Title)
	assert.Equal(t, "Diffusion models iteratively denoise.", item.Snippet)
	assert.Empty(t, bundle.SearchResults[1].Items)
}

func TestDeduplicate(t *testing.T) {
	t.Run("highest score wins", func(t *testing.T) {
		groups := []models.EvidenceGroup{
			{Query: "q1", Items: []models.EvidenceItem{{URL: "http://example.com/a", Score: score(0.9)}}},
			{Query: "q2", Items: []models.EvidenceItem{{URL: "http://example.com/a", Score: score(0.5)}}},
		}
		out := Deduplicate(groups)
		require.Len(t, out, 2)
		require.Len(t, out[0].Items, 1)
		assert.Equal(t, 0.9, *out[0].Items[0].Score)
		assert.Empty(t, out[1].Items)
	})

	t.Run("later higher score moves the item", func(t *testing.T) {
		groups := []models.EvidenceGroup{
			{Query: "q1", Items: []models.EvidenceItem{{URL: "http://example.com/a", Score: score(0.5)}}},
			{Query: "q2", Items: []models.EvidenceItem{{URL: "http://example.com/a", Score: score(0.9)}}},
		}
		out := Deduplicate(groups)
		assert.Empty(t, out[0].Items)
		require.Len(t, out[1].Items, 1)
		assert.Equal(t, 0.9, *out[1].Items[0].Score)
	})

	t.Run("missing or equal scores keep first seen", func(t *testing.T) {
		groups := []models.EvidenceGroup{
			{Query: "q1", Items: []models.EvidenceItem{{URL: "u", Title: "first"}, {URL: "v", Title: "first", Score: score(0.7)}}},
			{Query: "q2", Items: []models.EvidenceItem{{URL: "u", Title: "second", Score: score(0.99)}, {URL: "v", Title: "second", Score: score(0.7)}}},
		}
		out := Deduplicate(groups)
		require.Len(t, out[0].Items, 2)
		assert.Equal(t, "first", out[0].Items[0].Title)
		assert.Equal(t, "first", out[0].Items[1].Title)
		assert.Empty(t, out[1].Items)
	})

	t.Run("snippet beats empty snippet", func(t *testing.T) {
		groups := []models.EvidenceGroup{
			{Query: "q1", Items: []models.EvidenceItem{{URL: "u", Score: score(0.9)}}},
			{Query: "q2", Items: []models.EvidenceItem{{URL: "u", Snippet: "real text", Score: score(0.2)}}},
		}
		out := Deduplicate(groups)
		assert.Empty(t, out[0].Items)
		require.Len(t, out[1].Items, 1)
		assert.Equal(t, "real text", out[1].Items[0].Snippet)
	})

	t.Run("duplicates within one group", func(t *testing.T) {
		groups := []models.EvidenceGroup{
			{Query: "q1", Items: []models.EvidenceItem{{URL: "u", Score: score(0.1)}, {URL: "u", Score: score(0.2)}}},
		}
		out := Deduplicate(groups)
		require.Len(t, out[0].Items, 1)
		assert.Equal(t, 0.2, *out[0].Items[0].Score)
	})

	t.Run("idempotent", func(t *testing.T) {
		groups := []models.EvidenceGroup{
			{Query: "q1", Engine: "exa", Items: []models.EvidenceItem{{URL: "a", Score: score(0.3)}, {URL: "b"}}},
			{Query: "q2", Engine: "exa", Items: []models.EvidenceItem{{URL: "a", Score: score(0.6)}, {URL: "c"}}},
			{Query: "q3", Engine: "exa", Items: []models.EvidenceItem{{URL: "b"}, {URL: "c", Score: score(1)}}},
			{Query: "q4", Engine: "exa", Items: []models.EvidenceItem{}},
		}
		once := Deduplicate(groups)
		twice := Deduplicate(once)
		if diff := cmp.Diff(once, twice); diff != "" {
			t.Errorf("Deduplicate not idempotent (-once +twice):\n%s", diff)
		}

		seen := make(map[string]bool)
		for _, g := range once {
			for _, it := range g.Items {
				assert.False(t, seen[it.URL], "duplicate url %s", it.URL)
				seen[it.URL] = true
			}
		}
		assert.Len(t, seen, 3)
	})
}

func TestFilter(t *testing.T) {
	g := newTestGatherer(t, &fakeSearcher{}, Config{MinScore: 0.3, RelevanceCheck: true})

	groups := []models.EvidenceGroup{{
		Query: "GAN training stability",
		Items: []models.EvidenceItem{
			{URL: "keep", Title: "Stabilizing GAN training", Snippet: "Spectral normalization helps.", Score: score(0.8)},
			{URL: "empty", Title: "GAN training", Snippet: "   "},
			{URL: "low", Title: "GAN training tricks", Snippet: "A list of tricks.", Score: score(0.1)},
			{URL: "offtopic", Title: "Pizza recipes", Snippet: "Best pizza in Naples."},
			{URL: "unscored", Title: "Mode collapse", Snippet: "Why GAN training diverges."},
		},
	}}

	out := g.Filter(context.Background(), groups)
	require.Len(t, out, 1)
	var urls []string
	for _, it := range out[0].Items {
		urls = append(urls, it.URL)
	}
	assert.Equal(t, []string{"keep", "unscored"}, urls)

	t.Run("lexical check disabled", func(t *testing.T) {
		g := newTestGatherer(t, &fakeSearcher{}, Config{})
		out := g.Filter(context.Background(), groups)
		assert.Len(t, out[0].Items, 4)
	})
}

func TestFilterRunsAfterDedup(t *testing.T) {
	t.Run("better scored duplicate of an item below the floor", func(t *testing.T) {
		s := &fakeSearcher{results: map[string][]models.SearchHit{
			testPlan.Queries[0]: {{URL: "https://x.example", Title: "diffusion", Snippet: "diffusion models image generation", Score: score(0.1)}},
			testPlan.Queries[1]: {{URL: "https://x.example", Title: "GAN", Snippet: "GAN image generation", Score: score(0.8)}},
		}}
		g := newTestGatherer(t, s, Config{MinScore: 0.5, RelevanceCheck: true})

		bundle, err := g.Gather(context.Background(), "q", testPlan)
		require.NoError(t, err)
		assert.Empty(t, bundle.SearchResults[0].Items)
		require.Len(t, bundle.SearchResults[1].Items, 1)
		assert.Equal(t, "https://x.example", bundle.SearchResults[1].Items[0].URL)
	})

	t.Run("later duplicate with a snippet beats an unscored empty one", func(t *testing.T) {
		s := &fakeSearcher{results: map[string][]models.SearchHit{
			testPlan.Queries[0]: {{URL: "https://a.example", Title: "Overview"}},
			testPlan.Queries[1]: {{URL: "https://a.example", Title: "Overview", Snippet: "GAN image generation overview", Score: score(0.5)}},
		}}
		g := newTestGatherer(t, s, Config{RelevanceCheck: true})

		bundle, err := g.Gather(context.Background(), "q", testPlan)
		require.NoError(t, err)
		assert.Empty(t, bundle.SearchResults[0].Items)
		require.Len(t, bundle.SearchResults[1].Items, 1)
		assert.Equal(t, "GAN image generation overview", bundle.SearchResults[1].Items[0].Snippet)
	})

	t.Run("later on-topic duplicate beats an off-topic one", func(t *testing.T) {
		s := &fakeSearcher{results: map[string][]models.SearchHit{
			testPlan.Queries[0]: {{URL: "https://b.example", Title: "Travel", Snippet: "Best pizza in Naples."}},
			testPlan.Queries[4]: {{URL: "https://b.example", Title: "Notes", Snippet: "Why GAN training loses stability."}},
		}}
		g := newTestGatherer(t, s, Config{RelevanceCheck: true})

		bundle, err := g.Gather(context.Background(), "q", testPlan)
		require.NoError(t, err)
		assert.Empty(t, bundle.SearchResults[0].Items)
		require.Len(t, bundle.SearchResults[4].Items, 1)
		assert.Equal(t, "https://b.example", bundle.SearchResults[4].Items[0].URL)
	})
}

type fakeEmbedder struct {
	err error
}

// vectors point along x for anything mentioning gan, along y otherwise
func (f fakeEmbedder) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if strings.Contains(strings.ToLower(text), "gan") {
			out[i] = []float32{1, 0}
		} else {
			out[i] = []float32{0, 1}
		}
	}
	return out, nil
}

func TestFilterWithEmbedder(t *testing.T) {
	groups := []models.EvidenceGroup{{
		Query: "GAN training",
		Items: []models.EvidenceItem{
			{URL: "on", Title: "GAN training", Snippet: "training GAN discriminators"},
			{URL: "off", Title: "Training schedules", Snippet: "learning rate warmup for training"},
		},
	}}

	g := newTestGatherer(t, &fakeSearcher{}, Config{RelevanceCheck: true, RelevanceThreshold: 0.5}, WithEmbedder(fakeEmbedder{}))
	out := g.Filter(context.Background(), groups)
	require.Len(t, out[0].Items, 1)
	assert.Equal(t, "on", out[0].Items[0].URL)

	g = newTestGatherer(t, &fakeSearcher{}, Config{RelevanceCheck: true, RelevanceThreshold: 0.5},
		WithEmbedder(fakeEmbedder{err: errors.New("embedding backend down")}))
	out = g.Filter(context.Background(), groups)
	assert.Len(t, out[0].Items, 2, "embedding failure keeps lexical survivors")

	g = newTestGatherer(t, &fakeSearcher{}, Config{RelevanceThreshold: 0.5}, WithEmbedder(fakeEmbedder{}))
	out = g.Filter(context.Background(), groups)
	require.Len(t, out[0].Items, 1, "embedder filters without the lexical check")
	assert.Equal(t, "on", out[0].Items[0].URL)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, cosine([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, cosine([]float32{1, 0}, []float32{0, 3}), 1e-9)
	assert.Zero(t, cosine([]float32{1}, []float32{1, 2}))
	assert.Zero(t, cosine([]float32{0, 0}, []float32{1, 2}))
}

func TestClassifySource(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://arxiv.org/abs/2006.11239", "academic"},
		{"https://cs.stanford.edu/~someone/paper.html", "academic"},
		{"https://www.ox.ac.uk/research", "academic"},
		{"https://example.com/whitepaper.PDF", "pdf"},
		{"https://www.youtube.com/watch?v=abc", "video"},
		{"https://en.wikipedia.org/wiki/Diffusion_model", "reference"},
		{"https://www.reuters.com/technology/ai", "news"},
		{"https://example.com/news/2024/ai", "news"},
		{"https://blog.example.com/post", "web"},
		{"not a url", "web"},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifySource(tt.url))
		})
	}
}

type notesModel struct {
	response string
	err      error
}

func (m notesModel) GenerateStructured(ctx context.Context, system, prompt string, schema types.Schema, out interface{}) error {
	if m.err != nil {
		return m.err
	}
	return json.Unmarshal([]byte(m.response), out)
}

func TestGatherNotes(t *testing.T) {
	s := &fakeSearcher{results: map[string][]models.SearchHit{
		testPlan.Queries[1]: {{URL: "https://a.example/gan", Title: "GAN", Snippet: "GAN image generation is fast."}},
	}}

	t.Run("notes on unknown sources are dropped", func(t *testing.T) {
		lm := notesModel{response: `{"notes": [
			{"source_url": "https://a.example/gan", "summary": "GANs sample in one pass.", "stance": "supports", "quality": "medium"},
			{"source_url": "https://a.example/gan", "summary": "duplicate", "stance": "neutral", "quality": "low"},
			{"source_url": "https://invented.example", "summary": "made up", "stance": "refutes", "quality": "high"}
		]}`}
		g := newTestGatherer(t, s, Config{}, WithNotes(lm))

		bundle, err := g.Gather(context.Background(), "q", testPlan)
		require.NoError(t, err)
		require.Len(t, bundle.Notes, 1)
		note := bundle.Notes[0]
		assert.NotEmpty(t, note.ID)
		assert.Equal(t, testPlan.Queries[1], note.Query)
		assert.Equal(t, "https://a.example/gan", note.SourceURL)
		assert.Equal(t, "supports", note.Stance)
	})

	t.Run("note failure is tolerated", func(t *testing.T) {
		g := newTestGatherer(t, s, Config{}, WithNotes(notesModel{err: errors.New("quota")}))
		bundle, err := g.Gather(context.Background(), "q", testPlan)
		require.NoError(t, err)
		assert.Empty(t, bundle.Notes)
		assert.Equal(t, 1, bundle.ItemCount())
	})
}
