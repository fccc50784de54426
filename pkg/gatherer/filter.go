package gatherer

import (
	"context"
	"math"
	"strings"

	"github.com/xhad/deepresearch/internal/models"
)

// Filter drops items with an empty snippet, a score below MinScore, or
// (with RelevanceCheck) no lexical overlap with their group's query. With
// an embedder configured, items whose similarity to the query is below
// RelevanceThreshold are dropped too. It runs on deduplicated groups.
func (g *Gatherer) Filter(ctx context.Context, groups []models.EvidenceGroup) []models.EvidenceGroup {
	out := make([]models.EvidenceGroup, len(groups))
	for gi, group := range groups {
		terms := g.processor.Terms(group.Query)

		items := make([]models.EvidenceItem, 0, len(group.Items))
		for _, item := range group.Items {
			if reason := g.reject(terms, item); reason != "" {
				g.logger.Debug("evidence dropped", map[string]interface{}{
					"query":  group.Query,
					"url":    item.URL,
					"reason": reason,
				})
				continue
			}
			items = append(items, item)
		}

		if g.embedder != nil && len(items) > 0 {
			items = g.filterBySimilarity(ctx, group.Query, items)
		}

		out[gi] = models.EvidenceGroup{
			Query:  group.Query,
			Engine: group.Engine,
			Items:  items,
		}
	}
	return out
}

func (g *Gatherer) reject(queryTerms []string, item models.EvidenceItem) string {
	switch {
	case strings.TrimSpace(item.Snippet) == "":
		return "empty snippet"
	case item.Score != nil && *item.Score < g.config.MinScore:
		return "score below floor"
	case g.config.RelevanceCheck && len(queryTerms) > 0 &&
		g.processor.Overlap(queryTerms, item.Title+" "+item.Snippet) == 0:
		return "off topic"
	}
	return ""
}

// filterBySimilarity embeds the query with its items in one call. An
// embedding failure leaves the items as they are.
func (g *Gatherer) filterBySimilarity(ctx context.Context, query string, items []models.EvidenceItem) []models.EvidenceItem {
	texts := make([]string, 0, len(items)+1)
	texts = append(texts, query)
	for _, item := range items {
		texts = append(texts, item.Title+"\n"+item.Snippet)
	}

	vectors, err := g.embedder.CreateEmbedding(ctx, texts)
	if err != nil || len(vectors) != len(texts) {
		g.logger.Warn("relevance check skipped", map[string]interface{}{
			"query": query,
			"error": errString(err),
		})
		return items
	}

	kept := items[:0:0]
	for i, item := range items {
		sim := cosine(vectors[0], vectors[i+1])
		if sim < g.config.RelevanceThreshold {
			g.logger.Debug("evidence dropped", map[string]interface{}{
				"query":      query,
				"url":        item.URL,
				"reason":     "low similarity",
				"similarity": sim,
			})
			continue
		}
		kept = append(kept, item)
	}
	return kept
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func errString(err error) string {
	if err == nil {
		return "vector count mismatch"
	}
	return err.Error()
}
