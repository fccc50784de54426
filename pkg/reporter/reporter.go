// Package reporter is the synthesis stage. The language model drafts the
// prose against numbered evidence ids; the report itself (section order,
// citation numbering and source list) is rendered here and validated
// before it is returned.
package reporter

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xhad/deepresearch/internal/logger"
	"github.com/xhad/deepresearch/internal/models"
	"github.com/xhad/deepresearch/internal/types"
)

var (
	// ErrEmptyBundle is returned when no evidence survived gathering.
	ErrEmptyBundle = errors.New("evidence bundle has no items")
	// ErrInvalidReport is returned when a report breaks the section or citation contract.
	ErrInvalidReport = errors.New("invalid report")
)

var draftSchema = types.Schema{
	Name: "ReportDraft",
	Definition: map[string]interface{}{
		"type":     "object",
		"required": []interface{}{"summary", "analysis", "conflicts", "limitations"},
		"properties": map[string]interface{}{
			"summary":  map[string]interface{}{"type": "string", "minLength": 1},
			"analysis": map[string]interface{}{"type": "string", "minLength": 1},
			"conflicts": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type":     "object",
					"required": []interface{}{"claim", "positions"},
					"properties": map[string]interface{}{
						"claim": map[string]interface{}{"type": "string", "minLength": 1},
						"positions": map[string]interface{}{
							"type":     "array",
							"minItems": 2,
							"items":    map[string]interface{}{"type": "string", "minLength": 1},
						},
					},
				},
			},
			"limitations": map[string]interface{}{"type": "string"},
		},
	},
}

const systemPrompt = `You are an expert analyst and technical writer. You synthesize the research evidence you are given into a report draft.

Fields:
- summary: a direct, concise answer to the question.
- analysis: explanations, comparisons, key concepts, caveats and uncertainties. Markdown paragraphs and lists are fine; do not use top-level headings.
- conflicts: every claim on which sources disagree, with one position per side. Use an empty list only if the sources agree.
- limitations: the limitations of the sources (coverage, recency, quality).

Rules:
- Base everything strictly on the evidence. Do not introduce studies, urls, numbers or claims that are not in it.
- Cite evidence with its id in square brackets, for example [S2] or [S1, S4], right after the statement it supports. Use only the ids listed.
- Do not write a source list; it is generated from your citations.`

type draft struct {
	Summary     string     `json:"summary"`
	Analysis    string     `json:"analysis"`
	Conflicts   []conflict `json:"conflicts"`
	Limitations string     `json:"limitations"`
}

type conflict struct {
	Claim     string   `json:"claim"`
	Positions []string `json:"positions"`
}

type Reporter struct {
	lm     types.LanguageModel
	logger logger.Logger
}

func New(lm types.LanguageModel, log logger.Logger) *Reporter {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Reporter{lm: lm, logger: log}
}

// Synthesize writes the report for bundle. An empty bundle, a failed draft
// or a report that does not validate is a SYNTHESIS_FAILED stage error.
func (r *Reporter) Synthesize(ctx context.Context, bundle models.EvidenceBundle) (models.Report, error) {
	items := bundle.Items()
	if len(items) == 0 {
		return models.Report{}, fail(ErrEmptyBundle)
	}

	var d draft
	if err := r.lm.GenerateStructured(ctx, systemPrompt, evidencePrompt(bundle, items), draftSchema, &d); err != nil {
		return models.Report{}, fail(fmt.Errorf("generate report draft: %w", err))
	}

	report, err := render(bundle, items, d)
	if err != nil {
		return models.Report{}, fail(err)
	}
	if err := Validate(report, bundle); err != nil {
		return models.Report{}, fail(err)
	}

	r.logger.Debug("report rendered", map[string]interface{}{
		"evidence_items": len(items),
		"cited_sources":  len(report.Sources),
		"conflicts":      len(d.Conflicts),
	})
	return report, nil
}

// evidencePrompt lists every item under its S id in bundle order.
func evidencePrompt(bundle models.EvidenceBundle, items []models.EvidenceItem) string {
	id := make(map[string]int, len(items))
	for i, it := range items {
		id[it.URL] = i + 1
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Question: %s\n\nSearch queries:\n", bundle.OriginalQuery)
	for _, q := range bundle.ExpandedQueries {
		fmt.Fprintf(&sb, "- %s\n", q)
	}

	sb.WriteString("\nEvidence:\n")
	for _, group := range bundle.SearchResults {
		for _, it := range group.Items {
			fmt.Fprintf(&sb, "\n[S%d] %s\n", id[it.URL], it.Title)
			fmt.Fprintf(&sb, "url: %s\ntype: %s\nfound by: %s\n", it.URL, it.SourceType, group.Query)
			if it.PublishedAt != nil {
				fmt.Fprintf(&sb, "published: %s\n", it.PublishedAt.Format("2006-01-02"))
			}
			fmt.Fprintf(&sb, "snippet: %s\n", it.Snippet)
		}
	}

	if len(bundle.Notes) > 0 {
		sb.WriteString("\nAnalyst notes:\n")
		for _, n := range bundle.Notes {
			if s, ok := id[n.SourceURL]; ok {
				fmt.Fprintf(&sb, "- on [S%d] (%s, quality %s): %s\n", s, n.Stance, n.Quality, n.Summary)
			}
		}
	}
	return sb.String()
}

func fail(err error) error {
	return models.NewStageError(models.SynthesisFailed, models.StateSynthesizing, err)
}
