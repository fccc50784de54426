package gatherer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/xhad/deepresearch/internal/models"
	"github.com/xhad/deepresearch/internal/types"
)

var notesSchema = types.Schema{
	Name: "ResearchNotes",
	Definition: map[string]interface{}{
		"type":     "object",
		"required": []interface{}{"notes"},
		"properties": map[string]interface{}{
			"notes": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type":     "object",
					"required": []interface{}{"source_url", "summary", "stance", "quality"},
					"properties": map[string]interface{}{
						"source_url": map[string]interface{}{"type": "string", "minLength": 1},
						"summary":    map[string]interface{}{"type": "string", "minLength": 1},
						"stance":     map[string]interface{}{"enum": []interface{}{"supports", "refutes", "neutral", "mixed"}},
						"quality":    map[string]interface{}{"enum": []interface{}{"high", "medium", "low"}},
					},
				},
			},
		},
	},
}

const notesPrompt = `You are a careful research analyst. For the most salient sources in the evidence below, write one short note each: what the source says that bears on the question, its stance toward the question's premise (supports, refutes, neutral or mixed) and a quality hint (high, medium or low).
Use only the listed sources and copy their urls exactly. Do not add facts that are not in the evidence.`

type draftNote struct {
	SourceURL string `json:"source_url"`
	Summary   string `json:"summary"`
	Stance    string `json:"stance"`
	Quality   string `json:"quality"`
}

// takeNotes asks the model for analytic notes. Notes on urls that are not
// in the bundle are discarded, as are repeated notes on one url.
func (g *Gatherer) takeNotes(ctx context.Context, bundle models.EvidenceBundle) ([]models.Note, error) {
	evidence, err := json.MarshalIndent(bundle.SearchResults, "", "  ")
	if err != nil {
		return nil, err
	}
	prompt := fmt.Sprintf("Question: %s\n\nEvidence:\n%s", bundle.OriginalQuery, evidence)

	var draft struct {
		Notes []draftNote `json:"notes"`
	}
	if err := g.notes.GenerateStructured(ctx, notesPrompt, prompt, notesSchema, &draft); err != nil {
		return nil, fmt.Errorf("generate notes: %w", err)
	}

	queryOf := make(map[string]string)
	for _, group := range bundle.SearchResults {
		for _, item := range group.Items {
			queryOf[item.URL] = group.Query
		}
	}

	seen := make(map[string]bool)
	var notes []models.Note
	for _, n := range draft.Notes {
		url := strings.TrimSpace(n.SourceURL)
		query, ok := queryOf[url]
		if !ok || seen[url] {
			continue
		}
		seen[url] = true
		notes = append(notes, models.Note{
			ID:        uuid.NewString(),
			Query:     query,
			SourceURL: url,
			Summary:   strings.TrimSpace(n.Summary),
			Stance:    n.Stance,
			Quality:   n.Quality,
		})
	}
	return notes, nil
}
