// Package planner turns one research question into a fixed set of five
// standalone search queries: three related queries followed by two
// decomposition queries.
package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xhad/deepresearch/internal/logger"
	"github.com/xhad/deepresearch/internal/models"
	"github.com/xhad/deepresearch/internal/types"
)

// ErrEmptyQuestion is returned when there is nothing to expand.
var ErrEmptyQuestion = errors.New("question is empty")

var planSchema = types.Schema{
	Name: "QueryPlan",
	Definition: map[string]interface{}{
		"type":     "object",
		"required": []interface{}{"queries"},
		"properties": map[string]interface{}{
			"queries": map[string]interface{}{
				"type":        "array",
				"minItems":    models.QueryCount,
				"maxItems":    models.QueryCount,
				"description": "Exactly 5 search queries: first 3 are related queries, last 2 are decomposition queries",
				"items": map[string]interface{}{
					"type":      "string",
					"minLength": 1,
				},
			},
		},
	},
}

const systemPrompt = `You are a query preprocessor and task planner. You turn ONE user question into EXACTLY five search queries for downstream research. You never answer the question yourself.

Structure:
- Items 1-3 are RELATED queries: lateral expansions that broaden or deepen the topic while keeping its domain, intent and constraints.
- Items 4-5 are DECOMPOSITION queries: each isolates one distinct sub-topic or ambiguous facet of the question.
- If the question mixes several topics, every major topic gets at least one decomposition query of its own.

Quality:
- Every query is a standalone search query that makes sense without the original question. Restate any referent or constraint it needs (time range, location, entity, technology, language).
- Sharpen vague wording when useful, but never add constraints the user did not state: no invented dates, entities or scope.
- Write in the same language as the question.
- Use concrete, declarative research phrasing. No rhetorical questions, filler or conversational wording.`

// Planner is the query expansion stage.
type Planner struct {
	lm     types.LanguageModel
	logger logger.Logger
	now    func() time.Time
}

type Option func(*Planner)

// WithClock overrides the clock used for the date context.
func WithClock(now func() time.Time) Option {
	return func(p *Planner) {
		p.now = now
	}
}

// New returns a planner over lm. A nil log discards log output.
func New(lm types.LanguageModel, log logger.Logger, opts ...Option) *Planner {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	p := &Planner{
		lm:     lm,
		logger: log,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Expand derives the query plan for question. Any plan that is not exactly
// five non-blank queries is an EXPANSION_FAILED stage error; it is never
// padded or truncated.
func (p *Planner) Expand(ctx context.Context, question string) (models.QueryPlan, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return models.QueryPlan{}, fail(ErrEmptyQuestion)
	}

	var plan models.QueryPlan
	if err := p.lm.GenerateStructured(ctx, systemPrompt, p.prompt(question), planSchema, &plan); err != nil {
		return models.QueryPlan{}, fail(fmt.Errorf("generate query plan: %w", err))
	}

	for i := range plan.Queries {
		plan.Queries[i] = strings.TrimSpace(plan.Queries[i])
	}
	if err := plan.Validate(); err != nil {
		return models.QueryPlan{}, fail(err)
	}

	p.logger.Debug("query plan generated", map[string]interface{}{
		"related":       plan.Related(),
		"decomposition": plan.Decomposition(),
	})
	return plan, nil
}

func (p *Planner) prompt(question string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Current date (UTC): %s\n", p.now().UTC().Format("2006-01-02"))
	sb.WriteString("Use the date only to resolve relative time references the user wrote, such as \"latest\" or \"this year\".\n\n")
	fmt.Fprintf(&sb, "Question: %s", question)
	return sb.String()
}

func fail(err error) error {
	return models.NewStageError(models.ExpansionFailed, models.StateExpanding, err)
}
