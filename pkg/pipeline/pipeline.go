// Package pipeline sequences the three research stages and turns whatever
// happens into a single Outcome. It is the only component that knows the
// full order: expanding, gathering, synthesizing.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/xhad/deepresearch/internal/logger"
	"github.com/xhad/deepresearch/internal/models"
)

// ModeWeb is the only supported source mode.
const ModeWeb = "web"

// ErrNoEvidence halts a run whose gathering stage retained nothing.
var ErrNoEvidence = errors.New("no evidence survived gathering")

type Expander interface {
	Expand(ctx context.Context, question string) (models.QueryPlan, error)
}

type Gatherer interface {
	Gather(ctx context.Context, question string, plan models.QueryPlan) (models.EvidenceBundle, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, bundle models.EvidenceBundle) (models.Report, error)
}

type Pipeline struct {
	expander    Expander
	gatherer    Gatherer
	synthesizer Synthesizer
	logger      logger.Logger
}

func New(expander Expander, gatherer Gatherer, synthesizer Synthesizer, log logger.Logger) *Pipeline {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Pipeline{
		expander:    expander,
		gatherer:    gatherer,
		synthesizer: synthesizer,
		logger:      log,
	}
}

// Observer is told about every state transition of a run, in order.
type Observer func(from, to models.State)

type RunOption func(*run)

func WithObserver(fn Observer) RunOption {
	return func(r *run) {
		r.observers = append(r.observers, fn)
	}
}

// WithRunID replaces the generated run id.
func WithRunID(id string) RunOption {
	return func(r *run) {
		r.id = id
	}
}

type run struct {
	id        string
	state     models.State
	trace     []models.State
	observers []Observer
	logger    logger.Logger
}

func (r *run) transition(to models.State) {
	from := r.state
	r.state = to
	r.trace = append(r.trace, to)
	r.logger.Debug("state transition", map[string]interface{}{
		"from": string(from),
		"to":   string(to),
	})
	for _, obs := range r.observers {
		r.notify(obs, from, to)
	}
}

// notify shields the run from a failing observer.
func (r *run) notify(obs Observer, from, to models.State) {
	defer func() {
		if v := recover(); v != nil {
			r.logger.Warn("observer panicked", map[string]interface{}{"panic": fmt.Sprint(v)})
		}
	}()
	obs(from, to)
}

func (r *run) fail(err error) models.Outcome {
	stage := r.state
	failure := toFailure(err, stage)

	r.logger.WithError(err).Error("pipeline failed", map[string]interface{}{
		"kind":  string(failure.Kind),
		"stage": string(failure.Stage),
	})
	r.transition(models.StateFailed)

	return models.Outcome{RunID: r.id, Failure: failure, Trace: r.trace}
}

// Run answers question through expansion, gathering and synthesis. It
// never panics and never returns both a report and a failure; mode must
// be "web".
func (p *Pipeline) Run(ctx context.Context, question, mode string, opts ...RunOption) (outcome models.Outcome) {
	r := &run{
		id:    uuid.NewString(),
		state: models.StateInit,
		trace: []models.State{models.StateInit},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = p.logger.With(map[string]interface{}{
		"run_id":   r.id,
		"question": question,
		"mode":     mode,
	})

	defer func() {
		if v := recover(); v != nil {
			outcome = r.fail(models.NewStageError(models.UnexpectedFault, r.state, fmt.Errorf("panic: %v", v)))
		}
	}()

	r.logger.Info("starting deep research pipeline", nil)

	if mode != ModeWeb {
		return r.fail(models.NewStageError(models.UnsupportedMode, models.StateInit,
			fmt.Errorf("source mode %q is not supported", mode)))
	}

	r.transition(models.StateExpanding)
	if err := ctx.Err(); err != nil {
		return r.fail(err)
	}
	plan, err := p.expander.Expand(ctx, question)
	if err != nil {
		return r.fail(err)
	}
	if err := plan.Validate(); err != nil {
		return r.fail(models.NewStageError(models.ExpansionFailed, models.StateExpanding, err))
	}
	r.logger.Info("query plan generated", map[string]interface{}{
		"expanded_queries": plan.Queries,
	})

	r.transition(models.StateGathering)
	if err := ctx.Err(); err != nil {
		return r.fail(err)
	}
	bundle, err := p.gatherer.Gather(ctx, question, plan)
	if err != nil {
		return r.fail(err)
	}
	if err := checkBundle(bundle, plan); err != nil {
		return r.fail(models.NewStageError(models.GatheringFailed, models.StateGathering, err))
	}
	r.logger.Info("research bundle collected", map[string]interface{}{
		"result_count": bundle.ItemCount(),
		"notes":        len(bundle.Notes),
	})

	r.transition(models.StateSynthesizing)
	if bundle.ItemCount() == 0 {
		return r.fail(models.NewStageError(models.SynthesisFailed, models.StateSynthesizing, ErrNoEvidence))
	}
	if err := ctx.Err(); err != nil {
		return r.fail(err)
	}
	report, err := p.synthesizer.Synthesize(ctx, bundle)
	if err != nil {
		return r.fail(err)
	}
	if strings.TrimSpace(report.Markdown) == "" {
		return r.fail(models.NewStageError(models.SynthesisFailed, models.StateSynthesizing, errors.New("empty report")))
	}

	r.transition(models.StateDone)
	r.logger.Info("deep research pipeline completed", map[string]interface{}{
		"cited_sources": len(report.Sources),
	})
	return models.Outcome{RunID: r.id, Report: &report, Trace: r.trace}
}

// checkBundle enforces one group per query, in query order.
func checkBundle(bundle models.EvidenceBundle, plan models.QueryPlan) error {
	if len(bundle.SearchResults) != len(plan.Queries) {
		return fmt.Errorf("expected %d evidence groups, got %d", len(plan.Queries), len(bundle.SearchResults))
	}
	for i, group := range bundle.SearchResults {
		if group.Query != plan.Queries[i] {
			return fmt.Errorf("evidence group %d is for %q, want %q", i, group.Query, plan.Queries[i])
		}
	}
	return nil
}

var stageKinds = map[models.State]models.FailureKind{
	models.StateExpanding:    models.ExpansionFailed,
	models.StateGathering:    models.GatheringFailed,
	models.StateSynthesizing: models.SynthesisFailed,
}

// toFailure keeps the kind of a stage error. A canceled or expired context
// fails the current stage; anything else is unexpected.
func toFailure(err error, stage models.State) *models.Failure {
	var stageErr *models.StageError
	if errors.As(err, &stageErr) {
		return &models.Failure{
			Kind:    stageErr.Kind,
			Stage:   stageErr.Stage,
			Message: message(stageErr.Err),
			Err:     err,
		}
	}

	kind := models.UnexpectedFault
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if k, ok := stageKinds[stage]; ok {
			kind = k
		}
	}
	return &models.Failure{Kind: kind, Stage: stage, Message: message(err), Err: err}
}

func message(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
