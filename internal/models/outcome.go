package models

import "fmt"

// State is a pipeline run state.
type State string

const (
	StateInit         State = "init"
	StateExpanding    State = "expanding"
	StateGathering    State = "gathering"
	StateSynthesizing State = "synthesizing"
	StateDone         State = "done"
	StateFailed       State = "failed"
)

// FailureKind classifies why a run stopped.
type FailureKind string

const (
	ExpansionFailed FailureKind = "EXPANSION_FAILED"
	GatheringFailed FailureKind = "GATHERING_FAILED"
	SynthesisFailed FailureKind = "SYNTHESIS_FAILED"
	UnsupportedMode FailureKind = "UNSUPPORTED_MODE"
	UnexpectedFault FailureKind = "UNEXPECTED_FAULT"
)

// StageError is raised by a stage that could not honour its output contract.
type StageError struct {
	Kind  FailureKind
	Stage State
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Kind, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError wraps err with a failure kind and the stage it came from.
func NewStageError(kind FailureKind, stage State, err error) *StageError {
	return &StageError{Kind: kind, Stage: stage, Err: err}
}

// Failure describes a run that did not produce a report.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Stage   State       `json:"stage"`
	Message string      `json:"message"`
	Err     error       `json:"-"`
}

// Outcome is either a report or a failure, never both.
type Outcome struct {
	RunID   string   `json:"run_id"`
	Report  *Report  `json:"report,omitempty"`
	Failure *Failure `json:"failure,omitempty"`
	Trace   []State  `json:"trace"`
}

// Succeeded reports whether the run produced a report.
func (o Outcome) Succeeded() bool {
	return o.Failure == nil && o.Report != nil
}
