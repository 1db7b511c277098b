package model

import "context"

// Executor runs one test case and reports a terminal state, a verdict and notes.
// Result stays ResultUnknown until State reaches StateCompleted or StateBombed.
type Executor interface {
	State() ExecState
	SetState(s ExecState)
	Result() ExecResult
	SetResult(r ExecResult)
	Notes() string
	SetNotes(notes string)
	Execute(ctx context.Context, tc *TestCase) error
}

// Outcome is a snapshot of an executor after a run.
type Outcome struct {
	State  ExecState  `yaml:"state" json:"state"`
	Result ExecResult `yaml:"result" json:"result"`
	Notes  string     `yaml:"notes,omitempty" json:"notes,omitempty"`
}

func OutcomeOf(e Executor) Outcome {
	if e == nil {
		return Outcome{State: StateReady, Result: ResultUnknown}
	}
	return Outcome{State: e.State(), Result: e.Result(), Notes: e.Notes()}
}

// Apply copies an outcome into an executor.
func (o Outcome) Apply(e Executor) {
	e.SetNotes(o.Notes)
	e.SetResult(o.Result)
	e.SetState(o.State)
}
