package executor

import (
	"context"

	"github.com/msageha/tcexec/internal/model"
)

// EmptyNotes is reported by an Empty executor that stood in for a missing binding.
const EmptyNotes = "Empty executor generated to report executor missing from test case."

// Empty is a no-op executor that completes with a fixed default result.
type Empty struct {
	Base
	defaultResult model.ExecResult
}

// NewEmpty returns an Empty executor that reports FAILED.
func NewEmpty() *Empty {
	return NewEmptyWithResult(model.ResultFailed)
}

func NewEmptyWithResult(r model.ExecResult) *Empty {
	e := &Empty{defaultResult: r}
	e.SetNotes(EmptyNotes)
	return e
}

func (e *Empty) Execute(_ context.Context, _ *model.TestCase) error {
	e.SetState(model.StateRunning)
	e.SetResult(e.defaultResult)
	e.SetState(model.StateCompleted)
	return nil
}

// Fixed always completes with the configured result and notes.
type Fixed struct {
	Base
	result model.ExecResult
	notes  string
}

func NewFixed(r model.ExecResult, notes string) *Fixed {
	return &Fixed{result: r, notes: notes}
}

func (f *Fixed) Execute(_ context.Context, _ *model.TestCase) error {
	f.SetState(model.StateRunning)
	f.finish(f.result, f.notes)
	return nil
}

// Func adapts a function into an executor. A returned error bombs the run.
type Func struct {
	Base
	fn func(ctx context.Context, tc *model.TestCase) (model.ExecResult, string, error)
}

func NewFunc(fn func(ctx context.Context, tc *model.TestCase) (model.ExecResult, string, error)) *Func {
	return &Func{fn: fn}
}

func (f *Func) Execute(ctx context.Context, tc *model.TestCase) error {
	f.SetState(model.StateRunning)
	r, notes, err := f.fn(ctx, tc)
	if err != nil {
		f.SetNotes(notes)
		return err
	}
	f.finish(r, notes)
	return nil
}
