// Package executor provides the local executor variants and the factory used to
// build them by name.
package executor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/msageha/tcexec/internal/model"
)

// Base holds the state, result and notes every executor reports. The zero
// value is READY/UNKNOWN with empty notes.
type Base struct {
	mu     sync.RWMutex
	state  model.ExecState
	result model.ExecResult
	notes  string
}

func (b *Base) State() model.ExecState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.state == "" {
		return model.StateReady
	}
	return b.state
}

func (b *Base) SetState(s model.ExecState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = s
}

func (b *Base) Result() model.ExecResult {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.result == "" {
		return model.ResultUnknown
	}
	return b.result
}

func (b *Base) SetResult(r model.ExecResult) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.result = r
}

func (b *Base) Notes() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.notes
}

func (b *Base) SetNotes(notes string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notes = notes
}

// finish records a terminal COMPLETED verdict.
func (b *Base) finish(r model.ExecResult, notes string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.result = r
	b.notes = notes
	b.state = model.StateCompleted
}

// Run executes e against tc. A returned error or a panic leaves the executor
// BOMBED with a FAILED result and the cause in its notes; the error is returned.
func Run(ctx context.Context, e model.Executor, tc *model.TestCase) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v\n%s", r, debug.Stack())
		}
		if err != nil {
			Bomb(e, err)
		}
	}()
	return e.Execute(ctx, tc)
}

// Bomb forces e into the BOMBED/FAILED terminal state, keeping any notes the
// executor already produced.
func Bomb(e model.Executor, cause error) {
	if cause != nil {
		notes := e.Notes()
		if notes != "" {
			notes += " "
		}
		e.SetNotes(notes + cause.Error())
	}
	e.SetResult(model.ResultFailed)
	e.SetState(model.StateBombed)
}

// Reset puts e back into RESET (or leaves READY alone) with an UNKNOWN result.
func Reset(e model.Executor) {
	if e.State() != model.StateReady {
		e.SetState(model.StateReset)
	}
	e.SetResult(model.ResultUnknown)
}
