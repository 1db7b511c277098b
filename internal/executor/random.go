package executor

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/msageha/tcexec/internal/model"
)

// Random draws a verdict: 30% failed, 60% passed, 10% blocked.
type Random struct {
	Base
	Delay time.Duration
	intn  func(n int) int
}

func NewRandom(delay time.Duration) *Random {
	return &Random{Delay: delay, intn: rand.IntN}
}

func (r *Random) Execute(ctx context.Context, _ *model.TestCase) error {
	r.SetState(model.StateRunning)
	if r.Delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.Delay):
		}
	}
	var result model.ExecResult
	switch v := r.intn(10); {
	case v < 3:
		result = model.ResultFailed
	case v < 9:
		result = model.ResultPassed
	default:
		result = model.ResultBlocked
	}
	r.finish(result, randomNotes(result))
	return nil
}

func randomNotes(r model.ExecResult) string {
	note := "Random executor generated a test case result of "
	switch r {
	case model.ResultFailed:
		return note + "failed."
	case model.ResultPassed:
		return note + "passed."
	default:
		return note + "blocked."
	}
}
