// Package remote provides an executor that runs test cases on an execution
// server instead of in-process.
package remote

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/msageha/tcexec/internal/client"
	"github.com/msageha/tcexec/internal/executor"
	"github.com/msageha/tcexec/internal/logging"
	"github.com/msageha/tcexec/internal/metrics"
	"github.com/msageha/tcexec/internal/model"
	"github.com/msageha/tcexec/internal/protocol"
)

// Adapter satisfies model.Executor by sending each case to the server over a
// shared Connection and waiting for the reply tagged for this adapter.
// Requests from one adapter must not overlap.
type Adapter struct {
	executor.Base

	conn    *client.Connection
	project string
	plan    string
	tag     string
	timeout time.Duration
	log     *logging.Logger
}

type Option func(*Adapter)

// WithTimeout bounds the wait for each reply. Zero waits until the
// connection closes.
func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) { a.timeout = d }
}

func WithLogger(log *logging.Logger) Option {
	return func(a *Adapter) { a.log = log }
}

// New creates an adapter for one plan and pings the server under its tag.
func New(conn *client.Connection, project, plan string, opts ...Option) (*Adapter, error) {
	a := &Adapter{
		conn:    conn,
		project: project,
		plan:    plan,
		tag:     plan + "@" + uuid.NewString(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if err := conn.Send(a.tag, protocol.TokenPing); err != nil {
		return nil, fmt.Errorf("ping execution server: %w", err)
	}
	return a, nil
}

// Tag is the client tag this adapter speaks under.
func (a *Adapter) Tag() string { return a.tag }

// Execute runs tc remotely. Every failure ends in BOMBED/FAILED with the cause
// in the notes; Execute itself never returns an error.
func (a *Adapter) Execute(ctx context.Context, tc *model.TestCase) error {
	a.SetState(model.StateReady)
	a.SetResult(model.ResultUnknown)
	a.SetNotes("")

	start := time.Now()
	defer func() {
		metrics.RecordCase("client", string(a.State()), string(a.Result()), time.Since(start))
	}()

	req := protocol.TCRequest{Project: a.project, Plan: a.plan, CaseID: tc.InternalID()}
	if err := a.conn.Send(a.tag, req.Encode()); err != nil {
		a.bomb(err)
		return nil
	}
	a.SetState(model.StateRunning)

	payload, err := a.wait(ctx, protocol.TCResultTag)
	if err != nil {
		a.bomb(err)
		return nil
	}

	res := protocol.ParseTCResult(payload)
	a.SetNotes(res.Notes)
	a.SetResult(res.Result)
	a.SetState(res.State)
	a.log.Debugf("%s finished remotely: %s/%s", tc.Label(), res.State, res.Result)
	return nil
}

// SendPlanPrepareRequest asks the server to prepare the plan. Local cases the
// server reports as ready get an Empty executor placeholder when they have
// none, since the real executor lives server-side. It returns the ready ids.
func (a *Adapter) SendPlanPrepareRequest(ctx context.Context, cases []*model.TestCase) ([]int, error) {
	req := protocol.PrepRequest{Project: a.project, Plan: a.plan}
	if err := a.conn.Send(a.tag, req.Encode()); err != nil {
		return nil, err
	}
	payload, err := a.wait(ctx, protocol.PrepResultTag)
	if err != nil {
		return nil, err
	}

	res := protocol.ParsePrepResult(payload)
	if !res.Passed {
		return nil, fmt.Errorf("plan preparation failed: %s", res.Message)
	}
	ready := make(map[int]bool, len(res.CaseIDs))
	for _, id := range res.CaseIDs {
		ready[id] = true
	}
	for _, tc := range cases {
		if tc != nil && ready[tc.InternalID()] && tc.Executor() == nil {
			tc.SetExecutor(executor.NewEmpty())
		}
	}
	return res.CaseIDs, nil
}

// SendServerShutdown asks the server to shut down.
func (a *Adapter) SendServerShutdown() error {
	return a.conn.Send(a.tag, protocol.TokenShutdown)
}

func (a *Adapter) wait(ctx context.Context, marker string) (string, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	return a.conn.Wait(ctx, a.tag, func(payload string) bool {
		return strings.Contains(payload, marker)
	})
}

func (a *Adapter) bomb(err error) {
	a.log.Warnf("remote request under %s failed: %v", a.tag, err)
	a.SetNotes(fmt.Sprintf("Unable to complete the remote test request due to exception. [Exception: %v]", err))
	a.SetResult(model.ResultFailed)
	a.SetState(model.StateBombed)
}
