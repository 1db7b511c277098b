package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/tcexec/internal/events"
	"github.com/msageha/tcexec/internal/executor"
	"github.com/msageha/tcexec/internal/metadata"
	"github.com/msageha/tcexec/internal/model"
	"github.com/msageha/tcexec/internal/plan"
)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) record(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Type, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *recorder) count(t events.Type) int {
	n := 0
	for _, got := range r.types() {
		if got == t {
			n++
		}
	}
	return n
}

func newCase(id, order int, mode model.ExecMode) *model.TestCase {
	return model.NewTestCase(model.CaseInfo{
		InternalID: id, ExternalID: id, Prefix: "AL", Name: "case",
		ProjectName: "alpha", ExecOrder: order, ExecMode: mode,
	})
}

func offlinePlan(cases ...*model.TestCase) *plan.TestPlan {
	p := plan.NewOffline("alpha", "nightly")
	for _, tc := range cases {
		p.Put(tc)
	}
	return p
}

func TestRun_MiddleCaseBombs(t *testing.T) {
	c1 := newCase(1, 1, model.ExecModeAuto)
	c1.SetExecutor(executor.NewFixed(model.ResultPassed, ""))
	c2 := newCase(2, 2, model.ExecModeAuto)
	c2.SetExecutor(executor.NewFunc(func(context.Context, *model.TestCase) (model.ExecResult, string, error) {
		return "", "", errors.New("boom")
	}))
	c3 := newCase(3, 3, model.ExecModeAuto)
	c3.SetExecutor(executor.NewFixed(model.ResultPassed, ""))

	rec := &recorder{}
	o := New(offlinePlan(c1, c2, c3), Config{}, WithListener(rec.record))
	assert.False(t, o.HasTestRun())

	require.NoError(t, o.Run(context.Background()))

	assert.True(t, o.HasTestRun())
	assert.True(t, o.HasTestFailed())
	assert.False(t, o.HasTestPassed())
	assert.Equal(t, 3, rec.count(events.TestCaseCompleted))
	assert.Equal(t, 1, rec.count(events.TestCaseBombed))
	assert.Equal(t, 1, rec.count(events.ExecutionSuccess))

	assert.Equal(t, model.StateBombed, c2.Executor().State())
	assert.Equal(t, model.ResultFailed, c2.Executor().Result())
	assert.Contains(t, c2.Executor().Notes(), "boom")
	assert.Equal(t, model.ResultPassed, c3.Executor().Result())

	r := o.Report()
	require.Len(t, r.Cases, 3)
	assert.False(t, r.Passed)
	assert.Equal(t, model.StateBombed, r.Cases[1].State)
}

func TestRun_EventOrder(t *testing.T) {
	c1 := newCase(1, 1, model.ExecModeAuto)
	c1.SetExecutor(executor.NewFixed(model.ResultPassed, ""))

	rec := &recorder{}
	o := New(offlinePlan(c1), Config{}, WithListener(rec.record))
	require.NoError(t, o.Run(context.Background()))

	assert.Equal(t, []events.Type{
		events.ExecutionStart,
		events.TestCasesReset,
		events.TestCaseStart,
		events.TestCaseCompleted,
		events.ExecutionSuccess,
	}, rec.types())
	assert.True(t, o.HasTestPassed())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, e := range rec.events {
		assert.Equal(t, o.RunID(), e.RunID)
		assert.Equal(t, "nightly", e.Plan)
	}
	completed := rec.events[3]
	assert.Equal(t, 1, completed.Total)
	assert.Zero(t, completed.Remaining)
}

func TestRun_ResetsExecutorsFirst(t *testing.T) {
	tc := newCase(1, 1, model.ExecModeAuto)
	e := executor.NewFixed(model.ResultBlocked, "")
	e.SetState(model.StateCompleted)
	e.SetResult(model.ResultPassed)
	tc.SetExecutor(e)

	var seen model.Outcome
	o := New(offlinePlan(tc), Config{}, WithListener(func(ev events.Event) {
		if ev.Type == events.TestCasesReset {
			seen = model.OutcomeOf(e)
		}
	}))
	require.NoError(t, o.Run(context.Background()))

	assert.Equal(t, model.StateReset, seen.State)
	assert.Equal(t, model.ResultUnknown, seen.Result)
	assert.Equal(t, model.ResultBlocked, e.Result())
	assert.True(t, o.HasTestFailed())
}

func TestRun_AutoCaseWithoutExecutor(t *testing.T) {
	tc := newCase(1, 1, model.ExecModeAuto)
	rec := &recorder{}
	o := New(offlinePlan(tc), Config{}, WithListener(rec.record))

	require.NoError(t, o.Run(context.Background()))

	assert.Equal(t, 1, rec.count(events.TestCaseWithoutExecutor))
	assert.Nil(t, tc.Executor(), "auto case must not be bound to the placeholder")
	assert.True(t, o.HasTestFailed())
	r := o.Report()
	require.Len(t, r.Cases, 1)
	assert.Equal(t, model.ResultFailed, r.Cases[0].Result)
	assert.Contains(t, r.Cases[0].Notes, "Empty executor")
}

func TestRun_ManualCaseUsesManualExecutor(t *testing.T) {
	f := executor.NewFactory()
	f.Register("approve", func(map[string]string) (model.Executor, error) {
		return executor.NewFixed(model.ResultPassed, "approved"), nil
	})
	tc := newCase(1, 1, model.ExecModeManual)
	remote := executor.NewFixed(model.ResultFailed, "remote")

	o := New(offlinePlan(tc), Config{ManualExecutor: "approve"}, WithFactory(f), WithRemote(remote))
	require.NoError(t, o.Run(context.Background()))

	require.NotNil(t, tc.Executor())
	assert.NotSame(t, remote, tc.Executor())
	assert.Equal(t, "approved", tc.Executor().Notes())
	assert.Equal(t, model.StateReady, remote.State(), "manual case must never run remotely")
	assert.True(t, o.HasTestPassed())
}

func TestRun_ManualExecutorUnknownFallsBack(t *testing.T) {
	bound := newCase(1, 1, model.ExecModeManual)
	bound.SetExecutor(executor.NewFixed(model.ResultPassed, "bound"))
	unbound := newCase(2, 2, model.ExecModeManual)

	rec := &recorder{}
	o := New(offlinePlan(bound, unbound), Config{ManualExecutor: "nope"}, WithListener(rec.record))
	require.NoError(t, o.Run(context.Background()))

	assert.Equal(t, 2, rec.count(events.TestCaseWithoutExecutor))
	assert.Equal(t, "bound", bound.Executor().Notes())
	require.NotNil(t, unbound.Executor())
	assert.Equal(t, model.ResultFailed, unbound.Executor().Result())
}

func TestRun_AutoCaseRunsRemotely(t *testing.T) {
	tc := newCase(1, 1, model.ExecModeAuto)
	local := executor.NewFixed(model.ResultFailed, "local")
	tc.SetExecutor(local)
	remote := executor.NewFixed(model.ResultPassed, "remote ok")

	o := New(offlinePlan(tc), Config{}, WithRemote(remote))
	require.NoError(t, o.Run(context.Background()))

	assert.Same(t, local, tc.Executor())
	assert.Equal(t, model.StateCompleted, local.State())
	assert.Equal(t, model.ResultPassed, local.Result())
	assert.Equal(t, "remote ok", local.Notes())
	assert.True(t, o.HasTestPassed())
	assert.True(t, o.Report().Cases[0].Remote)
}

func TestRun_RemoteBombPropagates(t *testing.T) {
	tc := newCase(1, 1, model.ExecModeAuto)
	tc.SetExecutor(executor.NewFixed(model.ResultPassed, ""))
	remote := executor.NewFunc(func(context.Context, *model.TestCase) (model.ExecResult, string, error) {
		panic("lost")
	})

	rec := &recorder{}
	o := New(offlinePlan(tc), Config{}, WithRemote(remote), WithListener(rec.record))
	require.NoError(t, o.Run(context.Background()))

	assert.Equal(t, model.StateBombed, tc.Executor().State())
	assert.Equal(t, 1, rec.count(events.TestCaseBombed))
	assert.True(t, o.HasTestFailed())
}

func seededStore(t *testing.T) *metadata.Store {
	t.Helper()
	store, err := metadata.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Seed(context.Background(), &metadata.Fixtures{
		Projects: []metadata.ProjectFixture{{
			Name:   "alpha",
			Prefix: "AL",
			Cases: []model.CaseInfo{
				{InternalID: 10, ExternalID: 1, Name: "login", ExecMode: model.ExecModeAuto, ExecOrder: 1},
				{InternalID: 11, ExternalID: 2, Name: "logout", ExecMode: model.ExecModeAuto, ExecOrder: 2},
			},
			Plans: []metadata.PlanFixture{{Name: "nightly", Cases: []int{10, 11}}},
		}},
	}))
	return store
}

func TestRun_ReportsUpstream(t *testing.T) {
	ctx := context.Background()
	store := seededStore(t)
	p, err := plan.NewLoader(store, plan.WithPreparer(plan.PreparerFunc(func(ctx context.Context, p *plan.TestPlan) error {
		cases, err := p.Cases(ctx)
		if err != nil {
			return err
		}
		cases[0].SetExecutor(executor.NewFixed(model.ResultPassed, "ok"))
		cases[1].SetExecutor(executor.NewFixed(model.ResultBlocked, "waiting"))
		return nil
	}))).Load(ctx, "alpha", "nightly")
	require.NoError(t, err)

	o := New(p, Config{ReportResults: true, BuildName: "b7"}, WithCollaborator(store))
	require.NoError(t, o.Run(ctx))

	results, err := store.Results(ctx, "alpha", "nightly")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 10, results[0].CaseID)
	assert.Equal(t, "p", results[0].Status)
	assert.Equal(t, "b7", results[0].BuildName)
	assert.Equal(t, "b", results[1].Status)
	assert.Equal(t, "waiting", results[1].Notes)
	assert.True(t, o.Report().Cases[0].Reported)
}

type failingReporter struct{ metadata.Collaborator }

func (failingReporter) ReportResult(context.Context, model.ReportedResult) error {
	return errors.New("upstream down")
}

func TestRun_ReportFailureDoesNotStopLoop(t *testing.T) {
	ctx := context.Background()
	store := seededStore(t)
	p, err := plan.NewLoader(store, plan.WithPreparer(plan.RandomPreparer{})).Load(ctx, "alpha", "nightly")
	require.NoError(t, err)
	cases, err := p.Cases(ctx)
	require.NoError(t, err)
	for _, tc := range cases {
		tc.SetExecutor(executor.NewFixed(model.ResultPassed, ""))
	}

	rec := &recorder{}
	o := New(p, Config{ReportResults: true}, WithCollaborator(failingReporter{store}), WithListener(rec.record))
	require.NoError(t, o.Run(ctx))

	assert.Equal(t, 2, rec.count(events.TestCaseReportResultsFailed))
	assert.Equal(t, 2, rec.count(events.TestCaseCompleted))
	assert.True(t, o.HasTestFailed())
}

func TestRun_OfflinePlanNeverReports(t *testing.T) {
	tc := newCase(1, 1, model.ExecModeAuto)
	tc.SetExecutor(executor.NewFixed(model.ResultPassed, ""))
	rec := &recorder{}
	o := New(offlinePlan(tc), Config{ReportResults: true}, WithCollaborator(failingReporter{}), WithListener(rec.record))

	require.NoError(t, o.Run(context.Background()))
	assert.Zero(t, rec.count(events.TestCaseReportResultsFailed))
	assert.True(t, o.HasTestPassed())
}

func TestRun_InvalidSetup(t *testing.T) {
	rec := &recorder{}
	o := New(nil, Config{}, WithListener(rec.record))

	err := o.Run(context.Background())
	require.ErrorIs(t, err, ErrInvalidSetup)
	assert.Equal(t, []events.Type{events.ExecutionStart, events.ExecutionFailed}, rec.types())
	assert.True(t, o.HasTestRun())
	assert.True(t, o.HasTestFailed())
}

func TestRun_CanceledContextHalts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c1 := newCase(1, 1, model.ExecModeAuto)
	c1.SetExecutor(executor.NewFunc(func(context.Context, *model.TestCase) (model.ExecResult, string, error) {
		cancel()
		return model.ResultPassed, "", nil
	}))
	c2 := newCase(2, 2, model.ExecModeAuto)
	c2.SetExecutor(executor.NewFixed(model.ResultPassed, ""))

	rec := &recorder{}
	o := New(offlinePlan(c1, c2), Config{}, WithListener(rec.record))
	err := o.Run(ctx)

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, rec.count(events.TestCaseCompleted))
	assert.Equal(t, 1, rec.count(events.ExecutionFailed))
	assert.Equal(t, model.StateReady, c2.Executor().State())
	assert.NotEmpty(t, o.Report().Error)
}

func TestRun_WithCasesAndBus(t *testing.T) {
	tc := newCase(1, 1, model.ExecModeAuto)
	tc.SetExecutor(executor.NewFixed(model.ResultPassed, ""))

	bus := events.NewBus(16)
	got := make(chan events.Event, 16)
	bus.Subscribe(func(e events.Event) { got <- e }, events.ExecutionSuccess)

	o := New(plan.NewOffline("alpha", "adhoc"), Config{}, WithCases([]*model.TestCase{tc}), WithBus(bus), WithRunID("run-x"))
	<-o.RunInBackground(context.Background())
	bus.Close()

	select {
	case e := <-got:
		assert.Equal(t, "run-x", e.RunID)
	case <-time.After(time.Second):
		t.Fatal("no execution_success on the bus")
	}
	assert.True(t, o.HasTestPassed())
	assert.Len(t, o.Report().Cases, 1)
}

func TestRun_JournalRecordsOutcomeAtEmitTime(t *testing.T) {
	var cases []*model.TestCase
	for i := 1; i <= 5; i++ {
		tc := newCase(i, i, model.ExecModeAuto)
		tc.SetExecutor(executor.NewFixed(model.ResultPassed, "ok"))
		cases = append(cases, tc)
	}

	path := filepath.Join(t.TempDir(), "run.jsonl")
	j, err := events.NewJournal(path, 0)
	require.NoError(t, err)
	write := j.Subscriber(func(err error) { t.Error(err) })

	// Hold delivery until the run is over so every executor has finished.
	release := make(chan struct{})
	bus := events.NewBus(64)
	bus.Subscribe(func(e events.Event) {
		<-release
		write(e)
	})

	o := New(offlinePlan(cases...), Config{}, WithBus(bus))
	require.NoError(t, o.Run(context.Background()))
	close(release)
	bus.Close()
	require.NoError(t, j.Close())

	entries, _, err := events.ReadJournal(path)
	require.NoError(t, err)
	starts, completed := 0, 0
	for _, entry := range entries {
		switch events.Type(entry.EventType) {
		case events.TestCaseStart:
			starts++
			assert.NotEqual(t, string(model.StateCompleted), entry.State)
			assert.Equal(t, string(model.ResultUnknown), entry.Result)
		case events.TestCaseCompleted:
			completed++
			assert.Equal(t, string(model.StateCompleted), entry.State)
			assert.Equal(t, string(model.ResultPassed), entry.Result)
		}
	}
	assert.Equal(t, 5, starts)
	assert.Equal(t, 5, completed)
}
