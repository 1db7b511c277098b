// Package orchestrator runs the cases of a plan in order, choosing an executor
// for each, optionally reporting every outcome upstream, and publishing
// lifecycle events as it goes.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/msageha/tcexec/internal/events"
	"github.com/msageha/tcexec/internal/executor"
	"github.com/msageha/tcexec/internal/logging"
	"github.com/msageha/tcexec/internal/metadata"
	"github.com/msageha/tcexec/internal/metrics"
	"github.com/msageha/tcexec/internal/model"
	"github.com/msageha/tcexec/internal/plan"
	"github.com/msageha/tcexec/internal/report"
)

var (
	ErrInvalidSetup   = errors.New("invalid orchestrator setup")
	ErrAlreadyRunning = errors.New("orchestrator already running")
)

type Config struct {
	ReportResults  bool
	BuildName      string
	ManualExecutor string // factory name; empty runs manual cases with their bound executor
}

func ConfigFrom(c model.OrchestratorConfig) Config {
	return Config{
		ReportResults:  c.ReportResults,
		BuildName:      c.BuildName,
		ManualExecutor: c.ManualExecutor,
	}
}

// Orchestrator drives one plan. It may be run again after a run finishes;
// each run resets every bound executor first.
type Orchestrator struct {
	plan    *plan.TestPlan
	cases   []*model.TestCase
	cfg     Config
	meta    metadata.Collaborator
	factory *executor.Factory
	remote  model.Executor
	bus     *events.Bus
	log     *logging.Logger
	runID   string

	listeners []events.Subscriber

	running atomic.Bool
	ran     atomic.Bool
	failed  atomic.Bool

	mu     sync.Mutex
	report report.RunReport
}

type Option func(*Orchestrator)

// WithCases fixes the cases to run instead of loading them from the plan.
func WithCases(cases []*model.TestCase) Option {
	return func(o *Orchestrator) { o.cases = cases }
}

// WithCollaborator sets where outcomes are reported when reporting is enabled.
func WithCollaborator(meta metadata.Collaborator) Option {
	return func(o *Orchestrator) { o.meta = meta }
}

// WithFactory sets the factory used to build the manual executor.
func WithFactory(f *executor.Factory) Option {
	return func(o *Orchestrator) { o.factory = f }
}

// WithRemote runs auto cases through e, usually a remote.Adapter.
func WithRemote(e model.Executor) Option {
	return func(o *Orchestrator) { o.remote = e }
}

func WithBus(b *events.Bus) Option {
	return func(o *Orchestrator) { o.bus = b }
}

func WithLogger(log *logging.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// WithListener registers fn to receive every event synchronously, before the
// event reaches the bus.
func WithListener(fn events.Subscriber) Option {
	return func(o *Orchestrator) { o.listeners = append(o.listeners, fn) }
}

func WithRunID(id string) Option {
	return func(o *Orchestrator) { o.runID = id }
}

func New(p *plan.TestPlan, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		plan:    p,
		cfg:     cfg,
		factory: executor.DefaultFactory(),
		runID:   uuid.NewString(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) RunID() string { return o.runID }

// HasTestRun reports whether a run has returned, successfully or not.
func (o *Orchestrator) HasTestRun() bool { return o.ran.Load() }

// HasTestFailed reports whether the last run saw a non-PASSED result, a
// bombed case, a reporting failure or an aborted loop.
func (o *Orchestrator) HasTestFailed() bool { return o.failed.Load() }

func (o *Orchestrator) HasTestPassed() bool { return o.ran.Load() && !o.failed.Load() }

// Report returns a snapshot of the current or last run.
func (o *Orchestrator) Report() report.RunReport {
	o.mu.Lock()
	defer o.mu.Unlock()
	r := o.report
	r.Cases = append([]report.CaseResult(nil), o.report.Cases...)
	return r
}

// RunInBackground starts Run on its own goroutine. The returned channel is
// closed when the run returns.
func (o *Orchestrator) RunInBackground(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := o.Run(ctx); err != nil {
			o.log.Errorf("run %s: %v", o.runID, err)
		}
	}()
	return done
}

// Run executes every case in order. Per-case failures are recorded and the
// loop continues; the returned error is set only when the loop itself could
// not start or was aborted.
func (o *Orchestrator) Run(ctx context.Context) (err error) {
	if !o.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer o.running.Store(false)

	o.failed.Store(false)
	o.ran.Store(false)
	start := time.Now()
	o.resetReport(start)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("orchestrator panic: %v\n%s", r, debug.Stack())
		}
		if err != nil {
			o.failed.Store(true)
			o.emit(events.Event{Type: events.ExecutionFailed, Err: err})
		} else {
			o.emit(events.Event{Type: events.ExecutionSuccess})
		}
		o.finishReport(err)
		metrics.RecordRun(o.planName(), !o.failed.Load(), time.Since(start))
		o.ran.Store(true)
	}()

	o.emit(events.Event{Type: events.ExecutionStart})

	if o.plan == nil {
		return fmt.Errorf("%w: no test plan", ErrInvalidSetup)
	}
	cases := o.cases
	if cases == nil {
		cases, err = o.plan.Cases(ctx)
		if err != nil {
			return fmt.Errorf("load cases of plan %q: %w", o.plan.Name(), err)
		}
	}

	for _, tc := range cases {
		if e := tc.Executor(); e != nil {
			executor.Reset(e)
		}
	}
	o.emit(events.Event{Type: events.TestCasesReset, Total: len(cases), Remaining: len(cases)})

	o.log.Infof("run %s: %d cases in %s/%s", o.runID, len(cases), o.plan.ProjectName(), o.plan.Name())
	for i, tc := range cases {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("run aborted before %s: %w", tc.Label(), err)
		}
		o.runCase(ctx, tc, len(cases), len(cases)-(i+1))
	}
	return nil
}

func (o *Orchestrator) runCase(ctx context.Context, tc *model.TestCase, total, remaining int) {
	te := o.selectExecutor(tc, total, remaining+1)

	base := events.Event{Case: tc, Executor: te, Total: total, Remaining: remaining + 1}
	o.emit(with(base, events.TestCaseStart))

	start := time.Now()
	remote := tc.IsAuto() && o.remote != nil
	var runErr error
	if tc.IsManual() {
		tc.SetExecutor(te)
	}
	if remote {
		runErr = executor.Run(ctx, o.remote, tc)
		if runErr != nil {
			executor.Bomb(te, runErr)
		} else {
			model.OutcomeOf(o.remote).Apply(te)
		}
	} else {
		runErr = executor.Run(ctx, te, tc)
	}
	if runErr == nil && !model.IsTerminal(te.State()) {
		runErr = fmt.Errorf("executor returned in state %s", te.State())
		executor.Bomb(te, runErr)
	}
	took := time.Since(start)
	if !remote {
		metrics.RecordCase("local", string(te.State()), string(te.Result()), took)
	}

	if runErr != nil || te.State() == model.StateBombed {
		o.failed.Store(true)
		ev := with(base, events.TestCaseBombed)
		ev.Err = runErr
		o.emit(ev)
		o.log.Warnf("case %s bombed: %s", tc.Label(), te.Notes())
	}
	if te.Result() != model.ResultPassed {
		o.failed.Store(true)
	}

	result := report.ResultOf(tc, te, remote, took)
	if o.reporting() {
		if err := o.reportResult(ctx, tc, te); err != nil {
			o.failed.Store(true)
			ev := with(base, events.TestCaseReportResultsFailed)
			ev.Err = err
			o.emit(ev)
			o.log.Warnf("report result of %s: %v", tc.Label(), err)
		} else {
			result.Reported = true
		}
	}
	o.appendResult(result)

	done := with(base, events.TestCaseCompleted)
	done.Remaining = remaining
	o.emit(done)
	o.log.Debugf("case %s: %s/%s in %s", tc.Label(), te.State(), te.Result(), took)
}

// selectExecutor picks the executor a case runs with. Auto cases keep their
// bound executor; manual cases get a fresh manual executor when one is
// configured. Anything left without an executor runs with Empty.
func (o *Orchestrator) selectExecutor(tc *model.TestCase, total, remaining int) model.Executor {
	te := tc.Executor()
	missing := func() {
		o.emit(events.Event{
			Type: events.TestCaseWithoutExecutor, Case: tc,
			Total: total, Remaining: remaining,
		})
	}

	if tc.IsAuto() {
		if te == nil {
			missing()
			return executor.NewEmpty()
		}
		return te
	}

	if o.cfg.ManualExecutor != "" && o.factory != nil {
		manual, err := o.factory.New(o.cfg.ManualExecutor, nil)
		if err == nil {
			return manual
		}
		o.log.Warnf("create manual executor %q for %s: %v", o.cfg.ManualExecutor, tc.Label(), err)
		missing()
		if te != nil {
			return te
		}
		return executor.NewEmpty()
	}
	if te == nil {
		missing()
		return executor.NewEmpty()
	}
	return te
}

func (o *Orchestrator) reporting() bool {
	return o.cfg.ReportResults && o.meta != nil && o.plan != nil && !o.plan.IsOffline()
}

func (o *Orchestrator) reportResult(ctx context.Context, tc *model.TestCase, te model.Executor) error {
	return o.meta.ReportResult(ctx, model.ReportedResult{
		ProjectName: o.plan.ProjectName(),
		PlanName:    o.plan.Name(),
		CaseID:      tc.InternalID(),
		CaseName:    tc.Name(),
		BuildName:   o.cfg.BuildName,
		Status:      model.ResultCode(te.Result()),
		Notes:       te.Notes(),
	})
}

func (o *Orchestrator) emit(e events.Event) {
	e.RunID = o.runID
	e.Timestamp = time.Now()
	if e.Executor != nil {
		e.Outcome = model.OutcomeOf(e.Executor)
	}
	if o.plan != nil {
		e.Project = o.plan.ProjectName()
		e.Plan = o.plan.Name()
	}
	for _, fn := range o.listeners {
		fn(e)
	}
	if o.bus != nil {
		o.bus.Publish(e)
	}
}

func (o *Orchestrator) planName() string {
	if o.plan == nil {
		return ""
	}
	return o.plan.Name()
}

func (o *Orchestrator) resetReport(start time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.report = report.RunReport{
		RunID:     o.runID,
		Build:     o.cfg.BuildName,
		StartedAt: start,
	}
	if o.plan != nil {
		o.report.Project = o.plan.ProjectName()
		o.report.Plan = o.plan.Name()
	}
}

func (o *Orchestrator) appendResult(r report.CaseResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.report.Cases = append(o.report.Cases, r)
}

func (o *Orchestrator) finishReport(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.report.FinishedAt = time.Now()
	o.report.Passed = !o.failed.Load()
	if err != nil {
		o.report.Error = err.Error()
	}
}

func with(e events.Event, t events.Type) events.Event {
	e.Type = t
	return e
}
