package plan

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/msageha/tcexec/internal/executor"
	"github.com/msageha/tcexec/internal/logging"
	"github.com/msageha/tcexec/internal/model"
)

// Preparer assigns executors to a plan's cases before execution.
type Preparer interface {
	Prepare(ctx context.Context, p *TestPlan) error
}

type PreparerFunc func(ctx context.Context, p *TestPlan) error

func (f PreparerFunc) Prepare(ctx context.Context, p *TestPlan) error { return f(ctx, p) }

// RandomPreparer binds a fresh Random executor to every case.
type RandomPreparer struct {
	Delay time.Duration
}

func (r RandomPreparer) Prepare(ctx context.Context, p *TestPlan) error {
	cases, err := p.Cases(ctx)
	if err != nil {
		return err
	}
	for _, tc := range cases {
		tc.SetExecutor(executor.NewRandom(r.Delay))
	}
	return nil
}

// BindingPreparer binds factory-built executors to automated cases according
// to a Bindings table. Cases with no binding get the table's default, or
// Default when the table names none.
type BindingPreparer struct {
	Factory *executor.Factory
	Default string

	mu       sync.RWMutex
	bindings *Bindings
	log      *logging.Logger
}

func NewBindingPreparer(factory *executor.Factory, bindings *Bindings, log *logging.Logger) *BindingPreparer {
	if bindings == nil {
		bindings = &Bindings{}
	}
	return &BindingPreparer{Factory: factory, bindings: bindings, log: log}
}

// SetBindings swaps the table used by later Prepare calls.
func (b *BindingPreparer) SetBindings(bindings *Bindings) {
	if bindings == nil {
		bindings = &Bindings{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bindings = bindings
}

func (b *BindingPreparer) Bindings() *Bindings {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bindings
}

func (b *BindingPreparer) Prepare(ctx context.Context, p *TestPlan) error {
	cases, err := p.Cases(ctx)
	if err != nil {
		return err
	}
	table := b.Bindings()

	bound := 0
	for _, tc := range cases {
		if !tc.IsAuto() {
			continue
		}
		binding, ok := table.Lookup(tc)
		if !ok {
			name := b.Default
			if table.Default != "" {
				name = table.Default
			}
			if name == "" {
				continue
			}
			binding = Binding{Executor: name}
		}
		e, err := b.Factory.New(binding.Executor, binding.Args)
		if err != nil {
			return fmt.Errorf("bind %s: %w", tc.Label(), err)
		}
		tc.SetExecutor(e)
		bound++
	}
	b.log.Infof("prepared plan %q: %d of %d cases bound", p.Name(), bound, len(cases))
	return nil
}

// caseKeys lists the binding keys for tc in lookup priority.
func caseKeys(tc *model.TestCase) []string {
	keys := []string{strconv.Itoa(tc.InternalID())}
	if v := tc.VisibleID(); v != "" {
		keys = append(keys, v)
	}
	if tc.Name() != "" {
		keys = append(keys, tc.Name())
	}
	return keys
}
