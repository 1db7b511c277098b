// Package plan loads test plans from the metadata collaborator and prepares
// their automated cases with executors.
package plan

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/msageha/tcexec/internal/metadata"
	"github.com/msageha/tcexec/internal/model"
	"github.com/msageha/tcexec/internal/registry"
)

var ErrCaseNotFound = errors.New("test case not found in plan")

// TestPlan is a named set of cases scoped to a project. Cases are fetched from
// the collaborator on first access and cached for the plan's lifetime. An
// offline plan has no collaborator: it holds only cases put locally.
type TestPlan struct {
	info model.PlanInfo
	meta metadata.Collaborator

	mu     sync.Mutex
	loaded bool
	cases  *registry.Registry
}

func New(info model.PlanInfo, meta metadata.Collaborator) *TestPlan {
	return &TestPlan{info: info, meta: meta, cases: registry.New()}
}

func NewOffline(project, name string) *TestPlan {
	return &TestPlan{
		info:   model.PlanInfo{Name: name, ProjectName: project, Active: true},
		loaded: true,
		cases:  registry.New(),
	}
}

func (p *TestPlan) Info() model.PlanInfo { return p.info }

func (p *TestPlan) Name() string { return p.info.Name }

func (p *TestPlan) ProjectName() string { return p.info.ProjectName }

func (p *TestPlan) IsOffline() bool { return p.meta == nil }

// Put adds or replaces a case locally. Local cases survive the lazy load.
func (p *TestPlan) Put(tc *model.TestCase) {
	p.cases.Put(tc)
}

// Registry returns the plan's cases, loading them on first call. A failed load
// is retried on the next call.
func (p *TestPlan) Registry(ctx context.Context) (*registry.Registry, error) {
	if err := p.load(ctx); err != nil {
		return nil, err
	}
	return p.cases, nil
}

func (p *TestPlan) Cases(ctx context.Context) ([]*model.TestCase, error) {
	reg, err := p.Registry(ctx)
	if err != nil {
		return nil, err
	}
	return reg.Slice(), nil
}

// Case finds a case by internal id.
func (p *TestPlan) Case(ctx context.Context, internalID int) (*model.TestCase, error) {
	reg, err := p.Registry(ctx)
	if err != nil {
		return nil, err
	}
	tc, ok := reg.GetByID(internalID)
	if !ok {
		return nil, fmt.Errorf("%w: [Test Case ID: %d]", ErrCaseNotFound, internalID)
	}
	return tc, nil
}

// Lookup finds a case by visible id or name.
func (p *TestPlan) Lookup(ctx context.Context, key string) (*model.TestCase, error) {
	reg, err := p.Registry(ctx)
	if err != nil {
		return nil, err
	}
	tc, ok := reg.Get(key)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrCaseNotFound, key)
	}
	return tc, nil
}

func (p *TestPlan) load(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loaded || p.meta == nil {
		return nil
	}

	infos, err := p.meta.OrderedCases(ctx, p.info.ID)
	if err != nil {
		return fmt.Errorf("load cases for plan %q: %w", p.info.Name, err)
	}
	for _, info := range infos {
		if p.cases.ContainsID(info.InternalID) {
			continue
		}
		if info.ProjectName == "" {
			info.ProjectName = p.info.ProjectName
		}
		p.cases.Put(model.NewTestCase(info))
	}
	p.loaded = true
	return nil
}
