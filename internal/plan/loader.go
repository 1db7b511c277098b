package plan

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/msageha/tcexec/internal/logging"
	"github.com/msageha/tcexec/internal/metadata"
	"github.com/msageha/tcexec/internal/model"
)

// Loader resolves plans through the collaborator and runs the preparer on
// every plan it creates. Concurrent resolutions of the same plan share one
// collaborator call.
type Loader struct {
	meta         metadata.Collaborator
	preparer     Preparer
	allowOffline bool
	log          *logging.Logger

	group singleflight.Group
}

type LoaderOption func(*Loader)

func WithPreparer(p Preparer) LoaderOption {
	return func(l *Loader) { l.preparer = p }
}

// WithOffline makes unresolvable plans load as offline plans instead of failing.
func WithOffline() LoaderOption {
	return func(l *Loader) { l.allowOffline = true }
}

func WithLogger(log *logging.Logger) LoaderOption {
	return func(l *Loader) { l.log = log }
}

func NewLoader(meta metadata.Collaborator, opts ...LoaderOption) *Loader {
	l := &Loader{meta: meta}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load creates a fresh plan for project/name and prepares it.
func (l *Loader) Load(ctx context.Context, project, name string) (*TestPlan, error) {
	if project == "" || name == "" {
		return nil, fmt.Errorf("plan requires project and name (project=%q plan=%q)", project, name)
	}

	p, err := l.resolve(ctx, project, name)
	if err != nil {
		return nil, err
	}

	if l.preparer != nil {
		if err := l.preparer.Prepare(ctx, p); err != nil {
			return nil, fmt.Errorf("prepare plan %q: %w", name, err)
		}
	}
	return p, nil
}

func (l *Loader) resolve(ctx context.Context, project, name string) (*TestPlan, error) {
	if l.meta == nil {
		if l.allowOffline {
			return NewOffline(project, name), nil
		}
		return nil, fmt.Errorf("resolve plan %q: no metadata collaborator", name)
	}

	v, err, shared := l.group.Do(project+"\x00"+name, func() (interface{}, error) {
		return l.meta.ResolvePlan(ctx, project, name)
	})
	if err != nil {
		if l.allowOffline && errors.Is(err, metadata.ErrNotFound) {
			l.log.Warnf("plan %q not found in project %q, running offline", name, project)
			return NewOffline(project, name), nil
		}
		return nil, fmt.Errorf("resolve plan %q: %w", name, err)
	}
	info := v.(model.PlanInfo)
	if !info.Active {
		l.log.Warnf("plan %q in project %q is not active", name, project)
	}
	l.log.Debugf("resolved plan %q id=%d shared=%t", name, info.ID, shared)
	return New(info, l.meta), nil
}
