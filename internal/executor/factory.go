package executor

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/msageha/tcexec/internal/model"
)

var ErrUnknownExecutor = errors.New("unknown executor")

// Constructor builds an executor from its binding arguments.
type Constructor func(args map[string]string) (model.Executor, error)

// Factory resolves executor names to constructors.
type Factory struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

func NewFactory() *Factory {
	return &Factory{ctors: make(map[string]Constructor)}
}

// DefaultFactory knows the built-in executors: empty, passed, failed, blocked,
// random and command.
func DefaultFactory() *Factory {
	f := NewFactory()
	f.Register("empty", func(args map[string]string) (model.Executor, error) {
		raw := args["result"]
		if raw == "" {
			return NewEmpty(), nil
		}
		r, err := model.ParseExecResult(strings.ToUpper(raw))
		if err != nil {
			return nil, fmt.Errorf("empty executor: %w", err)
		}
		return NewEmptyWithResult(r), nil
	})
	for name, r := range map[string]model.ExecResult{
		"passed":  model.ResultPassed,
		"failed":  model.ResultFailed,
		"blocked": model.ResultBlocked,
	} {
		f.Register(name, func(args map[string]string) (model.Executor, error) {
			return NewFixed(r, args["notes"]), nil
		})
	}
	f.Register("random", func(args map[string]string) (model.Executor, error) {
		var delay time.Duration
		if raw := args["delay"]; raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return nil, fmt.Errorf("random delay %q: %w", raw, err)
			}
			delay = d
		}
		return NewRandom(delay), nil
	})
	f.Register("command", func(args map[string]string) (model.Executor, error) {
		script := args["run"]
		if strings.TrimSpace(script) == "" {
			return nil, errors.New("command executor requires a run argument")
		}
		c := NewCommand(script)
		c.Dir = args["dir"]
		if sh := args["shell"]; sh != "" {
			c.Shell = sh
		}
		return c, nil
	})
	return f
}

func (f *Factory) Register(name string, ctor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctors[name] = ctor
}

// New builds the executor registered under name.
func (f *Factory) New(name string, args map[string]string) (model.Executor, error) {
	f.mu.RLock()
	ctor, ok := f.ctors[name]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownExecutor, name)
	}
	e, err := ctor(args)
	if err != nil {
		return nil, fmt.Errorf("build executor %q: %w", name, err)
	}
	return e, nil
}

func (f *Factory) Names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, 0, len(f.ctors))
	for n := range f.ctors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
