package plan

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/msageha/tcexec/internal/logging"
	"github.com/msageha/tcexec/internal/model"
)

// Binding names the executor for one case and its constructor arguments.
type Binding struct {
	Executor string            `yaml:"executor"`
	Args     map[string]string `yaml:"args,omitempty"`
}

// Bindings maps case keys (internal id, visible id or name) to executors.
type Bindings struct {
	Default string             `yaml:"default,omitempty"`
	Cases   map[string]Binding `yaml:"cases"`
}

func (b *Bindings) Lookup(tc *model.TestCase) (Binding, bool) {
	if b == nil {
		return Binding{}, false
	}
	for _, key := range caseKeys(tc) {
		if binding, ok := b.Cases[key]; ok && binding.Executor != "" {
			return binding, true
		}
	}
	return Binding{}, false
}

func LoadBindings(path string) (*Bindings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bindings %s: %w", path, err)
	}
	var b Bindings
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parse bindings %s: %w", path, err)
	}
	return &b, nil
}

// WatchBindings reloads path into prep whenever the file is written or
// replaced, until ctx is done. Parse failures keep the previous table.
func WatchBindings(ctx context.Context, path string, prep *BindingPreparer, log *logging.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory so editors that rename over the file are seen.
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve bindings path: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			b, err := LoadBindings(abs)
			if err != nil {
				log.Warnf("bindings reload failed: %v", err)
				continue
			}
			prep.SetBindings(b)
			log.Infof("bindings reloaded from %s (%d cases)", abs, len(b.Cases))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Errorf("fsnotify error=%v", err)
		}
	}
}
