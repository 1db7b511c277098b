package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/msageha/tcexec/internal/executor"
	"github.com/msageha/tcexec/internal/logging"
	"github.com/msageha/tcexec/internal/metadata"
	"github.com/msageha/tcexec/internal/plan"
)

// openLog opens <data_dir>/logs/<name> for appending.
func openLog(name string) (*os.File, error) {
	path := filepath.Join(cfg.DataDir, "logs", name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log %s: %w", path, err)
	}
	return f, nil
}

func newLogger(w io.Writer, component string) *logging.Logger {
	return logging.New(w, cfg.Logging.Level, component)
}

// openStore opens the metadata store and seeds it from the configured
// fixtures, if any.
func openStore(ctx context.Context) (*metadata.Store, error) {
	store, err := metadata.Open(cfg.Metadata.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.Metadata.Fixtures != "" {
		if err := store.LoadFixtures(ctx, cfg.Metadata.Fixtures); err != nil {
			_ = store.Close()
			return nil, err
		}
	}
	return store, nil
}

// newBindingPreparer builds the preparer from the bindings file, when set.
func newBindingPreparer(log *logging.Logger) (*plan.BindingPreparer, error) {
	var bindings *plan.Bindings
	if cfg.Bindings.File != "" {
		b, err := plan.LoadBindings(cfg.Bindings.File)
		if err != nil {
			return nil, err
		}
		bindings = b
	}
	prep := plan.NewBindingPreparer(executor.DefaultFactory(), bindings, log)
	prep.Default = cfg.Bindings.Default
	return prep, nil
}

// signalContext is cancelled on the first SIGINT or SIGTERM. A second signal
// exits immediately.
func signalContext(parent context.Context, log *logging.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		select {
		case sig := <-sigCh:
			log.Infof("received signal=%s, initiating graceful shutdown", sig)
			cancel()
		case <-ctx.Done():
			signal.Stop(sigCh)
			return
		}
		select {
		case <-sigCh:
			log.Warnf("received second signal, forcing exit")
			os.Exit(1)
		case <-parent.Done():
		}
	}()
	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}
