package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/msageha/tcexec/internal/lock"
	"github.com/msageha/tcexec/internal/metrics"
	"github.com/msageha/tcexec/internal/plan"
	"github.com/msageha/tcexec/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the execution server",
	Long: `Run the execution server. Clients send test case and plan preparation
requests; the server resolves plans from the metadata store, binds executors
from the bindings file and runs cases in-process.

In single-session mode (the default) the server exits when its one client
disconnects or sends Shutdown.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.String("host", "", "listen host")
	f.Int("port", 0, "listen port; 0 on the command line picks a free port")
	f.Int("read-timeout", 0, "seconds without a request before a session is shut down")
	f.Bool("multi-session", false, "keep accepting connections after the first session")
	f.String("metrics", "", "address for the /metrics endpoint, e.g. :9464")
	f.String("bindings", "", "executor bindings file")
	f.String("dsn", "", "metadata store path")
	f.String("fixtures", "", "fixtures file loaded into the metadata store on start")
}

func runServe(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	if port, _ := flags.GetInt("port"); flags.Changed("port") && port == 0 {
		free, err := server.FindFreePort()
		if err != nil {
			return err
		}
		cfg.Server.Port = free
	}
	if flags.Changed("multi-session") {
		multi, _ := flags.GetBool("multi-session")
		cfg.Server.SingleSession = !multi
	}

	logFile, err := openLog("server.log")
	if err != nil {
		return err
	}
	defer logFile.Close()
	log := newLogger(logFile, "server")

	fl := lock.ServerLock(cfg.DataDir, cfg.Server.Port)
	if err := fl.TryLock(); err != nil {
		return err
	}
	defer fl.Unlock()

	ctx, cancel := signalContext(cmd.Context(), log)
	defer cancel()

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	prep, err := newBindingPreparer(log.With("bindings"))
	if err != nil {
		return err
	}
	if cfg.Bindings.Watch && cfg.Bindings.File != "" {
		go func() {
			if err := plan.WatchBindings(ctx, cfg.Bindings.File, prep, log.With("bindings")); err != nil {
				log.Errorf("bindings watcher stopped: %v", err)
			}
		}()
	}

	if cfg.Metrics.Listen != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Listen, log.With("metrics")); err != nil {
				log.Errorf("metrics endpoint: %v", err)
			}
		}()
	}

	loader := plan.NewLoader(store, plan.WithPreparer(prep), plan.WithLogger(log.With("plan")))
	srvCfg := server.ConfigFrom(cfg.Server)
	srv := server.New(srvCfg, loader, server.WithLogger(log))

	fmt.Fprintf(cmd.OutOrStdout(), "tcexec server on %s (log: %s)\n", srvCfg.Addr(), logFile.Name())
	if err := srv.Serve(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("execution server: %w", err)
	}
	return nil
}
