package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/msageha/tcexec/internal/client"
	"github.com/msageha/tcexec/internal/events"
	"github.com/msageha/tcexec/internal/executor"
	"github.com/msageha/tcexec/internal/logging"
	"github.com/msageha/tcexec/internal/orchestrator"
	"github.com/msageha/tcexec/internal/plan"
	"github.com/msageha/tcexec/internal/remote"
	"github.com/msageha/tcexec/internal/report"
)

var errRunFailed = errors.New("test run failed")

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every case of a test plan",
	Long: `Run every case of a test plan in execution order. Without --remote the
cases run in-process with executors from the bindings file; with --remote the
automated cases run on the execution server at that address.

The run is journaled to <data_dir>/journal/<run id>.jsonl and summarised in a
YAML report. The command fails when any case did not pass.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	addPlanFlags(f)
	f.String("build", "", "build name recorded with reported results")
	f.Bool("report-upload", false, "report every outcome to the metadata store")
	f.String("report", "", "report path (default <data_dir>/reports/<run id>.yaml)")
	f.Int("timeout", 0, "seconds to wait for each remote reply")
	f.Bool("shutdown-server", false, "ask the remote server to shut down after the run")
	f.Bool("quiet", false, "do not print the summary table")
	f.String("bindings", "", "executor bindings file for in-process runs")
	f.String("dsn", "", "metadata store path")
	f.String("fixtures", "", "fixtures file loaded into the metadata store first")
}

func runRun(cmd *cobra.Command, _ []string) error {
	target, err := planTargetFrom(cmd)
	if err != nil {
		return err
	}
	log := newLogger(cmd.ErrOrStderr(), "run")
	ctx, cancel := signalContext(cmd.Context(), log)
	defer cancel()

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	runID := uuid.NewString()
	opts := []orchestrator.Option{
		orchestrator.WithRunID(runID),
		orchestrator.WithCollaborator(store),
		orchestrator.WithFactory(executor.DefaultFactory()),
		orchestrator.WithLogger(log.With("orchestrator")),
		orchestrator.WithListener(progress(cmd.ErrOrStderr())),
	}

	var p *plan.TestPlan
	var adapter *remote.Adapter
	if target.remote == "" {
		prep, err := newBindingPreparer(log.With("bindings"))
		if err != nil {
			return err
		}
		p, err = plan.NewLoader(store, plan.WithPreparer(prep), plan.WithLogger(log.With("plan"))).
			Load(ctx, target.project, target.plan)
		if err != nil {
			return err
		}
	} else {
		p, err = plan.NewLoader(store, plan.WithLogger(log.With("plan"))).Load(ctx, target.project, target.plan)
		if err != nil {
			return err
		}
		mgr := client.NewManager(client.OptionsFrom(cfg.Client, log.With("client")))
		defer mgr.CloseAll()
		adapter, err = prepareRemote(ctx, mgr, target, p, log)
		if err != nil {
			return err
		}
		opts = append(opts, orchestrator.WithRemote(adapter))
	}

	bus := events.NewBus(0)
	journal, err := events.NewJournal(filepath.Join(cfg.DataDir, "journal", runID+".jsonl"), 0)
	if err != nil {
		return err
	}
	defer journal.Close()
	journal.EnableChecksum(true)
	bus.Subscribe(journal.Subscriber(func(err error) {
		log.Warnf("journal write failed: %v", err)
	}))
	opts = append(opts, orchestrator.WithBus(bus))

	o := orchestrator.New(p, orchestrator.ConfigFrom(cfg.Orchestrator), opts...)
	runErr := o.Run(ctx)
	bus.Close()
	if bus.Dropped() > 0 {
		log.Warnf("journal dropped %d events", bus.Dropped())
	}

	if adapter != nil && target.shutdownServer {
		if err := adapter.SendServerShutdown(); err != nil {
			log.Warnf("shutdown request: %v", err)
		}
	}

	rep := o.Report()
	reportPath := cfg.Orchestrator.ReportPath
	if reportPath == "" {
		reportPath = filepath.Join(cfg.DataDir, "reports", runID+".yaml")
	}
	if err := report.Write(reportPath, rep); err != nil {
		log.Errorf("write report: %v", err)
	}
	if !target.quiet {
		fmt.Fprint(cmd.OutOrStdout(), report.Table(rep))
		fmt.Fprintf(cmd.OutOrStdout(), "report: %s\njournal: %s\n", reportPath, journal.Path())
	}

	if runErr != nil {
		return runErr
	}
	if o.HasTestFailed() {
		return fmt.Errorf("%w: %s/%s", errRunFailed, target.project, target.plan)
	}
	return nil
}

// prepareRemote connects to the server, creates the adapter and asks the
// server to prepare the plan.
func prepareRemote(ctx context.Context, mgr *client.Manager, target planTarget, p *plan.TestPlan, log *logging.Logger) (*remote.Adapter, error) {
	conn, err := mgr.Get(ctx, target.remote)
	if err != nil {
		return nil, err
	}
	wire := log.With("wire")
	conn.AddListener(client.ListenerFuncs{
		OnSent:     func(line string) { wire.Debugf("-> %s", line) },
		OnReceived: func(line string) { wire.Debugf("<- %s", line) },
		OnShutdown: func() { wire.Infof("server %s shut the connection down", target.remote) },
	})
	adapter, err := remote.New(conn, target.project, target.plan,
		remote.WithTimeout(cfg.Client.ResponseTimeout()),
		remote.WithLogger(log.With("remote")))
	if err != nil {
		return nil, err
	}
	cases, err := p.Cases(ctx)
	if err != nil {
		return nil, err
	}
	ready, err := adapter.SendPlanPrepareRequest(ctx, cases)
	if err != nil {
		return nil, err
	}
	log.Infof("server prepared %d of %d cases in %s/%s", len(ready), len(cases), target.project, target.plan)
	return adapter, nil
}

// progress prints one line per finished case.
func progress(w io.Writer) events.Subscriber {
	return func(e events.Event) {
		if e.Type != events.TestCaseCompleted || e.Case == nil || e.Executor == nil {
			return
		}
		fmt.Fprintf(w, "[%d/%d] %-8s %s\n", e.Total-e.Remaining, e.Total, e.Outcome.Result, e.Case.Label())
	}
}

type planTarget struct {
	project        string
	plan           string
	remote         string
	shutdownServer bool
	quiet          bool
}

func planTargetFrom(cmd *cobra.Command) (planTarget, error) {
	f := cmd.Flags()
	var t planTarget
	t.project, _ = f.GetString("project")
	t.plan, _ = f.GetString("plan")
	t.remote, _ = f.GetString("remote")
	t.shutdownServer, _ = f.GetBool("shutdown-server")
	t.quiet, _ = f.GetBool("quiet")
	if t.project == "" || t.plan == "" {
		return t, errors.New("--project and --plan are required")
	}
	return t, nil
}
