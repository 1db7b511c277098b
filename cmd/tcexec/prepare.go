package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/msageha/tcexec/internal/client"
	"github.com/msageha/tcexec/internal/plan"
)

var prepareCmd = &cobra.Command{
	Use:   "prepare",
	Short: "Prepare a test plan and list the cases that have an executor",
	Long: `Prepare a test plan without running it. With --remote the execution
server prepares the plan and reports which cases it bound; otherwise the
bindings file is applied in-process.`,
	Args: cobra.NoArgs,
	RunE: runPrepare,
}

func init() {
	f := prepareCmd.Flags()
	addPlanFlags(f)
	f.Int("timeout", 0, "seconds to wait for the server's reply")
	f.String("bindings", "", "executor bindings file for in-process preparation")
	f.String("dsn", "", "metadata store path")
	f.String("fixtures", "", "fixtures file loaded into the metadata store first")
}

func addPlanFlags(f *pflag.FlagSet) {
	f.String("project", "", "project name")
	f.String("plan", "", "test plan name")
	f.String("remote", "", "execution server address, host:port")
}

func runPrepare(cmd *cobra.Command, _ []string) error {
	target, err := planTargetFrom(cmd)
	if err != nil {
		return err
	}
	log := newLogger(cmd.ErrOrStderr(), "prepare")
	ctx, cancel := signalContext(cmd.Context(), log)
	defer cancel()

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	out := cmd.OutOrStdout()
	if target.remote != "" {
		p, err := plan.NewLoader(store, plan.WithLogger(log.With("plan"))).Load(ctx, target.project, target.plan)
		if err != nil {
			return err
		}
		mgr := client.NewManager(client.OptionsFrom(cfg.Client, log.With("client")))
		defer mgr.CloseAll()
		adapter, err := prepareRemote(ctx, mgr, target, p, log)
		if err != nil {
			return err
		}
		cases, err := p.Cases(ctx)
		if err != nil {
			return err
		}
		for _, tc := range cases {
			fmt.Fprintf(out, "%-6d %-5t %s\n", tc.InternalID(), tc.Executor() != nil, tc.Label())
		}
		fmt.Fprintf(out, "prepared remotely as %s\n", adapter.Tag())
		return nil
	}

	prep, err := newBindingPreparer(log.With("bindings"))
	if err != nil {
		return err
	}
	p, err := plan.NewLoader(store, plan.WithPreparer(prep), plan.WithLogger(log.With("plan"))).
		Load(ctx, target.project, target.plan)
	if err != nil {
		return err
	}
	cases, err := p.Cases(ctx)
	if err != nil {
		return err
	}
	for _, tc := range cases {
		fmt.Fprintf(out, "%-6d %-5t %s\n", tc.InternalID(), tc.Executor() != nil, tc.Label())
	}
	return nil
}
