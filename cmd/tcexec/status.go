package main

import (
	"github.com/spf13/cobra"

	"github.com/msageha/tcexec/internal/status"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the local server is running and the latest runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")
		recent, _ := cmd.Flags().GetInt("recent")
		return status.Run(cmd.OutOrStdout(), cfg.DataDir, cfg.Server.Port, recent, jsonOut)
	},
}

func init() {
	statusCmd.Flags().Bool("json", false, "print JSON")
	statusCmd.Flags().Int("recent", status.DefaultRecentRuns, "number of recent runs to list")
	statusCmd.Flags().Int("port", 0, "server port (default from config)")
}
