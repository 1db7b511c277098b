package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/msageha/tcexec/internal/server"
)

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Ask a running execution server to shut down",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = server.ConfigFrom(cfg.Server).Addr()
		}
		wait, _ := cmd.Flags().GetDuration("wait")

		ctx, cancel := context.WithTimeout(cmd.Context(), wait)
		defer cancel()
		if err := server.SendShutdown(ctx, addr); err != nil {
			return fmt.Errorf("shutdown %s: %w", addr, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "shutdown sent to %s\n", addr)
		return nil
	},
}

func init() {
	shutdownCmd.Flags().String("addr", "", "server address, host:port (default from config)")
	shutdownCmd.Flags().Duration("wait", 10*time.Second, "how long to wait for the server to acknowledge")
}
