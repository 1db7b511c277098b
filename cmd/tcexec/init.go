package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/msageha/tcexec/internal/setup"
)

var initCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Write a starter config, fixtures and bindings file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := "."
		if len(args) == 1 {
			dir = args[0]
		}
		if err := setup.Run(dir); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "initialized tcexec workspace in %s\n", dir)
		return nil
	},
}
