// Package main provides the tcexec CLI: an execution server for test cases
// and the client side that runs plans against it.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/msageha/tcexec/internal/model"
)

const version = "0.3.0"

var (
	// configFile is set by the --config flag.
	configFile string

	// cfg is loaded before every command except version.
	cfg model.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "tcexec",
	Short: "Run test plans locally or on a remote execution server",
	Long: `tcexec executes the test cases of a plan. Cases are resolved from a
metadata store, bound to executors, and run either in-process or on an
execution server reached over TCP.`,
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default: ./tcexec.yaml or ~/.tcexec/tcexec.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn or error")
	rootCmd.PersistentFlags().String("data-dir", "", "directory for the metadata store, logs, journals and reports")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(prepareCmd)
	rootCmd.AddCommand(shutdownCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(resultsCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "tcexec %s\n", version)
	},
}

func initConfig(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "version" || cmd.Name() == "init" {
		return nil
	}
	c, err := loadConfig(configFile, cmd)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg = c
	return nil
}
