package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load projects, cases and plans from a fixtures file into the metadata store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if cfg.Metadata.Fixtures == "" {
			return errors.New("--fixtures is required")
		}
		// openStore loads the configured fixtures.
		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()
		fmt.Fprintf(cmd.OutOrStdout(), "seeded %s from %s\n", cfg.Metadata.DSN, cfg.Metadata.Fixtures)
		return nil
	},
}

func init() {
	seedCmd.Flags().String("fixtures", "", "fixtures file")
	seedCmd.Flags().String("dsn", "", "metadata store path")
}
