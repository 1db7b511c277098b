package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/msageha/tcexec/internal/metadata"
	"github.com/msageha/tcexec/internal/model"
)

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "List the outcomes reported to the metadata store for a plan",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		project, _ := cmd.Flags().GetString("project")
		planName, _ := cmd.Flags().GetString("plan")
		if project == "" || planName == "" {
			return errors.New("--project and --plan are required")
		}

		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		results, err := store.Results(cmd.Context(), project, planName)
		if err != nil {
			return err
		}

		t := table.NewWriter()
		t.SetOutputMirror(cmd.OutOrStdout())
		t.SetTitle(fmt.Sprintf("%s / %s", project, planName))
		t.AppendHeader(table.Row{"Case", "ID", "Name", "Build", "Status", "Notes"})
		t.SetColumnConfigs([]table.ColumnConfig{
			{Name: "Case", Align: text.AlignRight},
			{Name: "Notes", WidthMax: 60, WidthMaxEnforcer: text.WrapSoft},
		})
		ids := make(map[int]string)
		for _, r := range results {
			visible, ok := ids[r.CaseID]
			if !ok {
				visible = visibleID(cmd.Context(), store, r.CaseID)
				ids[r.CaseID] = visible
			}
			t.AppendRow(table.Row{r.CaseID, visible, r.CaseName, r.BuildName, r.Status, r.Notes})
		}
		t.SetStyle(table.StyleLight)
		t.Style().Title.Format = text.FormatDefault
		t.Render()
		return nil
	},
}

// visibleID looks up PREFIX-externalID for a case; cases the store no longer
// knows show as "-".
func visibleID(ctx context.Context, meta metadata.Collaborator, internalID int) string {
	info, err := meta.CaseInfo(ctx, internalID)
	if err != nil {
		return "-"
	}
	if v := model.NewTestCase(info).VisibleID(); v != "" {
		return v
	}
	return "-"
}

func init() {
	resultsCmd.Flags().String("project", "", "project name")
	resultsCmd.Flags().String("plan", "", "test plan name")
	resultsCmd.Flags().String("dsn", "", "metadata store path")
}
