package report

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/msageha/tcexec/internal/model"
)

const notesWidth = 60

// Table renders the run as a plain text table, one row per case.
func Table(r RunReport) string {
	var buf bytes.Buffer

	t := table.NewWriter()
	t.SetOutputMirror(&buf)
	t.SetTitle(fmt.Sprintf("%s / %s", r.Project, r.Plan))
	t.AppendHeader(table.Row{"#", "Case", "Mode", "State", "Result", "Duration", "Notes"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "#", Align: text.AlignRight},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Notes", WidthMax: notesWidth, WidthMaxEnforcer: text.WrapSoft},
	})

	for _, c := range r.Cases {
		mode := string(c.Mode)
		if c.Remote {
			mode += " (remote)"
		}
		t.AppendRow(table.Row{
			c.InternalID,
			caseLabel(c),
			mode,
			string(c.State),
			string(c.Result),
			formatDuration(c.Duration),
			c.Notes,
		})
	}

	counts := r.Counts()
	status := "PASS"
	if !r.Passed {
		status = "FAIL"
	}
	t.AppendFooter(table.Row{
		"",
		status,
		"",
		fmt.Sprintf("%d bombed", counts.Bombed),
		fmt.Sprintf("%d/%d passed", counts.Passed, len(r.Cases)),
		formatDuration(r.Duration()),
		r.Error,
	})
	t.SetStyle(table.StyleLight)
	t.Style().Format.Footer = text.FormatDefault
	t.Style().Title.Format = text.FormatDefault
	t.Render()
	return buf.String()
}

func caseLabel(c CaseResult) string {
	switch {
	case c.VisibleID != "" && c.Name != "":
		return fmt.Sprintf("%s %s", c.VisibleID, c.Name)
	case c.VisibleID != "":
		return c.VisibleID
	case c.Name != "":
		return c.Name
	default:
		return fmt.Sprintf("#%d", c.InternalID)
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Truncate(time.Millisecond).String()
}

// ResultOf builds the report row for a case after it ran with e.
func ResultOf(tc *model.TestCase, e model.Executor, remote bool, took time.Duration) CaseResult {
	o := model.OutcomeOf(e)
	return CaseResult{
		InternalID: tc.InternalID(),
		VisibleID:  tc.VisibleID(),
		Name:       tc.Name(),
		Mode:       tc.ExecMode(),
		Remote:     remote,
		State:      o.State,
		Result:     o.Result,
		Notes:      o.Notes,
		Duration:   took,
	}
}
