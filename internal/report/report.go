// Package report records the outcome of an orchestrated run as a YAML file and
// renders it as a summary table.
package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/msageha/tcexec/internal/model"
)

// CaseResult is the outcome of one case in a run.
type CaseResult struct {
	InternalID int              `yaml:"internal_id"`
	VisibleID  string           `yaml:"visible_id,omitempty"`
	Name       string           `yaml:"name"`
	Mode       model.ExecMode   `yaml:"mode"`
	Remote     bool             `yaml:"remote,omitempty"`
	State      model.ExecState  `yaml:"state"`
	Result     model.ExecResult `yaml:"result"`
	Notes      string           `yaml:"notes,omitempty"`
	Reported   bool             `yaml:"reported,omitempty"`
	Duration   time.Duration    `yaml:"duration"`
}

type RunReport struct {
	RunID      string       `yaml:"run_id"`
	Project    string       `yaml:"project"`
	Plan       string       `yaml:"plan"`
	Build      string       `yaml:"build,omitempty"`
	StartedAt  time.Time    `yaml:"started_at"`
	FinishedAt time.Time    `yaml:"finished_at"`
	Passed     bool         `yaml:"passed"`
	Error      string       `yaml:"error,omitempty"`
	Cases      []CaseResult `yaml:"cases"`
}

// Counts tallies the case results by verdict.
type Counts struct {
	Passed  int
	Failed  int
	Blocked int
	Unknown int
	Bombed  int
}

func (r RunReport) Counts() Counts {
	var c Counts
	for _, cr := range r.Cases {
		if cr.State == model.StateBombed {
			c.Bombed++
		}
		switch cr.Result {
		case model.ResultPassed:
			c.Passed++
		case model.ResultFailed:
			c.Failed++
		case model.ResultBlocked:
			c.Blocked++
		default:
			c.Unknown++
		}
	}
	return c
}

func (r RunReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Write stores the report at path atomically. An existing report is kept
// as path.bak.
func Write(path string, r RunReport) error {
	content, err := yamlv3.Marshal(r)
	if err != nil {
		return fmt.Errorf("yaml marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tcexec-report-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		if err := copyFile(path, path+".bak"); err != nil {
			return fmt.Errorf("create backup: %w", err)
		}
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}
	return nil
}

// Read loads a report written by Write.
func Read(path string) (RunReport, error) {
	var r RunReport
	data, err := os.ReadFile(path)
	if err != nil {
		return r, fmt.Errorf("read report: %w", err)
	}
	if err := yamlv3.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("parse report %s: %w", path, err)
	}
	for _, c := range r.Cases {
		if _, err := model.ParseExecState(string(c.State)); err != nil {
			return r, fmt.Errorf("report %s case %d: %w", path, c.InternalID, err)
		}
		if _, err := model.ParseExecResult(string(c.Result)); err != nil {
			return r, fmt.Errorf("report %s case %d: %w", path, c.InternalID, err)
		}
	}
	return r, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
