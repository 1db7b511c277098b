// Package status summarises the local execution server and recent runs.
package status

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/msageha/tcexec/internal/lock"
	"github.com/msageha/tcexec/internal/report"
)

// DefaultRecentRuns is how many reports Run lists when asked for none.
const DefaultRecentRuns = 5

type Status struct {
	Server ServerStatus `json:"server"`
	Runs   []RunStatus  `json:"runs,omitempty"`
}

// ServerStatus is read from the server lock. The server is never dialled:
// a single-session server would treat the status check as its one client.
type ServerStatus struct {
	Port     int    `json:"port"`
	Running  bool   `json:"running"`
	Pid      int    `json:"pid,omitempty"`
	LockPath string `json:"lock_path"`
}

type RunStatus struct {
	RunID   string `json:"run_id"`
	Project string `json:"project"`
	Plan    string `json:"plan"`
	Passed  bool   `json:"passed"`
	Cases   int    `json:"cases"`
	Failed  int    `json:"failed"`
	Path    string `json:"path"`
}

// Collect gathers the server state for port and the latest reports under
// dataDir, newest first.
func Collect(dataDir string, port, recent int) Status {
	if recent <= 0 {
		recent = DefaultRecentRuns
	}
	return Status{
		Server: checkServer(dataDir, port),
		Runs:   recentRuns(filepath.Join(dataDir, "reports"), recent),
	}
}

// Run collects the status and prints it to w.
func Run(w io.Writer, dataDir string, port, recent int, jsonOutput bool) error {
	st := Collect(dataDir, port, recent)
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}
	printStatus(w, st)
	return nil
}

func checkServer(dataDir string, port int) ServerStatus {
	fl := lock.ServerLock(dataDir, port)
	st := ServerStatus{Port: port, LockPath: fl.Path()}
	pid, err := lock.Holder(fl.Path())
	if err != nil {
		return st
	}
	st.Pid = pid
	st.Running = processAlive(pid)
	return st
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || err == syscall.EPERM
}

func recentRuns(dir string, n int) []RunStatus {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	type candidate struct {
		path string
		mod  int64
	}
	var files []candidate
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".yaml" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, candidate{filepath.Join(dir, e.Name()), info.ModTime().UnixNano()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mod > files[j].mod })

	var runs []RunStatus
	for _, f := range files {
		if len(runs) == n {
			break
		}
		r, err := report.Read(f.path)
		if err != nil {
			continue
		}
		c := r.Counts()
		runs = append(runs, RunStatus{
			RunID:   r.RunID,
			Project: r.Project,
			Plan:    r.Plan,
			Passed:  r.Passed,
			Cases:   len(r.Cases),
			Failed:  len(r.Cases) - c.Passed,
			Path:    f.path,
		})
	}
	return runs
}

func printStatus(w io.Writer, st Status) {
	fmt.Fprintln(w, "Server:")
	if st.Server.Running {
		fmt.Fprintf(w, "  port %d: running (PID: %d)\n", st.Server.Port, st.Server.Pid)
	} else {
		fmt.Fprintf(w, "  port %d: not running\n", st.Server.Port)
	}

	if len(st.Runs) == 0 {
		fmt.Fprintln(w, "\nRuns: none")
		return
	}
	fmt.Fprintln(w, "\nRuns:")
	for _, r := range st.Runs {
		verdict := "PASS"
		if !r.Passed {
			verdict = "FAIL"
		}
		fmt.Fprintf(w, "  %-4s %s/%s  %d cases, %d not passed  [%s]\n", verdict, r.Project, r.Plan, r.Cases, r.Failed, r.RunID)
	}
}
