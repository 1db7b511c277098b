package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/msageha/tcexec/internal/model"
)

// ExitBlocked is the exit status a command uses to report BLOCKED.
const ExitBlocked = 2

const maxNotesBytes = 512

// Command runs a shell command per case. Exit 0 passes, ExitBlocked blocks,
// anything else fails. The case identity is exported as TC_INTERNAL_ID,
// TC_VISIBLE_ID, TC_NAME and TC_PROJECT.
type Command struct {
	Base
	Shell  string
	Script string
	Dir    string
	Env    []string
}

func NewCommand(script string) *Command {
	return &Command{Shell: "/bin/sh", Script: script}
}

func (c *Command) Execute(ctx context.Context, tc *model.TestCase) error {
	if strings.TrimSpace(c.Script) == "" {
		return errors.New("command executor has no script")
	}
	c.SetState(model.StateRunning)

	cmd := exec.CommandContext(ctx, c.Shell, "-c", c.Script)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)
	if tc != nil {
		cmd.Env = append(cmd.Env,
			"TC_INTERNAL_ID="+strconv.Itoa(tc.InternalID()),
			"TC_VISIBLE_ID="+tc.VisibleID(),
			"TC_NAME="+tc.Name(),
			"TC_PROJECT="+tc.ProjectName(),
		)
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	notes := tail(out.String())
	if err == nil {
		c.finish(model.ResultPassed, notes)
		return nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		c.SetNotes(notes)
		return fmt.Errorf("run %q: %w", c.Script, err)
	}
	if exitErr.ExitCode() == ExitBlocked {
		c.finish(model.ResultBlocked, notes)
		return nil
	}
	c.finish(model.ResultFailed, strings.TrimSpace(fmt.Sprintf("exit status %d. %s", exitErr.ExitCode(), notes)))
	return nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxNotesBytes {
		return s
	}
	start := len(s) - maxNotesBytes
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return "..." + s[start:]
}
