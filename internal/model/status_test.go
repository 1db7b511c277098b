package model

import "testing"

func TestIsTerminal(t *testing.T) {
	tests := []struct {
		state    ExecState
		terminal bool
	}{
		{StateReady, false},
		{StateRunning, false},
		{StateReset, false},
		{StateCompleted, true},
		{StateBombed, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if got := IsTerminal(tt.state); got != tt.terminal {
				t.Errorf("IsTerminal(%q) = %v, want %v", tt.state, got, tt.terminal)
			}
		})
	}
}

func TestParseExecResult(t *testing.T) {
	r, err := ParseExecResult("BLOCKED")
	if err != nil || r != ResultBlocked {
		t.Fatalf("ParseExecResult(BLOCKED) = %q, %v", r, err)
	}
	if _, err := ParseExecResult("maybe"); err == nil {
		t.Error("expected error for unknown result")
	}
	if _, err := ParseExecState("DONE"); err == nil {
		t.Error("expected error for unknown state")
	}
}

func TestResultCode(t *testing.T) {
	tests := map[ExecResult]string{
		ResultPassed:  "p",
		ResultBlocked: "b",
		ResultFailed:  "f",
		ResultUnknown: "f",
	}
	for r, want := range tests {
		if got := ResultCode(r); got != want {
			t.Errorf("ResultCode(%q) = %q, want %q", r, got, want)
		}
	}
}
