package model

import "fmt"

// ExecState is the lifecycle position of an executor.
type ExecState string

const (
	StateReady     ExecState = "READY"
	StateRunning   ExecState = "RUNNING"
	StateBombed    ExecState = "BOMBED"
	StateCompleted ExecState = "COMPLETED"
	StateReset     ExecState = "RESET"
)

// ExecResult is the verdict an executor reports for a test case.
type ExecResult string

const (
	ResultUnknown ExecResult = "UNKNOWN"
	ResultPassed  ExecResult = "PASSED"
	ResultFailed  ExecResult = "FAILED"
	ResultBlocked ExecResult = "BLOCKED"
)

var terminalStates = map[ExecState]bool{
	StateBombed:    true,
	StateCompleted: true,
}

var validStates = map[ExecState]bool{
	StateReady:     true,
	StateRunning:   true,
	StateBombed:    true,
	StateCompleted: true,
	StateReset:     true,
}

var validResults = map[ExecResult]bool{
	ResultUnknown: true,
	ResultPassed:  true,
	ResultFailed:  true,
	ResultBlocked: true,
}

func IsTerminal(s ExecState) bool {
	return terminalStates[s]
}

func (s ExecState) Valid() bool {
	return validStates[s]
}

func (r ExecResult) Valid() bool {
	return validResults[r]
}

func ParseExecState(s string) (ExecState, error) {
	st := ExecState(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown execution state %q", s)
	}
	return st, nil
}

func ParseExecResult(s string) (ExecResult, error) {
	r := ExecResult(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown execution result %q", s)
	}
	return r, nil
}

// ResultCode maps a verdict onto the single-letter status used when reporting
// upstream. Anything that did not pass or block is reported as a failure.
func ResultCode(r ExecResult) string {
	switch r {
	case ResultPassed:
		return "p"
	case ResultBlocked:
		return "b"
	default:
		return "f"
	}
}
