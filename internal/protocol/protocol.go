// Package protocol implements the line-oriented request/response grammar spoken
// between remote execution clients and the execution server.
package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/msageha/tcexec/internal/model"
)

// Every line is <clientTag><Separator><payload>.
const Separator = "@:#"

// NoClient addresses replies to lines that carried no client tag.
const NoClient = "No client"

const (
	TokenShutdown = "Shutdown"
	TokenPing     = "Ping"

	PrepRequestTag = "PPRequest:"
	PrepResultTag  = "PPResult:"
	PrepPassed     = "PP_Passed:"
	PrepFailed     = "PP_Failed:"
	PrepDetail     = "[PP_DETAIL]"

	TCRequestTag = "TCRequest:"
	TCResultTag  = "TCResult:"

	MarkerProject = "[project]"
	MarkerPlan    = "[plan]"
	MarkerExecute = "[tc_execute]"

	MarkerPassed    = "[tc_exec_passed]"
	MarkerFailed    = "[tc_exec_failed]"
	MarkerBlocked   = "[tc_exec_blocked]"
	MarkerBombed    = "[tc_exec_bombed]"
	MarkerCompleted = "[tc_exec_completed]"
	MarkerNotes     = "[tc_exec_notes]"
)

var (
	ErrMissingMarker = errors.New("missing protocol marker")
	ErrBadCaseID     = errors.New("invalid test case id")
)

// Frame prefixes a payload with the client tag.
func Frame(tag, payload string) string {
	return tag + Separator + payload
}

// SplitTag separates the client tag from the payload. ok is false when the
// separator is absent.
func SplitTag(line string) (tag, payload string, ok bool) {
	idx := strings.Index(line, Separator)
	if idx < 0 {
		return "", line, false
	}
	return line[:idx], line[idx+len(Separator):], true
}

// TCRequest asks the server to execute one case of a plan.
type TCRequest struct {
	Project string
	Plan    string
	CaseID  int
}

func (r TCRequest) Encode() string {
	return TCRequestTag + MarkerProject + r.Project + MarkerPlan + r.Plan + MarkerExecute + strconv.Itoa(r.CaseID)
}

// PrepRequest asks the server to prepare (bind executors for) a plan.
type PrepRequest struct {
	Project string
	Plan    string
}

func (r PrepRequest) Encode() string {
	return PrepRequestTag + MarkerProject + r.Project + MarkerPlan + r.Plan
}

// PlanAddress extracts the project name, plan name and raw case id text from a
// request payload. The case id is empty for preparation requests.
func PlanAddress(payload string) (project, plan, caseID string, err error) {
	projectIdx := strings.Index(payload, MarkerProject)
	planIdx := strings.Index(payload, MarkerPlan)
	if projectIdx < 0 || planIdx < 0 {
		return "", "", "", fmt.Errorf("%w: project and plan required in %q", ErrMissingMarker, payload)
	}
	start := projectIdx + len(MarkerProject)
	if planIdx < start {
		return "", "", "", fmt.Errorf("%w: plan marker precedes project in %q", ErrMissingMarker, payload)
	}
	project = payload[start:planIdx]

	start = planIdx + len(MarkerPlan)
	execIdx := strings.Index(payload, MarkerExecute)
	if execIdx > planIdx {
		plan = payload[start:execIdx]
		caseID = payload[execIdx+len(MarkerExecute):]
	} else {
		plan = payload[start:]
	}
	return project, plan, caseID, nil
}

func ParseTCRequest(payload string) (TCRequest, error) {
	if !strings.Contains(payload, MarkerExecute) {
		return TCRequest{}, fmt.Errorf("%w: %s", ErrMissingMarker, MarkerExecute)
	}
	project, plan, raw, err := PlanAddress(payload)
	if err != nil {
		return TCRequest{}, err
	}
	id, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return TCRequest{Project: project, Plan: plan}, fmt.Errorf("%w %q: %v", ErrBadCaseID, raw, err)
	}
	return TCRequest{Project: project, Plan: plan, CaseID: id}, nil
}

func ParsePrepRequest(payload string) (PrepRequest, error) {
	project, plan, _, err := PlanAddress(payload)
	if err != nil {
		return PrepRequest{}, err
	}
	return PrepRequest{Project: project, Plan: plan}, nil
}

// TCResult is the verdict the server sends back for a TCRequest.
type TCResult struct {
	State  model.ExecState
	Result model.ExecResult
	Notes  string
}

// BombedResult is a failed, bombed verdict carrying a diagnostic note.
func BombedResult(notes string) TCResult {
	return TCResult{State: model.StateBombed, Result: model.ResultFailed, Notes: notes}
}

func (r TCResult) Encode() string {
	var b strings.Builder
	b.WriteString(TCResultTag)
	if r.State == model.StateBombed {
		b.WriteString(MarkerBombed)
		b.WriteString(MarkerFailed)
	} else {
		b.WriteString(MarkerCompleted)
		switch r.Result {
		case model.ResultPassed:
			b.WriteString(MarkerPassed)
		case model.ResultBlocked:
			b.WriteString(MarkerBlocked)
		default:
			b.WriteString(MarkerFailed)
		}
	}
	b.WriteString(MarkerNotes)
	b.WriteString(flatten(r.Notes))
	return b.String()
}

// ParseTCResult decodes a result payload. Markers are only looked up ahead of
// the notes so free text cannot change the verdict.
func ParseTCResult(payload string) TCResult {
	head, notes := payload, ""
	if idx := strings.Index(payload, MarkerNotes); idx >= 0 {
		head = payload[:idx]
		notes = payload[idx+len(MarkerNotes):]
	}
	switch {
	case strings.Contains(head, MarkerBombed):
		return TCResult{State: model.StateBombed, Result: model.ResultFailed, Notes: notes}
	case strings.Contains(head, MarkerPassed):
		return TCResult{State: model.StateCompleted, Result: model.ResultPassed, Notes: notes}
	case strings.Contains(head, MarkerBlocked):
		return TCResult{State: model.StateCompleted, Result: model.ResultBlocked, Notes: notes}
	default:
		return TCResult{State: model.StateCompleted, Result: model.ResultFailed, Notes: notes}
	}
}

// PrepResult is the server's answer to a PrepRequest.
type PrepResult struct {
	Passed  bool
	CaseIDs []int
	Message string
}

func (r PrepResult) Encode() string {
	if !r.Passed {
		return PrepResultTag + PrepFailed + flatten(r.Message)
	}
	var b strings.Builder
	b.WriteString(PrepResultTag)
	b.WriteString(PrepPassed)
	b.WriteString(PrepDetail)
	for _, id := range r.CaseIDs {
		b.WriteString(",")
		b.WriteString(strconv.Itoa(id))
	}
	return b.String()
}

// ParsePrepResult decodes a preparation reply. Detail entries that are empty or
// not numeric are skipped.
func ParsePrepResult(payload string) PrepResult {
	if !strings.Contains(payload, PrepPassed) {
		msg := payload
		if idx := strings.Index(payload, PrepFailed); idx >= 0 {
			msg = payload[idx+len(PrepFailed):]
		}
		return PrepResult{Passed: false, Message: strings.TrimSpace(msg)}
	}
	res := PrepResult{Passed: true}
	idx := strings.Index(payload, PrepDetail)
	if idx < 0 {
		return res
	}
	for _, field := range strings.Split(payload[idx+len(PrepDetail):], ",") {
		id, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil {
			continue
		}
		res.CaseIDs = append(res.CaseIDs, id)
	}
	return res
}

// flatten keeps free text on a single line.
func flatten(s string) string {
	return strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(s)
}
