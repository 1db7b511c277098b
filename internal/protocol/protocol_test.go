package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/tcexec/internal/model"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Kind
	}{
		{"empty", "", KindAlive},
		{"ping", "alice@:#Ping", KindAlive},
		{"tc request", "alice@:#TCRequest:[project]P1[plan]Plan1[tc_execute]42", KindTCRequest},
		{"prep request", "alice@:#PPRequest:[project]P1[plan]Plan1", KindPrepRequest},
		{"tc result", "alice@:#TCResult:[tc_exec_completed][tc_exec_passed][tc_exec_notes]ok", KindTCResult},
		{"prep result", "alice@:#PPResult:PP_Passed:[PP_DETAIL],1", KindPrepResult},
		{"shutdown", "Shutdown", KindShutdown},
		{"prep request wins over shutdown", "x@:#PPRequest:Shutdown", KindPrepRequest},
		{"prep result wins over tc result", "PPResult:TCResult:", KindPrepResult},
		{"result wins over request", "TCRequest:TCResult:", KindTCResult},
		{"request wins over shutdown", "TCRequest:Shutdown", KindTCRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.line))
		})
	}
}

func TestClassifier_Process(t *testing.T) {
	var c Classifier

	kind, out := c.Process("")
	assert.Equal(t, KindAlive, kind)
	assert.Equal(t, "", out)
	assert.False(t, c.IsShutdown())

	kind, out = c.Process("bob@:#Shutdown now")
	assert.Equal(t, KindShutdown, kind)
	assert.Equal(t, TokenShutdown, out)
	assert.True(t, c.IsShutdown())

	_, out = c.Process("bob@:#PPRequest:[project]a[plan]b")
	assert.Equal(t, "bob@:#PPRequest:[project]a[plan]b", out)
	assert.True(t, c.IsPrepRequest())
	assert.False(t, c.IsShutdown())
	assert.Equal(t, KindPrepRequest, c.Last())

	c.Process("TCRequest:[project]a[plan]b[tc_execute]1")
	assert.True(t, c.IsTCRequest())
	assert.False(t, c.IsPrepRequest())

	c.Process("Ping")
	assert.False(t, c.IsTCRequest())
	assert.Equal(t, KindAlive, c.Last())
}

func TestSplitTag(t *testing.T) {
	tag, payload, ok := SplitTag("alice@:#Ping")
	assert.True(t, ok)
	assert.Equal(t, "alice", tag)
	assert.Equal(t, "Ping", payload)

	_, payload, ok = SplitTag("Shutdown")
	assert.False(t, ok)
	assert.Equal(t, "Shutdown", payload)

	assert.Equal(t, "alice@:#Ping", Frame("alice", TokenPing))
}

func TestTCRequest_RoundTrip(t *testing.T) {
	req := TCRequest{Project: "P1", Plan: "Plan1", CaseID: 42}
	payload := req.Encode()
	assert.Equal(t, "TCRequest:[project]P1[plan]Plan1[tc_execute]42", payload)

	got, err := ParseTCRequest(payload)
	require.NoError(t, err)
	assert.Equal(t, req, got)
}

func TestParseTCRequest_Errors(t *testing.T) {
	_, err := ParseTCRequest("TCRequest:[project]P1[plan]Plan1")
	assert.True(t, errors.Is(err, ErrMissingMarker))

	_, err = ParseTCRequest("TCRequest:[plan]Plan1[tc_execute]4")
	assert.True(t, errors.Is(err, ErrMissingMarker))

	got, err := ParseTCRequest("TCRequest:[project]P1[plan]Plan1[tc_execute]abc")
	assert.True(t, errors.Is(err, ErrBadCaseID))
	assert.Equal(t, "Plan1", got.Plan)
}

func TestParsePrepRequest(t *testing.T) {
	got, err := ParsePrepRequest(PrepRequest{Project: "Web Shop", Plan: "Nightly"}.Encode())
	require.NoError(t, err)
	assert.Equal(t, "Web Shop", got.Project)
	assert.Equal(t, "Nightly", got.Plan)
}

func TestTCResult_Encode(t *testing.T) {
	tests := []struct {
		name string
		res  TCResult
		want string
	}{
		{"passed", TCResult{State: model.StateCompleted, Result: model.ResultPassed, Notes: "ok"},
			"TCResult:[tc_exec_completed][tc_exec_passed][tc_exec_notes]ok"},
		{"blocked", TCResult{State: model.StateCompleted, Result: model.ResultBlocked},
			"TCResult:[tc_exec_completed][tc_exec_blocked][tc_exec_notes]"},
		{"failed", TCResult{State: model.StateCompleted, Result: model.ResultFailed, Notes: "a\nb"},
			"TCResult:[tc_exec_completed][tc_exec_failed][tc_exec_notes]a b"},
		{"bombed", BombedResult("boom"),
			"TCResult:[tc_exec_bombed][tc_exec_failed][tc_exec_notes]boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.res.Encode())
		})
	}
}

func TestParseTCResult(t *testing.T) {
	got := ParseTCResult(TCResult{State: model.StateCompleted, Result: model.ResultPassed, Notes: "fine"}.Encode())
	assert.Equal(t, model.StateCompleted, got.State)
	assert.Equal(t, model.ResultPassed, got.Result)
	assert.Equal(t, "fine", got.Notes)

	got = ParseTCResult("TCResult:[tc_exec_bombed][tc_exec_failed][tc_exec_notes]x")
	assert.Equal(t, model.StateBombed, got.State)
	assert.Equal(t, model.ResultFailed, got.Result)

	// Notes cannot smuggle a verdict.
	got = ParseTCResult("TCResult:[tc_exec_completed][tc_exec_failed][tc_exec_notes]expected [tc_exec_passed]")
	assert.Equal(t, model.ResultFailed, got.Result)
	assert.Equal(t, "expected [tc_exec_passed]", got.Notes)

	got = ParseTCResult("TCResult:[tc_exec_completed][tc_exec_blocked]")
	assert.Equal(t, model.ResultBlocked, got.Result)
	assert.Equal(t, "", got.Notes)
}

func TestPrepResult(t *testing.T) {
	passed := PrepResult{Passed: true, CaseIDs: []int{3, 5}}
	assert.Equal(t, "PPResult:PP_Passed:[PP_DETAIL],3,5", passed.Encode())

	got := ParsePrepResult(passed.Encode())
	assert.True(t, got.Passed)
	assert.Equal(t, []int{3, 5}, got.CaseIDs)

	got = ParsePrepResult("PPResult:PP_Passed:[PP_DETAIL],,7,x,")
	assert.Equal(t, []int{7}, got.CaseIDs)

	failed := PrepResult{Message: "no such plan"}
	assert.Equal(t, "PPResult:PP_Failed:no such plan", failed.Encode())
	got = ParsePrepResult(failed.Encode())
	assert.False(t, got.Passed)
	assert.Equal(t, "no such plan", got.Message)
}
