package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/msageha/tcexec/internal/executor"
	"github.com/msageha/tcexec/internal/logging"
	"github.com/msageha/tcexec/internal/metrics"
	"github.com/msageha/tcexec/internal/plan"
	"github.com/msageha/tcexec/internal/protocol"
)

const maxLineSize = 1 << 20

// session serves one connection from its own goroutine. It keeps the plan last resolved for each
// client tag and every tag seen, for the shutdown broadcast.
type session struct {
	srv  *Server
	conn net.Conn
	log  *logging.Logger
	cls  protocol.Classifier

	wmu sync.Mutex
	w   *bufio.Writer

	mu    sync.Mutex
	plans map[string]*plan.TestPlan
	seen  []string

	closeOnce sync.Once
	closed    chan struct{}
}

func newSession(srv *Server, conn net.Conn) *session {
	return &session{
		srv:    srv,
		conn:   conn,
		log:    srv.log.With("session " + conn.RemoteAddr().String()),
		w:      bufio.NewWriter(conn),
		plans:  make(map[string]*plan.TestPlan),
		closed: make(chan struct{}),
	}
}

func (ss *session) run(ctx context.Context) (err error) {
	metrics.SessionOpened()
	defer metrics.SessionClosed()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("session panic: %v\n%s", r, debug.Stack())
		}
		if err != nil {
			ss.broadcastShutdown()
		}
		ss.close()
	}()

	// An empty acknowledgement tells the client the server is alive.
	_, ack := ss.cls.Process("")
	if err := ss.writeLine(ack); err != nil {
		return fmt.Errorf("greet client: %w", err)
	}

	lines := protocol.NewLineReader(ss.conn, maxLineSize)
	for {
		if ss.srv.cfg.ReadTimeout > 0 {
			_ = ss.conn.SetReadDeadline(time.Now().Add(ss.srv.cfg.ReadTimeout))
		}
		line, err := lines.ReadLine()
		if errors.Is(err, protocol.ErrLineTooLong) {
			if err := ss.rejectLine(line); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) || ss.isClosed() || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read request: %w", err)
		}

		stop, err := ss.handle(ctx, strings.TrimRight(line, "\r"))
		if err != nil {
			return err
		}
		if stop {
			ss.log.Infof("shutdown requested, closing session")
			return nil
		}
	}
}

// rejectLine answers an oversized line with a ping to its sender instead of
// routing a truncated request.
func (ss *session) rejectLine(prefix string) error {
	metrics.RecordError("line_too_long")
	tag, _, ok := protocol.SplitTag(prefix)
	if !ok {
		ss.log.Warnf("dropped untagged line over %d bytes", maxLineSize)
		return ss.send(protocol.NoClient, protocol.TokenPing)
	}
	ss.remember(tag)
	ss.log.Warnf("dropped line over %d bytes from %s", maxLineSize, tag)
	return ss.send(tag, protocol.TokenPing)
}

// handle routes one line. stop reports a shutdown request.
func (ss *session) handle(ctx context.Context, line string) (stop bool, err error) {
	tag, payload, ok := protocol.SplitTag(line)
	kind, _ := ss.cls.Process(payload)
	metrics.RecordRequest(kind.String())

	if !ok {
		return false, ss.send(protocol.NoClient, protocol.TokenPing)
	}
	ss.remember(tag)
	ss.log.Debugf("recv tag=%s kind=%s", tag, kind)

	switch {
	case ss.cls.IsShutdown():
		ss.broadcastShutdown()
		return true, nil
	case ss.cls.IsTCRequest() && hasMarkers(payload, protocol.MarkerProject, protocol.MarkerPlan, protocol.MarkerExecute):
		return false, ss.send(tag, ss.executeCase(ctx, tag, payload).Encode())
	case ss.cls.IsPrepRequest() && hasMarkers(payload, protocol.MarkerProject, protocol.MarkerPlan):
		return false, ss.send(tag, ss.preparePlan(ctx, tag, payload).Encode())
	default:
		return false, ss.send(tag, protocol.TokenPing)
	}
}

const unableToProcess = "Unable to process test case request."

func (ss *session) executeCase(ctx context.Context, tag, payload string) protocol.TCResult {
	project, planName, rawID, err := protocol.PlanAddress(payload)
	if err != nil {
		return protocol.BombedResult(unableToProcess + " " + err.Error())
	}
	p, err := ss.planFor(ctx, tag, project, planName)
	if err != nil {
		return protocol.BombedResult(fmt.Sprintf("%s Unable to create the needed plan. {Req: %s, Exception: %v}",
			unableToProcess, strings.Replace(payload, protocol.TCRequestTag, "", 1), err))
	}

	id, err := strconv.Atoi(strings.TrimSpace(rawID))
	if err != nil {
		return protocol.BombedResult(fmt.Sprintf("%s Failed while trying to find the test case. Exception: %v",
			unableToProcess, fmt.Errorf("%w %q", protocol.ErrBadCaseID, rawID)))
	}
	tc, err := p.Case(ctx, id)
	if errors.Is(err, plan.ErrCaseNotFound) {
		return protocol.BombedResult(fmt.Sprintf("%s Failed while processing the test case. [Test Case ID: %d].",
			unableToProcess, id))
	}
	if err != nil {
		return protocol.BombedResult(fmt.Sprintf("%s Failed while trying to find the test case. Exception: %v",
			unableToProcess, err))
	}

	e := tc.Executor()
	if e == nil {
		return protocol.BombedResult(fmt.Sprintf("%s No executor bound to the test case. [Test Case ID: %d].",
			unableToProcess, id))
	}

	start := time.Now()
	ss.log.Infof("executing %s of plan %q for %s", tc.Label(), p.Name(), tag)
	if err := executor.Run(ctx, e, tc); err != nil {
		metrics.RecordCase("server", string(e.State()), string(e.Result()), time.Since(start))
		return protocol.BombedResult(fmt.Sprintf(
			"The test cases execution failed with an exception. [Exception: %v], [TC:%d]", err, id))
	}
	res := protocol.TCResult{State: e.State(), Result: e.Result(), Notes: e.Notes()}
	metrics.RecordCase("server", string(res.State), string(res.Result), time.Since(start))
	ss.log.Infof("executed %s: %s/%s", tc.Label(), res.State, res.Result)
	return res
}

func (ss *session) preparePlan(ctx context.Context, tag, payload string) protocol.PrepResult {
	project, planName, _, err := protocol.PlanAddress(payload)
	if err != nil {
		return protocol.PrepResult{Message: err.Error()}
	}
	p, err := ss.planFor(ctx, tag, project, planName)
	if err != nil {
		return protocol.PrepResult{Message: fmt.Sprintf("Unable to create the needed plan. {Req: %s, Exception: %v}",
			strings.Replace(payload, protocol.PrepRequestTag, "", 1), err)}
	}
	cases, err := p.Cases(ctx)
	if err != nil {
		return protocol.PrepResult{Message: err.Error()}
	}

	res := protocol.PrepResult{Passed: true}
	for _, tc := range cases {
		if tc.Executor() != nil && tc.InternalID() != 0 {
			res.CaseIDs = append(res.CaseIDs, tc.InternalID())
		}
	}
	ss.log.Infof("prepared plan %q for %s: %d cases ready", planName, tag, len(res.CaseIDs))
	return res
}

// planFor returns the tag's cached plan, or loads a new one when the tag has
// none or asks for a different plan.
func (ss *session) planFor(ctx context.Context, tag, project, name string) (*plan.TestPlan, error) {
	ss.mu.Lock()
	p := ss.plans[tag]
	ss.mu.Unlock()
	if p != nil && p.Name() == name && p.ProjectName() == project {
		return p, nil
	}

	p, err := ss.srv.loader.Load(ctx, project, name)
	if err != nil {
		return nil, err
	}
	ss.mu.Lock()
	ss.plans[tag] = p
	ss.mu.Unlock()
	return p, nil
}

func (ss *session) remember(tag string) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	for _, t := range ss.seen {
		if t == tag {
			return
		}
	}
	ss.seen = append(ss.seen, tag)
}

func (ss *session) tags() []string {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return append([]string(nil), ss.seen...)
}

// broadcastShutdown tells every tag seen on this connection that the server is
// going away. Write errors are ignored.
func (ss *session) broadcastShutdown() {
	for _, tag := range ss.tags() {
		if err := ss.send(tag, protocol.TokenShutdown); err != nil {
			ss.log.Debugf("shutdown broadcast to %s failed: %v", tag, err)
			return
		}
	}
}

func (ss *session) send(tag, payload string) error {
	return ss.writeLine(protocol.Frame(tag, payload))
}

func (ss *session) writeLine(line string) error {
	ss.wmu.Lock()
	defer ss.wmu.Unlock()
	if ss.isClosed() {
		return net.ErrClosed
	}
	if _, err := ss.w.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	if err := ss.w.Flush(); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}

func (ss *session) close() {
	ss.closeOnce.Do(func() {
		ss.wmu.Lock()
		close(ss.closed)
		ss.wmu.Unlock()
		_ = ss.conn.Close()
	})
}

func (ss *session) isClosed() bool {
	select {
	case <-ss.closed:
		return true
	default:
		return false
	}
}

func hasMarkers(payload string, markers ...string) bool {
	for _, m := range markers {
		if !strings.Contains(payload, m) {
			return false
		}
	}
	return true
}
