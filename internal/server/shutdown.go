package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/msageha/tcexec/internal/protocol"
)

// ShutdownTag is the client tag SendShutdown speaks under.
const ShutdownTag = "tcexec-shutdown"

// SendShutdown connects to the server at addr, asks it to shut down and waits
// for the echo (or the connection closing).
func SendShutdown(ctx context.Context, addr string) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", addr, err)
	}
	defer func() { _ = conn.Close() }()

	deadline := time.Now().Add(5 * time.Second)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetDeadline(deadline)

	if _, err := fmt.Fprintln(conn, protocol.Frame(ShutdownTag, protocol.TokenShutdown)); err != nil {
		return fmt.Errorf("send shutdown: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		tag, payload, ok := protocol.SplitTag(scanner.Text())
		if ok && tag == ShutdownTag && protocol.Classify(payload) == protocol.KindShutdown {
			return nil
		}
	}
	var ne net.Error
	if err := scanner.Err(); errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("wait for shutdown echo: %w", err)
	}
	// The server may close before we read the echo; that is still a shutdown.
	return nil
}

// FindFreePort asks the kernel for an unused TCP port on localhost.
func FindFreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("find free port: %w", err)
	}
	defer func() { _ = l.Close() }()
	return l.Addr().(*net.TCPAddr).Port, nil
}
