// Package client owns the client side of the execution protocol: one duplex
// connection per server, drained by a background reader into per-tag queues.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/msageha/tcexec/internal/logging"
	"github.com/msageha/tcexec/internal/model"
	"github.com/msageha/tcexec/internal/protocol"
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrTimeout          = errors.New("timed out waiting for server response")
)

const maxLineSize = 1 << 20

// Listener observes traffic on a Connection. Calls happen on the sending
// goroutine or the reader goroutine and must not block.
type Listener interface {
	SentMessage(line string)
	ReceivedMessage(line string)
	ReceivedShutdown()
}

// ListenerFuncs adapts optional callbacks into a Listener.
type ListenerFuncs struct {
	OnSent     func(line string)
	OnReceived func(line string)
	OnShutdown func()
}

func (l ListenerFuncs) SentMessage(line string) {
	if l.OnSent != nil {
		l.OnSent(line)
	}
}

func (l ListenerFuncs) ReceivedMessage(line string) {
	if l.OnReceived != nil {
		l.OnReceived(line)
	}
}

func (l ListenerFuncs) ReceivedShutdown() {
	if l.OnShutdown != nil {
		l.OnShutdown()
	}
}

type Options struct {
	Attempts    int
	Backoff     time.Duration
	DialTimeout time.Duration
	Log         *logging.Logger
}

func OptionsFrom(c model.ClientConfig, log *logging.Logger) Options {
	return Options{
		Attempts: c.ConnectAttempts,
		Backoff:  c.ConnectBackoff(),
		Log:      log,
	}
}

func (o Options) withDefaults() Options {
	if o.Attempts <= 0 {
		o.Attempts = model.DefaultConnectAttempts
	}
	if o.Backoff <= 0 {
		o.Backoff = model.DefaultConnectBackoffMs * time.Millisecond
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 10 * time.Second
	}
	return o
}

// Connection is a line-oriented duplex channel to one execution server.
// Inbound lines are queued by client tag until a caller takes them.
type Connection struct {
	addr string
	conn net.Conn
	log  *logging.Logger

	wmu sync.Mutex

	mu        sync.Mutex
	cond      *sync.Cond
	queues    map[string][]string
	closed    bool
	listeners []Listener

	closeOnce  sync.Once
	readerDone chan struct{}
}

// Open dials addr, retrying up to opts.Attempts times with opts.Backoff
// between attempts, and starts the background reader.
func Open(ctx context.Context, addr string, opts Options) (*Connection, error) {
	opts = opts.withDefaults()
	d := net.Dialer{Timeout: opts.DialTimeout}

	var lastErr error
	for attempt := 1; attempt <= opts.Attempts; attempt++ {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			return newConnection(addr, conn, opts.Log), nil
		}
		lastErr = err
		opts.Log.Warnf("connect to %s failed (attempt %d/%d): %v", addr, attempt, opts.Attempts, err)
		if attempt == opts.Attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("connect to %s: %w", addr, ctx.Err())
		case <-time.After(opts.Backoff):
		}
	}
	return nil, fmt.Errorf("connect to %s after %d attempts: %w", addr, opts.Attempts, lastErr)
}

func newConnection(addr string, conn net.Conn, log *logging.Logger) *Connection {
	c := &Connection{
		addr:       addr,
		conn:       conn,
		log:        log,
		queues:     make(map[string][]string),
		readerDone: make(chan struct{}),
	}
	c.cond = sync.NewCond(&c.mu)
	go c.readLoop()
	return c
}

func (c *Connection) Addr() string { return c.addr }

func (c *Connection) AddListener(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// Send writes one tagged line.
func (c *Connection) Send(tag, payload string) error {
	if !c.IsGood() {
		return ErrConnectionClosed
	}
	line := protocol.Frame(tag, payload)

	c.wmu.Lock()
	_, err := c.conn.Write([]byte(line + "\n"))
	c.wmu.Unlock()
	if err != nil {
		return fmt.Errorf("send to %s: %w", c.addr, err)
	}
	c.log.Debugf("sent %s", line)
	for _, l := range c.snapshotListeners() {
		l.SentMessage(line)
	}
	return nil
}

// Receive pops the oldest queued payload for tag. ok is false when the queue
// is empty. Queued payloads stay readable after the connection closes.
func (c *Connection) Receive(tag string) (payload string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.popLocked(tag)
}

// Wait blocks until a payload for tag satisfies match and returns it. Payloads
// that do not match are discarded. A Shutdown addressed to tag, or the
// connection closing, ends the wait with ErrConnectionClosed; ctx expiring
// ends it with ErrTimeout.
func (c *Connection) Wait(ctx context.Context, tag string, match func(payload string) bool) (string, error) {
	stop := context.AfterFunc(ctx, func() {
		c.mu.Lock()
		c.cond.Broadcast()
		c.mu.Unlock()
	})
	defer stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		for {
			payload, ok := c.popLocked(tag)
			if !ok {
				break
			}
			if match(payload) {
				return payload, nil
			}
			if protocol.Classify(payload) == protocol.KindShutdown {
				return "", fmt.Errorf("%w: server shut down", ErrConnectionClosed)
			}
			c.log.Debugf("discarding unexpected message for %s: %s", tag, payload)
		}
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return "", ErrTimeout
			}
			return "", err
		}
		if c.closed {
			return "", ErrConnectionClosed
		}
		c.cond.Wait()
	}
}

// IsGood reports whether the connection is open.
func (c *Connection) IsGood() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Close shuts the connection down and notifies listeners once. It is safe to
// call more than once and ignores socket errors.
func (c *Connection) Close() error {
	c.shutdown()
	<-c.readerDone
	return nil
}

// Done is closed when the background reader has exited.
func (c *Connection) Done() <-chan struct{} { return c.readerDone }

func (c *Connection) shutdown() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.cond.Broadcast()
		c.mu.Unlock()

		_ = c.conn.Close()
		c.log.Infof("connection to %s closed", c.addr)
		for _, l := range c.snapshotListeners() {
			l.ReceivedShutdown()
		}
	})
}

func (c *Connection) readLoop() {
	defer close(c.readerDone)
	defer c.shutdown()

	lines := protocol.NewLineReader(c.conn, maxLineSize)
	for {
		line, err := lines.ReadLine()
		if errors.Is(err, protocol.ErrLineTooLong) {
			c.log.Warnf("dropped line over %d bytes from %s", maxLineSize, c.addr)
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && c.IsGood() {
				c.log.Warnf("read from %s: %v", c.addr, err)
			}
			return
		}
		if c.cache(strings.TrimRight(line, "\r")) {
			c.log.Infof("shutdown received from %s", c.addr)
			return
		}
	}
}

// cache queues line under its tag and reports whether it was a shutdown.
// Lines without a tag cannot be routed and are dropped.
func (c *Connection) cache(line string) bool {
	tag, payload, ok := protocol.SplitTag(line)
	if !ok || tag == "" {
		return false
	}

	c.mu.Lock()
	c.queues[tag] = append(c.queues[tag], payload)
	c.cond.Broadcast()
	listeners := append([]Listener(nil), c.listeners...)
	c.mu.Unlock()

	for _, l := range listeners {
		l.ReceivedMessage(line)
	}
	return protocol.Classify(payload) == protocol.KindShutdown
}

func (c *Connection) popLocked(tag string) (string, bool) {
	q := c.queues[tag]
	if len(q) == 0 {
		return "", false
	}
	payload := q[0]
	if len(q) == 1 {
		delete(c.queues, tag)
	} else {
		c.queues[tag] = q[1:]
	}
	return payload, true
}

func (c *Connection) snapshotListeners() []Listener {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Listener(nil), c.listeners...)
}
