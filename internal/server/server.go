// Package server implements the execution server: it accepts client
// connections, runs the requested test cases against locally bound executors
// and answers with tagged results.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/msageha/tcexec/internal/logging"
	"github.com/msageha/tcexec/internal/model"
	"github.com/msageha/tcexec/internal/plan"
)

type Config struct {
	Host string
	Port int
	// SingleSession stops the server once its first connection ends, and
	// refuses further connections while it is served.
	SingleSession bool
	// ReadTimeout bounds the wait for the next line; zero waits forever.
	ReadTimeout time.Duration
}

func ConfigFrom(c model.ServerConfig) Config {
	return Config{
		Host:          c.Host,
		Port:          c.Port,
		SingleSession: c.SingleSession,
		ReadTimeout:   time.Duration(c.ReadTimeoutSec) * time.Second,
	}
}

func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

type Server struct {
	cfg    Config
	loader *plan.Loader
	log    *logging.Logger

	listener net.Listener
	mu       sync.Mutex
	sessions map[*session]struct{}
	err      error

	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	doneOnce sync.Once
	stopOnce sync.Once
}

type Option func(*Server)

func WithLogger(log *logging.Logger) Option {
	return func(s *Server) { s.log = log }
}

func New(cfg Config, loader *plan.Loader, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		loader:   loader,
		sessions: make(map[*session]struct{}),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr(), err)
	}
	s.listener = listener
	s.log.Infof("execution server listening on %s single_session=%t", listener.Addr(), s.cfg.SingleSession)

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr is the bound address, valid after Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Done is closed once the server accepts no more connections.
func (s *Server) Done() <-chan struct{} { return s.done }

// Serve starts the server and blocks until ctx is cancelled, Stop is called or,
// in single-session mode, the session ends. It returns the error that ended a
// session abnormally, if any.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
	case <-s.done:
	}
	_ = s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stop closes the listener, broadcasts Shutdown on every open session and
// waits for them to finish.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		s.cancel()
		if s.listener != nil {
			_ = s.listener.Close()
		}
		s.mu.Lock()
		open := make([]*session, 0, len(s.sessions))
		for ss := range s.sessions {
			open = append(open, ss)
		}
		s.mu.Unlock()
		for _, ss := range open {
			ss.broadcastShutdown()
			ss.close()
		}
		s.wg.Wait()
		s.log.Infof("execution server stopped")
	})
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	defer s.doneOnce.Do(func() { close(s.done) })

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warnf("accept error: %v", err)
			continue
		}

		if s.cfg.SingleSession {
			_ = s.listener.Close()
			s.serveConn(conn)
			return
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(conn)
		}()
	}
}

func (s *Server) serveConn(conn net.Conn) {
	ss := newSession(s, conn)
	s.mu.Lock()
	s.sessions[ss] = struct{}{}
	s.mu.Unlock()

	err := ss.run(s.ctx)

	s.mu.Lock()
	delete(s.sessions, ss)
	if err != nil && s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	if err != nil {
		s.log.Errorf("session %s ended: %v", conn.RemoteAddr(), err)
	}
}
