package client

import (
	"context"
	"sync"
)

// Manager hands out one Connection per server address, dialing on first use
// and redialing once a connection has gone bad.
type Manager struct {
	opts Options

	mu    sync.Mutex
	conns map[string]*Connection
}

func NewManager(opts Options) *Manager {
	return &Manager{opts: opts, conns: make(map[string]*Connection)}
}

func (m *Manager) Get(ctx context.Context, addr string) (*Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.conns[addr]; ok && c.IsGood() {
		return c, nil
	}
	c, err := Open(ctx, addr, m.opts)
	if err != nil {
		return nil, err
	}
	m.conns[addr] = c
	return c, nil
}

// CloseAll closes every managed connection.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	conns := m.conns
	m.conns = make(map[string]*Connection)
	m.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}
