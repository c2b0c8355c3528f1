package iod

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/marmos91/smbiod/internal/logger"
	"github.com/marmos91/smbiod/pkg/transport"
)

// ManagerOptions are shared by every connection a Manager opens.
type ManagerOptions struct {
	Config   Config
	Notifier Notifier
	Metrics  *Metrics
}

// Manager owns a set of connections, one per server endpoint.
type Manager struct {
	opts ManagerOptions

	mu     sync.RWMutex
	conns  map[string]*Connection
	closed bool
}

// NewManager validates opts.Config and returns an empty manager.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	return &Manager{opts: opts, conns: make(map[string]*Connection)}, nil
}

// Open creates a connection to server with a fresh id and starts its
// daemon. The connection is not brought up; call Establish on it.
func (m *Manager) Open(server string, tr transport.Transport, d Dialect) (*Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	c, err := NewConnection(server, tr, d, Options{
		ID:       uuid.NewString(),
		Config:   m.opts.Config,
		Notifier: m.opts.Notifier,
		Metrics:  m.opts.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", server, err)
	}
	m.conns[c.ID()] = c
	logger.Info("Connection opened", logger.KeyConnID, c.ID(), logger.KeyServer, server)
	return c, nil
}

// Get returns the connection with the given id.
func (m *Manager) Get(id string) (*Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conns[id]
	return c, ok
}

// List returns all open connections ordered by server then id.
func (m *Manager) List() []*Connection {
	m.mu.RLock()
	out := make([]*Connection, 0, len(m.conns))
	for _, c := range m.conns {
		out = append(out, c)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Server() != out[j].Server() {
			return out[i].Server() < out[j].Server()
		}
		return out[i].ID() < out[j].ID()
	})
	return out
}

// Close shuts one connection down and forgets it.
func (m *Manager) Close(ctx context.Context, id string) error {
	m.mu.Lock()
	c, ok := m.conns[id]
	delete(m.conns, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("connection %q not found", id)
	}
	return c.Shutdown(ctx)
}

// Shutdown closes every connection concurrently and refuses new ones.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	conns := m.conns
	m.conns = make(map[string]*Connection)
	m.mu.Unlock()

	var g errgroup.Group
	for _, c := range conns {
		g.Go(func() error {
			if err := c.Shutdown(ctx); err != nil {
				return fmt.Errorf("shutdown %s: %w", c.ID(), err)
			}
			return nil
		})
	}
	return g.Wait()
}
