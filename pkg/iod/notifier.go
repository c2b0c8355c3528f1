package iod

import (
	"context"
	"sync"
)

// Notifier receives reachability changes. Callbacks run on the daemon
// goroutine: they must return quickly and must not wait on synchronous
// events of the same connection.
type Notifier interface {
	OnShareUnreachable(share *Share)
	OnShareReachable(share *Share)
	OnConnectionDead(conn *Connection)
}

// NopNotifier ignores every notification.
type NopNotifier struct{}

func (NopNotifier) OnShareUnreachable(*Share)     {}
func (NopNotifier) OnShareReachable(*Share)       {}
func (NopNotifier) OnConnectionDead(*Connection) {}

// NotifierFuncs adapts plain functions to a Notifier; nil fields are skipped.
type NotifierFuncs struct {
	Unreachable func(*Share)
	Reachable   func(*Share)
	Dead        func(*Connection)
}

func (n NotifierFuncs) OnShareUnreachable(s *Share) {
	if n.Unreachable != nil {
		n.Unreachable(s)
	}
}

func (n NotifierFuncs) OnShareReachable(s *Share) {
	if n.Reachable != nil {
		n.Reachable(s)
	}
}

func (n NotifierFuncs) OnConnectionDead(c *Connection) {
	if n.Dead != nil {
		n.Dead(c)
	}
}

// Share is a remote share (mount) attached over a connection.
type Share struct {
	Name string

	mu           sync.Mutex
	id           uint64
	attached     bool
	reachable    bool
	reconnecting bool
	generation   uint64
	changed      chan struct{}
}

// NewShare returns an unattached share.
func NewShare(name string) *Share {
	return &Share{
		Name:      name,
		reachable: true,
		changed:   make(chan struct{}),
	}
}

// ID returns the attach id assigned by the server.
func (s *Share) ID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Attached reports whether the last attach succeeded.
func (s *Share) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attached
}

// Reachable reports the last known liveness of the share.
func (s *Share) Reachable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reachable
}

// Reconnecting reports whether an attach is in progress.
func (s *Share) Reconnecting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnecting
}

// Generation counts completed attach attempts.
func (s *Share) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// WaitGeneration blocks until an attach attempt started after gen was
// observed completes, or ctx is done.
func (s *Share) WaitGeneration(ctx context.Context, gen uint64) (uint64, error) {
	for {
		s.mu.Lock()
		cur, ch := s.generation, s.changed
		s.mu.Unlock()
		if cur > gen {
			return cur, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return cur, contextError(ctx.Err())
		}
	}
}

func (s *Share) beginAttach() {
	s.mu.Lock()
	s.reconnecting = true
	s.mu.Unlock()
}

func (s *Share) finishAttach(id uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconnecting = false
	if err == nil {
		s.id = id
		s.attached = true
	}
	s.generation++
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Share) detach() {
	s.mu.Lock()
	s.attached = false
	s.mu.Unlock()
}

// setReachable updates liveness and reports whether it changed.
func (s *Share) setReachable(v bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reachable == v {
		return false
	}
	s.reachable = v
	return true
}
