package session

import (
	"context"
	"sync"
	"sync/atomic"
)

// State is shared by the poller and the listener. The suspended flag is the
// only value changed from outside the loops (by the lifecycle collaborator).
type State struct {
	started atomic.Bool

	mu        sync.Mutex
	suspended bool
	// resumed is closed when the state becomes active again. It is nil
	// while active.
	resumed chan struct{}
}

func NewState(suspended bool) *State {
	s := &State{}
	if suspended {
		s.Suspend()
	}
	return s
}

func (s *State) Suspended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suspended
}

// Suspend reports whether the call changed the state.
func (s *State) Suspend() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.suspended {
		return false
	}
	s.suspended = true
	s.resumed = make(chan struct{})
	return true
}

// Resume reports whether the call changed the state.
func (s *State) Resume() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.suspended {
		return false
	}
	s.suspended = false
	close(s.resumed)
	s.resumed = nil
	return true
}

// WaitActive blocks while suspended. It returns ctx.Err() if ctx ends first.
func (s *State) WaitActive(ctx context.Context) error {
	for {
		s.mu.Lock()
		if !s.suspended {
			s.mu.Unlock()
			return ctx.Err()
		}
		ch := s.resumed
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// markStarted flips started once; later calls return false.
func (s *State) markStarted() bool {
	return s.started.CompareAndSwap(false, true)
}

func (s *State) Started() bool {
	return s.started.Load()
}
