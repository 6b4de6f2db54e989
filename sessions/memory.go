// Package sessions provides SessionStore implementations. The transport
// layer owns handle issuance (cookies, bearer tokens); stores here only
// keep authentication state under those handles.
package sessions

import (
	"context"
	"sync"

	idlink "github.com/jferrer/idlink"
)

// MemoryStore is an in-process SessionStore for tests and single-node
// deployments. State does not survive a restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*idlink.SessionState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*idlink.SessionState)}
}

// Get returns the state for handle. An unknown handle is an anonymous
// session, not an error.
func (s *MemoryStore) Get(ctx context.Context, handle string) (*idlink.SessionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if state, ok := s.sessions[handle]; ok {
		return cloneState(state), nil
	}
	return &idlink.SessionState{}, nil
}

func (s *MemoryStore) Set(ctx context.Context, handle string, state *idlink.SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[handle] = cloneState(state)
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, handle)
	return nil
}

// cloneState copies the state so callers never share mutable pointers with
// the store's map.
func cloneState(state *idlink.SessionState) *idlink.SessionState {
	if state == nil {
		return &idlink.SessionState{}
	}
	out := *state
	if state.Pending != nil {
		pending := *state.Pending
		out.Pending = &pending
	}
	return &out
}
