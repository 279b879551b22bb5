package jobs

import (
	"context"
	"strings"
	"sync"
)

// Factory builds and restores the Manager for a user.
type Factory func(ctx context.Context, userID string) *Manager

// NewFactory returns a Factory that wires every Manager to deps and names
// its persisted keys with keys.
func NewFactory(deps Deps, keys func(userID string) Keys) Factory {
	return func(ctx context.Context, userID string) *Manager {
		m := NewManager(userID, keys(userID), deps)
		m.Restore(ctx)
		return m
	}
}

// Sessions holds one Manager per user, created on first use.
type Sessions struct {
	factory Factory

	mu       sync.Mutex
	managers map[string]*Manager
}

// NewSessions creates an empty registry.
func NewSessions(factory Factory) *Sessions {
	return &Sessions{factory: factory, managers: make(map[string]*Manager)}
}

// Get returns the Manager for userID, creating and restoring it if needed.
func (s *Sessions) Get(ctx context.Context, userID string) (*Manager, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrNotAuthenticated
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.managers[userID]; ok {
		return m, nil
	}
	m := s.factory(ctx, userID)
	s.managers[userID] = m
	return m, nil
}

// Len returns the number of live sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.managers)
}

// Close closes every Manager.
func (s *Sessions) Close() {
	s.mu.Lock()
	managers := s.managers
	s.managers = make(map[string]*Manager)
	s.mu.Unlock()

	for _, m := range managers {
		m.Close()
	}
}
