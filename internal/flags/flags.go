// Package flags stores the boolean flags that steer session bootstrap:
// device-scoped durable flags (guest mode, per-user onboarded marker)
// and tab-scoped single-shot flags (force-auth-view, explicit-sign-out).
package flags

import (
	"context"
	"fmt"
	"sync"
)

// Well-known flag keys.
const (
	KeyGuestMode       = "guest_mode"
	KeyForceAuthView   = "force_auth_view"
	KeyExplicitSignOut = "explicit_signout"
)

// OnboardedKey returns the per-user durable onboarding marker key.
func OnboardedKey(userID string) string {
	return fmt.Sprintf("onboarded:%s", userID)
}

// Store is boolean flag storage. Consume atomically reads and clears a
// flag, which is what makes single-shot semantics a guarantee instead
// of a convention.
type Store interface {
	Get(ctx context.Context, key string) (bool, error)
	Set(ctx context.Context, key string, value bool) error
	Clear(ctx context.Context, key string) error
	Consume(ctx context.Context, key string) (bool, error)
}

// MemoryStore is an in-process Store. It backs the tab-scoped flags,
// which must not outlive the process.
type MemoryStore struct {
	mu    sync.Mutex
	flags map[string]bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{flags: make(map[string]bool)}
}

// Get returns the flag value, false when unset.
func (s *MemoryStore) Get(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flags[key], nil
}

// Set stores the flag value.
func (s *MemoryStore) Set(_ context.Context, key string, value bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags[key] = value
	return nil
}

// Clear removes the flag.
func (s *MemoryStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.flags, key)
	return nil
}

// Consume reads and clears the flag in one step.
func (s *MemoryStore) Consume(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.flags[key]
	delete(s.flags, key)
	return v, nil
}
