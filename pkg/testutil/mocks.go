// Package testutil provides common testing utilities and mock implementations.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/abeely/appcore/internal/identity"
)

// MockBackend is a test implementation of identity.Backend. Behavior is
// driven by the exported fields; every method records its call count.
type MockBackend struct {
	mu sync.Mutex

	// Session is returned by GetSession; SessionErr overrides it.
	Session    *identity.Session
	SessionErr error

	// Refreshed is returned by RefreshSession; RefreshErr overrides it.
	Refreshed  *identity.Session
	RefreshErr error

	// Profiles holds profile rows by user ID. ProfileErr fails every
	// GetCurrentProfile call.
	Profiles   map[string]*identity.Profile
	ProfileErr error
	UpdateErr  error

	// ProfileGate, when set, blocks GetCurrentProfile after the call is
	// recorded until the channel is closed. Lets tests race other
	// events against an in-flight profile fetch.
	ProfileGate chan struct{}

	// Connected is returned by CheckConnectivity.
	Connected bool

	SignOutErr error

	handlers map[int]func(identity.AuthEvent)
	nextID   int
	calls    map[string]int
}

// NewMockBackend creates a mock backend with connectivity up and no
// session.
func NewMockBackend() *MockBackend {
	return &MockBackend{
		Profiles:  make(map[string]*identity.Profile),
		Connected: true,
		handlers:  make(map[int]func(identity.AuthEvent)),
		calls:     make(map[string]int),
	}
}

// GetSession returns the configured session.
func (m *MockBackend) GetSession(_ context.Context) (*identity.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["GetSession"]++
	if m.SessionErr != nil {
		return nil, m.SessionErr
	}
	return m.Session, nil
}

// RefreshSession returns the configured refresh result.
func (m *MockBackend) RefreshSession(_ context.Context) (*identity.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["RefreshSession"]++
	if m.RefreshErr != nil {
		return nil, m.RefreshErr
	}
	return m.Refreshed, nil
}

// SubscribeAuthEvents registers a handler for Emit to call.
func (m *MockBackend) SubscribeAuthEvents(handler func(identity.AuthEvent)) identity.Unsubscribe {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.handlers[id] = handler
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.handlers, id)
	}
}

// GetCurrentProfile returns the profile row for userID.
func (m *MockBackend) GetCurrentProfile(_ context.Context, userID string) (*identity.Profile, error) {
	m.mu.Lock()
	m.calls["GetCurrentProfile"]++
	gate := m.ProfileGate
	m.mu.Unlock()

	if gate != nil {
		<-gate
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ProfileErr != nil {
		return nil, m.ProfileErr
	}
	p, ok := m.Profiles[userID]
	if !ok {
		return nil, fmt.Errorf("profile not found: %s", userID)
	}
	return p, nil
}

// UpdateProfile applies the patch to the stored profile row.
func (m *MockBackend) UpdateProfile(_ context.Context, userID string, patch identity.ProfilePatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["UpdateProfile"]++
	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	p, ok := m.Profiles[userID]
	if !ok {
		p = &identity.Profile{ID: userID}
		m.Profiles[userID] = p
	}
	if patch.DisplayName != nil {
		p.DisplayName = *patch.DisplayName
	}
	if patch.AvatarURL != nil {
		p.AvatarURL = *patch.AvatarURL
	}
	if patch.InterestedCategories != nil {
		p.InterestedCategories = *patch.InterestedCategories
	}
	if patch.InterestedCities != nil {
		p.InterestedCities = *patch.InterestedCities
	}
	if patch.HasOnboarded != nil {
		p.HasOnboarded = *patch.HasOnboarded
	}
	return nil
}

// CheckConnectivity returns the configured flag.
func (m *MockBackend) CheckConnectivity(_ context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["CheckConnectivity"]++
	return m.Connected
}

// SignOut clears the session and emits SIGNED_OUT, like the real
// backend does.
func (m *MockBackend) SignOut(_ context.Context) error {
	m.mu.Lock()
	m.calls["SignOut"]++
	if m.SignOutErr != nil {
		m.mu.Unlock()
		return m.SignOutErr
	}
	m.Session = nil
	m.mu.Unlock()
	m.Emit(identity.AuthEvent{Type: identity.EventSignedOut})
	return nil
}

// Emit delivers an event to every subscribed handler.
func (m *MockBackend) Emit(ev identity.AuthEvent) {
	m.mu.Lock()
	handlers := make([]func(identity.AuthEvent), 0, len(m.handlers))
	for _, h := range m.handlers {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

// Calls returns how many times the named method was invoked.
func (m *MockBackend) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

// SetSession swaps the configured session.
func (m *MockBackend) SetSession(sess *identity.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Session = sess
}

// NetworkError is an error identity.IsNetworkError recognizes.
func NetworkError() error {
	return fmt.Errorf("network error: connection refused")
}

// GenerateID generates a new UUID string.
func GenerateID() string {
	return uuid.NewString()
}

// Session builds a live session for userID expiring an hour out.
func Session(userID string) *identity.Session {
	return &identity.Session{
		UserID:       userID,
		Email:        userID + "@example.com",
		AccessToken:  "access-" + userID,
		RefreshToken: "refresh-" + userID,
		ExpiresAt:    time.Now().Add(time.Hour),
	}
}
