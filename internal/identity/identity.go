// Package identity defines the contract with the hosted identity
// backend: session lookup and refresh, the lifecycle event stream, and
// profile access. The session engine consumes this interface only; the
// Supabase implementation lives alongside it.
package identity

import (
	"context"
	"time"
)

// EventType tags a session lifecycle event.
type EventType string

const (
	EventInitialSession EventType = "INITIAL_SESSION"
	EventSignedIn       EventType = "SIGNED_IN"
	EventSignedOut      EventType = "SIGNED_OUT"
	EventTokenRefreshed EventType = "TOKEN_REFRESHED"
	EventUserUpdated    EventType = "USER_UPDATED"
)

// AuthEvent is a lifecycle notification from the identity backend.
// The backend gives no ordering or deduplication guarantee; Session may
// be nil even for event types that usually carry one.
type AuthEvent struct {
	Type    EventType
	Session *Session
}

// Session is a snapshot of the signed-in principal. The engine never
// inspects token contents; ExpiresAt is tracked only to schedule
// proactive refresh.
type Session struct {
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Profile is the locally cached read-through snapshot of a user row.
type Profile struct {
	ID                   string   `json:"id"`
	DisplayName          string   `json:"display_name"`
	Email                string   `json:"email"`
	Phone                string   `json:"phone"`
	AvatarURL            string   `json:"avatar_url"`
	InterestedCategories []string `json:"interested_categories"`
	InterestedCities     []string `json:"interested_cities"`
	HasOnboarded         bool     `json:"has_onboarded"`
}

// ProfilePatch is a partial profile update. Nil fields are left
// untouched upstream.
type ProfilePatch struct {
	DisplayName          *string   `json:"display_name,omitempty"`
	AvatarURL            *string   `json:"avatar_url,omitempty"`
	InterestedCategories *[]string `json:"interested_categories,omitempty"`
	InterestedCities     *[]string `json:"interested_cities,omitempty"`
	HasOnboarded         *bool     `json:"has_onboarded,omitempty"`
}

// Unsubscribe detaches a previously registered event handler.
type Unsubscribe func()

// Backend is the identity backend consumed by the session engine.
// GetSession and RefreshSession return (nil, nil) when no principal is
// signed in; errors are reserved for transport or backend failures.
type Backend interface {
	GetSession(ctx context.Context) (*Session, error)
	RefreshSession(ctx context.Context) (*Session, error)
	SubscribeAuthEvents(handler func(AuthEvent)) Unsubscribe
	GetCurrentProfile(ctx context.Context, userID string) (*Profile, error)
	UpdateProfile(ctx context.Context, userID string, patch ProfilePatch) error
	CheckConnectivity(ctx context.Context) bool
	SignOut(ctx context.Context) error
}
