// Package session implements the session bootstrap and authentication
// reconciliation engine: the reducer that decides the top-level
// application view from the identity backend's lifecycle event stream,
// and the controller that owns the resulting state.
package session

import (
	"github.com/abeely/appcore/internal/identity"
)

// AppView is the top-level application mode. Exactly one is active.
type AppView string

const (
	ViewSplash          AppView = "splash"
	ViewAuth            AppView = "auth"
	ViewOnboarding      AppView = "onboarding"
	ViewMain            AppView = "main"
	ViewConnectionError AppView = "connection-error"
)

// State is the authoritative session state. It is owned by the
// Controller and mutated only through Reduce.
type State struct {
	View    AppView
	User    *identity.Profile
	IsGuest bool
	// Resolved is set once any verdict (live event or bootstrap
	// fallback) has decided the view; until then the splash holds.
	Resolved bool
}

// NewState returns the boot state.
func NewState() State {
	return State{View: ViewSplash}
}

// EventType tags reducer inputs: the five backend lifecycle events plus
// the internal follow-ups the effect runner feeds back.
type EventType string

const (
	// Backend lifecycle events.
	EvInitialSession EventType = "INITIAL_SESSION"
	EvSignedIn       EventType = "SIGNED_IN"
	EvSignedOut      EventType = "SIGNED_OUT"
	EvTokenRefreshed EventType = "TOKEN_REFRESHED"
	EvUserUpdated    EventType = "USER_UPDATED"

	// Internal follow-ups.
	EvProfileLoaded      EventType = "profile-loaded"
	EvProfileRefreshed   EventType = "profile-refreshed"
	EvGuestFallback      EventType = "guest-fallback"
	EvSignOutVerdict     EventType = "sign-out-verdict"
	EvBootstrapResolved  EventType = "bootstrap-resolved"
	EvConnectivityLost   EventType = "connectivity-lost"
	EvGuestRequested     EventType = "guest-requested"
	EvSplashFinished     EventType = "splash-finished"
)

// Event is a reducer input.
type Event struct {
	Type    EventType
	Session *identity.Session

	// EvProfileLoaded / EvProfileRefreshed.
	Profile         *identity.Profile
	NeedsOnboarding bool

	// EvSignOutVerdict.
	RealSignOut bool

	// EvBootstrapResolved.
	View  AppView
	Guest bool
}

// FlagView is the flag snapshot taken at dispatch time, so the reducer
// stays pure.
type FlagView struct {
	ForceAuthView bool
	Guest         bool
}

// Input bundles an event with the flag snapshot it is reduced under.
type Input struct {
	Event Event
	Flags FlagView
}

// FlagScope separates device-durable flags from tab-scoped ones.
type FlagScope int

const (
	ScopeDurable FlagScope = iota
	ScopeTab
)

// Effect is a side effect requested by the reducer and executed by the
// controller's effect runner.
type Effect interface{ isEffect() }

// RecoverSession fetches the session once after a SIGNED_IN that
// carried none; failure degrades to guest mode.
type RecoverSession struct{}

// LoadProfile fetches the profile, runs the onboarding gate, and feeds
// back EvProfileLoaded.
type LoadProfile struct{ Session *identity.Session }

// RefreshProfile re-fetches the profile without permitting a view
// transition.
type RefreshProfile struct{ Session *identity.Session }

// VerifySignOut runs the sign-out disambiguator and feeds back
// EvSignOutVerdict.
type VerifySignOut struct{}

// RunBootstrapFallback resolves a first paint with no session.
type RunBootstrapFallback struct{}

// SetFlag, ClearFlag and ConsumeFlag mutate flag storage.
type SetFlag struct {
	Scope FlagScope
	Key   string
	Value bool
}
type ClearFlag struct {
	Scope FlagScope
	Key   string
}
type ConsumeFlag struct {
	Scope FlagScope
	Key   string
}

func (RecoverSession) isEffect()       {}
func (LoadProfile) isEffect()          {}
func (RefreshProfile) isEffect()       {}
func (VerifySignOut) isEffect()        {}
func (RunBootstrapFallback) isEffect() {}
func (SetFlag) isEffect()              {}
func (ClearFlag) isEffect()            {}
func (ConsumeFlag) isEffect()          {}
