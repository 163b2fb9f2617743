package session

import "github.com/abeely/appcore/internal/flags"

// Reduce is the auth state machine. It is a pure function of the
// current state, the event, and the flag snapshot; everything with a
// side effect comes back as an Effect for the controller to run.
//
// Rule priority, evaluated per event:
//  1. force-auth-view wins over session presence when the event
//     carries no session; with a session the flag is consumed and
//     normal processing continues.
//  2. SIGNED_IN without a session gets one recovery fetch, then
//     degrades to guest mode.
//  3. SIGNED_IN / INITIAL_SESSION with a session clears guest and
//     explicit-sign-out state and loads the profile.
//  4. TOKEN_REFRESHED and USER_UPDATED refresh the profile only; token
//     rotation is never visible as a view change.
//  5. SIGNED_OUT is disambiguated before it is believed.
//  6. INITIAL_SESSION without a session runs the bootstrap fallback.
func Reduce(st State, in Input) (State, []Effect) {
	ev := in.Event

	switch ev.Type {
	case EvInitialSession, EvSignedIn:
		if ev.Session != nil {
			var effs []Effect
			if in.Flags.ForceAuthView {
				effs = append(effs, ConsumeFlag{Scope: ScopeTab, Key: flags.KeyForceAuthView})
			}
			effs = append(effs,
				ClearFlag{Scope: ScopeDurable, Key: flags.KeyGuestMode},
				ClearFlag{Scope: ScopeTab, Key: flags.KeyExplicitSignOut},
				LoadProfile{Session: ev.Session},
			)
			st.IsGuest = false
			return st, effs
		}
		if ev.Type == EvSignedIn {
			if in.Flags.ForceAuthView {
				st.View = ViewAuth
				st.Resolved = true
				return st, nil
			}
			return st, []Effect{RecoverSession{}}
		}
		return st, []Effect{RunBootstrapFallback{}}

	case EvTokenRefreshed, EvUserUpdated:
		if ev.Session == nil {
			if in.Flags.ForceAuthView {
				st.View = ViewAuth
				st.Resolved = true
			}
			return st, nil
		}
		var effs []Effect
		if in.Flags.ForceAuthView {
			effs = append(effs, ConsumeFlag{Scope: ScopeTab, Key: flags.KeyForceAuthView})
		}
		// Before anything has resolved the view, a rotation is the
		// first sighting of the session and must decide it; afterwards
		// it only refreshes the cached profile.
		if !st.Resolved {
			effs = append(effs, LoadProfile{Session: ev.Session})
		} else {
			effs = append(effs, RefreshProfile{Session: ev.Session})
		}
		return st, effs

	case EvSignedOut:
		if in.Flags.ForceAuthView {
			st.View = ViewAuth
			st.Resolved = true
			return st, nil
		}
		return st, []Effect{VerifySignOut{}}

	case EvProfileLoaded:
		st.User = ev.Profile
		st.IsGuest = false
		st.Resolved = true
		if ev.Profile != nil && ev.NeedsOnboarding {
			st.View = ViewOnboarding
		} else {
			st.View = ViewMain
		}
		return st, nil

	case EvProfileRefreshed:
		if ev.Profile != nil {
			st.User = ev.Profile
		}
		return st, nil

	case EvGuestFallback, EvGuestRequested:
		st.User = nil
		st.IsGuest = true
		st.View = ViewMain
		st.Resolved = true
		return st, []Effect{SetFlag{Scope: ScopeDurable, Key: flags.KeyGuestMode, Value: true}}

	case EvSignOutVerdict:
		if !ev.RealSignOut {
			if !st.Resolved {
				// The sign-out superseded a pending session
				// transition; re-derive it from the live session.
				return st, []Effect{RecoverSession{}}
			}
			return st, nil
		}
		st.User = nil
		st.IsGuest = false
		st.View = ViewAuth
		st.Resolved = true
		return st, []Effect{ClearFlag{Scope: ScopeDurable, Key: flags.KeyGuestMode}}

	case EvBootstrapResolved:
		st.View = ev.View
		st.IsGuest = ev.Guest
		st.Resolved = true
		if ev.Guest {
			st.User = nil
		}
		return st, nil

	case EvConnectivityLost:
		st.View = ViewConnectionError
		st.Resolved = true
		return st, nil

	case EvSplashFinished:
		// Verdicts move the view off the splash the moment they land,
		// so there is nothing left to transition here: before a
		// verdict the splash holds, after one the view is already set.
		return st, nil
	}

	return st, nil
}
