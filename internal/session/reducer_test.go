package session

import (
	"testing"

	"github.com/abeely/appcore/internal/flags"
	"github.com/abeely/appcore/internal/identity"
)

func liveSession() *identity.Session {
	return &identity.Session{UserID: "u1", AccessToken: "tok", RefreshToken: "ref"}
}

func hasEffect[T Effect](effs []Effect) bool {
	for _, e := range effs {
		if _, ok := e.(T); ok {
			return true
		}
	}
	return false
}

func TestReduceSignedInWithSessionLoadsProfile(t *testing.T) {
	st, effs := Reduce(NewState(), Input{Event: Event{Type: EvSignedIn, Session: liveSession()}})

	if !hasEffect[LoadProfile](effs) {
		t.Fatalf("effects = %v, want LoadProfile", effs)
	}
	if st.IsGuest {
		t.Error("IsGuest = true, want false")
	}
	if st.View != ViewSplash {
		t.Errorf("View = %v, want splash until profile loads", st.View)
	}

	// Guest and explicit-sign-out residue must be cleared.
	var clearedGuest, clearedExplicit bool
	for _, e := range effs {
		if c, ok := e.(ClearFlag); ok {
			switch c.Key {
			case flags.KeyGuestMode:
				clearedGuest = true
			case flags.KeyExplicitSignOut:
				clearedExplicit = true
			}
		}
	}
	if !clearedGuest || !clearedExplicit {
		t.Errorf("cleared guest=%v explicit=%v, want both", clearedGuest, clearedExplicit)
	}
}

func TestReduceSessionConsumesForceAuthFlag(t *testing.T) {
	in := Input{
		Event: Event{Type: EvInitialSession, Session: liveSession()},
		Flags: FlagView{ForceAuthView: true},
	}
	_, effs := Reduce(NewState(), in)

	consumed := false
	for _, e := range effs {
		if c, ok := e.(ConsumeFlag); ok && c.Key == flags.KeyForceAuthView {
			consumed = true
		}
	}
	if !consumed {
		t.Error("force-auth-view flag not consumed on session-carrying event")
	}
	if !hasEffect[LoadProfile](effs) {
		t.Error("session-carrying event with force flag must still load the profile")
	}
}

func TestReduceForceAuthWinsOverSessionlessEvents(t *testing.T) {
	tests := []struct {
		name string
		ev   EventType
	}{
		{"signed in", EvSignedIn},
		{"signed out", EvSignedOut},
		{"token refreshed", EvTokenRefreshed},
		{"user updated", EvUserUpdated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := Input{Event: Event{Type: tt.ev}, Flags: FlagView{ForceAuthView: true}}
			st, effs := Reduce(NewState(), in)
			if st.View != ViewAuth {
				t.Errorf("View = %v, want auth", st.View)
			}
			if len(effs) != 0 {
				t.Errorf("effects = %v, want none", effs)
			}
		})
	}
}

func TestReduceSignedInWithoutSessionRecovers(t *testing.T) {
	_, effs := Reduce(NewState(), Input{Event: Event{Type: EvSignedIn}})
	if !hasEffect[RecoverSession](effs) {
		t.Fatalf("effects = %v, want RecoverSession", effs)
	}
}

func TestReduceInitialSessionWithoutSessionRunsBootstrap(t *testing.T) {
	_, effs := Reduce(NewState(), Input{Event: Event{Type: EvInitialSession}})
	if !hasEffect[RunBootstrapFallback](effs) {
		t.Fatalf("effects = %v, want RunBootstrapFallback", effs)
	}
}

func TestReduceTokenRefreshNeverChangesView(t *testing.T) {
	for _, view := range []AppView{ViewMain, ViewOnboarding, ViewAuth} {
		st := State{View: view, Resolved: true}
		next, effs := Reduce(st, Input{Event: Event{Type: EvTokenRefreshed, Session: liveSession()}})
		if next.View != view {
			t.Errorf("View = %v after refresh, want %v", next.View, view)
		}
		if !hasEffect[RefreshProfile](effs) {
			t.Errorf("effects = %v, want RefreshProfile", effs)
		}
	}
}

func TestReduceTokenRefreshBeforeResolutionLoadsProfile(t *testing.T) {
	// A rotation that lands before anything has resolved the view is
	// the first sighting of the session and must decide it.
	st, effs := Reduce(NewState(), Input{Event: Event{Type: EvTokenRefreshed, Session: liveSession()}})
	if st.View != ViewSplash {
		t.Errorf("View = %v, want splash until the load returns", st.View)
	}
	if !hasEffect[LoadProfile](effs) {
		t.Fatalf("effects = %v, want LoadProfile", effs)
	}
	if hasEffect[RefreshProfile](effs) {
		t.Errorf("effects = %v, refresh must not race the load", effs)
	}
}

func TestReduceSignedOutIsVerifiedFirst(t *testing.T) {
	st := State{View: ViewMain, Resolved: true, User: &identity.Profile{ID: "u1"}}
	next, effs := Reduce(st, Input{Event: Event{Type: EvSignedOut}})

	if next.View != ViewMain {
		t.Errorf("View = %v, want main until the verdict", next.View)
	}
	if next.User == nil {
		t.Error("User cleared before the verdict")
	}
	if !hasEffect[VerifySignOut](effs) {
		t.Fatalf("effects = %v, want VerifySignOut", effs)
	}
}

func TestReduceSignOutVerdict(t *testing.T) {
	st := State{View: ViewMain, Resolved: true, User: &identity.Profile{ID: "u1"}}

	kept, effs := Reduce(st, Input{Event: Event{Type: EvSignOutVerdict, RealSignOut: false}})
	if kept.View != ViewMain || kept.User == nil {
		t.Errorf("spurious verdict changed state: view=%v user=%v", kept.View, kept.User)
	}
	if len(effs) != 0 {
		t.Errorf("spurious verdict effects = %v, want none", effs)
	}

	// Before resolution the sign-out superseded a pending transition;
	// the verdict must restart it instead of leaving the splash stuck.
	_, effs = Reduce(NewState(), Input{Event: Event{Type: EvSignOutVerdict, RealSignOut: false}})
	if !hasEffect[RecoverSession](effs) {
		t.Errorf("unresolved spurious verdict effects = %v, want RecoverSession", effs)
	}

	out, effs := Reduce(st, Input{Event: Event{Type: EvSignOutVerdict, RealSignOut: true}})
	if out.View != ViewAuth {
		t.Errorf("View = %v, want auth", out.View)
	}
	if out.User != nil {
		t.Error("User survived a real sign-out")
	}
	cleared := false
	for _, e := range effs {
		if c, ok := e.(ClearFlag); ok && c.Key == flags.KeyGuestMode {
			cleared = true
		}
	}
	if !cleared {
		t.Error("guest flag not cleared on real sign-out")
	}
}

func TestReduceProfileLoaded(t *testing.T) {
	tests := []struct {
		name  string
		ev    Event
		want  AppView
		guest bool
	}{
		{"complete profile", Event{Type: EvProfileLoaded, Profile: &identity.Profile{ID: "u1"}}, ViewMain, false},
		{"needs onboarding", Event{Type: EvProfileLoaded, Profile: &identity.Profile{ID: "u1"}, NeedsOnboarding: true}, ViewOnboarding, false},
		{"profile fetch failed", Event{Type: EvProfileLoaded}, ViewMain, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, _ := Reduce(State{View: ViewSplash, IsGuest: true}, Input{Event: tt.ev})
			if st.View != tt.want {
				t.Errorf("View = %v, want %v", st.View, tt.want)
			}
			if st.IsGuest != tt.guest {
				t.Errorf("IsGuest = %v, want %v", st.IsGuest, tt.guest)
			}
			if !st.Resolved {
				t.Error("Resolved = false, want true")
			}
		})
	}
}

func TestReduceGuestEntryPersistsFlag(t *testing.T) {
	st, effs := Reduce(NewState(), Input{Event: Event{Type: EvGuestRequested}})
	if st.View != ViewMain || !st.IsGuest {
		t.Errorf("state = %+v, want guest main", st)
	}
	set := false
	for _, e := range effs {
		if s, ok := e.(SetFlag); ok && s.Key == flags.KeyGuestMode && s.Value {
			set = true
		}
	}
	if !set {
		t.Error("guest flag not persisted")
	}
}

func TestReduceSplashFinished(t *testing.T) {
	// Verdicts set the view directly, so the command never has a
	// transition left to make; it must also never regress one.
	tests := []struct {
		name string
		st   State
		want AppView
	}{
		{"unresolved holds splash", State{View: ViewSplash}, ViewSplash},
		{"resolved main stays main", State{View: ViewMain, Resolved: true, User: &identity.Profile{ID: "u1"}}, ViewMain},
		{"resolved auth stays auth", State{View: ViewAuth, Resolved: true}, ViewAuth},
		{"resolved onboarding stays onboarding", State{View: ViewOnboarding, Resolved: true}, ViewOnboarding},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, _ := Reduce(tt.st, Input{Event: Event{Type: EvSplashFinished}})
			if st.View != tt.want {
				t.Errorf("View = %v, want %v", st.View, tt.want)
			}
		})
	}
}

func TestReduceConnectivityLost(t *testing.T) {
	st, _ := Reduce(NewState(), Input{Event: Event{Type: EvConnectivityLost}})
	if st.View != ViewConnectionError {
		t.Errorf("View = %v, want connection-error", st.View)
	}
}

func TestReduceBootstrapResolved(t *testing.T) {
	st, _ := Reduce(NewState(), Input{Event: Event{Type: EvBootstrapResolved, View: ViewMain, Guest: true}})
	if st.View != ViewMain || !st.IsGuest || !st.Resolved {
		t.Errorf("state = %+v, want resolved guest main", st)
	}
}
