package session

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/abeely/appcore/internal/flags"
	"github.com/abeely/appcore/internal/identity"
	"github.com/abeely/appcore/internal/routes"
	"github.com/abeely/appcore/pkg/logger"
)

// Controller owns the session state. It is the imperative shell around
// Reduce: it serializes event dispatch, snapshots flags for the
// reducer, runs the requested effects against the identity backend,
// and feeds their outcomes back as further events.
//
// Async effect results carry the generation current at dispatch time
// and are dropped once a later dispatch has superseded them. Only
// dispatches that can decide the view advance the generation: a
// profile-only refresh landing while a view-deciding load is in
// flight must not strand that load's result.
type Controller struct {
	mu  sync.Mutex
	st  State
	gen uint64

	backend identity.Backend
	durable flags.Store
	tab     flags.Store

	resolver *Resolver
	gate     *OnboardingGate
	signOut  *SignOutDisambiguator

	route       string
	graceWindow time.Duration

	log        *logger.Logger
	metrics    *Metrics
	retryLimit *rate.Limiter

	base        context.Context
	unsubscribe identity.Unsubscribe
}

// Options configures a Controller.
type Options struct {
	Backend identity.Backend
	Durable flags.Store
	Tab     flags.Store

	// Route is the deep link requested at launch.
	Route string

	// Timings; zero values take the defaults.
	RetryDelay      time.Duration
	SignOutDebounce time.Duration
	GraceWindow     time.Duration
	// RetryInterval is the minimum spacing between connection retries.
	RetryInterval time.Duration

	Log     *logger.Logger
	Metrics *Metrics
}

// NewController wires the controller and its collaborators.
func NewController(opts Options) *Controller {
	log := opts.Log
	if log == nil {
		log = logger.NewDefault("session")
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if opts.Tab == nil {
		opts.Tab = flags.NewMemoryStore()
	}

	resolver := NewResolver(opts.Backend, log)
	if opts.RetryDelay > 0 {
		resolver.RetryDelay = opts.RetryDelay
	}
	signOut := NewSignOutDisambiguator(opts.Backend, opts.Tab, log)
	if opts.SignOutDebounce > 0 {
		signOut.Debounce = opts.SignOutDebounce
	}
	grace := opts.GraceWindow
	if grace == 0 {
		grace = 800 * time.Millisecond
	}
	retryInterval := opts.RetryInterval
	if retryInterval == 0 {
		retryInterval = 2 * time.Second
	}

	return &Controller{
		st:          NewState(),
		gen:         1,
		backend:     opts.Backend,
		durable:     opts.Durable,
		tab:         opts.Tab,
		resolver:    resolver,
		gate:        NewOnboardingGate(opts.Backend, opts.Durable, log),
		signOut:     signOut,
		route:       opts.Route,
		graceWindow: grace,
		log:         log,
		metrics:     metrics,
		retryLimit:  rate.NewLimiter(rate.Every(retryInterval), 1),
		base:        context.Background(),
	}
}

// Snapshot is the state exposed to UI collaborators.
type Snapshot struct {
	View    AppView           `json:"app_view"`
	User    *identity.Profile `json:"user"`
	IsGuest bool              `json:"is_guest"`
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{View: c.st.View, User: c.st.User, IsGuest: c.st.IsGuest}
}

// Start subscribes to the backend's event stream and kicks off the
// initial session resolution. The initial guess it produces is allowed
// to be overridden once live events arrive.
func (c *Controller) Start(ctx context.Context) {
	c.base = ctx

	c.unsubscribe = c.backend.SubscribeAuthEvents(func(ev identity.AuthEvent) {
		c.Dispatch(Event{Type: EventType(ev.Type), Session: ev.Session})
	})

	go func() {
		sess, err := c.resolver.Resolve(ctx)
		if err != nil {
			c.log.WithError(err).Warn("initial session resolution degraded to no session")
		}
		c.Dispatch(Event{Type: EvInitialSession, Session: sess})
	}()
}

// Stop detaches from the backend event stream.
func (c *Controller) Stop() {
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
}

// =============================================================================
// Commands (never return errors; every failure resolves to a view)
// =============================================================================

// EnterGuestMode switches to guest browsing, also clearing a
// connection-error state.
func (c *Controller) EnterGuestMode() Snapshot {
	c.Dispatch(Event{Type: EvGuestRequested})
	return c.Snapshot()
}

// SignOut marks the sign-out as deliberate before asking the backend,
// so the resulting SIGNED_OUT event is applied without second-guessing.
func (c *Controller) SignOut(ctx context.Context) Snapshot {
	if err := c.tab.Set(ctx, flags.KeyExplicitSignOut, true); err != nil {
		c.log.WithError(err).Warn("could not record explicit sign-out")
	}
	if err := c.backend.SignOut(ctx); err != nil {
		c.log.WithError(err).Warn("backend sign-out failed")
	}
	return c.Snapshot()
}

// SplashFinished signals the minimum splash display time elapsed.
// Verdicts apply the moment they land, so this never forces a
// transition; before a verdict the splash simply holds.
func (c *Controller) SplashFinished() Snapshot {
	c.Dispatch(Event{Type: EvSplashFinished})
	return c.Snapshot()
}

// RetryConnection re-probes the backend from the connection-error
// state. Rate-limited so a stuck UI cannot hammer the probe.
func (c *Controller) RetryConnection(ctx context.Context) Snapshot {
	if !c.retryLimit.Allow() {
		return c.Snapshot()
	}

	if !c.backend.CheckConnectivity(ctx) {
		c.Dispatch(Event{Type: EvConnectivityLost})
		return c.Snapshot()
	}

	sess, err := c.backend.GetSession(ctx)
	if err != nil {
		// The probe passed but the backend still failed; keep the
		// retry affordance on screen instead of guessing a view.
		c.log.WithError(err).Warn("session lookup failed after connectivity recovery")
		c.Dispatch(Event{Type: EvConnectivityLost})
		return c.Snapshot()
	}
	switch {
	case sess != nil:
		c.Dispatch(Event{Type: EvSignedIn, Session: sess})
	default:
		guest, _ := c.durable.Get(ctx, flags.KeyGuestMode)
		if guest {
			c.Dispatch(Event{Type: EvBootstrapResolved, View: ViewMain, Guest: true})
		} else {
			c.Dispatch(Event{Type: EvBootstrapResolved, View: ViewAuth})
		}
	}
	return c.Snapshot()
}

// RequestAuthView leaves guest browsing for the credential screen. The
// single-shot flag keeps a stale background event from silently
// overriding the request.
func (c *Controller) RequestAuthView(ctx context.Context) Snapshot {
	if err := c.tab.Set(ctx, flags.KeyForceAuthView, true); err != nil {
		c.log.WithError(err).Warn("could not record force-auth-view")
	}
	c.Dispatch(Event{Type: EvBootstrapResolved, View: ViewAuth})
	return c.Snapshot()
}

// CompleteOnboarding applies the collected profile fields and moves to
// the main view. Failures keep the onboarding view so the UI can retry.
func (c *Controller) CompleteOnboarding(ctx context.Context, patch identity.ProfilePatch) Snapshot {
	snap := c.Snapshot()
	if snap.User == nil {
		return snap
	}
	userID := snap.User.ID

	if err := c.gate.Complete(ctx, userID, patch); err != nil {
		c.log.WithError(err).WithField("user_id", userID).Warn("onboarding completion failed")
		return c.Snapshot()
	}

	profile, err := c.backend.GetCurrentProfile(ctx, userID)
	if err != nil {
		profile = snap.User
	}
	c.Dispatch(Event{Type: EvProfileLoaded, Profile: profile, NeedsOnboarding: false})
	return c.Snapshot()
}

// =============================================================================
// Dispatch and effects
// =============================================================================

// Dispatch feeds one event through the reducer.
func (c *Controller) Dispatch(ev Event) {
	c.dispatch(ev, 0)
}

// apply dispatches an effect outcome, dropping it when its generation
// has been superseded.
func (c *Controller) apply(gen uint64, ev Event) {
	c.dispatch(ev, gen)
}

func (c *Controller) dispatch(ev Event, expect uint64) {
	c.mu.Lock()
	if expect != 0 && c.gen != expect {
		c.mu.Unlock()
		c.metrics.StaleResults.Inc()
		return
	}

	in := Input{Event: ev, Flags: c.flagView()}
	prev := c.st.View
	var effs []Effect
	c.st, effs = Reduce(c.st, in)
	next := c.st.View
	if next != prev || startsTransition(effs) {
		c.gen++
	}
	gen := c.gen
	c.mu.Unlock()

	c.metrics.EventsTotal.WithLabelValues(string(ev.Type)).Inc()
	if next != prev {
		c.metrics.TransitionsTotal.WithLabelValues(string(next)).Inc()
		c.log.WithField("from", prev).WithField("to", next).WithField("event", ev.Type).Info("app view changed")
	}

	for _, eff := range effs {
		c.runEffect(gen, eff)
	}
}

// startsTransition reports whether any of the effects will come back
// with a view verdict. Such a dispatch supersedes whatever transition
// was previously in flight; anything else (profile refreshes, flag
// writes) leaves the pending one current.
func startsTransition(effs []Effect) bool {
	for _, eff := range effs {
		switch eff.(type) {
		case LoadProfile, RecoverSession, VerifySignOut, RunBootstrapFallback:
			return true
		}
	}
	return false
}

// flagView snapshots the flags the reducer branches on. Called with
// c.mu held, which serializes dispatch the way the event loop in the
// original runtime did.
func (c *Controller) flagView() FlagView {
	force, err := c.tab.Get(c.base, flags.KeyForceAuthView)
	if err != nil {
		c.log.WithError(err).Warn("force-auth-view flag unreadable")
	}
	guest, err := c.durable.Get(c.base, flags.KeyGuestMode)
	if err != nil {
		c.log.WithError(err).Warn("guest flag unreadable")
	}
	return FlagView{ForceAuthView: force, Guest: guest}
}

func (c *Controller) store(scope FlagScope) flags.Store {
	if scope == ScopeDurable {
		return c.durable
	}
	return c.tab
}

func (c *Controller) runEffect(gen uint64, eff Effect) {
	switch e := eff.(type) {
	case SetFlag:
		if err := c.store(e.Scope).Set(c.base, e.Key, e.Value); err != nil {
			c.log.WithError(err).WithField("key", e.Key).Warn("flag write failed")
		}
	case ClearFlag:
		if err := c.store(e.Scope).Clear(c.base, e.Key); err != nil {
			c.log.WithError(err).WithField("key", e.Key).Warn("flag clear failed")
		}
	case ConsumeFlag:
		if _, err := c.store(e.Scope).Consume(c.base, e.Key); err != nil {
			c.log.WithError(err).WithField("key", e.Key).Warn("flag consume failed")
		}
	case LoadProfile:
		go c.loadProfile(gen, e.Session, true)
	case RefreshProfile:
		go c.loadProfile(gen, e.Session, false)
	case RecoverSession:
		go c.recoverSession(gen)
	case VerifySignOut:
		go c.verifySignOut(gen)
	case RunBootstrapFallback:
		go c.bootstrapFallback(gen)
	}
}

// loadProfile fetches the profile. With transition set it also runs
// the onboarding gate and allows a view change; otherwise the result
// only replaces the cached profile.
func (c *Controller) loadProfile(gen uint64, sess *identity.Session, transition bool) {
	profile, err := c.backend.GetCurrentProfile(c.base, sess.UserID)
	if err != nil {
		c.log.WithError(err).Warn("profile load failed")
		if transition {
			// A missing profile never blocks reaching main.
			c.apply(gen, Event{Type: EvProfileLoaded})
		}
		return
	}

	if !transition {
		c.apply(gen, Event{Type: EvProfileRefreshed, Profile: profile})
		return
	}

	needs := c.gate.NeedsOnboarding(c.base, sess.UserID, profile)
	c.apply(gen, Event{Type: EvProfileLoaded, Profile: profile, NeedsOnboarding: needs})
}

// recoverSession handles a SIGNED_IN that arrived without a session:
// one fresh fetch, then guest mode rather than blocking indefinitely.
func (c *Controller) recoverSession(gen uint64) {
	sess, err := c.backend.GetSession(c.base)
	if err == nil && sess != nil {
		c.apply(gen, Event{Type: EvSignedIn, Session: sess})
		return
	}
	if err != nil {
		c.log.WithError(err).Warn("session recovery failed, degrading to guest")
	}
	c.apply(gen, Event{Type: EvGuestFallback})
}

func (c *Controller) verifySignOut(gen uint64) {
	real, recovered := c.signOut.IsRealSignOut(c.base)
	if !real {
		c.metrics.SpuriousSignOuts.Inc()
	}
	if recovered != nil {
		// The refresh revived the session; treat it as rotation.
		c.apply(gen, Event{Type: EvTokenRefreshed, Session: recovered})
		return
	}
	c.apply(gen, Event{Type: EvSignOutVerdict, RealSignOut: real})
}

// bootstrapFallback decides the first paint when no session arrived:
// stored guest mode, then public-route guest entry, then a grace
// window absorbing the backend's startup latency before committing to
// the credential screen.
func (c *Controller) bootstrapFallback(gen uint64) {
	ctx := c.base

	if force, err := c.tab.Consume(ctx, flags.KeyForceAuthView); err == nil && force {
		c.apply(gen, Event{Type: EvBootstrapResolved, View: ViewAuth})
		return
	}

	if guest, _ := c.durable.Get(ctx, flags.KeyGuestMode); guest {
		c.apply(gen, Event{Type: EvBootstrapResolved, View: ViewMain, Guest: true})
		return
	}

	if routes.Parse(c.route).IsPublic() {
		if err := c.durable.Set(ctx, flags.KeyGuestMode, true); err != nil {
			c.log.WithError(err).Warn("guest flag write failed")
		}
		c.apply(gen, Event{Type: EvBootstrapResolved, View: ViewMain, Guest: true})
		return
	}

	select {
	case <-ctx.Done():
		return
	case <-time.After(c.graceWindow):
	}
	if !c.currentGen(gen) {
		c.metrics.StaleResults.Inc()
		return
	}

	sess, err := c.backend.GetSession(ctx)
	if sess != nil {
		c.apply(gen, Event{Type: EvSignedIn, Session: sess})
		return
	}
	if err != nil && identity.IsNetworkError(err) && !c.backend.CheckConnectivity(ctx) {
		c.apply(gen, Event{Type: EvConnectivityLost})
		return
	}
	c.apply(gen, Event{Type: EvBootstrapResolved, View: ViewAuth})
}

func (c *Controller) currentGen(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen
}
