package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/abeely/appcore/pkg/logger"
	"github.com/abeely/appcore/supabase/client"
)

// refreshMargin is how long before access-token expiry the proactive
// refresh fires.
const refreshMargin = 60 * time.Second

// SupabaseOptions configures the Supabase-backed identity backend.
type SupabaseOptions struct {
	Client        *client.Client
	Realtime      *client.RealtimeClient
	SessionFile   string
	ProfilesTable string
	ProbeTable    string
	Log           *logger.Logger
}

// SupabaseBackend implements Backend against a Supabase project. It
// caches the current session in memory, persists it across restarts,
// and synthesizes the lifecycle event stream the way the hosted SDKs
// do: INITIAL_SESSION after the first load, TOKEN_REFRESHED from the
// proactive refresh loop, SIGNED_OUT when the refresh token is finally
// rejected, USER_UPDATED from realtime profile-row changes.
type SupabaseBackend struct {
	mu       sync.RWMutex
	session  *Session
	handlers map[int]func(AuthEvent)
	nextID   int

	api      *client.Client
	realtime *client.RealtimeClient
	opts     SupabaseOptions
	log      *logger.Logger

	stop chan struct{}
	once sync.Once
}

// NewSupabaseBackend creates the backend. Call Start to load the
// persisted session and begin emitting events.
func NewSupabaseBackend(opts SupabaseOptions) (*SupabaseBackend, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("supabase client is required")
	}
	if opts.ProfilesTable == "" {
		opts.ProfilesTable = "profiles"
	}
	if opts.ProbeTable == "" {
		opts.ProbeTable = "requests"
	}
	log := opts.Log
	if log == nil {
		log = logger.NewDefault("identity")
	}
	return &SupabaseBackend{
		api:      opts.Client,
		realtime: opts.Realtime,
		opts:     opts,
		log:      log,
		handlers: make(map[int]func(AuthEvent)),
		stop:     make(chan struct{}),
	}, nil
}

// Start loads any persisted session, announces it as INITIAL_SESSION,
// and starts the proactive refresh loop plus the realtime profile
// subscription.
func (b *SupabaseBackend) Start(ctx context.Context) error {
	sess := b.loadPersisted()

	b.mu.Lock()
	b.session = sess
	b.mu.Unlock()

	b.emit(AuthEvent{Type: EventInitialSession, Session: sess})

	go b.refreshLoop()

	if b.realtime != nil && sess != nil {
		if err := b.subscribeProfileChanges(ctx, sess.UserID); err != nil {
			b.log.WithError(err).Warn("profile change subscription unavailable")
		}
	}
	return nil
}

// Close stops background work.
func (b *SupabaseBackend) Close() {
	b.once.Do(func() { close(b.stop) })
	if b.realtime != nil {
		b.realtime.Disconnect()
	}
}

// =============================================================================
// Backend interface
// =============================================================================

// GetSession returns the current session, refreshing it first when the
// access token has already expired.
func (b *SupabaseBackend) GetSession(ctx context.Context) (*Session, error) {
	b.mu.RLock()
	sess := b.session
	b.mu.RUnlock()

	if sess == nil {
		return nil, nil
	}
	if time.Until(sess.ExpiresAt) > 0 {
		snapshot := *sess
		return &snapshot, nil
	}
	return b.RefreshSession(ctx)
}

// RefreshSession exchanges the refresh token for a fresh session.
func (b *SupabaseBackend) RefreshSession(ctx context.Context) (*Session, error) {
	b.mu.RLock()
	sess := b.session
	b.mu.RUnlock()

	if sess == nil || sess.RefreshToken == "" {
		return nil, nil
	}

	resp, err := b.api.Auth().RefreshToken(ctx, sess.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("refresh session: %w", err)
	}

	fresh := sessionFromAuth(resp)
	b.setSession(fresh)
	b.emit(AuthEvent{Type: EventTokenRefreshed, Session: fresh})
	return fresh, nil
}

// SubscribeAuthEvents registers a lifecycle event handler.
func (b *SupabaseBackend) SubscribeAuthEvents(handler func(AuthEvent)) Unsubscribe {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = handler
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}
}

// GetCurrentProfile fetches the profile row for userID, provisioning a
// minimal one when the user signed up through a flow that never created
// it.
func (b *SupabaseBackend) GetCurrentProfile(ctx context.Context, userID string) (*Profile, error) {
	b.mu.RLock()
	sess := b.session
	b.mu.RUnlock()

	token := ""
	email, phone := "", ""
	if sess != nil {
		token = sess.AccessToken
		email = sess.Email
	}

	resp, err := b.api.From(b.opts.ProfilesTable).
		Select("*").
		Eq("id", userID).
		Single().
		WithToken(token).
		Execute(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch profile: %w", err)
	}

	if resp.StatusCode < 400 {
		var p Profile
		if err := resp.JSON(&p); err != nil {
			return nil, fmt.Errorf("decode profile: %w", err)
		}
		return &p, nil
	}
	if resp.StatusCode >= 500 {
		return nil, resp.Error()
	}

	// No row yet. New accounts get an empty display name so onboarding
	// collects it; only OAuth metadata pre-fills one.
	displayName := ""
	if user, err := b.api.Auth().GetUser(ctx, token); err == nil && user != nil {
		if v, ok := user.UserMetadata["full_name"].(string); ok {
			displayName = v
		} else if v, ok := user.UserMetadata["name"].(string); ok {
			displayName = v
		}
		if user.Email != "" {
			email = user.Email
		}
		phone = user.Phone
	}

	row := map[string]any{
		"id":           userID,
		"email":        email,
		"phone":        phone,
		"display_name": displayName,
		"role":         "user",
		"is_guest":     false,
	}
	created, err := b.api.From(b.opts.ProfilesTable).
		Upsert("id").
		WithToken(token).
		ExecuteInsert(ctx, row)
	if err != nil {
		return nil, fmt.Errorf("provision profile: %w", err)
	}
	if err := created.Error(); err != nil {
		return nil, err
	}

	var rows []Profile
	if err := created.JSON(&rows); err != nil || len(rows) == 0 {
		// Representation missing; fall back to what we wrote.
		return &Profile{ID: userID, DisplayName: displayName, Email: email, Phone: phone}, nil
	}
	return &rows[0], nil
}

// UpdateProfile patches the profile row.
func (b *SupabaseBackend) UpdateProfile(ctx context.Context, userID string, patch ProfilePatch) error {
	b.mu.RLock()
	token := ""
	if b.session != nil {
		token = b.session.AccessToken
	}
	b.mu.RUnlock()

	resp, err := b.api.From(b.opts.ProfilesTable).
		Eq("id", userID).
		WithToken(token).
		ExecuteUpdate(ctx, patch)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return resp.Error()
}

// CheckConnectivity probes the backend with a cheap read. It answers
// "is the backend reachable", not "is anyone signed in".
func (b *SupabaseBackend) CheckConnectivity(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	resp, err := b.api.From(b.opts.ProbeTable).Select("id").Limit(1).Execute(probeCtx)
	if err != nil {
		return false
	}
	return resp.StatusCode < 500
}

// SignOut revokes the session upstream and announces SIGNED_OUT.
func (b *SupabaseBackend) SignOut(ctx context.Context) error {
	b.mu.RLock()
	sess := b.session
	b.mu.RUnlock()

	if sess != nil {
		if err := b.api.Auth().SignOut(ctx, sess.AccessToken); err != nil {
			b.log.WithError(err).Warn("logout call failed, clearing local session anyway")
		}
	}

	b.setSession(nil)
	b.emit(AuthEvent{Type: EventSignedOut})
	return nil
}

// ImportSession installs a session obtained out-of-band (the credential
// UI owns sign-in) and announces SIGNED_IN.
func (b *SupabaseBackend) ImportSession(ctx context.Context, sess *Session) {
	if sess != nil && sess.ExpiresAt.IsZero() {
		sess.ExpiresAt = tokenExpiry(sess.AccessToken)
	}
	b.setSession(sess)
	b.emit(AuthEvent{Type: EventSignedIn, Session: sess})

	if b.realtime != nil && sess != nil {
		if err := b.subscribeProfileChanges(ctx, sess.UserID); err != nil {
			b.log.WithError(err).Warn("profile change subscription unavailable")
		}
	}
}

// =============================================================================
// Internals
// =============================================================================

func (b *SupabaseBackend) emit(ev AuthEvent) {
	b.mu.RLock()
	handlers := make([]func(AuthEvent), 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

func (b *SupabaseBackend) setSession(sess *Session) {
	b.mu.Lock()
	b.session = sess
	b.mu.Unlock()
	b.persist(sess)
}

// refreshLoop refreshes the session shortly before the access token
// expires. A network-shaped failure is retried on the next tick; a
// backend rejection means the refresh token is dead and the session is
// over.
func (b *SupabaseBackend) refreshLoop() {
	const idleInterval = 30 * time.Second

	for {
		b.mu.RLock()
		sess := b.session
		b.mu.RUnlock()

		wait := idleInterval
		if sess != nil && !sess.ExpiresAt.IsZero() {
			wait = time.Until(sess.ExpiresAt) - refreshMargin
			if wait < time.Second {
				wait = time.Second
			}
		}

		select {
		case <-b.stop:
			return
		case <-time.After(wait):
		}

		b.mu.RLock()
		sess = b.session
		b.mu.RUnlock()
		if sess == nil || time.Until(sess.ExpiresAt) > refreshMargin {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		_, err := b.RefreshSession(ctx)
		cancel()

		if err == nil {
			continue
		}
		if IsNetworkError(err) {
			b.log.WithError(err).Warn("session refresh failed, will retry")
			continue
		}
		b.log.WithError(err).Warn("refresh token rejected, ending session")
		b.setSession(nil)
		b.emit(AuthEvent{Type: EventSignedOut})
	}
}

func (b *SupabaseBackend) subscribeProfileChanges(ctx context.Context, userID string) error {
	if err := b.realtime.Connect(ctx); err != nil {
		return err
	}
	filter := fmt.Sprintf("id=eq.%s", userID)
	return b.realtime.SubscribeToChanges(ctx, "public", b.opts.ProfilesTable, filter, func(change client.Change) {
		if change.Event != "UPDATE" {
			return
		}
		b.mu.RLock()
		sess := b.session
		b.mu.RUnlock()
		b.emit(AuthEvent{Type: EventUserUpdated, Session: sess})
	})
}

func (b *SupabaseBackend) loadPersisted() *Session {
	if b.opts.SessionFile == "" {
		return nil
	}
	data, err := os.ReadFile(b.opts.SessionFile)
	if err != nil {
		return nil
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		b.log.WithError(err).Warn("discarding unreadable session file")
		return nil
	}
	if sess.AccessToken == "" {
		return nil
	}
	if sess.ExpiresAt.IsZero() {
		sess.ExpiresAt = tokenExpiry(sess.AccessToken)
	}
	return &sess
}

func (b *SupabaseBackend) persist(sess *Session) {
	if b.opts.SessionFile == "" {
		return
	}
	if sess == nil {
		os.Remove(b.opts.SessionFile)
		return
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return
	}
	tmp := b.opts.SessionFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		b.log.WithError(err).Warn("persist session failed")
		return
	}
	if err := os.Rename(tmp, b.opts.SessionFile); err != nil {
		b.log.WithError(err).Warn("persist session failed")
	}
}

func sessionFromAuth(resp *client.AuthResponse) *Session {
	if resp == nil || resp.AccessToken == "" {
		return nil
	}
	sess := &Session{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
	}
	if resp.User != nil {
		sess.UserID = resp.User.ID
		sess.Email = resp.User.Email
	}
	if resp.ExpiresIn > 0 {
		sess.ExpiresAt = time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	} else {
		sess.ExpiresAt = tokenExpiry(resp.AccessToken)
	}
	return sess
}

// tokenExpiry reads the exp claim without validating the token. The
// signature is the backend's business; expiry only schedules refresh.
func tokenExpiry(accessToken string) time.Time {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(accessToken, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
