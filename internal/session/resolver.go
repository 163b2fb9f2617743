package session

import (
	"context"
	"time"

	"github.com/abeely/appcore/internal/identity"
	"github.com/abeely/appcore/pkg/logger"
)

// Resolver performs the initial session lookup with a single bounded
// retry for transient network failure.
type Resolver struct {
	backend identity.Backend
	log     *logger.Logger

	// RetryDelay is the wait before the single retry.
	RetryDelay time.Duration
}

// NewResolver creates a resolver with the default 500ms retry delay.
func NewResolver(backend identity.Backend, log *logger.Logger) *Resolver {
	if log == nil {
		log = logger.NewDefault("session")
	}
	return &Resolver{
		backend:    backend,
		log:        log,
		RetryDelay: 500 * time.Millisecond,
	}
}

// Resolve looks up the current session. It never fails its caller: the
// absence of a session is not an error condition here. The returned
// error is advisory only, kept so the bootstrap path can distinguish
// "signed out" from "backend unreachable" via the connectivity check.
func (r *Resolver) Resolve(ctx context.Context) (*identity.Session, error) {
	sess, err := r.backend.GetSession(ctx)
	if err == nil {
		return sess, nil
	}

	if !identity.IsNetworkError(err) {
		r.log.WithError(err).Warn("initial session lookup failed")
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(r.RetryDelay):
	}

	sess, err = r.backend.GetSession(ctx)
	if err != nil {
		r.log.WithError(err).Warn("initial session lookup failed after retry")
		return nil, err
	}
	return sess, nil
}
