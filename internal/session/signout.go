package session

import (
	"context"
	"time"

	"github.com/abeely/appcore/internal/flags"
	"github.com/abeely/appcore/internal/identity"
	"github.com/abeely/appcore/pkg/logger"
)

// SignOutDisambiguator decides whether a SIGNED_OUT notification
// reflects a real session end or backend noise. The identity backend
// is known to emit spurious sign-outs during transient connectivity
// trouble; bouncing a logged-in user to the credential screen over
// those is worse than briefly showing a stale session.
type SignOutDisambiguator struct {
	backend identity.Backend
	tab     flags.Store
	log     *logger.Logger

	// Debounce is the wait before the refresh attempt, absorbing a
	// race with in-flight token rotation.
	Debounce time.Duration
}

// NewSignOutDisambiguator creates the disambiguator with the default
// 100ms debounce.
func NewSignOutDisambiguator(backend identity.Backend, tab flags.Store, log *logger.Logger) *SignOutDisambiguator {
	if log == nil {
		log = logger.NewDefault("session")
	}
	return &SignOutDisambiguator{
		backend:  backend,
		tab:      tab,
		log:      log,
		Debounce: 100 * time.Millisecond,
	}
}

// IsRealSignOut runs the verification ladder, short-circuiting on the
// first conclusive step. When the refresh attempt recovers a live
// session it is returned so the caller can refresh the cached profile.
func (d *SignOutDisambiguator) IsRealSignOut(ctx context.Context) (bool, *identity.Session) {
	// A deliberate sign-out is never second-guessed.
	explicit, err := d.tab.Consume(ctx, flags.KeyExplicitSignOut)
	if err != nil {
		d.log.WithError(err).Warn("explicit sign-out flag unreadable")
	}
	if explicit {
		return true, nil
	}

	sess, err := d.backend.GetSession(ctx)
	if err != nil {
		// Can't tell; ignoring the event is the safe direction.
		d.log.WithError(err).Warn("session re-check failed, ignoring SIGNED_OUT")
		return false, nil
	}
	if sess != nil {
		d.log.Info("session still live, ignoring SIGNED_OUT")
		return false, nil
	}

	select {
	case <-ctx.Done():
		return false, nil
	case <-time.After(d.Debounce):
	}

	refreshed, err := d.backend.RefreshSession(ctx)
	if err != nil {
		if identity.IsNetworkError(err) {
			d.log.WithError(err).Warn("network trouble refreshing session, ignoring SIGNED_OUT")
			return false, nil
		}
		return true, nil
	}
	if refreshed != nil {
		d.log.Info("session refreshed, SIGNED_OUT was spurious")
		return false, refreshed
	}
	return true, nil
}
