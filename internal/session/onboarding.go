package session

import (
	"context"
	"strings"

	"github.com/abeely/appcore/internal/flags"
	"github.com/abeely/appcore/internal/identity"
	"github.com/abeely/appcore/pkg/logger"
)

// OnboardingGate decides whether a user must complete onboarding
// before reaching the main application.
type OnboardingGate struct {
	backend identity.Backend
	durable flags.Store
	log     *logger.Logger
}

// NewOnboardingGate creates the gate.
func NewOnboardingGate(backend identity.Backend, durable flags.Store, log *logger.Logger) *OnboardingGate {
	if log == nil {
		log = logger.NewDefault("onboarding")
	}
	return &OnboardingGate{backend: backend, durable: durable, log: log}
}

// NeedsOnboarding reports whether the user still has to onboard. A
// cached profile avoids a backend round-trip; pass nil to fetch. When
// the source of truth is unreachable the local onboarded marker is the
// fallback, and unknown users default to needing onboarding rather
// than skipping it.
func (g *OnboardingGate) NeedsOnboarding(ctx context.Context, userID string, profile *identity.Profile) bool {
	if profile == nil {
		fetched, err := g.backend.GetCurrentProfile(ctx, userID)
		if err != nil {
			local, _ := g.durable.Get(ctx, flags.OnboardedKey(userID))
			if local {
				g.log.WithField("user_id", userID).Info("profile fetch failed, local marker says onboarded")
				return false
			}
			return true
		}
		profile = fetched
	}

	if profile == nil {
		return true
	}
	if profile.HasOnboarded {
		return false
	}

	complete := strings.TrimSpace(profile.DisplayName) != "" &&
		len(profile.InterestedCategories) > 0 &&
		len(profile.InterestedCities) > 0
	if !complete {
		return true
	}

	// The profile is already complete; record that upstream so the
	// question is never asked again. Persist failure only costs a
	// repeat of this check later.
	onboarded := true
	if err := g.backend.UpdateProfile(ctx, userID, identity.ProfilePatch{HasOnboarded: &onboarded}); err != nil {
		g.log.WithError(err).WithField("user_id", userID).Warn("could not persist onboarded state")
	}
	return false
}

// Complete applies the onboarding result: the profile patch plus
// HasOnboarded upstream, and the durable local marker as fallback for
// later offline checks.
func (g *OnboardingGate) Complete(ctx context.Context, userID string, patch identity.ProfilePatch) error {
	onboarded := true
	patch.HasOnboarded = &onboarded

	if err := g.backend.UpdateProfile(ctx, userID, patch); err != nil {
		return err
	}
	if err := g.durable.Set(ctx, flags.OnboardedKey(userID), true); err != nil {
		g.log.WithError(err).Warn("could not persist local onboarded marker")
	}
	return nil
}
