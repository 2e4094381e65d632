package checkout

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/creditkit/pkg/catalog"
)

// Provider is the narrow interface to the external payment provider. The
// core hands off a checkout and later learns the outcome through a webhook
// (Coordinator.HandleResult) or gives up after the configured timeout; it
// never blocks an account on the provider round trip.
type Provider interface {
	// StartCheckout opens a provider checkout session for the account and
	// tier and returns the provider's session reference.
	StartCheckout(ctx context.Context, accountID uuid.UUID, tier catalog.Tier) (sessionRef string, err error)

	// QueryStatus returns the provider's ground-truth subscription state
	// for the account. Used by the reconciliation worker.
	QueryStatus(ctx context.Context, accountID uuid.UUID) (*ProviderStatus, error)
}

// ProviderStatus is the provider-reported subscription truth.
type ProviderStatus struct {
	Tier      catalog.Tier
	Active    bool
	ExpiresAt *time.Time
}

// Outcome is a terminal checkout result reported by the provider.
type Outcome struct {
	Succeeded bool
	Reason    string // populated on failure
	// EventTime is when the provider recorded the outcome. Carried into the
	// coordinator's logs so delayed webhook deliveries can be traced; the
	// account update itself is ordered by the request's terminal-state claim,
	// not by this timestamp.
	EventTime time.Time
}
