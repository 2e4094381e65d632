package account

import (
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/creditkit/pkg/catalog"
)

// Subscription is the per-account subscription record. It is embedded in the
// account and never addressed independently. Invariant: when Active is true,
// ExpiresAt is set and was in the future at the moment Active was last set.
type Subscription struct {
	Tier      catalog.Tier
	Active    bool
	ExpiresAt *time.Time // nil while inactive or on a non-expiring plan
}

// Expired reports whether the subscription's expiry has passed at the given
// time. A subscription without an expiry never expires on its own.
func (s *Subscription) Expired(now time.Time) bool {
	if s == nil || s.ExpiresAt == nil {
		return false
	}
	return now.After(*s.ExpiresAt)
}

// Record is the persisted account state: identity, credit balance,
// subscription record and the in-flight checkout marker. It is the single
// shared mutable resource of the core; every mutation goes through
// Store.Update so per-account serialization lives in one place.
type Record struct {
	ID                   uuid.UUID
	Email                string // display only, never used for identity comparison
	Credits              int64  // always >= 0
	Subscription         *Subscription
	PendingCheckoutToken string // empty when no checkout is in flight
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// New returns a fresh account record as created on first successful
// authentication: no subscription and the free-tier allotment.
func New(id uuid.UUID, email string) *Record {
	now := time.Now().UTC()
	return &Record{
		ID:        id,
		Email:     email,
		Credits:   catalog.DefaultAllotment,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy so store implementations never hand out aliased
// internal state.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	if r.Subscription != nil {
		sub := *r.Subscription
		if r.Subscription.ExpiresAt != nil {
			exp := *r.Subscription.ExpiresAt
			sub.ExpiresAt = &exp
		}
		out.Subscription = &sub
	}
	return &out
}
