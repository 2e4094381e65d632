// Package subscription implements the per-account subscription state
// machine: none -> active(tier, expiry) -> inactive(tier), with re-activation
// from either none or inactive. There is no direct cancel operation; a
// cancellation is only ever observed through reconciliation against the
// payment provider, which owns the authoritative cancellation event.
package subscription

import (
	"time"

	"github.com/dmitrymomot/creditkit/pkg/account"
	"github.com/dmitrymomot/creditkit/pkg/catalog"
)

// Status is the derived subscription state of an account.
type Status string

const (
	// StatusNone means the account has never subscribed.
	StatusNone Status = "none"
	// StatusActive means the subscription is active and not past its expiry.
	StatusActive Status = "active"
	// StatusInactive means the subscription lapsed; the tier is remembered
	// so the account can resubscribe to the same plan.
	StatusInactive Status = "inactive"
)

// StatusAt derives the state machine status from a record at a given time.
// An active flag with a passed expiry reads as inactive even before
// reconciliation has corrected the stored record.
func StatusAt(rec *account.Record, now time.Time) Status {
	sub := rec.Subscription
	switch {
	case sub == nil:
		return StatusNone
	case sub.Active && !sub.Expired(now):
		return StatusActive
	default:
		return StatusInactive
	}
}

// Offerable reports whether a tier can be offered for checkout: any tier
// except the one the account is already active on. A same-tier checkout from
// inactive is a valid resubscription.
func Offerable(rec *account.Record, tier catalog.Tier, now time.Time) error {
	if StatusAt(rec, now) == StatusActive && rec.Subscription.Tier == tier {
		return ErrAlreadySubscribed
	}
	return nil
}

// Activate transitions the record to active(tier, expiresAt). Valid from
// none, inactive, and active (tier change); the expiry must be in the
// future at the moment of activation.
func Activate(rec *account.Record, tier catalog.Tier, expiresAt time.Time, now time.Time) error {
	if !expiresAt.After(now) {
		return ErrExpiryNotInFuture
	}
	exp := expiresAt.UTC()
	rec.Subscription = &account.Subscription{
		Tier:      tier,
		Active:    true,
		ExpiresAt: &exp,
	}
	return nil
}

// Lapse transitions an existing subscription to inactive, keeping the tier.
// The credit balance is deliberately left alone; unused credits are not
// clawed back mid-cycle.
func Lapse(rec *account.Record) error {
	if rec.Subscription == nil {
		return ErrNoSubscription
	}
	rec.Subscription.Active = false
	rec.Subscription.ExpiresAt = nil
	return nil
}
