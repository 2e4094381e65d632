package subscription

import "errors"

var (
	ErrAlreadySubscribed = errors.New("account is already active on this tier")
	ErrNoSubscription    = errors.New("account has no subscription record")
	ErrExpiryNotInFuture = errors.New("subscription expiry must be in the future")
)
