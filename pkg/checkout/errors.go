package checkout

import "errors"

var (
	ErrCheckoutInFlight    = errors.New("checkout already in flight for account")
	ErrRequestNotFound     = errors.New("checkout request not found")
	ErrTokenConflict       = errors.New("idempotency token already used by another account")
	ErrRequestTerminal     = errors.New("checkout request already completed")
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	ErrWebhookSignature    = errors.New("webhook signature verification failed")

	ErrFailedToSaveRequest = errors.New("failed to save checkout request")
)
