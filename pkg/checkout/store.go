package checkout

import "context"

// RequestStore persists checkout requests keyed by idempotency token.
// A second index by provider session reference serves webhook dispatch.
// The single-pending-per-account rule is not enforced here; it lives on the
// account record's pending checkout marker.
type RequestStore interface {
	// Get returns the request for a token. Returns ErrRequestNotFound when
	// the token has never been used.
	Get(ctx context.Context, token string) (*Request, error)

	// GetBySession returns the request owning a provider session reference.
	GetBySession(ctx context.Context, sessionRef string) (*Request, error)

	// Create stores a new pending request. Returns ErrTokenConflict if the
	// token is already taken.
	Create(ctx context.Context, req *Request) error

	// SetSession records the provider session reference on a pending request.
	SetSession(ctx context.Context, token, sessionRef string) error

	// Complete transitions a pending request to a terminal status. Returns
	// ErrRequestTerminal if the request already completed, leaving the
	// original result intact.
	Complete(ctx context.Context, token string, status Status, reason string) (*Request, error)
}
