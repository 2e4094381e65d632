// Package identity defines the contract with the external account session
// gateway. The core trusts the gateway's stable account identifier and never
// inspects password material itself.
package identity

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrAuthenticationFailed = errors.New("authentication failed")

// Credentials is the opaque material forwarded to the gateway. Email is also
// kept for display on the resulting account record.
type Credentials struct {
	Email  string
	Secret string
}

// Gateway authenticates a caller and yields a stable account identifier.
// Implementations wrap the external identity provider; the core only
// consumes the interface.
type Gateway interface {
	ResolveIdentity(ctx context.Context, creds Credentials) (uuid.UUID, error)
}

// GatewayFunc adapts a function to the Gateway interface.
type GatewayFunc func(ctx context.Context, creds Credentials) (uuid.UUID, error)

func (f GatewayFunc) ResolveIdentity(ctx context.Context, creds Credentials) (uuid.UUID, error) {
	return f(ctx, creds)
}
