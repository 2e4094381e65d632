package checkout

import (
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/creditkit/pkg/catalog"
)

// Status is the lifecycle state of a checkout request. A request is created
// pending and moves to exactly one terminal state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Request tracks a single tier-change attempt from initiation to its
// terminal outcome. The caller-supplied idempotency token is the primary
// key: replaying initiate with the same token returns the original request
// instead of contacting the provider again.
type Request struct {
	Token       string
	AccountID   uuid.UUID
	Tier        catalog.Tier
	Status      Status
	SessionRef  string // provider's checkout session reference
	Reason      string // set on failure
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// Terminal reports whether the request has reached succeeded or failed.
func (r *Request) Terminal() bool {
	return r.Status == StatusSucceeded || r.Status == StatusFailed
}

// Clone returns a copy so stores never hand out aliased state.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	out := *r
	if r.CompletedAt != nil {
		at := *r.CompletedAt
		out.CompletedAt = &at
	}
	return &out
}
