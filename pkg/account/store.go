package account

import (
	"context"

	"github.com/google/uuid"
)

// UpdateFunc mutates a record in place. Returning an error aborts the update
// and leaves the stored record untouched.
type UpdateFunc func(*Record) error

// Store persists account records. Implementations must serialize Update
// calls per account so a mutation never observes or produces a torn record;
// operations on different accounts need no coordination.
type Store interface {
	// Get returns a copy of the record. Returns ErrAccountNotFound if the
	// account does not exist.
	Get(ctx context.Context, id uuid.UUID) (*Record, error)

	// Create inserts a new record. Returns ErrAccountAlreadyExists if an
	// account with the same ID is already stored.
	Create(ctx context.Context, rec *Record) error

	// Update applies fn to the current record under the per-account lock
	// and persists the result. The whole read-mutate-write sequence is
	// atomic with respect to other Update calls for the same account.
	// Returns the updated record.
	Update(ctx context.Context, id uuid.UUID, fn UpdateFunc) (*Record, error)
}
