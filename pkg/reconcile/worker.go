// Package reconcile periodically re-derives subscription truth from the
// payment provider and corrects local state on mismatch. It never grants
// credits on its own initiative: a lapsed subscription transitions to
// inactive with the balance left untouched, and a provider-reported tier
// change only ever clamps the balance down to the new allotment.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/creditkit/pkg/account"
	"github.com/dmitrymomot/creditkit/pkg/catalog"
	"github.com/dmitrymomot/creditkit/pkg/checkout"
	"github.com/dmitrymomot/creditkit/pkg/ledger"
	"github.com/dmitrymomot/creditkit/pkg/subscription"
)

// DefaultInterval is how often watched accounts are reconciled.
const DefaultInterval = 15 * time.Minute

// StatusSource yields the provider's ground-truth subscription state.
// checkout.Provider satisfies it.
type StatusSource interface {
	QueryStatus(ctx context.Context, accountID uuid.UUID) (*checkout.ProviderStatus, error)
}

// Worker reconciles watched accounts on a fixed interval and on demand.
type Worker struct {
	accounts account.Store
	catalog  *catalog.Catalog
	source   StatusSource
	log      *slog.Logger

	interval time.Duration
	now      func() time.Time

	mu         sync.Mutex
	watched    map[uuid.UUID]struct{}
	inProgress map[uuid.UUID]struct{}
}

// Option configures a Worker.
type Option func(*Worker)

// WithInterval overrides the reconciliation interval.
func WithInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithLogger sets the worker's logger.
func WithLogger(log *slog.Logger) Option {
	return func(w *Worker) {
		if log != nil {
			w.log = log
		}
	}
}

// WithClock overrides the time source, useful in tests.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

// NewWorker creates a reconciliation worker.
// Panics if any required dependency is nil to fail fast during initialization.
func NewWorker(accounts account.Store, cat *catalog.Catalog, source StatusSource, opts ...Option) *Worker {
	if accounts == nil {
		panic("reconcile: account store is required")
	}
	if cat == nil {
		panic("reconcile: catalog is required")
	}
	if source == nil {
		panic("reconcile: status source is required")
	}

	w := &Worker{
		accounts:   accounts,
		catalog:    cat,
		source:     source,
		log:        slog.Default(),
		interval:   DefaultInterval,
		now:        func() time.Time { return time.Now().UTC() },
		watched:    make(map[uuid.UUID]struct{}),
		inProgress: make(map[uuid.UUID]struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Watch registers an account for periodic reconciliation.
func (w *Worker) Watch(id uuid.UUID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.watched[id] = struct{}{}
}

// Unwatch removes an account from the periodic cycle.
func (w *Worker) Unwatch(id uuid.UUID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.watched, id)
}

// Run reconciles all watched accounts on the configured interval until the
// context is cancelled. Provider failures skip the cycle for that account
// and retry next interval; they are never fatal.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.InfoContext(ctx, "reconciliation worker shutting down")
			return ctx.Err()
		case <-ticker.C:
			w.runCycle(ctx)
		}
	}
}

func (w *Worker) runCycle(ctx context.Context) {
	w.mu.Lock()
	ids := make([]uuid.UUID, 0, len(w.watched))
	for id := range w.watched {
		ids = append(ids, id)
	}
	w.mu.Unlock()

	for _, id := range ids {
		if err := w.Reconcile(ctx, id); err != nil {
			if errors.Is(err, ErrReconcileInProgress) {
				continue
			}
			w.log.WarnContext(ctx, "reconciliation cycle skipped",
				slog.String("account_id", id.String()), slog.Any("error", err))
		}
	}
}

// Reconcile runs one reconciliation for the account. A second call while one
// is in progress for the same account is refused with
// ErrReconcileInProgress rather than run concurrently.
func (w *Worker) Reconcile(ctx context.Context, id uuid.UUID) error {
	w.mu.Lock()
	if _, busy := w.inProgress[id]; busy {
		w.mu.Unlock()
		return ErrReconcileInProgress
	}
	w.inProgress[id] = struct{}{}
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		delete(w.inProgress, id)
		w.mu.Unlock()
	}()

	snapshotAt := w.now()
	status, err := w.source.QueryStatus(ctx, id)
	if err != nil {
		return errors.Join(checkout.ErrProviderUnavailable, err)
	}

	_, err = w.accounts.Update(ctx, id, func(rec *account.Record) error {
		// A checkout outcome that landed after our provider snapshot is the
		// later event; discard this correction rather than overwrite it.
		if rec.UpdatedAt.After(snapshotAt) {
			return errStale
		}
		return w.correct(rec, status, snapshotAt)
	})
	switch {
	case err == nil:
		w.log.InfoContext(ctx, "reconciliation corrected account state",
			slog.String("account_id", id.String()))
		return nil
	case errors.Is(err, errNoChange):
		return nil
	case errors.Is(err, errStale):
		w.log.InfoContext(ctx, "reconciliation discarded stale correction",
			slog.String("account_id", id.String()))
		return nil
	default:
		return err
	}
}

// correct mutates the record to match provider truth. Returning errNoChange
// aborts the update so an already-correct record is not rewritten.
func (w *Worker) correct(rec *account.Record, status *checkout.ProviderStatus, now time.Time) error {
	local := subscription.StatusAt(rec, now)

	if !status.Active {
		// Provider says lapsed (or never subscribed). Balance stays: unused
		// credits are not clawed back mid-cycle.
		if rec.Subscription == nil || (!rec.Subscription.Active && rec.Subscription.ExpiresAt == nil) {
			return errNoChange
		}
		return subscription.Lapse(rec)
	}

	expiresAt := w.effectiveExpiry(rec, status, now)

	if local == subscription.StatusActive && rec.Subscription.Tier == status.Tier {
		// Same tier still active on both sides. Only a renewed billing
		// period warrants a write.
		if status.ExpiresAt == nil || (rec.Subscription.ExpiresAt != nil && rec.Subscription.ExpiresAt.Equal(*status.ExpiresAt)) {
			return errNoChange
		}
		return subscription.Activate(rec, status.Tier, expiresAt, now)
	}

	// Tier mismatch or local lapsed while provider reports active: adopt
	// provider truth. Credits are clamped to the adopted tier's allotment,
	// never topped up; granting credits is checkout's job alone.
	allotment, err := w.catalog.AllotmentFor(status.Tier)
	if err != nil {
		return err
	}
	if err := subscription.Activate(rec, status.Tier, expiresAt, now); err != nil {
		return err
	}
	return ledger.Clamp(rec, allotment)
}

// effectiveExpiry picks the expiry for an adopted active subscription:
// the provider's period end when reported, otherwise the local expiry if
// still in the future, otherwise a fresh default period.
func (w *Worker) effectiveExpiry(rec *account.Record, status *checkout.ProviderStatus, now time.Time) time.Time {
	if status.ExpiresAt != nil && status.ExpiresAt.After(now) {
		return *status.ExpiresAt
	}
	if rec.Subscription != nil && rec.Subscription.ExpiresAt != nil && rec.Subscription.ExpiresAt.After(now) {
		return *rec.Subscription.ExpiresAt
	}
	return now.Add(checkout.DefaultExpiryHorizon)
}
