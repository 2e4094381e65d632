// Package checkout drives a tier-change request end to end: initiation,
// the hand-off to the external payment provider, and the atomic application
// of the terminal outcome to the subscription record and credit ledger.
//
// The provider round trip is a suspension point. The per-account lock is
// held only while the request transitions into pending and, separately,
// while the terminal outcome is applied; the wait itself happens outside
// the lock so balance reads are never blocked by a slow provider.
package checkout

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/creditkit/pkg/account"
	"github.com/dmitrymomot/creditkit/pkg/catalog"
	"github.com/dmitrymomot/creditkit/pkg/ledger"
	"github.com/dmitrymomot/creditkit/pkg/subscription"
)

const (
	// DefaultProviderTimeout bounds how long a pending request waits for a
	// provider callback before it is failed and the in-flight marker released.
	DefaultProviderTimeout = 15 * time.Minute

	// DefaultExpiryHorizon is the subscription period granted on a
	// successful checkout.
	DefaultExpiryHorizon = 30 * 24 * time.Hour
)

var ErrMissingToken = errors.New("idempotency token is required")

// Coordinator orchestrates checkout requests for all accounts.
type Coordinator struct {
	accounts account.Store
	requests RequestStore
	catalog  *catalog.Catalog
	provider Provider
	log      *slog.Logger

	timeout time.Duration
	horizon time.Duration
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the coordinator's logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Coordinator) {
		if log != nil {
			c.log = log
		}
	}
}

// WithProviderTimeout overrides the provider callback timeout.
func WithProviderTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithExpiryHorizon overrides the subscription period applied on success.
func WithExpiryHorizon(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.horizon = d
		}
	}
}

// WithClock overrides the time source, useful in tests.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCoordinator creates a Coordinator.
// Panics if any required dependency is nil to fail fast during initialization.
func NewCoordinator(accounts account.Store, requests RequestStore, cat *catalog.Catalog, provider Provider, opts ...Option) *Coordinator {
	if accounts == nil {
		panic("checkout: account store is required")
	}
	if requests == nil {
		panic("checkout: request store is required")
	}
	if cat == nil {
		panic("checkout: catalog is required")
	}
	if provider == nil {
		panic("checkout: provider is required")
	}

	c := &Coordinator{
		accounts: accounts,
		requests: requests,
		catalog:  cat,
		provider: provider,
		log:      slog.Default(),
		timeout:  DefaultProviderTimeout,
		horizon:  DefaultExpiryHorizon,
		now:      func() time.Time { return time.Now().UTC() },
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Initiate starts a checkout for the account and tier. Validation failures
// (unknown tier, redundant same-tier subscription, a checkout already in
// flight) are rejected before any provider contact. Replaying a token whose
// request already completed returns the original terminal request without
// contacting the provider or touching the ledger again.
func (c *Coordinator) Initiate(ctx context.Context, accountID uuid.UUID, tier catalog.Tier, token string) (*Request, error) {
	if token == "" {
		return nil, ErrMissingToken
	}
	if _, err := c.catalog.AllotmentFor(tier); err != nil {
		return nil, err
	}

	// Idempotent replay: same token, same account, same result.
	if existing, err := c.requests.Get(ctx, token); err == nil {
		if existing.AccountID != accountID {
			return nil, ErrTokenConflict
		}
		return existing, nil
	} else if !errors.Is(err, ErrRequestNotFound) {
		return nil, err
	}

	now := c.now()

	if err := c.markInFlight(ctx, accountID, tier, token, now); err != nil {
		if !errors.Is(err, ErrCheckoutInFlight) {
			return nil, err
		}
		// The marker may be an orphan from a process that died before its
		// watchdog fired. Expire it and claim again.
		if err := c.expireStale(ctx, accountID); err != nil {
			return nil, err
		}
		if err := c.markInFlight(ctx, accountID, tier, token, now); err != nil {
			return nil, err
		}
	}

	req := &Request{
		Token:     token,
		AccountID: accountID,
		Tier:      tier,
		Status:    StatusPending,
		CreatedAt: now,
	}
	if err := c.requests.Create(ctx, req); err != nil {
		c.releaseMarker(ctx, accountID, token)
		if errors.Is(err, ErrTokenConflict) {
			// Lost a race against a concurrent replay of the same token.
			return c.requests.Get(ctx, token)
		}
		return nil, err
	}

	// The provider call happens outside the account lock.
	sessionRef, err := c.provider.StartCheckout(ctx, accountID, tier)
	if err != nil {
		failed := c.applyOutcome(ctx, req, Outcome{Succeeded: false, Reason: "provider unreachable", EventTime: c.now()})
		if failed != nil {
			req = failed
		}
		return req, errors.Join(ErrProviderUnavailable, err)
	}
	if err := c.requests.SetSession(ctx, token, sessionRef); err != nil {
		c.log.ErrorContext(ctx, "failed to record checkout session ref",
			slog.String("token", token), slog.Any("error", err))
	}
	req.SessionRef = sessionRef

	c.watch(token)

	c.log.InfoContext(ctx, "checkout initiated",
		slog.String("account_id", accountID.String()),
		slog.String("tier", tier.String()),
		slog.String("session_ref", sessionRef))
	return req, nil
}

// markInFlight runs the eligibility check and claims the in-flight marker as
// one atomic step under the per-account lock.
func (c *Coordinator) markInFlight(ctx context.Context, accountID uuid.UUID, tier catalog.Tier, token string, now time.Time) error {
	_, err := c.accounts.Update(ctx, accountID, func(rec *account.Record) error {
		if err := subscription.Offerable(rec, tier, now); err != nil {
			return err
		}
		if rec.PendingCheckoutToken != "" {
			return ErrCheckoutInFlight
		}
		rec.PendingCheckoutToken = token
		return nil
	})
	return err
}

// expireStale resolves an in-flight marker whose watchdog no longer exists,
// such as after a process restart. A pending request older than the provider
// timeout is failed (which releases the marker); a marker whose request is
// already terminal or gone is cleared directly. A request still inside its
// timeout window returns ErrCheckoutInFlight.
func (c *Coordinator) expireStale(ctx context.Context, accountID uuid.UUID) error {
	rec, err := c.accounts.Get(ctx, accountID)
	if err != nil {
		return err
	}
	token := rec.PendingCheckoutToken
	if token == "" {
		// Released between the failed claim and this lookup.
		return nil
	}

	req, err := c.requests.Get(ctx, token)
	switch {
	case errors.Is(err, ErrRequestNotFound):
		c.releaseMarker(ctx, accountID, token)
		return nil
	case err != nil:
		return err
	}

	if req.Terminal() {
		// The outcome landed but the marker release was lost.
		c.releaseMarker(ctx, accountID, token)
		return nil
	}
	if c.now().Sub(req.CreatedAt) < c.timeout {
		return ErrCheckoutInFlight
	}

	c.log.InfoContext(ctx, "expiring stale checkout request",
		slog.String("account_id", accountID.String()),
		slog.String("token", token))
	c.applyOutcome(ctx, req, Outcome{
		Succeeded: false,
		Reason:    "provider callback timeout",
		EventTime: c.now(),
	})
	return nil
}

// HandleResult applies a provider outcome delivered by webhook or poll.
// Delivering a result for an already-completed request is a no-op so
// duplicate webhooks cannot double-apply credits.
func (c *Coordinator) HandleResult(ctx context.Context, sessionRef string, outcome Outcome) error {
	req, err := c.requests.GetBySession(ctx, sessionRef)
	if err != nil {
		return err
	}
	c.applyOutcome(ctx, req, outcome)
	return nil
}

// applyOutcome moves a request to its terminal state and, on success,
// applies the tier change and credit reset in one atomic account update.
// Returns the terminal request, or nil when the request had already
// completed (the original result stands).
func (c *Coordinator) applyOutcome(ctx context.Context, req *Request, outcome Outcome) *Request {
	status := StatusFailed
	if outcome.Succeeded {
		status = StatusSucceeded
	}

	// Claiming the terminal state first makes the webhook and the timeout
	// watchdog race safe: exactly one writer completes the request.
	completed, err := c.requests.Complete(ctx, req.Token, status, outcome.Reason)
	if err != nil {
		if !errors.Is(err, ErrRequestTerminal) {
			c.log.ErrorContext(ctx, "failed to complete checkout request",
				slog.String("token", req.Token), slog.Any("error", err))
		}
		return nil
	}

	if !outcome.Succeeded {
		c.releaseMarker(ctx, req.AccountID, req.Token)
		c.log.InfoContext(ctx, "checkout failed",
			slog.String("account_id", req.AccountID.String()),
			slog.String("reason", outcome.Reason),
			slog.Time("event_time", outcome.EventTime))
		return completed
	}

	allotment, err := c.catalog.AllotmentFor(req.Tier)
	if err != nil {
		// Tier was validated at initiation; a miss here means the catalog
		// changed underneath a live process.
		c.log.ErrorContext(ctx, "tier vanished from catalog during checkout",
			slog.String("tier", req.Tier.String()), slog.Any("error", err))
		c.releaseMarker(ctx, req.AccountID, req.Token)
		return completed
	}

	now := c.now()
	expiresAt := now.Add(c.horizon)
	_, err = c.accounts.Update(ctx, req.AccountID, func(rec *account.Record) error {
		if err := subscription.Activate(rec, req.Tier, expiresAt, now); err != nil {
			return err
		}
		// Credits are not pro-rated or carried over: hard reset to the new
		// tier's full allotment.
		if err := ledger.Grant(rec, allotment); err != nil {
			return err
		}
		if rec.PendingCheckoutToken == req.Token {
			rec.PendingCheckoutToken = ""
		}
		return nil
	})
	if err != nil {
		c.log.ErrorContext(ctx, "failed to apply checkout outcome",
			slog.String("account_id", req.AccountID.String()), slog.Any("error", err))
		return completed
	}

	c.log.InfoContext(ctx, "checkout succeeded",
		slog.String("account_id", req.AccountID.String()),
		slog.String("tier", req.Tier.String()),
		slog.Int64("credits", allotment),
		slog.Time("event_time", outcome.EventTime))
	return completed
}

// releaseMarker clears the account's in-flight marker if this request still
// owns it, letting a new checkout be initiated.
func (c *Coordinator) releaseMarker(ctx context.Context, accountID uuid.UUID, token string) {
	_, err := c.accounts.Update(ctx, accountID, func(rec *account.Record) error {
		if rec.PendingCheckoutToken == token {
			rec.PendingCheckoutToken = ""
		}
		return nil
	})
	if err != nil {
		c.log.ErrorContext(ctx, "failed to release checkout marker",
			slog.String("account_id", accountID.String()), slog.Any("error", err))
	}
}

// watch fails the request if no provider result arrives within the timeout.
// It only lives as long as the process; markers orphaned by a crash are
// expired lazily by expireStale on the next initiation attempt.
func (c *Coordinator) watch(token string) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		timer := time.NewTimer(c.timeout)
		defer timer.Stop()

		select {
		case <-c.stop:
			return
		case <-timer.C:
		}

		ctx := context.Background()
		req, err := c.requests.Get(ctx, token)
		if err != nil || req.Terminal() {
			return
		}
		c.applyOutcome(ctx, req, Outcome{
			Succeeded: false,
			Reason:    "provider callback timeout",
			EventTime: c.now(),
		})
	}()
}

// Shutdown stops outstanding timeout watchers and waits for them to exit.
// Pending requests are left pending; a later Initiate on the same account
// fails any request whose timeout has already lapsed and frees the marker.
func (c *Coordinator) Shutdown() {
	c.stopOnce.Do(func() { close(c.stop) })
	c.wg.Wait()
}
