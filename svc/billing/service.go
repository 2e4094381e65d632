// Package billing is the account query surface of the credit core. It wires
// the session gateway, checkout coordinator, credit ledger and
// reconciliation worker behind the three user-facing actions: view balance,
// subscribe or change tier, and manually refresh subscription status.
package billing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/creditkit/pkg/account"
	"github.com/dmitrymomot/creditkit/pkg/catalog"
	"github.com/dmitrymomot/creditkit/pkg/checkout"
	"github.com/dmitrymomot/creditkit/pkg/identity"
	"github.com/dmitrymomot/creditkit/pkg/ledger"
	"github.com/dmitrymomot/creditkit/pkg/reconcile"
	"github.com/dmitrymomot/creditkit/pkg/subscription"
)

// WebhookParser normalizes raw provider webhook payloads.
// checkout.PaddleProvider satisfies it.
type WebhookParser interface {
	ParseWebhook(ctx context.Context, payload []byte, signature string) (*checkout.WebhookResult, error)
}

// Service exposes the account query surface to the UI/API layer.
type Service struct {
	accounts account.Store
	catalog  *catalog.Catalog
	ledger   *ledger.Ledger
	checkout *checkout.Coordinator
	recon    *reconcile.Worker
	gateway  identity.Gateway
	webhooks WebhookParser
	log      *slog.Logger
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithWebhookParser sets the provider webhook parser. Without one,
// HandleWebhook rejects all payloads.
func WithWebhookParser(p WebhookParser) Option {
	return func(s *Service) {
		s.webhooks = p
	}
}

// WithClock overrides the time source, useful in tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService wires the core components behind the exposed surface.
// Panics if any required dependency is nil to fail fast during initialization.
func NewService(
	accounts account.Store,
	cat *catalog.Catalog,
	ldgr *ledger.Ledger,
	coordinator *checkout.Coordinator,
	worker *reconcile.Worker,
	gateway identity.Gateway,
	opts ...Option,
) *Service {
	if accounts == nil {
		panic("billing: account store is required")
	}
	if cat == nil {
		panic("billing: catalog is required")
	}
	if ldgr == nil {
		panic("billing: ledger is required")
	}
	if coordinator == nil {
		panic("billing: checkout coordinator is required")
	}
	if worker == nil {
		panic("billing: reconciliation worker is required")
	}
	if gateway == nil {
		panic("billing: identity gateway is required")
	}

	s := &Service{
		accounts: accounts,
		catalog:  cat,
		ledger:   ldgr,
		checkout: coordinator,
		recon:    worker,
		gateway:  gateway,
		log:      slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubscriptionView is the render-ready subscription state.
type SubscriptionView struct {
	Tier      catalog.Tier        `json:"tier"`
	Status    subscription.Status `json:"status"`
	ExpiresAt *time.Time          `json:"expires_at,omitempty"`
}

// AccountView is the render-ready account state: balance, ceiling and
// subscription status.
type AccountView struct {
	ID           uuid.UUID         `json:"id"`
	Email        string            `json:"email"`
	Credits      int64             `json:"credits"`
	MaxCredits   int64             `json:"max_credits"`
	Subscription *SubscriptionView `json:"subscription,omitempty"`
}

// UsagePercentage returns remaining credits as a 0-100 percentage for
// progress display. Caps at 100 to keep UI widgets sane.
func (v *AccountView) UsagePercentage() int {
	if v.MaxCredits <= 0 {
		return 0
	}
	return min(int((v.Credits*100)/v.MaxCredits), 100)
}

// SignIn resolves the caller's identity through the session gateway and
// returns the account, creating it on first successful authentication. The
// account is registered with the reconciliation worker so its subscription
// stays corrected in the background.
func (s *Service) SignIn(ctx context.Context, creds identity.Credentials) (*AccountView, error) {
	accountID, err := s.gateway.ResolveIdentity(ctx, creds)
	if err != nil {
		return nil, err
	}

	rec, err := s.accounts.Get(ctx, accountID)
	if errors.Is(err, account.ErrAccountNotFound) {
		rec = account.New(accountID, creds.Email)
		if cerr := s.accounts.Create(ctx, rec); cerr != nil {
			if !errors.Is(cerr, account.ErrAccountAlreadyExists) {
				return nil, cerr
			}
			// Concurrent first sign-in; the other writer's record wins.
			if rec, err = s.accounts.Get(ctx, accountID); err != nil {
				return nil, err
			}
		} else {
			s.log.InfoContext(ctx, "account created on first sign-in",
				slog.String("account_id", accountID.String()))
		}
	} else if err != nil {
		return nil, err
	}

	s.recon.Watch(accountID)
	return s.view(rec), nil
}

// GetAccount returns the current account state.
func (s *Service) GetAccount(ctx context.Context, accountID uuid.UUID) (*AccountView, error) {
	rec, err := s.accounts.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return s.view(rec), nil
}

// InitiateCheckout starts a tier change for the account.
func (s *Service) InitiateCheckout(ctx context.Context, accountID uuid.UUID, tier catalog.Tier, token string) (*checkout.Request, error) {
	return s.checkout.Initiate(ctx, accountID, tier, token)
}

// RefreshSubscription triggers an on-demand reconciliation against the
// payment provider.
func (s *Service) RefreshSubscription(ctx context.Context, accountID uuid.UUID) error {
	return s.recon.Reconcile(ctx, accountID)
}

// Debit spends credits from the account, all or nothing.
func (s *Service) Debit(ctx context.Context, accountID uuid.UUID, amount int64) (int64, error) {
	return s.ledger.Debit(ctx, accountID, amount)
}

// Plans returns the catalog entries for pricing display.
func (s *Service) Plans() []catalog.Entry {
	return s.catalog.Entries()
}

// HandleWebhook verifies and dispatches a provider webhook: checkout
// outcomes go to the coordinator, subscription-change notices trigger a
// reconciliation.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if s.webhooks == nil {
		return errors.New("billing: no webhook parser configured")
	}

	result, err := s.webhooks.ParseWebhook(ctx, payload, signature)
	if err != nil {
		return err
	}

	switch result.Kind {
	case checkout.WebhookCheckoutResult:
		return s.checkout.HandleResult(ctx, result.SessionRef, result.Outcome)
	case checkout.WebhookSubscriptionChange:
		if result.AccountID == uuid.Nil {
			return nil
		}
		err := s.recon.Reconcile(ctx, result.AccountID)
		if errors.Is(err, reconcile.ErrReconcileInProgress) {
			// A running cycle will pick up the provider state anyway.
			return nil
		}
		return err
	default:
		return nil
	}
}

func (s *Service) view(rec *account.Record) *AccountView {
	now := s.now()
	view := &AccountView{
		ID:         rec.ID,
		Email:      rec.Email,
		Credits:    rec.Credits,
		MaxCredits: catalog.DefaultAllotment,
	}

	if rec.Subscription != nil {
		view.Subscription = &SubscriptionView{
			Tier:      rec.Subscription.Tier,
			Status:    subscription.StatusAt(rec, now),
			ExpiresAt: rec.Subscription.ExpiresAt,
		}
		if view.Subscription.Status == subscription.StatusActive {
			if allotment, err := s.catalog.AllotmentFor(rec.Subscription.Tier); err == nil {
				view.MaxCredits = allotment
			}
		}
	}
	return view
}
