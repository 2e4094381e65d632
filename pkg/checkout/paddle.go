package checkout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
	"github.com/google/uuid"

	"github.com/dmitrymomot/creditkit/pkg/catalog"
)

// PaddleConfig holds configuration for the Paddle payment provider. Each
// tier maps to a Paddle price ID so the catalog stays the single source of
// truth for tier semantics while Paddle owns billing.
type PaddleConfig struct {
	APIKey        string `env:"PADDLE_API_KEY,required"`
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET,required"`
	Environment   string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`

	PriceStarter      string `env:"PADDLE_PRICE_STARTER,required"`
	PriceProfessional string `env:"PADDLE_PRICE_PROFESSIONAL,required"`
	PriceEnterprise   string `env:"PADDLE_PRICE_ENTERPRISE,required"`
}

// PaddleProvider implements Provider on top of the Paddle SDK.
type PaddleProvider struct {
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
	prices   map[catalog.Tier]string
	tiers    map[string]catalog.Tier
}

// NewPaddleProvider creates a Paddle-backed payment provider.
func NewPaddleProvider(config PaddleConfig) (*PaddleProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("paddle API key is required")
	}
	if config.WebhookSecret == "" {
		return nil, errors.New("paddle webhook secret is required")
	}

	var client *paddle.SDK
	var err error
	switch strings.ToLower(config.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(config.APIKey)
	case "production", "":
		client, err = paddle.New(config.APIKey)
	default:
		return nil, fmt.Errorf("invalid paddle environment: %s", config.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}

	prices := map[catalog.Tier]string{
		catalog.TierStarter:      config.PriceStarter,
		catalog.TierProfessional: config.PriceProfessional,
		catalog.TierEnterprise:   config.PriceEnterprise,
	}
	tiers := make(map[string]catalog.Tier, len(prices))
	for tier, priceID := range prices {
		if priceID == "" {
			return nil, fmt.Errorf("missing paddle price ID for tier %s", tier)
		}
		tiers[priceID] = tier
	}

	return &PaddleProvider{
		client:   client,
		verifier: paddle.NewWebhookVerifier(config.WebhookSecret),
		prices:   prices,
		tiers:    tiers,
	}, nil
}

// StartCheckout opens a Paddle transaction for the account and tier and
// returns the transaction ID as the session reference. The account ID rides
// along in custom data so webhooks can be routed back without a customer
// lookup.
func (p *PaddleProvider) StartCheckout(ctx context.Context, accountID uuid.UUID, tier catalog.Tier) (string, error) {
	priceID, ok := p.prices[tier]
	if !ok {
		return "", errors.Join(catalog.ErrUnknownTier, fmt.Errorf("no paddle price for tier %s", tier))
	}

	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  priceID,
		Quantity: 1,
	})

	transaction, err := p.client.TransactionsClient.CreateTransaction(ctx, &paddle.CreateTransactionRequest{
		Items: []paddle.CreateTransactionItems{*item},
		CustomData: paddle.CustomData{
			"account_id": accountID.String(),
			"tier":       tier.String(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create paddle transaction: %w", err)
	}

	return transaction.ID, nil
}

// QueryStatus returns Paddle's view of the account's subscription. Accounts
// without any Paddle subscription report inactive with no tier.
func (p *PaddleProvider) QueryStatus(ctx context.Context, accountID uuid.UUID) (*ProviderStatus, error) {
	res, err := p.client.SubscriptionsClient.ListSubscriptions(ctx, &paddle.ListSubscriptionsRequest{
		CustomerID: []string{accountID.String()},
	})
	if err != nil {
		return nil, errors.Join(ErrProviderUnavailable, err)
	}

	status := &ProviderStatus{}
	err = res.Iter(ctx, func(sub *paddle.Subscription) (bool, error) {
		if len(sub.Items) == 0 {
			return true, nil
		}
		tier, ok := p.tiers[sub.Items[0].Price.ID]
		if !ok {
			return true, nil
		}

		status.Tier = tier
		status.Active = sub.Status == paddle.SubscriptionStatusActive
		if sub.CurrentBillingPeriod != nil {
			if endsAt, perr := time.Parse(time.RFC3339, sub.CurrentBillingPeriod.EndsAt); perr == nil {
				status.ExpiresAt = &endsAt
			}
		}
		// First matching subscription wins; an account holds one at a time.
		return false, nil
	})
	if err != nil {
		return nil, errors.Join(ErrProviderUnavailable, err)
	}
	return status, nil
}

// WebhookKind classifies a parsed Paddle webhook for dispatch.
type WebhookKind string

const (
	// WebhookCheckoutResult carries the terminal outcome of a checkout.
	WebhookCheckoutResult WebhookKind = "checkout_result"
	// WebhookSubscriptionChange signals provider-side subscription state
	// changed (cancelled, lapsed, resumed) and a reconciliation should run.
	WebhookSubscriptionChange WebhookKind = "subscription_change"
	// WebhookIgnored covers event types the core does not act on.
	WebhookIgnored WebhookKind = "ignored"
)

// WebhookResult is a normalized Paddle webhook event.
type WebhookResult struct {
	Kind       WebhookKind
	SessionRef string
	AccountID  uuid.UUID
	Outcome    Outcome
}

// ParseWebhook verifies the signature and normalizes the payload. Signature
// verification is mandatory; an unverifiable payload is rejected outright.
func (p *PaddleProvider) ParseWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhook", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request for verification: %w", err)
	}
	req.Header.Set("Paddle-Signature", signature)

	valid, err := p.verifier.Verify(req)
	if err != nil {
		return nil, errors.Join(ErrWebhookSignature, err)
	}
	if !valid {
		return nil, ErrWebhookSignature
	}

	var event struct {
		EventID    string         `json:"event_id"`
		EventType  string         `json:"event_type"`
		OccurredAt string         `json:"occurred_at"`
		Data       map[string]any `json:"data"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("failed to parse webhook payload: %w", err)
	}

	result := &WebhookResult{Kind: WebhookIgnored}

	if occurredAt, perr := time.Parse(time.RFC3339, event.OccurredAt); perr == nil {
		result.Outcome.EventTime = occurredAt
	} else {
		result.Outcome.EventTime = time.Now().UTC()
	}

	if id, ok := event.Data["id"].(string); ok {
		result.SessionRef = id
	}
	if customData, ok := event.Data["custom_data"].(map[string]any); ok {
		if raw, ok := customData["account_id"].(string); ok {
			if accountID, perr := uuid.Parse(raw); perr == nil {
				result.AccountID = accountID
			}
		}
	}

	switch event.EventType {
	case "transaction.completed", "transaction.payment_succeeded":
		result.Kind = WebhookCheckoutResult
		result.Outcome.Succeeded = true
	case "transaction.payment_failed":
		result.Kind = WebhookCheckoutResult
		result.Outcome.Succeeded = false
		result.Outcome.Reason = "payment failed"
	case "subscription.canceled", "subscription.paused", "subscription.past_due", "subscription.resumed", "subscription.updated":
		result.Kind = WebhookSubscriptionChange
	}

	return result, nil
}
