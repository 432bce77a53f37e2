// Package billing maps Stripe subscription lifecycle events onto tier
// changes in the token economy.
package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	stripe "github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/aeternacy/aeterngw/pkg/tokens"
)

// TierChanger is the slice of the account service billing needs.
type TierChanger interface {
	ApplyTierChange(ctx context.Context, account string, tier tokens.Tier) tokens.State
}

// Webhook verifies and applies Stripe events.
type Webhook struct {
	Secret   string
	Accounts TierChanger
	Logger   *slog.Logger
}

// lookup keys configured on the Stripe prices
var priceLookupTiers = map[string]tokens.Tier{
	"aeternacy_essential": tokens.TierEssential,
	"aeternacy_family":    tokens.TierFamily,
	"aeternacy_legacy":    tokens.TierLegacy,
}

// TierForLookupKey resolves a Stripe price lookup key to a tier.
func TierForLookupKey(key string) (tokens.Tier, bool) {
	t, ok := priceLookupTiers[strings.ToLower(strings.TrimSpace(key))]
	return t, ok
}

// HandlePayload verifies the signature and applies the event. It
// returns an error only for malformed or unverifiable payloads;
// unhandled event types are acknowledged and skipped.
func (w *Webhook) HandlePayload(ctx context.Context, payload []byte, signature string) error {
	event, err := webhook.ConstructEvent(payload, signature, w.Secret)
	if err != nil {
		return fmt.Errorf("verify stripe event: %w", err)
	}
	return w.ApplyEvent(ctx, event)
}

// ApplyEvent applies an already-verified event.
func (w *Webhook) ApplyEvent(ctx context.Context, event stripe.Event) error {
	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}

	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated":
		sub, err := decodeSubscription(event)
		if err != nil {
			return err
		}
		account := accountFor(sub)
		tier, ok := subscriptionTier(sub)
		if !ok {
			logger.Warn("subscription with unknown price lookup key", "account", account)
			return nil
		}
		state := w.Accounts.ApplyTierChange(ctx, account, tier)
		logger.Info("tier change applied",
			"account", account,
			"tier", string(tier),
			"balance", state.Balance,
			"rollover", state.Rollover,
		)
		return nil

	case "customer.subscription.deleted":
		sub, err := decodeSubscription(event)
		if err != nil {
			return err
		}
		account := accountFor(sub)
		w.Accounts.ApplyTierChange(ctx, account, tokens.TierFree)
		logger.Info("subscription ended, reverted to free", "account", account)
		return nil

	default:
		return nil
	}
}

func decodeSubscription(event stripe.Event) (*stripe.Subscription, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return nil, fmt.Errorf("decode subscription event: %w", err)
	}
	return &sub, nil
}

// accountFor prefers the explicit account metadata set at checkout and
// falls back to the Stripe customer ID.
func accountFor(sub *stripe.Subscription) string {
	if acct := strings.TrimSpace(sub.Metadata["account"]); acct != "" {
		return acct
	}
	if sub.Customer != nil {
		return sub.Customer.ID
	}
	return ""
}

func subscriptionTier(sub *stripe.Subscription) (tokens.Tier, bool) {
	if sub.Items == nil {
		return "", false
	}
	for _, item := range sub.Items.Data {
		if item == nil || item.Price == nil {
			continue
		}
		if t, ok := TierForLookupKey(item.Price.LookupKey); ok {
			return t, true
		}
	}
	return "", false
}
