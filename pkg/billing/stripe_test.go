package billing

import (
	"context"
	"encoding/json"
	"testing"

	stripe "github.com/stripe/stripe-go/v84"

	"github.com/aeternacy/aeterngw/pkg/tokens"
)

type fakeAccounts struct {
	changes []struct {
		account string
		tier    tokens.Tier
	}
}

func (f *fakeAccounts) ApplyTierChange(_ context.Context, account string, tier tokens.Tier) tokens.State {
	f.changes = append(f.changes, struct {
		account string
		tier    tokens.Tier
	}{account, tier})
	cfg := tokens.ConfigFor(tier)
	return tokens.State{Balance: cfg.Allocation, MonthlyAllocation: cfg.Allocation, Tier: tier}
}

func subscriptionEvent(t *testing.T, eventType string, sub map[string]any) stripe.Event {
	t.Helper()
	raw, err := json.Marshal(sub)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return stripe.Event{
		Type: stripe.EventType(eventType),
		Data: &stripe.EventData{Raw: raw},
	}
}

func TestTierForLookupKey(t *testing.T) {
	cases := []struct {
		key  string
		tier tokens.Tier
		ok   bool
	}{
		{"aeternacy_essential", tokens.TierEssential, true},
		{"aeternacy_family", tokens.TierFamily, true},
		{"aeternacy_legacy", tokens.TierLegacy, true},
		{" Aeternacy_Family ", tokens.TierFamily, true},
		{"aeternacy_platinum", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		tier, ok := TierForLookupKey(tc.key)
		if ok != tc.ok || tier != tc.tier {
			t.Fatalf("%q: got %q ok=%v", tc.key, tier, ok)
		}
	}
}

func TestApplyEvent_SubscriptionCreatedAppliesTier(t *testing.T) {
	accounts := &fakeAccounts{}
	w := &Webhook{Accounts: accounts}

	event := subscriptionEvent(t, "customer.subscription.created", map[string]any{
		"metadata": map[string]string{"account": "acct_42"},
		"items": map[string]any{
			"data": []map[string]any{
				{"price": map[string]any{"lookup_key": "aeternacy_family"}},
			},
		},
	})
	if err := w.ApplyEvent(context.Background(), event); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(accounts.changes) != 1 {
		t.Fatalf("changes = %+v", accounts.changes)
	}
	if accounts.changes[0].account != "acct_42" || accounts.changes[0].tier != tokens.TierFamily {
		t.Fatalf("change = %+v", accounts.changes[0])
	}
}

func TestApplyEvent_FallsBackToCustomerID(t *testing.T) {
	accounts := &fakeAccounts{}
	w := &Webhook{Accounts: accounts}

	event := subscriptionEvent(t, "customer.subscription.updated", map[string]any{
		"customer": map[string]any{"id": "cus_123"},
		"items": map[string]any{
			"data": []map[string]any{
				{"price": map[string]any{"lookup_key": "aeternacy_legacy"}},
			},
		},
	})
	if err := w.ApplyEvent(context.Background(), event); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(accounts.changes) != 1 || accounts.changes[0].account != "cus_123" {
		t.Fatalf("changes = %+v", accounts.changes)
	}
}

func TestApplyEvent_DeletedRevertsToFree(t *testing.T) {
	accounts := &fakeAccounts{}
	w := &Webhook{Accounts: accounts}

	event := subscriptionEvent(t, "customer.subscription.deleted", map[string]any{
		"metadata": map[string]string{"account": "acct_42"},
	})
	if err := w.ApplyEvent(context.Background(), event); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(accounts.changes) != 1 || accounts.changes[0].tier != tokens.TierFree {
		t.Fatalf("changes = %+v", accounts.changes)
	}
}

func TestApplyEvent_UnknownLookupKeySkipped(t *testing.T) {
	accounts := &fakeAccounts{}
	w := &Webhook{Accounts: accounts}

	event := subscriptionEvent(t, "customer.subscription.created", map[string]any{
		"metadata": map[string]string{"account": "acct_42"},
		"items": map[string]any{
			"data": []map[string]any{
				{"price": map[string]any{"lookup_key": "some_other_product"}},
			},
		},
	})
	if err := w.ApplyEvent(context.Background(), event); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(accounts.changes) != 0 {
		t.Fatalf("unknown price applied a tier: %+v", accounts.changes)
	}
}

func TestApplyEvent_UnhandledTypeAcknowledged(t *testing.T) {
	accounts := &fakeAccounts{}
	w := &Webhook{Accounts: accounts}

	event := stripe.Event{Type: "invoice.paid", Data: &stripe.EventData{Raw: []byte(`{}`)}}
	if err := w.ApplyEvent(context.Background(), event); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(accounts.changes) != 0 {
		t.Fatalf("unhandled event changed tiers: %+v", accounts.changes)
	}
}
