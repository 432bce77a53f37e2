package gate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aeternacy/aeterngw/pkg/ai"
	"github.com/aeternacy/aeterngw/pkg/tokens"
)

type fakeBank struct {
	mu      sync.Mutex
	balance int
	debits  []int
	refunds []int
}

func (b *fakeBank) Debit(_ context.Context, _, _ string, cost int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cost > b.balance {
		return tokens.ErrInsufficientTokens
	}
	b.balance -= cost
	b.debits = append(b.debits, cost)
	return nil
}

func (b *fakeBank) Refund(_ context.Context, _, _ string, amount int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balance += amount
	b.refunds = append(b.refunds, amount)
}

type fakeNotifier struct {
	mu        sync.Mutex
	notes     []Notification
	byAccount map[string][]Notification
}

func (n *fakeNotifier) Notify(account string, note Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
	if n.byAccount == nil {
		n.byAccount = make(map[string][]Notification)
	}
	n.byAccount[account] = append(n.byAccount[account], note)
}

func (n *fakeNotifier) all() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.notes...)
}

func (n *fakeNotifier) forAccount(account string) []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.byAccount[account]...)
}

// newTestGate returns a gate whose delayed callbacks run synchronously.
func newTestGate(bank *fakeBank, notifier *fakeNotifier) *Gate {
	g := New(bank, NewUsageCounter(), notifier, nil)
	g.after = func(_ time.Duration, f func()) { f() }
	return g
}

func TestRun_InsufficientBalanceNeverInvokesAction(t *testing.T) {
	bank := &fakeBank{balance: 10}
	notifier := &fakeNotifier{}
	g := newTestGate(bank, notifier)

	invoked := false
	err := g.Run(context.Background(), "acct", FeatureMagazine, 250, func(context.Context) error {
		invoked = true
		return nil
	})
	if !errors.Is(err, tokens.ErrInsufficientTokens) {
		t.Fatalf("want ErrInsufficientTokens, got %v", err)
	}
	if invoked {
		t.Fatalf("action ran despite rejected debit")
	}
	if bank.balance != 10 || len(bank.debits) != 0 {
		t.Fatalf("rejected debit changed bank: %+v", bank)
	}
	notes := notifier.all()
	if len(notes) != 1 || notes[0].Kind != NotifyError {
		t.Fatalf("want one error notification, got %+v", notes)
	}
	if g.Usage().Count("acct", FeatureMagazine) != 0 {
		t.Fatalf("usage counted a rejected invocation")
	}
}

func TestRun_SuccessDebitsOnceAndCountsUsage(t *testing.T) {
	bank := &fakeBank{balance: 1000}
	g := newTestGate(bank, &fakeNotifier{})

	if err := g.Run(context.Background(), "acct", FeatureChatReply, 5, func(context.Context) error {
		return nil
	}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if bank.balance != 995 || len(bank.debits) != 1 || len(bank.refunds) != 0 {
		t.Fatalf("unexpected bank state: %+v", bank)
	}
	if got := g.Usage().Count("acct", FeatureChatReply); got != 1 {
		t.Fatalf("usage count = %d", got)
	}
}

func TestRun_GenericFailureRefundsInFull(t *testing.T) {
	bank := &fakeBank{balance: 1000}
	notifier := &fakeNotifier{}
	g := newTestGate(bank, notifier)

	actionErr := errors.New("upstream timeout")
	err := g.Run(context.Background(), "acct", FeatureVideoReflection, 600, func(context.Context) error {
		return actionErr
	})
	if !errors.Is(err, actionErr) {
		t.Fatalf("want action error, got %v", err)
	}
	if bank.balance != 1000 {
		t.Fatalf("balance not restored: %d", bank.balance)
	}
	if len(bank.refunds) != 1 || bank.refunds[0] != 600 {
		t.Fatalf("want exactly one 600 refund, got %v", bank.refunds)
	}
	notes := notifier.all()
	if len(notes) != 1 || notes[0].Message != "Tokæn returned." {
		t.Fatalf("want refund notification, got %+v", notes)
	}
	if g.Usage().Count("acct", FeatureVideoReflection) != 0 {
		t.Fatalf("failed invocation counted")
	}
}

func TestRun_SafetyBlockForfeitsSpend(t *testing.T) {
	bank := &fakeBank{balance: 1000}
	notifier := &fakeNotifier{}
	g := newTestGate(bank, notifier)

	err := g.Run(context.Background(), "acct", FeatureVideoReflection, 600, func(context.Context) error {
		return ai.SafetyBlockedError("prohibited content")
	})
	if !ai.IsSafetyBlocked(err) {
		t.Fatalf("want safety-blocked error, got %v", err)
	}
	if bank.balance != 400 || len(bank.refunds) != 0 {
		t.Fatalf("safety block must not refund: %+v", bank)
	}
	if len(notifier.all()) != 0 {
		t.Fatalf("no notification expected, got %+v", notifier.all())
	}
}

func TestRun_SafetyBlockDetectedBySubstring(t *testing.T) {
	bank := &fakeBank{balance: 1000}
	g := newTestGate(bank, &fakeNotifier{})

	err := g.Run(context.Background(), "acct", FeatureMagazine, 250, func(context.Context) error {
		return errors.New("generation stopped due to safety policy")
	})
	if err == nil {
		t.Fatalf("want error")
	}
	if len(bank.refunds) != 0 {
		t.Fatalf("substring-matched safety block refunded: %v", bank.refunds)
	}
}

func TestRun_ThirdReflectionFiresNudgeExactlyOnce(t *testing.T) {
	bank := &fakeBank{balance: 10000}
	notifier := &fakeNotifier{}
	g := newTestGate(bank, notifier)

	ok := func(context.Context) error { return nil }
	for i := 0; i < 5; i++ {
		if err := g.Run(context.Background(), "acct", FeatureVideoReflection, 600, ok); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}

	var upsells int
	for _, n := range notifier.all() {
		if n.Kind == NotifyUpsell {
			upsells++
		}
	}
	if upsells != 1 {
		t.Fatalf("want exactly one upsell across five successes, got %d", upsells)
	}
}

func TestRun_NudgeCountsPerAccount(t *testing.T) {
	bank := &fakeBank{balance: 100000}
	notifier := &fakeNotifier{}
	g := newTestGate(bank, notifier)

	ok := func(context.Context) error { return nil }
	for i := 0; i < 2; i++ {
		if err := g.Run(context.Background(), "acct_a", FeatureVideoReflection, 600, ok); err != nil {
			t.Fatalf("acct_a run %d: %v", i, err)
		}
	}
	if err := g.Run(context.Background(), "acct_b", FeatureVideoReflection, 600, ok); err != nil {
		t.Fatalf("acct_b run: %v", err)
	}

	// Two successes for one account plus one for another must not cross
	// the milestone for either of them.
	for _, n := range notifier.all() {
		if n.Kind == NotifyUpsell {
			t.Fatalf("upsell fired across accounts: %+v", n)
		}
	}

	if err := g.Run(context.Background(), "acct_a", FeatureVideoReflection, 600, ok); err != nil {
		t.Fatalf("acct_a third run: %v", err)
	}
	var aUpsells int
	for _, n := range notifier.forAccount("acct_a") {
		if n.Kind == NotifyUpsell {
			aUpsells++
		}
	}
	if aUpsells != 1 {
		t.Fatalf("want one upsell for acct_a on its own third success, got %d", aUpsells)
	}
	for _, n := range notifier.forAccount("acct_b") {
		if n.Kind == NotifyUpsell {
			t.Fatalf("upsell delivered to the wrong account")
		}
	}
	if got := g.Usage().Count("acct_b", FeatureVideoReflection); got != 1 {
		t.Fatalf("acct_b usage = %d, want 1", got)
	}
}

func TestRun_NudgeOnlyForVideoReflection(t *testing.T) {
	bank := &fakeBank{balance: 10000}
	notifier := &fakeNotifier{}
	g := newTestGate(bank, notifier)

	ok := func(context.Context) error { return nil }
	for i := 0; i < 5; i++ {
		if err := g.Run(context.Background(), "acct", FeatureLivingSlideshow, 400, ok); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	for _, n := range notifier.all() {
		if n.Kind == NotifyUpsell {
			t.Fatalf("upsell fired for %s", n.Feature)
		}
	}
}

func TestRun_FailedReflectionDoesNotAdvanceNudgeCount(t *testing.T) {
	bank := &fakeBank{balance: 10000}
	notifier := &fakeNotifier{}
	g := newTestGate(bank, notifier)

	fail := func(context.Context) error { return errors.New("boom") }
	ok := func(context.Context) error { return nil }

	g.Run(context.Background(), "acct", FeatureVideoReflection, 600, ok)
	g.Run(context.Background(), "acct", FeatureVideoReflection, 600, fail)
	g.Run(context.Background(), "acct", FeatureVideoReflection, 600, ok)

	for _, n := range notifier.all() {
		if n.Kind == NotifyUpsell {
			t.Fatalf("upsell fired after only two successes")
		}
	}

	if err := g.Run(context.Background(), "acct", FeatureVideoReflection, 600, ok); err != nil {
		t.Fatalf("run: %v", err)
	}
	var upsells int
	for _, n := range notifier.all() {
		if n.Kind == NotifyUpsell {
			upsells++
		}
	}
	if upsells != 1 {
		t.Fatalf("want one upsell on the third success, got %d", upsells)
	}
}
