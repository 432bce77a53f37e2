package tokens

import (
	"errors"
	"math"
	"sync"
)

var (
	// ErrInsufficientTokens is returned by Debit when the balance cannot
	// cover the requested cost. The balance is left untouched.
	ErrInsufficientTokens = errors.New("not enough Tokæn for this feature")

	// ErrFreeQuotaExhausted is returned by UseFreeHeaderAnimation once
	// the tier's free quota is used up.
	ErrFreeQuotaExhausted = errors.New("free header animation quota exhausted")
)

// FreeAnimations tracks the tier-scoped free header-animation counter.
// It lives beside the token balance but is independent of it.
type FreeAnimations struct {
	Used  int `json:"used"`
	Total int `json:"total"`
}

// State is a snapshot of one account's token economy.
type State struct {
	Balance           int            `json:"balance"`
	MonthlyAllocation int            `json:"monthly_allocation"`
	Rollover          int            `json:"rollover"`
	FreeAnimations    FreeAnimations `json:"free_header_animations"`
	Tier              Tier           `json:"tier"`
}

// Ledger holds the spendable Tokæn state for a single account.
//
// All operations take the ledger mutex, so a balance check and the debit
// that follows it are atomic with respect to concurrent spenders. That
// makes "at most the available balance can be spent" hold even when two
// gate invocations race.
type Ledger struct {
	mu    sync.Mutex
	state State
}

// NewLedger creates a ledger seeded with the given tier's defaults:
// the full monthly allocation, no rollover, fresh free-animation quota.
func NewLedger(tier Tier) *Ledger {
	cfg := ConfigFor(tier)
	return &Ledger{
		state: State{
			Balance:           cfg.Allocation,
			MonthlyAllocation: cfg.Allocation,
			FreeAnimations:    FreeAnimations{Total: cfg.FreeAnims},
			Tier:              tier,
		},
	}
}

// Restore rebuilds a ledger from a persisted snapshot.
func Restore(state State) *Ledger {
	return &Ledger{state: state}
}

// State returns a copy of the current snapshot.
func (l *Ledger) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Balance returns the current spendable balance.
func (l *Ledger) Balance() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.Balance
}

// ApplyTierChange recomputes the whole state for the new tier,
// replacing the previous state wholesale:
//
//	rollover' = floor(min(oldAllocation*0.5, max(0, oldBalance*0.25)))
//	balance'  = newAllocation + rollover'
//
// The rollover uses the pre-change balance and pre-change allocation, so
// a downgrade right after a large spend carries near-zero forward.
// Re-applying the same tier to the same prior state yields the same
// result. Returns the rollover that was carried.
func (l *Ledger) ApplyTierChange(tier Tier) int {
	cfg := ConfigFor(tier)

	l.mu.Lock()
	defer l.mu.Unlock()

	prevAlloc := float64(l.state.MonthlyAllocation)
	prevBalance := float64(l.state.Balance)
	rollover := int(math.Floor(math.Min(prevAlloc*0.5, math.Max(0, prevBalance*0.25))))

	l.state = State{
		Balance:           cfg.Allocation + rollover,
		MonthlyAllocation: cfg.Allocation,
		Rollover:          rollover,
		FreeAnimations:    FreeAnimations{Total: cfg.FreeAnims},
		Tier:              tier,
	}
	return rollover
}

// Debit atomically checks and subtracts cost from the balance.
// If cost exceeds the balance it returns ErrInsufficientTokens and
// leaves the balance untouched. Negative costs are treated as zero.
func (l *Ledger) Debit(cost int) error {
	if cost < 0 {
		cost = 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if cost > l.state.Balance {
		return ErrInsufficientTokens
	}
	l.state.Balance -= cost
	return nil
}

// Spend subtracts cost with clamping: balance = max(0, balance-cost).
// A deficit is silently absorbed, never an error. Prefer Debit for
// anything that must not oversell.
func (l *Ledger) Spend(cost int) {
	if cost < 0 {
		cost = 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state.Balance -= cost
	if l.state.Balance < 0 {
		l.state.Balance = 0
	}
}

// Refund credits amount back to the balance unconditionally.
func (l *Ledger) Refund(amount int) {
	l.credit(amount)
}

// AddTokens is a direct top-up, mechanically a credit like Refund but
// with no corresponding spend.
func (l *Ledger) AddTokens(amount int) {
	l.credit(amount)
}

func (l *Ledger) credit(amount int) {
	if amount <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state.Balance += amount
}

// UseFreeHeaderAnimation consumes one unit of the free quota. The
// ledger itself enforces used <= total, so the invariant does not
// depend on call sites remembering to check.
func (l *Ledger) UseFreeHeaderAnimation() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.FreeAnimations.Used >= l.state.FreeAnimations.Total {
		return ErrFreeQuotaExhausted
	}
	l.state.FreeAnimations.Used++
	return nil
}
