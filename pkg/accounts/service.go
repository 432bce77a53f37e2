// Package accounts manages per-account token ledgers: lazy creation,
// snapshot persistence, and journaling of every mutation.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aeternacy/aeterngw/pkg/store"
	"github.com/aeternacy/aeterngw/pkg/tokens"
)

// Service owns the live ledgers for all accounts seen this process.
// Ledger mutations go through the ledger's own mutex; the service mutex
// only guards the account map.
type Service struct {
	store       store.Store
	logger      *slog.Logger
	defaultTier tokens.Tier
	now         func() time.Time

	mu      sync.Mutex
	ledgers map[string]*tokens.Ledger
}

func NewService(st store.Store, defaultTier tokens.Tier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:       st,
		logger:      logger,
		defaultTier: defaultTier,
		now:         time.Now,
		ledgers:     make(map[string]*tokens.Ledger),
	}
}

// Ledger returns the ledger for an account, restoring a persisted
// snapshot if one exists, otherwise seeding tier defaults.
func (s *Service) Ledger(ctx context.Context, account string) *tokens.Ledger {
	s.mu.Lock()
	if l, ok := s.ledgers[account]; ok {
		s.mu.Unlock()
		return l
	}
	s.mu.Unlock()

	// Load outside the map lock; a racing loader is resolved below.
	var restored *tokens.Ledger
	if state, err := s.store.Load(ctx, account); err == nil {
		restored = tokens.Restore(state)
	} else if !errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("account snapshot load failed", "account", account, "error", err)
	}
	if restored == nil {
		restored = tokens.NewLedger(s.defaultTier)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.ledgers[account]; ok {
		return l
	}
	s.ledgers[account] = restored
	return restored
}

// State returns the current token snapshot for an account.
func (s *Service) State(ctx context.Context, account string) tokens.State {
	return s.Ledger(ctx, account).State()
}

// Debit atomically spends cost for a feature and journals the spend.
func (s *Service) Debit(ctx context.Context, account, feature string, cost int) error {
	l := s.Ledger(ctx, account)
	if err := l.Debit(cost); err != nil {
		return err
	}
	s.record(ctx, account, store.TxSpend, feature, cost)
	s.persist(ctx, account, l)
	return nil
}

// Refund credits cost back after a failed action.
func (s *Service) Refund(ctx context.Context, account, feature string, amount int) {
	l := s.Ledger(ctx, account)
	l.Refund(amount)
	s.record(ctx, account, store.TxRefund, feature, amount)
	s.persist(ctx, account, l)
}

// AddTokens applies a purchase top-up.
func (s *Service) AddTokens(ctx context.Context, account string, amount int) error {
	if amount <= 0 {
		return fmt.Errorf("top-up amount must be positive, got %d", amount)
	}
	l := s.Ledger(ctx, account)
	l.AddTokens(amount)
	s.record(ctx, account, store.TxTopup, "", amount)
	s.persist(ctx, account, l)
	return nil
}

// ApplyTierChange recomputes the whole token state for the new tier and
// journals the grant and any rollover carried forward.
func (s *Service) ApplyTierChange(ctx context.Context, account string, tier tokens.Tier) tokens.State {
	l := s.Ledger(ctx, account)
	rollover := l.ApplyTierChange(tier)
	if alloc := tokens.ConfigFor(tier).Allocation; alloc > 0 {
		s.record(ctx, account, store.TxGrant, string(tier), alloc)
	}
	if rollover > 0 {
		s.record(ctx, account, store.TxRollover, string(tier), rollover)
	}
	s.persist(ctx, account, l)
	return l.State()
}

// UseFreeHeaderAnimation consumes one free-animation unit.
func (s *Service) UseFreeHeaderAnimation(ctx context.Context, account string) error {
	l := s.Ledger(ctx, account)
	if err := l.UseFreeHeaderAnimation(); err != nil {
		return err
	}
	s.persist(ctx, account, l)
	return nil
}

// History lists the most recent journal entries for an account.
func (s *Service) History(ctx context.Context, account string, limit int) ([]store.Transaction, error) {
	return s.store.List(ctx, account, limit)
}

// record appends a journal row. Journal failures are logged, not
// propagated: the in-memory ledger is the source of truth for the
// session and must not diverge from what the caller already observed.
func (s *Service) record(ctx context.Context, account string, kind store.TxKind, feature string, amount int) {
	tx := store.Transaction{
		ID:      "tx_" + uuid.NewString(),
		Account: account,
		Kind:    kind,
		Feature: feature,
		Amount:  amount,
		At:      s.now().UTC(),
	}
	if err := s.store.Append(ctx, tx); err != nil {
		s.logger.Warn("journal append failed", "account", account, "kind", string(kind), "error", err)
	}
}

func (s *Service) persist(ctx context.Context, account string, l *tokens.Ledger) {
	if err := s.store.Save(ctx, account, l.State()); err != nil {
		s.logger.Warn("account snapshot save failed", "account", account, "error", err)
	}
}
