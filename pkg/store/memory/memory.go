// Package memory is the in-process store used by tests and by default
// when no database is configured. It matches the original product's
// process-local ledger: nothing survives a restart.
package memory

import (
	"context"
	"sync"

	"github.com/aeternacy/aeterngw/pkg/store"
	"github.com/aeternacy/aeterngw/pkg/tokens"
)

type Store struct {
	mu       sync.Mutex
	journal  []store.Transaction
	accounts map[string]tokens.State
}

func New() *Store {
	return &Store{accounts: make(map[string]tokens.State)}
}

func (s *Store) Append(_ context.Context, tx store.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.journal = append(s.journal, tx)
	return nil
}

// List returns the newest entries first, up to limit (0 means all).
func (s *Store) List(_ context.Context, account string, limit int) ([]store.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Transaction
	for i := len(s.journal) - 1; i >= 0; i-- {
		if s.journal[i].Account != account {
			continue
		}
		out = append(out, s.journal[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) Load(_ context.Context, account string) (tokens.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.accounts[account]
	if !ok {
		return tokens.State{}, store.ErrNotFound
	}
	return state, nil
}

func (s *Store) Save(_ context.Context, account string, state tokens.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[account] = state
	return nil
}
