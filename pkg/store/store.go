// Package store defines the persistence boundary for the token economy:
// an append-only journal of discrete transactions plus account snapshots.
// The journal exists so balance changes are auditable and replayable
// rather than a mutated scalar.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/aeternacy/aeterngw/pkg/tokens"
)

// ErrNotFound is returned when an account has no persisted snapshot.
var ErrNotFound = errors.New("store: not found")

// TxKind is the business reason for a journal entry.
type TxKind string

const (
	TxGrant    TxKind = "grant"    // monthly allocation on tier change
	TxRollover TxKind = "rollover" // carried-forward portion on tier change
	TxSpend    TxKind = "spend"    // gate debit for a feature
	TxRefund   TxKind = "refund"   // reconciliation credit after a failed action
	TxTopup    TxKind = "topup"    // direct purchase credit
)

// Transaction is one journal row. Amount is always positive; Kind
// carries the direction (spend debits, everything else credits).
type Transaction struct {
	ID      string    `json:"id"`
	Account string    `json:"account"`
	Kind    TxKind    `json:"kind"`
	Feature string    `json:"feature,omitempty"`
	Amount  int       `json:"amount"`
	At      time.Time `json:"at"`
}

// Journal is the append-only record of every ledger mutation.
type Journal interface {
	Append(ctx context.Context, tx Transaction) error
	List(ctx context.Context, account string, limit int) ([]Transaction, error)
}

// Accounts persists per-account token snapshots across restarts.
type Accounts interface {
	Load(ctx context.Context, account string) (tokens.State, error)
	Save(ctx context.Context, account string, state tokens.State) error
}

// Store bundles the two persistence concerns.
type Store interface {
	Journal
	Accounts
}
