// Package usage keeps each user's AI-usage balance.
//
// An account holds a monthly free allowance and a durable purchased balance,
// both in tokens. Consumption draws from the free allowance first and spills
// the shortfall into the purchased balance, which may go negative (there is
// no overdraft guard). The free allowance is reset lazily: every operation
// first compares the account's reset marker with the current calendar month
// and zeroes freeAllowanceUsed when the marker is stale.
package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mbd888/consultcredit/internal/units"
)

// Errors
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("usage account not found")

	ErrMissingUser    = fmt.Errorf("%w: user id is required", ErrInvalidInput)
	ErrInvalidAmount  = fmt.Errorf("%w: amount must be a positive integer", ErrInvalidInput)
	ErrAmountTooLarge = fmt.Errorf("%w: amount exceeds the per-request limit", ErrInvalidInput)
	ErrBalanceLimit   = fmt.Errorf("%w: purchased balance limit reached", ErrInvalidInput)
)

// MaxAmount bounds a single consume or top-up.
const MaxAmount int64 = 1 << 50

// MaxBalance bounds PurchasedTotal and PurchasedUsed. With the free allowance
// capped at MaxAmount the sum of all four fields stays inside int64.
const MaxBalance int64 = 1 << 60

// Entry kinds
const (
	KindConsume = "consume"
	KindTopUp   = "top_up"
	KindReset   = "reset"
)

// Realtime event types
const (
	EventConsumed = "usage.consumed"
	EventToppedUp = "usage.topped_up"
	EventReset    = "usage.reset"
)

// Account is one user's ledger record. All four balance fields are whole,
// non-negative tokens.
type Account struct {
	UserID             string       `json:"userId"`
	FreeAllowanceTotal int64        `json:"freeAllowanceTotal"`
	FreeAllowanceUsed  int64        `json:"freeAllowanceUsed"`
	PurchasedTotal     int64        `json:"purchasedTotal"`
	PurchasedUsed      int64        `json:"purchasedUsed"`
	LastResetPeriod    units.Period `json:"lastResetPeriod"`
	CreatedAt          time.Time    `json:"createdAt"`
	UpdatedAt          time.Time    `json:"updatedAt"`
}

// Entry records one mutation of an account.
type Entry struct {
	ID            string       `json:"id"`
	UserID        string       `json:"userId"`
	Kind          string       `json:"kind"`
	Tokens        int64        `json:"tokens"`
	FromFree      int64        `json:"fromFree,omitempty"`
	FromPurchased int64        `json:"fromPurchased,omitempty"`
	Precise       bool         `json:"precise,omitempty"`
	Period        units.Period `json:"period"`
	CreatedAt     time.Time    `json:"createdAt"`
}

// Mutation edits an account in place and returns the entries describing the
// change. Stores may call it more than once when retrying a conflicted write,
// so it must depend only on the account it is given.
type Mutation func(acct *Account) ([]*Entry, error)

// Store persists accounts and their entries. Update must apply fn and persist
// both the account and the returned entries atomically with respect to other
// writers of the same user. When the account does not exist, fresh is stored
// first and passed to fn.
type Store interface {
	Get(ctx context.Context, userID string) (*Account, error)
	Update(ctx context.Context, userID string, fresh *Account, fn Mutation) (*Account, error)
	ListEntries(ctx context.Context, userID string, limit int) ([]*Entry, error)
	Delete(ctx context.Context, userID string) error
}

// Event is published after a successful mutation.
type Event struct {
	Type    string   `json:"type"`
	UserID  string   `json:"userId"`
	Account *Account `json:"account"`
	Summary Summary  `json:"summary"`
	Entries []*Entry `json:"entries"`
}

// EventPublisher receives usage events.
type EventPublisher interface {
	PublishUsage(ev Event)
}

// Usage is the read model returned by GetUsage.
type Usage struct {
	Account *Account `json:"account"`
	Summary Summary  `json:"summary"`
}

// ConsumeResult reports what a consume call charged.
type ConsumeResult struct {
	RequestedTokens int64    `json:"requestedTokens"`
	SpentTokens     int64    `json:"spentTokens"`
	Precise         bool     `json:"precise"`
	FromFree        int64    `json:"fromFree"`
	FromPurchased   int64    `json:"fromPurchased"`
	Overdraft       int64    `json:"overdraft"`
	Account         *Account `json:"account"`
	Summary         Summary  `json:"summary"`
}

func (a *Account) clone() *Account {
	if a == nil {
		return nil
	}
	cp := *a
	return &cp
}
