package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mbd888/consultcredit/internal/idgen"
	"github.com/mbd888/consultcredit/internal/syncutil"
	"github.com/mbd888/consultcredit/internal/traces"
	"github.com/mbd888/consultcredit/internal/units"
)

// Ledger applies consumption, top-ups and resets to usage accounts. It keeps
// no balances in memory; every call reads and writes through the Store.
type Ledger struct {
	store         Store
	locks         *syncutil.KeyedMutex
	loc           *time.Location
	freeAllowance int64
	now           units.Clock
	events        EventPublisher
	logger        *slog.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source.
func WithClock(c units.Clock) Option {
	return func(l *Ledger) { l.now = c }
}

// WithLocation sets the timezone whose calendar month drives lazy resets.
func WithLocation(loc *time.Location) Option {
	return func(l *Ledger) {
		if loc != nil {
			l.loc = loc
		}
	}
}

// WithFreeAllowance sets the monthly free allowance granted to new accounts.
// Values outside (0, MaxAmount] are ignored.
func WithFreeAllowance(tokens int64) Option {
	return func(l *Ledger) {
		if tokens > 0 && tokens <= MaxAmount {
			l.freeAllowance = tokens
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithEvents attaches a publisher notified after every successful mutation.
func WithEvents(p EventPublisher) Option {
	return func(l *Ledger) { l.events = p }
}

// New creates a ledger over store.
func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:         store,
		locks:         syncutil.NewKeyedMutex(syncutil.DefaultShards),
		loc:           time.UTC,
		freeAllowance: units.DefaultFreeMonthlyTokens,
		now:           time.Now,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Location returns the timezone that defines a calendar month.
func (l *Ledger) Location() *time.Location { return l.loc }

// FreeAllowance returns the monthly free allowance for new accounts.
func (l *Ledger) FreeAllowance() int64 { return l.freeAllowance }

// CurrentPeriod returns the active calendar month.
func (l *Ledger) CurrentPeriod() units.Period {
	return units.PeriodOf(l.now(), l.loc)
}

// GetUsage returns the user's balances and summary. A missing account is
// created with the default allowance and a stale one is reset first; apart
// from that the call has no side effects.
func (l *Ledger) GetUsage(ctx context.Context, userID string, purchasedFirst bool) (*Usage, error) {
	defer observeOp("get_usage")()
	userID, err := normalizeUser(userID)
	if err != nil {
		return nil, err
	}
	ctx, span := traces.StartSpan(ctx, "usage.GetUsage", traces.UserID(userID))
	defer span.End()

	acct, err := l.store.Get(ctx, userID)
	switch {
	case err == nil && !acct.LastResetPeriod.Before(l.CurrentPeriod()):
	case err == nil, errors.Is(err, ErrNotFound):
		acct, _, err = l.mutate(ctx, userID, nil)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("failed to load usage account: %w", err)
	}

	return &Usage{Account: acct, Summary: Summarize(acct, purchasedFirst)}, nil
}

// Consume charges tokens to the user: the full amount in normal mode, or
// round(tokens × 1.2) in precise mode. The free allowance is drawn first and
// any shortfall goes to purchasedUsed, which may exceed purchasedTotal.
func (l *Ledger) Consume(ctx context.Context, userID string, tokens int64, precise bool) (*ConsumeResult, error) {
	defer observeOp("consume")()
	userID, err := normalizeUser(userID)
	if err != nil {
		return nil, err
	}
	if err := validateAmount(tokens); err != nil {
		return nil, err
	}
	ctx, span := traces.StartSpan(ctx, "usage.Consume",
		traces.UserID(userID), traces.Tokens(tokens), traces.Precise(precise))
	defer span.End()

	spent := units.SpendAmount(tokens, precise)
	res := &ConsumeResult{RequestedTokens: tokens, SpentTokens: spent, Precise: precise}

	acct, entries, err := l.mutate(ctx, userID, func(a *Account, _ time.Time) (*Entry, error) {
		if shortfall := spent - units.NonNegative(a.FreeAllowanceTotal-a.FreeAllowanceUsed); shortfall > 0 &&
			a.PurchasedUsed > MaxBalance-shortfall {
			return nil, ErrBalanceLimit
		}
		fromFree, fromPurchased := drawDown(a, spent)
		res.FromFree, res.FromPurchased = fromFree, fromPurchased
		return &Entry{
			Kind:          KindConsume,
			Tokens:        spent,
			FromFree:      fromFree,
			FromPurchased: fromPurchased,
			Precise:       precise,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	TokensSpent.WithLabelValues("free").Add(float64(res.FromFree))
	TokensSpent.WithLabelValues("purchased").Add(float64(res.FromPurchased))

	res.Account = acct
	res.Summary = Summarize(acct, false)
	res.Overdraft = res.Summary.OverdraftTokens
	if res.Overdraft > 0 && res.FromPurchased > 0 {
		Overdrafts.Inc()
		l.logger.Warn("purchased balance overdrawn",
			"user_id", userID, "spent_tokens", spent, "overdraft_tokens", res.Overdraft)
	}

	l.publish(EventConsumed, acct, entries)
	return res, nil
}

// drawDown applies the free-first rule and returns how much came from each balance.
func drawDown(a *Account, spent int64) (fromFree, fromPurchased int64) {
	freeRemaining := units.NonNegative(a.FreeAllowanceTotal - a.FreeAllowanceUsed)
	if freeRemaining >= spent {
		a.FreeAllowanceUsed += spent
		return spent, 0
	}
	shortfall := spent - freeRemaining
	a.FreeAllowanceUsed = a.FreeAllowanceTotal
	a.PurchasedUsed += shortfall
	return freeRemaining, shortfall
}

// AddPurchasedTokens increases the durable purchased balance.
func (l *Ledger) AddPurchasedTokens(ctx context.Context, userID string, amount int64) (*Account, error) {
	defer observeOp("top_up")()
	return l.topUp(ctx, userID, amount)
}

// AddPurchasedCredits tops up by whole credits (1 credit = 1000 tokens).
func (l *Ledger) AddPurchasedCredits(ctx context.Context, userID string, credits int64) (*Account, error) {
	defer observeOp("top_up_credits")()
	if credits <= 0 {
		return nil, ErrInvalidAmount
	}
	if credits > MaxAmount/units.TokensPerCredit {
		return nil, ErrAmountTooLarge
	}
	return l.topUp(ctx, userID, units.CreditsToTokens(credits))
}

func (l *Ledger) topUp(ctx context.Context, userID string, tokens int64) (*Account, error) {
	userID, err := normalizeUser(userID)
	if err != nil {
		return nil, err
	}
	if err := validateAmount(tokens); err != nil {
		return nil, err
	}
	ctx, span := traces.StartSpan(ctx, "usage.AddPurchased", traces.UserID(userID), traces.Tokens(tokens))
	defer span.End()

	acct, entries, err := l.mutate(ctx, userID, func(a *Account, _ time.Time) (*Entry, error) {
		if a.PurchasedTotal > MaxBalance-tokens {
			return nil, ErrBalanceLimit
		}
		a.PurchasedTotal += tokens
		return &Entry{Kind: KindTopUp, Tokens: tokens}, nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("purchased tokens added", "user_id", userID, "tokens", tokens, "purchased_total", acct.PurchasedTotal)
	l.publish(EventToppedUp, acct, entries)
	return acct, nil
}

// ResetMonthly zeroes freeAllowanceUsed and stamps the current period even if
// the account was already current.
func (l *Ledger) ResetMonthly(ctx context.Context, userID string) (*Account, error) {
	defer observeOp("reset")()
	userID, err := normalizeUser(userID)
	if err != nil {
		return nil, err
	}
	ctx, span := traces.StartSpan(ctx, "usage.ResetMonthly", traces.UserID(userID))
	defer span.End()

	acct, entries, err := l.mutate(ctx, userID, func(a *Account, now time.Time) (*Entry, error) {
		e := resetEntry(a)
		a.FreeAllowanceUsed = 0
		a.LastResetPeriod = units.PeriodOf(now, l.loc)
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	MonthlyResets.WithLabelValues("manual").Inc()
	l.logger.Info("free allowance reset", "user_id", userID, "trigger", "manual", "period", acct.LastResetPeriod)
	l.publish(EventReset, acct, entries)
	return acct, nil
}

// DeleteAccount hard-deletes the user's ledger record. The next access
// recreates it with the default allowance.
func (l *Ledger) DeleteAccount(ctx context.Context, userID string) error {
	defer observeOp("delete")()
	userID, err := normalizeUser(userID)
	if err != nil {
		return err
	}
	unlock, err := l.locks.LockContext(ctx, userID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := l.store.Delete(ctx, userID); err != nil {
		return err
	}
	l.logger.Info("usage account deleted", "user_id", userID)
	return nil
}

// History returns the user's most recent entries, newest first.
func (l *Ledger) History(ctx context.Context, userID string, limit int) ([]*Entry, error) {
	defer observeOp("history")()
	userID, err := normalizeUser(userID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}
	return l.store.ListEntries(ctx, userID, limit)
}

// change applies one operation to an account that is already current.
type change func(a *Account, now time.Time) (*Entry, error)

// mutate serializes same-user writes, performs the lazy reset and then
// applies fn (which may be nil for a reset-only pass). It returns the stored
// account and every entry written.
func (l *Ledger) mutate(ctx context.Context, userID string, fn change) (*Account, []*Entry, error) {
	unlock, err := l.locks.LockContext(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	now := l.now()
	period := units.PeriodOf(now, l.loc)
	fresh := &Account{
		UserID:             userID,
		FreeAllowanceTotal: l.freeAllowance,
		LastResetPeriod:    period,
		CreatedAt:          now,
	}

	var written []*Entry
	lazyReset := false
	acct, err := l.store.Update(ctx, userID, fresh, func(a *Account) ([]*Entry, error) {
		written = written[:0]
		lazyReset = false
		if a.LastResetPeriod.Before(period) {
			e := resetEntry(a)
			e.Period = period
			a.FreeAllowanceUsed = 0
			a.LastResetPeriod = period
			written = append(written, e)
			lazyReset = true
		}
		if fn != nil {
			e, err := fn(a, now)
			if err != nil {
				return nil, err
			}
			if e != nil {
				written = append(written, e)
			}
		}
		a.UpdatedAt = now
		for _, e := range written {
			e.ID = idgen.WithPrefix("ue_")
			e.UserID = userID
			e.CreatedAt = now
			if e.Period == "" {
				e.Period = a.LastResetPeriod
			}
		}
		return written, nil
	})
	if err != nil {
		traces.Fail(ctx, err)
		return nil, nil, fmt.Errorf("failed to update usage account: %w", err)
	}

	if lazyReset {
		MonthlyResets.WithLabelValues("lazy").Inc()
		l.logger.Info("free allowance reset", "user_id", userID, "trigger", "lazy", "period", period)
		if fn == nil {
			l.publish(EventReset, acct, written)
		}
	}
	return acct, written, nil
}

// resetEntry records the free tokens forfeited by a reset.
func resetEntry(a *Account) *Entry {
	return &Entry{Kind: KindReset, Tokens: a.FreeAllowanceUsed, FromFree: a.FreeAllowanceUsed}
}

func (l *Ledger) publish(kind string, acct *Account, entries []*Entry) {
	if l.events == nil || acct == nil {
		return
	}
	l.events.PublishUsage(Event{
		Type:    kind,
		UserID:  acct.UserID,
		Account: acct.clone(),
		Summary: Summarize(acct, false),
		Entries: entries,
	})
}

func normalizeUser(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", ErrMissingUser
	}
	return userID, nil
}

func validateAmount(tokens int64) error {
	if tokens <= 0 {
		return ErrInvalidAmount
	}
	if tokens > MaxAmount {
		return ErrAmountTooLarge
	}
	return nil
}
