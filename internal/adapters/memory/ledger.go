// Package memory provides process-local implementations of the storage ports.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/ports"
)

// Ledger is an in-memory ports.TradeLedger.
type Ledger struct {
	mu     sync.Mutex
	trades map[string]*domain.Trade
	order  []string
	now    func() time.Time
}

var _ ports.TradeLedger = (*Ledger)(nil)

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{trades: make(map[string]*domain.Trade), now: func() time.Time { return time.Now().UTC() }}
}

// Open inserts a new active trade. The active check and the insert happen under one lock.
func (l *Ledger) Open(ctx context.Context, trade *domain.Trade) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, t := range l.trades {
		if t.UserID == trade.UserID && t.Symbol == trade.Symbol && t.IsActive() {
			return "", fmt.Errorf("Open failed: active trade exists for user %d on %s: %w", trade.UserID, trade.Symbol, ports.ErrDuplicateEntry)
		}
	}
	now := l.now()
	row := *trade
	row.ID = uuid.NewString()
	if row.Status == "" {
		row.Status = domain.StatusOpen
	}
	row.CreatedAt, row.UpdatedAt = now, now
	l.trades[row.ID] = &row
	l.order = append(l.order, row.ID)

	trade.ID, trade.Status, trade.CreatedAt, trade.UpdatedAt = row.ID, row.Status, now, now
	return row.ID, nil
}

// AttachBracketIDs records the protective order IDs of a trade.
func (l *Ledger) AttachBracketIDs(ctx context.Context, tradeID, slID, tp1ID, tp2ID, tp3ID string) error {
	return l.mutate("AttachBracketIDs", tradeID, func(t *domain.Trade) bool {
		t.SLOrderID, t.TP1OrderID, t.TP2OrderID, t.TP3OrderID = slID, tp1ID, tp2ID, tp3ID
		return true
	})
}

// CloseTrade marks a trade closed.
func (l *Ledger) CloseTrade(ctx context.Context, tradeID string) error {
	return l.mutate("CloseTrade", tradeID, func(t *domain.Trade) bool {
		t.Status = domain.StatusClosed
		t.ClosedAt = l.now()
		return true
	})
}

// SetBreakeven records a stop-loss moved to entry on an open trade.
func (l *Ledger) SetBreakeven(ctx context.Context, tradeID string, newStopLoss decimal.Decimal, newSLOrderID string) error {
	return l.mutate("SetBreakeven", tradeID, func(t *domain.Trade) bool {
		if t.Status != domain.StatusOpen {
			return false
		}
		t.StopLoss = newStopLoss
		t.SLOrderID = newSLOrderID
		t.Status = domain.StatusBreakeven
		return true
	})
}

func (l *Ledger) mutate(op, tradeID string, fn func(t *domain.Trade) bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.trades[tradeID]
	if !ok || !fn(t) {
		return fmt.Errorf("%s: trade %s not found: %w", op, tradeID, ports.ErrNotFound)
	}
	t.UpdatedAt = l.now()
	return nil
}

// FindOpen returns copies of the active trades of a user on symbol.
func (l *Ledger) FindOpen(ctx context.Context, userID int64, symbol string) ([]*domain.Trade, error) {
	return l.ListTrades(ctx, domain.TradeFilter{UserID: userID, Symbol: symbol, Status: activeFilter})
}

// activeFilter is an internal status that matches open and breakeven rows.
const activeFilter domain.TradeStatus = "active"

// FindByID returns a copy of a trade or ErrNotFound.
func (l *Ledger) FindByID(ctx context.Context, tradeID string) (*domain.Trade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.trades[tradeID]
	if !ok {
		return nil, fmt.Errorf("trade %s: %w", tradeID, ports.ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

// ListTrades returns copies of trades matching filter, newest first.
func (l *Ledger) ListTrades(ctx context.Context, filter domain.TradeFilter) ([]*domain.Trade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*domain.Trade, 0)
	for i := len(l.order) - 1; i >= 0; i-- {
		t := l.trades[l.order[i]]
		if filter.UserID != 0 && t.UserID != filter.UserID {
			continue
		}
		if filter.Symbol != "" && t.Symbol != filter.Symbol {
			continue
		}
		switch {
		case filter.Status == activeFilter:
			if !t.IsActive() {
				continue
			}
		case filter.Status != "" && t.Status != filter.Status:
			continue
		}
		cp := *t
		out = append(out, &cp)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// Directory is an in-memory ports.UserStore.
type Directory struct {
	mu       sync.RWMutex
	accounts map[int64]domain.Account
	now      func() time.Time
}

var _ ports.UserStore = (*Directory)(nil)

// NewDirectory returns a directory seeded with accounts.
func NewDirectory(accounts ...domain.Account) *Directory {
	d := &Directory{accounts: make(map[int64]domain.Account), now: time.Now}
	for _, a := range accounts {
		d.accounts[a.UserID] = a
	}
	return d
}

// ListEligibleUsers returns eligible accounts ordered by user id.
func (d *Directory) ListEligibleUsers(ctx context.Context) ([]domain.Account, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	now := d.now()
	out := make([]domain.Account, 0, len(d.accounts))
	for _, a := range d.accounts {
		if a.Eligible(now) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// GetAccount returns one account or ErrNotFound.
func (d *Directory) GetAccount(ctx context.Context, userID int64) (domain.Account, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.accounts[userID]
	if !ok {
		return domain.Account{}, fmt.Errorf("user %d: %w", userID, ports.ErrNotFound)
	}
	return a, nil
}

// UpsertAccount creates or replaces an account.
func (d *Directory) UpsertAccount(ctx context.Context, acct domain.Account) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if acct.Exchange == "" {
		acct.Exchange = domain.BingX
	}
	d.accounts[acct.UserID] = acct
	return nil
}
