package ports

import (
	"context"

	"github.com/shopspring/decimal"

	"cryptoSignalBot/internal/domain"
)

// TradeLedger defines the interface for persisting trade lifecycle rows.
// It is the only writer of trades.
type TradeLedger interface {
	// Open inserts a new active trade and returns its generated ID.
	// Returns ErrDuplicateEntry if an active trade already exists for (UserID, Symbol).
	Open(ctx context.Context, trade *domain.Trade) (string, error)
	// AttachBracketIDs records the protective order IDs of a trade.
	AttachBracketIDs(ctx context.Context, tradeID, slID, tp1ID, tp2ID, tp3ID string) error
	// CloseTrade marks a trade closed. Closed rows are never deleted.
	CloseTrade(ctx context.Context, tradeID string) error
	// SetBreakeven records a stop-loss moved to entry. Only open trades are
	// updated; any other status returns ErrNotFound.
	SetBreakeven(ctx context.Context, tradeID string, newStopLoss decimal.Decimal, newSLOrderID string) error
	// FindOpen returns the active (open or breakeven) trades of a user on symbol.
	FindOpen(ctx context.Context, userID int64, symbol string) ([]*domain.Trade, error)
	// FindByID returns a trade or ErrNotFound.
	FindByID(ctx context.Context, tradeID string) (*domain.Trade, error)
	// ListTrades returns trades matching filter, newest first.
	ListTrades(ctx context.Context, filter domain.TradeFilter) ([]*domain.Trade, error)
}

// UserDirectory is the read-only view of subscribed accounts.
type UserDirectory interface {
	// ListEligibleUsers returns accounts with a live subscription and stored credentials.
	ListEligibleUsers(ctx context.Context) ([]domain.Account, error)
	// GetAccount returns one account or ErrNotFound.
	GetAccount(ctx context.Context, userID int64) (domain.Account, error)
}

// UserStore is the write side of the directory used by operator tooling.
type UserStore interface {
	UserDirectory
	// UpsertAccount creates or replaces an account row.
	UpsertAccount(ctx context.Context, acct domain.Account) error
}

// SecretCipher seals account credentials before they reach storage.
type SecretCipher interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}
