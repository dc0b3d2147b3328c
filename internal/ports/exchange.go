package ports

import (
	"context"

	"github.com/shopspring/decimal"

	"cryptoSignalBot/internal/domain"
)

// ExchangeAdapter defines the uniform surface the engine uses to trade on one venue.
// Implementations own request signing, rate limiting and the translation of venue
// error codes into the sentinel errors of this package. Every call is a blocking
// network operation and must honour ctx.
type ExchangeAdapter interface {
	// Exchange identifies the venue.
	Exchange() domain.Exchange

	// GetBalance returns the available USDT margin of the account.
	GetBalance(ctx context.Context, acct domain.Account) (decimal.Decimal, error)

	// GetPrice returns the last traded price of symbol.
	GetPrice(ctx context.Context, acct domain.Account, symbol string) (decimal.Decimal, error)

	// GetSymbolInfo returns current lot constraints for symbol.
	GetSymbolInfo(ctx context.Context, acct domain.Account, symbol string) (domain.SymbolInfo, error)

	// SetLeverage sets leverage for the given position side. Callers treat errors as warnings.
	SetLeverage(ctx context.Context, acct domain.Account, symbol string, leverage int, side domain.PositionSide) error

	// PlaceMarketOrder places a market order and returns the venue order ID.
	PlaceMarketOrder(ctx context.Context, acct domain.Account, symbol string, side domain.OrderSide, posSide domain.PositionSide, qty decimal.Decimal) (string, error)

	// PlaceStopOrder places a trigger order that exits qty at market once trigger is crossed.
	PlaceStopOrder(ctx context.Context, acct domain.Account, symbol string, side domain.OrderSide, posSide domain.PositionSide, qty, trigger decimal.Decimal, kind domain.StopKind) (string, error)

	// CancelOrder cancels an order. Returns ErrOrderNotFound when the order does not
	// exist or already reached a terminal state.
	CancelOrder(ctx context.Context, acct domain.Account, symbol, orderID string) error

	// GetOrderStatus returns the venue state of an order.
	GetOrderStatus(ctx context.Context, acct domain.Account, symbol, orderID string) (domain.OrderStatus, error)

	// GetOpenPositions lists positions with non-zero size for symbol.
	GetOpenPositions(ctx context.Context, acct domain.Account, symbol string) ([]domain.Position, error)

	// ClosePosition flattens the position side at market. A missing position is not an error.
	ClosePosition(ctx context.Context, acct domain.Account, symbol string, posSide domain.PositionSide) error
}

// ExchangeRegistry resolves the adapter bound to a venue.
type ExchangeRegistry interface {
	// Adapter returns ErrUnsupportedExchange for venues without an adapter.
	Adapter(ex domain.Exchange) (ExchangeAdapter, error)
}
