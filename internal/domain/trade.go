package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is the ledger row for one opened position.
type Trade struct {
	ID           string          // Generated on insert
	UserID       int64           // Owner of the position
	Exchange     Exchange        // Venue the position lives on
	Symbol       string          // Venue-normalized symbol
	Side         OrderSide       // Entry side
	PositionSide PositionSide    // Hedge-mode leg
	Quantity     decimal.Decimal // Entry quantity in venue units (coins or contracts)
	EntryPrice   decimal.Decimal // Price used for sizing
	StopLoss     decimal.Decimal
	TakeProfit1  decimal.Decimal
	TakeProfit2  decimal.Decimal
	TakeProfit3  decimal.Decimal

	// Venue order IDs. Empty when the leg was not placed.
	OrderID    string
	SLOrderID  string
	TP1OrderID string
	TP2OrderID string
	TP3OrderID string

	Status    TradeStatus
	CreatedAt time.Time
	UpdatedAt time.Time
	ClosedAt  time.Time // Zero while active
}

// IsActive reports whether the trade still represents live exposure.
func (t *Trade) IsActive() bool {
	return t.Status.IsActive()
}

// OrderIDs returns all non-empty venue order IDs attached to the trade.
func (t *Trade) OrderIDs() []string {
	ids := make([]string, 0, 5)
	for _, id := range []string{t.OrderID, t.SLOrderID, t.TP1OrderID, t.TP2OrderID, t.TP3OrderID} {
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// TradeFilter narrows ledger listings. Zero values match everything.
type TradeFilter struct {
	UserID int64
	Symbol string
	Status TradeStatus
	Limit  int
}
