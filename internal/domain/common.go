package domain

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// Opposite returns the side that offsets this one.
func (s OrderSide) Opposite() OrderSide {
	if s == Buy {
		return Sell
	}
	return Buy
}

// PositionSide is the hedge-mode leg a position or order belongs to.
type PositionSide string

const (
	Long  PositionSide = "LONG"
	Short PositionSide = "SHORT"
)

// PositionSideFor maps an entry side to the position side it opens.
func PositionSideFor(side OrderSide) PositionSide {
	if side == Buy {
		return Long
	}
	return Short
}

// EntrySide returns the order side that opens this position side.
func (p PositionSide) EntrySide() OrderSide {
	if p == Long {
		return Buy
	}
	return Sell
}

// ExitSide returns the order side that reduces this position side.
func (p PositionSide) ExitSide() OrderSide {
	return p.EntrySide().Opposite()
}

// TradeStatus represents the lifecycle state of a persisted trade.
type TradeStatus string

const (
	StatusOpen      TradeStatus = "open"
	StatusBreakeven TradeStatus = "breakeven"
	StatusClosed    TradeStatus = "closed"
)

// IsActive reports whether the status still represents live exposure.
func (s TradeStatus) IsActive() bool {
	return s == StatusOpen || s == StatusBreakeven
}

// StopKind distinguishes protective stop-loss legs from take-profit legs.
type StopKind string

const (
	StopLossKind   StopKind = "SL"
	TakeProfitKind StopKind = "TP"
)

// OrderStatus is the venue-agnostic state of an order.
type OrderStatus string

const (
	OrderNew             OrderStatus = "NEW"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderFilled          OrderStatus = "FILLED"
	OrderCanceled        OrderStatus = "CANCELED"
	OrderTriggered       OrderStatus = "TRIGGERED"
	OrderUnknown         OrderStatus = "UNKNOWN"
)

// IsTerminal reports whether the order can no longer change.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderFilled || s == OrderCanceled
}
