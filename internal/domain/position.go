package domain

import "github.com/shopspring/decimal"

// Position is an open exposure as reported by the venue.
type Position struct {
	Symbol       string
	PositionSide PositionSide
	Quantity     decimal.Decimal // Absolute size in venue units
	EntryPrice   decimal.Decimal // Average entry price
}

// IsOpen reports whether the venue still holds size on the position.
func (p Position) IsOpen() bool {
	return p.Quantity.IsPositive()
}

// FindPosition returns the open position for side, if any.
func FindPosition(positions []Position, side PositionSide) (Position, bool) {
	for _, p := range positions {
		if p.PositionSide == side && p.IsOpen() {
			return p, true
		}
	}
	return Position{}, false
}
