package domain

import "github.com/shopspring/decimal"

// SymbolInfo holds lot and price constraints fetched from the venue per call.
type SymbolInfo struct {
	Symbol        string
	MinQty        decimal.Decimal
	QtyStep       decimal.Decimal
	ContractValue decimal.Decimal // Base units per contract; 1 for coin-quantity venues
	PriceTick     decimal.Decimal // Smallest price increment; zero when the venue does not report one
	MaxLeverage   int
}
