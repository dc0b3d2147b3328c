package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/ports"
)

// DefaultMarginBuffer is the safety margin added on top of the initial margin.
var DefaultMarginBuffer = decimal.RequireFromString("0.001")

// SizerConfig holds configuration for position sizing.
type SizerConfig struct {
	MarginBuffer decimal.Decimal // Fraction added to required margin (0.001 = 0.1%)
}

// Sizer converts account balance and risk parameters into a tradable quantity.
// It holds no state beyond its configuration.
type Sizer struct {
	config SizerConfig
}

// NewSizer creates a new sizer instance.
func NewSizer(config SizerConfig) *Sizer {
	if config.MarginBuffer.IsNegative() || config.MarginBuffer.IsZero() {
		config.MarginBuffer = DefaultMarginBuffer
	}
	return &Sizer{config: config}
}

// Size computes the order quantity for a risk fraction of balance at leverage.
// The result is a multiple of info.QtyStep and at least info.MinQty.
func (s *Sizer) Size(balance decimal.Decimal, info domain.SymbolInfo, price decimal.Decimal, leverage int, riskPercent decimal.Decimal) (decimal.Decimal, error) {
	if !balance.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: available %s USDT", ports.ErrInsufficientBalance, balance.String())
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: price must be positive, got %s", ports.ErrInvalidRequest, price.String())
	}
	if leverage < 1 {
		return decimal.Zero, fmt.Errorf("%w: leverage must be at least 1, got %d", ports.ErrInvalidRequest, leverage)
	}
	if !riskPercent.IsPositive() || riskPercent.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("%w: risk percent must be in (0, 1], got %s", ports.ErrInvalidRequest, riskPercent.String())
	}
	if !info.QtyStep.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: qty step must be positive for %s", ports.ErrInvalidRequest, info.Symbol)
	}

	lev := decimal.NewFromInt(int64(leverage))
	riskAmount := balance.Mul(riskPercent)
	notional := riskAmount.Mul(lev)
	rawQty := notional.Div(price)
	ctVal := contractValue(info)
	if !ctVal.Equal(decimal.NewFromInt(1)) {
		rawQty = rawQty.Div(ctVal)
	}

	qty := RoundToStep(rawQty, info.QtyStep)
	if minQty := CeilToStep(info.MinQty, info.QtyStep); qty.LessThan(minQty) {
		qty = minQty
	}

	// Margin is checked on the final quantity so the minQty clamp is covered too.
	required := RequiredMargin(qty, price, info, leverage).Mul(decimal.NewFromInt(1).Add(s.config.MarginBuffer))
	if required.GreaterThan(balance) {
		return decimal.Zero, &ports.MarginError{Required: required, Available: balance}
	}
	return qty, nil
}

// RequiredMargin returns the initial margin of qty at price and leverage, without buffer.
func RequiredMargin(qty, price decimal.Decimal, info domain.SymbolInfo, leverage int) decimal.Decimal {
	if leverage < 1 {
		leverage = 1
	}
	return qty.Mul(contractValue(info)).Mul(price).Div(decimal.NewFromInt(int64(leverage)))
}

// RoundToStep rounds qty to the nearest multiple of step, halves rounding up.
func RoundToStep(qty, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return qty
	}
	lots := qty.Div(step).Round(0)
	return lots.Mul(step)
}

// FloorToStep truncates qty down to a multiple of step.
func FloorToStep(qty, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return qty
	}
	return qty.Div(step).Floor().Mul(step)
}

// CeilToStep rounds qty up to a multiple of step.
func CeilToStep(qty, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return qty
	}
	return qty.Div(step).Ceil().Mul(step)
}

// SplitQuantity divides qty into n take-profit sizes using whole lots of step.
// Leftover lots go to the earliest legs and any sub-lot residue to the first,
// so the parts always sum to qty exactly. Trailing parts may be zero when qty
// holds fewer than n lots.
func SplitQuantity(qty, step decimal.Decimal, n int) []decimal.Decimal {
	if n <= 0 {
		return nil
	}
	parts := make([]decimal.Decimal, n)
	if !step.IsPositive() || !qty.IsPositive() {
		parts[0] = qty
		for i := 1; i < n; i++ {
			parts[i] = decimal.Zero
		}
		return parts
	}

	totalLots := qty.Div(step).Floor().IntPart()
	base := totalLots / int64(n)
	rem := totalLots % int64(n)
	assigned := decimal.Zero
	for i := 0; i < n; i++ {
		lots := base
		if int64(i) < rem {
			lots++
		}
		parts[i] = decimal.NewFromInt(lots).Mul(step)
		assigned = assigned.Add(parts[i])
	}
	if residue := qty.Sub(assigned); !residue.IsZero() {
		parts[0] = parts[0].Add(residue)
	}
	return parts
}

func contractValue(info domain.SymbolInfo) decimal.Decimal {
	if info.ContractValue.IsPositive() {
		return info.ContractValue
	}
	return decimal.NewFromInt(1)
}
