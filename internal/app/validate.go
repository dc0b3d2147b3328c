package app

import (
	"fmt"
	"strings"

	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/ports"
)

// takeProfitLegs is the number of take-profit targets an entry signal carries.
const takeProfitLegs = 3

// ValidateSignal checks a signal before any user or venue is touched.
// It performs no I/O.
func ValidateSignal(sig domain.Signal) error {
	switch sig.Action {
	case domain.ActionBuy, domain.ActionSell, domain.ActionMoveSL:
	default:
		return fmt.Errorf("%w: unknown action %q", ports.ErrInvalidSignal, sig.Action)
	}
	if strings.TrimSpace(sig.Symbol) == "" {
		return fmt.Errorf("%w: symbol is required", ports.ErrInvalidSignal)
	}
	if !sig.IsEntry() {
		return nil
	}

	if !sig.Price.IsPositive() {
		return fmt.Errorf("%w: price must be positive", ports.ErrInvalidSignal)
	}
	if !sig.StopLoss.IsPositive() {
		return fmt.Errorf("%w: stop_loss must be positive", ports.ErrInvalidSignal)
	}
	if len(sig.TakeProfits) != takeProfitLegs {
		return fmt.Errorf("%w: expected %d take profits, got %d", ports.ErrInvalidSignal, takeProfitLegs, len(sig.TakeProfits))
	}
	for i := 0; i < takeProfitLegs; i++ {
		if !sig.TakeProfit(i).IsPositive() {
			return fmt.Errorf("%w: take_profit_%d must be positive", ports.ErrInvalidSignal, i+1)
		}
	}
	return nil
}
