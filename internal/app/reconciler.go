package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/ports"
)

// Reconciler closes opposite-direction exposure before a new entry.
type Reconciler struct {
	ledger    ports.TradeLedger
	publisher ports.EventPublisher
	logger    ports.Logger
}

// NewReconciler creates a reconciler. publisher may be nil.
func NewReconciler(ledger ports.TradeLedger, publisher ports.EventPublisher, logger ports.Logger) *Reconciler {
	if publisher == nil {
		publisher = discardPublisher{}
	}
	return &Reconciler{ledger: ledger, publisher: publisher, logger: logger}
}

// Reconcile closes every active trade of acct on symbol whose side differs
// from incomingSide and returns how many were closed. Any trade that cannot
// be confirmed flat fails the call with ErrReconciliationIncomplete.
func (r *Reconciler) Reconcile(ctx context.Context, acct domain.Account, adapter ports.ExchangeAdapter, symbol string, incomingSide domain.OrderSide) (int, error) {
	op := "Reconcile"
	trades, err := r.ledger.FindOpen(ctx, acct.UserID, symbol)
	if err != nil {
		return 0, fmt.Errorf("%s failed: %w: %w", op, ports.ErrReconciliationIncomplete, err)
	}

	closed := 0
	for _, trade := range trades {
		if trade.Side == incomingSide {
			continue
		}
		fields := map[string]interface{}{
			"userID": acct.UserID, "symbol": symbol, "tradeID": trade.ID, "side": trade.Side,
		}
		r.logger.Info(ctx, op+": Closing opposite trade", fields)

		r.cancelAll(ctx, acct, adapter, trade)

		if err := adapter.ClosePosition(ctx, acct, symbol, trade.PositionSide); err != nil {
			r.logger.Warn(ctx, op+": Close position failed, confirming exposure with venue", map[string]interface{}{
				"userID": acct.UserID, "tradeID": trade.ID, "error": err.Error(),
			})
			if confirmErr := r.confirmFlat(ctx, acct, adapter, symbol, trade.PositionSide); confirmErr != nil {
				return closed, fmt.Errorf("%s failed for trade %s: %w", op, trade.ID, confirmErr)
			}
		}

		if err := r.ledger.CloseTrade(ctx, trade.ID); err != nil {
			return closed, fmt.Errorf("%s failed to close trade %s: %w: %w", op, trade.ID, ports.ErrReconciliationIncomplete, err)
		}
		closed++
		r.logger.Info(ctx, op+": Opposite trade closed", fields)

		r.publisher.Publish(domain.Notification{
			UserID:   acct.UserID,
			ChatID:   acct.NotifyChatID(),
			Exchange: acct.Exchange,
			Action:   domain.CloseAction(trade.PositionSide),
			Symbol:   symbol,
			Price:    trade.EntryPrice,
			StopLoss: trade.StopLoss,
			TradeID:  trade.ID,
			At:       time.Now().UTC(),
		})
	}
	return closed, nil
}

// cancelAll cancels every order of the trade. Orders already gone count as
// cancelled; other failures are logged because the position close that follows
// removes reduce-only legs on every supported venue.
func (r *Reconciler) cancelAll(ctx context.Context, acct domain.Account, adapter ports.ExchangeAdapter, trade *domain.Trade) {
	for _, id := range trade.OrderIDs() {
		_ = cancelOrderWarn(ctx, r.logger, acct, adapter, trade.Symbol, id)
	}
}

// confirmFlat asks the venue whether posSide still holds size.
func (r *Reconciler) confirmFlat(ctx context.Context, acct domain.Account, adapter ports.ExchangeAdapter, symbol string, posSide domain.PositionSide) error {
	positions, err := adapter.GetOpenPositions(ctx, acct, symbol)
	if err != nil {
		return fmt.Errorf("%w: position lookup failed: %w", ports.ErrReconciliationIncomplete, err)
	}
	if p, ok := domain.FindPosition(positions, posSide); ok {
		return fmt.Errorf("%w: %s %s still holds %s", ports.ErrReconciliationIncomplete, symbol, posSide, p.Quantity.String())
	}
	return nil
}

// cancelOrderWarn cancels an order, treating ErrOrderNotFound as success.
func cancelOrderWarn(ctx context.Context, logger ports.Logger, acct domain.Account, adapter ports.ExchangeAdapter, symbol, orderID string) error {
	op := "cancelOrderWarn"
	err := adapter.CancelOrder(ctx, acct, symbol, orderID)
	switch {
	case err == nil:
		logger.Debug(ctx, op+": Order cancelled", map[string]interface{}{"userID": acct.UserID, "orderID": orderID})
		return nil
	case errors.Is(err, ports.ErrOrderNotFound):
		logger.Debug(ctx, op+": Order not found, likely already filled or cancelled", map[string]interface{}{"userID": acct.UserID, "orderID": orderID})
		return nil
	default:
		logger.Warn(ctx, op+": Failed to cancel order", map[string]interface{}{"userID": acct.UserID, "orderID": orderID, "error": err.Error()})
		return err
	}
}

type discardPublisher struct{}

func (discardPublisher) Publish(domain.Notification) {}
