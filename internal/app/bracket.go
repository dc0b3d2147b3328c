package app

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/ports"
	"cryptoSignalBot/internal/risk"
)

const unwindTimeout = 15 * time.Second

// BracketOrder describes an entry and its protective legs for one user.
type BracketOrder struct {
	Symbol      string // Venue-normalized
	Side        domain.OrderSide
	Quantity    decimal.Decimal
	Price       decimal.Decimal // Price the quantity was sized at
	StopLoss    decimal.Decimal
	TakeProfits []decimal.Decimal
	Info        domain.SymbolInfo
}

// BracketConfig holds pacing for bracket placement.
type BracketConfig struct {
	LegDelay    time.Duration // Pause between leg placements
	EntrySettle time.Duration // Pause after the entry fills, before legs are sized
}

// BracketPlacer places an entry, records it, and attaches SL and TP legs.
type BracketPlacer struct {
	cfg    BracketConfig
	ledger ports.TradeLedger
	logger ports.Logger
	sleep  func(ctx context.Context, d time.Duration)
}

// NewBracketPlacer creates a bracket placer.
func NewBracketPlacer(cfg BracketConfig, ledger ports.TradeLedger, logger ports.Logger) *BracketPlacer {
	return &BracketPlacer{cfg: cfg, ledger: ledger, logger: logger, sleep: sleepCtx}
}

// Place runs the bracket sequence: entry, ledger row, SL, TP1..TP3.
// An entry rejection returns ErrEntryOrderFailed and leaves no state behind.
// Leg failures are reported per leg and never fail the call.
func (b *BracketPlacer) Place(ctx context.Context, acct domain.Account, adapter ports.ExchangeAdapter, order BracketOrder) (*Placement, error) {
	op := "Place"
	posSide := domain.PositionSideFor(order.Side)
	fields := map[string]interface{}{
		"userID": acct.UserID, "exchange": acct.Exchange, "symbol": order.Symbol,
		"side": order.Side, "quantity": order.Quantity.String(),
	}

	b.logger.Info(ctx, op+": Placing entry market order", fields)
	entryID, err := adapter.PlaceMarketOrder(ctx, acct, order.Symbol, order.Side, posSide, order.Quantity)
	if err != nil {
		b.logger.Error(ctx, err, op+": Failed to place entry market order", fields)
		return nil, fmt.Errorf("%s failed: %w: %w", op, ports.ErrEntryOrderFailed, err)
	}

	tps := sortTakeProfits(order.Side, order.TakeProfits)
	if len(tps) > takeProfitLegs {
		tps = tps[:takeProfitLegs]
	}
	trade := &domain.Trade{
		UserID:       acct.UserID,
		Exchange:     acct.Exchange,
		Symbol:       order.Symbol,
		Side:         order.Side,
		PositionSide: posSide,
		Quantity:     order.Quantity,
		EntryPrice:   order.Price,
		StopLoss:     order.StopLoss,
		TakeProfit1:  takeProfitAt(tps, 0),
		TakeProfit2:  takeProfitAt(tps, 1),
		TakeProfit3:  takeProfitAt(tps, 2),
		OrderID:      entryID,
		Status:       domain.StatusOpen,
	}
	tradeID, err := b.ledger.Open(ctx, trade)
	if err != nil {
		b.logger.Error(ctx, err, op+": Failed to record trade, unwinding entry", fields)
		b.unwind(ctx, acct, adapter, order.Symbol, order.Side, order.Quantity)
		return nil, fmt.Errorf("%s failed to record trade: %w", op, err)
	}
	fields["tradeID"] = tradeID
	b.logger.Info(ctx, op+": Entry filled and recorded", fields)

	placement := &Placement{TradeID: tradeID, EntryOrderID: entryID, Quantity: order.Quantity, TakeProfits: tps}

	b.sleep(ctx, b.cfg.EntrySettle)
	current, err := adapter.GetPrice(ctx, acct, order.Symbol)
	if err != nil || !current.IsPositive() {
		b.logger.Warn(ctx, op+": Price refresh failed, filtering take profits at sizing price", fields)
		current = order.Price
	}

	exitSide := order.Side.Opposite()
	placement.Legs[0] = LegResult{Leg: "SL", Price: order.StopLoss, Quantity: order.Quantity}
	b.placeLeg(ctx, acct, adapter, order.Symbol, exitSide, posSide, domain.StopLossKind, &placement.Legs[0])

	// Unprofitable targets are skipped; the quantity is split across the rest.
	survivors := make([]int, 0, len(tps))
	for i, tp := range tps {
		leg := &placement.Legs[i+1]
		*leg = LegResult{Leg: fmt.Sprintf("TP%d", i+1), Price: tp}
		if !isProfitable(order.Side, tp, current) {
			leg.Status = LegSkipped
			leg.Error = fmt.Sprintf("take profit %s is not beyond current price %s", tp.String(), current.String())
			b.logger.Warn(ctx, op+": Skipping take profit", map[string]interface{}{
				"userID": acct.UserID, "tradeID": tradeID, "leg": leg.Leg, "price": tp.String(), "current": current.String(),
			})
			continue
		}
		survivors = append(survivors, i)
	}
	parts := risk.SplitQuantity(order.Quantity, order.Info.QtyStep, len(survivors))
	for j, i := range survivors {
		leg := &placement.Legs[i+1]
		leg.Quantity = parts[j]
		if !leg.Quantity.IsPositive() {
			leg.Status = LegSkipped
			leg.Error = "quantity below one lot step"
			continue
		}
		b.sleep(ctx, b.cfg.LegDelay)
		b.placeLeg(ctx, acct, adapter, order.Symbol, exitSide, posSide, domain.TakeProfitKind, leg)
	}
	for i := len(tps) + 1; i < len(placement.Legs); i++ {
		placement.Legs[i] = LegResult{Leg: fmt.Sprintf("TP%d", i), Status: LegSkipped, Error: "no take profit"}
	}

	l := placement.Legs
	if err := b.ledger.AttachBracketIDs(ctx, tradeID, l[0].OrderID, l[1].OrderID, l[2].OrderID, l[3].OrderID); err != nil {
		b.logger.Error(ctx, err, op+": Failed to attach bracket order IDs", fields)
		placement.Warning = fmt.Sprintf("bracket order ids not recorded: %v", err)
	}
	fields["legsPlaced"] = placement.PlacedLegs()
	b.logger.Info(ctx, op+": Bracket placement finished", fields)
	return placement, nil
}

func (b *BracketPlacer) placeLeg(ctx context.Context, acct domain.Account, adapter ports.ExchangeAdapter, symbol string, side domain.OrderSide, posSide domain.PositionSide, kind domain.StopKind, leg *LegResult) {
	id, err := adapter.PlaceStopOrder(ctx, acct, symbol, side, posSide, leg.Quantity, leg.Price, kind)
	if err != nil {
		leg.Status = LegFailed
		leg.Err = fmt.Errorf("%w: %s: %w", ports.ErrBracketLegFailed, leg.Leg, err)
		leg.Error = leg.Err.Error()
		b.logger.Error(ctx, err, "placeLeg: Failed to place bracket leg", map[string]interface{}{
			"userID": acct.UserID, "symbol": symbol, "leg": leg.Leg, "price": leg.Price.String(), "quantity": leg.Quantity.String(),
		})
		return
	}
	leg.OrderID = id
	leg.Status = LegPlaced
	b.logger.Info(ctx, "placeLeg: Bracket leg placed", map[string]interface{}{
		"userID": acct.UserID, "symbol": symbol, "leg": leg.Leg, "orderID": id, "price": leg.Price.String(),
	})
}

// unwind offsets a fresh entry that could not be recorded.
func (b *BracketPlacer) unwind(ctx context.Context, acct domain.Account, adapter ports.ExchangeAdapter, symbol string, side domain.OrderSide, qty decimal.Decimal) {
	op := "unwind"
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), unwindTimeout)
	defer cancel()

	fields := map[string]interface{}{"userID": acct.UserID, "symbol": symbol, "side": side.Opposite(), "quantity": qty.String()}
	b.logger.Warn(ctx, op+": Placing emergency closing order", fields)
	if _, err := adapter.PlaceMarketOrder(ctx, acct, symbol, side.Opposite(), domain.PositionSideFor(side), qty); err != nil {
		b.logger.Error(ctx, err, op+": FAILED TO PLACE EMERGENCY CLOSE ORDER", fields)
		return
	}
	b.logger.Info(ctx, op+": Emergency close order placed", fields)
}

// sortTakeProfits orders targets nearest-first: ascending for BUY, descending for SELL.
func sortTakeProfits(side domain.OrderSide, tps []decimal.Decimal) []decimal.Decimal {
	out := append([]decimal.Decimal(nil), tps...)
	sort.SliceStable(out, func(i, j int) bool {
		if side == domain.Sell {
			return out[i].GreaterThan(out[j])
		}
		return out[i].LessThan(out[j])
	})
	return out
}

func isProfitable(side domain.OrderSide, tp, current decimal.Decimal) bool {
	if side == domain.Sell {
		return tp.LessThan(current)
	}
	return tp.GreaterThan(current)
}

func takeProfitAt(tps []decimal.Decimal, i int) decimal.Decimal {
	if i < len(tps) {
		return tps[i]
	}
	return decimal.Zero
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
