package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/ports"
	"cryptoSignalBot/internal/risk"
)

// DefaultBreakevenOffset keeps the moved stop 0.1% on the safe side of entry.
var DefaultBreakevenOffset = decimal.RequireFromString("0.001")

const minStopDecimals = 4

// BreakevenPrice returns the stop-loss trigger for a position moved to entry.
// With a positive tick the trigger is rounded away from entry onto the tick
// grid, down for LONG and up for SHORT. Without one it keeps the entry's
// decimals, at least four.
func BreakevenPrice(posSide domain.PositionSide, entry, offset, tick decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	factor := one.Add(offset)
	if posSide == domain.Long {
		factor = one.Sub(offset)
	}
	raw := entry.Mul(factor)
	if tick.IsPositive() {
		if posSide == domain.Long {
			return risk.FloorToStep(raw, tick)
		}
		return risk.CeilToStep(raw, tick)
	}
	places := -entry.Exponent()
	if places < minStopDecimals {
		places = minStopDecimals
	}
	return raw.Round(places)
}

// Breakeven relocates the stop loss of an open trade next to its entry price.
// Moves of the same trade are serialized.
type Breakeven struct {
	offset    decimal.Decimal
	ledger    ports.TradeLedger
	publisher ports.EventPublisher
	logger    ports.Logger

	mu    sync.Mutex
	locks map[string]*tradeLock
}

type tradeLock struct {
	mu   sync.Mutex
	refs int
}

// lock holds the per-trade mutex of id until the returned func is called.
func (b *Breakeven) lock(id string) func() {
	b.mu.Lock()
	l, ok := b.locks[id]
	if !ok {
		l = &tradeLock{}
		b.locks[id] = l
	}
	l.refs++
	b.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		b.mu.Lock()
		if l.refs--; l.refs == 0 {
			delete(b.locks, id)
		}
		b.mu.Unlock()
	}
}

// NewBreakeven creates a breakeven mover. A non-positive offset uses DefaultBreakevenOffset.
func NewBreakeven(offset decimal.Decimal, ledger ports.TradeLedger, publisher ports.EventPublisher, logger ports.Logger) *Breakeven {
	if !offset.IsPositive() {
		offset = DefaultBreakevenOffset
	}
	if publisher == nil {
		publisher = discardPublisher{}
	}
	return &Breakeven{offset: offset, ledger: ledger, publisher: publisher, logger: logger, locks: make(map[string]*tradeLock)}
}

// Move cancels the trade's stop loss and places a new one at breakeven.
// The ledger row is re-read under the trade's lock, so a stale snapshot never
// moves twice. It reports false without venue writes for trades already at
// breakeven, and closes the ledger row when the venue no longer holds the
// position.
func (b *Breakeven) Move(ctx context.Context, acct domain.Account, adapter ports.ExchangeAdapter, snapshot *domain.Trade) (bool, error) {
	op := "MoveStopLoss"
	if snapshot.Status != domain.StatusOpen {
		return false, nil
	}
	unlock := b.lock(snapshot.ID)
	defer unlock()

	trade, err := b.ledger.FindByID(ctx, snapshot.ID)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("%s failed to load trade %s: %w", op, snapshot.ID, err)
	}
	if trade.Status != domain.StatusOpen {
		return false, nil
	}
	fields := map[string]interface{}{"userID": acct.UserID, "symbol": trade.Symbol, "tradeID": trade.ID}

	entry, qty := trade.EntryPrice, trade.Quantity
	positions, err := adapter.GetOpenPositions(ctx, acct, trade.Symbol)
	if err != nil {
		b.logger.Warn(ctx, op+": Position lookup failed, using ledger values", map[string]interface{}{
			"userID": acct.UserID, "tradeID": trade.ID, "error": err.Error(),
		})
	} else if p, ok := domain.FindPosition(positions, trade.PositionSide); ok {
		if p.EntryPrice.IsPositive() {
			entry = p.EntryPrice
		}
		qty = p.Quantity
	} else {
		b.logger.Info(ctx, op+": Position no longer held, closing trade", fields)
		for _, id := range trade.OrderIDs() {
			if id != trade.OrderID {
				_ = cancelOrderWarn(ctx, b.logger, acct, adapter, trade.Symbol, id)
			}
		}
		if err := b.ledger.CloseTrade(ctx, trade.ID); err != nil {
			return false, fmt.Errorf("%s failed to close trade %s: %w", op, trade.ID, err)
		}
		return false, nil
	}

	tick := decimal.Zero
	if info, err := adapter.GetSymbolInfo(ctx, acct, trade.Symbol); err != nil {
		b.logger.Warn(ctx, op+": Symbol info unavailable, rounding stop to entry precision", map[string]interface{}{
			"userID": acct.UserID, "symbol": trade.Symbol, "error": err.Error(),
		})
	} else {
		tick = info.PriceTick
	}

	newSL := BreakevenPrice(trade.PositionSide, entry, b.offset, tick)
	fields["entry"] = entry.String()
	fields["newStopLoss"] = newSL.String()

	if trade.SLOrderID != "" {
		if err := cancelOrderWarn(ctx, b.logger, acct, adapter, trade.Symbol, trade.SLOrderID); err != nil {
			return false, fmt.Errorf("%s failed: %w: %w", op, ports.ErrOrderCancelFailed, err)
		}
	}

	slID, err := adapter.PlaceStopOrder(ctx, acct, trade.Symbol, trade.PositionSide.ExitSide(), trade.PositionSide, qty, newSL, domain.StopLossKind)
	if err != nil {
		b.logger.Error(ctx, err, op+": Failed to place breakeven stop loss, position is unprotected", fields)
		return false, fmt.Errorf("%s failed: %w: SL: %w", op, ports.ErrBracketLegFailed, err)
	}

	fields["slOrderID"] = slID
	if err := b.ledger.SetBreakeven(ctx, trade.ID, newSL, slID); err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			// Another process moved or closed the trade first.
			b.logger.Warn(ctx, op+": Trade no longer open, withdrawing new stop loss", fields)
			_ = cancelOrderWarn(ctx, b.logger, acct, adapter, trade.Symbol, slID)
			return false, nil
		}
		b.logger.Error(ctx, err, op+": Failed to record breakeven", fields)
		return false, fmt.Errorf("%s failed: %w", op, err)
	}
	b.logger.Info(ctx, op+": Stop loss moved to breakeven", fields)

	b.publisher.Publish(domain.Notification{
		UserID:   acct.UserID,
		ChatID:   acct.NotifyChatID(),
		Exchange: acct.Exchange,
		Action:   string(domain.ActionMoveSL),
		Symbol:   trade.Symbol,
		Price:    entry,
		StopLoss: newSL,
		TradeID:  trade.ID,
		At:       time.Now().UTC(),
	})
	return true, nil
}

// BreakevenWatcher moves stops to breakeven once TP1 of an open trade fills.
type BreakevenWatcher struct {
	interval  time.Duration
	mover     *Breakeven
	ledger    ports.TradeLedger
	directory ports.UserDirectory
	exchanges ports.ExchangeRegistry
	logger    ports.Logger
}

// NewBreakevenWatcher creates a watcher polling every interval.
func NewBreakevenWatcher(interval time.Duration, mover *Breakeven, ledger ports.TradeLedger, directory ports.UserDirectory, exchanges ports.ExchangeRegistry, logger ports.Logger) *BreakevenWatcher {
	if interval <= 0 {
		interval = time.Minute
	}
	return &BreakevenWatcher{
		interval:  interval,
		mover:     mover,
		ledger:    ledger,
		directory: directory,
		exchanges: exchanges,
		logger:    logger,
	}
}

// Run polls until ctx is cancelled.
func (w *BreakevenWatcher) Run(ctx context.Context) {
	w.logger.Info(ctx, "Breakeven watcher started", map[string]interface{}{"interval": w.interval.String()})
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.logger.Info(ctx, "Breakeven watcher stopped")
			return
		case <-ticker.C:
			if _, err := w.Sweep(ctx); err != nil {
				w.logger.Error(ctx, err, "Breakeven sweep failed")
			}
		}
	}
}

// Sweep checks every open trade once and returns how many stops were moved.
func (w *BreakevenWatcher) Sweep(ctx context.Context) (int, error) {
	op := "Sweep"
	trades, err := w.ledger.ListTrades(ctx, domain.TradeFilter{Status: domain.StatusOpen})
	if err != nil {
		return 0, fmt.Errorf("%s failed: %w", op, err)
	}

	moved := 0
	accounts := make(map[int64]domain.Account)
	for _, trade := range trades {
		if ctx.Err() != nil {
			return moved, ctx.Err()
		}
		if trade.TP1OrderID == "" {
			continue
		}
		fields := map[string]interface{}{"userID": trade.UserID, "tradeID": trade.ID, "symbol": trade.Symbol}

		acct, ok := accounts[trade.UserID]
		if !ok {
			acct, err = w.directory.GetAccount(ctx, trade.UserID)
			if err != nil {
				if !errors.Is(err, ports.ErrNotFound) {
					w.logger.Warn(ctx, op+": Account lookup failed", map[string]interface{}{"userID": trade.UserID, "error": err.Error()})
				}
				continue
			}
			accounts[trade.UserID] = acct
		}
		adapter, err := w.exchanges.Adapter(trade.Exchange)
		if err != nil {
			w.logger.Warn(ctx, op+": No adapter for trade", map[string]interface{}{"tradeID": trade.ID, "exchange": trade.Exchange})
			continue
		}

		status, err := adapter.GetOrderStatus(ctx, acct, trade.Symbol, trade.TP1OrderID)
		if err != nil {
			w.logger.Warn(ctx, op+": TP1 status lookup failed", map[string]interface{}{"tradeID": trade.ID, "error": err.Error()})
			continue
		}
		if !status.IsTerminal() {
			continue
		}
		if status != domain.OrderFilled {
			w.logger.Warn(ctx, op+": TP1 closed without a fill", map[string]interface{}{"tradeID": trade.ID, "status": status})
			continue
		}

		w.logger.Info(ctx, op+": TP1 filled, moving stop loss", fields)
		ok, err = w.mover.Move(ctx, acct, adapter, trade)
		if err != nil {
			w.logger.Error(ctx, err, op+": Breakeven move failed", fields)
			continue
		}
		if ok {
			moved++
		}
	}
	return moved, nil
}
