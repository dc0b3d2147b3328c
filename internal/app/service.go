package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/ports"
	"cryptoSignalBot/internal/risk"
	"cryptoSignalBot/internal/symbol"
)

// Config holds execution parameters shared by every user.
type Config struct {
	Leverage        int
	RiskPercent     decimal.Decimal // Fraction of balance risked per entry (0.05 = 5%)
	MarginBuffer    decimal.Decimal
	BreakevenOffset decimal.Decimal
	LegDelay        time.Duration
	EntrySettle     time.Duration
	Workers         int // Concurrent user pipelines
}

// SignalService fans a signal out to every eligible user.
type SignalService struct {
	cfg        Config
	directory  ports.UserDirectory
	ledger     ports.TradeLedger
	exchanges  ports.ExchangeRegistry
	publisher  ports.EventPublisher
	logger     ports.Logger
	sizer      *risk.Sizer
	reconciler *Reconciler
	placer     *BracketPlacer
	breakeven  *Breakeven
}

// NewSignalService creates the dispatcher. publisher may be nil.
func NewSignalService(
	cfg Config,
	logger ports.Logger,
	directory ports.UserDirectory,
	ledger ports.TradeLedger,
	exchanges ports.ExchangeRegistry,
	publisher ports.EventPublisher,
) (*SignalService, error) {
	if logger == nil || directory == nil || ledger == nil || exchanges == nil {
		return nil, fmt.Errorf("missing required dependencies for SignalService")
	}
	if cfg.Leverage < 1 {
		return nil, fmt.Errorf("configuration Leverage must be at least 1")
	}
	if !cfg.RiskPercent.IsPositive() || cfg.RiskPercent.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("configuration RiskPercent must be in (0, 1]")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if publisher == nil {
		publisher = discardPublisher{}
	}

	return &SignalService{
		cfg:        cfg,
		directory:  directory,
		ledger:     ledger,
		exchanges:  exchanges,
		publisher:  publisher,
		logger:     logger,
		sizer:      risk.NewSizer(risk.SizerConfig{MarginBuffer: cfg.MarginBuffer}),
		reconciler: NewReconciler(ledger, publisher, logger),
		placer:     NewBracketPlacer(BracketConfig{LegDelay: cfg.LegDelay, EntrySettle: cfg.EntrySettle}, ledger, logger),
		breakeven:  NewBreakeven(cfg.BreakevenOffset, ledger, publisher, logger),
	}, nil
}

// Breakeven returns the stop mover shared with the breakeven watcher.
func (s *SignalService) Breakeven() *Breakeven { return s.breakeven }

// Dispatch validates sig and runs it for every eligible user. A user's failure
// never stops the others; it becomes a FAILED result in the report.
func (s *SignalService) Dispatch(ctx context.Context, sig domain.Signal) (*Report, error) {
	op := "Dispatch"
	if err := ValidateSignal(sig); err != nil {
		s.logger.Warn(ctx, op+": Rejected signal", map[string]interface{}{"action": sig.Action, "symbol": sig.Symbol, "error": err.Error()})
		return nil, err
	}

	users, err := s.directory.ListEligibleUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s failed to list users: %w", op, err)
	}
	if len(users) == 0 {
		return nil, ports.ErrNoEligibleUsers
	}
	s.logger.Info(ctx, op+": Dispatching signal", map[string]interface{}{
		"action": sig.Action, "symbol": sig.Symbol, "users": len(users),
	})

	report := &Report{Action: sig.Action, Symbol: sig.Symbol, Results: make([]UserResult, len(users))}
	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)
	for i, acct := range users {
		i, acct := i, acct // per-iteration copies (go 1.21 loop semantics)
		g.Go(func() error {
			report.Results[i] = s.execute(ctx, sig, acct)
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info(ctx, op+": Signal processed", map[string]interface{}{
		"action": sig.Action, "symbol": sig.Symbol, "succeeded": report.Succeeded(), "failed": report.Failed(),
	})
	return report, nil
}

// execute runs one user's pipeline and converts any failure into a result.
func (s *SignalService) execute(ctx context.Context, sig domain.Signal, acct domain.Account) (res UserResult) {
	sym := symbol.Normalize(acct.Exchange, sig.Symbol)
	res = UserResult{UserID: acct.UserID, Exchange: acct.Exchange, Symbol: sym, Status: ResultSucceeded}

	defer func() {
		if r := recover(); r != nil {
			s.fail(ctx, &res, acct, sig, fmt.Errorf("%w: panic: %v", ports.ErrUnknown, r))
		}
	}()

	adapter, err := s.exchanges.Adapter(acct.Exchange)
	if err != nil {
		s.fail(ctx, &res, acct, sig, err)
		return res
	}

	if sig.IsEntry() {
		err = s.openPosition(ctx, sig, acct, adapter, sym, &res)
	} else {
		err = s.moveStopLoss(ctx, acct, adapter, sym, &res)
	}
	if err != nil {
		s.fail(ctx, &res, acct, sig, err)
	}
	return res
}

func (s *SignalService) fail(ctx context.Context, res *UserResult, acct domain.Account, sig domain.Signal, err error) {
	res.Status = ResultFailed
	res.ErrorKind = ports.ErrorKind(err)
	res.Error = err.Error()
	s.logger.Error(ctx, err, "Signal failed for user", map[string]interface{}{
		"userID": acct.UserID, "exchange": acct.Exchange, "symbol": res.Symbol, "kind": res.ErrorKind,
	})
	s.publisher.Publish(domain.Notification{
		UserID:   acct.UserID,
		ChatID:   acct.NotifyChatID(),
		Exchange: acct.Exchange,
		Action:   domain.NotifyFailure,
		Symbol:   res.Symbol,
		Message:  fmt.Sprintf("%s %s: %s", sig.Action, res.Symbol, userMessage(err)),
		At:       time.Now().UTC(),
	})
}

// openPosition runs reconcile -> size -> entry -> bracket for a BUY or SELL.
func (s *SignalService) openPosition(ctx context.Context, sig domain.Signal, acct domain.Account, adapter ports.ExchangeAdapter, sym string, res *UserResult) error {
	op := "openPosition"
	side := sig.EntrySide()

	active, err := s.ledger.FindOpen(ctx, acct.UserID, sym)
	if err != nil {
		return fmt.Errorf("%s failed to load trades: %w", op, err)
	}
	for _, t := range active {
		if t.Side == side {
			return fmt.Errorf("%s: %w: %s trade %s already active on %s", op, ports.ErrDuplicateEntry, t.Side, t.ID, sym)
		}
	}

	closed, err := s.reconciler.Reconcile(ctx, acct, adapter, sym, side)
	res.Closed = closed
	if err != nil {
		return err
	}

	balance, err := adapter.GetBalance(ctx, acct)
	if err != nil {
		return fmt.Errorf("%s failed to get balance: %w", op, err)
	}
	price, err := adapter.GetPrice(ctx, acct, sym)
	if err != nil {
		return fmt.Errorf("%s failed to get price: %w", op, err)
	}
	info, err := adapter.GetSymbolInfo(ctx, acct, sym)
	if err != nil {
		return fmt.Errorf("%s failed to get symbol info: %w", op, err)
	}

	leverage := s.cfg.Leverage
	if info.MaxLeverage > 0 && leverage > info.MaxLeverage {
		s.logger.Warn(ctx, op+": Leverage clamped to symbol maximum", map[string]interface{}{
			"userID": acct.UserID, "symbol": sym, "configured": leverage, "max": info.MaxLeverage,
		})
		leverage = info.MaxLeverage
	}
	if err := adapter.SetLeverage(ctx, acct, sym, leverage, domain.PositionSideFor(side)); err != nil {
		s.logger.Warn(ctx, op+": Failed to set leverage, continuing with venue setting", map[string]interface{}{
			"userID": acct.UserID, "symbol": sym, "leverage": leverage, "error": err.Error(),
		})
	}

	qty, err := s.sizer.Size(balance, info, price, leverage, s.cfg.RiskPercent)
	if err != nil {
		return fmt.Errorf("%s failed to size order: %w", op, err)
	}
	s.logger.Info(ctx, op+": Order sized", map[string]interface{}{
		"userID": acct.UserID, "symbol": sym, "balance": balance.String(), "price": price.String(),
		"leverage": leverage, "quantity": qty.String(),
	})

	placement, err := s.placer.Place(ctx, acct, adapter, BracketOrder{
		Symbol:      sym,
		Side:        side,
		Quantity:    qty,
		Price:       price,
		StopLoss:    sig.StopLoss,
		TakeProfits: sig.TakeProfits,
		Info:        info,
	})
	if err != nil {
		return err
	}
	res.TradeID = placement.TradeID
	res.Quantity = placement.Quantity
	res.Legs = placement.Legs[:]
	res.Warning = placement.Warning

	s.publisher.Publish(domain.Notification{
		UserID:      acct.UserID,
		ChatID:      acct.NotifyChatID(),
		Exchange:    acct.Exchange,
		Action:      string(sig.Action),
		Symbol:      sym,
		Price:       price,
		StopLoss:    sig.StopLoss,
		TakeProfits: placement.TakeProfits,
		TradeID:     placement.TradeID,
		At:          time.Now().UTC(),
	})
	return nil
}

// moveStopLoss moves every open trade of the user on sym to breakeven.
func (s *SignalService) moveStopLoss(ctx context.Context, acct domain.Account, adapter ports.ExchangeAdapter, sym string, res *UserResult) error {
	op := "moveStopLoss"
	trades, err := s.ledger.FindOpen(ctx, acct.UserID, sym)
	if err != nil {
		return fmt.Errorf("%s failed to load trades: %w", op, err)
	}
	if len(trades) == 0 {
		return fmt.Errorf("%s: %w: no active trade on %s", op, ports.ErrNotFound, sym)
	}

	var errs []error
	for _, t := range trades {
		res.TradeID = t.ID
		moved, err := s.breakeven.Move(ctx, acct, adapter, t)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if moved {
			res.Moved++
		}
	}
	return errors.Join(errs...)
}

// userMessage renders err for a chat notification.
func userMessage(err error) string {
	var me *ports.MarginError
	switch {
	case errors.As(err, &me):
		return fmt.Sprintf("insufficient margin: required %s USDT, available %s USDT", me.Required.StringFixed(2), me.Available.StringFixed(2))
	case errors.Is(err, ports.ErrInsufficientBalance):
		return ports.ErrInsufficientBalance.Error()
	case errors.Is(err, ports.ErrAuthenticationFailed):
		return ports.ErrAuthenticationFailed.Error()
	case errors.Is(err, ports.ErrReconciliationIncomplete):
		return ports.ErrReconciliationIncomplete.Error()
	case errors.Is(err, ports.ErrDuplicateEntry):
		return "a position in this direction is already open"
	default:
		return err.Error()
	}
}
