package app

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoSignalBot/internal/adapters/memory"
	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/ports"
)

func TestBreakevenPrice(t *testing.T) {
	tests := []struct {
		side  domain.PositionSide
		entry string
		tick  string
		want  string
	}{
		{domain.Long, "50000", "0", "49950"},
		{domain.Short, "50000", "0", "50050"},
		{domain.Long, "3", "0", "2.997"},
		{domain.Short, "0.12345", "0", "0.12357"},
		{domain.Long, "0.12345", "0", "0.12333"},
		{domain.Long, "50000.123456", "0.1", "49950.1"},
		{domain.Short, "50000.123456", "0.1", "50050.2"},
		{domain.Short, "3000", "0.5", "3003"},
		{domain.Long, "0.12345", "0.0001", "0.1233"},
		{domain.Short, "0.12345", "0.0001", "0.1236"},
		{domain.Long, "2.5", "0.25", "2.25"},
	}
	for _, tt := range tests {
		t.Run(string(tt.side)+"_"+tt.entry+"_tick_"+tt.tick, func(t *testing.T) {
			got := BreakevenPrice(tt.side, d(tt.entry), DefaultBreakevenOffset, d(tt.tick))
			assert.True(t, got.Equal(d(tt.want)), "got %s", got)
		})
	}
}

func TestBreakeven_Move(t *testing.T) {
	ctx := context.Background()
	acct := account(1, domain.BingX)

	seed := func(t *testing.T, ledger *memory.Ledger) *domain.Trade {
		t.Helper()
		trade := &domain.Trade{
			UserID: 1, Exchange: domain.BingX, Symbol: "ETH-USDT", Side: domain.Sell, PositionSide: domain.Short,
			Quantity: d("0.5"), EntryPrice: d("3000"), StopLoss: d("3100"),
			OrderID: "e1", SLOrderID: "sl1", TP1OrderID: "tp1", TP2OrderID: "tp2",
		}
		_, err := ledger.Open(ctx, trade)
		require.NoError(t, err)
		return trade
	}

	t.Run("falls back to ledger when positions unavailable", func(t *testing.T) {
		ledger := memory.NewLedger()
		trade := seed(t, ledger)
		ex := newFakeExchange()
		ex.failMethod["GetOpenPositions"] = ports.ErrExchangeUnavailable
		b := NewBreakeven(decimal.Zero, ledger, nil, &mockLogger{})

		moved, err := b.Move(ctx, acct, ex, trade)
		require.NoError(t, err)
		assert.True(t, moved)

		stops := ex.callsOf("PlaceStopOrder")
		require.Len(t, stops, 1)
		assert.Equal(t, domain.Buy, stops[0].Side)
		assert.True(t, stops[0].Qty.Equal(d("0.5")))
		assert.True(t, stops[0].Trigger.Equal(d("3003")), "trigger %s", stops[0].Trigger)
	})

	t.Run("trigger snaps to the venue tick", func(t *testing.T) {
		ledger := memory.NewLedger()
		trade := seed(t, ledger)
		ex := newFakeExchange()
		ex.info.PriceTick = d("0.5")
		ex.positions = []domain.Position{{Symbol: "ETH-USDT", PositionSide: domain.Short, Quantity: d("0.5"), EntryPrice: d("3000.3")}}
		b := NewBreakeven(decimal.Zero, ledger, nil, &mockLogger{})

		moved, err := b.Move(ctx, acct, ex, trade)
		require.NoError(t, err)
		assert.True(t, moved)

		stops := ex.callsOf("PlaceStopOrder")
		require.Len(t, stops, 1)
		assert.True(t, stops[0].Trigger.Equal(d("3003.5")), "trigger %s", stops[0].Trigger)
	})

	t.Run("symbol info failure keeps entry precision", func(t *testing.T) {
		ledger := memory.NewLedger()
		trade := seed(t, ledger)
		ex := newFakeExchange()
		ex.info.PriceTick = d("0.5")
		ex.failMethod["GetSymbolInfo"] = ports.ErrExchangeUnavailable
		ex.positions = []domain.Position{{Symbol: "ETH-USDT", PositionSide: domain.Short, Quantity: d("0.5"), EntryPrice: d("3000.3")}}
		b := NewBreakeven(decimal.Zero, ledger, nil, &mockLogger{})

		moved, err := b.Move(ctx, acct, ex, trade)
		require.NoError(t, err)
		assert.True(t, moved)

		stops := ex.callsOf("PlaceStopOrder")
		require.Len(t, stops, 1)
		assert.True(t, stops[0].Trigger.Equal(d("3003.3003")), "trigger %s", stops[0].Trigger)
	})

	t.Run("two moves from the same snapshot place one stop", func(t *testing.T) {
		ledger := memory.NewLedger()
		trade := seed(t, ledger)
		snapshot := *trade
		ex := newFakeExchange()
		ex.positions = []domain.Position{{Symbol: "ETH-USDT", PositionSide: domain.Short, Quantity: d("0.5"), EntryPrice: d("3000")}}
		pub := &recordingPublisher{}
		b := NewBreakeven(decimal.Zero, ledger, pub, &mockLogger{})

		results := make([]bool, 2)
		var wg sync.WaitGroup
		for i := range results {
			i := i // per-iteration copy (go 1.21 loop semantics)
			wg.Add(1)
			go func() {
				defer wg.Done()
				cp := snapshot
				moved, err := b.Move(ctx, acct, ex, &cp)
				assert.NoError(t, err)
				results[i] = moved
			}()
		}
		wg.Wait()

		assert.ElementsMatch(t, []bool{true, false}, results)
		assert.Len(t, ex.callsOf("PlaceStopOrder"), 1)
		assert.Len(t, ex.callsOf("CancelOrder"), 1)
		assert.Equal(t, []string{string(domain.ActionMoveSL)}, pub.actions())

		got, err := ledger.FindByID(ctx, trade.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusBreakeven, got.Status)
		assert.Empty(t, b.locks)
	})

	t.Run("trade moved elsewhere withdraws the new stop", func(t *testing.T) {
		ledger := memory.NewLedger()
		trade := seed(t, ledger)
		ex := newFakeExchange()
		ex.positions = []domain.Position{{Symbol: "ETH-USDT", PositionSide: domain.Short, Quantity: d("0.5"), EntryPrice: d("3000")}}
		stale := &staleLedger{Ledger: ledger, snapshot: *trade}
		require.NoError(t, ledger.SetBreakeven(ctx, trade.ID, d("3003"), "sl-other"))
		b := NewBreakeven(decimal.Zero, stale, nil, &mockLogger{})

		moved, err := b.Move(ctx, acct, ex, trade)
		require.NoError(t, err)
		assert.False(t, moved)

		stops := ex.callsOf("PlaceStopOrder")
		require.Len(t, stops, 1)
		cancels := ex.callsOf("CancelOrder")
		require.Len(t, cancels, 2)
		assert.Equal(t, "sl1", cancels[0].OrderID)
		assert.Equal(t, "SL-1", cancels[1].OrderID, "the stop just placed is withdrawn")

		got, err := ledger.FindByID(ctx, trade.ID)
		require.NoError(t, err)
		assert.Equal(t, "sl-other", got.SLOrderID)
	})

	t.Run("old stop already gone", func(t *testing.T) {
		ledger := memory.NewLedger()
		trade := seed(t, ledger)
		ex := newFakeExchange()
		ex.positions = []domain.Position{{Symbol: "ETH-USDT", PositionSide: domain.Short, Quantity: d("0.25"), EntryPrice: d("3000")}}
		ex.cancelErr["sl1"] = ports.ErrOrderNotFound
		b := NewBreakeven(decimal.Zero, ledger, nil, &mockLogger{})

		moved, err := b.Move(ctx, acct, ex, trade)
		require.NoError(t, err)
		assert.True(t, moved)
	})

	t.Run("cancel failure keeps the old stop", func(t *testing.T) {
		ledger := memory.NewLedger()
		trade := seed(t, ledger)
		ex := newFakeExchange()
		ex.positions = []domain.Position{{Symbol: "ETH-USDT", PositionSide: domain.Short, Quantity: d("0.5"), EntryPrice: d("3000")}}
		ex.cancelErr["sl1"] = ports.ErrExchangeUnavailable
		b := NewBreakeven(decimal.Zero, ledger, nil, &mockLogger{})

		moved, err := b.Move(ctx, acct, ex, trade)
		assert.Error(t, err)
		assert.False(t, moved)
		assert.Empty(t, ex.callsOf("PlaceStopOrder"))

		got, err := ledger.FindByID(ctx, trade.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusOpen, got.Status)
	})

	t.Run("position closed on venue", func(t *testing.T) {
		ledger := memory.NewLedger()
		trade := seed(t, ledger)
		ex := newFakeExchange()
		b := NewBreakeven(decimal.Zero, ledger, nil, &mockLogger{})

		moved, err := b.Move(ctx, acct, ex, trade)
		require.NoError(t, err)
		assert.False(t, moved)
		assert.Empty(t, ex.callsOf("PlaceStopOrder"))
		assert.Len(t, ex.callsOf("CancelOrder"), 3, "sl and both tps")

		got, err := ledger.FindByID(ctx, trade.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusClosed, got.Status)
	})
}

// staleLedger serves a fixed snapshot from FindByID, standing in for a row
// another process changes between the read and the write.
type staleLedger struct {
	*memory.Ledger
	snapshot domain.Trade
}

func (l *staleLedger) FindByID(ctx context.Context, tradeID string) (*domain.Trade, error) {
	cp := l.snapshot
	return &cp, nil
}

func TestBreakevenWatcher_Sweep(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewLedger()
	ex := newFakeExchange()
	pub := &recordingPublisher{}
	logger := &mockLogger{}

	filled := &domain.Trade{
		UserID: 1, Exchange: domain.BingX, Symbol: "BTC-USDT", Side: domain.Buy, PositionSide: domain.Long,
		Quantity: d("0.01"), EntryPrice: d("50000"), SLOrderID: "sl1", TP1OrderID: "tp1",
	}
	pending := &domain.Trade{
		UserID: 2, Exchange: domain.BingX, Symbol: "BTC-USDT", Side: domain.Buy, PositionSide: domain.Long,
		Quantity: d("0.01"), EntryPrice: d("50000"), SLOrderID: "sl2", TP1OrderID: "tp2",
	}
	canceled := &domain.Trade{
		UserID: 4, Exchange: domain.BingX, Symbol: "BTC-USDT", Side: domain.Buy, PositionSide: domain.Long,
		Quantity: d("0.01"), EntryPrice: d("50000"), SLOrderID: "sl4", TP1OrderID: "tp4",
	}
	noTP := &domain.Trade{
		UserID: 3, Exchange: domain.BingX, Symbol: "BTC-USDT", Side: domain.Buy, PositionSide: domain.Long,
		Quantity: d("0.01"), EntryPrice: d("50000"),
	}
	for _, tr := range []*domain.Trade{filled, pending, canceled, noTP} {
		_, err := ledger.Open(ctx, tr)
		require.NoError(t, err)
	}
	ex.statuses["tp1"] = domain.OrderFilled
	ex.statuses["tp4"] = domain.OrderCanceled
	ex.positions = []domain.Position{{Symbol: "BTC-USDT", PositionSide: domain.Long, Quantity: d("0.006"), EntryPrice: d("50000")}}

	dir := memory.NewDirectory(account(1, domain.BingX), account(2, domain.BingX), account(3, domain.BingX), account(4, domain.BingX))
	w := NewBreakevenWatcher(0, NewBreakeven(decimal.Zero, ledger, pub, logger), ledger, dir, fakeRegistry{domain.BingX: ex}, logger)

	moved, err := w.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)
	assert.Len(t, ex.callsOf("GetOrderStatus"), 3)
	assert.Len(t, ex.callsOf("PlaceStopOrder"), 1, "a canceled TP1 does not move the stop")

	got, err := ledger.FindByID(ctx, filled.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusBreakeven, got.Status)
	assert.True(t, got.StopLoss.Equal(d("49950")))

	got, err = ledger.FindByID(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOpen, got.Status)
	assert.Equal(t, []string{string(domain.ActionMoveSL)}, pub.actions())

	// Breakeven trades are no longer polled.
	moved, err = w.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, moved)
	assert.Len(t, ex.callsOf("GetOrderStatus"), 5)
}
