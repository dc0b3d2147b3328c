package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/ports"
)

func trade(userID int64, symbol string) *domain.Trade {
	return &domain.Trade{UserID: userID, Exchange: domain.Bybit, Symbol: symbol, Side: domain.Buy, PositionSide: domain.Long,
		Quantity: decimal.NewFromInt(1), EntryPrice: decimal.NewFromInt(100), OrderID: "e"}
}

func TestLedger_ConcurrentOpenAllowsOne(t *testing.T) {
	l := NewLedger()
	var wg sync.WaitGroup
	var mu sync.Mutex
	ok, dup := 0, 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Open(context.Background(), trade(1, "BTCUSDT"))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if errors.Is(err, ports.ErrDuplicateEntry) {
				dup++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, ok)
	assert.Equal(t, 19, dup)
}

func TestLedger_Lifecycle(t *testing.T) {
	l := NewLedger()
	ctx := context.Background()
	tr := trade(1, "BTCUSDT")
	id, err := l.Open(ctx, tr)
	require.NoError(t, err)

	// returned rows are copies
	got, err := l.FindByID(ctx, id)
	require.NoError(t, err)
	got.Symbol = "MUTATED"
	again, _ := l.FindByID(ctx, id)
	assert.Equal(t, "BTCUSDT", again.Symbol)

	require.NoError(t, l.AttachBracketIDs(ctx, id, "sl", "tp1", "tp2", "tp3"))
	require.NoError(t, l.SetBreakeven(ctx, id, decimal.NewFromInt(100), "sl-be"))
	open, err := l.FindOpen(ctx, 1, "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, domain.StatusBreakeven, open[0].Status)
	assert.Equal(t, "sl-be", open[0].SLOrderID)
	assert.True(t, errors.Is(l.SetBreakeven(ctx, id, decimal.NewFromInt(99), "sl-twice"), ports.ErrNotFound))
	got, _ = l.FindByID(ctx, id)
	assert.Equal(t, "sl-be", got.SLOrderID)

	require.NoError(t, l.CloseTrade(ctx, id))
	open, _ = l.FindOpen(ctx, 1, "BTCUSDT")
	assert.Empty(t, open)
	assert.True(t, errors.Is(l.SetBreakeven(ctx, id, decimal.Zero, ""), ports.ErrNotFound))
	assert.True(t, errors.Is(l.CloseTrade(ctx, "nope"), ports.ErrNotFound))

	_, err = l.Open(ctx, trade(1, "BTCUSDT"))
	assert.NoError(t, err)
	all, _ := l.ListTrades(ctx, domain.TradeFilter{})
	assert.Len(t, all, 2)
	closed, _ := l.ListTrades(ctx, domain.TradeFilter{Status: domain.StatusClosed})
	require.Len(t, closed, 1)
	assert.Equal(t, id, closed[0].ID)
}

func TestDirectory(t *testing.T) {
	future := time.Now().Add(time.Hour)
	d := NewDirectory(
		domain.Account{UserID: 2, APIKey: "k", APISecret: "s", SubscriptionType: domain.SubscriptionRegular, SubscriptionEnd: future},
		domain.Account{UserID: 1, APIKey: "k", APISecret: "s", SubscriptionType: domain.SubscriptionReferralApproved, SubscriptionEnd: future},
		domain.Account{UserID: 3, APIKey: "k", SubscriptionType: domain.SubscriptionRegular, SubscriptionEnd: future},
	)
	users, err := d.ListEligibleUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, int64(1), users[0].UserID)
	assert.Equal(t, int64(2), users[1].UserID)

	_, err = d.GetAccount(context.Background(), 9)
	assert.True(t, errors.Is(err, ports.ErrNotFound))
}
