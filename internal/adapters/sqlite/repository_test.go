package sqlite

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/ports"
	"cryptoSignalBot/internal/security/secretbox"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// setupTestDB creates a temporary database for testing
func setupTestDB(t *testing.T, cipher ports.SecretCipher) (*Repository, string) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "signal-bot-test-*")
	require.NoError(t, err)

	dbPath := filepath.Join(tmpDir, "test.db")
	repo, err := NewRepository(Config{DBPath: dbPath, Cipher: cipher, Logger: &mockLogger{}})
	require.NoError(t, err)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	repo.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	t.Cleanup(func() {
		repo.Close()
		os.RemoveAll(tmpDir)
	})
	return repo, dbPath
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTrade(userID int64, symbol string, side domain.OrderSide) *domain.Trade {
	return &domain.Trade{
		UserID:       userID,
		Exchange:     domain.BingX,
		Symbol:       symbol,
		Side:         side,
		PositionSide: domain.PositionSideFor(side),
		Quantity:     d("0.002"),
		EntryPrice:   d("50000"),
		StopLoss:     d("49000"),
		TakeProfit1:  d("51000"),
		TakeProfit2:  d("52000"),
		OrderID:      "entry-1",
	}
}

func TestRepository_OpenAndFind(t *testing.T) {
	repo, _ := setupTestDB(t, nil)
	ctx := context.Background()

	trade := newTrade(1, "BTC-USDT", domain.Buy)
	id, err := repo.Open(ctx, trade)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, trade.ID)

	found, err := repo.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "BTC-USDT", found.Symbol)
	assert.Equal(t, domain.Buy, found.Side)
	assert.Equal(t, domain.Long, found.PositionSide)
	assert.Equal(t, domain.StatusOpen, found.Status)
	assert.True(t, found.Quantity.Equal(d("0.002")))
	assert.True(t, found.EntryPrice.Equal(d("50000")))
	assert.True(t, found.TakeProfit3.IsZero())
	assert.Equal(t, "entry-1", found.OrderID)
	assert.True(t, found.ClosedAt.IsZero())

	open, err := repo.FindOpen(ctx, 1, "BTC-USDT")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, id, open[0].ID)
}

func TestRepository_AtMostOneActiveTrade(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(t *testing.T, r *Repository, firstID string)
		second  *domain.Trade
		wantErr error
	}{
		{
			name:    "second open on same symbol",
			second:  newTrade(1, "BTC-USDT", domain.Sell),
			wantErr: ports.ErrDuplicateEntry,
		},
		{
			name: "breakeven still blocks",
			prepare: func(t *testing.T, r *Repository, firstID string) {
				require.NoError(t, r.SetBreakeven(context.Background(), firstID, d("50000"), "sl-2"))
			},
			second:  newTrade(1, "BTC-USDT", domain.Buy),
			wantErr: ports.ErrDuplicateEntry,
		},
		{
			name: "closed frees the slot",
			prepare: func(t *testing.T, r *Repository, firstID string) {
				require.NoError(t, r.CloseTrade(context.Background(), firstID))
			},
			second: newTrade(1, "BTC-USDT", domain.Sell),
		},
		{
			name:   "other user same symbol",
			second: newTrade(2, "BTC-USDT", domain.Buy),
		},
		{
			name:   "same user other symbol",
			second: newTrade(1, "ETH-USDT", domain.Buy),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, _ := setupTestDB(t, nil)
			ctx := context.Background()
			firstID, err := repo.Open(ctx, newTrade(1, "BTC-USDT", domain.Buy))
			require.NoError(t, err)
			if tt.prepare != nil {
				tt.prepare(t, repo, firstID)
			}

			_, err = repo.Open(ctx, tt.second)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestRepository_Lifecycle(t *testing.T) {
	repo, _ := setupTestDB(t, nil)
	ctx := context.Background()

	id, err := repo.Open(ctx, newTrade(1, "BTC-USDT", domain.Buy))
	require.NoError(t, err)

	require.NoError(t, repo.AttachBracketIDs(ctx, id, "sl-1", "tp-1", "tp-2", ""))
	found, err := repo.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"entry-1", "sl-1", "tp-1", "tp-2"}, found.OrderIDs())

	require.NoError(t, repo.SetBreakeven(ctx, id, d("49950"), "sl-be"))
	found, err = repo.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusBreakeven, found.Status)
	assert.Equal(t, "sl-be", found.SLOrderID)
	assert.True(t, found.StopLoss.Equal(d("49950")))
	assert.True(t, found.UpdatedAt.After(found.CreatedAt))

	// a trade already at breakeven is not moved again
	err = repo.SetBreakeven(ctx, id, d("49900"), "sl-twice")
	assert.True(t, errors.Is(err, ports.ErrNotFound))
	found, err = repo.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "sl-be", found.SLOrderID)

	require.NoError(t, repo.CloseTrade(ctx, id))
	found, err = repo.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusClosed, found.Status)
	assert.False(t, found.ClosedAt.IsZero())

	open, err := repo.FindOpen(ctx, 1, "BTC-USDT")
	require.NoError(t, err)
	assert.Empty(t, open)

	// closed trades do not go back to breakeven
	err = repo.SetBreakeven(ctx, id, d("50000"), "sl-x")
	assert.True(t, errors.Is(err, ports.ErrNotFound))
}

func TestRepository_UnknownIDs(t *testing.T) {
	repo, _ := setupTestDB(t, nil)
	ctx := context.Background()

	_, err := repo.FindByID(ctx, "missing")
	assert.True(t, errors.Is(err, ports.ErrNotFound))
	assert.True(t, errors.Is(repo.CloseTrade(ctx, "missing"), ports.ErrNotFound))
	assert.True(t, errors.Is(repo.AttachBracketIDs(ctx, "missing", "a", "", "", ""), ports.ErrNotFound))
}

func TestRepository_ListTrades(t *testing.T) {
	repo, _ := setupTestDB(t, nil)
	ctx := context.Background()

	first, err := repo.Open(ctx, newTrade(1, "BTC-USDT", domain.Buy))
	require.NoError(t, err)
	require.NoError(t, repo.CloseTrade(ctx, first))
	second, err := repo.Open(ctx, newTrade(1, "BTC-USDT", domain.Sell))
	require.NoError(t, err)
	third, err := repo.Open(ctx, newTrade(2, "ETH-USDT", domain.Buy))
	require.NoError(t, err)

	tests := []struct {
		name   string
		filter domain.TradeFilter
		want   []string
	}{
		{"all newest first", domain.TradeFilter{}, []string{third, second, first}},
		{"by user", domain.TradeFilter{UserID: 1}, []string{second, first}},
		{"by status", domain.TradeFilter{Status: domain.StatusClosed}, []string{first}},
		{"by symbol", domain.TradeFilter{Symbol: "ETH-USDT"}, []string{third}},
		{"limit", domain.TradeFilter{Limit: 1}, []string{third}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trades, err := repo.ListTrades(ctx, tt.filter)
			require.NoError(t, err)
			ids := make([]string, 0, len(trades))
			for _, tr := range trades {
				ids = append(ids, tr.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestRepository_Users(t *testing.T) {
	repo, _ := setupTestDB(t, nil)
	repo.now = func() time.Time { return time.Now().UTC() }
	ctx := context.Background()
	future := time.Now().Add(24 * time.Hour)
	past := time.Now().Add(-24 * time.Hour)

	accounts := []domain.Account{
		{UserID: 3, Exchange: domain.OKX, APIKey: "k", APISecret: "s", Passphrase: "p", SubscriptionType: domain.SubscriptionRegular, SubscriptionEnd: future},
		{UserID: 1, ChatID: 100, APIKey: "k", APISecret: "s", SubscriptionType: domain.SubscriptionReferralApproved, SubscriptionEnd: future},
		{UserID: 2, APIKey: "k", APISecret: "s", SubscriptionType: domain.SubscriptionRegular, SubscriptionEnd: past},
		{UserID: 4, APIKey: "k", SubscriptionType: domain.SubscriptionRegular, SubscriptionEnd: future},
		{UserID: 5, APIKey: "k", APISecret: "s", SubscriptionType: domain.SubscriptionReferralPending, SubscriptionEnd: future},
	}
	for _, a := range accounts {
		require.NoError(t, repo.UpsertAccount(ctx, a))
	}

	eligible, err := repo.ListEligibleUsers(ctx)
	require.NoError(t, err)
	require.Len(t, eligible, 2)
	assert.Equal(t, int64(1), eligible[0].UserID)
	assert.Equal(t, domain.BingX, eligible[0].Exchange, "empty exchange defaults to bingx")
	assert.Equal(t, int64(100), eligible[0].NotifyChatID())
	assert.Equal(t, int64(3), eligible[1].UserID)
	assert.Equal(t, domain.OKX, eligible[1].Exchange)
	assert.Equal(t, "p", eligible[1].Passphrase)

	// upsert replaces
	accounts[2].SubscriptionEnd = future
	require.NoError(t, repo.UpsertAccount(ctx, accounts[2]))
	eligible, err = repo.ListEligibleUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, eligible, 3)

	_, err = repo.GetAccount(ctx, 99)
	assert.True(t, errors.Is(err, ports.ErrNotFound))
}

func TestRepository_UsersSealedAtRest(t *testing.T) {
	key := base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32)))
	box, err := secretbox.New(key)
	require.NoError(t, err)
	repo, _ := setupTestDB(t, box)
	ctx := context.Background()

	acct := domain.Account{UserID: 7, Exchange: domain.Bitget, APIKey: "api-key", APISecret: "api-secret", Passphrase: "pp",
		SubscriptionType: domain.SubscriptionRegular, SubscriptionEnd: time.Now().Add(time.Hour)}
	require.NoError(t, repo.UpsertAccount(ctx, acct))

	var rawSecret string
	require.NoError(t, repo.db.QueryRowContext(ctx, `SELECT secret_key FROM users WHERE user_id = 7`).Scan(&rawSecret))
	assert.NotContains(t, rawSecret, "api-secret")

	got, err := repo.GetAccount(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "api-key", got.APIKey)
	assert.Equal(t, "api-secret", got.APISecret)
	assert.Equal(t, "pp", got.Passphrase)
}
