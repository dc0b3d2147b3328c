// Package postgres implements the trade ledger and user directory on PostgreSQL.
// The schema is managed by goose migrations embedded in the binary.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/ports"
	"cryptoSignalBot/internal/security/secretbox"
)

//go:embed migrations/*.sql
var migrations embed.FS

const uniqueViolation = "23505"

// Store implements ports.TradeLedger and ports.UserStore.
type Store struct {
	db     *sql.DB
	cipher ports.SecretCipher
	logger ports.Logger
	now    func() time.Time
}

var (
	_ ports.TradeLedger = (*Store)(nil)
	_ ports.UserStore   = (*Store)(nil)
)

// Config holds configuration for the PostgreSQL store.
type Config struct {
	DatabaseURL string
	Cipher      ports.SecretCipher // Optional
	Logger      ports.Logger
}

// NewStore opens the database, checks connectivity and applies pending migrations.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for postgres store")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("%w: DATABASE_URL is required for postgres", ports.ErrConfigurationError)
	}
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: open postgres: %w", ports.ErrDBConnection, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping postgres: %w", ports.ErrDBConnection, err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		cfg.Logger.Error(context.Background(), err, "Postgres migration failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Postgres store ready")

	cipher := cfg.Cipher
	if cipher == nil {
		cipher = secretbox.Plain{}
	}
	return &Store{db: db, cipher: cipher, logger: cfg.Logger, now: func() time.Time { return time.Now().UTC() }}, nil
}

func migrate(db *sql.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose: failed to set dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("goose migration failed: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.logger.Info(context.Background(), "Closing postgres connection")
	return s.db.Close()
}

const tradeColumns = `id, user_id, exchange, symbol, side, position_side, quantity, entry_price,
	stop_loss, take_profit_1, take_profit_2, take_profit_3,
	order_id, sl_order_id, tp1_order_id, tp2_order_id, tp3_order_id,
	status, created_at, updated_at, closed_at`

// Open inserts a new active trade and returns its generated ID.
func (s *Store) Open(ctx context.Context, trade *domain.Trade) (string, error) {
	op := "Open"
	const query = `insert into trades (` + tradeColumns + `)
	values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $19, null)`

	now := s.now()
	id := uuid.New()
	status := trade.Status
	if status == "" {
		status = domain.StatusOpen
	}
	_, err := s.db.ExecContext(ctx, query,
		id, trade.UserID, string(trade.Exchange), trade.Symbol, string(trade.Side), string(trade.PositionSide),
		trade.Quantity, trade.EntryPrice,
		trade.StopLoss, trade.TakeProfit1, trade.TakeProfit2, trade.TakeProfit3,
		trade.OrderID, trade.SLOrderID, trade.TP1OrderID, trade.TP2OrderID, trade.TP3OrderID,
		string(status), now)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return "", fmt.Errorf("%s failed: active trade exists for user %d on %s: %w", op, trade.UserID, trade.Symbol, ports.ErrDuplicateEntry)
		}
		return "", fmt.Errorf("%s failed: insert trade for %s: %w: %w", op, trade.Symbol, ports.ErrQueryFailed, err)
	}
	trade.ID = id.String()
	trade.Status = status
	trade.CreatedAt = now
	trade.UpdatedAt = now
	s.logger.Debug(ctx, "Trade opened", map[string]interface{}{"tradeID": trade.ID, "userID": trade.UserID, "symbol": trade.Symbol})
	return trade.ID, nil
}

// AttachBracketIDs records the protective order IDs of a trade.
func (s *Store) AttachBracketIDs(ctx context.Context, tradeID, slID, tp1ID, tp2ID, tp3ID string) error {
	const query = `update trades
	set sl_order_id = $1, tp1_order_id = $2, tp2_order_id = $3, tp3_order_id = $4, updated_at = $5
	where id = $6`
	return s.update(ctx, "AttachBracketIDs", tradeID, query, slID, tp1ID, tp2ID, tp3ID, s.now())
}

// CloseTrade marks a trade closed.
func (s *Store) CloseTrade(ctx context.Context, tradeID string) error {
	const query = `update trades set status = $1, closed_at = $2, updated_at = $2 where id = $3`
	return s.update(ctx, "CloseTrade", tradeID, query, string(domain.StatusClosed), s.now())
}

// SetBreakeven records a stop-loss moved to entry on an open trade.
func (s *Store) SetBreakeven(ctx context.Context, tradeID string, newStopLoss decimal.Decimal, newSLOrderID string) error {
	const query = `update trades set stop_loss = $1, sl_order_id = $2, status = $3, updated_at = $4
	where id = $5 and status = 'open'`
	return s.update(ctx, "SetBreakeven", tradeID, query, newStopLoss, newSLOrderID, string(domain.StatusBreakeven), s.now())
}

// update runs query with args followed by the parsed trade id.
func (s *Store) update(ctx context.Context, op, tradeID, query string, args ...interface{}) error {
	id, err := uuid.Parse(tradeID)
	if err != nil {
		return fmt.Errorf("%s: trade %s not found: %w", op, tradeID, ports.ErrNotFound)
	}
	result, err := s.db.ExecContext(ctx, query, append(args, id)...)
	if err != nil {
		return fmt.Errorf("%s failed for trade %s: %w: %w", op, tradeID, ports.ErrUpdateFailed, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s failed to get rows affected for trade %s: %w", op, tradeID, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: trade %s not found: %w", op, tradeID, ports.ErrNotFound)
	}
	return nil
}

// FindOpen returns the active trades of a user on symbol.
func (s *Store) FindOpen(ctx context.Context, userID int64, symbol string) ([]*domain.Trade, error) {
	query := `select ` + tradeColumns + ` from trades
	where user_id = $1 and symbol = $2 and status in ('open', 'breakeven')
	order by created_at desc`
	return s.queryTrades(ctx, "FindOpen", query, userID, symbol)
}

// FindByID returns a trade or ErrNotFound.
func (s *Store) FindByID(ctx context.Context, tradeID string) (*domain.Trade, error) {
	id, err := uuid.Parse(tradeID)
	if err != nil {
		return nil, fmt.Errorf("trade %s: %w", tradeID, ports.ErrNotFound)
	}
	query := `select ` + tradeColumns + ` from trades where id = $1`
	trade, err := scanTrade(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("trade %s: %w", tradeID, ports.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query trade %s: %w: %w", tradeID, ports.ErrQueryFailed, err)
	}
	return trade, nil
}

// ListTrades returns trades matching filter, newest first.
func (s *Store) ListTrades(ctx context.Context, filter domain.TradeFilter) ([]*domain.Trade, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.UserID != 0 {
		add("user_id = $%d", filter.UserID)
	}
	if filter.Symbol != "" {
		add("symbol = $%d", filter.Symbol)
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	query := `select ` + tradeColumns + ` from trades`
	if len(where) > 0 {
		query += " where " + strings.Join(where, " and ")
	}
	query += " order by created_at desc, id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" limit $%d", len(args))
	}
	return s.queryTrades(ctx, "ListTrades", query, args...)
}

func (s *Store) queryTrades(ctx context.Context, op, query string, args ...interface{}) ([]*domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w: %w", op, ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("%s failed to scan trade: %w", op, err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTrade(sc scanner) (*domain.Trade, error) {
	t := &domain.Trade{}
	var id uuid.UUID
	var exchange, side, posSide, status string
	var closedAt sql.NullTime
	err := sc.Scan(
		&id, &t.UserID, &exchange, &t.Symbol, &side, &posSide, &t.Quantity, &t.EntryPrice,
		&t.StopLoss, &t.TakeProfit1, &t.TakeProfit2, &t.TakeProfit3,
		&t.OrderID, &t.SLOrderID, &t.TP1OrderID, &t.TP2OrderID, &t.TP3OrderID,
		&status, &t.CreatedAt, &t.UpdatedAt, &closedAt)
	if err != nil {
		return nil, err
	}
	t.ID = id.String()
	t.Exchange = domain.Exchange(exchange)
	t.Side = domain.OrderSide(side)
	t.PositionSide = domain.PositionSide(posSide)
	t.Status = domain.TradeStatus(status)
	if closedAt.Valid {
		t.ClosedAt = closedAt.Time
	}
	return t, nil
}
