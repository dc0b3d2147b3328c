package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/ports"
	"cryptoSignalBot/internal/security/secretbox"
)

// Repository implements ports.TradeLedger and ports.UserStore using SQLite.
type Repository struct {
	db     *sql.DB
	cipher ports.SecretCipher
	logger ports.Logger
	now    func() time.Time
}

var (
	_ ports.TradeLedger = (*Repository)(nil)
	_ ports.UserStore   = (*Repository)(nil)
)

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Cipher ports.SecretCipher // Optional; credentials are stored as given when nil
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/signals.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		err = fmt.Errorf("%w: failed to open database at '%s': %w", ports.ErrDBConnection, dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("%w: failed to ping database at '%s': %w", ports.ErrDBConnection, dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// A single connection serializes writers; the partial unique index does the rest.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath})

	cipher := cfg.Cipher
	if cipher == nil {
		cipher = secretbox.Plain{}
	}
	repo := &Repository{db: db, cipher: cipher, logger: cfg.Logger, now: func() time.Time { return time.Now().UTC() }}

	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Database schema initialized/verified")

	return repo, nil
}

func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS users (
		user_id INTEGER PRIMARY KEY,
		chat_id INTEGER NOT NULL DEFAULT 0,
		subscription_end TIMESTAMP,
		subscription_type TEXT NOT NULL DEFAULT '',
		api_key TEXT NOT NULL DEFAULT '',
		secret_key TEXT NOT NULL DEFAULT '',
		passphrase TEXT NOT NULL DEFAULT '',
		exchange TEXT NOT NULL DEFAULT 'bingx'
	);

	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		exchange TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		position_side TEXT NOT NULL,
		quantity TEXT NOT NULL,
		entry_price TEXT NOT NULL,
		stop_loss TEXT NOT NULL DEFAULT '0',
		take_profit_1 TEXT NOT NULL DEFAULT '0',
		take_profit_2 TEXT NOT NULL DEFAULT '0',
		take_profit_3 TEXT NOT NULL DEFAULT '0',
		order_id TEXT NOT NULL,
		sl_order_id TEXT NOT NULL DEFAULT '',
		tp1_order_id TEXT NOT NULL DEFAULT '',
		tp2_order_id TEXT NOT NULL DEFAULT '',
		tp3_order_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		closed_at TIMESTAMP DEFAULT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_trades_one_active
		ON trades (user_id, symbol) WHERE status IN ('open', 'breakeven');
	CREATE INDEX IF NOT EXISTS idx_trades_status ON trades (status);
	CREATE INDEX IF NOT EXISTS idx_trades_user_created ON trades (user_id, created_at);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// --- TradeLedger Implementation ---

const tradeColumns = `id, user_id, exchange, symbol, side, position_side, quantity, entry_price,
	stop_loss, take_profit_1, take_profit_2, take_profit_3,
	order_id, sl_order_id, tp1_order_id, tp2_order_id, tp3_order_id,
	status, created_at, updated_at, closed_at`

// Open inserts a new active trade and returns its generated ID.
func (r *Repository) Open(ctx context.Context, trade *domain.Trade) (string, error) {
	op := "Open"
	const query = `
	INSERT INTO trades (` + tradeColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`

	now := r.now()
	id := uuid.NewString()
	status := trade.Status
	if status == "" {
		status = domain.StatusOpen
	}
	_, err := r.db.ExecContext(ctx, query,
		id, trade.UserID, string(trade.Exchange), trade.Symbol, string(trade.Side), string(trade.PositionSide),
		trade.Quantity, trade.EntryPrice,
		trade.StopLoss, trade.TakeProfit1, trade.TakeProfit2, trade.TakeProfit3,
		trade.OrderID, trade.SLOrderID, trade.TP1OrderID, trade.TP2OrderID, trade.TP3OrderID,
		string(status), now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return "", fmt.Errorf("%s failed: active trade exists for user %d on %s: %w", op, trade.UserID, trade.Symbol, ports.ErrDuplicateEntry)
		}
		return "", fmt.Errorf("%s failed: insert trade for %s: %w: %w", op, trade.Symbol, ports.ErrQueryFailed, err)
	}
	trade.ID = id
	trade.Status = status
	trade.CreatedAt = now
	trade.UpdatedAt = now
	r.logger.Debug(ctx, "Trade opened", map[string]interface{}{"tradeID": id, "userID": trade.UserID, "symbol": trade.Symbol})
	return id, nil
}

// AttachBracketIDs records the protective order IDs of a trade.
func (r *Repository) AttachBracketIDs(ctx context.Context, tradeID, slID, tp1ID, tp2ID, tp3ID string) error {
	const query = `
	UPDATE trades SET sl_order_id = ?, tp1_order_id = ?, tp2_order_id = ?, tp3_order_id = ?, updated_at = ?
	WHERE id = ?`
	return r.update(ctx, "AttachBracketIDs", tradeID, query, slID, tp1ID, tp2ID, tp3ID, r.now(), tradeID)
}

// CloseTrade marks a trade closed. Closed rows are never deleted.
func (r *Repository) CloseTrade(ctx context.Context, tradeID string) error {
	now := r.now()
	const query = `UPDATE trades SET status = ?, closed_at = ?, updated_at = ? WHERE id = ?`
	return r.update(ctx, "CloseTrade", tradeID, query, string(domain.StatusClosed), now, now, tradeID)
}

// SetBreakeven records a stop-loss moved to entry. Only open trades are
// updated, so a trade moves at most once.
func (r *Repository) SetBreakeven(ctx context.Context, tradeID string, newStopLoss decimal.Decimal, newSLOrderID string) error {
	const query = `
	UPDATE trades SET stop_loss = ?, sl_order_id = ?, status = ?, updated_at = ?
	WHERE id = ? AND status = 'open'`
	return r.update(ctx, "SetBreakeven", tradeID, query, newStopLoss, newSLOrderID, string(domain.StatusBreakeven), r.now(), tradeID)
}

func (r *Repository) update(ctx context.Context, op, tradeID, query string, args ...interface{}) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s failed for trade %s: %w: %w", op, tradeID, ports.ErrUpdateFailed, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s failed to get rows affected for trade %s: %w", op, tradeID, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s: trade %s not found: %w", op, tradeID, ports.ErrNotFound)
	}
	r.logger.Debug(ctx, "Trade updated", map[string]interface{}{"op": op, "tradeID": tradeID})
	return nil
}

// FindOpen returns the active (open or breakeven) trades of a user on symbol.
func (r *Repository) FindOpen(ctx context.Context, userID int64, symbol string) ([]*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades
	WHERE user_id = ? AND symbol = ? AND status IN ('open', 'breakeven')
	ORDER BY created_at DESC`
	return r.queryTrades(ctx, "FindOpen", query, userID, symbol)
}

// FindByID returns a trade or ErrNotFound.
func (r *Repository) FindByID(ctx context.Context, tradeID string) (*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE id = ?`
	trade, err := scanTrade(r.db.QueryRowContext(ctx, query, tradeID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("trade %s: %w", tradeID, ports.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query trade by ID %s: %w: %w", tradeID, ports.ErrQueryFailed, err)
	}
	return trade, nil
}

// ListTrades returns trades matching filter, newest first.
func (r *Repository) ListTrades(ctx context.Context, filter domain.TradeFilter) ([]*domain.Trade, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.UserID != 0 {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.Symbol != "" {
		where = append(where, "symbol = ?")
		args = append(args, filter.Symbol)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	query := `SELECT ` + tradeColumns + ` FROM trades`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	return r.queryTrades(ctx, "ListTrades", query, args...)
}

func (r *Repository) queryTrades(ctx context.Context, op, query string, args ...interface{}) ([]*domain.Trade, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w: %w", op, ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("%s failed to scan trade: %w", op, err)
		}
		trades = append(trades, trade)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: error iterating trade rows: %w", op, err)
	}
	return trades, nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTrade(s scanner) (*domain.Trade, error) {
	t := &domain.Trade{}
	var exchange, side, posSide, status string
	var closedAt sql.NullTime
	err := s.Scan(
		&t.ID, &t.UserID, &exchange, &t.Symbol, &side, &posSide, &t.Quantity, &t.EntryPrice,
		&t.StopLoss, &t.TakeProfit1, &t.TakeProfit2, &t.TakeProfit3,
		&t.OrderID, &t.SLOrderID, &t.TP1OrderID, &t.TP2OrderID, &t.TP3OrderID,
		&status, &t.CreatedAt, &t.UpdatedAt, &closedAt)
	if err != nil {
		return nil, err
	}
	t.Exchange = domain.Exchange(exchange)
	t.Side = domain.OrderSide(side)
	t.PositionSide = domain.PositionSide(posSide)
	t.Status = domain.TradeStatus(status)
	if closedAt.Valid {
		t.ClosedAt = closedAt.Time
	}
	return t, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
