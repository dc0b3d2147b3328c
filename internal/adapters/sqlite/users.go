package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/ports"
	"cryptoSignalBot/internal/security/secretbox"
)

const userColumns = `user_id, chat_id, subscription_end, subscription_type, api_key, secret_key, passphrase, exchange`

// ListEligibleUsers returns accounts with a live subscription and stored credentials,
// ordered by user id.
func (r *Repository) ListEligibleUsers(ctx context.Context) ([]domain.Account, error) {
	op := "ListEligibleUsers"
	query := `SELECT ` + userColumns + ` FROM users
	WHERE subscription_type IN (?, ?) AND api_key != '' AND secret_key != ''
	ORDER BY user_id`
	rows, err := r.db.QueryContext(ctx, query, domain.SubscriptionRegular, domain.SubscriptionReferralApproved)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w: %w", op, ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	now := r.now()
	accounts := make([]domain.Account, 0)
	for rows.Next() {
		acct, err := r.scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("%s failed to scan user: %w", op, err)
		}
		if acct.Eligible(now) {
			accounts = append(accounts, acct)
		}
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: error iterating user rows: %w", op, err)
	}
	return accounts, nil
}

// GetAccount returns one account or ErrNotFound.
func (r *Repository) GetAccount(ctx context.Context, userID int64) (domain.Account, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE user_id = ?`
	acct, err := r.scanAccount(r.db.QueryRowContext(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Account{}, fmt.Errorf("user %d: %w", userID, ports.ErrNotFound)
		}
		return domain.Account{}, fmt.Errorf("failed to query user %d: %w", userID, err)
	}
	return acct, nil
}

// UpsertAccount creates or replaces an account row. Credentials are sealed
// with the configured cipher.
func (r *Repository) UpsertAccount(ctx context.Context, acct domain.Account) error {
	op := "UpsertAccount"
	sealed, err := secretbox.SealAccount(r.cipher, acct)
	if err != nil {
		return fmt.Errorf("%s failed for user %d: %w", op, acct.UserID, err)
	}
	var subEnd sql.NullTime
	if !acct.SubscriptionEnd.IsZero() {
		subEnd = sql.NullTime{Time: acct.SubscriptionEnd.UTC(), Valid: true}
	}
	exchange := acct.Exchange
	if exchange == "" {
		exchange = domain.BingX
	}
	const query = `
	INSERT INTO users (` + userColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (user_id) DO UPDATE SET
		chat_id = excluded.chat_id,
		subscription_end = excluded.subscription_end,
		subscription_type = excluded.subscription_type,
		api_key = excluded.api_key,
		secret_key = excluded.secret_key,
		passphrase = excluded.passphrase,
		exchange = excluded.exchange`
	if _, err := r.db.ExecContext(ctx, query,
		acct.UserID, acct.ChatID, subEnd, acct.SubscriptionType, sealed.APIKey, sealed.APISecret, sealed.Passphrase, string(exchange)); err != nil {
		return fmt.Errorf("%s failed for user %d: %w: %w", op, acct.UserID, ports.ErrUpdateFailed, err)
	}
	r.logger.Debug(ctx, "Account upserted", map[string]interface{}{"userID": acct.UserID, "exchange": exchange})
	return nil
}

func (r *Repository) scanAccount(s scanner) (domain.Account, error) {
	var acct domain.Account
	var subEnd sql.NullTime
	var exchange string
	if err := s.Scan(&acct.UserID, &acct.ChatID, &subEnd, &acct.SubscriptionType,
		&acct.APIKey, &acct.APISecret, &acct.Passphrase, &exchange); err != nil {
		return domain.Account{}, err
	}
	if subEnd.Valid {
		acct.SubscriptionEnd = subEnd.Time
	}
	acct.Exchange, _ = domain.ParseExchange(exchange)
	opened, err := secretbox.OpenAccount(r.cipher, acct)
	if err != nil {
		return domain.Account{}, fmt.Errorf("user %d: %w", acct.UserID, err)
	}
	return opened, nil
}
