package postgres

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

// ListEligibleUsers returns accounts with a live subscription and stored credentials.
func (s *Store) ListEligibleUsers(ctx context.Context) ([]domain.Account, error) {
	op := "ListEligibleUsers"
	query := `select ` + userColumns + ` from users
	where subscription_end > $1 and subscription_type in ($2, $3)
	  and api_key <> '' and secret_key <> ''
	order by user_id`
	now := s.now()
	rows, err := s.db.QueryContext(ctx, query, now, domain.SubscriptionRegular, domain.SubscriptionReferralApproved)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w: %w", op, ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	accounts := make([]domain.Account, 0)
	for rows.Next() {
		acct, err := s.scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("%s failed to scan user: %w", op, err)
		}
		if acct.Eligible(now) {
			accounts = append(accounts, acct)
		}
	}
	return accounts, rows.Err()
}

// GetAccount returns one account or ErrNotFound.
func (s *Store) GetAccount(ctx context.Context, userID int64) (domain.Account, error) {
	query := `select ` + userColumns + ` from users where user_id = $1`
	acct, err := s.scanAccount(s.db.QueryRowContext(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Account{}, fmt.Errorf("user %d: %w", userID, ports.ErrNotFound)
		}
		return domain.Account{}, fmt.Errorf("failed to query user %d: %w", userID, err)
	}
	return acct, nil
}

// UpsertAccount creates or replaces an account row.
func (s *Store) UpsertAccount(ctx context.Context, acct domain.Account) error {
	op := "UpsertAccount"
	sealed, err := secretbox.SealAccount(s.cipher, acct)
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
	const query = `insert into users (` + userColumns + `) values ($1, $2, $3, $4, $5, $6, $7, $8)
	on conflict (user_id) do update set
		chat_id = excluded.chat_id,
		subscription_end = excluded.subscription_end,
		subscription_type = excluded.subscription_type,
		api_key = excluded.api_key,
		secret_key = excluded.secret_key,
		passphrase = excluded.passphrase,
		exchange = excluded.exchange`
	if _, err := s.db.ExecContext(ctx, query, acct.UserID, acct.ChatID, subEnd, acct.SubscriptionType,
		sealed.APIKey, sealed.APISecret, sealed.Passphrase, string(exchange)); err != nil {
		return fmt.Errorf("%s failed for user %d: %w: %w", op, acct.UserID, ports.ErrUpdateFailed, err)
	}
	return nil
}

func (s *Store) scanAccount(sc scanner) (domain.Account, error) {
	var acct domain.Account
	var subEnd sql.NullTime
	var exchange string
	if err := sc.Scan(&acct.UserID, &acct.ChatID, &subEnd, &acct.SubscriptionType,
		&acct.APIKey, &acct.APISecret, &acct.Passphrase, &exchange); err != nil {
		return domain.Account{}, err
	}
	if subEnd.Valid {
		acct.SubscriptionEnd = subEnd.Time
	}
	acct.Exchange, _ = domain.ParseExchange(exchange)
	return secretbox.OpenAccount(s.cipher, acct)
}
