// Package userfile reads subscribed accounts from a YAML file.
//
//	users:
//	  - user_id: 1001
//	    chat_id: 1001
//	    exchange: okx
//	    api_key: ...
//	    secret_key: ...
//	    passphrase: ...
//	    subscription_type: regular
//	    subscription_end: 2025-12-31T00:00:00Z
package userfile

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/ports"
)

type document struct {
	Users []domain.Account `yaml:"users"`
}

// Parse decodes and validates a users document.
func Parse(raw []byte) ([]domain.Account, error) {
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode users yaml: %w", ports.ErrInvalidRequest, err)
	}
	seen := make(map[int64]bool, len(doc.Users))
	for i := range doc.Users {
		a := &doc.Users[i]
		if a.UserID == 0 {
			return nil, fmt.Errorf("%w: users[%d]: user_id is required", ports.ErrInvalidRequest, i)
		}
		if seen[a.UserID] {
			return nil, fmt.Errorf("%w: users[%d]: duplicate user_id %d", ports.ErrInvalidRequest, i, a.UserID)
		}
		seen[a.UserID] = true
		ex, ok := domain.ParseExchange(string(a.Exchange))
		if !ok {
			return nil, fmt.Errorf("%w: users[%d]: unknown exchange %q", ports.ErrUnsupportedExchange, i, a.Exchange)
		}
		a.Exchange = ex
	}
	return doc.Users, nil
}

// Load reads and parses a users file.
func Load(path string) ([]domain.Account, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read users file %s: %w", path, err)
	}
	return Parse(raw)
}

// Directory is a read-only ports.UserDirectory backed by a YAML file.
// The file is re-read on every call so edits apply to the next signal.
type Directory struct {
	path   string
	logger ports.Logger
	now    func() time.Time
}

var _ ports.UserDirectory = (*Directory)(nil)

// NewDirectory validates the file once and returns a directory over it.
func NewDirectory(path string, logger ports.Logger) (*Directory, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for user file directory")
	}
	accounts, err := Load(path)
	if err != nil {
		return nil, err
	}
	logger.Info(context.Background(), "User file loaded", map[string]interface{}{"path": path, "users": len(accounts)})
	return &Directory{path: path, logger: logger, now: time.Now}, nil
}

// ListEligibleUsers returns eligible accounts ordered by user id.
func (d *Directory) ListEligibleUsers(ctx context.Context) ([]domain.Account, error) {
	accounts, err := Load(d.path)
	if err != nil {
		d.logger.Error(ctx, err, "ListEligibleUsers: failed to load user file", map[string]interface{}{"path": d.path})
		return nil, err
	}
	now := d.now()
	out := make([]domain.Account, 0, len(accounts))
	for _, a := range accounts {
		if a.Eligible(now) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// GetAccount returns one account or ErrNotFound.
func (d *Directory) GetAccount(ctx context.Context, userID int64) (domain.Account, error) {
	accounts, err := Load(d.path)
	if err != nil {
		return domain.Account{}, err
	}
	for _, a := range accounts {
		if a.UserID == userID {
			return a, nil
		}
	}
	return domain.Account{}, fmt.Errorf("user %d: %w", userID, ports.ErrNotFound)
}
