// Package storage opens the configured ledger and user directory.
package storage

import (
	"context"
	"fmt"

	"cryptoSignalBot/config"
	"cryptoSignalBot/internal/adapters/memory"
	"cryptoSignalBot/internal/adapters/postgres"
	"cryptoSignalBot/internal/adapters/sqlite"
	"cryptoSignalBot/internal/adapters/userfile"
	"cryptoSignalBot/internal/ports"
	"cryptoSignalBot/internal/security/secretbox"
)

// Backend bundles the persistence ports the rest of the program needs.
type Backend struct {
	Ledger    ports.TradeLedger
	Users     ports.UserStore     // Write side; always the database
	Directory ports.UserDirectory // Read side used for dispatch; the users file when configured
	closer    func() error
}

// Close releases the database connection, if any.
func (b *Backend) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer()
}

// Cipher returns the credential cipher for key, or a pass-through when key is empty.
func Cipher(key string) (ports.SecretCipher, error) {
	if key == "" {
		return secretbox.Plain{}, nil
	}
	box, err := secretbox.New(key)
	if err != nil {
		return nil, fmt.Errorf("invalid ENCRYPTION_KEY: %w", err)
	}
	return box, nil
}

// Open builds the backend selected by cfg.DBDriver.
func Open(cfg *config.Config, logger ports.Logger) (*Backend, error) {
	op := "storage.Open"
	cipher, err := Cipher(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	if cfg.EncryptionKey == "" {
		logger.Warn(context.Background(), op+": ENCRYPTION_KEY not set, credentials are stored unencrypted")
	}

	b := &Backend{}
	switch cfg.DBDriver {
	case config.DriverSQLite:
		repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Cipher: cipher, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("%s failed: %w", op, err)
		}
		b.Ledger, b.Users, b.closer = repo, repo, repo.Close
	case config.DriverPostgres:
		store, err := postgres.NewStore(postgres.Config{DatabaseURL: cfg.DatabaseURL, Cipher: cipher, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("%s failed: %w", op, err)
		}
		b.Ledger, b.Users, b.closer = store, store, store.Close
	case config.DriverMemory:
		logger.Warn(context.Background(), op+": Using in-memory storage, trades are lost on restart")
		b.Ledger, b.Users = memory.NewLedger(), memory.NewDirectory()
	default:
		return nil, fmt.Errorf("%s failed: %w: unknown driver %q", op, ports.ErrConfigurationError, cfg.DBDriver)
	}

	b.Directory = b.Users
	if cfg.UsersFile != "" {
		dir, err := userfile.NewDirectory(cfg.UsersFile, logger)
		if err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("%s failed: %w", op, err)
		}
		b.Directory = dir
	}
	logger.Info(context.Background(), op+": Storage initialized", map[string]interface{}{
		"driver": cfg.DBDriver, "usersFile": cfg.UsersFile,
	})
	return b, nil
}
