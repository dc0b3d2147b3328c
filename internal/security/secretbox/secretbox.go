// Package secretbox seals exchange credentials at rest with AES-256-GCM.
package secretbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/ports"
)

// sealedPrefix marks values written by Seal, so plaintext rows from before
// encryption was enabled still load.
const sealedPrefix = "gcm:"

var ErrInvalidCiphertext = errors.New("invalid ciphertext")

// Box encrypts and decrypts short secrets with a single key.
type Box struct {
	aead cipher.AEAD
}

var _ ports.SecretCipher = (*Box)(nil)

// New creates a Box from a base64 encoded 32 byte key.
func New(base64Key string) (*Box, error) {
	if base64Key == "" {
		return nil, fmt.Errorf("%w: missing ENCRYPTION_KEY", ports.ErrConfigurationError)
	}
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("%w: decode ENCRYPTION_KEY: %w", ports.ErrConfigurationError, err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("%w: ENCRYPTION_KEY must decode to 32 bytes, got %d", ports.ErrConfigurationError, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Box{aead: gcm}, nil
}

// Seal encrypts plaintext. Empty input stays empty.
func (b *Box) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	out := b.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(out), nil
}

// Open decrypts a value produced by Seal. Values without the sealed prefix
// are returned unchanged.
func (b *Box) Open(encoded string) (string, error) {
	if !strings.HasPrefix(encoded, sealedPrefix) {
		return encoded, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(encoded, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidCiphertext, err)
	}
	if len(raw) < b.aead.NonceSize() {
		return "", ErrInvalidCiphertext
	}
	nonce, ciphertext := raw[:b.aead.NonceSize()], raw[b.aead.NonceSize():]
	plaintext, err := b.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidCiphertext, err)
	}
	return string(plaintext), nil
}

// Plain is the identity cipher used when no key is configured.
type Plain struct{}

func (Plain) Seal(s string) (string, error) { return s, nil }
func (Plain) Open(s string) (string, error) { return s, nil }

// SealAccount returns acct with its credentials sealed by c.
func SealAccount(c ports.SecretCipher, acct domain.Account) (domain.Account, error) {
	var err error
	if acct.APIKey, err = c.Seal(acct.APIKey); err != nil {
		return domain.Account{}, err
	}
	if acct.APISecret, err = c.Seal(acct.APISecret); err != nil {
		return domain.Account{}, err
	}
	if acct.Passphrase, err = c.Seal(acct.Passphrase); err != nil {
		return domain.Account{}, err
	}
	return acct, nil
}

// OpenAccount returns acct with its credentials opened by c.
func OpenAccount(c ports.SecretCipher, acct domain.Account) (domain.Account, error) {
	var err error
	if acct.APIKey, err = c.Open(acct.APIKey); err != nil {
		return domain.Account{}, err
	}
	if acct.APISecret, err = c.Open(acct.APISecret); err != nil {
		return domain.Account{}, err
	}
	if acct.Passphrase, err = c.Open(acct.Passphrase); err != nil {
		return domain.Account{}, err
	}
	return acct, nil
}
