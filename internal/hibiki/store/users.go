package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bdobrica/hibiki/common/crypto"
)

// ErrNoToken is returned by UserToken when the sender has not registered an
// API key. Callers should use errors.Is to distinguish this expected case
// from real errors.
var ErrNoToken = errors.New("store: no api token registered for sender")

// SetUserToken stores (or replaces) the sender's model API key, encrypted
// at rest with the master key.
func (s *Store) SetUserToken(ctx context.Context, masterKey []byte, sessionKey, token string) error {
	ciphertext, err := crypto.Encrypt(masterKey, []byte(token))
	if err != nil {
		return fmt.Errorf("store: encrypt api token: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (session_key, api_token, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_key) DO UPDATE SET
			api_token = excluded.api_token,
			updated_at = excluded.updated_at`,
		sessionKey, ciphertext, now, now,
	)
	if err != nil {
		return fmt.Errorf("store: set user token: %w", err)
	}
	return nil
}

// UserToken returns the sender's decrypted API key, or ErrNoToken when the
// sender has never registered one (or has been reset).
func (s *Store) UserToken(ctx context.Context, masterKey []byte, sessionKey string) (string, error) {
	var ciphertext []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT api_token FROM users WHERE session_key = ?", sessionKey,
	).Scan(&ciphertext)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNoToken
	}
	if err != nil {
		return "", fmt.Errorf("store: get user token: %w", err)
	}
	if len(ciphertext) == 0 {
		return "", ErrNoToken
	}

	plaintext, err := crypto.Decrypt(masterKey, ciphertext)
	if err != nil {
		return "", fmt.Errorf("store: decrypt api token: %w", err)
	}
	return string(plaintext), nil
}

// ResetUser forgets the sender's stored credential. The dialogue log is
// cleared separately via ClearMessages.
func (s *Store) ResetUser(ctx context.Context, sessionKey string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM users WHERE session_key = ?", sessionKey,
	); err != nil {
		return fmt.Errorf("store: reset user: %w", err)
	}
	return nil
}
