package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Credential is a registered authenticator public key.
type Credential struct {
	ID           string
	UserID       string
	PublicKeyPEM string
	Counter      uint32
	CreatedAt    time.Time
}

// PutCredential inserts or replaces a credential.
func (s *Store) PutCredential(ctx context.Context, c *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (id, user_id, public_key_pem, counter, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			public_key_pem = excluded.public_key_pem,
			counter = excluded.counter`,
		c.ID, c.UserID, c.PublicKeyPEM, c.Counter, formatTime(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("storing credential: %w", err)
	}
	return nil
}

// Get returns the credential with the given id.
func (s *Store) Get(ctx context.Context, credentialID string) (*Credential, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, public_key_pem, counter, created_at
		FROM credentials WHERE id = ?`, credentialID)
	c, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("credential %s: %w", credentialID, ErrNotFound)
	}
	return c, err
}

// ListCredentials returns a user's credentials, or all of them when
// userID is empty.
func (s *Store) ListCredentials(ctx context.Context, userID string) ([]*Credential, error) {
	query := `SELECT id, user_id, public_key_pem, counter, created_at FROM credentials`
	var args []any
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing credentials: %w", err)
	}
	defer rows.Close()

	var out []*Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateCounter records the latest signature counter for a credential.
func (s *Store) UpdateCounter(ctx context.Context, credentialID string, counter uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE credentials SET counter = ? WHERE id = ?`, counter, credentialID)
	if err != nil {
		return fmt.Errorf("updating counter: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("credential %s: %w", credentialID, ErrNotFound)
	}
	return nil
}

func scanCredential(row scanner) (*Credential, error) {
	var c Credential
	var created string
	var counter int64
	err := row.Scan(&c.ID, &c.UserID, &c.PublicKeyPEM, &counter, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning credential: %w", err)
	}
	c.Counter = uint32(counter)
	c.CreatedAt = parseTime(created)
	return &c, nil
}
