package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Promise is the persisted state of one promise.
type Promise struct {
	ID              string
	Title           string
	Content         string
	DeliveryDate    string
	CreatorID       string
	CreatorName     string
	CredentialID    string
	FingerprintHash string
	PublicKey       string
	Envelope        string
	Certificate     string
	State           State
	Challenge       string
	// Assertion is the JSON encoding of the accepted assertion.
	Assertion string
	CreatedAt time.Time
	UpdatedAt time.Time
}

const promiseColumns = `id, title, content, delivery_date, creator_id, creator_name,
	credential_id, fingerprint_hash, public_key, envelope, certificate, state,
	challenge, assertion, created_at, updated_at`

// CreatePromise inserts p in StateCreated and records the creation event.
func (s *Store) CreatePromise(ctx context.Context, p *Promise) error {
	return s.insert(ctx, p, StateCreated)
}

// CreateCertified inserts a promise that already carries its envelope and
// certificate directly in StateCertified. The created, sealed and certified
// events are appended in the same transaction, so a failure leaves no row.
func (s *Store) CreateCertified(ctx context.Context, p *Promise) error {
	if p.Envelope == "" || p.Certificate == "" {
		return &TransitionError{PromiseID: p.ID, From: StateCreated, To: StateCertified}
	}
	return s.insert(ctx, p, StateCertified)
}

func (s *Store) insert(ctx context.Context, p *Promise, through State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	p.State = through
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO promises (`+promiseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Title, p.Content, p.DeliveryDate, p.CreatorID, p.CreatorName,
		p.CredentialID, p.FingerprintHash, p.PublicKey, p.Envelope, p.Certificate,
		string(p.State), p.Challenge, p.Assertion, formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("inserting promise: %w", err)
	}

	var from State
	to := StateCreated
	for {
		if _, err := s.appendEvent(ctx, tx, p.ID, from, to, now); err != nil {
			return err
		}
		if to == through {
			break
		}
		next, ok := to.Next()
		if !ok {
			return &TransitionError{PromiseID: p.ID, From: to, To: through}
		}
		from, to = to, next
	}
	return tx.Commit()
}

// GetPromise loads a promise by id.
func (s *Store) GetPromise(ctx context.Context, id string) (*Promise, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+promiseColumns+` FROM promises WHERE id = ?`, id)
	p, err := scanPromise(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("promise %s: %w", id, ErrNotFound)
	}
	return p, err
}

// ListPromises returns promises ordered by creation time. An empty
// creatorID lists every promise.
func (s *Store) ListPromises(ctx context.Context, creatorID string) ([]*Promise, error) {
	query := `SELECT ` + promiseColumns + ` FROM promises`
	var args []any
	if creatorID != "" {
		query += ` WHERE creator_id = ?`
		args = append(args, creatorID)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing promises: %w", err)
	}
	defer rows.Close()

	var out []*Promise
	for rows.Next() {
		p, err := scanPromise(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Advance moves promise id one step forward to state to, applying update
// to the record first. update may be nil. The new record is persisted and
// the transition appended to the event chain atomically.
func (s *Store) Advance(ctx context.Context, id string, to State, update func(*Promise) error) (*Promise, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+promiseColumns+` FROM promises WHERE id = ?`, id)
	p, err := scanPromise(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("promise %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	from := p.State
	if next, ok := from.Next(); !ok || next != to {
		return nil, &TransitionError{PromiseID: id, From: from, To: to}
	}
	if update != nil {
		if err := update(p); err != nil {
			return nil, err
		}
	}

	now := s.now()
	p.State = to
	p.UpdatedAt = now
	if err := updatePromise(ctx, tx, p); err != nil {
		return nil, err
	}
	if _, err := s.appendEvent(ctx, tx, id, from, to, now); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transition: %w", err)
	}
	return p, nil
}

// SetChallenge replaces the stored challenge of a promise already in
// StateChallengeIssued, used when a signing ceremony is restarted.
func (s *Store) SetChallenge(ctx context.Context, id, challenge string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE promises SET challenge = ?, updated_at = ? WHERE id = ? AND state = ?`,
		challenge, formatTime(s.now()), id, string(StateChallengeIssued))
	if err != nil {
		return fmt.Errorf("updating challenge: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("promise %s not awaiting a signature: %w", id, ErrNotFound)
	}
	return nil
}

func updatePromise(ctx context.Context, tx *sql.Tx, p *Promise) error {
	_, err := tx.ExecContext(ctx, `UPDATE promises SET
			title = ?, content = ?, delivery_date = ?, creator_name = ?,
			credential_id = ?, fingerprint_hash = ?, public_key = ?,
			envelope = ?, certificate = ?, state = ?, challenge = ?,
			assertion = ?, updated_at = ?
		WHERE id = ?`,
		p.Title, p.Content, p.DeliveryDate, p.CreatorName,
		p.CredentialID, p.FingerprintHash, p.PublicKey,
		p.Envelope, p.Certificate, string(p.State), p.Challenge,
		p.Assertion, formatTime(p.UpdatedAt), p.ID)
	if err != nil {
		return fmt.Errorf("updating promise: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPromise(row scanner) (*Promise, error) {
	var p Promise
	var state, created, updated string
	err := row.Scan(&p.ID, &p.Title, &p.Content, &p.DeliveryDate, &p.CreatorID, &p.CreatorName,
		&p.CredentialID, &p.FingerprintHash, &p.PublicKey, &p.Envelope, &p.Certificate, &state,
		&p.Challenge, &p.Assertion, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning promise: %w", err)
	}
	p.State = State(state)
	p.CreatedAt = parseTime(created)
	p.UpdatedAt = parseTime(updated)
	return &p, nil
}
