package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// appendEvent links a new event to the current chain head inside tx.
func (s *Store) appendEvent(ctx context.Context, tx *sql.Tx, promiseID string, from, to State, ts time.Time) (*Event, error) {
	var lastSeq uint64
	var lastHash string
	err := tx.QueryRowContext(ctx, `SELECT seq, hash FROM events ORDER BY seq DESC LIMIT 1`).Scan(&lastSeq, &lastHash)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("loading chain head: %w", err)
	}

	e := newEvent(lastSeq+1, lastHash, promiseID, from, to, ts)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (seq, ts, promise_id, from_state, to_state, prev_hash, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Sequence, formatTime(e.Timestamp), e.PromiseID, string(e.From), string(e.To), e.PrevHash, e.Hash)
	if err != nil {
		return nil, fmt.Errorf("inserting event: %w", err)
	}
	return e, nil
}

// Events returns the events for promiseID in order, or every event when
// promiseID is empty.
func (s *Store) Events(ctx context.Context, promiseID string) ([]*Event, error) {
	query := `SELECT seq, ts, promise_id, from_state, to_state, prev_hash, hash FROM events`
	var args []any
	if promiseID != "" {
		query += ` WHERE promise_id = ?`
		args = append(args, promiseID)
	}
	query += ` ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var e Event
		var ts, from, to string
		if err := rows.Scan(&e.Sequence, &ts, &e.PromiseID, &from, &to, &e.PrevHash, &e.Hash); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		e.Timestamp = parseTime(ts)
		e.From = State(from)
		e.To = State(to)
		events = append(events, &e)
	}
	return events, rows.Err()
}

// VerifyChain walks the whole event log checking sequence continuity,
// each event's hash, and the link to its predecessor.
func (s *Store) VerifyChain(ctx context.Context) (*ChainResult, error) {
	events, err := s.Events(ctx, "")
	if err != nil {
		return nil, err
	}
	return verifyEvents(events), nil
}

func verifyEvents(events []*Event) *ChainResult {
	res := &ChainResult{Events: len(events), Valid: true}
	prevHash := ""
	for i, e := range events {
		want := FirstSequence + uint64(i)
		switch {
		case e.Sequence != want:
			res.Error = fmt.Sprintf("sequence gap: expected %d, got %d", want, e.Sequence)
		case e.PrevHash != prevHash:
			res.Error = fmt.Sprintf("event %d does not link to its predecessor", e.Sequence)
		case !e.Verify():
			res.Error = fmt.Sprintf("event %d hash mismatch", e.Sequence)
		}
		if res.Error != "" {
			res.Valid = false
			res.Broken = e.Sequence
			return res
		}
		prevHash = e.Hash
	}
	return res
}
