package store

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"time"
)

// FirstSequence is the sequence number of the first event.
const FirstSequence uint64 = 1

// Event records one lifecycle transition. Each event's hash covers the
// previous event's hash, so rewriting history breaks the chain.
type Event struct {
	Sequence  uint64    `json:"seq"`
	Timestamp time.Time `json:"ts"`
	PromiseID string    `json:"promiseId"`
	From      State     `json:"from"`
	To        State     `json:"to"`
	PrevHash  string    `json:"prev"`
	Hash      string    `json:"hash"`
}

func newEvent(seq uint64, prevHash, promiseID string, from, to State, ts time.Time) *Event {
	e := &Event{
		Sequence:  seq,
		Timestamp: ts,
		PromiseID: promiseID,
		From:      from,
		To:        to,
		PrevHash:  prevHash,
	}
	e.Hash = e.computeHash()
	return e
}

// computeHash returns hex(SHA-256(seq || ts || promiseID || from || to || prev)).
// Variable-length fields are NUL-terminated.
func (e *Event) computeHash() string {
	h := sha256.New()

	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], e.Sequence)
	h.Write(seq[:])

	for _, field := range []string{
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.PromiseID,
		string(e.From),
		string(e.To),
		e.PrevHash,
	} {
		h.Write([]byte(field))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Verify reports whether the event's hash matches its contents.
func (e *Event) Verify() bool {
	return e.Hash == e.computeHash()
}

// ChainResult is the outcome of VerifyChain.
type ChainResult struct {
	Events int    `json:"events"`
	Valid  bool   `json:"valid"`
	Broken uint64 `json:"brokenAt,omitempty"`
	Error  string `json:"error,omitempty"`
}
