package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "pledge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func samplePromise(id string) *Promise {
	return &Promise{
		ID:              id,
		Title:           "Rent",
		Content:         "Pay $500 by 2025-03-01",
		DeliveryDate:    "2025-03-01",
		CreatorID:       "usr_000000000001",
		CreatorName:     "Ada",
		CredentialID:    "cred-1",
		FingerprintHash: "ab",
		PublicKey:       "-----BEGIN PUBLIC KEY-----",
	}
}

func TestOpen_CreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "pledge.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestCreateAndGetPromise(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.CreatePromise(ctx, samplePromise("prm_1")))

	got, err := s.GetPromise(ctx, "prm_1")
	require.NoError(t, err)
	assert.Equal(t, StateCreated, got.State)
	assert.Equal(t, "Pay $500 by 2025-03-01", got.Content)
	assert.Equal(t, "Ada", got.CreatorName)
	assert.False(t, got.CreatedAt.IsZero())

	_, err = s.GetPromise(ctx, "prm_missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	assert.Error(t, s.CreatePromise(ctx, samplePromise("prm_1")), "duplicate id")
}

func TestListPromises(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a := samplePromise("prm_a")
	b := samplePromise("prm_b")
	b.CreatorID = "usr_other"
	require.NoError(t, s.CreatePromise(ctx, a))
	require.NoError(t, s.CreatePromise(ctx, b))

	all, err := s.ListPromises(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mine, err := s.ListPromises(ctx, "usr_other")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "prm_b", mine[0].ID)
}

func TestAdvance_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreatePromise(ctx, samplePromise("prm_1")))

	p, err := s.Advance(ctx, "prm_1", StateSealed, func(p *Promise) error {
		p.Envelope = "sealed"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, StateSealed, p.State)

	got, err := s.GetPromise(ctx, "prm_1")
	require.NoError(t, err)
	assert.Equal(t, "sealed", got.Envelope)

	// Skipping a state is rejected.
	_, err = s.Advance(ctx, "prm_1", StateChallengeIssued, nil)
	var te *TransitionError
	require.True(t, errors.As(err, &te), "got %v", err)
	assert.Equal(t, StateSealed, te.From)

	// Going backwards is rejected.
	_, err = s.Advance(ctx, "prm_1", StateCreated, nil)
	assert.True(t, errors.As(err, &te))

	for _, st := range []State{StateCertified, StateChallengeIssued, StateSigned, StateArtifactBuilt} {
		_, err := s.Advance(ctx, "prm_1", st, nil)
		require.NoError(t, err, "advance to %s", st)
	}

	_, err = s.Advance(ctx, "prm_1", StateArtifactBuilt, nil)
	assert.True(t, errors.As(err, &te), "no state after artifact_built")

	events, err := s.Events(ctx, "prm_1")
	require.NoError(t, err)
	require.Len(t, events, 6)
	assert.Equal(t, State(""), events[0].From)
	assert.Equal(t, StateArtifactBuilt, events[5].To)
}

func TestAdvance_UpdateErrorRollsBack(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreatePromise(ctx, samplePromise("prm_1")))

	boom := errors.New("boom")
	_, err := s.Advance(ctx, "prm_1", StateSealed, func(p *Promise) error {
		p.Envelope = "partial"
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetPromise(ctx, "prm_1")
	require.NoError(t, err)
	assert.Equal(t, StateCreated, got.State)
	assert.Empty(t, got.Envelope)

	events, err := s.Events(ctx, "prm_1")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestAdvance_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Advance(context.Background(), "prm_missing", StateSealed, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetChallenge(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreatePromise(ctx, samplePromise("prm_1")))

	assert.ErrorIs(t, s.SetChallenge(ctx, "prm_1", "abc"), ErrNotFound, "not awaiting signature yet")

	for _, st := range []State{StateSealed, StateCertified, StateChallengeIssued} {
		_, err := s.Advance(ctx, "prm_1", st, nil)
		require.NoError(t, err)
	}
	require.NoError(t, s.SetChallenge(ctx, "prm_1", "abc"))

	got, err := s.GetPromise(ctx, "prm_1")
	require.NoError(t, err)
	assert.Equal(t, "abc", got.Challenge)
}

func TestCredentials(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.PutCredential(ctx, &Credential{ID: "cred-1", UserID: "usr_1", PublicKeyPEM: "pem-1"}))
	require.NoError(t, s.PutCredential(ctx, &Credential{ID: "cred-2", UserID: "usr_2", PublicKeyPEM: "pem-2", Counter: 4}))

	c, err := s.Get(ctx, "cred-2")
	require.NoError(t, err)
	assert.Equal(t, "pem-2", c.PublicKeyPEM)
	assert.Equal(t, uint32(4), c.Counter)

	require.NoError(t, s.UpdateCounter(ctx, "cred-2", 9))
	c, err = s.Get(ctx, "cred-2")
	require.NoError(t, err)
	assert.Equal(t, uint32(9), c.Counter)

	list, err := s.ListCredentials(ctx, "usr_1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "cred-1", list[0].ID)

	_, err = s.Get(ctx, "cred-missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.UpdateCounter(ctx, "cred-missing", 1), ErrNotFound)
}

func TestPersistenceAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "pledge.db")

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.CreatePromise(ctx, samplePromise("prm_1")))
	_, err = s1.Advance(ctx, "prm_1", StateSealed, nil)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	require.NoError(t, s2.CreatePromise(ctx, samplePromise("prm_2")))
	res, err := s2.VerifyChain(ctx)
	require.NoError(t, err)
	assert.True(t, res.Valid, res.Error)
	assert.Equal(t, 3, res.Events)
}

func TestCreateCertified(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	p := samplePromise("prm_1")
	p.Envelope = "envelope"
	p.Certificate = "certificate"
	require.NoError(t, s.CreateCertified(ctx, p))

	got, err := s.GetPromise(ctx, "prm_1")
	require.NoError(t, err)
	assert.Equal(t, StateCertified, got.State)
	assert.Equal(t, "envelope", got.Envelope)

	events, err := s.Events(ctx, "prm_1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, []State{StateCreated, StateSealed, StateCertified},
		[]State{events[0].To, events[1].To, events[2].To})
	assert.Equal(t, State(""), events[0].From)
	assert.Equal(t, StateSealed, events[2].From)

	res, err := s.VerifyChain(ctx)
	require.NoError(t, err)
	assert.True(t, res.Valid, res.Error)
}

func TestCreateCertified_LeavesNothingOnFailure(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var te *TransitionError
	assert.ErrorAs(t, s.CreateCertified(ctx, samplePromise("prm_1")), &te, "no envelope or certificate")
	_, err := s.GetPromise(ctx, "prm_1")
	assert.ErrorIs(t, err, ErrNotFound)

	p := samplePromise("prm_2")
	p.Envelope, p.Certificate = "e", "c"
	require.NoError(t, s.CreateCertified(ctx, p))
	dup := samplePromise("prm_2")
	dup.Envelope, dup.Certificate = "e", "c"
	require.Error(t, s.CreateCertified(ctx, dup))

	events, err := s.Events(ctx, "")
	require.NoError(t, err)
	assert.Len(t, events, 3)
}
