package promise

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/majorcontext/pledge/internal/artifact"
	"github.com/majorcontext/pledge/internal/store"
)

// VerifyOnline verifies a promise from stored state. A promise with a built
// artifact is checked as a self-signed artifact plus its authority
// certificate and the binding between artifact and stored record. Earlier
// promises are checked as fingerprint records.
func (s *Service) VerifyOnline(ctx context.Context, promiseID string) (*artifact.Result, error) {
	p, err := s.store.GetPromise(ctx, promiseID)
	if err != nil {
		return nil, err
	}
	if !p.State.AtLeast(store.StateCertified) {
		return nil, &StateError{PromiseID: promiseID, Op: "verify", State: p.State}
	}

	if p.State != store.StateArtifactBuilt {
		rec := s.codec.Record(source(p), p.CredentialID, p.FingerprintHash, p.PublicKey, p.Certificate)
		return s.codec.Verify(rec), nil
	}

	signed, err := s.loadSigned(promiseID)
	if err != nil {
		return nil, err
	}
	res := s.codec.Verify(signed)

	res.CertificateValid = s.authority.Verify(p.Certificate, p.PublicKey)
	if !res.CertificateValid {
		res.Reject("certificate: authority signature invalid for promise %s", promiseID)
	}
	if signed.ID != p.ID || signed.Content != p.Content || signed.Title != p.Title ||
		signed.DeliveryDate != p.DeliveryDate || signed.Creator.ID != p.CreatorID ||
		signed.Challenge != p.Challenge {
		res.DataIntact = false
		res.Reject("data integrity: artifact differs from the stored promise")
	}
	if signed.Signature.CredentialID != p.CredentialID {
		res.Reject("credential: artifact signed by %s, promise bound to %s", signed.Signature.CredentialID, p.CredentialID)
	}
	return res, nil
}

// VerifyBatch verifies artifact files in parallel and returns one result
// per input, in input order. Inputs not reached before ctx is cancelled
// come back invalid.
func (s *Service) VerifyBatch(ctx context.Context, docs [][]byte) []*artifact.Result {
	return VerifyBatch(ctx, s.codec, docs, s.batchLimit)
}

// VerifyBatch runs codec.VerifyBytes over docs with at most limit
// verifications in flight.
func VerifyBatch(ctx context.Context, codec *artifact.Codec, docs [][]byte, limit int) []*artifact.Result {
	results := make([]*artifact.Result, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, doc := range docs {
		i, doc := i, doc
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				r := &artifact.Result{}
				r.Reject("verification cancelled: %v", err)
				results[i] = r
				return nil
			}
			results[i] = codec.VerifyBytes(doc)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
