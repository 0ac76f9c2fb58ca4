// Package promise runs the promise lifecycle: creation (seal and certify),
// the WebAuthn signing ceremony, artifact building, and online
// verification against stored state.
//
// Each promise moves forward one state at a time:
//
//	created → sealed → certified → challenge_issued → signed → artifact_built
package promise

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/majorcontext/pledge/internal/artifact"
	"github.com/majorcontext/pledge/internal/assertion"
	"github.com/majorcontext/pledge/internal/canon"
	"github.com/majorcontext/pledge/internal/certificate"
	"github.com/majorcontext/pledge/internal/challenge"
	"github.com/majorcontext/pledge/internal/id"
	"github.com/majorcontext/pledge/internal/log"
	"github.com/majorcontext/pledge/internal/seal"
	"github.com/majorcontext/pledge/internal/storage"
	"github.com/majorcontext/pledge/internal/store"
)

// DefaultAssertionTimeout is passed to the identity provider.
const DefaultAssertionTimeout = 60 * time.Second

// Options configures a Service.
type Options struct {
	Store       *store.Store
	Artifacts   *storage.ArtifactStore
	Authority   *certificate.Authority
	Registry    *challenge.Registry
	RPID        string
	// Credentials defaults to Store.
	Credentials CredentialStore
	// Provider defaults to a LocalProvider.
	Provider IdentityProvider
	// BatchLimit bounds VerifyBatch parallelism. Zero means 8.
	BatchLimit int
}

// Service implements the promise lifecycle.
type Service struct {
	store      *store.Store
	artifacts  *storage.ArtifactStore
	authority  *certificate.Authority
	registry   *challenge.Registry
	creds      CredentialStore
	provider   IdentityProvider
	codec      *artifact.Codec
	rpID       string
	batchLimit int
}

// New validates opts and returns a Service.
func New(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("promise: store is required")
	}
	if opts.Artifacts == nil {
		return nil, errors.New("promise: artifact storage is required")
	}
	if opts.Authority == nil {
		return nil, errors.New("promise: certificate authority is required")
	}
	if opts.RPID == "" {
		return nil, errors.New("promise: relying party id is required")
	}
	s := &Service{
		store:      opts.Store,
		artifacts:  opts.Artifacts,
		authority:  opts.Authority,
		registry:   opts.Registry,
		creds:      opts.Credentials,
		provider:   opts.Provider,
		rpID:       opts.RPID,
		batchLimit: opts.BatchLimit,
	}
	if s.registry == nil {
		s.registry = challenge.NewRegistry(challenge.RegistryOptions{})
	}
	if s.creds == nil {
		s.creds = opts.Store
	}
	if s.provider == nil {
		s.provider = &LocalProvider{}
	}
	if s.batchLimit <= 0 {
		s.batchLimit = 8
	}
	s.codec = artifact.NewCodec(opts.RPID, opts.Authority)
	return s, nil
}

// Codec returns the artifact codec bound to the service's relying party
// and authority.
func (s *Service) Codec() *artifact.Codec {
	return s.codec
}

func signingPurpose(promiseID string) string {
	return challenge.PurposeSigning + ":" + promiseID
}

// BeginRegistration issues a registration challenge for userID.
func (s *Service) BeginRegistration(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", errors.New("user id is required")
	}
	return s.registry.Issue(userID, challenge.PurposeRegistration)
}

// RegisterCredential redeems the registration challenge, has the identity
// provider verify the response, and stores the credential.
func (s *Service) RegisterCredential(ctx context.Context, userID string, resp RegistrationResponse) (*store.Credential, error) {
	if err := s.registry.Consume(userID, challenge.PurposeRegistration, resp.Challenge); err != nil {
		return nil, fmt.Errorf("registration challenge: %w", err)
	}
	verified, err := s.provider.VerifyRegistration(ctx, userID, resp)
	if err != nil {
		return nil, fmt.Errorf("verifying registration: %w", err)
	}

	if existing, err := s.creds.Get(ctx, verified.CredentialID); err == nil && existing.UserID != userID {
		return nil, fmt.Errorf("credential %s: %w", verified.CredentialID, ErrCredentialNotAllowed)
	}

	c := &store.Credential{
		ID:           verified.CredentialID,
		UserID:       userID,
		PublicKeyPEM: verified.PublicKeyPEM,
		Counter:      verified.Counter,
	}
	if err := s.creds.PutCredential(ctx, c); err != nil {
		return nil, err
	}
	log.Info("credential registered", "user_id", userID, "credential_id", c.ID)
	return c, nil
}

// CreateRequest describes a new promise.
type CreateRequest struct {
	Title        string
	Content      string
	DeliveryDate string
	CreatorID    string
	CreatorName  string
	CredentialID string
}

func (r CreateRequest) validate() error {
	var missing []string
	for name, v := range map[string]string{
		"title":        r.Title,
		"content":      r.Content,
		"deliveryDate": r.DeliveryDate,
		"creatorId":    r.CreatorID,
		"credentialId": r.CredentialID,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}
	if err := canon.CheckUTF8(r); err != nil {
		return fmt.Errorf("invalid promise: %w", err)
	}
	return nil
}

// Create seals a new promise's content together with a fresh per-promise
// private key, has the authority certify the matching public key, and
// stores the result in StateCertified. Nothing is stored unless every step
// succeeds.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*store.Promise, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	cred, err := s.creds.Get(ctx, req.CredentialID)
	if err != nil {
		return nil, err
	}
	if cred.UserID != req.CreatorID {
		return nil, fmt.Errorf("credential %s: %w", req.CredentialID, ErrCredentialNotAllowed)
	}

	privatePEM, publicPEM, err := newKeyPair()
	if err != nil {
		return nil, err
	}
	fingerprint := certificate.FingerprintHash(req.CredentialID)
	promiseID := id.Generate(id.PrefixPromise)

	envelope, err := seal.Seal(req.Content, privatePEM, fingerprint)
	if err != nil {
		return nil, err
	}
	cert, err := s.authority.Issue(promiseID, publicPEM, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("issuing certificate: %w", err)
	}

	p := &store.Promise{
		ID:              promiseID,
		Title:           req.Title,
		Content:         req.Content,
		DeliveryDate:    req.DeliveryDate,
		CreatorID:       req.CreatorID,
		CreatorName:     req.CreatorName,
		CredentialID:    req.CredentialID,
		FingerprintHash: fingerprint,
		PublicKey:       publicPEM,
		Envelope:        envelope,
		Certificate:     cert,
	}
	if err := s.store.CreateCertified(ctx, p); err != nil {
		return nil, err
	}
	log.WithPromise(p.ID).Info("promise created", "creator_id", req.CreatorID)
	return p, nil
}

// Get returns a stored promise.
func (s *Service) Get(ctx context.Context, promiseID string) (*store.Promise, error) {
	return s.store.GetPromise(ctx, promiseID)
}

// List returns promises, optionally filtered by creator.
func (s *Service) List(ctx context.Context, creatorID string) ([]*store.Promise, error) {
	return s.store.ListPromises(ctx, creatorID)
}

// History returns the lifecycle events of a promise.
func (s *Service) History(ctx context.Context, promiseID string) ([]*store.Event, error) {
	return s.store.Events(ctx, promiseID)
}

func source(p *store.Promise) artifact.Source {
	return artifact.Source{
		ID:           p.ID,
		Title:        p.Title,
		Content:      p.Content,
		DeliveryDate: p.DeliveryDate,
		CreatedAt:    p.CreatedAt,
		Creator:      artifact.Creator{ID: p.CreatorID, Name: p.CreatorName},
	}
}

// BeginSigning derives the content-bound challenge for a promise, registers
// it for userID, and starts the identity provider's assertion ceremony.
// Calling it again while a signature is pending issues a fresh registry
// entry for the same challenge.
func (s *Service) BeginSigning(ctx context.Context, promiseID, userID string) (*AssertionOptions, error) {
	p, err := s.store.GetPromise(ctx, promiseID)
	if err != nil {
		return nil, err
	}
	if p.CreatorID != userID {
		return nil, ErrNotCreator
	}
	if p.State != store.StateCertified && p.State != store.StateChallengeIssued {
		return nil, &StateError{PromiseID: promiseID, Op: "begin signing", State: p.State}
	}

	ch := challenge.Derive(source(p).Snapshot())
	if err := s.registry.Put(userID, signingPurpose(promiseID), ch); err != nil {
		return nil, err
	}
	if p.State == store.StateCertified {
		_, err = s.store.Advance(ctx, promiseID, store.StateChallengeIssued, func(p *store.Promise) error {
			p.Challenge = ch
			return nil
		})
	} else {
		err = s.store.SetChallenge(ctx, promiseID, ch)
	}
	if err != nil {
		return nil, err
	}

	opts := AssertionOptions{
		Challenge:        ch,
		RPID:             s.rpID,
		AllowCredentials: []string{p.CredentialID},
		Timeout:          DefaultAssertionTimeout,
	}
	if err := s.provider.BeginAssertion(ctx, opts); err != nil {
		return nil, fmt.Errorf("starting assertion: %w", err)
	}
	log.WithPromise(promiseID).Debug("signing challenge issued")
	return &opts, nil
}

// CompleteSigning redeems the pending challenge with the authenticator's
// assertion. The challenge is single use: a failed attempt requires a new
// BeginSigning. All three verifier checks must pass.
func (s *Service) CompleteSigning(ctx context.Context, promiseID, userID string, a assertion.Assertion) (*assertion.Result, error) {
	p, err := s.store.GetPromise(ctx, promiseID)
	if err != nil {
		return nil, err
	}
	if p.CreatorID != userID {
		return nil, ErrNotCreator
	}
	if p.State != store.StateChallengeIssued {
		return nil, &StateError{PromiseID: promiseID, Op: "complete signing", State: p.State}
	}

	cd, err := assertion.ParseClientData(a)
	if err != nil {
		return nil, err
	}
	if err := s.registry.Consume(userID, signingPurpose(promiseID), cd.Challenge); err != nil {
		return nil, fmt.Errorf("signing challenge: %w", err)
	}
	if challenge.Derive(source(p).Snapshot()) != p.Challenge {
		return nil, ErrContentChanged
	}
	if a.CredentialID != p.CredentialID {
		return nil, fmt.Errorf("credential %s: %w", a.CredentialID, ErrCredentialNotAllowed)
	}

	cred, err := s.creds.Get(ctx, a.CredentialID)
	if err != nil {
		return nil, err
	}
	res, err := assertion.NewVerifier(s.rpID).Verify(a, cred.PublicKeyPEM, p.Challenge)
	if err != nil {
		return nil, err
	}
	if !res.Valid() {
		return &res, &SignatureError{Result: res}
	}

	count, err := assertion.SignCount(a)
	if err != nil {
		return nil, err
	}
	if count != 0 && cred.Counter != 0 && count <= cred.Counter {
		return nil, fmt.Errorf("%w: stored %d, presented %d", ErrCounterReplay, cred.Counter, count)
	}
	if count > cred.Counter {
		if err := s.creds.UpdateCounter(ctx, cred.ID, count); err != nil {
			return nil, err
		}
	}

	encoded, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encoding assertion: %w", err)
	}
	if _, err := s.store.Advance(ctx, promiseID, store.StateSigned, func(p *store.Promise) error {
		p.Assertion = string(encoded)
		return nil
	}); err != nil {
		return nil, err
	}
	log.WithPromise(promiseID).Info("promise signed", "credential_id", a.CredentialID)
	return &res, nil
}

// BuildArtifact assembles and saves the self-signed artifact for a signed
// promise. For a promise already in StateArtifactBuilt it returns the saved
// artifact.
func (s *Service) BuildArtifact(ctx context.Context, promiseID string) (*artifact.Signed, error) {
	p, err := s.store.GetPromise(ctx, promiseID)
	if err != nil {
		return nil, err
	}
	if p.State == store.StateArtifactBuilt {
		return s.loadSigned(promiseID)
	}
	if p.State != store.StateSigned {
		return nil, &StateError{PromiseID: promiseID, Op: "build artifact", State: p.State}
	}

	var a assertion.Assertion
	if err := json.Unmarshal([]byte(p.Assertion), &a); err != nil {
		return nil, fmt.Errorf("decoding stored assertion: %w", err)
	}
	cred, err := s.creds.Get(ctx, a.CredentialID)
	if err != nil {
		return nil, err
	}
	signed, err := s.codec.Build(source(p), a, cred.PublicKeyPEM, p.Challenge)
	if err != nil {
		return nil, err
	}

	var path string
	if _, err := s.store.Advance(ctx, promiseID, store.StateArtifactBuilt, func(*store.Promise) error {
		var saveErr error
		path, saveErr = s.artifacts.Save(promiseID, signed)
		return saveErr
	}); err != nil {
		return nil, err
	}
	log.WithPromise(promiseID).Info("artifact built", "path", path)
	return signed, nil
}

func (s *Service) loadSigned(promiseID string) (*artifact.Signed, error) {
	a, err := s.artifacts.Load(promiseID, artifact.KindSelfSigned)
	if err != nil {
		return nil, err
	}
	signed, ok := a.(*artifact.Signed)
	if !ok {
		return nil, fmt.Errorf("%w: stored %s artifact", artifact.ErrUnknownKind, a.Kind())
	}
	return signed, nil
}

// Record saves and returns the fingerprint record of a certified promise.
func (s *Service) Record(ctx context.Context, promiseID string) (*artifact.Record, error) {
	p, err := s.store.GetPromise(ctx, promiseID)
	if err != nil {
		return nil, err
	}
	if !p.State.AtLeast(store.StateCertified) {
		return nil, &StateError{PromiseID: promiseID, Op: "record", State: p.State}
	}
	rec := s.codec.Record(source(p), p.CredentialID, p.FingerprintHash, p.PublicKey, p.Certificate)
	if _, err := s.artifacts.Save(promiseID, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Open decrypts a promise's sealed envelope and checks it against the
// stored fingerprint and per-promise public key.
func (s *Service) Open(ctx context.Context, promiseID string) (*seal.Payload, error) {
	p, err := s.store.GetPromise(ctx, promiseID)
	if err != nil {
		return nil, err
	}
	if !p.State.AtLeast(store.StateSealed) {
		return nil, &StateError{PromiseID: promiseID, Op: "open", State: p.State}
	}
	payload, err := seal.Open(p.Envelope)
	if err != nil {
		return nil, err
	}
	if payload.Fingerprint != p.FingerprintHash {
		return nil, ErrFingerprintMismatch
	}
	priv, err := parsePrivateKey(payload.PrivateKeyMaterial)
	if err != nil {
		return nil, err
	}
	pub, err := assertion.EncodePublicKey(priv.Public())
	if err != nil {
		return nil, err
	}
	if pub != p.PublicKey {
		return nil, fmt.Errorf("sealed private key does not match promise %s public key", promiseID)
	}
	return payload, nil
}
