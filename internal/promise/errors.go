package promise

import (
	"errors"
	"fmt"

	"github.com/majorcontext/pledge/internal/assertion"
	"github.com/majorcontext/pledge/internal/store"
)

var (
	// ErrNotCreator is returned when a user acts on someone else's promise.
	ErrNotCreator = errors.New("user is not the promise creator")
	// ErrCredentialNotAllowed is returned when an assertion or promise
	// names a credential the user cannot use.
	ErrCredentialNotAllowed = errors.New("credential not allowed")
	// ErrCounterReplay is returned when an authenticator's signature
	// counter did not increase.
	ErrCounterReplay = errors.New("signature counter did not increase")
	// ErrContentChanged is returned when the stored promise no longer
	// matches the challenge issued for it.
	ErrContentChanged = errors.New("promise content changed since the challenge was issued")
	// ErrFingerprintMismatch is returned by Open when the sealed fingerprint
	// differs from the stored one.
	ErrFingerprintMismatch = errors.New("sealed fingerprint does not match promise")
)

// StateError reports an operation attempted in the wrong lifecycle state.
type StateError struct {
	PromiseID string
	Op        string
	State     store.State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("promise %s: cannot %s in state %s", e.PromiseID, e.Op, e.State)
}

// SignatureError carries the verifier result of a rejected assertion.
type SignatureError struct {
	Result assertion.Result
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("assertion rejected (challenge=%t clientData=%t signature=%t)",
		e.Result.ChallengeValid, e.Result.ClientDataValid, e.Result.SignatureValid)
}
