package seal

import "errors"

// ErrDecryption matches every *DecryptionError via errors.Is.
var ErrDecryption = errors.New("decryption failed")

// DecryptionError reports a malformed envelope, a failed authentication tag,
// or an undecodable payload. It is fatal to the calling request.
type DecryptionError struct {
	Reason string
	Err    error
}

func (e *DecryptionError) Error() string {
	if e.Err != nil {
		return "decryption failed: " + e.Reason + ": " + e.Err.Error()
	}
	return "decryption failed: " + e.Reason
}

func (e *DecryptionError) Unwrap() error {
	return e.Err
}

// Is reports ErrDecryption as a match.
func (e *DecryptionError) Is(target error) bool {
	return target == ErrDecryption
}
