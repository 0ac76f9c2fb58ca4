package secrets

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/majorcontext/pledge/internal/keyring"
)

// KeyringReference selects the system keychain as the secret source.
const KeyringReference = "keyring"

// AuthoritySecret turns the configured authority secret setting into the
// secret string handed to the certificate authority. It returns "" when the
// setting is empty so the caller can apply its default.
func AuthoritySecret(ctx context.Context, setting string) (string, error) {
	switch {
	case setting == "":
		return "", nil
	case setting == KeyringReference:
		raw, err := keyring.GetOrCreateSecret()
		if err != nil {
			return "", fmt.Errorf("loading authority secret from keyring: %w", err)
		}
		return base64.StdEncoding.EncodeToString(raw), nil
	case IsReference(setting):
		v, err := Resolve(ctx, setting)
		if err != nil {
			return "", fmt.Errorf("resolving authority secret: %w", err)
		}
		return v, nil
	default:
		return setting, nil
	}
}
