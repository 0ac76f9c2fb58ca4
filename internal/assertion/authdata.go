package assertion

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// authenticatorData layout: rpIdHash(32) || flags(1) || signCount(4) || ...
const minAuthDataLen = 37

// ParseClientData decodes the assertion's clientDataJSON.
func ParseClientData(a Assertion) (ClientData, error) {
	var cd ClientData
	raw, err := DecodeBase64URL(a.ClientDataJSON)
	if err != nil {
		return cd, fmt.Errorf("%w: clientDataJSON: %v", ErrMalformedAssertion, err)
	}
	if err := json.Unmarshal(raw, &cd); err != nil {
		return cd, fmt.Errorf("%w: clientDataJSON: %v", ErrMalformedAssertion, err)
	}
	return cd, nil
}

// SignCount returns the authenticator's signature counter.
func SignCount(a Assertion) (uint32, error) {
	authData, err := DecodeBase64URL(a.AuthenticatorData)
	if err != nil {
		return 0, fmt.Errorf("%w: authenticatorData: %v", ErrMalformedAssertion, err)
	}
	if len(authData) < minAuthDataLen {
		return 0, fmt.Errorf("%w: authenticatorData is %d bytes, need at least %d", ErrMalformedAssertion, len(authData), minAuthDataLen)
	}
	return binary.BigEndian.Uint32(authData[33:37]), nil
}
