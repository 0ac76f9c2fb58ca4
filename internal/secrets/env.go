package secrets

import (
	"context"
	"os"
	"strings"
)

// EnvResolver reads secrets from environment variables: env://VAR_NAME.
type EnvResolver struct{}

// Scheme returns "env".
func (r *EnvResolver) Scheme() string { return "env" }

// Resolve returns the value of the named variable. Unset and empty
// variables are both reported as not found.
func (r *EnvResolver) Resolve(ctx context.Context, reference string) (string, error) {
	name := strings.TrimPrefix(reference, "env://")
	if name == "" || strings.ContainsAny(name, "/= ") {
		return "", &InvalidReferenceError{Reference: reference, Reason: "expected env://VARIABLE_NAME"}
	}
	v := os.Getenv(name)
	if v == "" {
		return "", &NotFoundError{Reference: reference, Backend: "environment"}
	}
	return v, nil
}

func init() {
	Register(&EnvResolver{})
}
