package secrets

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/majorcontext/pledge/internal/keyring"
)

type mockResolver struct {
	scheme string
	values map[string]string
}

func (m *mockResolver) Scheme() string {
	return m.scheme
}

func (m *mockResolver) Resolve(ctx context.Context, ref string) (string, error) {
	if v, ok := m.values[ref]; ok {
		return v, nil
	}
	return "", &NotFoundError{Reference: ref}
}

// withTestRegistry runs fn against an empty registry and restores the
// built-in resolvers afterwards.
func withTestRegistry(fn func()) {
	mu.Lock()
	saved := resolvers
	mu.Unlock()
	clearRegistry()
	defer func() {
		mu.Lock()
		resolvers = saved
		mu.Unlock()
	}()
	fn()
}

func TestResolve_DispatchesToCorrectResolver(t *testing.T) {
	withTestRegistry(func() {
		Register(&mockResolver{
			scheme: "mock",
			values: map[string]string{"mock://vault/item": "secret-value"},
		})

		val, err := Resolve(context.Background(), "mock://vault/item")
		if err != nil {
			t.Fatal(err)
		}
		if val != "secret-value" {
			t.Errorf("expected 'secret-value', got %q", val)
		}
	})
}

func TestResolve_UnsupportedScheme(t *testing.T) {
	withTestRegistry(func() {
		_, err := Resolve(context.Background(), "unknown://vault/item")
		var unsupported *UnsupportedSchemeError
		if !errors.As(err, &unsupported) {
			t.Errorf("expected UnsupportedSchemeError, got %T", err)
		}
	})
}

func TestResolve_InvalidReference(t *testing.T) {
	_, err := Resolve(context.Background(), "no-scheme-here")
	var invalid *InvalidReferenceError
	if !errors.As(err, &invalid) {
		t.Errorf("expected InvalidReferenceError, got %T", err)
	}
}

func TestBuiltinResolversRegistered(t *testing.T) {
	for _, scheme := range []string{"env", "ssm", "awssm"} {
		mu.RLock()
		_, ok := resolvers[scheme]
		mu.RUnlock()
		if !ok {
			t.Errorf("no resolver registered for %q", scheme)
		}
	}
}

func TestEnvResolver(t *testing.T) {
	t.Setenv("PLEDGE_TEST_AUTHORITY", "from-env")

	v, err := Resolve(context.Background(), "env://PLEDGE_TEST_AUTHORITY")
	if err != nil {
		t.Fatal(err)
	}
	if v != "from-env" {
		t.Errorf("got %q, want %q", v, "from-env")
	}

	_, err = Resolve(context.Background(), "env://PLEDGE_TEST_UNSET_VARIABLE")
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Errorf("expected NotFoundError, got %v", err)
	}

	_, err = Resolve(context.Background(), "env://")
	var invalid *InvalidReferenceError
	if !errors.As(err, &invalid) {
		t.Errorf("expected InvalidReferenceError, got %v", err)
	}
}

func TestAuthoritySecret(t *testing.T) {
	ctx := context.Background()

	t.Run("empty", func(t *testing.T) {
		v, err := AuthoritySecret(ctx, "")
		if err != nil || v != "" {
			t.Errorf("AuthoritySecret(\"\") = %q, %v", v, err)
		}
	})

	t.Run("literal", func(t *testing.T) {
		v, err := AuthoritySecret(ctx, "plain-secret")
		if err != nil || v != "plain-secret" {
			t.Errorf("AuthoritySecret(literal) = %q, %v", v, err)
		}
	})

	t.Run("reference", func(t *testing.T) {
		t.Setenv("PLEDGE_TEST_AUTHORITY", "resolved")
		v, err := AuthoritySecret(ctx, "env://PLEDGE_TEST_AUTHORITY")
		if err != nil || v != "resolved" {
			t.Errorf("AuthoritySecret(env) = %q, %v", v, err)
		}
	})

	t.Run("keyring", func(t *testing.T) {
		t.Setenv("PLEDGE_HOME", t.TempDir())
		t.Setenv("PLEDGE_KEYRING_SERVICE", "pledge-secrets-test")

		v1, err := AuthoritySecret(ctx, KeyringReference)
		if err != nil {
			t.Skipf("no keyring backend available: %v", err)
		}
		defer func() { _ = keyring.DeleteSecret() }()

		raw, err := base64.StdEncoding.DecodeString(v1)
		if err != nil || len(raw) != 32 {
			t.Fatalf("keyring secret = %q, want base64 of 32 bytes", v1)
		}
		v2, err := AuthoritySecret(ctx, KeyringReference)
		if err != nil || v2 != v1 {
			t.Errorf("second lookup = %q, %v; want stable secret", v2, err)
		}
	})

	t.Run("unresolvable", func(t *testing.T) {
		if _, err := AuthoritySecret(ctx, "env://PLEDGE_TEST_UNSET_VARIABLE"); err == nil {
			t.Error("expected error")
		}
	})
}
