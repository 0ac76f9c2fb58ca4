package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/majorcontext/pledge/internal/artifact"
	"github.com/majorcontext/pledge/internal/certificate"
	"github.com/majorcontext/pledge/internal/challenge"
	"github.com/majorcontext/pledge/internal/id"
	"github.com/majorcontext/pledge/internal/promise"
	"github.com/majorcontext/pledge/internal/secrets"
	"github.com/majorcontext/pledge/internal/storage"
	"github.com/majorcontext/pledge/internal/store"
	"github.com/majorcontext/pledge/internal/ui"
)

// loadAuthority resolves the configured authority secret.
func loadAuthority(ctx context.Context) (*certificate.Authority, error) {
	secret, err := secrets.AuthoritySecret(ctx, cfg.Authority.Secret)
	if err != nil {
		return nil, err
	}
	return certificate.NewAuthority(secret, cfg.Authority.Issuer), nil
}

// openService wires the promise service from config. The returned close
// func releases the database.
func openService(ctx context.Context) (*promise.Service, func(), error) {
	authority, err := loadAuthority(ctx)
	if err != nil {
		return nil, nil, err
	}
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, nil, err
	}
	arts, err := storage.NewArtifactStore(cfg.Store.ArtifactsDir)
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	svc, err := promise.New(promise.Options{
		Store:     st,
		Artifacts: arts,
		Authority: authority,
		RPID:      cfg.RelyingParty.ID,
		Registry: challenge.NewRegistry(challenge.RegistryOptions{
			TTL:        cfg.Challenge.TTL,
			MaxEntries: cfg.Challenge.MaxEntries,
		}),
	})
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	return svc, func() { st.Close() }, nil
}

// readInput returns the contents of path, or stdin for "-".
func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

// readTrimmed reads a small text input such as a PEM file or envelope.
func readTrimmed(path string) (string, error) {
	data, err := readInput(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// writeOutput writes data to path, or to w when path is empty.
func writeOutput(w io.Writer, path string, data []byte) error {
	if path == "" {
		_, err := w.Write(append(data, '\n'))
		return err
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	ui.Infof("Wrote %s", path)
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// reportArtifact prints a verification result and returns an error when
// the artifact is invalid so the process exits non-zero. online adds the
// certificate check for self-signed artifacts.
func reportArtifact(w io.Writer, title string, res *artifact.Result, online bool) error {
	if jsonOut {
		if err := printJSON(w, res); err != nil {
			return err
		}
	} else {
		record := res.Kind == artifact.KindFingerprintRecord
		ui.Report(w, title, []ui.Check{
			{Label: "data intact", OK: res.DataIntact},
			{Label: "challenge matches content", OK: res.ChallengeValid, Skip: record},
			{Label: "client data (type, origin)", OK: res.ClientDataValid, Skip: record},
			{Label: "signature", OK: res.SignatureValid, Skip: record},
			{Label: "authority certificate", OK: res.CertificateValid, Skip: !record && !online},
			{Label: "credential fingerprint", OK: res.FingerprintValid, Skip: !record},
		})
		for _, f := range res.Failures() {
			fmt.Fprintf(w, "  %s\n", ui.Dim(f))
		}
	}
	if !res.Valid {
		return fmt.Errorf("verification failed")
	}
	return nil
}

func formatAge(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

// readPEM reads a PEM file normalised to end in a single newline, the form
// pledge itself writes keys in.
func readPEM(path string) (string, error) {
	s, err := readTrimmed(path)
	if err != nil {
		return "", err
	}
	return s + "\n", nil
}

// promiseIDArg accepts exactly one argument shaped like a promise id.
func promiseIDArg(cmd *cobra.Command, args []string) error {
	if err := cobra.ExactArgs(1)(cmd, args); err != nil {
		return err
	}
	if !id.Valid(args[0]) || !strings.HasPrefix(args[0], id.PrefixPromise+"_") {
		return fmt.Errorf("invalid promise id %q (expected %s_ followed by 12 hex characters)", args[0], id.PrefixPromise)
	}
	return nil
}

// relyingParty returns flag, or the configured relying party id when the
// flag is empty. Artifacts are never trusted to name their own.
func relyingParty(flag string) string {
	if flag != "" {
		return flag
	}
	return cfg.RelyingParty.ID
}
