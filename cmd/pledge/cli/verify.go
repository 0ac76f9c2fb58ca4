package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/majorcontext/pledge/internal/artifact"
	"github.com/majorcontext/pledge/internal/certificate"
	"github.com/majorcontext/pledge/internal/promise"
)

var (
	verifyRPID          string
	verifyWithAuthority bool
	verifyParallel      int
)

var verifyCmd = &cobra.Command{
	Use:   "verify <artifact.json>...",
	Short: "Verify promise artifacts offline",
	Long: `Verify one or more promise artifact files without access to the store.

Self-signed artifacts are checked by recomputing the challenge from the
artifact's own fields and verifying the embedded WebAuthn signature. Any edit
to the id, title, content, delivery date, or creator invalidates it. The
signature origin and the artifact's rpId must match the configured relying
party (relying_party.id, or --rp-id).

Fingerprint records carry only an authority certificate and need
--with-authority, which resolves the configured authority secret.

Examples:
  pledge verify ./prm_0a1b2c3d4e5f.json
  pledge verify --rp-id pledge.example *.json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().StringVar(&verifyRPID, "rp-id", "", "relying party id (default: relying_party.id from config)")
	verifyCmd.Flags().BoolVar(&verifyWithAuthority, "with-authority", false, "verify fingerprint-record certificates with the configured authority")
	verifyCmd.Flags().IntVar(&verifyParallel, "parallel", 4, "maximum concurrent verifications")
}

func runVerify(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	var authority *certificate.Authority
	if verifyWithAuthority {
		var err error
		if authority, err = loadAuthority(ctx); err != nil {
			return err
		}
	}
	codec := artifact.NewCodec(relyingParty(verifyRPID), authority)

	docs := make([][]byte, len(args))
	for i, path := range args {
		data, err := readInput(path)
		if err != nil {
			return err
		}
		docs[i] = data
	}

	results := promise.VerifyBatch(ctx, codec, docs, verifyParallel)

	out := cmd.OutOrStdout()
	invalid := 0
	for i, res := range results {
		if err := reportArtifact(out, args[i], res, false); err != nil {
			invalid++
		}
		if i < len(results)-1 && !jsonOut {
			fmt.Fprintln(out)
		}
	}
	if invalid > 0 {
		return fmt.Errorf("%d of %d artifacts failed verification", invalid, len(results))
	}
	return nil
}
