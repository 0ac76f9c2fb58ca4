package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/majorcontext/pledge/internal/assertion"
	"github.com/majorcontext/pledge/internal/ui"
)

var (
	assertionKeyFile   string
	assertionChallenge string
	assertionRPID      string
)

var verifyAssertionCmd = &cobra.Command{
	Use:   "verify-assertion <assertion.json|->",
	Short: "Verify a WebAuthn assertion against a public key and challenge",
	Long: `Verify a WebAuthn assertion ({credentialId, clientDataJSON,
authenticatorData, signature, userHandle}) with a PEM public key (ECDSA,
RSA, or Ed25519). The relying party id defaults to relying_party.id from
the config.`,
	Args: cobra.ExactArgs(1),
	RunE: runVerifyAssertion,
}

func init() {
	rootCmd.AddCommand(verifyAssertionCmd)

	verifyAssertionCmd.Flags().StringVar(&assertionKeyFile, "public-key", "", "PEM public key file")
	verifyAssertionCmd.Flags().StringVar(&assertionChallenge, "challenge", "", "expected challenge")
	verifyAssertionCmd.Flags().StringVar(&assertionRPID, "rp-id", "", "relying party id")
	_ = verifyAssertionCmd.MarkFlagRequired("public-key")
	_ = verifyAssertionCmd.MarkFlagRequired("challenge")
}

func runVerifyAssertion(cmd *cobra.Command, args []string) error {
	data, err := readInput(args[0])
	if err != nil {
		return err
	}
	var a assertion.Assertion
	if err := json.Unmarshal(data, &a); err != nil {
		return fmt.Errorf("parsing assertion: %w", err)
	}
	publicKey, err := readPEM(assertionKeyFile)
	if err != nil {
		return err
	}
	rpID := relyingParty(assertionRPID)

	res, err := assertion.NewVerifier(rpID).Verify(a, publicKey, assertionChallenge)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOut {
		if err := printJSON(out, res); err != nil {
			return err
		}
	} else {
		ui.Report(out, "Assertion "+a.CredentialID, []ui.Check{
			{Label: "challenge", OK: res.ChallengeValid},
			{Label: "client data (type, origin)", OK: res.ClientDataValid},
			{Label: "signature", OK: res.SignatureValid},
		})
	}
	if !res.Valid() {
		return fmt.Errorf("verification failed")
	}
	return nil
}
