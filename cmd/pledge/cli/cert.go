package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/majorcontext/pledge/internal/certificate"
)

var (
	certPromiseID    string
	certPublicKey    string
	certFingerprint  string
	certCredentialID string
	certVerifyKey    string
)

var certCmd = &cobra.Command{
	Use:   "cert",
	Short: "Issue and verify authority certificates",
}

var certIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a certificate binding a promise to a public key",
	Long: `Issue an HMAC-SHA256 certificate over {promiseId, publicKey,
fingerprintHash, issuedAt, issuer} using the configured authority secret.

Example:
  pledge cert issue --promise-id prm_0a1b2c3d4e5f --public-key key.pub --credential-id <id>`,
	Args: cobra.NoArgs,
	RunE: runCertIssue,
}

var certVerifyCmd = &cobra.Command{
	Use:   "verify <certificate-file|->",
	Short: "Verify a certificate",
	Long: `Verify a certificate's authority signature. With --public-key the
certificate must also be bound to that key.`,
	Args: cobra.ExactArgs(1),
	RunE: runCertVerify,
}

func init() {
	rootCmd.AddCommand(certCmd)
	certCmd.AddCommand(certIssueCmd)
	certCmd.AddCommand(certVerifyCmd)

	certIssueCmd.Flags().StringVar(&certPromiseID, "promise-id", "", "promise id")
	certIssueCmd.Flags().StringVar(&certPublicKey, "public-key", "", "PEM public key file")
	certIssueCmd.Flags().StringVar(&certFingerprint, "fingerprint", "", "fingerprint hash")
	certIssueCmd.Flags().StringVar(&certCredentialID, "credential-id", "", "derive the fingerprint hash from this credential id")
	_ = certIssueCmd.MarkFlagRequired("promise-id")
	_ = certIssueCmd.MarkFlagRequired("public-key")
	certIssueCmd.MarkFlagsMutuallyExclusive("fingerprint", "credential-id")

	certVerifyCmd.Flags().StringVar(&certVerifyKey, "public-key", "", "require the certificate to bind this PEM public key")
}

func runCertIssue(cmd *cobra.Command, args []string) error {
	authority, err := loadAuthority(context.Background())
	if err != nil {
		return err
	}
	publicKey, err := readPEM(certPublicKey)
	if err != nil {
		return err
	}
	fingerprint := certFingerprint
	if certCredentialID != "" {
		fingerprint = certificate.FingerprintHash(certCredentialID)
	}
	if fingerprint == "" {
		return fmt.Errorf("one of --fingerprint or --credential-id is required")
	}

	cert, err := authority.Issue(certPromiseID, publicKey, fingerprint)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), cert)
	return nil
}

func runCertVerify(cmd *cobra.Command, args []string) error {
	authority, err := loadAuthority(context.Background())
	if err != nil {
		return err
	}
	raw, err := readTrimmed(args[0])
	if err != nil {
		return err
	}
	var publicKey string
	if certVerifyKey != "" {
		if publicKey, err = readPEM(certVerifyKey); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	cert, decodeErr := certificate.Decode(raw)
	valid := decodeErr == nil && authority.VerifyDecoded(cert, publicKey)

	if jsonOut {
		if err := printJSON(out, struct {
			Valid       bool                     `json:"valid"`
			Certificate *certificate.Certificate `json:"certificate,omitempty"`
		}{valid, cert}); err != nil {
			return err
		}
	} else if cert != nil {
		fmt.Fprintf(out, "Promise:     %s\n", cert.Data.PromiseID)
		fmt.Fprintf(out, "Issuer:      %s\n", cert.Data.Issuer)
		fmt.Fprintf(out, "Issued:      %s\n", cert.IssuedTime().Format(time.RFC3339))
		fmt.Fprintf(out, "Fingerprint: %s\n", cert.Data.FingerprintHash)
	}
	if !valid {
		if decodeErr != nil {
			return decodeErr
		}
		return fmt.Errorf("certificate is not valid")
	}
	if !jsonOut {
		fmt.Fprintln(out, "Certificate is valid")
	}
	return nil
}
