package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/majorcontext/pledge/internal/seal"
)

var (
	sealContentFile string
	sealKeyFile     string
	sealFingerprint string
	sealOutput      string
	openShowKey     bool
)

var sealCmd = &cobra.Command{
	Use:   "seal",
	Short: "Seal content into an AES-256-GCM envelope",
	Long: `Seal content, private key material, and a fingerprint token into a
base64 envelope. The envelope carries its own key: sealing provides
integrity and tamper evidence, not confidentiality.

Example:
  pledge seal --content promise.txt --private-key key.pem --fingerprint <hash>`,
	Args: cobra.NoArgs,
	RunE: runSeal,
}

var openCmd = &cobra.Command{
	Use:   "open <envelope-file|->",
	Short: "Open a sealed envelope",
	Long: `Decrypt a sealed envelope and print its content, fingerprint, and
sealing time. Any tampering with the envelope makes opening fail.`,
	Args: cobra.ExactArgs(1),
	RunE: runOpen,
}

func init() {
	rootCmd.AddCommand(sealCmd)
	rootCmd.AddCommand(openCmd)

	sealCmd.Flags().StringVar(&sealContentFile, "content", "", "file holding the content (- for stdin)")
	sealCmd.Flags().StringVar(&sealKeyFile, "private-key", "", "PEM file with private key material")
	sealCmd.Flags().StringVar(&sealFingerprint, "fingerprint", "", "fingerprint token")
	sealCmd.Flags().StringVarP(&sealOutput, "output", "o", "", "write the envelope to a file")
	_ = sealCmd.MarkFlagRequired("content")

	openCmd.Flags().BoolVar(&openShowKey, "show-key", false, "include the sealed private key material")
}

func runSeal(cmd *cobra.Command, args []string) error {
	content, err := readInput(sealContentFile)
	if err != nil {
		return err
	}
	var keyMaterial string
	if sealKeyFile != "" {
		if keyMaterial, err = readTrimmed(sealKeyFile); err != nil {
			return err
		}
	}
	envelope, err := seal.Seal(string(content), keyMaterial, sealFingerprint)
	if err != nil {
		return err
	}
	return writeOutput(cmd.OutOrStdout(), sealOutput, []byte(envelope))
}

func runOpen(cmd *cobra.Command, args []string) error {
	envelope, err := readTrimmed(args[0])
	if err != nil {
		return err
	}
	payload, err := seal.Open(envelope)
	if err != nil {
		return err
	}
	if !openShowKey {
		payload.PrivateKeyMaterial = ""
	}

	out := cmd.OutOrStdout()
	if jsonOut {
		return printJSON(out, payload)
	}
	fmt.Fprintf(out, "Fingerprint: %s\n", payload.Fingerprint)
	fmt.Fprintf(out, "Sealed at:   %s\n", payload.SealedAt().Format("2006-01-02 15:04:05 MST"))
	if openShowKey {
		fmt.Fprintf(out, "Private key:\n%s\n", payload.PrivateKeyMaterial)
	}
	fmt.Fprintf(out, "\n%s\n", payload.Content)
	return nil
}
