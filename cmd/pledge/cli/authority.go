package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/majorcontext/pledge/internal/certificate"
	"github.com/majorcontext/pledge/internal/keyring"
	"github.com/majorcontext/pledge/internal/secrets"
	"github.com/majorcontext/pledge/internal/ui"
)

var authorityForce bool

var authorityCmd = &cobra.Command{
	Use:   "authority",
	Short: "Manage the certificate authority secret",
	Long: `The authority secret keys the HMAC certificates that bind promises to
credential fingerprints. authority.secret in the config selects it:

  keyring          stored in the system keychain (file fallback), created on first use
  env://VAR        read from an environment variable
  ssm://...        AWS SSM Parameter Store
  awssm://...      AWS Secrets Manager
  anything else    used literally

With no setting, a fixed development secret is used.`,
}

var authorityStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show where the authority secret comes from",
	Args:  cobra.NoArgs,
	RunE:  runAuthorityStatus,
}

var authorityResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete the keychain-held authority secret",
	Long: `Delete the authority secret from the system keychain and the fallback
file. A new secret is generated on next use. Every certificate issued with
the old secret stops verifying.`,
	Args: cobra.NoArgs,
	RunE: runAuthorityReset,
}

func init() {
	rootCmd.AddCommand(authorityCmd)
	authorityCmd.AddCommand(authorityStatusCmd, authorityResetCmd)
	authorityResetCmd.Flags().BoolVarP(&authorityForce, "force", "f", false, "skip confirmation")
}

func authoritySource(setting string) string {
	switch {
	case setting == "":
		return "default"
	case setting == secrets.KeyringReference:
		return "keyring"
	case secrets.IsReference(setting):
		return setting[:strings.Index(setting, "://")]
	default:
		return "literal"
	}
}

func runAuthorityStatus(cmd *cobra.Command, args []string) error {
	source := authoritySource(cfg.Authority.Secret)
	status := struct {
		Issuer   string `json:"issuer"`
		Source   string `json:"source"`
		Resolved bool   `json:"resolved"`
		Error    string `json:"error,omitempty"`
	}{Issuer: cfg.Authority.Issuer, Source: source}
	if status.Issuer == "" {
		status.Issuer = certificate.DefaultIssuer
	}

	if _, err := loadAuthority(context.Background()); err != nil {
		status.Error = err.Error()
	} else {
		status.Resolved = true
	}
	if source == "default" {
		ui.Warnf("using the built-in development secret; set authority.secret for real deployments")
	}

	out := cmd.OutOrStdout()
	if jsonOut {
		return printJSON(out, status)
	}
	fmt.Fprintf(out, "Issuer: %s\n", status.Issuer)
	fmt.Fprintf(out, "Source: %s\n", status.Source)
	if status.Resolved {
		fmt.Fprintf(out, "%s secret available\n", ui.OKTag())
	} else {
		fmt.Fprintf(out, "%s secret unavailable", ui.FailTag())
		if status.Error != "" {
			fmt.Fprintf(out, ": %s", status.Error)
		}
		fmt.Fprintln(out)
	}
	return nil
}

func runAuthorityReset(cmd *cobra.Command, args []string) error {
	if cfg.Authority.Secret != secrets.KeyringReference {
		return fmt.Errorf("authority secret is not keychain-held (source: %s)", authoritySource(cfg.Authority.Secret))
	}
	if !authorityForce {
		fmt.Fprint(cmd.OutOrStdout(), "Existing certificates will no longer verify. Continue? [y/N] ")
		line, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if answer := strings.ToLower(strings.TrimSpace(line)); answer != "y" && answer != "yes" {
			ui.Infof("Aborted")
			return nil
		}
	}
	if err := keyring.DeleteSecret(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s Authority secret deleted\n", ui.OKTag())
	return nil
}
