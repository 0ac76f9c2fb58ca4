package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/majorcontext/pledge/internal/id"
	"github.com/majorcontext/pledge/internal/promise"
	"github.com/majorcontext/pledge/internal/store"
	"github.com/majorcontext/pledge/internal/ui"
)

var (
	credUser     string
	credID       string
	credKeyFile  string
	credCounter  uint32
	credListUser string
)

var credentialCmd = &cobra.Command{
	Use:     "credential",
	Aliases: []string{"cred"},
	Short:   "Manage registered WebAuthn credentials",
}

var credentialAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a credential public key for a user",
	Long: `Register a WebAuthn credential for a user. The public key is the
authenticator's credential key in PEM form. Registering an id that already
belongs to another user fails. Without --user a new user id is generated.

Example:
  pledge credential add --user usr_0a1b2c3d4e5f --id cred-1 --public-key cred.pem`,
	Args: cobra.NoArgs,
	RunE: runCredentialAdd,
}

var credentialListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered credentials",
	Args:  cobra.NoArgs,
	RunE:  runCredentialList,
}

func init() {
	rootCmd.AddCommand(credentialCmd)
	credentialCmd.AddCommand(credentialAddCmd)
	credentialCmd.AddCommand(credentialListCmd)

	credentialAddCmd.Flags().StringVar(&credUser, "user", "", "owning user id (default: a new usr_ id)")
	credentialAddCmd.Flags().StringVar(&credID, "id", "", "credential id")
	credentialAddCmd.Flags().StringVar(&credKeyFile, "public-key", "", "PEM public key file")
	credentialAddCmd.Flags().Uint32Var(&credCounter, "counter", 0, "initial signature counter")
	_ = credentialAddCmd.MarkFlagRequired("id")
	_ = credentialAddCmd.MarkFlagRequired("public-key")

	credentialListCmd.Flags().StringVar(&credListUser, "user", "", "only list credentials of this user")
}

func runCredentialAdd(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	publicKey, err := readPEM(credKeyFile)
	if err != nil {
		return err
	}

	svc, closeFn, err := openService(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	userID := credUser
	if userID == "" {
		userID = id.Generate(id.PrefixUser)
	}
	ch, err := svc.BeginRegistration(ctx, userID)
	if err != nil {
		return err
	}
	cred, err := svc.RegisterCredential(ctx, userID, promise.RegistrationResponse{
		CredentialID: credID,
		PublicKeyPEM: publicKey,
		Counter:      credCounter,
		Challenge:    ch,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOut {
		return printJSON(out, credentialView{ID: cred.ID, UserID: cred.UserID, Counter: cred.Counter})
	}
	fmt.Fprintf(out, "%s Registered credential %s for %s\n", ui.OKTag(), cred.ID, cred.UserID)
	return nil
}

type credentialView struct {
	ID      string `json:"id"`
	UserID  string `json:"userId"`
	Counter uint32 `json:"counter"`
	Created string `json:"createdAt,omitempty"`
}

func runCredentialList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	creds, err := st.ListCredentials(ctx, credListUser)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOut {
		views := make([]credentialView, 0, len(creds))
		for _, c := range creds {
			views = append(views, credentialView{
				ID:      c.ID,
				UserID:  c.UserID,
				Counter: c.Counter,
				Created: c.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
			})
		}
		return printJSON(out, views)
	}
	if len(creds) == 0 {
		fmt.Fprintln(out, "No credentials registered")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUSER\tCOUNTER\tADDED")
	for _, c := range creds {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", c.ID, c.UserID, c.Counter, formatAge(c.CreatedAt))
	}
	return w.Flush()
}
