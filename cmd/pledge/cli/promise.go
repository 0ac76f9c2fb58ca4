package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/majorcontext/pledge/internal/assertion"
	"github.com/majorcontext/pledge/internal/promise"
	"github.com/majorcontext/pledge/internal/store"
	"github.com/majorcontext/pledge/internal/ui"
)

var (
	createTitle        string
	createContentFile  string
	createDeliveryDate string
	createCreatorID    string
	createCreatorName  string
	createCredentialID string

	promiseUser     string
	promiseListUser string
	signAssertion   string
	promiseOutput   string
	promiseOpenShow bool
)

var promiseCmd = &cobra.Command{
	Use:   "promise",
	Short: "Create, sign, and verify promises",
	Long: `Manage promises through their lifecycle:

  created → sealed → certified → challenge_issued → signed → artifact_built

"promise create" seals and certifies a new promise. "promise challenge"
prints the WebAuthn assertion options for the creator's authenticator, and
"promise sign" submits the resulting assertion. "promise artifact" then
builds the self-signed artifact that "pledge verify" checks offline.`,
}

var promiseCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create, seal, and certify a promise",
	Long: `Create a promise. Its content is sealed together with a fresh
per-promise key and the authority certifies the key's fingerprint binding.

Example:
  pledge promise create --title Rent --content promise.txt \
    --delivery-date 2025-03-01 --creator-id usr_0a1b2c3d4e5f --credential-id cred-1`,
	Args: cobra.NoArgs,
	RunE: runPromiseCreate,
}

var promiseListCmd = &cobra.Command{
	Use:   "list",
	Short: "List promises",
	Args:  cobra.NoArgs,
	RunE:  runPromiseList,
}

var promiseShowCmd = &cobra.Command{
	Use:   "show <promise-id>",
	Short: "Show a promise and its lifecycle history",
	Args:  promiseIDArg,
	RunE:  runPromiseShow,
}

var promiseChallengeCmd = &cobra.Command{
	Use:   "challenge <promise-id>",
	Short: "Issue the signing challenge and print assertion options",
	Args:  promiseIDArg,
	RunE:  runPromiseChallenge,
}

var promiseSignCmd = &cobra.Command{
	Use:   "sign <promise-id>",
	Short: "Submit the creator's WebAuthn assertion",
	Long: `Verify the creator's assertion over the promise challenge and move
the promise to signed. The assertion file holds {credentialId,
clientDataJSON, authenticatorData, signature, userHandle}.`,
	Args: promiseIDArg,
	RunE: runPromiseSign,
}

var promiseArtifactCmd = &cobra.Command{
	Use:   "artifact <promise-id>",
	Short: "Build the self-signed artifact of a signed promise",
	Args:  promiseIDArg,
	RunE:  runPromiseArtifact,
}

var promiseRecordCmd = &cobra.Command{
	Use:   "record <promise-id>",
	Short: "Export the fingerprint record of a certified promise",
	Args:  promiseIDArg,
	RunE:  runPromiseRecord,
}

var promiseVerifyCmd = &cobra.Command{
	Use:   "verify <promise-id>",
	Short: "Verify a promise against the store",
	Args:  promiseIDArg,
	RunE:  runPromiseVerify,
}

var promiseOpenCmd = &cobra.Command{
	Use:   "open <promise-id>",
	Short: "Open a promise's sealed envelope",
	Args:  promiseIDArg,
	RunE:  runPromiseOpen,
}

func init() {
	rootCmd.AddCommand(promiseCmd)
	promiseCmd.AddCommand(promiseCreateCmd, promiseListCmd, promiseShowCmd,
		promiseChallengeCmd, promiseSignCmd, promiseArtifactCmd,
		promiseRecordCmd, promiseVerifyCmd, promiseOpenCmd)

	f := promiseCreateCmd.Flags()
	f.StringVar(&createTitle, "title", "", "promise title")
	f.StringVar(&createContentFile, "content", "", "file holding the promise content (- for stdin)")
	f.StringVar(&createDeliveryDate, "delivery-date", "", "delivery date")
	f.StringVar(&createCreatorID, "creator-id", "", "creator user id")
	f.StringVar(&createCreatorName, "creator-name", "", "creator display name")
	f.StringVar(&createCredentialID, "credential-id", "", "creator's registered credential id")
	for _, name := range []string{"title", "content", "delivery-date", "creator-id", "credential-id"} {
		_ = promiseCreateCmd.MarkFlagRequired(name)
	}

	promiseListCmd.Flags().StringVar(&promiseListUser, "creator", "", "only list promises of this creator")

	for _, c := range []*cobra.Command{promiseChallengeCmd, promiseSignCmd} {
		c.Flags().StringVar(&promiseUser, "user", "", "signing user id")
		_ = c.MarkFlagRequired("user")
	}
	promiseSignCmd.Flags().StringVar(&signAssertion, "assertion", "", "assertion JSON file (- for stdin)")
	_ = promiseSignCmd.MarkFlagRequired("assertion")

	for _, c := range []*cobra.Command{promiseArtifactCmd, promiseRecordCmd} {
		c.Flags().StringVarP(&promiseOutput, "output", "o", "", "also write the artifact to a file")
	}
	promiseOpenCmd.Flags().BoolVar(&promiseOpenShow, "show-key", false, "include the sealed private key material")
}

type promiseView struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Content      string    `json:"content,omitempty"`
	DeliveryDate string    `json:"deliveryDate"`
	CreatorID    string    `json:"creatorId"`
	CreatorName  string    `json:"creatorName,omitempty"`
	CredentialID string    `json:"credentialId"`
	State        string    `json:"state"`
	Challenge    string    `json:"challenge,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func viewOf(p *store.Promise, withContent bool) promiseView {
	v := promiseView{
		ID:           p.ID,
		Title:        p.Title,
		DeliveryDate: p.DeliveryDate,
		CreatorID:    p.CreatorID,
		CreatorName:  p.CreatorName,
		CredentialID: p.CredentialID,
		State:        string(p.State),
		Challenge:    p.Challenge,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
	if withContent {
		v.Content = p.Content
	}
	return v
}

func runPromiseCreate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	content, err := readInput(createContentFile)
	if err != nil {
		return err
	}

	svc, closeFn, err := openService(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	p, err := svc.Create(ctx, promise.CreateRequest{
		Title:        createTitle,
		Content:      string(content),
		DeliveryDate: createDeliveryDate,
		CreatorID:    createCreatorID,
		CreatorName:  createCreatorName,
		CredentialID: createCredentialID,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOut {
		return printJSON(out, viewOf(p, false))
	}
	fmt.Fprintf(out, "%s Created promise %s (%s)\n", ui.OKTag(), ui.Bold(p.ID), p.State)
	fmt.Fprintf(out, "  Next: pledge promise challenge %s --user %s\n", p.ID, p.CreatorID)
	return nil
}

func runPromiseList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	svc, closeFn, err := openService(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	promises, err := svc.List(ctx, promiseListUser)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOut {
		views := make([]promiseView, 0, len(promises))
		for _, p := range promises {
			views = append(views, viewOf(p, false))
		}
		return printJSON(out, views)
	}
	if len(promises) == 0 {
		fmt.Fprintln(out, "No promises")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tCREATOR\tSTATE\tDELIVERY\tCREATED")
	for _, p := range promises {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			p.ID, truncate(p.Title, 32), p.CreatorID, p.State, p.DeliveryDate, formatAge(p.CreatedAt))
	}
	return w.Flush()
}

func runPromiseShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	svc, closeFn, err := openService(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	p, err := svc.Get(ctx, args[0])
	if err != nil {
		return err
	}
	events, err := svc.History(ctx, p.ID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOut {
		return printJSON(out, struct {
			promiseView
			Events []*store.Event `json:"events"`
		}{viewOf(p, true), events})
	}
	fmt.Fprintf(out, "%s  %s\n", ui.Bold(p.ID), p.Title)
	fmt.Fprintf(out, "  State:      %s\n", p.State)
	fmt.Fprintf(out, "  Creator:    %s\n", creatorLabel(p))
	fmt.Fprintf(out, "  Delivery:   %s\n", p.DeliveryDate)
	fmt.Fprintf(out, "  Credential: %s\n", p.CredentialID)
	if p.Challenge != "" {
		fmt.Fprintf(out, "  Challenge:  %s\n", p.Challenge)
	}
	fmt.Fprintf(out, "\n%s\n\nHistory:\n", p.Content)
	for _, e := range events {
		from := string(e.From)
		if from == "" {
			from = "-"
		}
		fmt.Fprintf(out, "  %4d  %s  %s → %s\n", e.Sequence, e.Timestamp.Local().Format("2006-01-02 15:04:05"), from, e.To)
	}
	return nil
}

func runPromiseChallenge(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	svc, closeFn, err := openService(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	opts, err := svc.BeginSigning(ctx, args[0], promiseUser)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOut {
		return printJSON(out, opts)
	}
	fmt.Fprintf(out, "Challenge:   %s\n", opts.Challenge)
	fmt.Fprintf(out, "RP ID:       %s\n", opts.RPID)
	fmt.Fprintf(out, "Credentials: %s\n", strings.Join(opts.AllowCredentials, ", "))
	fmt.Fprintf(out, "Timeout:     %s\n", opts.Timeout)
	return nil
}

func runPromiseSign(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	data, err := readInput(signAssertion)
	if err != nil {
		return err
	}
	var a assertion.Assertion
	if err := json.Unmarshal(data, &a); err != nil {
		return fmt.Errorf("parsing assertion: %w", err)
	}

	svc, closeFn, err := openService(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	// The challenge is derived from the promise content, so issuing it in
	// this process yields the value the authenticator signed.
	if _, err := svc.BeginSigning(ctx, args[0], promiseUser); err != nil {
		return err
	}
	res, err := svc.CompleteSigning(ctx, args[0], promiseUser, a)
	if err != nil {
		if res != nil && jsonOut {
			_ = printJSON(cmd.OutOrStdout(), res)
		}
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOut {
		return printJSON(out, res)
	}
	fmt.Fprintf(out, "%s Promise %s signed\n", ui.OKTag(), args[0])
	fmt.Fprintf(out, "  Next: pledge promise artifact %s\n", args[0])
	return nil
}

func runPromiseArtifact(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	svc, closeFn, err := openService(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	signed, err := svc.BuildArtifact(ctx, args[0])
	if err != nil {
		return err
	}
	return emitArtifact(cmd, signed)
}

func runPromiseRecord(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	svc, closeFn, err := openService(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	rec, err := svc.Record(ctx, args[0])
	if err != nil {
		return err
	}
	return emitArtifact(cmd, rec)
}

func emitArtifact(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeOutput(cmd.OutOrStdout(), promiseOutput, data)
}

func runPromiseVerify(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	svc, closeFn, err := openService(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	res, err := svc.VerifyOnline(ctx, args[0])
	if err != nil {
		return err
	}
	return reportArtifact(cmd.OutOrStdout(), "Promise "+args[0], res, true)
}

func runPromiseOpen(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	svc, closeFn, err := openService(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	payload, err := svc.Open(ctx, args[0])
	if err != nil {
		return err
	}
	if !promiseOpenShow {
		payload.PrivateKeyMaterial = ""
	}

	out := cmd.OutOrStdout()
	if jsonOut {
		return printJSON(out, payload)
	}
	fmt.Fprintf(out, "%s Envelope intact, fingerprint and key match\n", ui.OKTag())
	fmt.Fprintf(out, "Sealed at: %s\n", payload.SealedAt().Local().Format("2006-01-02 15:04:05 MST"))
	if promiseOpenShow {
		fmt.Fprintf(out, "Private key:\n%s\n", payload.PrivateKeyMaterial)
	}
	fmt.Fprintf(out, "\n%s\n", payload.Content)
	return nil
}

func creatorLabel(p *store.Promise) string {
	if p.CreatorName == "" {
		return p.CreatorID
	}
	return fmt.Sprintf("%s (%s)", p.CreatorName, p.CreatorID)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
