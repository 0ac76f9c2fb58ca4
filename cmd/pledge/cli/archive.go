package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/majorcontext/pledge/internal/artifact"
)

var archiveRPID string

var archiveCmd = &cobra.Command{
	Use:   "archive <artifact.json|->",
	Short: "Decrypt the archived content of a self-signed artifact",
	Long: `Verify a self-signed artifact and, only if every check passes,
decrypt its archived content with the key derived from the promise id,
creator id, and archive timestamp. The decrypted text must equal the signed
content.`,
	Args: cobra.ExactArgs(1),
	RunE: runArchive,
}

func init() {
	rootCmd.AddCommand(archiveCmd)
	archiveCmd.Flags().StringVar(&archiveRPID, "rp-id", "", "relying party id (default: relying_party.id from config)")
}

func runArchive(cmd *cobra.Command, args []string) error {
	data, err := readInput(args[0])
	if err != nil {
		return err
	}
	a, err := artifact.Decode(data)
	if err != nil {
		return err
	}
	signed, ok := a.(*artifact.Signed)
	if !ok {
		return fmt.Errorf("%s artifacts carry no archive", a.Kind())
	}

	content, res, err := artifact.NewCodec(relyingParty(archiveRPID), nil).OpenArchive(signed)
	out := cmd.OutOrStdout()
	if errors.Is(err, artifact.ErrNotVerified) && res != nil {
		_ = reportArtifact(out, args[0], res, false)
		return err
	}
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(out, struct {
			ID         string `json:"id"`
			Content    string `json:"content"`
			ArchivedAt int64  `json:"archivedAt"`
		}{signed.ID, content, signed.ArchivedAt})
	}
	fmt.Fprintln(out, content)
	return nil
}
