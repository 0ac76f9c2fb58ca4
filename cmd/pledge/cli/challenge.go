package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/majorcontext/pledge/internal/challenge"
)

var (
	challengeFile string
	challengeSnap challenge.Snapshot
)

var challengeCmd = &cobra.Command{
	Use:   "challenge",
	Short: "Derive the WebAuthn challenge for a promise snapshot",
	Long: `Derive base64url(SHA-256(canonical JSON)) of the snapshot
{id, title, content, deliveryDate, creatorId}. Any change to those fields
yields a different challenge.

Examples:
  pledge challenge --file snapshot.json
  pledge challenge --id prm_0a1b2c3d4e5f --title Rent --content "Pay $500 by 2025-03-01" \
    --delivery-date 2025-03-01 --creator-id usr_0a1b2c3d4e5f`,
	Args: cobra.NoArgs,
	RunE: runChallenge,
}

func init() {
	rootCmd.AddCommand(challengeCmd)

	challengeCmd.Flags().StringVarP(&challengeFile, "file", "f", "", "JSON snapshot file (- for stdin)")
	challengeCmd.Flags().StringVar(&challengeSnap.ID, "id", "", "promise id")
	challengeCmd.Flags().StringVar(&challengeSnap.Title, "title", "", "promise title")
	challengeCmd.Flags().StringVar(&challengeSnap.Content, "content", "", "promise content")
	challengeCmd.Flags().StringVar(&challengeSnap.DeliveryDate, "delivery-date", "", "delivery date")
	challengeCmd.Flags().StringVar(&challengeSnap.CreatorID, "creator-id", "", "creator id")
	challengeCmd.MarkFlagsMutuallyExclusive("file", "id")
}

func runChallenge(cmd *cobra.Command, args []string) error {
	snap := challengeSnap
	if challengeFile != "" {
		data, err := readInput(challengeFile)
		if err != nil {
			return err
		}
		snap = challenge.Snapshot{}
		if err := json.Unmarshal(data, &snap); err != nil {
			return fmt.Errorf("parsing snapshot: %w", err)
		}
	}
	if snap.ID == "" || snap.CreatorID == "" {
		return fmt.Errorf("snapshot needs at least an id and a creator id")
	}

	c := challenge.Derive(snap)
	if jsonOut {
		return printJSON(cmd.OutOrStdout(), map[string]string{"challenge": c})
	}
	fmt.Fprintln(cmd.OutOrStdout(), c)
	return nil
}
