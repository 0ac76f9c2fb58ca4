package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/majorcontext/pledge/internal/store"
	"github.com/majorcontext/pledge/internal/ui"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect the hash-chained lifecycle event log",
	Long: `Every state transition of every promise is appended to a single
hash-chained event log. Each event commits to its predecessor's hash, so
editing or deleting a row in the database breaks the chain.`,
}

var ledgerVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the integrity of the event log",
	Args:  cobra.NoArgs,
	RunE:  runLedgerVerify,
}

var ledgerEventsCmd = &cobra.Command{
	Use:   "events [promise-id]",
	Short: "List lifecycle events",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLedgerEvents,
}

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.AddCommand(ledgerVerifyCmd, ledgerEventsCmd)
}

func runLedgerVerify(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	res, err := st.VerifyChain(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOut {
		if err := printJSON(out, res); err != nil {
			return err
		}
	} else {
		ui.Report(out, fmt.Sprintf("Event log (%d events)", res.Events), []ui.Check{
			{Label: "hash chain", OK: res.Valid},
		})
		if !res.Valid {
			fmt.Fprintf(out, "  %s\n", ui.Dim(fmt.Sprintf("broken at event %d: %s", res.Broken, res.Error)))
		}
	}
	if !res.Valid {
		return fmt.Errorf("event log integrity check failed")
	}
	return nil
}

func runLedgerEvents(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	var promiseID string
	if len(args) == 1 {
		promiseID = args[0]
	}
	events, err := st.Events(ctx, promiseID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOut {
		if events == nil {
			events = []*store.Event{}
		}
		return printJSON(out, events)
	}
	for _, e := range events {
		from := string(e.From)
		if from == "" {
			from = "-"
		}
		fmt.Fprintf(out, "%6d  %s  %s  %s → %s  %s\n",
			e.Sequence, e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.PromiseID, from, e.To, ui.Dim(shortHash(e.Hash)))
	}
	return nil
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
