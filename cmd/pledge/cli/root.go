// Package cli implements the pledge command-line interface using Cobra.
// It seals and certifies promises, runs the signing ceremony against
// registered authenticator credentials, and verifies promise artifacts.
package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/majorcontext/pledge/internal/config"
	"github.com/majorcontext/pledge/internal/log"
)

var (
	verbose bool
	jsonOut bool

	// cfg is loaded by PersistentPreRunE before any command runs.
	cfg *config.GlobalConfig
)

var rootCmd = &cobra.Command{
	Use:   "pledge",
	Short: "Pledge - tamper-evident signed promises",
	Long: `Pledge records promises ("Pay $500 by 2025-03-01"), seals them, has an
authority certify them, and binds them to a WebAuthn signature so anyone can
later verify that the promise is exactly what its creator signed.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadGlobal()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		if err := log.Init(log.Options{
			Verbose:       verbose,
			JSONFormat:    jsonOut,
			DebugDir:      filepath.Join(config.GlobalConfigDir(), "debug"),
			RetentionDays: cfg.Debug.RetentionDays,
		}); err != nil {
			cmd.PrintErrf("Warning: failed to initialize debug logging: %v\n", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		log.Close()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output in JSON format")
}
