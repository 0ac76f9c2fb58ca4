package cli

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Set with -ldflags "-X github.com/majorcontext/pledge/cmd/pledge/cli.version=...".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type buildInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`
	Built   string `json:"built,omitempty"`
	Go      string `json:"go,omitempty"`
}

func currentBuild() buildInfo {
	b := buildInfo{Version: version}
	if commit != "none" {
		b.Commit = commit
	}
	if date != "unknown" {
		b.Built = date
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		b.Go = info.GoVersion
		if b.Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
			b.Version = info.Main.Version
		}
	}
	return b
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of pledge",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		b := currentBuild()
		out := cmd.OutOrStdout()
		if jsonOut {
			return printJSON(out, b)
		}
		fmt.Fprintf(out, "pledge %s\n", b.Version)
		for _, kv := range [][2]string{{"commit", b.Commit}, {"built", b.Built}, {"go", b.Go}} {
			if kv[1] != "" {
				fmt.Fprintf(out, "  %-7s %s\n", kv[0]+":", kv[1])
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
