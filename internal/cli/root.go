// Package cli defines the Cobra command tree for the calai CLI.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// version, commit, date are set via -ldflags at build time.
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Global flags shared by every command.
var (
	configPath string
	envFiles   []string
	logLevel   string
)

// rootCmd is the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "calai",
	Short: "Conversational meal nutrition analysis",
	Long: `calai turns free-text meal descriptions into structured nutrition data.

Each conversation keeps a short history, today's intake and a dietary
profile, which are fed back to the language model so follow-up questions
("what did I eat so far?") get personal answers.

Run 'calai serve' to start the HTTP API or 'calai analyze "two eggs and toast"'
for a one-off analysis.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute(v, c, d string) {
	version, commit, date = v, c, d
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "config file (default ~/.config/calai/config.toml)")
	pf.StringSliceVar(&envFiles, "env-file", []string{".env"}, ".env files to load before reading config")
	pf.StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		newInitCmd(),
		newServeCmd(),
		newMCPCmd(),
		newAnalyzeCmd(),
		newSummaryCmd(),
		newImportCmd(),
		newExportCmd(),
		newVersionCmd(),
	)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "calai %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
