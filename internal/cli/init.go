package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/calai/calai/internal/config"
	"github.com/calai/calai/internal/prompt"
)

func newInitCmd() *cobra.Command {
	var (
		provider string
		language string
		force    bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Long: `Write a config file with the default settings to --config (default
~/.config/calai/config.toml). API keys are not written; set ANTHROPIC_API_KEY
or OPENAI_API_KEY in the environment or a .env file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if path == "" {
				path = config.DefaultPath()
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("stat %s: %w", path, err)
			}

			cfg := config.Default()
			if provider != "" {
				cfg.AI.Provider = provider
			}
			if language != "" {
				cfg.Session.DefaultLanguage = prompt.NormalizeLanguage(language)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := config.Save(path, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "", "model provider: auto, claude, openai, ollama")
	cmd.Flags().StringVar(&language, "language", "", "default reply language: "+languageList())
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}
