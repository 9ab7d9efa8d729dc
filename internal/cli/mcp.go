package cli

import (
	"github.com/spf13/cobra"

	"github.com/calai/calai/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve meal analysis tools over MCP (stdio)",
		Long: `Start a Model Context Protocol server on stdin/stdout exposing the tools
analyze_meal, context_summary, clear_session, set_profile and chat_history.

Example client configuration:
  {"mcpServers": {"calai": {"command": "calai", "args": ["mcp"]}}}`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			return mcp.NewServer(a.orch, version).ServeStdio()
		},
	}
}
