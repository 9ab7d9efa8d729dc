package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/calai/calai/internal/analyzer"
	"github.com/calai/calai/internal/export"
	"github.com/calai/calai/internal/history"
)

const exportPageSize = 200

func newExportCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "export <session id>",
		Short: "Export a session's food log and conversation",
		Long: `Render a session's stored conversation and meals. Output is written to
stdout, pipe it to a file.

Examples:
  calai export week-12 > week-12.md
  calai export week-12 --format json > week-12.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exporter, ok := export.Get(strings.ToLower(format))
			if !ok {
				return fmt.Errorf("unknown format %q; valid formats: %s",
					format, strings.Join(export.ValidFormats(), ", "))
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			id := args[0]
			msgs, err := allMessages(cmd.Context(), a.orch, id)
			if err != nil {
				return err
			}
			stats, err := a.orch.SessionStats(cmd.Context(), id)
			if err != nil {
				return err
			}

			output, err := exporter.Export(export.Data{
				SessionID: id,
				Stats:     stats,
				Today:     a.orch.ContextSummary(cmd.Context(), id),
				Messages:  msgs,
			})
			if err != nil {
				return fmt.Errorf("export: %w", err)
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), output)
			return err
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "markdown", "output format: "+strings.Join(export.ValidFormats(), ", "))
	return cmd
}

// allMessages walks the history pages from newest to oldest and returns every
// message oldest first.
func allMessages(ctx context.Context, orch *analyzer.Orchestrator, id string) ([]history.Message, error) {
	var pages [][]history.Message
	for offset := 0; ; offset += exportPageSize {
		page, err := orch.ChatHistory(ctx, id, exportPageSize, offset)
		if err != nil {
			return nil, err
		}
		pages = append(pages, page.Messages)
		if !page.HasMore {
			break
		}
	}
	var out []history.Message
	for i := len(pages) - 1; i >= 0; i-- {
		out = append(out, pages[i]...)
	}
	return out, nil
}
