package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/calai/calai/internal/history"
	"github.com/calai/calai/internal/session"
)

func newSummaryCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "summary <session id>",
		Short: "Show today's intake and stored totals for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			id := args[0]
			sum := a.orch.ContextSummary(cmd.Context(), id)
			stats, err := a.orch.SessionStats(cmd.Context(), id)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON || !isTerminal(out) {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					Context session.Summary `json:"context"`
					Stored  history.Stats   `json:"stored"`
				}{sum, stats})
			}
			printSummary(out, sum, stats)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func printSummary(w io.Writer, sum session.Summary, stats history.Stats) {
	fmt.Fprintf(w, "Session %s\n\n", sum.SessionID)
	fmt.Fprintf(w, "  Messages in context: %d\n", sum.MessageCount)
	fmt.Fprintf(w, "  Meals today:         %d\n", sum.MealCount)
	t := sum.DailyTotals
	fmt.Fprintf(w, "  Today:               %.0f kcal  P %.1fg  C %.1fg  F %.1fg\n", t.Calories, t.Protein, t.Carbs, t.Fat)
	if len(sum.FoodsMentioned) > 0 {
		fmt.Fprintf(w, "  Foods:               %s\n", strings.Join(sum.FoodsMentioned, ", "))
	}

	if !stats.Exists {
		fmt.Fprintln(w, "\n  No stored history.")
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Stored messages:     %d\n", stats.MessageCount)
	fmt.Fprintf(w, "  Meals analysed:      %d\n", stats.MealsAnalyzed)
	fmt.Fprintf(w, "  Calories tracked:    %.0f kcal\n", stats.CaloriesTracked)
	if !stats.LastActivity.IsZero() {
		fmt.Fprintf(w, "  Last activity:       %s\n", stats.LastActivity.Local().Format("2006-01-02 15:04"))
	}
}
