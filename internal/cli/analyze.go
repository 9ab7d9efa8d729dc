package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/calai/calai/internal/analyzer"
	"github.com/calai/calai/internal/prompt"
)

func newAnalyzeCmd() *cobra.Command {
	var (
		sessionID string
		language  string
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "analyze <meal description>",
		Short: "Analyse one meal description or nutrition question",
		Long: `Send one utterance through the analyzer and print the result.

Examples:
  calai analyze "two scrambled eggs and a slice of toast"
  calai analyze "我中午吃了一碗牛肉面" --language zh --session lunch
  calai analyze "how much protein do I need?" --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			resp, err := a.orch.Analyze(cmd.Context(), analyzer.Request{
				Text:      strings.Join(args, " "),
				SessionID: sessionID,
				Language:  language,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON || !isTerminal(out) {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}
			printResult(out, resp)
			return nil
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session id (a new one is minted when empty)")
	cmd.Flags().StringVarP(&language, "language", "l", "", "reply language: "+languageList())
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full response as JSON")
	return cmd
}

func languageList() string {
	return strings.Join(prompt.SupportedLanguages(), ", ")
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func printResult(w io.Writer, resp analyzer.Response) {
	r := resp.Result
	fmt.Fprintln(w, r.Reply)
	if r.HasFood() {
		fmt.Fprintln(w)
		for _, it := range r.FoodItems {
			fmt.Fprintf(w, "  %-24s %6.0f kcal  P %5.1fg  C %5.1fg  F %5.1fg\n",
				truncate(it.DisplayName(), 24), it.Calories, it.Protein, it.Carbs, it.Fat)
		}
		fmt.Fprintf(w, "  %-24s %6.0f kcal  P %5.1fg  C %5.1fg  F %5.1fg\n",
			"Total", r.Calories, r.Protein, r.Carbs, r.Fat)
	}
	for _, s := range r.Suggestions {
		fmt.Fprintf(w, "  - %s\n", s)
	}
	if r.Placeholder {
		fmt.Fprintln(w, "\n(estimated: the language model was unavailable)")
	}
	fmt.Fprintf(w, "\nsession %s\n", resp.SessionID)
}

func truncate(s string, n int) string {
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	return string(rs[:n-1]) + "…"
}
