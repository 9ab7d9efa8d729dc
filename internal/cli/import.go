package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/calai/calai/internal/analyzer"
)

func newImportCmd() *cobra.Command {
	var (
		sessionID string
		language  string
	)

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Analyse a food log, one meal per line",
		Long: `Read a plain-text food log and analyse each non-empty line as one meal in
the same session. Lines starting with # are skipped.

Example:
  calai import breakfast-week.txt --session week-12`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lines, err := readMealLines(args[0])
			if err != nil {
				return err
			}
			if len(lines) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing to import.")
				return nil
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if sessionID == "" {
				sessionID = uuid.NewString()
			}

			var bar *progressbar.ProgressBar
			if term.IsTerminal(int(os.Stderr.Fd())) {
				bar = progressbar.NewOptions(len(lines),
					progressbar.OptionSetDescription("  Analysing meals"),
					progressbar.OptionSetWriter(os.Stderr),
					progressbar.OptionClearOnFinish(),
				)
			}

			var failed, placeholders int
			for i, line := range lines {
				resp, err := a.orch.Analyze(cmd.Context(), analyzer.Request{
					Text:      line,
					SessionID: sessionID,
					Language:  language,
				})
				switch {
				case err != nil:
					failed++
					a.log.WithError(err).WithField("line", i+1).Warn("meal not imported")
				case resp.Result.Placeholder:
					placeholders++
				}
				if bar != nil {
					_ = bar.Add(1)
				}
			}
			if bar != nil {
				_ = bar.Finish()
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Imported %d of %d lines", len(lines)-failed, len(lines))
			if placeholders > 0 {
				fmt.Fprintf(out, " (%d estimated without the model)", placeholders)
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out)

			stats, err := a.orch.SessionStats(cmd.Context(), sessionID)
			if err != nil {
				return err
			}
			printSummary(out, a.orch.ContextSummary(cmd.Context(), sessionID), stats)
			return nil
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session id (a new one is minted when empty)")
	cmd.Flags().StringVarP(&language, "language", "l", "", "reply language: "+languageList())
	return cmd
}

// readMealLines returns the trimmed, non-empty, non-comment lines of path.
func readMealLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return lines, nil
}
