package cli

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/coverbeam/coverbeam/internal/application"
	"github.com/coverbeam/coverbeam/internal/domain"
)

// writeSummary prints the per-result counts of one run.
func writeSummary(w io.Writer, result *application.RunResult) {
	counts := map[domain.TestResult]int{}
	for _, e := range result.Executions {
		counts[e.Result]++
	}

	colorize := colorEnabled(w)
	passStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#16A34A")).Bold(true)
	failStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#DC2626")).Bold(true)
	warnStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#CA8A04")).Bold(true)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "Result\tTests")
	for _, r := range []domain.TestResult{domain.ResultPassed, domain.ResultFailed, domain.ResultSkipped, domain.ResultError} {
		if counts[r] == 0 {
			continue
		}
		label := string(r)
		if colorize {
			switch r {
			case domain.ResultPassed:
				label = passStyle.Render(label)
			case domain.ResultFailed, domain.ResultError:
				label = failStyle.Render(label)
			case domain.ResultSkipped:
				label = warnStyle.Render(label)
			}
		}
		_, _ = fmt.Fprintf(tw, "%s\t%d\n", label, counts[r])
	}
	_ = tw.Flush()

	fmt.Fprintf(w, "\n%d of %d discovered tests executed", result.Executed, result.Discovered)
	if result.Partial {
		fmt.Fprint(w, " (partial run)")
	}
	fmt.Fprintln(w)
}

func colorEnabled(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(file.Fd()) || isatty.IsCygwinTerminal(file.Fd())
}
