package reporter

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/frederic-klein/pyenvcheck/internal/compat"
	"github.com/frederic-klein/pyenvcheck/internal/report"
)

const ruleWidth = 72

// TextReporter prints a human readable summary, best environment first.
type TextReporter struct {
	opts Options
}

type textStyles struct {
	title   lipgloss.Style
	label   lipgloss.Style
	dim     lipgloss.Style
	good    lipgloss.Style
	partial lipgloss.Style
	bad     lipgloss.Style
	section lipgloss.Style
}

// newTextStyles binds styles to w so that colors are dropped when w is
// not a terminal.
func newTextStyles(w io.Writer) textStyles {
	r := lipgloss.NewRenderer(w)
	return textStyles{
		title:   r.NewStyle().Bold(true),
		label:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		dim:     r.NewStyle().Foreground(lipgloss.Color("8")),
		good:    r.NewStyle().Foreground(lipgloss.Color("10")),
		partial: r.NewStyle().Foreground(lipgloss.Color("11")),
		bad:     r.NewStyle().Foreground(lipgloss.Color("9")),
		section: r.NewStyle().Bold(true).Underline(true),
	}
}

func (r *TextReporter) Report(w io.Writer, res *report.Result) error {
	st := newTextStyles(w)
	var b strings.Builder

	if len(res.Reports) == 0 {
		b.WriteString("No environments were inspected.\n")
	} else {
		rule := strings.Repeat("=", ruleWidth)
		b.WriteString(rule + "\n")
		b.WriteString(st.title.Render("Environment compatibility summary") + "\n")
		b.WriteString(rule + "\n")
		if res.RecommendedPython != "" {
			fmt.Fprintf(&b, "Recommended Python version: %s\n", res.RecommendedPython)
		}

		for _, env := range sortByCompatibility(res.Reports) {
			b.WriteString("\n")
			r.writeEnvironment(&b, st, env)
		}
	}

	if len(res.Failures) > 0 {
		b.WriteString("\n" + st.section.Render("Failed environments") + "\n")
		for _, f := range res.Failures {
			name := f.Label
			if r.opts.ShowPaths {
				name += " -> " + f.Path
			}
			fmt.Fprintf(&b, "  %s: %s\n", name, st.bad.Render(f.Err.Error()))
		}
	}

	if len(res.Warnings) > 0 {
		b.WriteString("\n" + st.section.Render("Warnings") + "\n")
		for _, warn := range res.Warnings {
			prefix := "[" + string(warn.Kind) + "]"
			if warn.Label != "" {
				prefix += " " + warn.Label + ":"
			}
			fmt.Fprintf(&b, "  %s %s\n", st.dim.Render(prefix), warn.Message)
		}
	}

	if len(res.ExtraIndexes) > 0 {
		b.WriteString("\n" + st.section.Render("Extra package indexes") + "\n")
		for _, idx := range res.ExtraIndexes {
			b.WriteString("  " + idx + "\n")
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func (r *TextReporter) writeEnvironment(b *strings.Builder, st textStyles, env compat.EnvironmentReport) {
	header := st.label.Render(env.Label)
	if env.PythonVersion != "" {
		header += fmt.Sprintf(" (Python %s)", env.PythonVersion)
	}
	if r.opts.ShowPaths {
		header += st.dim.Render(" -> " + env.InterpreterPath)
	}
	b.WriteString(header + "\n")

	score := fmt.Sprintf("%.1f%%", env.Compatibility)
	switch {
	case env.Compatibility >= 100:
		score = st.good.Render(score)
	case env.Compatibility > 0:
		score = st.partial.Render(score)
	default:
		score = st.bad.Render(score)
	}
	fmt.Fprintf(b, "Compatibility: %s of %d applicable requirements\n", score, env.ApplicableCount)

	writeList(b, "Matches", env.Matched)
	writeList(b, "Missing", env.Missing)
	if len(env.Mismatched) > 0 {
		conflicts := make([]string, len(env.Mismatched))
		for i, m := range env.Mismatched {
			conflicts[i] = fmt.Sprintf("%s (installed %s, requires %s)", m.Name, m.Installed, m.Constraint)
		}
		writeList(b, "Version conflicts", conflicts)
	}
	writeList(b, "Skipped by marker", env.Skipped)
	writeList(b, "Compared as plain strings", env.OpaqueComparisons)
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	sorted := append([]string(nil), items...)
	sort.Strings(sorted)
	fmt.Fprintf(b, "%s: %s\n", title, strings.Join(sorted, ", "))
}

func sortByCompatibility(reports []compat.EnvironmentReport) []compat.EnvironmentReport {
	sorted := append([]compat.EnvironmentReport(nil), reports...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Compatibility > sorted[j].Compatibility
	})
	return sorted
}
