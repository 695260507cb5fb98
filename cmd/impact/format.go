package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
)

var (
	highStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F87171")).Bold(true)
	mediumStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FBBF24")).Bold(true)
	lowStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	headerStyle = lipgloss.NewStyle().Bold(true)
)

// renderRisk colors a risk level for terminal output.
func renderRisk(risk string) string {
	switch risk {
	case "HIGH":
		return highStyle.Render(risk)
	case "MEDIUM":
		return mediumStyle.Render(risk)
	case "LOW":
		return lowStyle.Render(risk)
	default:
		return risk
	}
}

// formatDirectText formats direct references as aligned columns.
func formatDirectText(w io.Writer, refs []CLIDirectRef) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tHELPER\tSTRUCT\tFILE\tLINE")
	for _, r := range refs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n",
			r.Kind, r.Helper, r.Struct, r.File, r.Line)
	}
	tw.Flush()
}

// formatIndirectText formats indirect references as aligned columns.
func formatIndirectText(w io.Writer, refs []CLIIndirectRef) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RISK\tTEST\tSTEP\tHELPER\tKIND\tFILE\tLINE")
	for _, r := range refs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\t%d\n",
			renderRisk(r.Risk), r.Test, r.Step, r.Helper, r.Kind, r.File, r.Line)
	}
	tw.Flush()
}

// formatSequentialText formats sequential references grouped by entry point.
func formatSequentialText(w io.Writer, refs []CLISequentialRef) {
	current := ""
	var tw *tabwriter.Writer
	flush := func() {
		if tw != nil {
			tw.Flush()
		}
	}
	for _, r := range refs {
		if r.EntryPoint != current {
			flush()
			current = r.EntryPoint
			fmt.Fprintln(w, headerStyle.Render(current))
			tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "  RISK\tSTEP\tGROUP\tKEY\tTEST\tKIND")
		}
		name := r.Test
		if r.External {
			name += " (external)"
		}
		fmt.Fprintf(tw, "  %s\t%d\t%s\t%s\t%s\t%s\n",
			renderRisk(r.Risk), r.Step, r.Group, r.Key, name, r.Kind)
	}
	flush()
}

// formatImpactedText formats the rollup as aligned columns.
func formatImpactedText(w io.Writer, tests []CLIImpactedTest) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RISK\tTEST\tFILE\tLINE")
	for _, t := range tests {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", renderRisk(t.Risk), t.Test, t.File, t.Line)
	}
	tw.Flush()
}

// formatRadiusText formats the combined result section by section.
func formatRadiusText(w io.Writer, br CLIBlastRadius) {
	fmt.Fprintln(w, headerStyle.Render("Blast radius: "+br.Entity))
	fmt.Fprintln(w)

	if len(br.Direct) > 0 {
		fmt.Fprintf(w, "Direct references (%d):\n", len(br.Direct))
		formatDirectText(w, br.Direct)
		fmt.Fprintln(w)
	}
	if len(br.Indirect) > 0 {
		fmt.Fprintf(w, "Indirect references (%d):\n", len(br.Indirect))
		formatIndirectText(w, br.Indirect)
		fmt.Fprintln(w)
	}
	if len(br.Sequential) > 0 {
		fmt.Fprintf(w, "Sequential sets (%d rows):\n", len(br.Sequential))
		formatSequentialText(w, br.Sequential)
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Impacted tests (%d):\n", len(br.Impacted))
	formatImpactedText(w, br.Impacted)
}

// formatScanStatsText formats a scan summary as readable text.
func formatScanStatsText(w io.Writer, s CLIScanStats) {
	fmt.Fprintf(w, "Entity: %s\n", s.Entity)
	fmt.Fprintf(w, "Test root: %s\n", s.TestRoot)
	fmt.Fprintf(w, "Files: %d relevant of %d candidates", s.Relevant, s.Candidates)
	if s.SkippedFiles > 0 {
		fmt.Fprintf(w, " (%d skipped)", s.SkippedFiles)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Tests: %d  Helpers: %d\n", s.TestFunctions, s.HelperFunctions)
	fmt.Fprintf(w, "Direct refs: %d  Template calls: %d  Sequential calls: %d\n",
		s.DirectRefs, s.TemplateCalls, s.SequentialCalls)
	fmt.Fprintf(w, "Duration: %dms\n", s.DurationMS)
}

// outputResultText dispatches to the appropriate text formatter based on the
// result type. It writes to os.Stdout.
func outputResultText(result CLIResult) error {
	w := io.Writer(os.Stdout)

	switch v := result.Results.(type) {
	case []CLIDirectRef:
		formatDirectText(w, v)
	case []CLIIndirectRef:
		formatIndirectText(w, v)
	case []CLISequentialRef:
		formatSequentialText(w, v)
	case []CLIImpactedTest:
		formatImpactedText(w, v)
	case CLIBlastRadius:
		formatRadiusText(w, v)
	case CLIScanStats:
		formatScanStatsText(w, v)
	case nil:
	default:
		return fmt.Errorf("unsupported result type for text format: %T", v)
	}
	return nil
}

// validFormats lists accepted values for --format.
var validFormats = []string{"json", "text"}

// validateFormat checks that the --format flag value is recognized.
func validateFormat(format string) error {
	for _, f := range validFormats {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid format %q: must be %s", format, strings.Join(validFormats, " or "))
}
