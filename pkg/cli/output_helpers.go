package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/zzzcdf/cube.js/internal/domain"
)

// getOutputFormat returns the effective output format from the root command's persistent flags.
func getOutputFormat(cmd *cobra.Command) string {
	v, _ := cmd.Root().PersistentFlags().GetString("output")
	return v
}

func validateOutputFormat(output string) error {
	if output != "" && output != "table" && output != "json" {
		return fmt.Errorf("unsupported output format %q: use 'table' or 'json'", output)
	}
	return nil
}

// PrintJSON writes v as indented JSON.
func PrintJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// PrintTable writes rows under upper-cased column headers, aligned with tabs.
func PrintTable(w io.Writer, columns []string, rows [][]string) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	headers := make([]string, len(columns))
	for i, c := range columns {
		headers[i] = strings.ToUpper(c)
	}
	_, _ = fmt.Fprintln(tw, strings.Join(headers, "\t"))
	for _, row := range rows {
		_, _ = fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	_ = tw.Flush()
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd())) //nolint:gosec // fd fits in int
}

func severityName(s domain.Severity) string {
	if s == domain.SeverityWarning {
		return "warning"
	}
	return "error"
}

// diagnosticJSON is the machine-readable form of a diagnostic.
type diagnosticJSON struct {
	Kind     string `json:"kind"`
	Severity string `json:"severity"`
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
	Cube     string `json:"cube,omitempty"`
	Key      string `json:"key,omitempty"`
	Message  string `json:"message"`
}

func toDiagnosticJSON(diags []*domain.Diagnostic) []diagnosticJSON {
	out := make([]diagnosticJSON, 0, len(diags))
	for _, d := range diags {
		out = append(out, diagnosticJSON{
			Kind:     string(d.Kind),
			Severity: severityName(d.Severity),
			File:     d.File,
			Line:     d.Line,
			Cube:     d.Cube,
			Key:      d.Key,
			Message:  d.Message,
		})
	}
	return out
}

// printDiagnostics writes diags as a table. Severities are coloured on a
// terminal.
func printDiagnostics(w io.Writer, diags []*domain.Diagnostic) {
	color := isTerminal(w)
	rows := make([][]string, 0, len(diags))
	for _, d := range diags {
		loc := d.File
		if loc != "" && d.Line > 0 {
			loc += ":" + strconv.Itoa(d.Line)
		}
		sev := severityName(d.Severity)
		if color {
			code := "31"
			if d.Severity == domain.SeverityWarning {
				code = "33"
			}
			sev = "\x1b[" + code + "m" + sev + "\x1b[0m"
		}
		member := d.Cube
		if d.Key != "" {
			member += "." + d.Key
		}
		rows = append(rows, []string{sev, string(d.Kind), loc, strings.TrimPrefix(member, "."), d.Message})
	}
	PrintTable(w, []string{"severity", "kind", "location", "member", "message"}, rows)
}
