package cli

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/zzzcdf/cube.js/internal/compiler"
)

type bundleSummary struct {
	ID           string           `json:"id"`
	Fingerprint  string           `json:"fingerprint"`
	HeadCommitID string           `json:"headCommitId,omitempty"`
	CompiledAt   time.Time        `json:"compiledAt"`
	Cubes        int              `json:"cubes"`
	Views        int              `json:"views"`
	Contexts     int              `json:"contexts"`
	Joins        int              `json:"joins"`
	Warnings     []diagnosticJSON `json:"warnings"`
}

func summarize(b *compiler.Bundle) bundleSummary {
	s := bundleSummary{
		ID:           b.ID,
		Fingerprint:  b.Fingerprint,
		HeadCommitID: b.HeadCommitID,
		CompiledAt:   b.CompiledAt,
		Contexts:     len(b.Model.Contexts()),
		Joins:        len(b.JoinGraph.Edges()),
		Warnings:     toDiagnosticJSON(b.Warnings),
	}
	for _, c := range b.Model.Cubes() {
		if c.IsView() {
			s.Views++
		} else {
			s.Cubes++
		}
	}
	return s
}

func printBundle(w io.Writer, b *compiler.Bundle) {
	_, _ = fmt.Fprintf(w, "Compiled bundle %s (fingerprint %.12s)\n\n", b.ID, b.Fingerprint)
	rows := make([][]string, 0, len(b.Model.Cubes()))
	for _, c := range b.Model.Cubes() {
		kind := "cube"
		if c.IsView() {
			kind = "view"
		}
		rows = append(rows, []string{
			c.Name,
			kind,
			strconv.Itoa(len(c.Measures)),
			strconv.Itoa(len(c.Dimensions)),
			strconv.Itoa(len(c.Segments)),
			strconv.Itoa(len(c.Joins)),
			c.File,
		})
	}
	PrintTable(w, []string{"name", "type", "measures", "dimensions", "segments", "joins", "file"}, rows)
	if len(b.Warnings) > 0 {
		_, _ = fmt.Fprintln(w)
		printDiagnostics(w, b.Warnings)
	}
}

func newCompileCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "compile",
		Short: "Compile the schema and summarize the bundle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := a.compile(cmd.Context())
			if err != nil {
				return err
			}
			return writeOrJSON(cmd, summarize(b), func(w io.Writer) { printBundle(w, b) })
		},
	}
}
