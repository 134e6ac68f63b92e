package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zzzcdf/cube.js/internal/domain"
)

// errReported marks a failure whose details the command already printed.
var errReported = errors.New("reported")

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the schema",
		Long:  "Compiles the schema and reports every diagnostic of the first failing pass.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			b, err := a.compile(cmd.Context())

			var ce *domain.CompileError
			if errors.As(err, &ce) {
				if getOutputFormat(cmd) == "json" {
					if err := PrintJSON(w, map[string]any{
						"valid":  false,
						"stage":  ce.Stage,
						"errors": toDiagnosticJSON(ce.Diagnostics),
					}); err != nil {
						return err
					}
					return fmt.Errorf("%w: %s", errReported, ce.Stage)
				}
				printDiagnostics(w, ce.Diagnostics)
				return fmt.Errorf("schema has %d error(s) in %s", len(ce.Diagnostics), ce.Stage)
			}
			if err != nil {
				return err
			}

			if getOutputFormat(cmd) == "json" {
				return PrintJSON(w, map[string]any{
					"valid":    true,
					"warnings": toDiagnosticJSON(b.Warnings),
				})
			}
			if len(b.Warnings) > 0 {
				printDiagnostics(w, b.Warnings)
			}
			_, _ = fmt.Fprintln(w, "Schema is valid.")
			return nil
		},
	}
}
