package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/zzzcdf/cube.js/internal/compiler"
	"github.com/zzzcdf/cube.js/internal/domain"
	"github.com/zzzcdf/cube.js/internal/repository"
)

func newWatchCmd(a *app) *cobra.Command {
	var debounce time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Recompile a local schema directory whenever it changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loc, err := repository.ParseLocation(a.schema)
			if err != nil {
				return err
			}
			if loc.Scheme != "file" {
				return fmt.Errorf("watch needs a local schema directory, got %s://", loc.Scheme)
			}
			ctx := cmd.Context()
			closeHistory, err := a.openHistory(ctx, a.cfg.HistoryDBPath)
			if err != nil {
				return err
			}
			defer closeHistory()
			c, err := a.compiler(ctx)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			rebuild := func(changed []string) {
				if len(changed) > 0 {
					_, _ = fmt.Fprintf(w, "changed: %s\n", strings.Join(changed, ", "))
				}
				reportCompile(ctx, w, c)
				s := c.CacheStats()
				a.logger.Debug("compiler cache", "size", s.Size, "hits", s.Hits, "misses", s.Misses, "compiles", s.Compiles)
			}
			rebuild(nil)

			watcher := repository.Watcher{Debounce: debounce, Logger: a.logger}
			return watcher.Watch(ctx, loc.Prefix, rebuild)
		},
	}

	cmd.Flags().DurationVar(&debounce, "debounce", 250*time.Millisecond, "Quiet period before recompiling")
	return cmd
}

// reportCompile compiles once and prints either the bundle line or the
// diagnostics; compile failures do not stop a watch.
func reportCompile(ctx context.Context, w io.Writer, c *compiler.Compiler) {
	stamp := time.Now().Format(time.TimeOnly)
	b, err := c.Compile(ctx)
	var ce *domain.CompileError
	switch {
	case errors.As(err, &ce):
		_, _ = fmt.Fprintf(w, "%s %d error(s) in %s\n", stamp, len(ce.Diagnostics), ce.Stage)
		printDiagnostics(w, ce.Diagnostics)
	case err != nil:
		_, _ = fmt.Fprintf(w, "%s compile failed: %v\n", stamp, err)
	default:
		_, _ = fmt.Fprintf(w, "%s compiled bundle %s (%d cubes, %d warnings)\n", stamp, b.ID, len(b.Model.Cubes()), len(b.Warnings))
		if len(b.Warnings) > 0 {
			printDiagnostics(w, b.Warnings)
		}
	}
}
