package cli

import (
	"errors"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

type compileRecordJSON struct {
	ID           int64     `json:"id"`
	Status       string    `json:"status"`
	Stage        string    `json:"stage,omitempty"`
	Error        string    `json:"error,omitempty"`
	Fingerprint  string    `json:"fingerprint"`
	HeadCommitID string    `json:"headCommitId,omitempty"`
	BundleID     string    `json:"bundleId,omitempty"`
	Cubes        int       `json:"cubes"`
	Warnings     int       `json:"warnings"`
	StartedAt    time.Time `json:"startedAt"`
	DurationMS   int64     `json:"durationMs"`
}

func newHistoryCmd(a *app) *cobra.Command {
	var (
		dbPath string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent compiles recorded by serve and watch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("db") {
				dbPath = a.cfg.HistoryDBPath
			}
			if dbPath == "" {
				return errors.New("no compile history: set HISTORY_DB_PATH or pass --db")
			}
			closeHistory, err := a.openHistory(cmd.Context(), dbPath)
			if err != nil {
				return err
			}
			defer closeHistory()

			recs, err := a.history.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := make([]compileRecordJSON, 0, len(recs))
			for _, r := range recs {
				out = append(out, compileRecordJSON{
					ID:           r.ID,
					Status:       r.Status,
					Stage:        r.Stage,
					Error:        r.Error,
					Fingerprint:  r.Fingerprint,
					HeadCommitID: r.HeadCommitID,
					BundleID:     r.BundleID,
					Cubes:        r.Cubes,
					Warnings:     r.Warnings,
					StartedAt:    r.StartedAt,
					DurationMS:   r.Duration.Milliseconds(),
				})
			}
			return writeOrJSON(cmd, out, func(w io.Writer) {
				rows := make([][]string, 0, len(out))
				for _, r := range out {
					rows = append(rows, []string{
						strconv.FormatInt(r.ID, 10),
						r.StartedAt.Local().Format(time.DateTime),
						r.Status,
						r.Stage,
						strconv.Itoa(r.Cubes),
						strconv.FormatInt(r.DurationMS, 10) + "ms",
						shortFingerprint(r.Fingerprint),
					})
				}
				PrintTable(w, []string{"id", "started", "status", "stage", "cubes", "duration", "fingerprint"}, rows)
			})
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "Compile history database (env HISTORY_DB_PATH)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of compiles to show")
	return cmd
}

func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}

