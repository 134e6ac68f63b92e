package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/zzzcdf/cube.js/pkg/modeldb"
)

func defaultModelDB() string {
	return filepath.Join(os.TempDir(), "cubec-model.duckdb")
}

func newIndexCmd(a *app) *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Compile the schema and index the model into DuckDB",
		Long:  "Writes cubes, members, joins and contexts of the compiled model into DuckDB tables for the query command.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := a.compile(cmd.Context())
			if err != nil {
				return err
			}
			db, err := modeldb.Open(dbPath)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			res, err := modeldb.Index(cmd.Context(), db, b)
			if err != nil {
				return err
			}
			return writeOrJSON(cmd, map[string]any{
				"db":       dbPath,
				"bundle":   b.ID,
				"cubes":    res.Cubes,
				"members":  res.Members,
				"joins":    res.Joins,
				"contexts": res.Contexts,
			}, func(w io.Writer) {
				_, _ = fmt.Fprintf(w, "Indexed %d cubes, %d members, %d joins and %d contexts into %s\n",
					res.Cubes, res.Members, res.Joins, res.Contexts, dbPath)
			})
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", defaultModelDB(), "DuckDB database file")
	return cmd
}

func newQueryCmd() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "query SQL",
		Short: "Run a read-only SQL query against the indexed model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := modeldb.Open(dbPath)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			cols, rows, err := modeldb.Query(cmd.Context(), db, args[0])
			if err != nil {
				return err
			}
			return writeOrJSON(cmd, rows, func(w io.Writer) {
				table := make([][]string, 0, len(rows))
				for _, r := range rows {
					line := make([]string, len(cols))
					for i, c := range cols {
						if v := r[c]; v != nil {
							line[i] = fmt.Sprint(v)
						}
					}
					table = append(table, line)
				}
				PrintTable(w, cols, table)
			})
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", defaultModelDB(), "DuckDB database file")
	return cmd
}
