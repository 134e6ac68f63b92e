package cli

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/zzzcdf/cube.js/internal/joingraph"
)

type stepJSON struct {
	From         string `json:"from"`
	To           string `json:"to"`
	Owner        string `json:"owner"`
	Relationship string `json:"relationship"`
	SQL          string `json:"sql"`
}

// toStepJSON describes each step from the side already in the query, so the
// relationship is inverted for reversed steps.
func toStepJSON(steps []joingraph.Step) []stepJSON {
	out := make([]stepJSON, 0, len(steps))
	for _, s := range steps {
		rel := s.Edge.Relationship
		if s.Reversed {
			rel = rel.Inverse()
		}
		out = append(out, stepJSON{
			From:         s.From,
			To:           s.To,
			Owner:        s.Edge.Owner,
			Relationship: string(rel),
			SQL:          s.Join().SQL.SQL(),
		})
	}
	return out
}

func newJoinPathCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "join-path ROOT CUBE...",
		Short: "Resolve the joins connecting a root cube to other cubes",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := a.compile(cmd.Context())
			if err != nil {
				return err
			}
			steps, err := b.ResolvePath(args[0], args[1:]...)
			if err != nil {
				return err
			}
			out := toStepJSON(steps)
			return writeOrJSON(cmd, out, func(w io.Writer) {
				rows := make([][]string, 0, len(out))
				for _, s := range out {
					rows = append(rows, []string{s.From, s.To, s.Relationship, s.SQL})
				}
				PrintTable(w, []string{"from", "to", "relationship", "on"}, rows)
			})
		},
	}
}
