package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/zzzcdf/cube.js/internal/meta"
)

func newMetaCmd(a *app) *cobra.Command {
	var cube string

	cmd := &cobra.Command{
		Use:   "meta",
		Short: "Show the public metadata of the compiled schema",
		Long:  "Lists the public cubes and views, or the members of one of them with --cube.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := a.compile(cmd.Context())
			if err != nil {
				return err
			}
			if cube == "" {
				return writeOrJSON(cmd, b.Meta, func(w io.Writer) { printMetaCubes(w, b.Meta) })
			}
			c, ok := b.Meta.Cube(cube)
			if !ok {
				return fmt.Errorf("cube %q is not public or does not exist", cube)
			}
			return writeOrJSON(cmd, c, func(w io.Writer) { printMetaMembers(w, c) })
		},
	}

	cmd.Flags().StringVar(&cube, "cube", "", "Show the members of one cube or view")
	return cmd
}

func printMetaCubes(w io.Writer, v *meta.View) {
	rows := make([][]string, 0, len(v.Cubes))
	for _, c := range v.Cubes {
		component := ""
		if c.Component > 0 {
			component = strconv.Itoa(c.Component)
		}
		rows = append(rows, []string{
			c.Name,
			c.Type,
			c.Title,
			component,
			strconv.Itoa(len(c.Measures)),
			strconv.Itoa(len(c.Dimensions)),
			strconv.Itoa(len(c.Segments)),
		})
	}
	PrintTable(w, []string{"name", "type", "title", "component", "measures", "dimensions", "segments"}, rows)
}

func printMetaMembers(w io.Writer, c meta.Cube) {
	var rows [][]string
	for _, m := range c.Measures {
		rows = append(rows, []string{m.Name, "measure", m.AggType, m.Title})
	}
	for _, d := range c.Dimensions {
		rows = append(rows, []string{d.Name, "dimension", d.Type, d.Title})
	}
	for _, s := range c.Segments {
		rows = append(rows, []string{s.Name, "segment", "", s.Title})
	}
	PrintTable(w, []string{"member", "kind", "type", "title"}, rows)
}
