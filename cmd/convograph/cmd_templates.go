package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/soochol/convograph/internal/graph"
	"github.com/soochol/convograph/internal/templates"
)

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "Inspect bundled workflow templates",
}

var templatesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the bundled templates",
	RunE: func(cmd *cobra.Command, _ []string) error {
		tpls, err := templates.Builtin()
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tVERSION\tNODES\tDESCRIPTION")
		for _, tpl := range tpls {
			fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", tpl.Name, tpl.Version, len(tpl.Nodes), tpl.Description)
		}
		return w.Flush()
	},
}

var templatesSchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON Schema of template documents",
	RunE: func(cmd *cobra.Command, _ []string) error {
		schema, err := graph.Schema()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(schema))
		return err
	},
}

func init() {
	templatesCmd.AddCommand(templatesListCmd)
	templatesCmd.AddCommand(templatesSchemaCmd)
}
