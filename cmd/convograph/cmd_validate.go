package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/soochol/convograph/internal/flow"
	"github.com/soochol/convograph/internal/graph"
	"github.com/soochol/convograph/internal/tools"
)

var validateCmd = &cobra.Command{
	Use:   "validate <template-file>...",
	Short: "Validate workflow template files",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	reg := tools.NewDefaultRegistry()
	failed := 0
	for _, path := range args {
		tpl, err := graph.LoadFile(path)
		if err == nil {
			_, err = graph.Compile(tpl, graph.WithToolLookup(reg.Has))
		}
		if err == nil {
			fmt.Fprintf(out, "ok      %s (%s v%d, %d nodes)\n", path, tpl.Name, tpl.Version, len(tpl.Nodes))
			continue
		}
		failed++
		var te *flow.TemplateError
		if errors.As(err, &te) {
			fmt.Fprintf(out, "invalid %s\n", path)
			for _, p := range te.Problems {
				fmt.Fprintf(out, "  - %s\n", p)
			}
			continue
		}
		fmt.Fprintf(out, "error   %s: %v\n", path, err)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d templates invalid", failed, len(args))
	}
	return nil
}
