// Package templates ships the workflow templates bundled with the binary.
package templates

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"

	"github.com/soochol/convograph/internal/flow"
	"github.com/soochol/convograph/internal/graph"
)

// CustomerSupport is the name of the bundled support/refund workflow.
const CustomerSupport = "customer_support"

//go:embed *.yaml
var builtinFS embed.FS

// Builtin decodes every bundled template, sorted by file name.
func Builtin() ([]*flow.WorkflowTemplate, error) {
	names, err := fs.Glob(builtinFS, "*.yaml")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	out := make([]*flow.WorkflowTemplate, 0, len(names))
	for _, name := range names {
		data, err := builtinFS.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		tpl, err := graph.DecodeYAML(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out = append(out, tpl)
	}
	return out, nil
}

// MustCustomerSupport returns the bundled customer support template and
// panics if it cannot be decoded.
func MustCustomerSupport() *flow.WorkflowTemplate {
	all, err := Builtin()
	if err != nil {
		panic(err)
	}
	for _, tpl := range all {
		if tpl.Name == CustomerSupport {
			return tpl
		}
	}
	panic("templates: customer_support not bundled")
}
