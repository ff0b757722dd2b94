package graph

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/soochol/convograph/internal/flow"
)

const greeterYAML = `name: greeter
version: 2
nodes:
  - id: start
    kind: start
  - id: greet
    kind: agent
    config:
      system_prompt: Say hello.
  - id: end
    kind: end
edges:
  - {from: start, to: greet}
  - {from: greet, to: end}
`

func TestDecodeYAML(t *testing.T) {
	tpl, err := DecodeYAML([]byte(greeterYAML))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tpl.Name != "greeter" || tpl.Version != 2 || len(tpl.Nodes) != 3 || len(tpl.Edges) != 2 {
		t.Fatalf("unexpected template: %+v", tpl)
	}
	if tpl.Nodes[1].Config.SystemPrompt != "Say hello." {
		t.Fatalf("system prompt: got %q", tpl.Nodes[1].Config.SystemPrompt)
	}
	if _, err := Compile(tpl); err != nil {
		t.Fatalf("compile decoded template: %v", err)
	}
}

func TestDecode_SchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing nodes", `{"name": "x", "edges": []}`},
		{"unknown kind", `{"name": "x", "nodes": [{"id": "a", "kind": "loop"}, {"id": "b", "kind": "end"}], "edges": []}`},
		{"empty name", `{"name": "", "nodes": [{"id": "a", "kind": "start"}, {"id": "b", "kind": "end"}], "edges": []}`},
		{"negative version", `{"name": "x", "version": -1, "nodes": [{"id": "a", "kind": "start"}, {"id": "b", "kind": "end"}], "edges": []}`},
		{"malformed", `{"name": `},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeJSON([]byte(tt.doc))
			var te *flow.TemplateError
			if !errors.As(err, &te) || len(te.Problems) == 0 {
				t.Fatalf("expected TemplateError with problems, got %v", err)
			}
		})
	}

	if _, err := DecodeYAML([]byte("name: [unclosed")); !errors.Is(err, flow.ErrTemplateInvalid) {
		t.Fatalf("malformed YAML: got %v", err)
	}
}

func TestSchema(t *testing.T) {
	data, err := Schema()
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("schema is not JSON: %v", err)
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "b_greeter.yaml"), []byte(greeterYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	tpl, _ := DecodeYAML([]byte(greeterYAML))
	tpl.Name = "other"
	data, _ := json.Marshal(tpl)
	if err := os.WriteFile(filepath.Join(dir, "a_other.json"), data, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}

	tpls, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(tpls) != 2 || tpls[0].Name != "other" || tpls[1].Name != "greeter" {
		t.Fatalf("unexpected templates: %d", len(tpls))
	}

	if _, err := LoadFile(filepath.Join(dir, "notes.txt")); err == nil {
		t.Fatal("expected unsupported extension error")
	}
}
