package graph

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/soochol/convograph/internal/flow"
)

// DecodeJSON validates a JSON template document and decodes it.
func DecodeJSON(data []byte) (*flow.WorkflowTemplate, error) {
	if err := ValidateDocument(data); err != nil {
		return nil, err
	}
	var tpl flow.WorkflowTemplate
	if err := json.Unmarshal(data, &tpl); err != nil {
		return nil, fmt.Errorf("decode template: %w", err)
	}
	return &tpl, nil
}

// DecodeYAML converts a YAML template document to JSON, validates it and
// decodes it.
func DecodeYAML(data []byte) (*flow.WorkflowTemplate, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &flow.TemplateError{Problems: []string{fmt.Sprintf("malformed YAML: %v", err)}}
	}
	asJSON, err := json.Marshal(doc)
	if err != nil {
		return nil, &flow.TemplateError{Problems: []string{fmt.Sprintf("YAML is not representable as JSON: %v", err)}}
	}
	return DecodeJSON(asJSON)
}

// LoadFile reads a template from a .yaml, .yml or .json file.
func LoadFile(path string) (*flow.WorkflowTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading template file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return DecodeJSON(data)
	case ".yaml", ".yml":
		return DecodeYAML(data)
	default:
		return nil, fmt.Errorf("unsupported template file extension: %s", path)
	}
}

// LoadDir reads every template file in dir, sorted by file name.
func LoadDir(dir string) ([]*flow.WorkflowTemplate, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading template dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".json", ".yaml", ".yml":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var out []*flow.WorkflowTemplate
	for _, name := range names {
		tpl, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out = append(out, tpl)
	}
	return out, nil
}
