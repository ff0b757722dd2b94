package graph

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"
	jsonschemav5 "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/soochol/convograph/internal/flow"
)

const schemaURL = "schema://convograph/workflow-template.json"

var (
	schemaOnce     sync.Once
	schemaDoc      []byte
	schemaCompiled *jsonschemav5.Schema
	schemaErr      error
)

func loadSchema() {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		Anonymous:                  true,
	}
	s := reflector.Reflect(&flow.WorkflowTemplate{})
	schemaDoc, schemaErr = json.Marshal(s)
	if schemaErr != nil {
		schemaErr = fmt.Errorf("marshal template schema: %w", schemaErr)
		return
	}
	compiler := jsonschemav5.NewCompiler()
	if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaDoc)); err != nil {
		schemaErr = fmt.Errorf("add template schema: %w", err)
		return
	}
	schemaCompiled, schemaErr = compiler.Compile(schemaURL)
	if schemaErr != nil {
		schemaErr = fmt.Errorf("compile template schema: %w", schemaErr)
	}
}

// Schema returns the JSON Schema describing template documents.
func Schema() ([]byte, error) {
	schemaOnce.Do(loadSchema)
	return schemaDoc, schemaErr
}

// ValidateDocument checks a JSON template document against Schema. Problems
// are reported as a *flow.TemplateError.
func ValidateDocument(data []byte) error {
	schemaOnce.Do(loadSchema)
	if schemaErr != nil {
		return schemaErr
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return &flow.TemplateError{Problems: []string{fmt.Sprintf("malformed document: %v", err)}}
	}
	if err := schemaCompiled.Validate(doc); err != nil {
		var ve *jsonschemav5.ValidationError
		if errors.As(err, &ve) {
			return &flow.TemplateError{Template: documentName(doc), Problems: leafProblems(ve)}
		}
		return fmt.Errorf("validate template document: %w", err)
	}
	return nil
}

func leafProblems(ve *jsonschemav5.ValidationError) []string {
	if len(ve.Causes) == 0 {
		loc := ve.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		return []string{fmt.Sprintf("%s: %s", loc, ve.Message)}
	}
	var out []string
	for _, c := range ve.Causes {
		out = append(out, leafProblems(c)...)
	}
	return out
}

func documentName(doc any) string {
	if m, ok := doc.(map[string]any); ok {
		name, _ := m["name"].(string)
		return name
	}
	return ""
}
