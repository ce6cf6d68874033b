// Package workingmem validates an agent's working-memory documents against
// the JSON schema declared in its memory settings.
package workingmem

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/deco-cx/agent-runtime/pkg/models"
)

// Validator checks working-memory documents against a compiled schema.
// A nil Validator (working memory disabled, or no schema declared) accepts
// everything.
type Validator struct {
	schema   *jsonschema.Schema
	template string
}

// Compile builds a Validator from an agent's working-memory settings. An
// invalid schema is a configuration error: it surfaces here, at configure
// time, not in the middle of a generation.
func Compile(settings models.WorkingMemorySettings) (*Validator, error) {
	if !settings.Enabled {
		return nil, nil
	}
	if len(settings.Schema) == 0 {
		return &Validator{template: settings.Template}, nil
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("working-memory.json", bytes.NewReader(settings.Schema)); err != nil {
		return nil, fmt.Errorf("working memory schema: %w", err)
	}
	schema, err := compiler.Compile("working-memory.json")
	if err != nil {
		return nil, fmt.Errorf("working memory schema: %w", err)
	}

	return &Validator{schema: schema, template: settings.Template}, nil
}

// Template returns the initial document template, if any.
func (v *Validator) Template() string {
	if v == nil {
		return ""
	}
	return v.template
}

// Validate checks a working-memory document. Documents must be valid JSON
// even when no schema is declared.
func (v *Validator) Validate(document []byte) error {
	var decoded any
	if err := json.Unmarshal(document, &decoded); err != nil {
		return fmt.Errorf("working memory document: %w", err)
	}
	if v == nil || v.schema == nil {
		return nil
	}
	if err := v.schema.Validate(decoded); err != nil {
		return fmt.Errorf("working memory document: %w", err)
	}
	return nil
}
