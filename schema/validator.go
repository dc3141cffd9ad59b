// Package schema compiles reflected JSON schemas and validates documents against them.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	santhosh "github.com/santhosh-tekuri/jsonschema/v5"
)

// Validator validates JSON-like documents against a compiled schema.
type Validator struct {
	name   string
	schema *santhosh.Schema
}

// Reflect generates a draft-07 schema for v using the given field name tag.
func Reflect(v interface{}, fieldNameTag string, allowAdditional bool) ([]byte, error) {
	r := &jsonschema.Reflector{
		AllowAdditionalProperties: allowAdditional,
		ExpandedStruct:            true,
		FieldNameTag:              fieldNameTag,
		DoNotReference:            true,
	}
	s := r.Reflect(v)
	s.Version = "http://json-schema.org/draft-07/schema#"
	return json.MarshalIndent(s, "", "  ")
}

// NewValidator compiles the raw schema document registered under name.
func NewValidator(name string, schemaData []byte) (*Validator, error) {
	compiler := santhosh.NewCompiler()
	compiler.Draft = santhosh.Draft7
	if err := compiler.AddResource(name, strings.NewReader(string(schemaData))); err != nil {
		return nil, fmt.Errorf("failed to add schema resource %s: %w", name, err)
	}

	s, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	return &Validator{name: name, schema: s}, nil
}

// MustValidator is NewValidator for schemas generated at init time.
func MustValidator(name string, schemaData []byte) *Validator {
	v, err := NewValidator(name, schemaData)
	if err != nil {
		panic(err)
	}
	return v
}

// Validate validates data, which may be a struct or a decoded document.
func (v *Validator) Validate(data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data to JSON for validation: %w", err)
	}
	return v.ValidateJSON(jsonData)
}

// ValidateJSON validates an encoded JSON document.
func (v *Validator) ValidateJSON(raw []byte) error {
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("failed to unmarshal JSON for validation: %w", err)
	}

	if err := v.schema.Validate(doc); err != nil {
		if validationErr, ok := err.(*santhosh.ValidationError); ok {
			var errorMessages []string
			collectErrors(validationErr, &errorMessages)
			if len(errorMessages) == 0 {
				errorMessages = append(errorMessages, "- "+validationErr.Message)
			}
			return fmt.Errorf("schema validation failed:\n%s", strings.Join(errorMessages, "\n"))
		}
		return fmt.Errorf("schema validation failed: %w", err)
	}

	return nil
}

// collectErrors recursively collects all validation errors into a slice
func collectErrors(err *santhosh.ValidationError, messages *[]string) {
	if err.InstanceLocation != "" && len(err.Causes) == 0 {
		*messages = append(*messages, fmt.Sprintf("- %s: %s", err.InstanceLocation, err.Message))
	}
	for _, cause := range err.Causes {
		collectErrors(cause, messages)
	}
}
