// Package validation reflects the extension manifest schema and validates
// manifests against it.
package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	reflectschema "github.com/invopop/jsonschema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/reglet-dev/exthost/internal/domain/entities"
)

const manifestSchemaURL = "manifest.schema.json"

var structValidator = validator.New()

// ManifestSchema returns the JSON Schema (draft 2020-12) of extension.yaml.
func ManifestSchema() ([]byte, error) {
	r := reflectschema.Reflector{
		Anonymous:      true,
		ExpandedStruct: true,
	}
	s := r.Reflect(&entities.Manifest{})
	s.Title = "exthost extension manifest"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal manifest schema: %w", err)
	}
	return data, nil
}

// ManifestValidator checks raw manifest documents against the reflected
// schema before they are decoded.
type ManifestValidator struct {
	schema *jsonschema.Schema
}

// NewManifestValidator compiles the manifest schema.
func NewManifestValidator() (*ManifestValidator, error) {
	raw, err := ManifestSchema()
	if err != nil {
		return nil, err
	}

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(manifestSchemaURL, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("failed to add manifest schema: %w", err)
	}
	schema, err := compiler.Compile(manifestSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile manifest schema: %w", err)
	}
	return &ManifestValidator{schema: schema}, nil
}

// ValidateDocument validates a document decoded from JSON.
func (v *ManifestValidator) ValidateDocument(doc any) error {
	if err := v.schema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return formatSchemaValidationError(ve)
		}
		return err
	}
	return nil
}

// ValidateStruct runs the validate struct tags of v.
func ValidateStruct(v any) error {
	if err := structValidator.Struct(v); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

func formatSchemaValidationError(err *jsonschema.ValidationError) error {
	var messages []string

	var collect func(*jsonschema.ValidationError)
	collect = func(e *jsonschema.ValidationError) {
		if e.Message != "" && len(e.Causes) == 0 {
			location := e.InstanceLocation
			if location == "" {
				location = "(root)"
			}
			messages = append(messages, fmt.Sprintf("%s: %s", location, e.Message))
		}
		for _, cause := range e.Causes {
			collect(cause)
		}
	}
	collect(err)

	if len(messages) == 0 {
		return errors.New("manifest validation failed")
	}
	return fmt.Errorf("manifest validation failed:\n    - %s", strings.Join(messages, "\n    - "))
}
