package catalog

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const schemaURL = "https://cellguard.dev/schemas/service_v1.json"

//go:embed schema/service_v1.json
var serviceSchema []byte

// Validator handles service definition validation
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the embedded service schema.
func NewValidator() (*Validator, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(serviceSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, doc); err != nil {
		return nil, fmt.Errorf("failed to add schema: %w", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &Validator{schema: schema}, nil
}

// ValidateDirectory loads and validates every definition in a directory. Only
// definitions without errors are returned.
func (v *Validator) ValidateDirectory(dirPath string) ([]DefinitionFile, []ValidationError) {
	defs, loadErrors := LoadFromDirectory(dirPath)

	var allErrors []ValidationError
	allErrors = append(allErrors, loadErrors...)

	if len(defs) == 0 {
		return nil, allErrors
	}

	bad := make(map[string]bool)
	for _, def := range defs {
		errs := v.validateSchema(def)
		if len(errs) > 0 {
			bad[def.File] = true
		}
		allErrors = append(allErrors, errs...)
	}

	for _, err := range validateExtraRules(defs) {
		bad[err.File] = true
		allErrors = append(allErrors, err)
	}

	valid := make([]DefinitionFile, 0, len(defs))
	for _, def := range defs {
		if !bad[def.File] {
			valid = append(valid, def)
		}
	}
	return valid, allErrors
}

// validateSchema validates the raw document of a definition against the schema
func (v *Validator) validateSchema(def DefinitionFile) []ValidationError {
	var errs []ValidationError

	// Round-trip through JSON so YAML scalars take their JSON types.
	data, err := json.Marshal(def.raw)
	if err != nil {
		return append(errs, ValidationError{
			File:    def.File,
			Message: fmt.Sprintf("failed to convert to JSON: %v", err),
		})
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return append(errs, ValidationError{
			File:    def.File,
			Message: fmt.Sprintf("failed to convert to JSON: %v", err),
		})
	}

	if err := v.schema.Validate(doc); err != nil {
		var validationErr *jsonschema.ValidationError
		if errors.As(err, &validationErr) {
			errs = append(errs, extractSchemaErrors(def.File, validationErr)...)
		} else {
			errs = append(errs, ValidationError{File: def.File, Message: err.Error()})
		}
	}

	return errs
}

// extractSchemaErrors flattens nested schema errors, keeping only the leaves.
func extractSchemaErrors(file string, err *jsonschema.ValidationError) []ValidationError {
	if len(err.Causes) > 0 {
		var errs []ValidationError
		for _, cause := range err.Causes {
			errs = append(errs, extractSchemaErrors(file, cause)...)
		}
		return errs
	}

	path := strings.Join(err.InstanceLocation, ".")
	if path == "" {
		path = "(root)"
	}
	return []ValidationError{{File: file, Path: path, Message: err.Error()}}
}

// validateExtraRules applies the rules the schema cannot express
func validateExtraRules(defs []DefinitionFile) []ValidationError {
	var errs []ValidationError

	nameSeen := make(map[string]string)
	for _, def := range defs {
		name := def.Definition.Metadata.Name
		if prevFile, exists := nameSeen[name]; exists && name != "" {
			errs = append(errs, ValidationError{
				File:    def.File,
				Path:    "metadata.name",
				Message: fmt.Sprintf("duplicate name %q (also in %s)", name, filepath.Base(prevFile)),
			})
		} else {
			nameSeen[name] = def.File
		}

		if def.Definition.Spec.Window == "" {
			continue
		}
		if _, err := WindowDays(def.Definition.Spec.Window); err != nil {
			errs = append(errs, ValidationError{
				File:    def.File,
				Path:    "spec.window",
				Message: err.Error(),
			})
		}
	}

	return errs
}
