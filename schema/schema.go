// Package schema validates attribute values and method arguments against JSON Schema.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/veea/vbus/errors"
)

// Validator checks a value against a schema. A nil or empty schema accepts everything.
// Rejections wrap errors.ErrInvalidValue.
type Validator interface {
	Validate(schema map[string]any, value any) error
}

// ValidationError lists the reasons a value was rejected.
type ValidationError struct {
	Reasons []string
}

func (e *ValidationError) Error() string {
	return "schema validation failed: " + strings.Join(e.Reasons, "; ")
}

// Unwrap lets callers match errors.ErrInvalidValue.
func (e *ValidationError) Unwrap() error {
	return errors.ErrInvalidValue
}

// JSONSchemaValidator validates with gojsonschema and caches compiled schemas.
type JSONSchemaValidator struct {
	compiled sync.Map // schema JSON -> *gojsonschema.Schema
}

// NewJSONSchemaValidator creates a validator.
func NewJSONSchemaValidator() *JSONSchemaValidator {
	return &JSONSchemaValidator{}
}

// Validate implements Validator.
func (v *JSONSchemaValidator) Validate(schema map[string]any, value any) error {
	if len(schema) == 0 {
		return nil
	}

	compiled, err := v.compile(schema)
	if err != nil {
		return err
	}

	valueBytes, err := json.Marshal(value)
	if err != nil {
		return errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidValue, err),
			"JSONSchemaValidator", "Validate", "marshal value")
	}

	result, err := compiled.Validate(gojsonschema.NewBytesLoader(valueBytes))
	if err != nil {
		return errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidValue, err),
			"JSONSchemaValidator", "Validate", "validate value")
	}
	if result.Valid() {
		return nil
	}

	verr := &ValidationError{}
	for _, re := range result.Errors() {
		verr.Reasons = append(verr.Reasons, re.String())
	}
	return verr
}

func (v *JSONSchemaValidator) compile(schema map[string]any) (*gojsonschema.Schema, error) {
	schemaBytes, err := json.Marshal(schema)
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidValue, err),
			"JSONSchemaValidator", "compile", "marshal schema")
	}

	key := string(schemaBytes)
	if cached, ok := v.compiled.Load(key); ok {
		return cached.(*gojsonschema.Schema), nil
	}

	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaBytes))
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidValue, err),
			"JSONSchemaValidator", "compile", "compile schema")
	}
	v.compiled.Store(key, compiled)
	return compiled, nil
}

// Nop accepts every value.
type Nop struct{}

// Validate implements Validator.
func (Nop) Validate(map[string]any, any) error { return nil }
