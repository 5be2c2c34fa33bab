// Package validation computes the validation errors of a step from its template rules.
package validation

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/dukex/regcycle/pkg/canonical"
	"github.com/dukex/regcycle/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

// Validator checks step data against required fields and an optional JSON Schema. Compiled schemas
// are cached by their canonical hash.
type Validator struct {
	mu      sync.Mutex
	schemas map[string]*gojsonschema.Schema
}

func New() *Validator {
	return &Validator{schemas: make(map[string]*gojsonschema.Schema)}
}

// Step returns the validation errors of step for data. An empty result means the data is valid.
func (v *Validator) Step(step *models.Step, data map[string]any) []string {
	errs := make([]string, 0)

	for _, field := range step.RequiredFields {
		if isBlank(data[field]) {
			errs = append(errs, fmt.Sprintf("%s is required", field))
		}
	}

	if len(step.Schema) == 0 {
		return errs
	}

	schema, err := v.compile(step.Schema)
	if err != nil {
		return append(errs, fmt.Sprintf("step schema is invalid: %s", err))
	}

	document := data
	if document == nil {
		document = map[string]any{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(document))
	if err != nil {
		return append(errs, fmt.Sprintf("step data could not be validated: %s", err))
	}

	for _, resultErr := range result.Errors() {
		// Missing required properties are already reported above when the template lists them.
		if resultErr.Type() == "required" && contains(step.RequiredFields, propertyOf(resultErr)) {
			continue
		}

		errs = append(errs, resultErr.String())
	}

	return errs
}

func (v *Validator) compile(raw map[string]any) (*gojsonschema.Schema, error) {
	key, err := canonical.Hash(raw)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if schema, ok := v.schemas[key]; ok {
		return schema, nil
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(raw))
	if err != nil {
		return nil, err
	}

	v.schemas[key] = schema

	return schema, nil
}

// CompileSchema reports whether raw is a usable JSON Schema.
func CompileSchema(raw map[string]any) error {
	_, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(raw))

	return err
}

func propertyOf(resultErr gojsonschema.ResultError) string {
	if property, ok := resultErr.Details()["property"].(string); ok {
		return property
	}

	return ""
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}

	return false
}

func isBlank(value any) bool {
	if value == nil {
		return true
	}

	if s, ok := value.(string); ok {
		return strings.TrimSpace(s) == ""
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	default:
		return false
	}
}
