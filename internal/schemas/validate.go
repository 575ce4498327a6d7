// Package schemas validates records kept in the asset store against JSON Schema.
package schemas

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// SecretRecord is the default schema for records encrypted by the vault.
//
//go:embed secret_record.schema.json
var SecretRecord string

// FieldError is a single violation at a JSON path. The root is "(root)".
type FieldError struct {
	Field   string
	Message string
}

// ValidationError lists every violation found in a document.
type ValidationError struct {
	Schema string
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "record does not match schema %s:", e.Schema)
	for _, fe := range e.Errors {
		fmt.Fprintf(&sb, "\n  - %s: %s", fe.Field, fe.Message)
	}
	return sb.String()
}

// Fields returns the paths that failed, in report order.
func (e *ValidationError) Fields() []string {
	fields := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		fields[i] = fe.Field
	}
	return fields
}

// SchemaLoadError means the schema itself could not be read or compiled.
type SchemaLoadError struct {
	Schema string
	Cause  error
}

func (e *SchemaLoadError) Error() string {
	return fmt.Sprintf("failed to load schema %s: %v", e.Schema, e.Cause)
}

func (e *SchemaLoadError) Unwrap() error {
	return e.Cause
}

// DocumentError means the record is not well-formed JSON.
type DocumentError struct {
	Cause error
}

func (e *DocumentError) Error() string {
	return fmt.Sprintf("record is not valid JSON: %v", e.Cause)
}

func (e *DocumentError) Unwrap() error {
	return e.Cause
}

// Validator is a compiled schema. It is safe for concurrent use.
type Validator struct {
	name   string
	schema *gojsonschema.Schema
}

// Compile parses schema content. name only appears in error messages.
func Compile(name, content string) (*Validator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(content))
	if err != nil {
		return nil, &SchemaLoadError{Schema: name, Cause: err}
	}
	return &Validator{name: name, schema: schema}, nil
}

// LoadFile reads and compiles the schema at path.
func LoadFile(path string) (*Validator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &SchemaLoadError{Schema: path, Cause: err}
	}
	return Compile(path, string(data))
}

var defaultValidator = sync.OnceValues(func() (*Validator, error) {
	return Compile("secret_record", SecretRecord)
})

// Default returns the compiled SecretRecord schema.
func Default() *Validator {
	v, err := defaultValidator()
	if err != nil {
		panic(err) // embedded schema is fixed at build time
	}
	return v
}

// Name reports the schema name given to Compile.
func (v *Validator) Name() string {
	return v.name
}

// Validate checks a JSON document.
func (v *Validator) Validate(document []byte) error {
	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(document))
	if err != nil {
		return &DocumentError{Cause: err}
	}
	if result.Valid() {
		return nil
	}

	verr := &ValidationError{Schema: v.name, Errors: make([]FieldError, 0, len(result.Errors()))}
	for _, desc := range result.Errors() {
		field := desc.Field()
		if field == "" {
			field = "(root)"
		}
		verr.Errors = append(verr.Errors, FieldError{Field: field, Message: desc.Description()})
	}
	return verr
}
