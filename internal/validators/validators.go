// Package validators checks request bodies against embedded JSON schemas
// before they are decoded into domain types.
package validators

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ErrInvalidRequest is wrapped by every validation failure
var ErrInvalidRequest = errors.New("invalid request")

//go:embed schemas/*.json
var schemaFS embed.FS

const (
	createTableSchema = "schemas/create_table.json"
	addColumnSchema   = "schemas/add_column.json"
)

// Validator holds the compiled request schemas
type Validator struct {
	createTable *jsonschema.Schema
	addColumn   *jsonschema.Schema
}

// New compiles the embedded schemas
func New() (*Validator, error) {
	c := jsonschema.NewCompiler()
	for _, name := range []string{createTableSchema, addColumnSchema} {
		data, err := schemaFS.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("failed to read schema %s: %w", name, err)
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to parse schema %s: %w", name, err)
		}
		if err := c.AddResource(name, doc); err != nil {
			return nil, fmt.Errorf("failed to add schema %s: %w", name, err)
		}
	}

	createTable, err := c.Compile(createTableSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema %s: %w", createTableSchema, err)
	}
	addColumn, err := c.Compile(addColumnSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema %s: %w", addColumnSchema, err)
	}

	return &Validator{createTable: createTable, addColumn: addColumn}, nil
}

// CreateTable validates a create-table request body
func (v *Validator) CreateTable(body []byte) error {
	return validate(v.createTable, body)
}

// AddColumn validates an add-column request body
func (v *Validator) AddColumn(body []byte) error {
	return validate(v.addColumn, body)
}

func validate(schema *jsonschema.Schema, body []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: malformed JSON: %v", ErrInvalidRequest, err)
	}
	if err := schema.Validate(inst); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidRequest, summarize(err))
	}
	return nil
}

// summarize drops the schema location header of a validation error and joins
// the remaining causes into one line, e.g. "at '/columns/0/type': value must be one of 'text', 'date'"
func summarize(err error) string {
	lines := strings.Split(strings.TrimSpace(err.Error()), "\n")
	if len(lines) > 1 {
		lines = lines[1:]
	}
	for i, line := range lines {
		lines[i] = strings.TrimPrefix(strings.TrimSpace(line), "- ")
	}
	return strings.Join(lines, "; ")
}
