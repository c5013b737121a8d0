// Package template defines the provider template format: declared input,
// output and internal fields plus the set, remove and test operations that
// drive a rotation cycle.
package template

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// FieldType enumerates the value types a declared field accepts.
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldInteger FieldType = "integer"
	FieldList    FieldType = "list"
)

// Field declares one value in a template namespace.
type Field struct {
	Name        string    `yaml:"name"`
	Type        FieldType `yaml:"type,omitempty"` // defaults to string
	Required    bool      `yaml:"required,omitempty"`
	Default     any       `yaml:"default,omitempty"`
	Sensitive   bool      `yaml:"sensitive,omitempty"`
	Description string    `yaml:"description,omitempty"`
}

// OperationType is a closed set: an operation either calls an HTTP endpoint
// or runs a database statement. Dispatch switches over it exhaustively and
// treats anything else as a template defect.
type OperationType string

const (
	OpHTTP OperationType = "http"
	OpDB   OperationType = "db"
)

// DBClient names a supported database dialect.
type DBClient string

const (
	ClientPostgres DBClient = "postgres"
	ClientMySQL    DBClient = "mysql"
)

// PreStep assigns a context value before the operation executes. The assign
// text is a template expression, typically ${random | N} for fresh secrets.
type PreStep struct {
	Field  string // dotted target, e.g. "internal.rotated_password"
	Assign string
}

// PreSteps preserves declaration order; later steps may reference values
// assigned by earlier ones.
type PreSteps []PreStep

// UnmarshalYAML reads a mapping of field -> assign expression, keeping the
// order the template author wrote.
func (p *PreSteps) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("pre must be a mapping of field to expression")
	}
	steps := make(PreSteps, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var assign string
		if err := node.Content[i+1].Decode(&assign); err != nil {
			return fmt.Errorf("pre rule for '%s': %w", node.Content[i].Value, err)
		}
		steps = append(steps, PreStep{Field: node.Content[i].Value, Assign: assign})
	}
	*p = steps
	return nil
}

// SetterRule stages one context value from an operation result. Exactly one
// of Query and Assign is set: Query extracts from the result document,
// Assign re-evaluates a template expression against the context.
type SetterRule struct {
	Query  string `yaml:"query,omitempty"`
	Assign string `yaml:"assign,omitempty"`
}

// SetterEntry pairs a dotted target field with its rule.
type SetterEntry struct {
	Field string
	Rule  SetterRule
}

// Setters preserves declaration order for deterministic staging.
type Setters []SetterEntry

// UnmarshalYAML reads a mapping of field -> rule in declaration order.
func (s *Setters) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("setter must be a mapping of field to rule")
	}
	entries := make(Setters, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var rule SetterRule
		if err := node.Content[i+1].Decode(&rule); err != nil {
			return fmt.Errorf("setter rule for '%s': %w", node.Content[i].Value, err)
		}
		entries = append(entries, SetterEntry{Field: node.Content[i].Value, Rule: rule})
	}
	*s = entries
	return nil
}

// Operation describes one remote call. HTTP and DB fields are mutually
// exclusive per the operation type; string fields may contain ${...}
// expressions resolved at execution time.
type Operation struct {
	Type OperationType `yaml:"type"`

	// HTTP
	Method string            `yaml:"method,omitempty"`
	URL    string            `yaml:"url,omitempty"`
	Header map[string]string `yaml:"header,omitempty"`
	Body   any               `yaml:"body,omitempty"`

	// DB
	Client   DBClient `yaml:"client,omitempty"`
	Host     string   `yaml:"host,omitempty"`
	Port     string   `yaml:"port,omitempty"`
	Database string   `yaml:"database,omitempty"`
	Username string   `yaml:"username,omitempty"`
	Password string   `yaml:"password,omitempty"`
	SSLMode  string   `yaml:"ssl_mode,omitempty"`
	Query    string   `yaml:"query,omitempty"`

	Pre    PreSteps `yaml:"pre,omitempty"`
	Setter Setters  `yaml:"setter,omitempty"`
}

// Functions groups a template's operations. Set is mandatory; remove and
// test are optional capabilities.
type Functions struct {
	Set    *Operation `yaml:"set"`
	Remove *Operation `yaml:"remove,omitempty"`
	Test   *Operation `yaml:"test,omitempty"`
}

// DualCredential marks a template as rotating between two remote accounts
// so the previous credential stays valid until consumers move over. The
// orchestrator alternates InternalField between the two named inputs.
type DualCredential struct {
	InternalField string   `yaml:"internal_field"`
	Inputs        []string `yaml:"inputs"`
}

// Template is one provider definition from the catalog.
type Template struct {
	Name     string          `yaml:"name"`
	Title    string          `yaml:"title,omitempty"`
	Inputs   []Field         `yaml:"inputs"`
	Outputs  []Field         `yaml:"outputs"`
	Internal []Field         `yaml:"internal,omitempty"`
	Dual     *DualCredential `yaml:"dual_credential,omitempty"`

	Functions Functions `yaml:"functions"`
}

// Operation names accepted by Template.Operation.
const (
	OpNameSet    = "set"
	OpNameRemove = "remove"
	OpNameTest   = "test"
)

// Operation returns the named operation, or an error when the template
// does not define it.
func (t *Template) Operation(name string) (*Operation, error) {
	var op *Operation
	switch name {
	case OpNameSet:
		op = t.Functions.Set
	case OpNameRemove:
		op = t.Functions.Remove
	case OpNameTest:
		op = t.Functions.Test
	default:
		return nil, fmt.Errorf("unknown operation '%s'", name)
	}
	if op == nil {
		return nil, fmt.Errorf("template '%s' does not define operation '%s'", t.Name, name)
	}
	return op, nil
}

// HasOperation reports whether the template defines the named operation.
func (t *Template) HasOperation(name string) bool {
	op, err := t.Operation(name)
	return err == nil && op != nil
}

// DeclaresField reports whether a namespace declares the given field.
func (t *Template) DeclaresField(namespace, field string) bool {
	var fields []Field
	switch namespace {
	case "inputs":
		fields = t.Inputs
	case "outputs":
		fields = t.Outputs
	case "internal":
		fields = t.Internal
	default:
		return false
	}
	for _, f := range fields {
		if f.Name == field {
			return true
		}
	}
	return false
}

// FieldSpec returns the declaration for namespace.field.
func (t *Template) FieldSpec(namespace, field string) (Field, bool) {
	var fields []Field
	switch namespace {
	case "inputs":
		fields = t.Inputs
	case "outputs":
		fields = t.Outputs
	case "internal":
		fields = t.Internal
	}
	for _, f := range fields {
		if f.Name == field {
			return f, true
		}
	}
	return Field{}, false
}
