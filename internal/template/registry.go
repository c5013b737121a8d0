package template

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML string

// Catalog holds the loaded provider templates.
type Catalog struct {
	templates map[string]*Template
	order     []string
}

var (
	catalog   *Catalog
	catalogMu sync.RWMutex
)

// LoadCatalog parses the embedded template catalog once and caches it.
func LoadCatalog() (*Catalog, error) {
	catalogMu.RLock()
	if catalog != nil {
		defer catalogMu.RUnlock()
		return catalog, nil
	}
	catalogMu.RUnlock()

	catalogMu.Lock()
	defer catalogMu.Unlock()

	// Double-check after acquiring write lock
	if catalog != nil {
		return catalog, nil
	}

	c, err := ParseCatalog([]byte(catalogYAML))
	if err != nil {
		return nil, err
	}
	catalog = c
	return catalog, nil
}

// ParseCatalog parses catalog YAML and validates every template in it.
// Exposed so tests can load purpose-built catalogs.
func ParseCatalog(data []byte) (*Catalog, error) {
	var doc struct {
		Templates []*Template `yaml:"templates"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse template catalog: %w", err)
	}

	c := &Catalog{templates: make(map[string]*Template, len(doc.Templates))}
	for _, t := range doc.Templates {
		if err := validateTemplate(t); err != nil {
			return nil, fmt.Errorf("template '%s': %w", t.Name, err)
		}
		if _, dup := c.templates[t.Name]; dup {
			return nil, fmt.Errorf("duplicate template name '%s'", t.Name)
		}
		c.templates[t.Name] = t
		c.order = append(c.order, t.Name)
	}
	return c, nil
}

// Get returns the named template.
func (c *Catalog) Get(name string) (*Template, error) {
	t, ok := c.templates[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown template '%s' (known: %s)",
			name, strings.Join(c.Names(), ", "))
	}
	return t, nil
}

// Names returns all template names in catalog order.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// validateTemplate checks the structural rules a template must satisfy
// before any rotation may use it: a set operation exists, every pre and
// setter rule targets a declared internal or output field, and the dual
// credential section names declared fields.
func validateTemplate(t *Template) error {
	if t.Name == "" {
		return fmt.Errorf("missing name")
	}
	if t.Functions.Set == nil {
		return fmt.Errorf("missing set operation")
	}
	if len(t.Outputs) == 0 {
		return fmt.Errorf("declares no outputs")
	}

	for _, opName := range []string{OpNameSet, OpNameRemove, OpNameTest} {
		op, err := t.Operation(opName)
		if err != nil {
			continue
		}
		if err := validateOperation(t, opName, op); err != nil {
			return err
		}
	}

	if t.Dual != nil {
		if !t.DeclaresField("internal", t.Dual.InternalField) {
			return fmt.Errorf("dual_credential targets undeclared internal field '%s'", t.Dual.InternalField)
		}
		if len(t.Dual.Inputs) != 2 {
			return fmt.Errorf("dual_credential requires exactly two inputs, got %d", len(t.Dual.Inputs))
		}
		for _, in := range t.Dual.Inputs {
			if !t.DeclaresField("inputs", in) {
				return fmt.Errorf("dual_credential references undeclared input '%s'", in)
			}
		}
	}

	return nil
}

func validateOperation(t *Template, opName string, op *Operation) error {
	switch op.Type {
	case OpHTTP:
		if op.Method == "" || op.URL == "" {
			return fmt.Errorf("%s: http operation requires method and url", opName)
		}
	case OpDB:
		if op.Client != ClientPostgres && op.Client != ClientMySQL {
			return fmt.Errorf("%s: unsupported db client '%s'", opName, op.Client)
		}
		if op.Query == "" {
			return fmt.Errorf("%s: db operation requires a query", opName)
		}
	default:
		return fmt.Errorf("%s: unknown operation type '%s'", opName, op.Type)
	}

	for _, step := range op.Pre {
		if err := checkWritableTarget(t, step.Field); err != nil {
			return fmt.Errorf("%s: pre rule: %w", opName, err)
		}
	}
	for _, entry := range op.Setter {
		if err := checkWritableTarget(t, entry.Field); err != nil {
			return fmt.Errorf("%s: setter rule: %w", opName, err)
		}
		if (entry.Rule.Query == "") == (entry.Rule.Assign == "") {
			return fmt.Errorf("%s: setter for '%s' needs exactly one of query or assign", opName, entry.Field)
		}
	}
	return nil
}

// checkWritableTarget verifies a dotted field targets a declared internal
// or output field. Inputs are read-only.
func checkWritableTarget(t *Template, dotted string) error {
	ns, field, ok := strings.Cut(dotted, ".")
	if !ok {
		return fmt.Errorf("target '%s' must be namespace.field", dotted)
	}
	if ns != "internal" && ns != "outputs" {
		return fmt.Errorf("target '%s' must write to internal or outputs", dotted)
	}
	if !t.DeclaresField(ns, field) {
		return fmt.Errorf("target '%s' is not declared", dotted)
	}
	return nil
}
