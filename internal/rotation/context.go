package rotation

import (
	"fmt"
	"strings"

	"github.com/systmms/rotor/internal/template"
)

// cycleContext is the per-cycle value bag the expression resolver reads
// from and setters write into. Inputs are read-only; internal and outputs
// only accept fields the template declares.
type cycleContext struct {
	tmpl     *template.Template
	inputs   map[string]any
	internal map[string]any
	outputs  map[string]any
}

func newCycleContext(t *template.Template, inputs, priorInternal map[string]any) *cycleContext {
	c := &cycleContext{
		tmpl:     t,
		inputs:   make(map[string]any, len(inputs)),
		internal: make(map[string]any, len(priorInternal)),
		outputs:  make(map[string]any),
	}
	for k, v := range inputs {
		c.inputs[k] = v
	}
	// Prior internal state carries over so remove and test can reference
	// values produced by an earlier set.
	for k, v := range priorInternal {
		if t.DeclaresField("internal", k) {
			c.internal[k] = v
		}
	}
	return c
}

// Lookup implements expr.Source.
func (c *cycleContext) Lookup(path string) (any, bool) {
	ns, field, ok := strings.Cut(path, ".")
	if !ok {
		return nil, false
	}
	switch ns {
	case "inputs":
		v, found := c.inputs[field]
		return v, found
	case "internal":
		v, found := c.internal[field]
		return v, found
	case "outputs":
		v, found := c.outputs[field]
		return v, found
	default:
		return nil, false
	}
}

// Set writes a declared internal or output field via its dotted path.
func (c *cycleContext) Set(path string, v any) error {
	ns, field, ok := strings.Cut(path, ".")
	if !ok {
		return fmt.Errorf("target '%s' must be namespace.field", path)
	}
	if !c.tmpl.DeclaresField(ns, field) {
		return fmt.Errorf("target '%s' is not declared by template '%s'", path, c.tmpl.Name)
	}
	switch ns {
	case "internal":
		c.internal[field] = v
	case "outputs":
		c.outputs[field] = v
	default:
		return fmt.Errorf("target '%s' is read-only", path)
	}
	return nil
}

// Outputs returns a copy of the staged output values.
func (c *cycleContext) Outputs() map[string]any {
	return copyMap(c.outputs)
}

// Internal returns a copy of the staged internal values.
func (c *cycleContext) Internal() map[string]any {
	return copyMap(c.internal)
}

// SecretValues collects every string value that must never appear in
// errors, logs or audit events: sensitive inputs plus everything in the
// internal and outputs namespaces.
func (c *cycleContext) SecretValues() []string {
	var secrets []string
	for name, v := range c.inputs {
		spec, ok := c.tmpl.FieldSpec("inputs", name)
		if !ok || !spec.Sensitive {
			continue
		}
		if s, isStr := v.(string); isStr {
			secrets = append(secrets, s)
		}
	}
	for _, ns := range []map[string]any{c.internal, c.outputs} {
		for _, v := range ns {
			if s, isStr := v.(string); isStr {
				secrets = append(secrets, s)
			}
		}
	}
	return secrets
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
