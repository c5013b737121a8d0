package template

import (
	"strings"

	"github.com/xeipuuv/gojsonschema"

	rerrors "github.com/systmms/rotor/internal/errors"
)

// InputSchema builds a JSON Schema document from the template's declared
// inputs. Unknown keys are rejected so a typo in an inputs file fails
// loudly instead of silently losing a value.
func (t *Template) InputSchema() map[string]any {
	properties := make(map[string]any, len(t.Inputs))
	var required []string

	for _, f := range t.Inputs {
		properties[f.Name] = fieldSchema(f)
		if f.Required {
			required = append(required, f.Name)
		}
	}

	schema := map[string]any{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func fieldSchema(f Field) map[string]any {
	switch f.Type {
	case FieldInteger:
		// Integers arriving from YAML inputs files may be quoted; accept a
		// digit string and let resolution stringify either form.
		return map[string]any{
			"anyOf": []any{
				map[string]any{"type": "integer"},
				map[string]any{"type": "string", "pattern": "^[0-9]+$"},
			},
		}
	case FieldList:
		return map[string]any{"type": "array", "minItems": 1}
	default:
		return map[string]any{"type": "string"}
	}
}

// ValidateInputs applies declared defaults, then validates the merged
// inputs against the template's schema. The returned map is a copy; the
// caller's map is never mutated.
func (t *Template) ValidateInputs(inputs map[string]any) (map[string]any, error) {
	merged := make(map[string]any, len(inputs))
	for k, v := range inputs {
		merged[k] = v
	}
	for _, f := range t.Inputs {
		if _, present := merged[f.Name]; !present && f.Default != nil {
			merged[f.Name] = f.Default
		}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(t.InputSchema()),
		gojsonschema.NewGoLoader(merged),
	)
	if err != nil {
		return nil, rerrors.ValidationError{Template: t.Name, Message: err.Error()}
	}
	if !result.Valid() {
		return nil, rerrors.ValidationError{
			Template: t.Name,
			Field:    firstFailingField(result),
			Message:  describeFailures(result),
		}
	}
	return merged, nil
}

func firstFailingField(result *gojsonschema.Result) string {
	for _, e := range result.Errors() {
		if f := e.Field(); f != "" && f != "(root)" {
			return f
		}
		if prop, ok := e.Details()["property"].(string); ok {
			return prop
		}
	}
	return ""
}

func describeFailures(result *gojsonschema.Result) string {
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return strings.Join(msgs, "; ")
}
