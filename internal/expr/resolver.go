// Package expr resolves ${...} expressions inside template operation
// definitions against a rotation context.
//
// Two token forms exist: value references like ${inputs.host} or
// ${internal.rotated_password}, and the generator ${random | N} which
// produces N fresh random characters. A value reference may carry an
// "ident" hint (${internal.username | ident}) telling SQL-aware callers to
// quote the value as an identifier instead of a literal.
package expr

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	rerrors "github.com/systmms/rotor/internal/errors"
)

// Source provides read access to the namespaces a template may reference.
// Lookup takes a dotted path like "inputs.host" and reports whether the
// path names a declared, present value.
type Source interface {
	Lookup(path string) (any, bool)
}

// Random produces values for ${random | N} tokens.
type Random interface {
	Generate(length int) (string, error)
}

// Quoting supplies dialect-specific quoting for values spliced into SQL
// text. Literal wraps a value as a string literal, Identifier as a quoted
// identifier.
type Quoting struct {
	Literal    func(string) string
	Identifier func(string) string
}

// Resolver evaluates tokens within template strings.
type Resolver struct {
	random Random
}

// New creates a Resolver backed by the given random generator.
func New(random Random) *Resolver {
	return &Resolver{random: random}
}

var tokenPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

const hintIdent = "ident"

// Resolve evaluates every token in tmpl. When the whole string is a single
// token the referenced value is returned in its native type, so a list
// input can flow into a JSON body unchanged. Otherwise each token is
// stringified and spliced into the surrounding text.
func (r *Resolver) Resolve(tmpl string, src Source) (any, error) {
	return r.resolve(tmpl, src, nil)
}

// ResolveString evaluates tmpl and requires a string result.
func (r *Resolver) ResolveString(tmpl string, src Source) (string, error) {
	v, err := r.resolve(tmpl, src, nil)
	if err != nil {
		return "", err
	}
	return stringify(tmpl, v)
}

// ResolveQuery evaluates tmpl as SQL text: every token value is quoted
// through q before splicing, as an identifier when the token carries the
// ident hint and as a literal otherwise. Interpolated secrets can never
// terminate the statement early.
func (r *Resolver) ResolveQuery(tmpl string, src Source, q Quoting) (string, error) {
	v, err := r.resolve(tmpl, src, &q)
	if err != nil {
		return "", err
	}
	return stringify(tmpl, v)
}

// ResolveValue walks an arbitrary value (JSON body shape: maps, lists,
// scalars) resolving every string it contains via Resolve.
func (r *Resolver) ResolveValue(v any, src Source) (any, error) {
	switch val := v.(type) {
	case string:
		return r.Resolve(val, src)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			resolved, err := r.ResolveValue(elem, src)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			resolved, err := r.ResolveValue(elem, src)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

func (r *Resolver) resolve(tmpl string, src Source, q *Quoting) (any, error) {
	matches := tokenPattern.FindAllStringSubmatchIndex(tmpl, -1)
	if len(matches) == 0 {
		return tmpl, nil
	}

	// A string that is exactly one token keeps the native value type,
	// unless SQL quoting forces string splicing.
	if q == nil && len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(tmpl) {
		return r.evalToken(tmpl[matches[0][2]:matches[0][3]], src)
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(tmpl[last:m[0]])

		inner := tmpl[m[2]:m[3]]
		v, err := r.evalToken(inner, src)
		if err != nil {
			return nil, err
		}
		s, err := stringify(inner, v)
		if err != nil {
			return nil, err
		}
		if q != nil {
			if tokenHint(inner) == hintIdent {
				s = q.Identifier(s)
			} else {
				s = q.Literal(s)
			}
		}
		b.WriteString(s)
		last = m[1]
	}
	b.WriteString(tmpl[last:])
	return b.String(), nil
}

// evalToken evaluates the inside of one ${...} token.
func (r *Resolver) evalToken(inner string, src Source) (any, error) {
	base, hint, err := splitToken(inner)
	if err != nil {
		return nil, err
	}

	if base == "random" {
		if hint == "" {
			return nil, rerrors.ResolutionError{Token: inner, Message: "random requires a length, e.g. ${random | 32}"}
		}
		n, convErr := strconv.Atoi(hint)
		if convErr != nil {
			return nil, rerrors.ResolutionError{Token: inner, Message: fmt.Sprintf("invalid random length '%s'", hint)}
		}
		v, genErr := r.random.Generate(n)
		if genErr != nil {
			return nil, rerrors.ResolutionError{Token: inner, Message: genErr.Error()}
		}
		return v, nil
	}

	if hint != "" && hint != hintIdent {
		return nil, rerrors.ResolutionError{Token: inner, Message: fmt.Sprintf("unknown hint '%s'", hint)}
	}

	scope, _, ok := strings.Cut(base, ".")
	if !ok {
		return nil, rerrors.ResolutionError{Token: inner, Message: "expected scope.field, e.g. ${inputs.host}"}
	}
	switch scope {
	case "inputs", "outputs", "internal":
	default:
		return nil, rerrors.ResolutionError{Token: inner, Message: fmt.Sprintf("unknown scope '%s'", scope)}
	}

	v, found := src.Lookup(base)
	if !found {
		return nil, rerrors.ResolutionError{Token: inner, Message: "no value at path"}
	}
	if v == nil {
		return nil, rerrors.ResolutionError{Token: inner, Message: "value is null"}
	}
	if s, isStr := v.(string); isStr && s == "" {
		return nil, rerrors.ResolutionError{Token: inner, Message: "value is empty"}
	}
	return v, nil
}

func splitToken(inner string) (base, hint string, err error) {
	parts := strings.Split(inner, "|")
	switch len(parts) {
	case 1:
		return strings.TrimSpace(parts[0]), "", nil
	case 2:
		return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), nil
	default:
		return "", "", rerrors.ResolutionError{Token: inner, Message: "too many '|' separators"}
	}
}

func tokenHint(inner string) string {
	parts := strings.Split(inner, "|")
	if len(parts) == 2 {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// stringify converts a resolved scalar into its interpolated form. Lists
// and maps have no canonical string form here; referencing one mid-string
// is a template bug.
func stringify(token string, v any) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case bool:
		return strconv.FormatBool(val), nil
	case int:
		return strconv.Itoa(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	default:
		return "", rerrors.ResolutionError{
			Token:   token,
			Message: fmt.Sprintf("cannot interpolate %T into a string", v),
		}
	}
}
