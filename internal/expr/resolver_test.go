package expr_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	rerrors "github.com/systmms/rotor/internal/errors"
	"github.com/systmms/rotor/internal/expr"
)

// mapSource backs tests with a flat path -> value map
type mapSource map[string]any

func (m mapSource) Lookup(path string) (any, bool) {
	v, ok := m[path]
	return v, ok
}

// fixedRandom returns a predictable pattern so assertions stay exact
type fixedRandom struct{}

func (fixedRandom) Generate(length int) (string, error) {
	if length < 1 {
		return "", fmt.Errorf("bad length %d", length)
	}
	return strings.Repeat("r", length), nil
}

func newResolver() *expr.Resolver {
	return expr.New(fixedRandom{})
}

func TestResolveStringInterpolation(t *testing.T) {
	t.Parallel()

	src := mapSource{
		"inputs.host":       "db.example.com",
		"inputs.port":       5432,
		"internal.username": "app_user_1",
	}

	tests := []struct {
		name string
		tmpl string
		want string
	}{
		{"no tokens", "SELECT NOW()", "SELECT NOW()"},
		{"single token", "${inputs.host}", "db.example.com"},
		{"token in text", "host=${inputs.host} port=${inputs.port}", "host=db.example.com port=5432"},
		{"numeric token", "${inputs.port}", "5432"},
		{"random token", "rotor-${random | 4}", "rotor-rrrr"},
		{"adjacent tokens", "${internal.username}@${inputs.host}", "app_user_1@db.example.com"},
		{"spaces in token", "${ inputs.host }", "db.example.com"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := newResolver().ResolveString(tt.tmpl, src)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveWholeTokenKeepsNativeType(t *testing.T) {
	t.Parallel()

	src := mapSource{
		"inputs.scopes": []any{"mail.send", "alerts.read"},
		"inputs.port":   5432,
	}

	got, err := newResolver().Resolve("${inputs.scopes}", src)
	require.NoError(t, err)
	assert.Equal(t, []any{"mail.send", "alerts.read"}, got)

	got, err = newResolver().Resolve("${inputs.port}", src)
	require.NoError(t, err)
	assert.Equal(t, 5432, got)
}

func TestResolveValueWalksBodies(t *testing.T) {
	t.Parallel()

	src := mapSource{
		"inputs.scopes":      []any{"mail.send"},
		"inputs.admin_email": "ops@example.com",
	}

	body := map[string]any{
		"name":   "rotor-${random | 8}",
		"scopes": "${inputs.scopes}",
		"nested": map[string]any{"contact": "${inputs.admin_email}"},
		"labels": []any{"static", "${inputs.admin_email}"},
		"count":  3,
	}

	got, err := newResolver().ResolveValue(body, src)
	require.NoError(t, err)

	resolved, ok := got.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "rotor-rrrrrrrr", resolved["name"])
	assert.Equal(t, []any{"mail.send"}, resolved["scopes"])
	assert.Equal(t, map[string]any{"contact": "ops@example.com"}, resolved["nested"])
	assert.Equal(t, []any{"static", "ops@example.com"}, resolved["labels"])
	assert.Equal(t, 3, resolved["count"])
}

func TestResolveFailures(t *testing.T) {
	t.Parallel()

	src := mapSource{
		"inputs.host":   "db.example.com",
		"inputs.empty":  "",
		"inputs.null":   nil,
		"inputs.scopes": []any{"mail.send"},
	}

	tests := []struct {
		name string
		tmpl string
		msg  string
	}{
		{"missing path", "${inputs.nope}", "no value at path"},
		{"empty value", "${inputs.empty}", "value is empty"},
		{"null value", "${inputs.null}", "value is null"},
		{"unknown scope", "${secrets.host}", "unknown scope"},
		{"bare scope", "${inputs}", "expected scope.field"},
		{"random without length", "${random}", "random requires a length"},
		{"random bad length", "${random | ten}", "invalid random length"},
		{"random negative", "${random | -1}", "bad length"},
		{"unknown hint", "${inputs.host | upper}", "unknown hint"},
		{"too many pipes", "${inputs.host | ident | x}", "too many"},
		{"list mid string", "scopes: ${inputs.scopes}!", "cannot interpolate"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := newResolver().ResolveString(tt.tmpl, src)
			require.Error(t, err)
			var resErr rerrors.ResolutionError
			require.ErrorAs(t, err, &resErr)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestResolveQueryQuoting(t *testing.T) {
	t.Parallel()

	src := mapSource{
		"internal.username":         "app_user_1",
		"internal.rotated_password": "p'; DROP TABLE users; --",
	}

	quoting := expr.Quoting{
		Literal:    func(s string) string { return "'" + strings.ReplaceAll(s, "'", "''") + "'" },
		Identifier: func(s string) string { return `"` + s + `"` },
	}

	got, err := newResolver().ResolveQuery(
		"ALTER USER ${internal.username | ident} WITH PASSWORD ${internal.rotated_password}",
		src, quoting)
	require.NoError(t, err)

	assert.Equal(t, `ALTER USER "app_user_1" WITH PASSWORD 'p''; DROP TABLE users; --'`, got)
}

func TestResolveQueryQuotesWholeTokenString(t *testing.T) {
	t.Parallel()

	src := mapSource{"internal.rotated_password": "pw"}
	quoting := expr.Quoting{
		Literal:    func(s string) string { return "'" + s + "'" },
		Identifier: func(s string) string { return s },
	}

	// Even a query that is a single token must come back quoted.
	got, err := newResolver().ResolveQuery("${internal.rotated_password}", src, quoting)
	require.NoError(t, err)
	assert.Equal(t, "'pw'", got)
}
