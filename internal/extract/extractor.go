// Package extract pulls setter values out of executor result documents
// using jq path queries like ".body.api_key".
package extract

import (
	"context"
	"fmt"
	"sync"

	"github.com/itchyny/gojq"

	rerrors "github.com/systmms/rotor/internal/errors"
)

// Extractor evaluates jq queries against result documents. Compiled queries
// are cached; templates reuse the same setter paths on every cycle.
type Extractor struct {
	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

// New creates an Extractor with an empty query cache.
func New() *Extractor {
	return &Extractor{cache: make(map[string]*gojq.Code)}
}

// Extract runs the query against doc and returns the single matched value.
// Zero matches and multiple matches are both errors: a setter must name
// exactly one value.
func (e *Extractor) Extract(ctx context.Context, doc map[string]any, query string) (any, error) {
	code, err := e.compiled(query)
	if err != nil {
		return nil, err
	}

	iter := code.RunWithContext(ctx, normalize(doc))

	var results []any
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if runErr, isErr := v.(error); isErr {
			return nil, rerrors.ExtractionError{Path: query, Message: runErr.Error()}
		}
		// jq yields null for a missing field; treat it as no match.
		if v == nil {
			continue
		}
		results = append(results, v)
	}

	switch len(results) {
	case 0:
		return nil, rerrors.ExtractionError{Path: query, Message: "no value at path"}
	case 1:
		return results[0], nil
	default:
		return nil, rerrors.ExtractionError{
			Path:    query,
			Message: fmt.Sprintf("ambiguous: matched %d values, expected one", len(results)),
		}
	}
}

func (e *Extractor) compiled(query string) (*gojq.Code, error) {
	e.mu.RLock()
	code, ok := e.cache[query]
	e.mu.RUnlock()
	if ok {
		return code, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if code, ok = e.cache[query]; ok {
		return code, nil
	}

	parsed, err := gojq.Parse(query)
	if err != nil {
		return nil, rerrors.ExtractionError{Path: query, Message: "invalid query: " + err.Error()}
	}
	// No environment access from queries; result documents are the only
	// data extraction may see.
	code, err = gojq.Compile(parsed, gojq.WithEnvironLoader(func() []string { return nil }))
	if err != nil {
		return nil, rerrors.ExtractionError{Path: query, Message: "cannot compile query: " + err.Error()}
	}

	e.cache[query] = code
	return code, nil
}

// normalize rewrites values into the types gojq accepts. Database rows
// surface int64 and []byte, neither of which gojq understands.
func normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = normalize(elem)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = normalize(elem)
		}
		return out
	case []byte:
		return string(val)
	case int64:
		return int(val)
	case int32:
		return int(val)
	case uint64:
		return int(val)
	case float32:
		return float64(val)
	default:
		return v
	}
}
