// Package executor performs the remote calls a template operation
// describes and packages each response as a queryable result document.
//
// HTTP results look like
//
//	{"status": 201, "headers": {"content-type": ...}, "body": {...}}
//
// and database results like
//
//	{"columns": [...], "rows": [{...}], "row_count": 1}
//
// for row-returning statements, or {"rows_affected": N} otherwise. Setter
// queries run against these documents.
package executor

// Result wraps the document produced by one executed operation.
type Result struct {
	Doc map[string]any
}
