package executor

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"

	rerrors "github.com/systmms/rotor/internal/errors"
	"github.com/systmms/rotor/internal/expr"
	"github.com/systmms/rotor/internal/template"
)

// DB executes db-type operations. Each execution opens a fresh connection
// to the target: rotations run seldom and credentials change underneath
// pooled connections.
type DB struct {
	resolver *expr.Resolver
	timeout  time.Duration
	open     func(driver, dsn string) (*sql.DB, error)
}

// NewDB creates a DB executor with the given per-statement timeout.
func NewDB(resolver *expr.Resolver, timeout time.Duration) *DB {
	return &DB{
		resolver: resolver,
		timeout:  timeout,
		open:     sql.Open,
	}
}

// NewDBWithOpener creates a DB executor whose connections come from open,
// used by tests to substitute sqlmock.
func NewDBWithOpener(resolver *expr.Resolver, timeout time.Duration, open func(driver, dsn string) (*sql.DB, error)) *DB {
	return &DB{resolver: resolver, timeout: timeout, open: open}
}

// Execute connects to the operation's target database and runs its single
// statement. Interpolated values are quoted for the dialect before
// splicing, so a rotated secret can never terminate the statement.
func (d *DB) Execute(ctx context.Context, op *template.Operation, src expr.Source) (*Result, error) {
	driver, dsn, err := d.buildDSN(op, src)
	if err != nil {
		return nil, err
	}

	query, err := d.resolver.ResolveQuery(op.Query, src, quotingFor(op.Client))
	if err != nil {
		return nil, err
	}

	db, err := d.open(driver, dsn)
	if err != nil {
		return nil, rerrors.ExecutorError{Executor: "db", Message: "cannot open connection", Err: err}
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, rerrors.ExecutorError{Executor: "db", Message: "connection check failed", Err: err}
	}

	if returnsRows(query) {
		return d.queryRows(ctx, db, query)
	}
	return d.execStatement(ctx, db, query)
}

func (d *DB) queryRows(ctx context.Context, db *sql.DB, query string) (*Result, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, rerrors.ExecutorError{Executor: "db", Message: "query failed", Err: err}
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, rerrors.ExecutorError{Executor: "db", Message: "cannot read columns", Err: err}
	}

	var out []any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, rerrors.ExecutorError{Executor: "db", Message: "cannot scan row", Err: err}
		}
		rowDoc := make(map[string]any, len(cols))
		for i, c := range cols {
			rowDoc[c] = vals[i]
		}
		out = append(out, rowDoc)
	}
	if err := rows.Err(); err != nil {
		return nil, rerrors.ExecutorError{Executor: "db", Message: "row iteration failed", Err: err}
	}

	colDoc := make([]any, len(cols))
	for i, c := range cols {
		colDoc[i] = c
	}
	return &Result{Doc: map[string]any{
		"columns":   colDoc,
		"rows":      out,
		"row_count": len(out),
	}}, nil
}

func (d *DB) execStatement(ctx context.Context, db *sql.DB, query string) (*Result, error) {
	res, err := db.ExecContext(ctx, query)
	if err != nil {
		return nil, rerrors.ExecutorError{Executor: "db", Message: "statement failed", Err: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		// Some drivers cannot report it for DDL; the statement still ran.
		affected = 0
	}
	return &Result{Doc: map[string]any{
		"rows_affected": affected,
	}}, nil
}

func (d *DB) buildDSN(op *template.Operation, src expr.Source) (driver, dsn string, err error) {
	host, err := d.resolver.ResolveString(op.Host, src)
	if err != nil {
		return "", "", err
	}
	port, err := d.resolver.ResolveString(op.Port, src)
	if err != nil {
		return "", "", err
	}
	database, err := d.resolver.ResolveString(op.Database, src)
	if err != nil {
		return "", "", err
	}
	username, err := d.resolver.ResolveString(op.Username, src)
	if err != nil {
		return "", "", err
	}
	password, err := d.resolver.ResolveString(op.Password, src)
	if err != nil {
		return "", "", err
	}

	switch op.Client {
	case template.ClientPostgres:
		sslMode := "require"
		if op.SSLMode != "" {
			sslMode, err = d.resolver.ResolveString(op.SSLMode, src)
			if err != nil {
				return "", "", err
			}
		}
		parts := []string{
			"host=" + pgDSNValue(host),
			"port=" + pgDSNValue(port),
			"dbname=" + pgDSNValue(database),
			"user=" + pgDSNValue(username),
			"password=" + pgDSNValue(password),
			"sslmode=" + pgDSNValue(sslMode),
			"connect_timeout=10",
		}
		return "postgres", strings.Join(parts, " "), nil

	case template.ClientMySQL:
		cfg := mysql.NewConfig()
		cfg.User = username
		cfg.Passwd = password
		cfg.Net = "tcp"
		cfg.Addr = fmt.Sprintf("%s:%s", host, port)
		cfg.DBName = database
		cfg.Timeout = 10 * time.Second
		return "mysql", cfg.FormatDSN(), nil

	default:
		return "", "", rerrors.ExecutorError{
			Executor: "db",
			Message:  fmt.Sprintf("unsupported client '%s'", op.Client),
		}
	}
}

// quotingFor returns the SQL quoting rules for a dialect.
func quotingFor(client template.DBClient) expr.Quoting {
	if client == template.ClientMySQL {
		return expr.Quoting{
			Literal:    mysqlQuoteLiteral,
			Identifier: mysqlQuoteIdentifier,
		}
	}
	return expr.Quoting{
		Literal:    pq.QuoteLiteral,
		Identifier: pq.QuoteIdentifier,
	}
}

var mysqlLiteralEscaper = strings.NewReplacer(
	`\`, `\\`,
	`'`, `\'`,
	"\x00", `\0`,
	"\n", `\n`,
	"\r", `\r`,
	"\x1a", `\Z`,
)

func mysqlQuoteLiteral(s string) string {
	return "'" + mysqlLiteralEscaper.Replace(s) + "'"
}

func mysqlQuoteIdentifier(s string) string {
	return "`" + strings.ReplaceAll(s, "`", "``") + "`"
}

// pgDSNValue quotes a value for the key=value connection string form.
func pgDSNValue(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, ` '\`) {
		return s
	}
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}

func returnsRows(query string) bool {
	q := strings.ToUpper(strings.TrimSpace(query))
	for _, prefix := range []string{"SELECT", "SHOW", "WITH", "EXPLAIN"} {
		if strings.HasPrefix(q, prefix) {
			return true
		}
	}
	return false
}
