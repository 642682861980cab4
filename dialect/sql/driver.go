package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/syssam/velomigrate/dialect"
)

// Driver is a dialect.Driver over a *sql.DB. Statements are written with
// "?" placeholders and rebound for the dialect before they are sent.
type Driver struct {
	Conn
	db *sql.DB
}

// OpenDB wraps db with a Driver. name is the database/sql driver name or
// the dialect name.
func OpenDB(name string, db *sql.DB) *Driver {
	return &Driver{Conn: Conn{ExecQuerier: db, dialect: dialectOf(name)}, db: db}
}

// Driver names such as "sqlite3" or "mysql+tls" map to their dialect.
func dialectOf(name string) string {
	for _, d := range []string{dialect.MySQL, dialect.SQLite, dialect.Postgres} {
		if strings.HasPrefix(name, d) {
			return d
		}
	}
	return name
}

// DB returns the underlying *sql.DB.
func (d *Driver) DB() *sql.DB { return d.db }

// Dialect implements dialect.Driver.
func (d *Driver) Dialect() string { return d.dialect }

// Tx implements dialect.Driver.
func (d *Driver) Tx(ctx context.Context) (dialect.Tx, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{Conn: Conn{ExecQuerier: tx, dialect: d.dialect}, tx: tx}, nil
}

// Close closes the database.
func (d *Driver) Close() error { return d.db.Close() }

// Tx is a dialect.Tx. Statements run on the transaction connection.
type Tx struct {
	Conn
	tx *sql.Tx
}

// Commit commits the transaction.
func (t *Tx) Commit() error { return t.tx.Commit() }

// Rollback aborts the transaction.
func (t *Tx) Rollback() error { return t.tx.Rollback() }

// WithTx runs fn in a transaction of drv. The transaction is rolled back if
// fn fails and committed otherwise. Errors of Begin and Commit are
// returned as is, so callers can classify driver errors.
func WithTx(ctx context.Context, drv dialect.Driver, fn func(dialect.Tx) error) error {
	tx, err := drv.Tx(ctx)
	if err != nil {
		return &TxError{Op: "begin", Err: err}
	}
	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			err = errors.Join(err, &TxError{Op: "rollback", Err: rerr})
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return &TxError{Op: "commit", Err: err}
	}
	return nil
}

// TxError reports a failed transaction control statement.
type TxError struct {
	Op  string // begin, commit or rollback
	Err error
}

func (e *TxError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *TxError) Unwrap() error { return e.Err }

// ExecQuerier wraps the standard Exec and Query methods.
type ExecQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Conn implements dialect.ExecQuerier given ExecQuerier.
type Conn struct {
	ExecQuerier
	dialect string
}

// Exec implements dialect.ExecQuerier. v is nil or a *Result.
func (c Conn) Exec(ctx context.Context, query string, args, v any) error {
	argv, ok := args.([]any)
	if !ok {
		return fmt.Errorf("dialect/sql: invalid type %T. expect []any for args", args)
	}
	res, ok := v.(*Result)
	if !ok && v != nil {
		return fmt.Errorf("dialect/sql: invalid type %T. expect *sql.Result", v)
	}
	r, err := c.ExecContext(ctx, Rebind(c.dialect, query), argv...)
	if err != nil {
		return fmt.Errorf("dialect/sql: exec: %w", err)
	}
	if res != nil {
		*res = r
	}
	return nil
}

// Query implements dialect.ExecQuerier. v must be a *Rows; the caller
// closes it.
func (c Conn) Query(ctx context.Context, query string, args, v any) error {
	vr, ok := v.(*Rows)
	if !ok {
		return fmt.Errorf("dialect/sql: invalid type %T. expect *sql.Rows", v)
	}
	argv, ok := args.([]any)
	if !ok {
		return fmt.Errorf("dialect/sql: invalid type %T. expect []any for args", args)
	}
	rows, err := c.QueryContext(ctx, Rebind(c.dialect, query), argv...)
	if err != nil {
		return fmt.Errorf("dialect/sql: query: %w", err)
	}
	*vr = Rows{rows}
	return nil
}

// ScanStrings runs a query returning one string column and closes the rows.
func ScanStrings(ctx context.Context, eq dialect.ExecQuerier, query string, args ...any) ([]string, error) {
	if args == nil {
		args = []any{}
	}
	rows := &Rows{}
	if err := eq.Query(ctx, query, args, rows); err != nil {
		return nil, err
	}
	defer rows.Close()
	var vs []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("dialect/sql: scan: %w", err)
		}
		vs = append(vs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dialect/sql: %w", err)
	}
	return vs, nil
}

var (
	_ dialect.Driver = (*Driver)(nil)
	_ dialect.Tx     = (*Tx)(nil)
)

type (
	// Rows wraps the sql.Rows to avoid locks copy.
	Rows struct{ ColumnScanner }
	// Result is an alias to sql.Result.
	Result = sql.Result
)

// ColumnScanner is the interface that wraps the standard
// sql.Rows methods used for scanning database rows.
type ColumnScanner interface {
	Close() error
	Columns() ([]string, error)
	Err() error
	Next() bool
	Scan(dest ...any) error
}
