// Package sql implements the dialect interfaces on top of database/sql.
//
// Statements are written with "?" placeholders and rebound for the
// connection dialect, so the same text runs on SQLite, MySQL and
// PostgreSQL:
//
//	drv := sql.OpenDB(dialect.Postgres, db)
//	err := drv.Exec(ctx, "UPDATE "+sql.Quote(drv.Dialect(), "books")+" SET title = ? WHERE id = ?",
//	    []any{"Dune", id}, nil)
//
// Rows returned by Query must be closed by the caller:
//
//	rows := &sql.Rows{}
//	if err := drv.Query(ctx, "SELECT id FROM books", []any{}, rows); err != nil {
//	    return err
//	}
//	defer rows.Close()
//
// StatsDriver and DebugDriver wrap any dialect.Driver to collect statement
// statistics, report slow statements, or log every statement through
// log/slog.
package sql
