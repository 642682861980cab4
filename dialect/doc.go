// Package dialect holds the small driver interface the SQL store runs its
// statements through, and the names of the supported SQL dialects.
//
// The dialect names are also the database/sql driver names registered by
// lib/pq ("postgres"), go-sql-driver/mysql ("mysql") and modernc.org/sqlite
// ("sqlite").
//
// Statements are written with "?" placeholders. dialect/sql adapts a
// *sql.DB to a Driver and rebinds placeholders for postgres:
//
//	db, err := sql.Open(dialect.SQLite, "file:library.db?_pragma=foreign_keys(1)")
//	if err != nil {
//	    return err
//	}
//	drv := vsql.OpenDB(dialect.SQLite, db)
//	defer drv.Close()
//
//	err = vsql.WithTx(ctx, drv, func(tx dialect.Tx) error {
//	    return tx.Exec(ctx, "DELETE FROM books WHERE id = ?", []any{id}, nil)
//	})
//
// Drivers can be wrapped to count statements (vsql.NewStatsDriver) or
// log them (vsql.NewDebugDriver). dialect/sql/schema creates and verifies
// the store tables with Atlas, and dialect/sql/sqlgraph classifies
// constraint violations reported by the drivers.
package dialect
