package sql

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/velomigrate/dialect"
)

func TestOpenDB(t *testing.T) {
	tests := []struct {
		name    string
		driver  string
		dialect string
	}{
		{"Postgres", "postgres", dialect.Postgres},
		{"MySQL", "mysql", dialect.MySQL},
		{"SQLite", "sqlite", dialect.SQLite},
		{"SQLite3", "sqlite3", dialect.SQLite},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, _, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			drv := OpenDB(tt.driver, db)
			assert.Equal(t, tt.dialect, drv.Dialect())
			assert.Same(t, db, drv.DB())
		})
	}
}

func TestDriverQuery(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	drv := OpenDB(dialect.Postgres, db)

	t.Run("Rebind", func(t *testing.T) {
		mock.ExpectQuery(`SELECT name FROM users WHERE id = \$1 AND org = \$2`).
			WithArgs(1, "a").
			WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("Alice"))

		rows := &Rows{}
		err := drv.Query(context.Background(), "SELECT name FROM users WHERE id = ? AND org = ?", []any{1, "a"}, rows)
		require.NoError(t, err)
		require.True(t, rows.Next())
		var name string
		require.NoError(t, rows.Scan(&name))
		assert.Equal(t, "Alice", name)
		require.NoError(t, rows.Close())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Error", func(t *testing.T) {
		mock.ExpectQuery("SELECT").WillReturnError(errors.New("database error"))
		err := drv.Query(context.Background(), "SELECT 1", []any{}, &Rows{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "dialect/sql: query: database error")
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("InvalidArgs", func(t *testing.T) {
		assert.Error(t, drv.Query(context.Background(), "SELECT 1", nil, &Rows{}))
		var rows Rows
		assert.Error(t, drv.Query(context.Background(), "SELECT 1", []any{}, rows))
	})
}

func TestDriverExec(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	drv := OpenDB(dialect.MySQL, db)

	t.Run("Result", func(t *testing.T) {
		mock.ExpectExec(`UPDATE users SET name = \? WHERE id = \?`).
			WithArgs("Alice", 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		var res Result
		err := drv.Exec(context.Background(), "UPDATE users SET name = ? WHERE id = ?", []any{"Alice", 1}, &res)
		require.NoError(t, err)
		n, err := res.RowsAffected()
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Error", func(t *testing.T) {
		cause := errors.New("constraint violation")
		mock.ExpectExec("DELETE").WillReturnError(cause)
		err := drv.Exec(context.Background(), "DELETE FROM users", []any{}, nil)
		require.ErrorIs(t, err, cause)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("InvalidResult", func(t *testing.T) {
		assert.Error(t, drv.Exec(context.Background(), "DELETE FROM users", []any{}, new(int)))
	})
}

func TestDriverTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	drv := OpenDB(dialect.Postgres, db)

	t.Run("Commit", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO users \(name\) VALUES \(\$1\)`).WithArgs("x").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		tx, err := drv.Tx(context.Background())
		require.NoError(t, err)
		require.NoError(t, tx.Exec(context.Background(), "INSERT INTO users (name) VALUES (?)", []any{"x"}, nil))
		require.NoError(t, tx.Commit())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Rollback", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO users").WillReturnError(errors.New("error"))
		mock.ExpectRollback()

		tx, err := drv.Tx(context.Background())
		require.NoError(t, err)
		require.Error(t, tx.Exec(context.Background(), "INSERT INTO users (name) VALUES ('test')", []any{}, nil))
		require.NoError(t, tx.Rollback())
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRebind(t *testing.T) {
	tests := []struct {
		dialect, query, want string
	}{
		{dialect.Postgres, "SELECT * FROM t WHERE a = ? AND b IN (?, ?)", "SELECT * FROM t WHERE a = $1 AND b IN ($2, $3)"},
		{dialect.Postgres, "SELECT '?' FROM t WHERE a = ?", "SELECT '?' FROM t WHERE a = $1"},
		{dialect.Postgres, `SELECT "a?" FROM t`, `SELECT "a?" FROM t`},
		{dialect.Postgres, "SELECT 1", "SELECT 1"},
		{dialect.MySQL, "SELECT * FROM t WHERE a = ?", "SELECT * FROM t WHERE a = ?"},
		{dialect.SQLite, "SELECT * FROM t WHERE a = ?", "SELECT * FROM t WHERE a = ?"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Rebind(tt.dialect, tt.query))
	}
}

func TestQuote(t *testing.T) {
	assert.Equal(t, "`books`", Quote(dialect.MySQL, "books"))
	assert.Equal(t, `"books"`, Quote(dialect.Postgres, "books"))
	assert.Equal(t, `"books"`, Quote(dialect.SQLite, "books"))
	assert.Equal(t, "?, ?, ?", Placeholders(3))
	assert.Equal(t, "?", Placeholders(1))
	assert.Empty(t, Placeholders(0))
}

func TestValidIdentifier(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected bool
	}{
		{"valid_simple", "foo", true},
		{"valid_with_underscore", "foo_bar", true},
		{"valid_with_number", "foo123", true},
		{"valid_starting_underscore", "_private", true},
		{"invalid_with_dot", "schema.table", false},
		{"invalid_empty", "", false},
		{"invalid_starting_number", "123foo", false},
		{"invalid_with_space", "foo bar", false},
		{"invalid_with_quote", "foo'bar", false},
		{"invalid_with_semicolon", "foo;DROP TABLE", false},
		{"invalid_too_long", string(bytes.Repeat([]byte("a"), 64)), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ValidIdentifier(tt.input))
		})
	}
}

func TestStatsDriver(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	var slow []string
	drv := NewStatsDriver(OpenDB(dialect.SQLite, db),
		WithSlowThreshold(20*time.Millisecond),
		WithSlowQueryHook(func(_ context.Context, query string, _ []any, _ time.Duration) {
			slow = append(slow, query)
		}),
	)
	assert.Equal(t, 20*time.Millisecond, drv.SlowThreshold())

	mock.ExpectExec("INSERT").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT slow").WillDelayFor(50 * time.Millisecond).WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE").WillReturnError(errors.New("locked"))
	mock.ExpectRollback()

	ctx := context.Background()
	require.NoError(t, drv.Exec(ctx, "INSERT INTO t VALUES (1)", []any{}, nil))
	rows := &Rows{}
	require.NoError(t, drv.Query(ctx, "SELECT slow", []any{}, rows))
	require.NoError(t, rows.Close())
	tx, err := drv.Tx(ctx)
	require.NoError(t, err)
	require.Error(t, tx.Exec(ctx, "UPDATE t SET a = 1", []any{}, nil))
	require.NoError(t, tx.Rollback())
	require.NoError(t, mock.ExpectationsWereMet())

	s := drv.Stats()
	assert.Equal(t, int64(1), s.Queries)
	assert.Equal(t, int64(2), s.Execs)
	assert.Equal(t, int64(1), s.RowsAffected)
	assert.Equal(t, int64(1), s.Rollbacks)
	assert.Zero(t, s.Commits)
	assert.Equal(t, int64(1), s.Errors)
	assert.Equal(t, int64(1), s.Slow)
	assert.Equal(t, []string{"SELECT slow"}, slow)
	assert.Positive(t, s.Avg())
	assert.Contains(t, s.String(), "queries=1 execs=2 rows=1 commits=0 rollbacks=1")
	assert.Zero(t, StatsSnapshot{}.Avg())

	var buf bytes.Buffer
	slog.New(slog.NewTextHandler(&buf, nil)).Info("done", "stats", s)
	assert.Contains(t, buf.String(), "stats.queries=1 stats.execs=2 stats.rows=1")
}

func TestDebugDriver(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	drv := NewDebugDriver(OpenDB(dialect.SQLite, db), logger)

	mock.ExpectExec("CREATE TABLE").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	ctx := context.Background()
	require.NoError(t, drv.Exec(ctx, "CREATE TABLE t (a int)", []any{}, nil))
	tx, err := drv.Tx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Exec(ctx, "INSERT INTO t VALUES (?)", []any{1}, nil))
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())

	out := buf.String()
	assert.Contains(t, out, `sql="CREATE TABLE t (a int)"`)
	assert.Contains(t, out, "begin transaction")
	assert.Contains(t, out, `msg="tx exec"`)
	assert.Contains(t, out, "commit transaction")
}

func TestWithTx(t *testing.T) {
	ctx := context.Background()
	insert := func(tx dialect.Tx) error {
		return tx.Exec(ctx, "INSERT INTO t VALUES (?)", []any{1}, nil)
	}
	tests := []struct {
		name   string
		expect func(sqlmock.Sqlmock)
		fn     func(dialect.Tx) error
		check  func(*testing.T, error)
	}{
		{
			name: "Commit",
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("INSERT").WithArgs(1).WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectCommit()
			},
			fn: insert,
			check: func(t *testing.T, err error) {
				assert.NoError(t, err)
			},
		},
		{
			name: "FnError",
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectRollback()
			},
			fn: func(dialect.Tx) error { return errors.New("boom") },
			check: func(t *testing.T, err error) {
				assert.EqualError(t, err, "boom")
			},
		},
		{
			name: "RollbackError",
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectRollback().WillReturnError(errors.New("conn lost"))
			},
			fn: func(dialect.Tx) error { return errors.New("boom") },
			check: func(t *testing.T, err error) {
				var txErr *TxError
				require.ErrorAs(t, err, &txErr)
				assert.Equal(t, "rollback", txErr.Op)
				assert.Contains(t, err.Error(), "boom")
			},
		},
		{
			name: "BeginError",
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin().WillReturnError(errors.New("locked"))
			},
			fn: insert,
			check: func(t *testing.T, err error) {
				assert.EqualError(t, err, "begin: locked")
			},
		},
		{
			name: "CommitError",
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec("INSERT").WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectCommit().WillReturnError(errors.New("disk full"))
			},
			fn: insert,
			check: func(t *testing.T, err error) {
				var txErr *TxError
				require.ErrorAs(t, err, &txErr)
				assert.Equal(t, "commit", txErr.Op)
				assert.EqualError(t, errors.Unwrap(err), "disk full")
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()
			tt.expect(mock)
			tt.check(t, WithTx(ctx, OpenDB(dialect.SQLite, db), tt.fn))
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestScanStrings(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	drv := OpenDB(dialect.Postgres, db)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT id FROM t WHERE a = \$1`).WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("x").AddRow("y"))
	vs, err := ScanStrings(ctx, drv, "SELECT id FROM t WHERE a = ?", 7)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, vs)

	mock.ExpectQuery("SELECT id FROM t").WillReturnRows(sqlmock.NewRows([]string{"id"}))
	vs, err = ScanStrings(ctx, drv, "SELECT id FROM t")
	require.NoError(t, err)
	assert.Empty(t, vs)

	mock.ExpectQuery("SELECT id FROM t").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("x").RowError(0, errors.New("bad row")))
	_, err = ScanStrings(ctx, drv, "SELECT id FROM t")
	assert.ErrorContains(t, err, "bad row")
	require.NoError(t, mock.ExpectationsWereMet())
}
