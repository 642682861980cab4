package schema

import (
	"bytes"
	"context"
	stdsql "database/sql"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/syssam/velomigrate/dialect"
	"github.com/syssam/velomigrate/dialect/sql"
	"github.com/syssam/velomigrate/schema"
	"github.com/syssam/velomigrate/schema/edge"
	"github.com/syssam/velomigrate/schema/field"
)

func libraryModel(t *testing.T) *schema.Model {
	t.Helper()
	m, err := schema.New(
		schema.Define("Author").
			Fields(field.String("name"), field.Time("bornAt").Optional()).
			Edges(edge.To("books", "Book").Ref("author").Ordered()),
		schema.Define("Book").
			Fields(field.String("title"), field.Int("pages").Optional(), field.Bytes("cover").Optional()).
			Edges(
				edge.To("author", "Author").Ref("books").Unique().Required(),
				edge.To("sequel", "Book").Unique(),
			),
		schema.Define("Person").
			Fields(field.String("name"), field.Float("height"), field.Bool("active")).
			Edges(edge.To("spouse", "Person").Ref("spouse").Unique()),
	)
	require.NoError(t, err)
	return m
}

func openSQLite(t *testing.T) *sql.Driver {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "test.db") + "?_pragma=foreign_keys(1)"
	db, err := stdsql.Open(dialect.SQLite, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sql.OpenDB(dialect.SQLite, db)
}

func TestNewLayout(t *testing.T) {
	l, err := NewLayout(libraryModel(t))
	require.NoError(t, err)

	var names []string
	for _, tbl := range l.Tables {
		names = append(names, tbl.Name)
	}
	assert.Equal(t, []string{"authors", "books", "people", "author_books", "book_author", "book_sequel", "person_spouse"}, names)

	authors := l.EntityTable("Author")
	require.NotNil(t, authors)
	require.Len(t, authors.PrimaryKey, 1)
	assert.Equal(t, IDColumn, authors.PrimaryKey[0].Name)
	born, ok := authors.Column("born_at")
	require.True(t, ok)
	assert.Equal(t, field.TypeTime, born.Type)
	assert.True(t, born.Nullable)
	name, ok := authors.Column("name")
	require.True(t, ok)
	assert.False(t, name.Nullable)

	m := libraryModel(t)
	books, _ := m.Relationship("Author", "books")
	link := l.LinkTable(books)
	require.NotNil(t, link)
	assert.Equal(t, "author_books", link.Name)
	require.Len(t, link.ForeignKeys, 2)
	assert.Same(t, authors, link.ForeignKeys[0].RefTable)
	assert.Same(t, l.EntityTable("Book"), link.ForeignKeys[1].RefTable)
	require.Len(t, link.Indexes, 1)
	assert.False(t, link.Indexes[0].Unique)

	author, _ := m.Relationship("Book", "author")
	link = l.LinkTable(author)
	require.Len(t, link.Indexes, 2)
	assert.Equal(t, "book_author_owner_key", link.Indexes[0].Name)
	assert.True(t, link.Indexes[0].Unique)
}

func TestNewLayout_Errors(t *testing.T) {
	tests := []struct {
		name string
		defs []*schema.EntityBuilder
		want string
	}{
		{
			name: "InvalidColumn",
			defs: []*schema.EntityBuilder{schema.Define("Author").Fields(field.String("full name"))},
			want: "invalid column name",
		},
		{
			name: "ReservedColumn",
			defs: []*schema.EntityBuilder{schema.Define("Author").Fields(field.String("id"))},
			want: "duplicate column name",
		},
		{
			name: "SameTable",
			defs: []*schema.EntityBuilder{schema.Define("Person"), schema.Define("People")},
			want: "duplicate table name",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := schema.New(tt.defs...)
			require.NoError(t, err)
			_, err = NewLayout(m)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestMigrate_CreateSQLite(t *testing.T) {
	ctx := context.Background()
	drv := openSQLite(t)
	l, err := NewLayout(libraryModel(t))
	require.NoError(t, err)

	m, err := NewMigrate(drv)
	require.NoError(t, err)
	require.ErrorContains(t, m.Verify(ctx, l), "table does not exist")

	require.NoError(t, m.Create(ctx, l))
	require.NoError(t, m.Verify(ctx, l))
	// Existing tables are verified, not recreated.
	require.NoError(t, m.Create(ctx, l))

	current, err := m.Inspect(ctx, l)
	require.NoError(t, err)
	require.Len(t, current, len(l.Tables))
	for _, tbl := range current {
		if tbl.Name != "people" {
			continue
		}
		for _, name := range []string{"name", "height", "active"} {
			c, ok := tbl.Column(name)
			require.True(t, ok, name)
			assert.False(t, c.Nullable, name)
		}
		height, _ := tbl.Column("height")
		assert.Equal(t, field.TypeFloat, height.Type)
		active, _ := tbl.Column("active")
		assert.Equal(t, field.TypeBool, active.Type)
		id, _ := tbl.Column(IDColumn)
		assert.Equal(t, IDSize, id.Size)
	}

	// Link tables reference their entity tables.
	err = drv.Exec(ctx, "INSERT INTO book_sequel (owner_id, target_id, position) VALUES (?, ?, ?)", []any{"a", "b", 0}, nil)
	require.Error(t, err)
}

func TestMigrate_VerifyMismatch(t *testing.T) {
	ctx := context.Background()
	drv := openSQLite(t)
	m, err := schema.New(schema.Define("Author").Fields(field.String("name").Optional(), field.Int("rank")))
	require.NoError(t, err)
	l, err := NewLayout(m)
	require.NoError(t, err)

	t.Run("MissingColumn", func(t *testing.T) {
		require.NoError(t, drv.Exec(ctx, "CREATE TABLE authors (id varchar(64) PRIMARY KEY, name text)", []any{}, nil))
		mig, err := NewMigrate(drv)
		require.NoError(t, err)
		err = mig.Verify(ctx, l)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "authors.rank: column does not exist")
		require.NoError(t, drv.Exec(ctx, "DROP TABLE authors", []any{}, nil))
	})

	t.Run("TypeWarning", func(t *testing.T) {
		require.NoError(t, drv.Exec(ctx, "CREATE TABLE authors (id varchar(64) PRIMARY KEY, name text, `rank` text NOT NULL)", []any{}, nil))
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, nil))
		mig, err := NewMigrate(drv, WithLogger(logger))
		require.NoError(t, err)
		require.NoError(t, mig.Verify(ctx, l))
		assert.Contains(t, buf.String(), "schema mismatch")

		mig, err = NewMigrate(drv, WithStrictTypes(true))
		require.NoError(t, err)
		require.ErrorContains(t, mig.Verify(ctx, l), "column type is string, model expects int")
		require.NoError(t, drv.Exec(ctx, "DROP TABLE authors", []any{}, nil))
	})

	t.Run("NotNullOptional", func(t *testing.T) {
		require.NoError(t, drv.Exec(ctx, "CREATE TABLE authors (id varchar(64) PRIMARY KEY, name text NOT NULL, `rank` bigint NOT NULL, extra text NOT NULL)", []any{}, nil))
		mig, err := NewMigrate(drv)
		require.NoError(t, err)
		err = mig.Verify(ctx, l)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "authors.name: column is NOT NULL")
		assert.Contains(t, err.Error(), "authors.extra: NOT NULL column is not part of the model")
	})
}

func TestNewMigrate_UnsupportedDialect(t *testing.T) {
	db, err := stdsql.Open(dialect.SQLite, "file:"+filepath.Join(t.TempDir(), "x.db"))
	require.NoError(t, err)
	defer db.Close()
	_, err = NewMigrate(sql.OpenDB("oracle", db))
	require.ErrorContains(t, err, `unsupported dialect "oracle"`)
}

func TestValidateDiff(t *testing.T) {
	id := &Column{Name: IDColumn, Type: field.TypeString, Size: IDSize}
	desired := []*Table{{
		Name:       "books",
		Columns:    []*Column{id, {Name: "title", Type: field.TypeString}},
		PrimaryKey: []*Column{id},
	}}

	res := ValidateDiff([]*Table{{
		Name:    "books",
		Columns: []*Column{{Name: IDColumn, Type: field.TypeString, Size: 32}, {Name: "title", Type: field.TypeString, Nullable: true}, {Name: "notes", Type: field.TypeString, Nullable: true}},
	}}, desired)
	assert.False(t, res.HasErrors())
	require.Len(t, res.Warnings, 2)
	assert.Contains(t, res.String(), "may truncate IDs")
	assert.Contains(t, res.String(), "allows NULL")
	assert.NoError(t, res.Err())

	res = ValidateDiff(nil, desired)
	require.True(t, res.HasErrors())
	assert.Equal(t, "books: table does not exist", res.Errors[0].Error())
	assert.Contains(t, res.String(), "[BREAKING]")

	assert.Equal(t, "No issues found", ValidateDiff(desired, desired).String())
}

func TestValidateSchema(t *testing.T) {
	a := &Column{Name: "a", Type: field.TypeString}
	orphan := &Table{Name: "orphan"}
	res := ValidateSchema([]*Table{{
		Name:        "t",
		Columns:     []*Column{a},
		Indexes:     []*Index{{Name: "t_b", Columns: []*Column{{Name: "b"}}}, {Name: "t_b", Columns: []*Column{a}}},
		ForeignKeys: []*ForeignKey{{Symbol: "t_orphan", Columns: []*Column{a}, RefTable: orphan}},
	}})
	require.Len(t, res.Errors, 3)
	assert.Contains(t, res.Errors[0].Error(), `index "t_b" references non-existent column "b"`)
	assert.Contains(t, res.Errors[1].Error(), "duplicate index name")
	assert.Contains(t, res.Errors[2].Error(), `non-existent table "orphan"`)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0].Error(), "no primary key")
}
