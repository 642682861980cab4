package schema

import (
	"context"
	"fmt"
	"log/slog"

	"ariga.io/atlas/sql/migrate"
	"ariga.io/atlas/sql/mysql"
	"ariga.io/atlas/sql/postgres"
	"ariga.io/atlas/sql/schema"
	"ariga.io/atlas/sql/sqlite"

	"github.com/syssam/velomigrate/dialect"
	"github.com/syssam/velomigrate/dialect/sql"
	"github.com/syssam/velomigrate/schema/field"
)

// Migrate creates and verifies the tables of a Layout using atlas.
type Migrate struct {
	drv         *sql.Driver
	atlas       migrate.Driver
	schemaName  string
	strictTypes bool
	log         *slog.Logger
}

// MigrateOption allows configuring a Migrate.
type MigrateOption func(*Migrate)

// WithSchemaName sets the database schema the tables live in. The empty
// name selects the connection default.
func WithSchemaName(name string) MigrateOption {
	return func(m *Migrate) {
		m.schemaName = name
	}
}

// WithStrictTypes makes column type mismatches fail verification.
func WithStrictTypes(b bool) MigrateOption {
	return func(m *Migrate) {
		m.strictTypes = b
	}
}

// WithLogger sets the logger verification warnings are written to.
func WithLogger(l *slog.Logger) MigrateOption {
	return func(m *Migrate) {
		m.log = l
	}
}

// NewMigrate returns a Migrate for the database behind drv.
func NewMigrate(drv *sql.Driver, opts ...MigrateOption) (*Migrate, error) {
	m := &Migrate{drv: drv, log: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	var (
		err error
		db  = drv.DB()
	)
	switch d := drv.Dialect(); d {
	case dialect.SQLite:
		m.atlas, err = sqlite.Open(db)
	case dialect.Postgres:
		m.atlas, err = postgres.Open(db)
	case dialect.MySQL:
		m.atlas, err = mysql.Open(db)
	default:
		return nil, fmt.Errorf("sql/schema: unsupported dialect %q", d)
	}
	if err != nil {
		return nil, fmt.Errorf("sql/schema: open atlas driver: %w", err)
	}
	return m, nil
}

// Create creates the tables of l that do not exist yet and verifies the
// ones that do.
func (m *Migrate) Create(ctx context.Context, l *Layout) error {
	current, err := m.Inspect(ctx, l)
	if err != nil {
		return err
	}
	existing := make(map[string]bool, len(current))
	for _, t := range current {
		existing[t.Name] = true
	}
	var (
		missing []*Table
		present []*Table
	)
	for _, t := range l.Tables {
		if existing[t.Name] {
			present = append(present, t)
		} else {
			missing = append(missing, t)
		}
	}
	if err := m.check(ctx, current, present); err != nil {
		return err
	}
	if len(missing) == 0 {
		return nil
	}
	changes, err := m.changes(missing)
	if err != nil {
		return err
	}
	if err := m.atlas.ApplyChanges(ctx, changes); err != nil {
		return fmt.Errorf("sql/schema: create tables: %w", err)
	}
	m.log.InfoContext(ctx, "created tables", "count", len(missing), "dialect", m.drv.Dialect())
	return nil
}

// Verify checks that every table of l exists and can store the model.
func (m *Migrate) Verify(ctx context.Context, l *Layout) error {
	current, err := m.Inspect(ctx, l)
	if err != nil {
		return err
	}
	return m.check(ctx, current, l.Tables)
}

func (m *Migrate) check(ctx context.Context, current, desired []*Table) error {
	var opts []ValidateOption
	if m.strictTypes {
		opts = append(opts, StrictTypes())
	}
	res := ValidateDiff(current, desired, opts...)
	for _, w := range res.Warnings {
		m.log.WarnContext(ctx, "schema mismatch", "table", w.Table, "column", w.Column, "problem", w.Message)
	}
	return res.Err()
}

// Inspect returns the tables of l found in the database, described with
// the types they map to.
func (m *Migrate) Inspect(ctx context.Context, l *Layout) ([]*Table, error) {
	names := make([]string, len(l.Tables))
	for i, t := range l.Tables {
		names[i] = t.Name
	}
	s, err := m.atlas.InspectSchema(ctx, m.schemaName, &schema.InspectOptions{
		Mode:   schema.InspectTables,
		Tables: names,
	})
	if err != nil {
		return nil, fmt.Errorf("sql/schema: inspect: %w", err)
	}
	tables := make([]*Table, 0, len(s.Tables))
	for _, at := range s.Tables {
		t := &Table{Name: at.Name}
		for _, ac := range at.Columns {
			t.Columns = append(t.Columns, fromAtlasColumn(ac))
		}
		tables = append(tables, t)
	}
	return tables, nil
}

// changes returns the atlas changes creating tables. Referenced tables
// that are not created are attached to the changes as bare references.
func (m *Migrate) changes(tables []*Table) ([]schema.Change, error) {
	built := make(map[string]*schema.Table, len(tables))
	ref := func(t *Table) *schema.Table {
		if at, ok := built[t.Name]; ok {
			return at
		}
		at := schema.NewTable(t.Name)
		for _, c := range t.PrimaryKey {
			at.AddColumns(m.atlasColumn(c))
		}
		return at
	}
	changes := make([]schema.Change, 0, len(tables))
	for _, t := range tables {
		at := schema.NewTable(t.Name)
		cols := make(map[string]*schema.Column, len(t.Columns))
		for _, c := range t.Columns {
			ac := m.atlasColumn(c)
			cols[c.Name] = ac
			at.AddColumns(ac)
		}
		pick := func(cs []*Column) ([]*schema.Column, error) {
			out := make([]*schema.Column, len(cs))
			for i, c := range cs {
				ac, ok := cols[c.Name]
				if !ok {
					return nil, fmt.Errorf("sql/schema: table %q has no column %q", t.Name, c.Name)
				}
				out[i] = ac
			}
			return out, nil
		}
		pk, err := pick(t.PrimaryKey)
		if err != nil {
			return nil, err
		}
		at.SetPrimaryKey(schema.NewPrimaryKey(pk...))
		for _, idx := range t.Indexes {
			parts, err := pick(idx.Columns)
			if err != nil {
				return nil, err
			}
			at.AddIndexes(schema.NewIndex(idx.Name).SetUnique(idx.Unique).AddColumns(parts...))
		}
		for _, fk := range t.ForeignKeys {
			parts, err := pick(fk.Columns)
			if err != nil {
				return nil, err
			}
			rt := ref(fk.RefTable)
			refCols := make([]*schema.Column, 0, len(fk.RefColumns))
			for _, c := range fk.RefColumns {
				rc, ok := rt.Column(c.Name)
				if !ok {
					return nil, fmt.Errorf("sql/schema: table %q has no column %q", rt.Name, c.Name)
				}
				refCols = append(refCols, rc)
			}
			at.AddForeignKeys(schema.NewForeignKey(fk.Symbol).
				AddColumns(parts...).
				SetRefTable(rt).
				AddRefColumns(refCols...).
				SetOnDelete(schema.Cascade))
		}
		built[t.Name] = at
		changes = append(changes, &schema.AddTable{T: at, Extra: []schema.Clause{&schema.IfNotExists{}}})
	}
	return changes, nil
}

func (m *Migrate) atlasColumn(c *Column) *schema.Column {
	var ac *schema.Column
	switch d := m.drv.Dialect(); c.Type {
	case field.TypeString:
		switch {
		case c.Size > 0:
			ac = schema.NewStringColumn(c.Name, "varchar", schema.StringSize(c.Size))
		case d == dialect.MySQL:
			ac = schema.NewStringColumn(c.Name, "longtext")
		default:
			ac = schema.NewStringColumn(c.Name, "text")
		}
	case field.TypeInt:
		ac = schema.NewIntColumn(c.Name, "bigint")
	case field.TypeFloat:
		switch d {
		case dialect.Postgres:
			ac = schema.NewFloatColumn(c.Name, "double precision")
		case dialect.MySQL:
			ac = schema.NewFloatColumn(c.Name, "double")
		default:
			ac = schema.NewFloatColumn(c.Name, "real")
		}
	case field.TypeBool:
		if d == dialect.Postgres {
			ac = schema.NewBoolColumn(c.Name, "boolean")
		} else {
			ac = schema.NewBoolColumn(c.Name, "bool")
		}
	case field.TypeTime:
		switch d {
		case dialect.Postgres:
			ac = schema.NewTimeColumn(c.Name, "timestamp with time zone")
		case dialect.MySQL:
			ac = schema.NewTimeColumn(c.Name, "datetime", schema.TimePrecision(6))
		default:
			ac = schema.NewTimeColumn(c.Name, "datetime")
		}
	case field.TypeBytes:
		switch d {
		case dialect.Postgres:
			ac = schema.NewBinaryColumn(c.Name, "bytea")
		case dialect.MySQL:
			ac = schema.NewBinaryColumn(c.Name, "longblob")
		default:
			ac = schema.NewBinaryColumn(c.Name, "blob")
		}
	default:
		ac = schema.NewStringColumn(c.Name, "text")
	}
	return ac.SetNull(c.Nullable)
}

func fromAtlasColumn(ac *schema.Column) *Column {
	c := &Column{Name: ac.Name}
	if ac.Type == nil {
		return c
	}
	c.Nullable = ac.Type.Null
	switch t := ac.Type.Type.(type) {
	case *schema.StringType:
		c.Type, c.Size = field.TypeString, t.Size
	case *schema.IntegerType:
		c.Type = field.TypeInt
	case *schema.FloatType, *schema.DecimalType:
		c.Type = field.TypeFloat
	case *schema.BoolType:
		c.Type = field.TypeBool
	case *schema.TimeType:
		c.Type = field.TypeTime
	case *schema.BinaryType:
		c.Type = field.TypeBytes
	}
	return c
}
