package schema

import (
	"fmt"

	"github.com/go-openapi/inflect"

	"github.com/syssam/velomigrate/schema"
	"github.com/syssam/velomigrate/schema/field"
)

// Column names shared by every table.
const (
	IDColumn       = "id"
	OwnerColumn    = "owner_id"
	TargetColumn   = "target_id"
	PositionColumn = "position"
)

// IDSize is the size of the varchar columns holding object IDs.
const IDSize = 64

type (
	// Table describes a table in the store layout.
	Table struct {
		Name        string
		Columns     []*Column
		PrimaryKey  []*Column
		Indexes     []*Index
		ForeignKeys []*ForeignKey
	}

	// Column describes a table column. Columns holding object IDs have
	// the type field.TypeString and a Size.
	Column struct {
		Name     string
		Type     field.Type
		Size     int
		Nullable bool
	}

	// Index describes a table index.
	Index struct {
		Name    string
		Unique  bool
		Columns []*Column
	}

	// ForeignKey describes a foreign key of a link table.
	ForeignKey struct {
		Symbol     string
		Columns    []*Column
		RefTable   *Table
		RefColumns []*Column
	}
)

// Column returns the column with the given name.
func (t *Table) Column(name string) (*Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// TableName returns the name of the table holding the objects of an
// entity: "BookReview" is stored in "book_reviews".
func TableName(entity string) string {
	return inflect.Tableize(entity)
}

// ColumnName returns the name of the column holding an attribute.
func ColumnName(attribute string) string {
	return inflect.Underscore(attribute)
}

// LinkTableName returns the name of the table holding the values of a
// relationship: "Book.sequel" is stored in "book_sequel". Each side of an
// inverse pair has its own link table.
func LinkTableName(r *schema.Relationship) string {
	return inflect.Underscore(r.Owner) + "_" + inflect.Underscore(r.Name)
}

// Layout is the set of tables a model is stored in.
type Layout struct {
	Tables []*Table
	entity map[string]*Table
	link   map[string]*Table // keyed by Relationship.String()
}

// EntityTable returns the table of an entity.
func (l *Layout) EntityTable(entity string) *Table { return l.entity[entity] }

// LinkTable returns the link table of a relationship.
func (l *Layout) LinkTable(r *schema.Relationship) *Table { return l.link[r.String()] }

// NewLayout returns the tables storing model. It fails if a name does not
// map to a valid SQL identifier or two names map to the same table or
// column.
func NewLayout(model *schema.Model) (*Layout, error) {
	l := &Layout{entity: make(map[string]*Table), link: make(map[string]*Table)}
	for _, e := range model.Entities() {
		id := &Column{Name: IDColumn, Type: field.TypeString, Size: IDSize}
		t := &Table{Name: TableName(e.Name), Columns: []*Column{id}, PrimaryKey: []*Column{id}}
		for _, a := range e.Attributes {
			t.Columns = append(t.Columns, &Column{Name: ColumnName(a.Name), Type: a.Type, Nullable: a.Optional})
		}
		l.entity[e.Name] = t
		l.Tables = append(l.Tables, t)
	}
	for _, e := range model.Entities() {
		for _, r := range e.Relationships {
			t := linkTable(r, l.entity[r.Owner], l.entity[r.Target])
			l.link[r.String()] = t
			l.Tables = append(l.Tables, t)
		}
	}
	if res := ValidateSchema(l.Tables); res.HasErrors() {
		return nil, fmt.Errorf("sql/schema: invalid layout:\n%s", res)
	}
	return l, nil
}

func linkTable(r *schema.Relationship, owner, target *Table) *Table {
	name := LinkTableName(r)
	var (
		oc = &Column{Name: OwnerColumn, Type: field.TypeString, Size: IDSize}
		tc = &Column{Name: TargetColumn, Type: field.TypeString, Size: IDSize}
		pc = &Column{Name: PositionColumn, Type: field.TypeInt}
	)
	t := &Table{
		Name:       name,
		Columns:    []*Column{oc, tc, pc},
		PrimaryKey: []*Column{oc, tc},
		ForeignKeys: []*ForeignKey{
			{Symbol: name + "_owner", Columns: []*Column{oc}, RefTable: owner, RefColumns: owner.PrimaryKey},
			{Symbol: name + "_target", Columns: []*Column{tc}, RefTable: target, RefColumns: target.PrimaryKey},
		},
	}
	if r.ToOne() {
		t.Indexes = append(t.Indexes, &Index{Name: name + "_owner_key", Unique: true, Columns: []*Column{oc}})
	}
	t.Indexes = append(t.Indexes, &Index{Name: name + "_target_idx", Columns: []*Column{tc}})
	return t
}
