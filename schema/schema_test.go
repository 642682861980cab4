package schema_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/velomigrate/schema"
	"github.com/syssam/velomigrate/schema/edge"
	"github.com/syssam/velomigrate/schema/field"
)

func TestNew(t *testing.T) {
	t.Parallel()

	m, err := schema.New(
		schema.Define("Author").
			Fields(field.String("name")).
			Edges(edge.To("books", "Book").Ref("author").Ordered()),
		schema.Define("Book").
			Fields(field.String("title"), field.Int("pages").Optional()).
			Edges(edge.To("author", "Author").Ref("books").Unique().Required()),
	)
	require.NoError(t, err)

	entities := m.Entities()
	require.Len(t, entities, 2)
	assert.Equal(t, "Author", entities[0].Name)
	assert.Equal(t, "Book", entities[1].Name)

	book, ok := m.Entity("Book")
	require.True(t, ok)
	pages, ok := book.Attribute("pages")
	require.True(t, ok)
	assert.Equal(t, field.TypeInt, pages.Type)
	assert.True(t, pages.Optional)

	author, ok := m.Relationship("Book", "author")
	require.True(t, ok)
	assert.True(t, author.ToOne())
	assert.False(t, author.Optional)
	assert.Equal(t, "Book.author", author.String())

	books := m.InverseOf(author)
	require.NotNil(t, books)
	assert.Equal(t, "books", books.Name)
	assert.True(t, books.ToMany)
	assert.True(t, books.Ordered)
	assert.True(t, books.Optional)
	assert.Same(t, author, m.InverseOf(books))

	_, ok = m.Entity("Publisher")
	assert.False(t, ok)
	_, ok = m.Relationship("Publisher", "books")
	assert.False(t, ok)
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		defs    []*schema.EntityBuilder
		wantErr string
	}{
		{
			name:    "no_entities",
			wantErr: "model has no entities",
		},
		{
			name:    "duplicate_entity",
			defs:    []*schema.EntityBuilder{schema.Define("A"), schema.Define("A")},
			wantErr: `duplicate entity "A"`,
		},
		{
			name:    "duplicate_attribute",
			defs:    []*schema.EntityBuilder{schema.Define("A").Fields(field.String("x"), field.Int("x"))},
			wantErr: `duplicate attribute "x"`,
		},
		{
			name: "relationship_shadows_attribute",
			defs: []*schema.EntityBuilder{
				schema.Define("A").Fields(field.String("x")).Edges(edge.To("x", "A")),
			},
			wantErr: `duplicate name "x"`,
		},
		{
			name:    "unknown_target",
			defs:    []*schema.EntityBuilder{schema.Define("A").Edges(edge.To("b", "B"))},
			wantErr: `unknown target entity "B"`,
		},
		{
			name: "missing_inverse",
			defs: []*schema.EntityBuilder{
				schema.Define("A").Edges(edge.To("b", "B").Ref("a")),
				schema.Define("B"),
			},
			wantErr: `inverse "a" not found on "B"`,
		},
		{
			name: "inverse_not_mutual",
			defs: []*schema.EntityBuilder{
				schema.Define("A").Edges(edge.To("b", "B").Ref("a"), edge.To("c", "B")),
				schema.Define("B").Edges(edge.To("a", "A").Ref("c")),
			},
			wantErr: "does not reference it back",
		},
		{
			name: "ordered_to_one",
			defs: []*schema.EntityBuilder{
				schema.Define("A").Edges(edge.To("self", "A").Unique().Ordered()),
			},
			wantErr: "only to-many relationships can be ordered",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := schema.New(tt.defs...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

const modelYAML = `
entities:
  - name: Author
    attributes:
      - {name: name, type: string}
      - {name: born, type: time, optional: true}
    relationships:
      - {name: books, target: Book, many: true, inverse: author, ordered: true}
  - name: Book
    attributes:
      - {name: title, type: string}
      - {name: cover, type: bytes, optional: true}
    relationships:
      - {name: author, target: Author, inverse: books, required: true}
      - {name: sequel, target: Book}
`

func TestParse(t *testing.T) {
	t.Parallel()

	m, err := schema.Parse([]byte(modelYAML))
	require.NoError(t, err)

	author, ok := m.Entity("Author")
	require.True(t, ok)
	born, ok := author.Attribute("born")
	require.True(t, ok)
	assert.Equal(t, field.TypeTime, born.Type)
	assert.True(t, born.Optional)

	sequel, ok := m.Relationship("Book", "sequel")
	require.True(t, ok)
	assert.True(t, sequel.ToOne())
	assert.True(t, sequel.Optional)
	assert.False(t, sequel.HasInverse())
	assert.Nil(t, m.InverseOf(sequel))

	_, err = schema.Parse([]byte("entities:\n  - name: A\n    attributes:\n      - {name: x, type: decimal}\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown type "decimal"`)

	_, err = schema.Parse([]byte("entities: ["))
	require.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "model.yaml")
	require.NoError(t, os.WriteFile(path, []byte(modelYAML), 0o600))
	m, err := schema.LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, m.Entities(), 2)

	_, err = schema.LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
