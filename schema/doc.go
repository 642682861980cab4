// Package schema describes the object model shared by a source store and a
// destination store.
//
// A Model is a set of entities. Each entity has scalar attributes (see
// [field]) and relationships to other entities (see [edge]). The same Model
// is used to open both sides of a migration; schema transformation between
// stores is not supported.
//
// # Defining a Model in Go
//
//	m, err := schema.New(
//	    schema.Define("Author").
//	        Fields(field.String("name")).
//	        Edges(edge.To("books", "Book").Ref("author").Ordered()),
//	    schema.Define("Book").
//	        Fields(field.String("title"), field.Int("pages").Optional()).
//	        Edges(edge.To("author", "Author").Ref("books").Unique().Required()),
//	)
//
// # Loading a Model from YAML
//
//	m, err := schema.LoadFile("model.yaml")
//
// See Parse for the file format.
//
// # Validation
//
// New reports every problem it finds, joined into one error:
//   - duplicate entity, attribute or relationship names
//   - relationships pointing at unknown entities
//   - inverse relationships that are missing, do not name the relationship
//     back, or point at a different entity
//   - ordered to-one relationships
package schema
