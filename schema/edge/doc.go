// Package edge provides fluent builders for describing relationships between
// entities.
//
// # Cardinality
//
// Relationships are to-many unless Unique is set:
//
//	// To-many: Author has many Books
//	edge.To("books", "Book")
//
//	// To-one: Book has one Author
//	edge.To("author", "Author").Unique()
//
// # Inverse Relationships
//
// A relationship and its inverse are declared on both entities and name
// each other with Ref:
//
//	// Author
//	edge.To("books", "Book").Ref("author").Ordered()
//
//	// Book
//	edge.To("author", "Author").Ref("books").Unique().Required()
//
// Stores maintain both sides of such a pair: linking a book to its author
// also appends the book to the author's books. A relationship without an
// inverse is only ever set from its own side, which is why a migration that
// prunes (snips) it must set it again explicitly (stitch).
//
// # Options
//
//	edge.To("cover", "Image").
//	    Unique().
//	    Required().          // Commit fails while the relationship is unset
//	    Comment("Front cover")
package edge
