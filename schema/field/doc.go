// Package field provides fluent builders for describing entity attributes.
//
// Attributes are the scalar values of an entity. They are copied verbatim
// from the source store to the destination store during a migration.
//
// # Attribute Types
//
//	field.String("name")
//	field.Int("age")
//	field.Float("price")
//	field.Bool("active")
//	field.Time("created_at")
//	field.Bytes("thumbnail")
//
// # Attribute Options
//
//	field.String("nickname").
//	    Optional().            // May be unset when the object is committed
//	    Comment("Display name")
//
// # Value Coercion
//
// Store drivers return values in driver-specific representations (SQLite
// returns integers for booleans, msgpack may decode small integers as int8).
// Type.Coerce converts such values into the canonical Go type of the
// attribute:
//
//	v, err := field.TypeBool.Coerce(int64(1)) // true
package field
