package edge

// Descriptor holds the model description of a relationship.
type Descriptor struct {
	Name     string // Relationship name.
	Type     string // Target entity name.
	Unique   bool   // To-one if set, to-many otherwise.
	Ref      string // Inverse relationship name on the target, if any.
	Required bool   // Must be set before an object can be committed.
	Ordered  bool   // To-many only: link order is preserved.
	Comment  string
}

// Builder is the fluent builder for relationship descriptors.
type Builder struct {
	desc *Descriptor
}

// To returns a builder for a relationship named name pointing at the
// entity named typ. Without further options the relationship is an
// optional, unordered to-many relationship with no inverse.
func To(name, typ string) *Builder {
	return &Builder{desc: &Descriptor{Name: name, Type: typ}}
}

// Unique makes the relationship to-one.
func (b *Builder) Unique() *Builder {
	b.desc.Unique = true
	return b
}

// Ref sets the name of the inverse relationship on the target entity.
// Linking either side of the pair sets the other one as well.
func (b *Builder) Ref(inverse string) *Builder {
	b.desc.Ref = inverse
	return b
}

// Required marks the relationship as non-optional.
func (b *Builder) Required() *Builder {
	b.desc.Required = true
	return b
}

// Ordered marks a to-many relationship as ordered.
func (b *Builder) Ordered() *Builder {
	b.desc.Ordered = true
	return b
}

// Comment sets the relationship comment.
func (b *Builder) Comment(c string) *Builder {
	b.desc.Comment = c
	return b
}

// Descriptor returns the relationship descriptor.
func (b *Builder) Descriptor() *Descriptor {
	return b.desc
}
