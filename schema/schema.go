package schema

import (
	"errors"
	"fmt"

	"github.com/syssam/velomigrate/schema/edge"
	"github.com/syssam/velomigrate/schema/field"
)

// Attribute is a scalar attribute of an entity.
type Attribute = field.Descriptor

// Relationship is a resolved relationship of an entity.
type Relationship struct {
	Name     string
	Owner    string // Entity that declares the relationship.
	Target   string // Entity the relationship points at.
	ToMany   bool
	Inverse  string // Name of the inverse relationship on Target, if any.
	Optional bool
	Ordered  bool
	Comment  string
}

// ToOne reports if the relationship holds at most one object.
func (r *Relationship) ToOne() bool { return !r.ToMany }

// HasInverse reports if the relationship has an inverse.
func (r *Relationship) HasInverse() bool { return r.Inverse != "" }

// String returns the Owner.Name form of the relationship.
func (r *Relationship) String() string { return r.Owner + "." + r.Name }

// Entity is a named record type of a Model.
type Entity struct {
	Name          string
	Attributes    []*Attribute
	Relationships []*Relationship

	attrs map[string]*Attribute
	rels  map[string]*Relationship
}

// Attribute returns the attribute with the given name.
func (e *Entity) Attribute(name string) (*Attribute, bool) {
	a, ok := e.attrs[name]
	return a, ok
}

// Relationship returns the relationship with the given name.
func (e *Entity) Relationship(name string) (*Relationship, bool) {
	r, ok := e.rels[name]
	return r, ok
}

// Model is an immutable description of the entities shared by a source and
// a destination store. A Model is safe for concurrent use.
type Model struct {
	entities []*Entity
	index    map[string]*Entity
}

// Entities returns the entities in declaration order.
func (m *Model) Entities() []*Entity {
	return append([]*Entity(nil), m.entities...)
}

// Entity returns the entity with the given name.
func (m *Model) Entity(name string) (*Entity, bool) {
	e, ok := m.index[name]
	return e, ok
}

// Relationship returns the named relationship of the named entity.
func (m *Model) Relationship(entity, name string) (*Relationship, bool) {
	e, ok := m.index[entity]
	if !ok {
		return nil, false
	}
	return e.Relationship(name)
}

// InverseOf returns the inverse of r, or nil if r has none.
func (m *Model) InverseOf(r *Relationship) *Relationship {
	if !r.HasInverse() {
		return nil
	}
	inv, _ := m.Relationship(r.Target, r.Inverse)
	return inv
}

// EntityBuilder collects the attributes and relationships of one entity.
type EntityBuilder struct {
	name   string
	fields []*field.Builder
	edges  []*edge.Builder
}

// Define starts the definition of the entity with the given name.
func Define(name string) *EntityBuilder {
	return &EntityBuilder{name: name}
}

// Fields appends attributes to the entity.
func (b *EntityBuilder) Fields(fields ...*field.Builder) *EntityBuilder {
	b.fields = append(b.fields, fields...)
	return b
}

// Edges appends relationships to the entity.
func (b *EntityBuilder) Edges(edges ...*edge.Builder) *EntityBuilder {
	b.edges = append(b.edges, edges...)
	return b
}

// New builds and validates a Model from entity definitions. All problems
// found are reported together.
func New(defs ...*EntityBuilder) (*Model, error) {
	if len(defs) == 0 {
		return nil, errors.New("schema: model has no entities")
	}
	m := &Model{index: make(map[string]*Entity, len(defs))}
	var errs []error
	for _, d := range defs {
		if d.name == "" {
			errs = append(errs, errors.New("schema: entity with empty name"))
			continue
		}
		if _, ok := m.index[d.name]; ok {
			errs = append(errs, fmt.Errorf("schema: duplicate entity %q", d.name))
			continue
		}
		e := &Entity{
			Name:  d.name,
			attrs: make(map[string]*Attribute, len(d.fields)),
			rels:  make(map[string]*Relationship, len(d.edges)),
		}
		for _, f := range d.fields {
			desc := f.Descriptor()
			switch {
			case desc.Name == "":
				errs = append(errs, fmt.Errorf("schema: entity %q: attribute with empty name", e.Name))
			case !desc.Type.Valid():
				errs = append(errs, fmt.Errorf("schema: entity %q: attribute %q has invalid type", e.Name, desc.Name))
			case e.attrs[desc.Name] != nil:
				errs = append(errs, fmt.Errorf("schema: entity %q: duplicate attribute %q", e.Name, desc.Name))
			default:
				e.attrs[desc.Name] = desc
				e.Attributes = append(e.Attributes, desc)
			}
		}
		for _, eb := range d.edges {
			desc := eb.Descriptor()
			if desc.Name == "" {
				errs = append(errs, fmt.Errorf("schema: entity %q: relationship with empty name", e.Name))
				continue
			}
			if e.attrs[desc.Name] != nil || e.rels[desc.Name] != nil {
				errs = append(errs, fmt.Errorf("schema: entity %q: duplicate name %q", e.Name, desc.Name))
				continue
			}
			r := &Relationship{
				Name:     desc.Name,
				Owner:    e.Name,
				Target:   desc.Type,
				ToMany:   !desc.Unique,
				Inverse:  desc.Ref,
				Optional: !desc.Required,
				Ordered:  desc.Ordered,
				Comment:  desc.Comment,
			}
			e.rels[r.Name] = r
			e.Relationships = append(e.Relationships, r)
		}
		m.entities = append(m.entities, e)
		m.index[e.Name] = e
	}
	errs = append(errs, m.link()...)
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return m, nil
}

// link checks relationship targets and inverse pairs.
func (m *Model) link() []error {
	var errs []error
	for _, e := range m.entities {
		for _, r := range e.Relationships {
			if r.Ordered && r.ToOne() {
				errs = append(errs, fmt.Errorf("schema: relationship %s: only to-many relationships can be ordered", r))
			}
			target, ok := m.index[r.Target]
			if !ok {
				errs = append(errs, fmt.Errorf("schema: relationship %s: unknown target entity %q", r, r.Target))
				continue
			}
			if !r.HasInverse() {
				continue
			}
			inv, ok := target.rels[r.Inverse]
			switch {
			case !ok:
				errs = append(errs, fmt.Errorf("schema: relationship %s: inverse %q not found on %q", r, r.Inverse, r.Target))
			case inv.Inverse != r.Name:
				errs = append(errs, fmt.Errorf("schema: relationship %s: inverse %s does not reference it back", r, inv))
			case inv.Target != r.Owner:
				errs = append(errs, fmt.Errorf("schema: relationship %s: inverse %s targets %q", r, inv, inv.Target))
			}
		}
	}
	return errs
}
