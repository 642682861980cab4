package sqlstore

import (
	"cmp"
	"slices"

	"github.com/syssam/velomigrate/store"
)

// object holds the uncommitted writes to one object. For objects created
// on the connection attrs and rels are complete; for stored objects they
// hold the changed attributes and the full new value of each changed
// relationship.
type object struct {
	created bool
	attrs   map[string]any
	rels    map[string][]store.ID
}

// buffer is the pending write buffer of a connection.
type buffer struct {
	objects map[store.Ref]*object
	order   []store.Ref // first write order
}

func newBuffer() *buffer {
	return &buffer{objects: make(map[store.Ref]*object)}
}

// object returns the pending entry of ref, adding it if needed.
func (b *buffer) object(ref store.Ref) *object {
	o, ok := b.objects[ref]
	if !ok {
		o = &object{attrs: make(map[string]any), rels: make(map[string][]store.ID)}
		b.objects[ref] = o
		b.order = append(b.order, ref)
	}
	return o
}

// sorted returns the pending references ordered by entity and ID.
func (b *buffer) sorted() []store.Ref {
	refs := slices.Clone(b.order)
	slices.SortFunc(refs, func(x, y store.Ref) int {
		return cmp.Or(cmp.Compare(x.Entity, y.Entity), cmp.Compare(x.ID, y.ID))
	})
	return refs
}
