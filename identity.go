package velomigrate

import "github.com/syssam/velomigrate/store"

type identityKey struct {
	entity string
	id     store.ID
}

// identityMap maps source objects to their destination counterparts. It
// holds at most one entry per source object. Entries registered since the
// last successful commit are journaled so that a failed commit can drop
// them together with the destination objects the store rolled back.
type identityMap struct {
	entries map[identityKey]store.Ref
	order   map[string][]store.ID // source IDs per entity, in registration order
	journal []identityKey
}

func newIdentityMap() *identityMap {
	return &identityMap{
		entries: make(map[identityKey]store.Ref),
		order:   make(map[string][]store.ID),
	}
}

func (m *identityMap) lookup(src store.Ref) (store.Ref, bool) {
	dst, ok := m.entries[identityKey{src.Entity, src.ID}]
	return dst, ok
}

// register records dst as the counterpart of src. It reports false and
// leaves the map unchanged if src already has a counterpart.
func (m *identityMap) register(src, dst store.Ref) bool {
	k := identityKey{src.Entity, src.ID}
	if _, ok := m.entries[k]; ok {
		return false
	}
	m.entries[k] = dst
	m.order[src.Entity] = append(m.order[src.Entity], src.ID)
	m.journal = append(m.journal, k)
	return true
}

// sources returns the IDs of the migrated source objects of entity in
// registration order.
func (m *identityMap) sources(entity string) []store.ID {
	return append([]store.ID(nil), m.order[entity]...)
}

// pending returns the number of entries registered since the last commit.
func (m *identityMap) pending() int { return len(m.journal) }

func (m *identityMap) len() int { return len(m.entries) }

// commit makes all journaled entries permanent.
func (m *identityMap) commit() {
	m.journal = m.journal[:0]
}

// rollback drops every entry registered since the last commit and returns
// how many were dropped.
func (m *identityMap) rollback() int {
	n := len(m.journal)
	for i := n - 1; i >= 0; i-- {
		k := m.journal[i]
		delete(m.entries, k)
		// Journaled IDs are always the tail of their entity's order.
		ids := m.order[k.entity]
		m.order[k.entity] = ids[:len(ids)-1]
	}
	m.journal = m.journal[:0]
	return n
}
