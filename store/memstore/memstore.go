package memstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"net/url"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/syssam/velomigrate"
	"github.com/syssam/velomigrate/schema"
	"github.com/syssam/velomigrate/store"
)

func init() {
	store.Register("mem", store.DriverFunc(openNamed))
	store.Register("msgpack", store.DriverFunc(openFile))
}

// record is the stored state of one object.
type record struct {
	attrs map[string]any
	rels  map[string][]store.ID
}

func newRecord() *record {
	return &record{attrs: make(map[string]any), rels: make(map[string][]store.ID)}
}

func (r *record) clone() *record {
	c := &record{attrs: maps.Clone(r.attrs), rels: make(map[string][]store.ID, len(r.rels))}
	for k, ids := range r.rels {
		c.rels[k] = slices.Clone(ids)
	}
	return c
}

// Store is an in-memory object store. Every connection to a Store sees the
// same committed objects; uncommitted writes are private to a connection.
type Store struct {
	mu      sync.RWMutex
	objects map[string]map[store.ID]*record
	order   map[string][]store.ID // sorted IDs per entity
	commits int

	path string // msgpack file the store persists to, if any
	mode fs.FileMode
}

// New returns an empty store that is not reachable through a location.
func New() *Store {
	return &Store{
		objects: make(map[string]map[store.ID]*record),
		order:   make(map[string][]store.ID),
	}
}

var (
	namedMu sync.Mutex
	named   = make(map[string]*Store)
)

// Get returns the store served at mem://name, creating it if needed.
func Get(name string) *Store {
	namedMu.Lock()
	defer namedMu.Unlock()
	st, ok := named[name]
	if !ok {
		st = New()
		named[name] = st
	}
	return st
}

// Drop removes the store served at mem://name. Open connections keep
// working on the dropped store.
func Drop(name string) {
	namedMu.Lock()
	defer namedMu.Unlock()
	delete(named, name)
}

func openNamed(ctx context.Context, u *url.URL, model *schema.Model, opts store.Options) (store.Conn, error) {
	name := u.Host + u.Path
	if name == "" {
		name = u.Opaque
	}
	if name == "" {
		return nil, fmt.Errorf("memstore: location %q has no store name", u)
	}
	return Get(name).Connect(ctx, model, opts)
}

// Commits returns the number of successful commits.
func (s *Store) Commits() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.commits
}

// Count returns the number of committed objects of entity.
func (s *Store) Count(entity string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects[entity])
}

// Connect opens a connection to the store. The only option it reads is
// store.ReadOnly.
func (s *Store) Connect(ctx context.Context, model *schema.Model, opts store.Options) (*Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if model == nil {
		return nil, errors.New("memstore: nil model")
	}
	ro, err := opts.Bool(store.ReadOnly, false)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for entity := range s.objects {
		if _, ok := model.Entity(entity); !ok {
			return nil, fmt.Errorf("memstore: model does not describe stored entity %q", entity)
		}
	}
	return &Conn{st: s, model: model, readOnly: ro, pending: make(map[store.Ref]*record)}, nil
}

// Conn is a connection to a Store.
type Conn struct {
	st       *Store
	model    *schema.Model
	readOnly bool
	closed   bool
	pending  map[store.Ref]*record
}

var _ store.Conn = (*Conn)(nil)

// Model implements store.Conn.
func (c *Conn) Model() *schema.Model { return c.model }

func (c *Conn) check(ctx context.Context, write bool) error {
	switch {
	case c.closed:
		return errors.New("memstore: connection is closed")
	case write && c.readOnly:
		return velomigrate.ErrReadOnly
	}
	return ctx.Err()
}

func (c *Conn) entity(name string) (*schema.Entity, error) {
	e, ok := c.model.Entity(name)
	if !ok {
		return nil, fmt.Errorf("memstore: %w %q", velomigrate.ErrUnknownEntity, name)
	}
	return e, nil
}

// Fetch implements store.Conn.
func (c *Conn) Fetch(ctx context.Context, entity string, offset, limit int) ([]store.Ref, error) {
	if err := c.check(ctx, false); err != nil {
		return nil, err
	}
	if _, err := c.entity(entity); err != nil {
		return nil, err
	}
	if offset < 0 || limit < 0 {
		return nil, fmt.Errorf("memstore: invalid window offset=%d limit=%d", offset, limit)
	}
	c.st.mu.RLock()
	defer c.st.mu.RUnlock()
	ids := c.st.order[entity]
	if offset >= len(ids) {
		return nil, nil
	}
	ids = ids[offset:min(offset+limit, len(ids))]
	refs := make([]store.Ref, len(ids))
	for i, id := range ids {
		refs[i] = store.Ref{Entity: entity, ID: id}
	}
	return refs, nil
}

// lookup returns the current state of an object, pending writes included.
// The record must not be modified.
func (c *Conn) lookup(ref store.Ref) (*record, error) {
	if r, ok := c.pending[ref]; ok {
		return r, nil
	}
	c.st.mu.RLock()
	defer c.st.mu.RUnlock()
	if r, ok := c.st.objects[ref.Entity][ref.ID]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("memstore: %s: %w", ref, velomigrate.ErrNotFound)
}

// writable returns the pending copy of an object, copying it from the
// committed state on first write.
func (c *Conn) writable(ref store.Ref) (*record, error) {
	if r, ok := c.pending[ref]; ok {
		return r, nil
	}
	r, err := c.lookup(ref)
	if err != nil {
		return nil, err
	}
	r = r.clone()
	c.pending[ref] = r
	return r, nil
}

// Attributes implements store.Conn.
func (c *Conn) Attributes(ctx context.Context, ref store.Ref) (map[string]any, error) {
	if err := c.check(ctx, false); err != nil {
		return nil, err
	}
	r, err := c.lookup(ref)
	if err != nil {
		return nil, err
	}
	return maps.Clone(r.attrs), nil
}

// Related implements store.Conn.
func (c *Conn) Related(ctx context.Context, ref store.Ref, relationship string) ([]store.Ref, error) {
	if err := c.check(ctx, false); err != nil {
		return nil, err
	}
	rel, err := c.relationship(ref.Entity, relationship)
	if err != nil {
		return nil, err
	}
	r, err := c.lookup(ref)
	if err != nil {
		return nil, err
	}
	ids := r.rels[relationship]
	refs := make([]store.Ref, len(ids))
	for i, id := range ids {
		refs[i] = store.Ref{Entity: rel.Target, ID: id}
	}
	return refs, nil
}

func (c *Conn) relationship(entity, name string) (*schema.Relationship, error) {
	e, err := c.entity(entity)
	if err != nil {
		return nil, err
	}
	rel, ok := e.Relationship(name)
	if !ok {
		return nil, fmt.Errorf("memstore: %w %q on %q", velomigrate.ErrUnknownRelationship, name, entity)
	}
	return rel, nil
}

// Create implements store.Conn. IDs are version 7 UUIDs, so the ID order
// of a store is its creation order.
func (c *Conn) Create(ctx context.Context, entity string) (store.Ref, error) {
	if err := c.check(ctx, true); err != nil {
		return store.Ref{}, err
	}
	if _, err := c.entity(entity); err != nil {
		return store.Ref{}, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return store.Ref{}, fmt.Errorf("memstore: generate id: %w", err)
	}
	ref := store.Ref{Entity: entity, ID: store.ID(id.String())}
	c.pending[ref] = newRecord()
	return ref, nil
}

// SetAttribute implements store.Conn.
func (c *Conn) SetAttribute(ctx context.Context, ref store.Ref, name string, value any) error {
	if err := c.check(ctx, true); err != nil {
		return err
	}
	e, err := c.entity(ref.Entity)
	if err != nil {
		return err
	}
	a, ok := e.Attribute(name)
	if !ok {
		return fmt.Errorf("memstore: unknown attribute %q on %q", name, ref.Entity)
	}
	v, err := a.Type.Coerce(value)
	if err != nil {
		return velomigrate.NewValidationError(ref.Entity, ref.ID, name, err)
	}
	r, err := c.writable(ref)
	if err != nil {
		return err
	}
	r.attrs[name] = v
	return nil
}

// Link implements store.Conn.
func (c *Conn) Link(ctx context.Context, ref store.Ref, relationship string, target store.Ref) error {
	if err := c.check(ctx, true); err != nil {
		return err
	}
	rel, err := c.relationship(ref.Entity, relationship)
	if err != nil {
		return err
	}
	if target.Entity != rel.Target {
		return fmt.Errorf("memstore: relationship %s targets %q, got %s", rel, rel.Target, target)
	}
	if _, err := c.lookup(target); err != nil {
		return err
	}
	return c.link(ref, rel, target)
}

// Reorder implements store.Conn.
func (c *Conn) Reorder(ctx context.Context, ref store.Ref, relationship string, targets []store.Ref) error {
	if err := c.check(ctx, true); err != nil {
		return err
	}
	rel, err := c.relationship(ref.Entity, relationship)
	if err != nil {
		return err
	}
	r, err := c.lookup(ref)
	if err != nil {
		return err
	}
	front := make([]store.ID, len(targets))
	for i, t := range targets {
		if t.Entity != rel.Target {
			return fmt.Errorf("memstore: relationship %s targets %q, got %s", rel, rel.Target, t)
		}
		front[i] = t.ID
	}
	ids, missing, ok := store.Reordered(r.rels[rel.Name], front)
	if !ok {
		return fmt.Errorf("memstore: reorder %s.%s: %s/%s is not linked: %w", ref, rel.Name, rel.Target, missing, velomigrate.ErrNotFound)
	}
	if slices.Equal(ids, r.rels[rel.Name]) {
		return nil
	}
	w, err := c.writable(ref)
	if err != nil {
		return err
	}
	w.rels[rel.Name] = ids
	return nil
}

// link sets one side of a relationship and then its inverse side. The
// recursion ends once both sides hold each other.
func (c *Conn) link(ref store.Ref, rel *schema.Relationship, target store.Ref) error {
	r, err := c.writable(ref)
	if err != nil {
		return err
	}
	ids := r.rels[rel.Name]
	if slices.Contains(ids, target.ID) {
		return nil
	}
	inv := c.model.InverseOf(rel)
	if rel.ToOne() && len(ids) > 0 {
		if inv != nil {
			if err := c.unlink(store.Ref{Entity: rel.Target, ID: ids[0]}, inv, ref.ID); err != nil {
				return err
			}
		}
		ids = nil
	}
	r.rels[rel.Name] = append(ids, target.ID)
	if inv != nil {
		return c.link(target, inv, ref)
	}
	return nil
}

// unlink removes id from a relationship of ref.
func (c *Conn) unlink(ref store.Ref, rel *schema.Relationship, id store.ID) error {
	r, err := c.writable(ref)
	if err != nil {
		return err
	}
	r.rels[rel.Name] = slices.DeleteFunc(r.rels[rel.Name], func(x store.ID) bool { return x == id })
	return nil
}

// HasChanges implements store.Conn.
func (c *Conn) HasChanges() bool { return len(c.pending) > 0 }

// Discard implements store.Conn.
func (c *Conn) Discard() {
	if !c.closed {
		clear(c.pending)
	}
}

// Commit implements store.Conn. Every pending object must have its
// required attributes and relationships set.
func (c *Conn) Commit(ctx context.Context) error {
	if err := c.check(ctx, len(c.pending) > 0); err != nil {
		return err
	}
	// The pending buffer is discarded whatever the outcome.
	pending := c.pending
	c.pending = make(map[store.Ref]*record)
	if err := c.validate(pending); err != nil {
		return err
	}
	return c.st.apply(pending)
}

func (c *Conn) validate(pending map[store.Ref]*record) error {
	refs := slices.SortedFunc(maps.Keys(pending), func(a, b store.Ref) int {
		if a.Entity != b.Entity {
			if a.Entity < b.Entity {
				return -1
			}
			return 1
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	var errs []error
	for _, ref := range refs {
		e, err := c.entity(ref.Entity)
		if err != nil {
			return err
		}
		r := pending[ref]
		for _, a := range e.Attributes {
			if !a.Optional && r.attrs[a.Name] == nil {
				errs = append(errs, velomigrate.NewValidationError(ref.Entity, ref.ID, a.Name, errors.New("required attribute is not set")))
			}
		}
		for _, rel := range e.Relationships {
			if !rel.Optional && len(r.rels[rel.Name]) == 0 {
				errs = append(errs, velomigrate.NewValidationError(ref.Entity, ref.ID, rel.Name, errors.New("required relationship is not set")))
			}
		}
	}
	return velomigrate.NewAggregateError(errs...)
}

// apply installs pending records as the committed state, persisting it
// first if the store is file backed.
func (s *Store) apply(pending map[store.Ref]*record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(pending) == 0 {
		s.commits++
		return nil
	}
	objects := maps.Clone(s.objects)
	touched := make(map[string]bool)
	for ref, r := range pending {
		if !touched[ref.Entity] {
			objects[ref.Entity] = maps.Clone(objects[ref.Entity])
			if objects[ref.Entity] == nil {
				objects[ref.Entity] = make(map[store.ID]*record)
			}
			touched[ref.Entity] = true
		}
		objects[ref.Entity][ref.ID] = r
	}
	if s.path != "" {
		if err := save(s.path, s.mode, objects); err != nil {
			return err
		}
	}
	s.objects = objects
	for entity := range touched {
		s.order[entity] = sortedIDs(objects[entity])
	}
	s.commits++
	return nil
}

// Close implements store.Conn.
func (c *Conn) Close() error {
	if c.closed {
		return errors.New("memstore: connection already closed")
	}
	c.closed = true
	c.pending = nil
	return nil
}
