package velomigrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/syssam/velomigrate/schema"
	"github.com/syssam/velomigrate/store"
)

// State is the lifecycle state of a Migrator.
type State uint8

// Migrator states.
const (
	StateNotStarted State = iota
	StateActive
	StateEnded
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateActive:
		return "active"
	case StateEnded:
		return "ended"
	}
	return "unknown"
}

// Migrator copies the objects of a source store into a destination store
// that shares its model. A Migrator is a single-use session:
//
//	Begin → { Snip | MigrateEntity | Stitch }* → End
//
// A Migrator is not safe for concurrent use.
type Migrator struct {
	model   *schema.Model
	srcLoc  string
	dstLoc  string
	srcOpts store.Options
	dstOpts store.Options
	log     *slog.Logger
	hook    func(Event)

	state    State
	src      store.Conn
	dst      store.Conn
	identity *identityMap
	snips    snipSet
}

// New returns a Migrator from the store at sourceURL to the store at
// destinationURL. It fails if the model is empty or a location cannot be
// served by any registered store driver. No connection is opened before
// Begin, so whether the model describes the stored data is checked by the
// store drivers in Begin, which then returns an *OpenError.
func New(model *schema.Model, sourceURL, destinationURL string, opts ...Option) (*Migrator, error) {
	if model == nil || len(model.Entities()) == 0 {
		return nil, &ArgumentError{Op: "New", Err: errors.New("model has no entities")}
	}
	for _, loc := range []string{sourceURL, destinationURL} {
		if _, _, err := store.ParseLocation(loc); err != nil {
			return nil, &ArgumentError{Op: "New", Err: err}
		}
	}
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.log == nil {
		cfg.log = slog.Default()
	}
	return &Migrator{
		model:   model,
		srcLoc:  sourceURL,
		dstLoc:  destinationURL,
		srcOpts: cfg.srcOpts.Clone(),
		dstOpts: cfg.dstOpts.Clone(),
		log:     cfg.log.With("source", sourceURL, "destination", destinationURL),
		hook:    cfg.hook,
	}, nil
}

// Model returns the model shared by both stores.
func (m *Migrator) Model() *schema.Model { return m.model }

// State returns the current lifecycle state.
func (m *Migrator) State() State { return m.state }

// SourceOptions returns a copy of the source store options.
func (m *Migrator) SourceOptions() store.Options { return m.srcOpts.Clone() }

// DestinationOptions returns a copy of the destination store options.
func (m *Migrator) DestinationOptions() store.Options { return m.dstOpts.Clone() }

// SetSourceOptions replaces the source store options. Options are frozen
// once Begin was called.
func (m *Migrator) SetSourceOptions(opts store.Options) error {
	if m.state != StateNotStarted {
		return fmt.Errorf("%w: %w", ErrOptionsFrozen, &StateError{Op: "SetSourceOptions", State: m.state})
	}
	m.srcOpts = opts.Clone()
	return nil
}

// SetDestinationOptions replaces the destination store options. Options
// are frozen once Begin was called.
func (m *Migrator) SetDestinationOptions(opts store.Options) error {
	if m.state != StateNotStarted {
		return fmt.Errorf("%w: %w", ErrOptionsFrozen, &StateError{Op: "SetDestinationOptions", State: m.state})
	}
	m.dstOpts = opts.Clone()
	return nil
}

// Begin opens the source store read-only and the destination store
// read-write, and starts the session with an empty identity map and no
// snipped relationships. If either store cannot be opened the Migrator
// stays in StateNotStarted.
func (m *Migrator) Begin(ctx context.Context) error {
	if m.state != StateNotStarted {
		return &StateError{Op: "Begin", State: m.state}
	}
	srcOpts := m.srcOpts.Clone()
	srcOpts[store.ReadOnly] = true
	src, err := store.Open(ctx, m.srcLoc, m.model, srcOpts)
	if err != nil {
		return &OpenError{Role: "source", Location: m.srcLoc, Err: err}
	}
	dstOpts := m.dstOpts.Clone()
	dstOpts[store.ReadOnly] = false
	dst, err := store.Open(ctx, m.dstLoc, m.model, dstOpts)
	if err != nil {
		return &OpenError{Role: "destination", Location: m.dstLoc, Err: errors.Join(err, src.Close())}
	}
	m.src, m.dst = src, dst
	m.identity = newIdentityMap()
	m.snips = make(snipSet)
	m.state = StateActive
	m.log.InfoContext(ctx, "migration started")
	m.emit(Event{Kind: EventBegin})
	return nil
}

// End commits whatever the destination has buffered and closes both stores.
// The stores are closed even if the final commit fails; the commit error is
// returned. The identity map and snip set are discarded.
func (m *Migrator) End(ctx context.Context) error {
	if m.state != StateActive {
		return &StateError{Op: "End", State: m.state}
	}
	var errs []error
	if m.dst.HasChanges() {
		errs = append(errs, m.commit(ctx, "", 0))
	}
	if err := m.src.Close(); err != nil {
		errs = append(errs, fmt.Errorf("velomigrate: close source store: %w", err))
	}
	if err := m.dst.Close(); err != nil {
		errs = append(errs, fmt.Errorf("velomigrate: close destination store: %w", err))
	}
	migrated := m.identity.len()
	m.src, m.dst = nil, nil
	m.identity, m.snips = nil, nil
	m.state = StateEnded
	err := NewAggregateError(errs...)
	m.log.InfoContext(ctx, "migration ended", "objects", migrated, "error", err)
	m.emit(Event{Kind: EventEnd, Objects: migrated, Err: err})
	return err
}

// Snip excludes a relationship of an entity from traversal. Snipping an
// already snipped relationship is a no-op. Snipping has no effect on links
// created before the call.
//
// The destination must be valid when it is committed, so usually only
// optional relationships, or relationships that are set through their
// inverse or stitched before the next commit, should be snipped.
func (m *Migrator) Snip(relationship, entity string) error {
	if m.state != StateActive {
		return &StateError{Op: "Snip", State: m.state}
	}
	if _, err := m.relationship("Snip", entity, relationship); err != nil {
		return err
	}
	if m.snips.add(entity, relationship) {
		m.log.Debug("relationship snipped", "entity", entity, "relationship", relationship)
	}
	return nil
}

// Snipped reports whether a relationship of an entity is snipped. Like
// State it is an inspection accessor and never fails: outside StateActive
// there is no snip set and it reports false.
func (m *Migrator) Snipped(relationship, entity string) bool {
	return m.state == StateActive && m.snips.has(entity, relationship)
}

// Counterpart returns the destination object created for a source object
// in this session. It is an inspection accessor: outside StateActive there
// is no identity map and it reports false.
func (m *Migrator) Counterpart(src store.Ref) (store.Ref, bool) {
	if m.state != StateActive {
		return store.Ref{}, false
	}
	return m.identity.lookup(src)
}

// Stitch sets a relationship of every already migrated object of entity to
// the counterparts of its source values. It is used for snipped
// relationships that have no inverse and so were not set while the other
// side was migrated. Targets without a counterpart are collected in a
// *StitchError after all objects were processed; every resolvable target is
// still linked. Stitching twice is a no-op the second time. If save is set,
// the destination is committed afterwards.
func (m *Migrator) Stitch(ctx context.Context, relationship, entity string, save bool) error {
	if m.state != StateActive {
		return &StateError{Op: "Stitch", State: m.state}
	}
	rel, err := m.relationship("Stitch", entity, relationship)
	if err != nil {
		return err
	}
	var (
		linked     int
		unresolved []UnresolvedLink
	)
	for _, id := range m.identity.sources(entity) {
		src := store.Ref{Entity: entity, ID: id}
		dst, _ := m.identity.lookup(src)
		targets, err := m.src.Related(ctx, src, rel.Name)
		if err != nil {
			return fmt.Errorf("velomigrate: stitch %s: read %s: %w", rel, src, err)
		}
		resolved := make([]store.Ref, 0, len(targets))
		for _, t := range targets {
			td, ok := m.identity.lookup(t)
			if !ok {
				unresolved = append(unresolved, UnresolvedLink{Source: src, Target: t})
				continue
			}
			if err := m.dst.Link(ctx, dst, rel.Name, td); err != nil {
				return fmt.Errorf("velomigrate: stitch %s: link %s: %w", rel, dst, err)
			}
			resolved = append(resolved, td)
			linked++
		}
		if err := m.restoreOrder(ctx, dst, rel, resolved); err != nil {
			return fmt.Errorf("velomigrate: stitch %s: %w", rel, err)
		}
	}
	var errs []error
	if len(unresolved) > 0 {
		errs = append(errs, &StitchError{Entity: entity, Relationship: relationship, Unresolved: unresolved})
	}
	if save {
		errs = append(errs, m.commit(ctx, entity, 0))
	}
	err = NewAggregateError(errs...)
	m.log.InfoContext(ctx, "relationship stitched", "entity", entity, "relationship", relationship,
		"links", linked, "unresolved", len(unresolved))
	m.emit(Event{Kind: EventStitch, Entity: entity, Relationship: relationship, Objects: linked, Err: err})
	return err
}

// relationship resolves and validates an entity relationship name.
func (m *Migrator) relationship(op, entity, name string) (*schema.Relationship, error) {
	e, ok := m.model.Entity(entity)
	if !ok {
		return nil, &ArgumentError{Op: op, Err: fmt.Errorf("%w %q", ErrUnknownEntity, entity)}
	}
	r, ok := e.Relationship(name)
	if !ok {
		return nil, &ArgumentError{Op: op, Err: fmt.Errorf("%w %q on %q", ErrUnknownRelationship, name, entity)}
	}
	return r, nil
}

// commit commits the destination. On failure the identity entries of the
// discarded objects are dropped as well.
func (m *Migrator) commit(ctx context.Context, entity string, batch int) error {
	pending := m.identity.pending()
	if err := m.dst.Commit(ctx); err != nil {
		dropped := m.identity.rollback()
		cerr := &CommitError{Entity: entity, Batch: batch, Err: err}
		m.log.WarnContext(ctx, "commit failed", "entity", entity, "batch", batch, "discarded", dropped, "error", err)
		m.emit(Event{Kind: EventCommit, Entity: entity, Batch: batch, Created: pending, Err: cerr})
		return cerr
	}
	m.identity.commit()
	m.log.DebugContext(ctx, "committed", "entity", entity, "batch", batch, "objects", pending)
	m.emit(Event{Kind: EventCommit, Entity: entity, Batch: batch, Created: pending})
	return nil
}

func (m *Migrator) emit(e Event) {
	if m.hook != nil {
		m.hook(e)
	}
}
