package velomigrate

import (
	"context"
	"fmt"

	"github.com/syssam/velomigrate/schema"
	"github.com/syssam/velomigrate/store"
)

// ensureCounterpart returns the destination counterpart of src, creating
// it, copying its attributes and recursively migrating every object reachable
// through a relationship that is not snipped.
//
// The counterpart is registered before any relationship is followed, so
// shared and cyclic references resolve to the object under construction
// instead of recursing again.
func (m *Migrator) ensureCounterpart(ctx context.Context, src store.Ref) (store.Ref, error) {
	if dst, ok := m.identity.lookup(src); ok {
		return dst, nil
	}
	ent, ok := m.model.Entity(src.Entity)
	if !ok {
		return store.Ref{}, fmt.Errorf("%w %q", ErrUnknownEntity, src.Entity)
	}
	dst, err := m.dst.Create(ctx, ent.Name)
	if err != nil {
		return store.Ref{}, fmt.Errorf("velomigrate: create counterpart of %s: %w", src, err)
	}
	m.identity.register(src, dst)

	values, err := m.src.Attributes(ctx, src)
	if err != nil {
		return store.Ref{}, fmt.Errorf("velomigrate: read %s: %w", src, err)
	}
	for _, a := range ent.Attributes {
		v, ok := values[a.Name]
		if !ok || v == nil {
			continue
		}
		if err := m.dst.SetAttribute(ctx, dst, a.Name, v); err != nil {
			return store.Ref{}, fmt.Errorf("velomigrate: copy %s.%s: %w", src, a.Name, err)
		}
	}

	for _, rel := range ent.Relationships {
		if m.snips.has(ent.Name, rel.Name) {
			continue
		}
		targets, err := m.src.Related(ctx, src, rel.Name)
		if err != nil {
			return store.Ref{}, fmt.Errorf("velomigrate: read %s.%s: %w", src, rel.Name, err)
		}
		linked := make([]store.Ref, 0, len(targets))
		for _, t := range targets {
			td, err := m.ensureCounterpart(ctx, t)
			if err != nil {
				return store.Ref{}, err
			}
			if err := m.dst.Link(ctx, dst, rel.Name, td); err != nil {
				return store.Ref{}, fmt.Errorf("velomigrate: link %s.%s: %w", dst, rel.Name, err)
			}
			linked = append(linked, td)
		}
		if err := m.restoreOrder(ctx, dst, rel, linked); err != nil {
			return store.Ref{}, err
		}
	}
	return dst, nil
}

// restoreOrder puts the targets of an ordered relationship back in source
// order. Targets migrated while following other relationships may have
// been appended earlier through the inverse side.
func (m *Migrator) restoreOrder(ctx context.Context, dst store.Ref, rel *schema.Relationship, targets []store.Ref) error {
	if !rel.Ordered || len(targets) < 2 {
		return nil
	}
	if err := m.dst.Reorder(ctx, dst, rel.Name, targets); err != nil {
		return fmt.Errorf("velomigrate: order %s.%s: %w", dst, rel.Name, err)
	}
	return nil
}
