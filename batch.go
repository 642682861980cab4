package velomigrate

import (
	"context"
	"fmt"
)

// MigrateEntity migrates every object of entity, and every object reachable
// from them through relationships that are not snipped. Source objects are
// fetched in ID order in windows of at most batchSize objects. If save is
// set, the destination is committed after every window, and once more at
// the end if earlier calls left uncommitted work; otherwise the work stays
// buffered until a later call commits it.
//
// A failed commit discards the failing window only: windows committed
// before it remain in the destination. So does a failed copy: objects
// created since the last commit are dropped from the destination buffer
// and the identity map, and a later call migrates them again.
func (m *Migrator) MigrateEntity(ctx context.Context, entity string, batchSize int, save bool) error {
	if m.state != StateActive {
		return &StateError{Op: "MigrateEntity", State: m.state}
	}
	if batchSize < 1 {
		return &ArgumentError{Op: "MigrateEntity", Err: fmt.Errorf("batch size %d is less than 1", batchSize)}
	}
	if _, ok := m.model.Entity(entity); !ok {
		return &ArgumentError{Op: "MigrateEntity", Err: fmt.Errorf("%w %q", ErrUnknownEntity, entity)}
	}
	log := m.log.With("entity", entity, "batch_size", batchSize)
	offset := 0
	for batch := 1; ; batch++ {
		refs, err := m.src.Fetch(ctx, entity, offset, batchSize)
		if err != nil {
			return &FetchError{Entity: entity, Offset: offset, Err: err}
		}
		if len(refs) == 0 {
			break
		}
		before := m.identity.len()
		for _, ref := range refs {
			if _, err := m.ensureCounterpart(ctx, ref); err != nil {
				m.discard(ctx, entity, batch, err)
				return err
			}
		}
		created := m.identity.len() - before
		log.DebugContext(ctx, "batch migrated", "batch", batch, "objects", len(refs), "created", created)
		m.emit(Event{Kind: EventBatch, Entity: entity, Batch: batch, Objects: len(refs), Created: created})
		if save {
			if err := m.commit(ctx, entity, batch); err != nil {
				return err
			}
		}
		if len(refs) < batchSize {
			break
		}
		offset += len(refs)
	}
	if save && m.dst.HasChanges() {
		return m.commit(ctx, entity, 0)
	}
	return nil
}

// discard drops the uncommitted destination objects and their identity
// entries after a copy failed partway.
func (m *Migrator) discard(ctx context.Context, entity string, batch int, cause error) {
	m.dst.Discard()
	dropped := m.identity.rollback()
	m.log.WarnContext(ctx, "copy failed", "entity", entity, "batch", batch, "discarded", dropped, "error", cause)
}
