package store

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"strconv"
	"time"

	"github.com/syssam/velomigrate/schema"
)

// ID is the opaque, stable identity of an object within one store and
// entity. IDs of one entity are totally ordered by their string value; that
// order is the fetch order of the store.
type ID string

// Ref references one object of a store.
type Ref struct {
	Entity string
	ID     ID
}

// String returns the Entity/ID form of the reference.
func (r Ref) String() string { return r.Entity + "/" + string(r.ID) }

// IsZero reports if r is the zero reference.
func (r Ref) IsZero() bool { return r == Ref{} }

// Conn is an open connection to a store. It is the only surface a migration
// uses: model introspection, ordered paged fetches, attribute and
// relationship reads, object creation, attribute and relationship writes
// and commits. Writes are buffered by the connection until Commit.
//
// A Conn is not safe for concurrent use.
type Conn interface {
	// Model returns the model the connection was opened with.
	Model() *schema.Model

	// Fetch returns up to limit references to committed objects of entity,
	// ordered by ID, skipping the first offset.
	Fetch(ctx context.Context, entity string, offset, limit int) ([]Ref, error)
	// Attributes returns the attribute values of an object keyed by
	// attribute name. Unset attributes may be missing or nil.
	Attributes(ctx context.Context, ref Ref) (map[string]any, error)
	// Related returns the objects a relationship of ref points at. For a
	// to-one relationship the result holds at most one reference. Ordered
	// to-many relationships are returned in link order.
	Related(ctx context.Context, ref Ref, relationship string) ([]Ref, error)

	// Create creates a new object of entity in the pending buffer.
	Create(ctx context.Context, entity string) (Ref, error)
	// SetAttribute sets an attribute of an object.
	SetAttribute(ctx context.Context, ref Ref, name string, value any) error
	// Link points a relationship of ref at target. A to-one relationship is
	// replaced, a to-many relationship gets target appended unless already
	// present. Linking a value that is already set is a no-op. If the
	// relationship has an inverse, the inverse side is updated as well.
	Link(ctx context.Context, ref Ref, relationship string, target Ref) error
	// Reorder moves targets, in the given order, to the front of a to-many
	// relationship of ref. Every target must already be linked; other
	// linked objects follow in their current order. The inverse side is
	// left unchanged.
	Reorder(ctx context.Context, ref Ref, relationship string, targets []Ref) error
	// Commit validates and persists the pending buffer atomically. On
	// failure the store is left unchanged and the pending buffer is
	// discarded.
	Commit(ctx context.Context) error
	// HasChanges reports if the pending buffer holds uncommitted writes.
	HasChanges() bool
	// Discard drops the pending buffer without writing it.
	Discard()

	// Close releases the connection. Pending writes are discarded.
	Close() error
}

// Option keys understood by the bundled drivers. Drivers ignore keys they
// do not know.
const (
	// ReadOnly rejects every write on the connection.
	ReadOnly = "read_only"
	// CreateSchema creates missing tables on open (sqlstore, default true
	// for writable connections).
	CreateSchema = "create_schema"
	// FileMode is the permission of files written by the store (msgpack
	// memstore), as an fs.FileMode or an octal string.
	FileMode = "file_mode"
	// SlowQueryThreshold enables query statistics and slow query logging
	// (sqlstore), as a time.Duration or a duration string.
	SlowQueryThreshold = "slow_query_threshold"
	// Debug logs every statement (sqlstore).
	Debug = "debug"
	// StrictSchema fails opening when existing columns have other types
	// than the model expects (sqlstore). Mismatches are logged otherwise.
	StrictSchema = "strict_schema"
	// Logger is the *slog.Logger a store driver logs to (sqlstore).
	Logger = "logger"
)

// Options are per-store configuration options, passed through to the store
// driver when a connection is opened.
type Options map[string]any

// Clone returns a shallow copy of o. Cloning a nil Options returns an empty
// non-nil map.
func (o Options) Clone() Options {
	c := make(Options, len(o))
	maps.Copy(c, o)
	return c
}

// Bool returns the boolean value of key, or def if it is unset.
func (o Options) Bool(key string, def bool) (bool, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return def, nil
	}
	switch v := v.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("store: option %q: %w", key, err)
		}
		return b, nil
	}
	return false, fmt.Errorf("store: option %q: unexpected type %T", key, v)
}

// Duration returns the duration value of key, or 0 if it is unset.
func (o Options) Duration(key string) (time.Duration, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return 0, nil
	}
	switch v := v.(type) {
	case time.Duration:
		return v, nil
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("store: option %q: %w", key, err)
		}
		return d, nil
	}
	return 0, fmt.Errorf("store: option %q: unexpected type %T", key, v)
}

// FileMode returns the file mode value of key, or def if it is unset.
func (o Options) FileMode(key string, def fs.FileMode) (fs.FileMode, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return def, nil
	}
	switch v := v.(type) {
	case fs.FileMode:
		return v, nil
	case int:
		return fs.FileMode(v), nil
	case string:
		m, err := strconv.ParseUint(v, 8, 32)
		if err != nil {
			return 0, fmt.Errorf("store: option %q: %w", key, err)
		}
		return fs.FileMode(m), nil
	}
	return 0, fmt.Errorf("store: option %q: unexpected type %T", key, v)
}

// Logger returns the logger stored under the Logger key, or slog.Default().
func (o Options) Logger() *slog.Logger {
	if l, ok := o[Logger].(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}
