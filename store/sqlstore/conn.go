package sqlstore

import (
	"context"
	stdsql "database/sql"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/syssam/velomigrate"
	"github.com/syssam/velomigrate/dialect"
	vsql "github.com/syssam/velomigrate/dialect/sql"
	sqlschema "github.com/syssam/velomigrate/dialect/sql/schema"
	"github.com/syssam/velomigrate/dialect/sql/sqlgraph"
	"github.com/syssam/velomigrate/schema"
	"github.com/syssam/velomigrate/schema/field"
	"github.com/syssam/velomigrate/store"
)

// maxLinkRows bounds the rows of one multi-row link insert.
const maxLinkRows = 256

// Conn is a connection to a SQL database holding the objects of a model in
// the tables of a sqlschema.Layout.
type Conn struct {
	drv      dialect.Driver
	dialect  string
	model    *schema.Model
	layout   *sqlschema.Layout
	stats    *vsql.StatsDriver
	log      *slog.Logger
	readOnly bool
	closed   bool
	pending  *buffer
}

var _ store.Conn = (*Conn)(nil)

// OpenDB returns a connection storing model in db. name is the dialect of
// db. Missing tables are created unless the connection is read-only or
// store.CreateSchema is false; existing tables are verified. The
// connection owns db and closes it on Close.
func OpenDB(ctx context.Context, name string, db *stdsql.DB, model *schema.Model, opts store.Options) (*Conn, error) {
	if model == nil {
		return nil, errors.New("sqlstore: nil model")
	}
	ro, err := opts.Bool(store.ReadOnly, false)
	if err != nil {
		return nil, err
	}
	create, err := opts.Bool(store.CreateSchema, !ro)
	if err != nil {
		return nil, err
	}
	strict, err := opts.Bool(store.StrictSchema, false)
	if err != nil {
		return nil, err
	}
	debug, err := opts.Bool(store.Debug, false)
	if err != nil {
		return nil, err
	}
	slow, err := opts.Duration(store.SlowQueryThreshold)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("sqlstore: ping: %w", err)
	}
	layout, err := sqlschema.NewLayout(model)
	if err != nil {
		return nil, err
	}
	base := vsql.OpenDB(name, db)
	c := &Conn{
		drv:      base,
		dialect:  base.Dialect(),
		model:    model,
		layout:   layout,
		log:      opts.Logger(),
		readOnly: ro,
		pending:  newBuffer(),
	}
	m, err := sqlschema.NewMigrate(base, sqlschema.WithStrictTypes(strict), sqlschema.WithLogger(c.log))
	if err != nil {
		return nil, err
	}
	if create && !ro {
		err = m.Create(ctx, layout)
	} else {
		err = m.Verify(ctx, layout)
	}
	if err != nil {
		return nil, err
	}
	if slow > 0 {
		c.stats = vsql.NewStatsDriver(c.drv, vsql.WithSlowThreshold(slow), vsql.WithSlowQueryLogger(c.log))
		c.drv = c.stats
	}
	if debug {
		c.drv = vsql.NewDebugDriver(c.drv, c.log)
	}
	return c, nil
}

// Model implements store.Conn.
func (c *Conn) Model() *schema.Model { return c.model }

// Layout returns the tables the connection stores objects in.
func (c *Conn) Layout() *sqlschema.Layout { return c.layout }

// Stats returns the statement statistics of the connection. It reports
// false unless store.SlowQueryThreshold was set.
func (c *Conn) Stats() (vsql.StatsSnapshot, bool) {
	if c.stats == nil {
		return vsql.StatsSnapshot{}, false
	}
	return c.stats.Stats(), true
}

func (c *Conn) check(ctx context.Context, write bool) error {
	switch {
	case c.closed:
		return errors.New("sqlstore: connection is closed")
	case write && c.readOnly:
		return velomigrate.ErrReadOnly
	}
	return ctx.Err()
}

func (c *Conn) entity(name string) (*schema.Entity, error) {
	e, ok := c.model.Entity(name)
	if !ok {
		return nil, fmt.Errorf("sqlstore: %w %q", velomigrate.ErrUnknownEntity, name)
	}
	return e, nil
}

func (c *Conn) relationship(entity, name string) (*schema.Relationship, error) {
	e, err := c.entity(entity)
	if err != nil {
		return nil, err
	}
	rel, ok := e.Relationship(name)
	if !ok {
		return nil, fmt.Errorf("sqlstore: %w %q on %q", velomigrate.ErrUnknownRelationship, name, entity)
	}
	return rel, nil
}

func (c *Conn) quote(ident string) string { return vsql.Quote(c.dialect, ident) }

// orderByID returns the ORDER BY expression sorting IDs by byte value.
func (c *Conn) orderByID() string {
	id := c.quote(sqlschema.IDColumn)
	switch c.dialect {
	case dialect.Postgres:
		return id + ` COLLATE "C"`
	case dialect.MySQL:
		return "CAST(" + id + " AS BINARY)"
	}
	return id
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
		return nil, fmt.Errorf("sqlstore: invalid window offset=%d limit=%d", offset, limit)
	}
	if limit == 0 {
		return nil, nil
	}
	t := c.layout.EntityTable(entity)
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s LIMIT ? OFFSET ?",
		c.quote(sqlschema.IDColumn), c.quote(t.Name), c.orderByID())
	ids, err := c.queryIDs(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	refs := make([]store.Ref, len(ids))
	for i, id := range ids {
		refs[i] = store.Ref{Entity: entity, ID: id}
	}
	return refs, nil
}

// queryIDs runs a query returning a single string column.
func (c *Conn) queryIDs(ctx context.Context, query string, args ...any) ([]store.ID, error) {
	vs, err := vsql.ScanStrings(ctx, c.drv, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: %w", err)
	}
	ids := make([]store.ID, len(vs))
	for i, v := range vs {
		ids[i] = store.ID(v)
	}
	return ids, nil
}

// exists reports an error unless ref is pending creation or stored.
func (c *Conn) exists(ctx context.Context, ref store.Ref) error {
	if o, ok := c.pending.objects[ref]; ok && o.created {
		return nil
	}
	t := c.layout.EntityTable(ref.Entity)
	ids, err := c.queryIDs(ctx, fmt.Sprintf("SELECT %[1]s FROM %[2]s WHERE %[1]s = ?",
		c.quote(sqlschema.IDColumn), c.quote(t.Name)), string(ref.ID))
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return fmt.Errorf("sqlstore: %s: %w", ref, velomigrate.ErrNotFound)
	}
	return nil
}

// Attributes implements store.Conn.
func (c *Conn) Attributes(ctx context.Context, ref store.Ref) (map[string]any, error) {
	if err := c.check(ctx, false); err != nil {
		return nil, err
	}
	e, err := c.entity(ref.Entity)
	if err != nil {
		return nil, err
	}
	o := c.pending.objects[ref]
	if o != nil && o.created {
		return maps.Clone(o.attrs), nil
	}
	attrs, err := c.selectAttributes(ctx, e, ref)
	if err != nil {
		return nil, err
	}
	if o != nil {
		maps.Copy(attrs, o.attrs)
	}
	return attrs, nil
}

func (c *Conn) selectAttributes(ctx context.Context, e *schema.Entity, ref store.Ref) (map[string]any, error) {
	t := c.layout.EntityTable(e.Name)
	cols := make([]string, 0, len(e.Attributes)+1)
	cols = append(cols, c.quote(sqlschema.IDColumn))
	for _, a := range e.Attributes {
		cols = append(cols, c.quote(sqlschema.ColumnName(a.Name)))
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?",
		strings.Join(cols, ", "), c.quote(t.Name), c.quote(sqlschema.IDColumn))
	rows := &vsql.Rows{}
	if err := c.drv.Query(ctx, query, []any{string(ref.ID)}, rows); err != nil {
		return nil, fmt.Errorf("sqlstore: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("sqlstore: %w", err)
		}
		return nil, fmt.Errorf("sqlstore: %s: %w", ref, velomigrate.ErrNotFound)
	}
	var (
		id     string
		values = make([]any, len(e.Attributes))
		dest   = make([]any, 0, len(cols))
	)
	dest = append(dest, &id)
	for i := range values {
		dest = append(dest, &values[i])
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, fmt.Errorf("sqlstore: scan %s: %w", ref, err)
	}
	attrs := make(map[string]any, len(e.Attributes))
	for i, a := range e.Attributes {
		v, err := decode(a.Type, values[i])
		if err != nil {
			return nil, fmt.Errorf("sqlstore: %s attribute %q: %w", ref, a.Name, err)
		}
		if v != nil {
			attrs[a.Name] = v
		}
	}
	return attrs, nil
}

// timeLayouts are the textual time formats drivers may return.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
}

// decode converts a scanned column value into the canonical Go type of an
// attribute.
func decode(t field.Type, v any) (any, error) {
	if t == field.TypeTime {
		var s string
		switch x := v.(type) {
		case string:
			s = x
		case []byte:
			s = string(x)
		}
		if s != "" {
			for _, layout := range timeLayouts {
				if tm, err := time.Parse(layout, s); err == nil {
					return tm, nil
				}
			}
		}
	}
	if b, ok := v.([]byte); ok && t == field.TypeBytes {
		// Scanned bytes are only valid until the next Scan.
		return slices.Clone(b), nil
	}
	return t.Coerce(v)
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
	ids, err := c.list(ctx, ref, rel)
	if err != nil {
		return nil, err
	}
	refs := make([]store.Ref, len(ids))
	for i, id := range ids {
		refs[i] = store.Ref{Entity: rel.Target, ID: id}
	}
	return refs, nil
}

// list returns a copy of the current value of a relationship, pending
// writes included.
func (c *Conn) list(ctx context.Context, ref store.Ref, rel *schema.Relationship) ([]store.ID, error) {
	if o, ok := c.pending.objects[ref]; ok {
		if ids, ok := o.rels[rel.Name]; ok || o.created {
			return slices.Clone(ids), nil
		}
	}
	if err := c.exists(ctx, ref); err != nil {
		return nil, err
	}
	t := c.layout.LinkTable(rel)
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ? ORDER BY %s",
		c.quote(sqlschema.TargetColumn), c.quote(t.Name), c.quote(sqlschema.OwnerColumn), c.quote(sqlschema.PositionColumn))
	return c.queryIDs(ctx, query, string(ref.ID))
}

// Create implements store.Conn. IDs are version 7 UUIDs, so the ID order
// of objects created by velomigrate is their creation order.
func (c *Conn) Create(ctx context.Context, entity string) (store.Ref, error) {
	if err := c.check(ctx, true); err != nil {
		return store.Ref{}, err
	}
	if _, err := c.entity(entity); err != nil {
		return store.Ref{}, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return store.Ref{}, fmt.Errorf("sqlstore: generate id: %w", err)
	}
	ref := store.Ref{Entity: entity, ID: store.ID(id.String())}
	c.pending.object(ref).created = true
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
		return fmt.Errorf("sqlstore: unknown attribute %q on %q", name, ref.Entity)
	}
	v, err := a.Type.Coerce(value)
	if err != nil {
		return velomigrate.NewValidationError(ref.Entity, ref.ID, name, err)
	}
	if _, ok := c.pending.objects[ref]; !ok {
		if err := c.exists(ctx, ref); err != nil {
			return err
		}
	}
	c.pending.object(ref).attrs[name] = v
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
		return fmt.Errorf("sqlstore: relationship %s targets %q, got %s", rel, rel.Target, target)
	}
	if err := c.exists(ctx, target); err != nil {
		return err
	}
	return c.link(ctx, ref, rel, target)
}

// Reorder implements store.Conn. The new order is written to the
// position column on Commit.
func (c *Conn) Reorder(ctx context.Context, ref store.Ref, relationship string, targets []store.Ref) error {
	if err := c.check(ctx, true); err != nil {
		return err
	}
	rel, err := c.relationship(ref.Entity, relationship)
	if err != nil {
		return err
	}
	front := make([]store.ID, len(targets))
	for i, t := range targets {
		if t.Entity != rel.Target {
			return fmt.Errorf("sqlstore: relationship %s targets %q, got %s", rel, rel.Target, t)
		}
		front[i] = t.ID
	}
	current, err := c.list(ctx, ref, rel)
	if err != nil {
		return err
	}
	ids, missing, ok := store.Reordered(current, front)
	if !ok {
		return fmt.Errorf("sqlstore: reorder %s.%s: %s/%s is not linked: %w", ref, rel.Name, rel.Target, missing, velomigrate.ErrNotFound)
	}
	if !slices.Equal(ids, current) {
		c.pending.object(ref).rels[rel.Name] = ids
	}
	return nil
}

// link sets one side of a relationship and then its inverse side.
func (c *Conn) link(ctx context.Context, ref store.Ref, rel *schema.Relationship, target store.Ref) error {
	ids, err := c.list(ctx, ref, rel)
	if err != nil {
		return err
	}
	if slices.Contains(ids, target.ID) {
		return nil
	}
	inv := c.model.InverseOf(rel)
	if rel.ToOne() && len(ids) > 0 {
		if inv != nil {
			if err := c.unlink(ctx, store.Ref{Entity: rel.Target, ID: ids[0]}, inv, ref.ID); err != nil {
				return err
			}
		}
		ids = nil
	}
	c.pending.object(ref).rels[rel.Name] = append(ids, target.ID)
	if inv != nil {
		return c.link(ctx, target, inv, ref)
	}
	return nil
}

// unlink removes id from a relationship of ref.
func (c *Conn) unlink(ctx context.Context, ref store.Ref, rel *schema.Relationship, id store.ID) error {
	ids, err := c.list(ctx, ref, rel)
	if err != nil {
		return err
	}
	c.pending.object(ref).rels[rel.Name] = slices.DeleteFunc(ids, func(x store.ID) bool { return x == id })
	return nil
}

// HasChanges implements store.Conn.
func (c *Conn) HasChanges() bool { return c.pending != nil && len(c.pending.objects) > 0 }

// Discard implements store.Conn.
func (c *Conn) Discard() {
	if !c.closed {
		c.pending = newBuffer()
	}
}

// Commit implements store.Conn. The pending buffer is validated against
// the model and written in one transaction. Constraint violations reported
// by the database are returned as velomigrate.ConstraintError.
func (c *Conn) Commit(ctx context.Context) error {
	if err := c.check(ctx, c.HasChanges()); err != nil {
		return err
	}
	// The pending buffer is discarded whatever the outcome.
	pending := c.pending
	c.pending = newBuffer()
	if len(pending.objects) == 0 {
		return nil
	}
	if err := c.validate(pending); err != nil {
		return err
	}
	err := vsql.WithTx(ctx, c.drv, func(tx dialect.Tx) error {
		return c.write(ctx, tx, pending)
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

func classify(err error) error {
	if k := sqlgraph.ConstraintOf(err); k != sqlgraph.NoConstraint {
		return velomigrate.NewConstraintError(k.String()+": "+err.Error(), err)
	}
	var txErr *vsql.TxError
	if errors.As(err, &txErr) && txErr.Op != "rollback" {
		return fmt.Errorf("sqlstore: %w", err)
	}
	return fmt.Errorf("sqlstore: commit: %w", err)
}

func (c *Conn) validate(pending *buffer) error {
	var errs []error
	for _, ref := range pending.sorted() {
		e, err := c.entity(ref.Entity)
		if err != nil {
			return err
		}
		o := pending.objects[ref]
		for _, a := range e.Attributes {
			if a.Optional {
				continue
			}
			v, set := o.attrs[a.Name]
			if (o.created || set) && v == nil {
				errs = append(errs, velomigrate.NewValidationError(ref.Entity, ref.ID, a.Name, errors.New("required attribute is not set")))
			}
		}
		for _, rel := range e.Relationships {
			if rel.Optional {
				continue
			}
			ids, set := o.rels[rel.Name]
			if (o.created || set) && len(ids) == 0 {
				errs = append(errs, velomigrate.NewValidationError(ref.Entity, ref.ID, rel.Name, errors.New("required relationship is not set")))
			}
		}
	}
	return velomigrate.NewAggregateError(errs...)
}

// write flushes pending into tx: object rows first, then attribute updates,
// then the rewritten relationship lists.
func (c *Conn) write(ctx context.Context, tx dialect.ExecQuerier, pending *buffer) error {
	for _, ref := range pending.order {
		if o := pending.objects[ref]; o.created {
			if err := c.insert(ctx, tx, ref, o); err != nil {
				return err
			}
		}
	}
	for _, ref := range pending.order {
		if o := pending.objects[ref]; !o.created && len(o.attrs) > 0 {
			if err := c.update(ctx, tx, ref, o); err != nil {
				return err
			}
		}
	}
	for _, ref := range pending.order {
		o := pending.objects[ref]
		for _, name := range slices.Sorted(maps.Keys(o.rels)) {
			rel, err := c.relationship(ref.Entity, name)
			if err != nil {
				return err
			}
			if err := c.writeLinks(ctx, tx, ref, rel, o.rels[name], !o.created); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Conn) insert(ctx context.Context, tx dialect.ExecQuerier, ref store.Ref, o *object) error {
	e, err := c.entity(ref.Entity)
	if err != nil {
		return err
	}
	cols := []string{c.quote(sqlschema.IDColumn)}
	args := []any{string(ref.ID)}
	for _, a := range e.Attributes {
		cols = append(cols, c.quote(sqlschema.ColumnName(a.Name)))
		args = append(args, o.attrs[a.Name])
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		c.quote(c.layout.EntityTable(e.Name).Name), strings.Join(cols, ", "), vsql.Placeholders(len(cols)))
	if err := tx.Exec(ctx, query, args, nil); err != nil {
		return fmt.Errorf("insert %s: %w", ref, err)
	}
	return nil
}

func (c *Conn) update(ctx context.Context, tx dialect.ExecQuerier, ref store.Ref, o *object) error {
	var (
		sets []string
		args []any
	)
	for _, name := range slices.Sorted(maps.Keys(o.attrs)) {
		sets = append(sets, c.quote(sqlschema.ColumnName(name))+" = ?")
		args = append(args, o.attrs[name])
	}
	args = append(args, string(ref.ID))
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?",
		c.quote(c.layout.EntityTable(ref.Entity).Name), strings.Join(sets, ", "), c.quote(sqlschema.IDColumn))
	if err := tx.Exec(ctx, query, args, nil); err != nil {
		return fmt.Errorf("update %s: %w", ref, err)
	}
	return nil
}

// writeLinks replaces the stored value of a relationship of ref by ids.
func (c *Conn) writeLinks(ctx context.Context, tx dialect.ExecQuerier, ref store.Ref, rel *schema.Relationship, ids []store.ID, replace bool) error {
	t := c.quote(c.layout.LinkTable(rel).Name)
	if replace {
		query := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", t, c.quote(sqlschema.OwnerColumn))
		if err := tx.Exec(ctx, query, []any{string(ref.ID)}, nil); err != nil {
			return fmt.Errorf("unlink %s.%s: %w", ref, rel.Name, err)
		}
	}
	cols := strings.Join([]string{
		c.quote(sqlschema.OwnerColumn), c.quote(sqlschema.TargetColumn), c.quote(sqlschema.PositionColumn),
	}, ", ")
	for start := 0; start < len(ids); start += maxLinkRows {
		chunk := ids[start:min(start+maxLinkRows, len(ids))]
		values := make([]string, len(chunk))
		args := make([]any, 0, 3*len(chunk))
		for i, id := range chunk {
			values[i] = "(" + vsql.Placeholders(3) + ")"
			args = append(args, string(ref.ID), string(id), start+i)
		}
		query := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", t, cols, strings.Join(values, ", "))
		if err := tx.Exec(ctx, query, args, nil); err != nil {
			return fmt.Errorf("link %s.%s: %w", ref, rel.Name, err)
		}
	}
	return nil
}

// Close implements store.Conn. It closes the underlying database.
func (c *Conn) Close() error {
	if c.closed {
		return errors.New("sqlstore: connection already closed")
	}
	c.closed = true
	c.pending = nil
	if s, ok := c.Stats(); ok {
		c.log.Info("sql statistics", "dialect", c.dialect, "stats", s)
	}
	return c.drv.Close()
}
