package sql

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/syssam/velomigrate/dialect"
)

// Stats holds statement and transaction counters of a StatsDriver.
type Stats struct {
	queries   atomic.Int64
	execs     atomic.Int64
	rows      atomic.Int64
	commits   atomic.Int64
	rollbacks atomic.Int64
	slow      atomic.Int64
	errors    atomic.Int64
	duration  atomic.Int64 // nanoseconds
}

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Queries:      s.queries.Load(),
		Execs:        s.execs.Load(),
		RowsAffected: s.rows.Load(),
		Commits:      s.commits.Load(),
		Rollbacks:    s.rollbacks.Load(),
		Slow:         s.slow.Load(),
		Errors:       s.errors.Load(),
		Duration:     time.Duration(s.duration.Load()),
	}
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Queries      int64
	Execs        int64
	RowsAffected int64 // as reported by the driver for exec statements
	Commits      int64
	Rollbacks    int64
	Slow         int64 // statements slower than the threshold
	Errors       int64
	Duration     time.Duration
}

// Avg returns the average statement duration.
func (s StatsSnapshot) Avg() time.Duration {
	n := s.Queries + s.Execs
	if n == 0 {
		return 0
	}
	return s.Duration / time.Duration(n)
}

func (s StatsSnapshot) String() string {
	return fmt.Sprintf("queries=%d execs=%d rows=%d commits=%d rollbacks=%d slow=%d errors=%d duration=%s avg=%s",
		s.Queries, s.Execs, s.RowsAffected, s.Commits, s.Rollbacks, s.Slow, s.Errors, s.Duration, s.Avg())
}

// LogValue implements slog.LogValuer.
func (s StatsSnapshot) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("queries", s.Queries),
		slog.Int64("execs", s.Execs),
		slog.Int64("rows", s.RowsAffected),
		slog.Int64("commits", s.Commits),
		slog.Int64("rollbacks", s.Rollbacks),
		slog.Int64("slow", s.Slow),
		slog.Int64("errors", s.Errors),
		slog.Duration("duration", s.Duration),
	)
}

// SlowQueryHook is called for every statement slower than the threshold.
type SlowQueryHook func(ctx context.Context, query string, args []any, d time.Duration)

// StatsDriver is a dialect.Driver that counts statements, affected rows
// and transaction outcomes of the driver it wraps.
type StatsDriver struct {
	dialect.Driver
	stats     Stats
	threshold time.Duration
	hook      SlowQueryHook
}

// StatsOption configures a StatsDriver.
type StatsOption func(*StatsDriver)

// WithSlowThreshold sets the duration above which a statement is slow.
// Default is 100ms.
func WithSlowThreshold(d time.Duration) StatsOption {
	return func(s *StatsDriver) {
		s.threshold = d
	}
}

// WithSlowQueryHook sets the hook called for slow statements.
func WithSlowQueryHook(hook SlowQueryHook) StatsOption {
	return func(s *StatsDriver) {
		s.hook = hook
	}
}

// WithSlowQueryLogger logs slow statements as warnings.
func WithSlowQueryLogger(logger *slog.Logger) StatsOption {
	return WithSlowQueryHook(func(ctx context.Context, query string, args []any, d time.Duration) {
		logger.WarnContext(ctx, "slow statement", "duration", d, "sql", query, "args", len(args))
	})
}

// NewStatsDriver wraps drv.
//
//	drv := sql.NewStatsDriver(base,
//	    sql.WithSlowThreshold(200*time.Millisecond),
//	    sql.WithSlowQueryLogger(logger),
//	)
//	defer func() { logger.Info("sql statistics", "stats", drv.Stats()) }()
func NewStatsDriver(drv dialect.Driver, opts ...StatsOption) *StatsDriver {
	s := &StatsDriver{Driver: drv, threshold: 100 * time.Millisecond}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stats returns a snapshot of the counters.
func (d *StatsDriver) Stats() StatsSnapshot { return d.stats.Snapshot() }

// SlowThreshold returns the slow statement threshold.
func (d *StatsDriver) SlowThreshold() time.Duration { return d.threshold }

// Query implements dialect.ExecQuerier.
func (d *StatsDriver) Query(ctx context.Context, query string, args, v any) error {
	return d.query(ctx, d.Driver, query, args, v)
}

// Exec implements dialect.ExecQuerier.
func (d *StatsDriver) Exec(ctx context.Context, query string, args, v any) error {
	return d.exec(ctx, d.Driver, query, args, v)
}

func (d *StatsDriver) query(ctx context.Context, eq dialect.ExecQuerier, query string, args, v any) error {
	start := time.Now()
	err := eq.Query(ctx, query, args, v)
	d.stats.queries.Add(1)
	d.observe(ctx, query, args, start, err)
	return err
}

// exec runs the statement with a result, if the caller passed none, to
// count the affected rows.
func (d *StatsDriver) exec(ctx context.Context, eq dialect.ExecQuerier, query string, args, v any) error {
	var res Result
	if v == nil {
		v = &res
	}
	start := time.Now()
	err := eq.Exec(ctx, query, args, v)
	d.stats.execs.Add(1)
	d.observe(ctx, query, args, start, err)
	if r, ok := v.(*Result); ok && err == nil && *r != nil {
		if n, err := (*r).RowsAffected(); err == nil {
			d.stats.rows.Add(n)
		}
	}
	return err
}

func (d *StatsDriver) observe(ctx context.Context, query string, args any, start time.Time, err error) {
	elapsed := time.Since(start)
	d.stats.duration.Add(int64(elapsed))
	if err != nil {
		d.stats.errors.Add(1)
	}
	if elapsed > d.threshold {
		d.stats.slow.Add(1)
		if d.hook != nil {
			argv, _ := args.([]any)
			d.hook(ctx, query, argv, elapsed)
		}
	}
}

// Tx implements dialect.Driver. Statements of the transaction are counted,
// and so is its outcome.
func (d *StatsDriver) Tx(ctx context.Context) (dialect.Tx, error) {
	tx, err := d.Driver.Tx(ctx)
	if err != nil {
		d.stats.errors.Add(1)
		return nil, err
	}
	return &statsTx{Tx: tx, drv: d}, nil
}

type statsTx struct {
	dialect.Tx
	drv *StatsDriver
}

func (tx *statsTx) Query(ctx context.Context, query string, args, v any) error {
	return tx.drv.query(ctx, tx.Tx, query, args, v)
}

func (tx *statsTx) Exec(ctx context.Context, query string, args, v any) error {
	return tx.drv.exec(ctx, tx.Tx, query, args, v)
}

func (tx *statsTx) Commit() error {
	if err := tx.Tx.Commit(); err != nil {
		tx.drv.stats.errors.Add(1)
		return err
	}
	tx.drv.stats.commits.Add(1)
	return nil
}

func (tx *statsTx) Rollback() error {
	tx.drv.stats.rollbacks.Add(1)
	return tx.Tx.Rollback()
}

// DebugDriver is a dialect.Driver that logs every statement and
// transaction boundary of the driver it wraps at debug level.
type DebugDriver struct {
	dialect.Driver
	log *slog.Logger
}

// NewDebugDriver wraps drv. A nil logger logs to slog.Default().
func NewDebugDriver(drv dialect.Driver, logger *slog.Logger) *DebugDriver {
	if logger == nil {
		logger = slog.Default()
	}
	return &DebugDriver{Driver: drv, log: logger}
}

// Query implements dialect.ExecQuerier.
func (d *DebugDriver) Query(ctx context.Context, query string, args, v any) error {
	d.log.DebugContext(ctx, "query", "sql", query, "args", args)
	return d.Driver.Query(ctx, query, args, v)
}

// Exec implements dialect.ExecQuerier.
func (d *DebugDriver) Exec(ctx context.Context, query string, args, v any) error {
	d.log.DebugContext(ctx, "exec", "sql", query, "args", args)
	return d.Driver.Exec(ctx, query, args, v)
}

// Tx implements dialect.Driver.
func (d *DebugDriver) Tx(ctx context.Context) (dialect.Tx, error) {
	d.log.DebugContext(ctx, "begin transaction")
	tx, err := d.Driver.Tx(ctx)
	if err != nil {
		return nil, err
	}
	return &debugTx{Tx: tx, log: d.log, ctx: ctx}, nil
}

type debugTx struct {
	dialect.Tx
	log *slog.Logger
	ctx context.Context // transaction context, for Commit and Rollback logs
}

func (tx *debugTx) Query(ctx context.Context, query string, args, v any) error {
	tx.log.DebugContext(ctx, "tx query", "sql", query, "args", args)
	return tx.Tx.Query(ctx, query, args, v)
}

func (tx *debugTx) Exec(ctx context.Context, query string, args, v any) error {
	tx.log.DebugContext(ctx, "tx exec", "sql", query, "args", args)
	return tx.Tx.Exec(ctx, query, args, v)
}

func (tx *debugTx) Commit() error {
	tx.log.DebugContext(tx.ctx, "commit transaction")
	return tx.Tx.Commit()
}

func (tx *debugTx) Rollback() error {
	tx.log.DebugContext(tx.ctx, "rollback transaction")
	return tx.Tx.Rollback()
}

var (
	_ dialect.Driver = (*StatsDriver)(nil)
	_ dialect.Tx     = (*statsTx)(nil)
	_ dialect.Driver = (*DebugDriver)(nil)
	_ dialect.Tx     = (*debugTx)(nil)
)
