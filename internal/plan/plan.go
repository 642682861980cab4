// Package plan runs a configured migration: it loads the model, opens a
// Migrator between the configured stores and executes the configured steps
// in order, logging progress through zap.
package plan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/syssam/velomigrate"
	"github.com/syssam/velomigrate/internal/config"
	"github.com/syssam/velomigrate/schema"
	"github.com/syssam/velomigrate/store"
)

// Plan is a checked migration plan.
type Plan struct {
	cfg   *config.Config
	model *schema.Model
	log   *zap.Logger
	slog  *slog.Logger
}

// Summary counts what a run did.
type Summary struct {
	Steps         int
	Batches       int
	Created       int
	Commits       int
	FailedCommits int
	Links         int
	Duration      time.Duration
}

// Option configures a Plan.
type Option func(*Plan)

// WithLibraryLogger sets the slog logger handed to the migrator and the
// store drivers. Defaults to slog.Default().
func WithLibraryLogger(l *slog.Logger) Option {
	return func(p *Plan) {
		p.slog = l
	}
}

// New loads the model of cfg and checks every step against it. No store
// is opened.
func New(cfg *config.Config, log *zap.Logger, opts ...Option) (*Plan, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}
	model, err := schema.LoadFile(cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}
	p := &Plan{cfg: cfg, model: model, log: log, slog: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	if err := p.check(); err != nil {
		return nil, err
	}
	return p, nil
}

// Model returns the loaded model.
func (p *Plan) Model() *schema.Model { return p.model }

func (p *Plan) check() error {
	var errs []error
	for i, s := range p.cfg.Steps {
		e, ok := p.model.Entity(s.Entity)
		if !ok {
			errs = append(errs, fmt.Errorf("steps[%d]: %w %q", i, velomigrate.ErrUnknownEntity, s.Entity))
			continue
		}
		if s.Op == config.OpMigrate {
			continue
		}
		if _, ok := e.Relationship(s.Relationship); !ok {
			errs = append(errs, fmt.Errorf("steps[%d]: %w %q on %q", i, velomigrate.ErrUnknownRelationship, s.Relationship, s.Entity))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("plan: %w", err)
	}
	return nil
}

// Run executes the plan. The migration stops at the first failing step;
// End is called in every case once Begin succeeded, so both stores are
// closed and whatever was buffered before the failure gets a final commit.
func (p *Plan) Run(ctx context.Context) (Summary, error) {
	var sum Summary
	start := time.Now()
	m, err := velomigrate.New(p.model, p.cfg.Source.URL, p.cfg.Destination.URL,
		velomigrate.WithLogger(p.slog),
		velomigrate.WithEventHook(p.observer(&sum)),
		velomigrate.WithSourceOptions(p.withLogger(p.cfg.Source.StoreOptions())),
		velomigrate.WithDestinationOptions(p.withLogger(p.cfg.Destination.StoreOptions())),
	)
	if err != nil {
		return sum, err
	}
	if err := m.Begin(ctx); err != nil {
		return sum, err
	}
	var errs []error
	for i, s := range p.cfg.Steps {
		log := p.log.With(zap.Int("step", i+1), zap.String("op", s.Op), zap.String("entity", s.Entity))
		log.Debug("Running step", zap.Stringer("step", s))
		if err := exec(ctx, m, s); err != nil {
			log.Error("Step failed", zap.Error(err))
			errs = append(errs, fmt.Errorf("step %d (%s): %w", i+1, s, err))
			break
		}
		sum.Steps++
	}
	errs = append(errs, m.End(ctx))
	sum.Duration = time.Since(start)
	return sum, errors.Join(errs...)
}

// Migrator is the part of *velomigrate.Migrator a step drives.
type Migrator interface {
	Snip(relationship, entity string) error
	MigrateEntity(ctx context.Context, entity string, batchSize int, save bool) error
	Stitch(ctx context.Context, relationship, entity string, save bool) error
}

func exec(ctx context.Context, m Migrator, s config.Step) error {
	switch s.Op {
	case config.OpSnip:
		return m.Snip(s.Relationship, s.Entity)
	case config.OpMigrate:
		return m.MigrateEntity(ctx, s.Entity, s.BatchSize, s.Saves())
	case config.OpStitch:
		return m.Stitch(ctx, s.Relationship, s.Entity, s.Saves())
	}
	return fmt.Errorf("unknown op %q", s.Op)
}

func (p *Plan) withLogger(opts store.Options) store.Options {
	if _, ok := opts[store.Logger]; !ok {
		opts[store.Logger] = p.slog
	}
	return opts
}

// observer returns the event hook that logs migration progress and counts
// it into sum.
func (p *Plan) observer(sum *Summary) func(velomigrate.Event) {
	return func(e velomigrate.Event) {
		switch e.Kind {
		case velomigrate.EventBegin:
			p.log.Info("Migration started",
				zap.String("source", redact(p.cfg.Source.URL)),
				zap.String("destination", redact(p.cfg.Destination.URL)))
		case velomigrate.EventBatch:
			sum.Batches++
			sum.Created += e.Created
			p.log.Debug("Batch migrated",
				zap.String("entity", e.Entity),
				zap.Int("batch", e.Batch),
				zap.Int("objects", e.Objects),
				zap.Int("created", e.Created))
		case velomigrate.EventCommit:
			if e.Err != nil {
				sum.FailedCommits++
				sum.Created -= e.Created
				p.log.Warn("Commit failed",
					zap.String("entity", e.Entity),
					zap.Int("batch", e.Batch),
					zap.Int("discarded", e.Created),
					zap.Error(e.Err))
				return
			}
			sum.Commits++
			p.log.Debug("Committed", zap.String("entity", e.Entity), zap.Int("objects", e.Created))
		case velomigrate.EventStitch:
			sum.Links += e.Objects
			p.log.Info("Relationship stitched",
				zap.String("entity", e.Entity),
				zap.String("relationship", e.Relationship),
				zap.Int("links", e.Objects),
				zap.Error(e.Err))
		case velomigrate.EventEnd:
			p.log.Info("Migration ended", zap.Int("objects", e.Objects), zap.Error(e.Err))
		}
	}
}

// redact hides the password of a store location.
func redact(loc string) string {
	u, err := url.Parse(loc)
	if err != nil {
		return "invalid location"
	}
	return u.Redacted()
}
