package velomigrate

import (
	"log/slog"

	"github.com/syssam/velomigrate/store"
)

// EventKind identifies a migration progress event.
type EventKind uint8

// Event kinds.
const (
	EventBegin  EventKind = iota + 1 // Connections opened.
	EventBatch                       // One window of a MigrateEntity call processed.
	EventCommit                      // Destination commit attempted; Err is set on failure.
	EventStitch                      // Stitch call finished.
	EventEnd                         // Session ended.
)

var eventNames = [...]string{
	EventBegin:  "begin",
	EventBatch:  "batch",
	EventCommit: "commit",
	EventStitch: "stitch",
	EventEnd:    "end",
}

// String returns the event kind name.
func (k EventKind) String() string {
	if int(k) < len(eventNames) && eventNames[k] != "" {
		return eventNames[k]
	}
	return "unknown"
}

// Event describes migration progress.
type Event struct {
	Kind         EventKind
	Entity       string
	Relationship string // EventStitch only
	Batch        int    // 1-based window number within a MigrateEntity call
	Objects      int    // Source objects in the window, or links set by a stitch
	Created      int    // Destination objects created by the window
	Err          error
}

// Option configures a Migrator.
type Option func(*config)

type config struct {
	log     *slog.Logger
	hook    func(Event)
	srcOpts store.Options
	dstOpts store.Options
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.log = l
	}
}

// WithEventHook sets a callback invoked synchronously for every progress
// event.
func WithEventHook(hook func(Event)) Option {
	return func(c *config) {
		c.hook = hook
	}
}

// WithSourceOptions sets the initial source store options.
func WithSourceOptions(opts store.Options) Option {
	return func(c *config) {
		c.srcOpts = opts.Clone()
	}
}

// WithDestinationOptions sets the initial destination store options.
func WithDestinationOptions(opts store.Options) Option {
	return func(c *config) {
		c.dstOpts = opts.Clone()
	}
}
