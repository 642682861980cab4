// velomigrate copies the objects of one store into another, entity by
// entity, following the steps of a YAML plan.
//
//	velomigrate -config migrate.yaml
//	velomigrate -config migrate.yaml -check
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/syssam/velomigrate/internal/config"
	"github.com/syssam/velomigrate/internal/plan"
	_ "github.com/syssam/velomigrate/store/memstore"
	_ "github.com/syssam/velomigrate/store/sqlstore"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "velomigrate: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("velomigrate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	path := fs.String("config", "migrate.yaml", "path of the migration config file")
	check := fs.Bool("check", false, "validate the config and the model, then exit")
	version := fs.Bool("version", false, "print the version and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *version {
		fmt.Fprintln(stderr, Version)
		return nil
	}

	cfg, err := config.Load(*path)
	if err != nil {
		return err
	}
	logger, err := cfg.Log.Logger()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	p, err := plan.New(cfg, logger, plan.WithLibraryLogger(libraryLogger(logger, stderr)))
	if err != nil {
		return err
	}
	if *check {
		logger.Info("Configuration is valid",
			zap.String("model", cfg.Model),
			zap.Int("entities", len(p.Model().Entities())),
			zap.Int("steps", len(cfg.Steps)))
		return nil
	}

	logger.Info("Starting velomigrate", zap.String("version", Version), zap.String("config", *path))
	sum, err := p.Run(ctx)
	logger.Info("Summary",
		zap.Int("steps", sum.Steps),
		zap.Int("batches", sum.Batches),
		zap.Int("created", sum.Created),
		zap.Int("commits", sum.Commits),
		zap.Int("failed_commits", sum.FailedCommits),
		zap.Int("links", sum.Links),
		zap.Duration("duration", sum.Duration))
	return err
}

// libraryLogger returns the slog logger of the migrator and the store
// drivers. Progress is reported through zap, so only their warnings are
// shown unless zap logs at debug level.
func libraryLogger(l *zap.Logger, w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if l.Core().Enabled(zapcore.DebugLevel) {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
