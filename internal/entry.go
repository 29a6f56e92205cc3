// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/starford/pkgsnap/internal/appendlog"
	"github.com/starford/pkgsnap/internal/apperr"
	"github.com/starford/pkgsnap/internal/catalog"
	"github.com/starford/pkgsnap/internal/deltaindex"
	"github.com/starford/pkgsnap/internal/fetch"
	"github.com/starford/pkgsnap/internal/merge"
	"github.com/starford/pkgsnap/internal/models"
	"github.com/starford/pkgsnap/internal/report"
	"github.com/starford/pkgsnap/internal/storage"
)

var errConfigRequired = errors.New("config is required")

// newLogger builds the structured JSON logger used by every command.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}

// Run performs one generate pass: fetch the snapshot, merge it against the
// previous delta index, write the artifacts and append the change summary.
//
// It returns apperr.ErrNoEntities when the snapshot holds no packages. A
// failing summary is logged and does not fail the run.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger := app.logger
	if logger == nil {
		logger = newLogger(os.Stdout, cfg.App.LogLevel)
		slog.SetDefault(logger)
	}
	logger = logger.With(slog.String("run_id", uuid.NewString()))
	runTimestamp := app.now().UTC()

	logger.Info("Configuration loaded",
		slog.String("source_url", cfg.Source.URL),
		slog.String("output_dir", cfg.Output.Dir),
		slog.Bool("summary", cfg.Summary.Enabled()),
		slog.String("log_level", cfg.App.LogLevel.String()))

	entities, err := app.loadEntities(ctx, logger)
	if err != nil {
		return err
	}
	if len(entities) == 0 {
		logger.Info("no packages found")
		return apperr.ErrNoEntities
	}
	logger.Info("snapshot loaded", slog.Int("packages", len(entities)))

	fs, err := storage.NewFS(cfg.Output.Dir)
	if err != nil {
		return fmt.Errorf("init output: %w", err)
	}
	store := deltaindex.NewStore(fs, cfg.Output.DeltaIndex)

	res, err := merge.NewSynchronizer(store, logger).Sync(ctx, entities, runTimestamp)
	if err != nil {
		return fmt.Errorf("merge: %w", err)
	}

	if err := store.Save(ctx, res.Merged); err != nil {
		return fmt.Errorf("write delta index: %w", err)
	}
	if err := report.WriteAll(ctx, fs, res.Merged,
		report.Artifact{Path: cfg.Output.FullIndex, Render: report.FullIndex},
		report.Artifact{Path: cfg.Output.CSV, Render: report.CSV},
	); err != nil {
		return fmt.Errorf("write reports: %w", err)
	}

	if cfg.Summary.Enabled() {
		if err := appendSummary(ctx, cfg.Summary, res, runTimestamp, logger); err != nil {
			logger.Error("summary append failed",
				slog.String("path", cfg.Summary.Path),
				slog.String("error", err.Error()))
		}
	}

	logger.Info("index generated",
		slog.Int("packages", len(res.Merged)),
		slog.Int("changed", len(res.Changed)),
		slog.Bool("previous_index_recovered", res.Warning != nil))
	return nil
}

// loadEntities fetches the snapshot and reads its packages. The extracted
// database is removed on every exit path unless keep_db is set.
func (app *application) loadEntities(ctx context.Context, logger *slog.Logger) ([]models.Entity, error) {
	cfg := app.config

	fetchCtx := ctx
	if cfg.Source.Timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, cfg.Source.Timeout)
		defer cancel()
	}

	f := fetch.New(
		fetch.WithHTTPClient(app.httpClient),
		fetch.WithEntryPattern(cfg.Source.EntryPattern),
		fetch.WithTempDir(cfg.Source.TempDir),
		fetch.WithLogger(logger),
	)
	dbPath, err := f.Fetch(fetchCtx, cfg.Source.URL)
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}
	defer func() {
		if cfg.Source.KeepDB {
			logger.Info("temporary database kept", slog.String("path", dbPath))
			return
		}
		if err := os.Remove(dbPath); err != nil {
			logger.Warn("remove temporary database", slog.String("path", dbPath), slog.String("error", err.Error()))
		}
	}()

	db, err := catalog.Open(ctx, dbPath)
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer db.Close()

	entities, err := db.Entities(ctx, logger)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return entities, nil
}

func appendSummary(ctx context.Context, cfg SummaryConfig, res merge.Result, runTimestamp time.Time, logger *slog.Logger) error {
	w := appendlog.Open(cfg.Path,
		appendlog.WithMaxAttempts(cfg.MaxAttempts),
		appendlog.WithBackoff(cfg.MinBackoff, cfg.MaxBackoff),
		appendlog.WithLogger(logger),
	)
	if _, err := w.Write(report.Summary(res.Changed, len(res.Merged), runTimestamp)); err != nil {
		return err
	}
	return w.Close(ctx)
}
