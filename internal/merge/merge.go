// Package merge combines the current snapshot with the previous delta index
// to assign each package a stable "last changed" timestamp.
package merge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/starford/pkgsnap/internal/deltaindex"
	"github.com/starford/pkgsnap/internal/models"
)

// cancelCheckEvery is how many entities are merged between context checks.
const cancelCheckEvery = 1024

// Result is the outcome of one merge.
type Result struct {
	// Merged holds every current entity sorted by id, case-insensitively.
	Merged []models.TrackedEntity
	// Changed is the subset of Merged stamped with the run timestamp.
	Changed []models.TrackedEntity
	// Warning is set when a previous index existed but could not be used.
	Warning error
}

type versionKey struct {
	id      string // upper-cased
	version string
}

// Merge sorts current by id and stamps each entity: an entity whose id and
// version both match a previous record keeps that record's timestamp, every
// other entity gets runTimestamp. A nil previous means no previous snapshot.
func Merge(current []models.Entity, previous []models.TrackedEntity, runTimestamp time.Time) Result {
	res, _ := mergeContext(context.Background(), current, previous, runTimestamp)
	return res
}

func mergeContext(ctx context.Context, current []models.Entity, previous []models.TrackedEntity, runTimestamp time.Time) (Result, error) {
	sorted := make([]models.Entity, len(current))
	copy(sorted, current)
	sort.SliceStable(sorted, func(i, j int) bool {
		return models.CompareID(sorted[i].ID, sorted[j].ID) < 0
	})

	// First occurrence wins when the previous index holds duplicates.
	known := make(map[versionKey]time.Time, len(previous))
	for _, p := range previous {
		if p.LastChanged.IsZero() {
			continue
		}
		k := keyOf(p.Entity)
		if _, ok := known[k]; !ok {
			known[k] = p.LastChanged
		}
	}

	res := Result{
		Merged:  make([]models.TrackedEntity, 0, len(sorted)),
		Changed: []models.TrackedEntity{},
	}
	for i, e := range sorted {
		if i%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return Result{}, err
			}
		}
		e.Tags = models.NormalizeTags(e.Tags)
		te := models.TrackedEntity{Entity: e, LastChanged: runTimestamp}
		if ts, ok := known[keyOf(e)]; ok {
			te.LastChanged = ts
		}
		res.Merged = append(res.Merged, te)
		if te.LastChanged.Equal(runTimestamp) {
			res.Changed = append(res.Changed, te)
		}
	}
	return res, nil
}

func keyOf(e models.Entity) versionKey {
	return versionKey{id: strings.ToUpper(e.ID), version: e.Version}
}

// Loader supplies the previous delta index.
type Loader interface {
	Load(ctx context.Context) ([]models.TrackedEntity, error)
}

var _ Loader = (*deltaindex.Store)(nil)

// Synchronizer merges the current snapshot against a persisted delta index.
type Synchronizer struct {
	prev   Loader
	logger *slog.Logger
}

// NewSynchronizer creates a Synchronizer reading the previous index from prev.
func NewSynchronizer(prev Loader, logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{prev: prev, logger: logger}
}

// Sync loads the previous index and merges current against it. A missing or
// malformed previous index is not an error: every entity is then treated as
// changed, and a malformed one is reported through Result.Warning. Failures
// to read an existing index, and cancellation, are returned as errors.
func (s *Synchronizer) Sync(ctx context.Context, current []models.Entity, runTimestamp time.Time) (Result, error) {
	previous, err := s.prev.Load(ctx)
	var warning error
	if err != nil {
		var pe *deltaindex.ParseError
		if !errors.As(err, &pe) {
			return Result{}, fmt.Errorf("merge: load previous index: %w", err)
		}
		warning = err
		previous = nil
		s.logger.Warn("merge: previous index unreadable, treating all packages as new",
			slog.String("path", pe.Path),
			slog.String("error", pe.Err.Error()))
	} else if previous == nil {
		s.logger.Info("merge: no previous index, treating all packages as new")
	}

	res, err := mergeContext(ctx, current, previous, runTimestamp)
	if err != nil {
		return Result{}, err
	}
	res.Warning = warning

	s.logger.Debug("merge: done",
		slog.Int("packages", len(res.Merged)),
		slog.Int("changed", len(res.Changed)),
		slog.Int("previous", len(previous)))
	return res, nil
}
