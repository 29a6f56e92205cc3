// Package packageservice answers read-only queries over the persisted delta
// index for the HTTP API and the MCP server.
package packageservice

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/starford/pkgsnap/internal/apperr"
	"github.com/starford/pkgsnap/internal/deltaindex"
	"github.com/starford/pkgsnap/internal/models"
	"github.com/starford/pkgsnap/internal/storage"
)

const defaultLimit = 50

// Package is the JSON representation of one tracked package.
type Package struct {
	Name       *string    `json:"name"`
	PackageID  string     `json:"packageId"`
	Version    string     `json:"version"`
	Tags       []string   `json:"tags"`
	LastUpdate *time.Time `json:"lastUpdate"`
}

// FromTracked converts a tracked entity to its JSON representation.
func FromTracked(e models.TrackedEntity) Package {
	p := Package{
		Name:      e.Name,
		PackageID: e.ID,
		Version:   e.Version,
		Tags:      e.Tags,
	}
	if p.Tags == nil {
		p.Tags = []string{}
	}
	if !e.LastChanged.IsZero() {
		ts := e.LastChanged.UTC()
		p.LastUpdate = &ts
	}
	return p
}

// FromTrackedList converts a slice; the result is never nil.
func FromTrackedList(list []models.TrackedEntity) []Package {
	out := make([]Package, 0, len(list))
	for _, e := range list {
		out = append(out, FromTracked(e))
	}
	return out
}

// Snapshot is the decoded delta index and the checksum of its bytes.
type Snapshot struct {
	Packages []models.TrackedEntity
	Checksum string
}

// Service reads the delta index on demand and caches the decoded form until
// the file content changes.
type Service struct {
	fs   storage.Provider
	path string

	mu     sync.Mutex
	cached Snapshot
}

// NewService creates a service over the delta index at path inside fs.
func NewService(fs storage.Provider, path string) *Service {
	if path == "" {
		path = deltaindex.DefaultFile
	}
	return &Service{fs: fs, path: path}
}

// Snapshot returns the current delta index. A missing file is an empty
// snapshot with an empty checksum.
func (s *Service) Snapshot(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	data, err := s.fs.Read(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Snapshot{Packages: []models.TrackedEntity{}}, nil
		}
		return Snapshot{}, err
	}
	sum := sha256.Sum256(data)
	checksum := hex.EncodeToString(sum[:])

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached.Checksum == checksum {
		return s.cached, nil
	}
	pkgs, err := deltaindex.Decode(data)
	if err != nil {
		return Snapshot{}, &deltaindex.ParseError{Path: s.path, Err: err}
	}
	s.cached = Snapshot{Packages: pkgs, Checksum: checksum}
	return s.cached, nil
}

// ListPackages returns a page of packages whose id or name contains query
// and which carry tag, both case-insensitively, plus the total match count.
func (s *Service) ListPackages(ctx context.Context, query, tag string, limit, offset int) ([]models.TrackedEntity, int, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, 0, err
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if offset < 0 {
		offset = 0
	}

	q := strings.ToLower(strings.TrimSpace(query))
	var matches []models.TrackedEntity
	for _, p := range snap.Packages {
		if q != "" && !strings.Contains(strings.ToLower(p.ID), q) &&
			!strings.Contains(strings.ToLower(p.DisplayName()), q) {
			continue
		}
		if tag != "" && !hasTag(p.Tags, tag) {
			continue
		}
		matches = append(matches, p)
	}

	total := len(matches)
	if offset >= total {
		return []models.TrackedEntity{}, total, nil
	}
	if limit > total-offset {
		limit = total - offset
	}
	return matches[offset : offset+limit], total, nil
}

// GetPackage returns the first package whose id matches case-insensitively.
func (s *Service) GetPackage(ctx context.Context, id string) (*models.TrackedEntity, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range snap.Packages {
		if models.SameID(p.ID, id) {
			return &p, nil
		}
	}
	return nil, fmt.Errorf("package %s: %w", id, apperr.ErrNotFound)
}

// Changes returns packages whose last change is at or after since, newest
// first then by id. A zero since selects the newest timestamp in the index,
// which is the changed set of the most recent run. The effective since is
// returned alongside.
func (s *Service) Changes(ctx context.Context, since time.Time) ([]models.TrackedEntity, time.Time, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, time.Time{}, err
	}
	if since.IsZero() {
		for _, p := range snap.Packages {
			if p.LastChanged.After(since) {
				since = p.LastChanged
			}
		}
		if since.IsZero() {
			return []models.TrackedEntity{}, since, nil
		}
	}

	out := []models.TrackedEntity{}
	for _, p := range snap.Packages {
		if !p.LastChanged.IsZero() && !p.LastChanged.Before(since) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].LastChanged.Equal(out[j].LastChanged) {
			return out[i].LastChanged.After(out[j].LastChanged)
		}
		return models.CompareID(out[i].ID, out[j].ID) < 0
	})
	return out, since, nil
}

func hasTag(tags []string, want string) bool {
	for _, t := range tags {
		if strings.EqualFold(t, want) {
			return true
		}
	}
	return false
}
