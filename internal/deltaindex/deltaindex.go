// Package deltaindex reads and writes the persisted delta index: the durable
// record of every package seen on the last run together with the moment its
// current version was first observed.
package deltaindex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/starford/pkgsnap/internal/apperr"
	"github.com/starford/pkgsnap/internal/models"
	"github.com/starford/pkgsnap/internal/storage"
)

// DefaultFile is the conventional delta index file name.
const DefaultFile = "index.v2.json"

// ParseError reports delta index content that exists but cannot be decoded.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("deltaindex: parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Is lets callers match any ParseError with apperr.ErrMalformedIndex.
func (e *ParseError) Is(target error) bool {
	return target == apperr.ErrMalformedIndex
}

// record is the wire shape of one entry. Field order is the serialized order.
type record struct {
	Name       *string    `json:"name"`
	PackageID  string     `json:"packageId"`
	Version    string     `json:"version"`
	Tags       []string   `json:"tags"`
	LastUpdate *time.Time `json:"lastUpdate"`
}

// inRecord accepts both "packageId" and the shorter "id" spelling.
type inRecord struct {
	Name       *string    `json:"name"`
	PackageID  string     `json:"packageId"`
	ID         string     `json:"id"`
	Version    string     `json:"version"`
	Tags       []string   `json:"tags"`
	LastUpdate *time.Time `json:"lastUpdate"`
}

// Store persists the delta index at a fixed path inside a storage.Provider.
type Store struct {
	fs   storage.Provider
	path string
}

// NewStore returns a Store for path relative to fs.
func NewStore(fs storage.Provider, path string) *Store {
	if path == "" {
		path = DefaultFile
	}
	return &Store{fs: fs, path: path}
}

// Path returns the store's path relative to its provider.
func (s *Store) Path() string {
	return s.path
}

// Load reads the previous delta index. A missing file yields (nil, nil), which
// callers treat as "no previous snapshot". Malformed content yields a
// *ParseError. Any other failure is returned as is.
func (s *Store) Load(ctx context.Context) ([]models.TrackedEntity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := s.fs.Read(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	out, err := Decode(data)
	if err != nil {
		return nil, &ParseError{Path: s.path, Err: err}
	}
	return out, nil
}

// Save fully replaces the delta index with merged.
func (s *Store) Save(ctx context.Context, merged []models.TrackedEntity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := Encode(merged)
	if err != nil {
		return fmt.Errorf("deltaindex: encode: %w", err)
	}
	if err := s.fs.Write(s.path, data); err != nil {
		return fmt.Errorf("deltaindex: save: %w", err)
	}
	return nil
}

// Decode parses serialized delta index content. Field names match
// case-insensitively. Records without an id are dropped.
func Decode(data []byte) ([]models.TrackedEntity, error) {
	var raw []inRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	out := make([]models.TrackedEntity, 0, len(raw))
	for _, r := range raw {
		id := r.PackageID
		if id == "" {
			id = r.ID
		}
		if id == "" {
			continue
		}
		te := models.TrackedEntity{
			Entity: models.Entity{
				Name:    r.Name,
				ID:      id,
				Version: r.Version,
				Tags:    models.NormalizeTags(r.Tags),
			},
		}
		if r.LastUpdate != nil {
			te.LastChanged = *r.LastUpdate
		}
		out = append(out, te)
	}
	return out, nil
}

// Encode serializes merged as an indented JSON array with a stable field
// order and UTC timestamps. The output ends with a newline.
func Encode(merged []models.TrackedEntity) ([]byte, error) {
	recs := make([]record, 0, len(merged))
	for _, m := range merged {
		r := record{
			Name:      m.Name,
			PackageID: m.ID,
			Version:   m.Version,
			Tags:      m.Tags,
		}
		if r.Tags == nil {
			r.Tags = []string{}
		}
		if !m.LastChanged.IsZero() {
			ts := m.LastChanged.UTC()
			r.LastUpdate = &ts
		}
		recs = append(recs, r)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(recs); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
