package deltaindex

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/starford/pkgsnap/internal/apperr"
	"github.com/starford/pkgsnap/internal/models"
	"github.com/starford/pkgsnap/internal/storage"
)

func testStore(t *testing.T) (*Store, *storage.FS) {
	t.Helper()
	fs, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return NewStore(fs, ""), fs
}

func TestLoad_MissingFileIsAbsent(t *testing.T) {
	s, _ := testStore(t)
	got, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != nil {
		t.Errorf("got %v, want nil", got)
	}
}

func TestLoad_MalformedIsParseError(t *testing.T) {
	s, fs := testStore(t)
	if err := fs.Write(DefaultFile, []byte(`{"not":"an array"`)); err != nil {
		t.Fatal(err)
	}

	_, err := s.Load(context.Background())
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("Load error = %v, want *ParseError", err)
	}
	if pe.Path != DefaultFile {
		t.Errorf("path = %q, want %q", pe.Path, DefaultFile)
	}
	if !errors.Is(err, apperr.ErrMalformedIndex) {
		t.Error("parse error should match ErrMalformedIndex")
	}
}

func TestLoad_EmptyFileIsParseError(t *testing.T) {
	s, fs := testStore(t)
	if err := fs.Write(DefaultFile, nil); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Load(context.Background()); !errors.Is(err, apperr.ErrMalformedIndex) {
		t.Errorf("Load error = %v, want ErrMalformedIndex", err)
	}
}

func TestLoad_UnreadableIsNotParseError(t *testing.T) {
	s, fs := testStore(t)
	// A directory in place of the file cannot be read.
	if err := os.Mkdir(filepath.Join(fs.Root(), DefaultFile), 0o755); err != nil {
		t.Fatal(err)
	}

	_, err := s.Load(context.Background())
	if err == nil {
		t.Fatal("expected an error")
	}
	if errors.Is(err, apperr.ErrMalformedIndex) {
		t.Errorf("read failure reported as malformed: %v", err)
	}
}

func TestDecode_CaseInsensitiveFieldsAndIDAlias(t *testing.T) {
	data := []byte(`[
		{"NAME":"Git","Id":"Git.Git","VERSION":"2.44.0","Tags":["vcs","Git"],"LastUpdate":"2024-03-01T10:00:00Z"},
		{"packageId":"Foo.Bar","id":"ignored","version":"1.0","lastUpdate":null},
		{"name":"no id","version":"1"}
	]`)
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("decoded %d records, want 2", len(got))
	}

	git := got[0]
	if git.ID != "Git.Git" || git.DisplayName() != "Git" || git.Version != "2.44.0" {
		t.Errorf("got[0] = %+v", git)
	}
	if !slices.Equal(git.Tags, []string{"Git", "vcs"}) {
		t.Errorf("tags = %v", git.Tags)
	}
	if want := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC); !git.LastChanged.Equal(want) {
		t.Errorf("lastUpdate = %v, want %v", git.LastChanged, want)
	}

	foo := got[1]
	if foo.ID != "Foo.Bar" || foo.Name != nil || !foo.LastChanged.IsZero() {
		t.Errorf("got[1] = %+v", foo)
	}
}

func TestEncode_StableFieldOrder(t *testing.T) {
	// Offsets are normalized to UTC on output.
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	data, err := Encode([]models.TrackedEntity{{
		Entity:      models.Entity{ID: "Foo.Bar", Version: "1.0"},
		LastChanged: ts,
	}})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	want := `[
  {
    "name": null,
    "packageId": "Foo.Bar",
    "version": "1.0",
    "tags": [],
    "lastUpdate": "2024-03-01T11:00:00Z"
  }
]
`
	if string(data) != want {
		t.Errorf("Encode =\n%s\nwant\n%s", data, want)
	}
}

func TestCarriedOffsetIsRewrittenOnce(t *testing.T) {
	prev := []byte(`[{"name":null,"packageId":"Foo.Bar","version":"1.0","tags":[],"lastUpdate":"2024-03-01T12:00:00+02:00"}]`)
	list, err := Decode(prev)
	if err != nil {
		t.Fatal(err)
	}
	first, err := Encode(list)
	if err != nil {
		t.Fatal(err)
	}
	again, err := Decode(first)
	if err != nil {
		t.Fatal(err)
	}
	second, err := Encode(again)
	if err != nil {
		t.Fatal(err)
	}
	if string(first) != string(second) {
		t.Errorf("encoding not stable after normalization:\n%s\n%s", first, second)
	}
	if !again[0].LastChanged.Equal(list[0].LastChanged) {
		t.Errorf("instant changed: %v != %v", again[0].LastChanged, list[0].LastChanged)
	}
}

func TestSaveThenLoad(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()
	t0 := time.Date(2024, 1, 2, 3, 4, 5, 600, time.UTC)
	in := []models.TrackedEntity{
		{Entity: models.Entity{Name: models.StringPtr("Baz"), ID: "Baz.Qux", Version: "2.0", Tags: []string{"a", "b"}}, LastChanged: t0},
		{Entity: models.Entity{ID: "Foo.Bar", Version: "1.0", Tags: []string{}}, LastChanged: t0.Add(-time.Hour)},
	}
	if err := s.Save(ctx, in); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("loaded %d records, want 2", len(got))
	}
	for i := range in {
		w, g := in[i], got[i]
		if g.ID != w.ID || g.Version != w.Version || g.DisplayName() != w.DisplayName() || !slices.Equal(g.Tags, w.Tags) {
			t.Errorf("record %d = %+v, want %+v", i, g.Entity, w.Entity)
		}
		if !g.LastChanged.Equal(w.LastChanged) {
			t.Errorf("record %d timestamp = %v, want %v", i, g.LastChanged, w.LastChanged)
		}
	}
}

func TestSave_CancelledContext(t *testing.T) {
	s, fs := testStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.Save(ctx, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("Save error = %v, want context.Canceled", err)
	}
	if _, err := fs.Read(DefaultFile); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("file should not exist, read err = %v", err)
	}
}
