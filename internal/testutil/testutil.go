// Package testutil provides shared test helpers for building snapshot
// databases and archives.
package testutil

import (
	"archive/zip"
	"bytes"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/pkgsnap/internal/models"
)

const snapshotSchemaSQL = `
CREATE TABLE packages (
	rowid          INTEGER PRIMARY KEY,
	id             TEXT,
	name           TEXT,
	moniker        TEXT,
	latest_version TEXT,
	arp_min_version TEXT,
	arp_max_version TEXT,
	hash           BLOB
);
CREATE TABLE tags2 (
	rowid INTEGER PRIMARY KEY,
	tag   TEXT NOT NULL UNIQUE
);
CREATE TABLE tags2_map (
	tag     INT64 NOT NULL,
	package INT64 NOT NULL,
	PRIMARY KEY(tag, package)
);
`

// ArchiveEntry is the path of the database inside archives built by Archive.
const ArchiveEntry = "Public/index.db"

// SnapshotDB writes a snapshot database holding entities to a temp dir and
// returns its path.
func SnapshotDB(t *testing.T, entities []models.Entity) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.db")
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if _, err := conn.Exec(snapshotSchemaSQL); err != nil {
		t.Fatalf("apply snapshot schema: %v", err)
	}

	tagIDs := make(map[string]int64)
	for i, e := range entities {
		rowid := int64(i + 1)
		var name any
		if e.Name != nil {
			name = *e.Name
		}
		if _, err := conn.Exec(`INSERT INTO packages (rowid, id, name, latest_version) VALUES (?, ?, ?, ?)`,
			rowid, e.ID, name, e.Version); err != nil {
			t.Fatalf("insert package: %v", err)
		}
		for _, tag := range e.Tags {
			tid, ok := tagIDs[tag]
			if !ok {
				tid = int64(len(tagIDs) + 1)
				tagIDs[tag] = tid
				if _, err := conn.Exec(`INSERT INTO tags2 (rowid, tag) VALUES (?, ?)`, tid, tag); err != nil {
					t.Fatalf("insert tag: %v", err)
				}
			}
			if _, err := conn.Exec(`INSERT OR IGNORE INTO tags2_map (tag, package) VALUES (?, ?)`, tid, rowid); err != nil {
				t.Fatalf("insert tag map: %v", err)
			}
		}
	}
	return path
}

// Archive returns a zip archive containing the file at dbPath stored as
// ArchiveEntry next to a manifest, the way published snapshots are laid out.
func Archive(t *testing.T, dbPath string) []byte {
	t.Helper()
	data, err := os.ReadFile(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	return Zip(t, map[string][]byte{
		"AppxManifest.xml": []byte("<Package/>"),
		ArchiveEntry:       data,
	})
}

// Zip builds a zip archive from name → content pairs.
func Zip(t *testing.T, files map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(content); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}
