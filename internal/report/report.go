// Package report renders the merged package list into the published
// artifacts and the change summary.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/pkgsnap/internal/models"
	"github.com/starford/pkgsnap/internal/storage"
)

// Default artifact file names.
const (
	DefaultFullIndexFile = "index.json"
	DefaultCSVFile       = "index.csv"
)

// RenderFunc turns the merged package list into file content.
type RenderFunc func(merged []models.TrackedEntity) ([]byte, error)

// Artifact is one output file.
type Artifact struct {
	Path   string
	Render RenderFunc
}

// WriteAll renders and writes every artifact concurrently. Artifacts are
// independent files; the first failure cancels the rest.
func WriteAll(ctx context.Context, fs storage.Provider, merged []models.TrackedEntity, artifacts ...Artifact) error {
	g, gCtx := errgroup.WithContext(ctx)
	for _, a := range artifacts {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			data, err := a.Render(merged)
			if err != nil {
				return fmt.Errorf("report: render %s: %w", a.Path, err)
			}
			if err := fs.Write(a.Path, data); err != nil {
				return fmt.Errorf("report: write %s: %w", a.Path, err)
			}
			return nil
		})
	}
	return g.Wait()
}

type fullEntry struct {
	Name      *string `json:"name"`
	PackageID string  `json:"packageId"`
	Version   string  `json:"version"`
}

// FullIndex renders the full listing: name, id and version per package.
func FullIndex(merged []models.TrackedEntity) ([]byte, error) {
	out := make([]fullEntry, 0, len(merged))
	for _, m := range merged {
		out = append(out, fullEntry{Name: m.Name, PackageID: m.ID, Version: m.Version})
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CSV renders one row per package: id, version, name, lastUpdate. Every
// field is quoted and the output ends with a blank line.
func CSV(merged []models.TrackedEntity) ([]byte, error) {
	var b strings.Builder
	for _, m := range merged {
		ts := ""
		if !m.LastChanged.IsZero() {
			ts = m.LastChanged.UTC().Format(time.RFC3339)
		}
		writeRow(&b, m.ID, m.Version, m.DisplayName(), ts)
	}
	b.WriteString("\n")
	return []byte(b.String()), nil
}

func writeRow(b *strings.Builder, fields ...string) {
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(f, `"`, `""`))
		b.WriteByte('"')
	}
	b.WriteByte('\n')
}

// Summary renders a Markdown summary of the changed packages.
func Summary(changed []models.TrackedEntity, total int, runTimestamp time.Time) []byte {
	var b strings.Builder
	b.WriteString("## Package index\n\n")
	fmt.Fprintf(&b, "Run at %s: %d packages, %d changed since the last run.\n\n",
		runTimestamp.UTC().Format(time.RFC3339), total, len(changed))
	if len(changed) == 0 {
		b.WriteString("No package changes.\n\n")
		return []byte(b.String())
	}
	b.WriteString("| Package | Version | Name |\n")
	b.WriteString("|---|---|---|\n")
	for _, c := range changed {
		fmt.Fprintf(&b, "| %s | %s | %s |\n", cell(c.ID), cell(c.Version), cell(c.DisplayName()))
	}
	b.WriteString("\n")
	return []byte(b.String())
}

func cell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}
