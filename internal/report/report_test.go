package report

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/starford/pkgsnap/internal/models"
	"github.com/starford/pkgsnap/internal/storage"
)

var runAt = time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

func sample() []models.TrackedEntity {
	return []models.TrackedEntity{
		{Entity: models.Entity{ID: "Baz.Qux", Version: "2.0", Name: models.StringPtr(`Baz "Q" | tools`)}, LastChanged: runAt},
		{Entity: models.Entity{ID: "Foo.Bar", Version: "1.0"}},
	}
}

func TestFullIndex(t *testing.T) {
	data, err := FullIndex(sample())
	if err != nil {
		t.Fatalf("FullIndex: %v", err)
	}
	want := `[
  {
    "name": "Baz \"Q\" | tools",
    "packageId": "Baz.Qux",
    "version": "2.0"
  },
  {
    "name": null,
    "packageId": "Foo.Bar",
    "version": "1.0"
  }
]
`
	if string(data) != want {
		t.Errorf("FullIndex =\n%s\nwant\n%s", data, want)
	}
}

func TestCSV(t *testing.T) {
	data, err := CSV(sample())
	if err != nil {
		t.Fatalf("CSV: %v", err)
	}
	want := `"Baz.Qux","2.0","Baz ""Q"" | tools","2024-05-06T07:08:09Z"
"Foo.Bar","1.0","",""

`
	if string(data) != want {
		t.Errorf("CSV =\n%q\nwant\n%q", data, want)
	}
}

func TestCSV_Empty(t *testing.T) {
	data, err := CSV(nil)
	if err != nil {
		t.Fatalf("CSV: %v", err)
	}
	if string(data) != "\n" {
		t.Errorf("CSV = %q, want a single newline", data)
	}
}

func TestSummary(t *testing.T) {
	out := string(Summary(sample()[:1], 2, runAt))
	for _, want := range []string{"2 packages, 1 changed", `| Baz.Qux | 2.0 | Baz "Q" \| tools |`} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
	if !strings.HasSuffix(out, "\n\n") {
		t.Errorf("summary should end with a blank line: %q", out)
	}
}

func TestSummary_NoChanges(t *testing.T) {
	out := string(Summary(nil, 5, runAt))
	if !strings.Contains(out, "No package changes.") {
		t.Errorf("summary missing no-change line:\n%s", out)
	}
	if strings.Contains(out, "| Package |") {
		t.Errorf("summary should have no table:\n%s", out)
	}
}

func TestWriteAll(t *testing.T) {
	fs, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	err = WriteAll(context.Background(), fs, sample(),
		Artifact{Path: DefaultFullIndexFile, Render: FullIndex},
		Artifact{Path: DefaultCSVFile, Render: CSV},
	)
	if err != nil {
		t.Fatalf("WriteAll: %v", err)
	}

	for _, p := range []string{DefaultFullIndexFile, DefaultCSVFile} {
		data, err := fs.Read(p)
		if err != nil {
			t.Errorf("read %s: %v", p, err)
			continue
		}
		if len(data) == 0 {
			t.Errorf("%s is empty", p)
		}
	}
}

func TestWriteAll_RenderFailure(t *testing.T) {
	fs, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	boom := errors.New("render failed")
	err = WriteAll(context.Background(), fs, sample(), Artifact{
		Path:   "broken.json",
		Render: func([]models.TrackedEntity) ([]byte, error) { return nil, boom },
	})
	if !errors.Is(err, boom) {
		t.Errorf("WriteAll error = %v, want %v", err, boom)
	}
}
