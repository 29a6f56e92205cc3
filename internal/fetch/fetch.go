// Package fetch downloads a published snapshot archive and extracts the
// package database from it.
package fetch

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/starford/pkgsnap/internal/apperr"
)

// DefaultEntryPattern selects the database inside the archive.
const DefaultEntryPattern = "**/*.db"

// Fetcher retrieves snapshot archives over HTTP(S) or from the local disk.
type Fetcher struct {
	client  *http.Client
	pattern string
	tempDir string
	logger  *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient sets the client used for remote archives.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithEntryPattern sets the doublestar pattern matched (case-insensitively)
// against archive entry names.
func WithEntryPattern(p string) Option {
	return func(f *Fetcher) {
		if p != "" {
			f.pattern = p
		}
	}
}

// WithTempDir sets where downloaded and extracted files are placed.
func WithTempDir(dir string) Option {
	return func(f *Fetcher) { f.tempDir = dir }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// New creates a Fetcher.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:  http.DefaultClient,
		pattern: DefaultEntryPattern,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch retrieves the archive at src (an http(s) URL, a file URL or a plain
// path), extracts the first entry matching the entry pattern to a temp file
// and returns that file's path. The caller owns the returned file.
func (f *Fetcher) Fetch(ctx context.Context, src string) (string, error) {
	if !doublestar.ValidatePattern(f.pattern) {
		return "", fmt.Errorf("fetch: bad entry pattern %q: %w", f.pattern, doublestar.ErrBadPattern)
	}

	archivePath, cleanup, err := f.localArchive(ctx, src)
	if err != nil {
		return "", err
	}
	defer cleanup()

	return f.extract(ctx, archivePath)
}

// localArchive returns a path to the archive on disk, downloading it first
// when src is remote. cleanup removes anything that was downloaded.
func (f *Fetcher) localArchive(ctx context.Context, src string) (string, func(), error) {
	noop := func() {}
	u, err := url.Parse(src)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// Plain path; a one-letter scheme is a Windows drive.
		return src, noop, nil
	}
	switch u.Scheme {
	case "file":
		return u.Path, noop, nil
	case "http", "https":
	default:
		return "", noop, fmt.Errorf("fetch: unsupported scheme %q", u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return "", noop, fmt.Errorf("fetch: build request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", noop, fmt.Errorf("fetch: download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", noop, fmt.Errorf("fetch: download %s: unexpected status %s", src, resp.Status)
	}

	tmp, err := os.CreateTemp(f.tempDir, "pkgsnap-archive-*")
	if err != nil {
		return "", noop, fmt.Errorf("fetch: create temp: %w", err)
	}
	cleanup := func() { _ = os.Remove(tmp.Name()) }

	n, err := io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		cleanup()
		return "", noop, fmt.Errorf("fetch: download body: %w", err)
	}
	f.logger.Info("fetch: archive downloaded", slog.String("url", src), slog.Int64("bytes", n))
	return tmp.Name(), cleanup, nil
}

func (f *Fetcher) extract(ctx context.Context, archivePath string) (string, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return "", fmt.Errorf("fetch: open archive: %w", err)
	}
	defer zr.Close()

	pattern := strings.ToLower(f.pattern)
	var entry *zip.File
	for _, zf := range zr.File {
		if strings.HasSuffix(zf.Name, "/") {
			continue
		}
		if ok, _ := doublestar.Match(pattern, strings.ToLower(zf.Name)); ok {
			entry = zf
			break
		}
	}
	if entry == nil {
		return "", apperr.ErrNoDatabase
	}

	rc, err := entry.Open()
	if err != nil {
		return "", fmt.Errorf("fetch: open entry %s: %w", entry.Name, err)
	}
	defer rc.Close()

	out, err := os.CreateTemp(f.tempDir, "pkgsnap-*.db")
	if err != nil {
		return "", fmt.Errorf("fetch: create temp db: %w", err)
	}
	_, err = io.Copy(out, &ctxReader{ctx: ctx, r: rc})
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(out.Name())
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		return "", fmt.Errorf("fetch: extract %s: %w", entry.Name, err)
	}

	f.logger.Debug("fetch: database extracted",
		slog.String("entry", entry.Name),
		slog.String("path", out.Name()))
	return out.Name(), nil
}

// ctxReader stops reading once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
