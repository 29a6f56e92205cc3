package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/pkgsnap/internal/appendlog"
	"github.com/starford/pkgsnap/internal/deltaindex"
	"github.com/starford/pkgsnap/internal/fetch"
	"github.com/starford/pkgsnap/internal/report"
)

// DefaultSourceURL is the published snapshot archive.
const DefaultSourceURL = "https://cdn.winget.microsoft.com/cache/source2.msix"

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Source  SourceConfig      `yaml:"source"`
	Output  OutputConfig      `yaml:"output"`
	Summary SummaryConfig     `yaml:"summary"`
	Serve   ServeConfig       `yaml:"serve"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if err := c.Source.Validate(); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	if err := c.Output.Validate(); err != nil {
		return fmt.Errorf("output: %w", err)
	}
	if err := c.Summary.Validate(); err != nil {
		return fmt.Errorf("summary: %w", err)
	}
	return c.Serve.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// SourceConfig describes where the snapshot archive comes from.
type SourceConfig struct {
	URL          string        `yaml:"url"`
	EntryPattern string        `yaml:"entry_pattern"`
	KeepDB       bool          `yaml:"keep_db"`
	Timeout      time.Duration `yaml:"timeout"`
	TempDir      string        `yaml:"temp_dir"` // empty means os.TempDir
}

// Validate validates the source configuration.
func (c *SourceConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.URL, validation.Required, validation.By(sourceURL)),
		validation.Field(&c.EntryPattern, validation.Required),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
	)
}

func sourceURL(value any) error {
	s, _ := value.(string)
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// Local path.
		return nil
	}
	switch u.Scheme {
	case "http", "https", "file":
		return nil
	}
	return fmt.Errorf("unsupported scheme %q", u.Scheme)
}

// OutputConfig names the output directory and the artifacts written to it.
type OutputConfig struct {
	Dir        string `yaml:"dir"`
	FullIndex  string `yaml:"full_index"`
	DeltaIndex string `yaml:"delta_index"`
	CSV        string `yaml:"csv"`
}

// Validate validates the output configuration.
func (c *OutputConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Dir, validation.Required),
		validation.Field(&c.FullIndex, validation.Required),
		validation.Field(&c.DeltaIndex, validation.Required),
		validation.Field(&c.CSV, validation.Required),
	)
}

// SummaryConfig controls the change summary appended to a shared log.
// An empty Path disables the summary.
type SummaryConfig struct {
	Path        string        `yaml:"path"`
	MaxAttempts int           `yaml:"max_attempts"`
	MinBackoff  time.Duration `yaml:"min_backoff"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`
}

// Validate validates the summary configuration.
func (c *SummaryConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.MaxAttempts, validation.Required, validation.Min(1)),
		validation.Field(&c.MinBackoff, validation.Min(time.Duration(0))),
	); err != nil {
		return err
	}
	if c.MaxBackoff < c.MinBackoff {
		return errors.New("max_backoff must not be less than min_backoff")
	}
	return nil
}

// Enabled reports whether a summary target is configured.
func (c *SummaryConfig) Enabled() bool {
	return c.Path != ""
}

// ServeConfig holds settings for the serve command.
type ServeConfig struct {
	Watch         bool          `yaml:"watch"`
	EventThrottle time.Duration `yaml:"event_throttle"`
}

// Validate validates the serve configuration.
func (c *ServeConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.EventThrottle, validation.Min(time.Duration(0))),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Source: SourceConfig{
			URL:          DefaultSourceURL,
			EntryPattern: fetch.DefaultEntryPattern,
			Timeout:      5 * time.Minute,
		},
		Output: OutputConfig{
			Dir:        "./output",
			FullIndex:  report.DefaultFullIndexFile,
			DeltaIndex: deltaindex.DefaultFile,
			CSV:        report.DefaultCSVFile,
		},
		Summary: SummaryConfig{
			MaxAttempts: appendlog.DefaultMaxAttempts,
			MinBackoff:  appendlog.DefaultMinBackoff,
			MaxBackoff:  appendlog.DefaultMaxBackoff,
		},
		Serve: ServeConfig{
			Watch:         true,
			EventThrottle: 2 * time.Second,
		},
	}
}
