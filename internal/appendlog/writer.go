// Package appendlog appends text to a file shared with writers outside this
// process, such as a CI step summary. Content is buffered in memory and
// delivered in one write on Flush; opening the target is retried with
// randomized backoff while another writer holds it.
package appendlog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"time"
)

// Defaults for the flush retry loop.
const (
	DefaultMaxAttempts = 10
	DefaultMinBackoff  = 200 * time.Millisecond
	DefaultMaxBackoff  = 1000 * time.Millisecond
)

// ErrClosed is returned by Write and Flush after Close.
var ErrClosed = errors.New("appendlog: writer closed")

// State is a step of the flush state machine.
type State int

const (
	StateIdle State = iota
	StateOpening
	StateBackoff
	StateWritten
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpening:
		return "opening"
	case StateBackoff:
		return "backoff"
	case StateWritten:
		return "written"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ExhaustedError is returned when every open attempt failed.
type ExhaustedError struct {
	Path     string
	Attempts int
	Err      error // last open error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("appendlog: open %s failed after %d attempts: %v", e.Path, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Opener opens the target for appending.
type Opener func(path string) (io.WriteCloser, error)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Writer buffers writes and appends them to path on Flush.
type Writer struct {
	path        string
	buf         bytes.Buffer
	maxAttempts int
	minBackoff  time.Duration
	maxBackoff  time.Duration
	open        Opener
	sleep       Sleeper
	jitter      func(n time.Duration) time.Duration
	logger      *slog.Logger

	state    State
	attempts int
	closed   bool
}

// Option configures a Writer.
type Option func(*Writer)

// WithMaxAttempts sets how many times the target is opened before giving up.
func WithMaxAttempts(n int) Option {
	return func(w *Writer) {
		if n > 0 {
			w.maxAttempts = n
		}
	}
}

// WithBackoff sets the range the delay between attempts is drawn from.
func WithBackoff(lo, hi time.Duration) Option {
	return func(w *Writer) {
		if lo < 0 || hi < lo {
			return
		}
		w.minBackoff, w.maxBackoff = lo, hi
	}
}

// WithOpener replaces how the target is opened.
func WithOpener(o Opener) Option {
	return func(w *Writer) { w.open = o }
}

// WithSleeper replaces how the writer waits between attempts.
func WithSleeper(s Sleeper) Option {
	return func(w *Writer) { w.sleep = s }
}

// WithJitter replaces the random source; fn returns a value in [0, n).
func WithJitter(fn func(n time.Duration) time.Duration) Option {
	return func(w *Writer) { w.jitter = fn }
}

// WithLogger sets the logger used to report retries.
func WithLogger(l *slog.Logger) Option {
	return func(w *Writer) { w.logger = l }
}

// Open returns a Writer for path. Nothing touches the file until Flush.
func Open(path string, opts ...Option) *Writer {
	w := &Writer{
		path:        path,
		maxAttempts: DefaultMaxAttempts,
		minBackoff:  DefaultMinBackoff,
		maxBackoff:  DefaultMaxBackoff,
		open:        openAppend,
		sleep:       sleepContext,
		jitter:      rand.N[time.Duration],
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write buffers p. It never fails before Close.
func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, ErrClosed
	}
	return w.buf.Write(p)
}

// Len returns the number of buffered bytes.
func (w *Writer) Len() int {
	return w.buf.Len()
}

// State returns the state the last flush ended in.
func (w *Writer) State() State {
	return w.state
}

// Attempts returns how many opens the last flush made.
func (w *Writer) Attempts() int {
	return w.attempts
}

// Flush appends the buffered content to the target in a single write.
//
// The target is opened up to maxAttempts times with a random delay between
// attempts. When every attempt fails an *ExhaustedError wrapping the last
// open error is returned and the buffer is kept. Nothing is written unless
// the open succeeds.
func (w *Writer) Flush(ctx context.Context) error {
	if w.closed {
		return ErrClosed
	}
	w.attempts = 0
	if w.buf.Len() == 0 {
		w.state = StateWritten
		return nil
	}

	var lastErr error
	w.state = StateOpening
	for {
		switch w.state {
		case StateOpening:
			w.attempts++
			f, err := w.open(w.path)
			if err == nil {
				return w.deliver(f)
			}
			lastErr = err
			if w.attempts >= w.maxAttempts {
				w.state = StateFailed
				return &ExhaustedError{Path: w.path, Attempts: w.attempts, Err: lastErr}
			}
			w.state = StateBackoff

		case StateBackoff:
			d := w.backoff()
			w.logger.Debug("appendlog: target busy, retrying",
				slog.String("path", w.path),
				slog.Int("attempt", w.attempts),
				slog.Duration("delay", d),
				slog.String("error", lastErr.Error()))
			if err := w.sleep(ctx, d); err != nil {
				w.state = StateFailed
				return err
			}
			w.state = StateOpening

		default:
			return fmt.Errorf("appendlog: unexpected state %s", w.state)
		}
	}
}

// Close flushes pending content and discards the buffer regardless of the
// outcome.
func (w *Writer) Close(ctx context.Context) error {
	if w.closed {
		return nil
	}
	err := w.Flush(ctx)
	w.closed = true
	w.buf.Reset()
	return err
}

func (w *Writer) deliver(f io.WriteCloser) error {
	_, werr := f.Write(w.buf.Bytes())
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		w.state = StateFailed
		return fmt.Errorf("appendlog: write %s: %w", w.path, err)
	}
	w.buf.Reset()
	w.state = StateWritten
	return nil
}

func (w *Writer) backoff() time.Duration {
	span := w.maxBackoff - w.minBackoff
	if span <= 0 {
		return w.minBackoff
	}
	return w.minBackoff + w.jitter(span)
}

func openAppend(path string) (io.WriteCloser, error) {
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
