package streamer

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// DefaultBufferSize is the number of entries a Streamer buffers before it
// flushes on its own.
const DefaultBufferSize = 512

// ErrClosed is returned by Add after Close.
var ErrClosed = errors.New("streamer closed")

// StreamerOptions configures a Streamer.
type StreamerOptions struct {
	BufferSize int
	// AllowOverwrite sets Overwrite on every added entry.
	AllowOverwrite bool
	Parallelism    int
	FailFast       bool
}

// Streamer buffers entries and loads them in batches. It is safe for
// concurrent use.
type Streamer struct {
	loader *Loader
	opts   StreamerOptions

	mu     sync.Mutex
	buf    []BatchEntry
	total  *Report
	closed bool
}

// NewStreamer creates a streamer over l.
func (l *Loader) NewStreamer(opts StreamerOptions) *Streamer {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	return &Streamer{
		loader: l,
		opts:   opts,
		total:  &Report{LoadID: uuid.New()},
	}
}

// Add buffers (key, value), flushing when the buffer is full. When that
// flush is cut short by ctx, Add returns the context error; the entries it
// did not dispatch are reported Cancelled.
func (s *Streamer) Add(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.buf = append(s.buf, BatchEntry{
		Key:       key,
		Value:     append([]byte(nil), value...),
		Overwrite: s.opts.AllowOverwrite,
	})
	if len(s.buf) >= s.opts.BufferSize {
		report := s.flushLocked(ctx)
		if n := report.Count(Cancelled); n > 0 {
			return errors.Wrapf(ctx.Err(), "flush cancelled with %d entries not loaded", n)
		}
	}
	return nil
}

// Flush loads everything buffered and returns the report of that load.
func (s *Streamer) Flush(ctx context.Context) *Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked(ctx)
}

// Close flushes and returns the report of every load the streamer ran.
func (s *Streamer) Close(ctx context.Context) *Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.flushLocked(ctx)
		s.closed = true
	}
	return s.total
}

func (s *Streamer) flushLocked(ctx context.Context) *Report {
	if len(s.buf) == 0 {
		return &Report{LoadID: uuid.New()}
	}
	batch := s.buf
	s.buf = nil
	report := s.loader.Load(ctx, batch, Options{Parallelism: s.opts.Parallelism, FailFast: s.opts.FailFast})
	s.total.merge(report)
	return report
}
