package streamer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamerFlushesWhenFull(t *testing.T) {
	w := newFakeWriter()
	s := NewLoader(w, nil).NewStreamer(StreamerOptions{BufferSize: 2})
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "a", []byte("1")))
	assert.Equal(t, 0, w.total())
	require.NoError(t, s.Add(ctx, "b", []byte("2")))
	assert.Equal(t, 2, w.total())

	require.NoError(t, s.Add(ctx, "c", []byte("3")))
	report := s.Close(ctx)
	assert.Equal(t, 3, w.total())
	require.Len(t, report.Results, 3)
	for i, res := range report.Results {
		assert.Equal(t, i, res.Index)
		assert.Equal(t, Committed, res.Status)
	}

	assert.ErrorIs(t, s.Add(ctx, "d", nil), ErrClosed)
	assert.Same(t, report, s.Close(ctx))
}

func TestStreamerAddReportsCancelledFlush(t *testing.T) {
	w := newFakeWriter()
	s := NewLoader(w, nil).NewStreamer(StreamerOptions{BufferSize: 2})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Add(ctx, "a", []byte("1")))
	cancel()
	err := s.Add(ctx, "b", []byte("2"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, w.total())

	report := s.Close(context.Background())
	assert.Equal(t, 2, report.Count(Cancelled))
}

func TestStreamerAllowOverwrite(t *testing.T) {
	tests := []struct {
		overwrite bool
		want      string
	}{
		{overwrite: false, want: "1"},
		{overwrite: true, want: "2"},
	}
	for _, tt := range tests {
		w := newFakeWriter()
		s := NewLoader(w, nil).NewStreamer(StreamerOptions{AllowOverwrite: tt.overwrite})
		ctx := context.Background()
		require.NoError(t, s.Add(ctx, "k", []byte("1")))
		require.NoError(t, s.Add(ctx, "k", []byte("2")))
		report := s.Flush(ctx)

		assert.Equal(t, []string{tt.want}, w.written("k"), "overwrite=%v", tt.overwrite)
		assert.Equal(t, 1, report.Dispatched)
	}
}

func TestStreamerCopiesValues(t *testing.T) {
	w := newFakeWriter()
	s := NewLoader(w, nil).NewStreamer(StreamerOptions{})
	ctx := context.Background()

	v := []byte("x")
	require.NoError(t, s.Add(ctx, "k", v))
	v[0] = 'y'
	s.Flush(ctx)
	assert.Equal(t, []string{"x"}, w.written("k"))

	empty := s.Flush(ctx)
	assert.Empty(t, empty.Results)
}
