package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/u64stream/internal/jitter"
)

type collectSink struct {
	mu     sync.Mutex
	chunks [][]float32
	err    error
}

func (s *collectSink) WriteSamples(samples []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, append([]float32(nil), samples...))
	return s.err
}

func (s *collectSink) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.chunks {
		n += len(c)
	}
	return n
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	assert.Equal(t, 48000, cfg.SampleRate)
	assert.Equal(t, 2, cfg.Channels)
	assert.Equal(t, 10*time.Millisecond, cfg.Interval)
}

func TestPullFansOut(t *testing.T) {
	t.Parallel()

	buf := jitter.New[float32](100, 0)
	buf.PushSlice([]float32{1, 2, 3, 4, 5, 6})

	c := NewClock(buf, Config{}, nil)
	a, b := &collectSink{}, &collectSink{}
	c.AddSink(a)
	c.AddSink(b)

	got := c.Pull(4)
	assert.Equal(t, 6, got)

	require.Len(t, a.chunks, 1)
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6, 0, 0}, a.chunks[0])
	assert.Equal(t, a.chunks, b.chunks)

	st := c.Stats()
	assert.Equal(t, int64(1), st.Ticks)
	assert.Equal(t, int64(8), st.Samples)
	assert.Equal(t, int64(6), st.RealSamples)
	assert.Equal(t, 2, st.Sinks)
}

func TestPullHonoursMinFill(t *testing.T) {
	t.Parallel()

	buf := jitter.New[float32](100, 10)
	buf.PushSlice([]float32{1, 2, 3})

	c := NewClock(buf, Config{}, nil)
	s := &collectSink{}
	c.AddSink(s)

	assert.Equal(t, 0, c.Pull(2))
	assert.Equal(t, []float32{0, 0, 0, 0}, s.chunks[0])
	assert.Equal(t, 3, buf.Len())
}

func TestPullCapsChunk(t *testing.T) {
	t.Parallel()

	c := NewClock(jitter.New[float32](10, 0), Config{SampleRate: 1000, Channels: 2, Interval: 10 * time.Millisecond}, nil)
	s := &collectSink{}
	c.AddSink(s)

	c.Pull(1_000_000)
	// Four 10 ms ticks at 1 kHz, stereo.
	assert.Equal(t, 80, s.total())
	assert.Equal(t, 0, c.Pull(0))
}

func TestFailingSinkDetached(t *testing.T) {
	t.Parallel()

	c := NewClock(jitter.New[float32](10, 0), Config{}, nil)
	bad := &collectSink{err: errors.New("closed")}
	good := &collectSink{}
	c.AddSink(bad)
	c.AddSink(good)

	c.Pull(1)
	c.Pull(1)

	assert.Len(t, bad.chunks, 1)
	assert.Len(t, good.chunks, 2)
	assert.Equal(t, 1, c.Stats().Sinks)

	c.RemoveSink(good)
	assert.Equal(t, 0, c.Stats().Sinks)
}

func TestRunPacesAndStops(t *testing.T) {
	t.Parallel()

	c := NewClock(jitter.New[float32](48000, 0), Config{Interval: 5 * time.Millisecond}, nil)
	s := &collectSink{}
	c.AddSink(s)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}

	// 100 ms of 48 kHz stereo is 9600 samples; allow generous scheduler slack.
	total := s.total()
	assert.Greater(t, total, 2000)
	assert.Less(t, total, 30000)
	assert.Zero(t, total%2, "chunks hold whole stereo frames")
}
