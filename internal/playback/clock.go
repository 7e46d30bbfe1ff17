// Package playback drains the audio jitter buffer at the stream's sample
// rate and hands each chunk to the attached outputs.
//
// The Clock plays the role of a sound card's callback: it pulls on its own
// cadence whether or not the network is keeping up, so an underrun is heard
// as silence rather than a stall.
package playback

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/u64stream/internal/protocol"
)

// Source yields samples on demand. *jitter.Buffer[float32] implements it.
type Source interface {
	PopInto(dst []float32) int
}

// Sink consumes interleaved samples. The slice is reused after WriteSamples
// returns. A Sink that returns an error is detached.
type Sink interface {
	WriteSamples(samples []float32) error
}

// Config tunes the Clock.
type Config struct {
	SampleRate int
	Channels   int
	// Interval is the wake-up period. Each tick pulls the frames that fell
	// due since the previous one.
	Interval time.Duration
}

// DefaultConfig matches the Ultimate 64 stream: 48 kHz stereo, 10 ms ticks.
func DefaultConfig() Config {
	return Config{
		SampleRate: protocol.SampleRate,
		Channels:   protocol.Channels,
		Interval:   10 * time.Millisecond,
	}
}

// Stats reports Clock activity.
type Stats struct {
	Ticks       int64 `json:"ticks"`
	Samples     int64 `json:"samples"`
	RealSamples int64 `json:"realSamples"`
	Sinks       int   `json:"sinks"`
}

// Clock is the fixed-cadence reader of a Source.
type Clock struct {
	log  *slog.Logger
	src  Source
	cfg  Config
	buf  []float32
	maxF int

	mu    sync.Mutex
	sinks []Sink

	ticks       atomic.Int64
	samples     atomic.Int64
	realSamples atomic.Int64
}

// NewClock creates a Clock reading from src. Zero fields in cfg take their
// DefaultConfig values. If log is nil, slog.Default() is used.
func NewClock(src Source, cfg Config, log *slog.Logger) *Clock {
	if log == nil {
		log = slog.Default()
	}
	def := DefaultConfig()
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = def.Channels
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	// Never catch up more than four ticks at once after a stall.
	maxFrames := int(int64(cfg.SampleRate) * int64(cfg.Interval) * 4 / int64(time.Second))
	if maxFrames < 1 {
		maxFrames = 1
	}
	return &Clock{
		log:  log.With("component", "playback"),
		src:  src,
		cfg:  cfg,
		buf:  make([]float32, maxFrames*cfg.Channels),
		maxF: maxFrames,
	}
}

// AddSink attaches s. It receives every chunk pulled after the call.
func (c *Clock) AddSink(s Sink) {
	c.mu.Lock()
	c.sinks = append(c.sinks, s)
	c.mu.Unlock()
}

// RemoveSink detaches s if attached.
func (c *Clock) RemoveSink(s Sink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, have := range c.sinks {
		if have == s {
			c.sinks = append(c.sinks[:i], c.sinks[i+1:]...)
			return
		}
	}
}

// Pull reads frames sample frames (frames*Channels samples) from the source
// and fans them out to every sink. frames is capped at four ticks' worth.
// It returns the number of samples that were real buffered data.
func (c *Clock) Pull(frames int) int {
	if frames <= 0 {
		return 0
	}
	if frames > c.maxF {
		frames = c.maxF
	}
	chunk := c.buf[:frames*c.cfg.Channels]
	got := c.src.PopInto(chunk)

	c.ticks.Add(1)
	c.samples.Add(int64(len(chunk)))
	c.realSamples.Add(int64(got))

	c.mu.Lock()
	sinks := append([]Sink(nil), c.sinks...)
	c.mu.Unlock()

	for _, s := range sinks {
		if err := s.WriteSamples(chunk); err != nil {
			c.log.Warn("detaching audio sink", "error", err)
			c.RemoveSink(s)
		}
	}
	return got
}

// Run pulls on every tick until ctx is cancelled. The number of frames per
// tick follows wall-clock time so scheduling jitter does not drift the rate.
func (c *Clock) Run(ctx context.Context) error {
	c.log.Info("playback clock started", "sample_rate", c.cfg.SampleRate, "channels", c.cfg.Channels, "interval", c.cfg.Interval)

	t := time.NewTicker(c.cfg.Interval)
	defer t.Stop()

	start := time.Now()
	var emitted int64
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			due := int64(now.Sub(start).Seconds()*float64(c.cfg.SampleRate)) - emitted
			if due <= 0 {
				continue
			}
			if due > int64(c.maxF) {
				c.log.Debug("playback clock behind, skipping ahead", "frames", due-int64(c.maxF))
			}
			c.Pull(int(due))
			// Frames skipped while behind are forfeited.
			emitted += due
		}
	}
}

// Stats returns a snapshot of Clock counters.
func (c *Clock) Stats() Stats {
	c.mu.Lock()
	n := len(c.sinks)
	c.mu.Unlock()
	return Stats{
		Ticks:       c.ticks.Load(),
		Samples:     c.samples.Load(),
		RealSamples: c.realSamples.Load(),
		Sinks:       n,
	}
}
