// Package stream owns the two multicast subscriptions and their receive
// loops for the lifetime of a viewing session.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/u64stream/internal/audio"
	"github.com/zsiec/u64stream/internal/ingest"
	"github.com/zsiec/u64stream/internal/video"
)

// Conn is a joined multicast socket. *ingest.Conn implements it.
type Conn interface {
	ingest.PacketReader
	Close() error
	Stats() ingest.Stats
}

// ListenFunc opens a subscription.
type ListenFunc func(cfg ingest.Config, log *slog.Logger) (Conn, error)

// ListenMulticast is the default ListenFunc, backed by ingest.Listen.
func ListenMulticast(cfg ingest.Config, log *slog.Logger) (Conn, error) {
	c, err := ingest.Listen(cfg, log)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Options configures a Coordinator.
type Options struct {
	Video ingest.Config
	Audio ingest.Config
	// Mute skips the audio subscription entirely.
	Mute          bool
	SkipMalformed bool

	// AudioSink receives decoded samples. Required unless Mute is set.
	AudioSink  audio.Sink
	VideoStats video.StatsRecorder
	AudioStats audio.StatsRecorder
	// ConsumerDone is closed by the frame consumer when it stops reading.
	ConsumerDone <-chan struct{}
	// Listen opens sockets; nil means ListenMulticast.
	Listen ListenFunc
}

// Coordinator binds both sockets, runs the video and audio loops under one
// errgroup and tears everything down when either loop fails or the context
// is cancelled.
type Coordinator struct {
	log    *slog.Logger
	opts   Options
	frames chan *video.Frame

	mu        sync.Mutex
	video     Conn
	audio     Conn
	startedAt time.Time
}

// NewCoordinator creates a Coordinator. If log is nil, slog.Default() is used.
func NewCoordinator(opts Options, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	if opts.Listen == nil {
		opts.Listen = ListenMulticast
	}
	return &Coordinator{
		log:    log.With("component", "stream"),
		opts:   opts,
		frames: make(chan *video.Frame, video.FrameBufferSize),
	}
}

// Frames is the bounded channel of completed frames. It is closed when the
// video loop ends.
func (c *Coordinator) Frames() <-chan *video.Frame {
	return c.frames
}

// Open binds and joins the sockets. On failure nothing is left open and the
// error wraps ingest.ErrBind or ingest.ErrJoin.
func (c *Coordinator) Open() error {
	if !c.opts.Mute && c.opts.AudioSink == nil {
		return errors.New("stream: AudioSink is required unless muted")
	}

	v, err := c.opts.Listen(c.opts.Video, c.log)
	if err != nil {
		return fmt.Errorf("video: %w", err)
	}
	var a Conn
	if !c.opts.Mute {
		a, err = c.opts.Listen(c.opts.Audio, c.log)
		if err != nil {
			v.Close()
			return fmt.Errorf("audio: %w", err)
		}
	}

	c.mu.Lock()
	c.video, c.audio = v, a
	c.startedAt = time.Now()
	c.mu.Unlock()

	c.log.Info("stream opened",
		"video", fmt.Sprintf("%s:%d", c.opts.Video.Group, c.opts.Video.Port),
		"audio", fmt.Sprintf("%s:%d", c.opts.Audio.Group, c.opts.Audio.Port),
		"mute", c.opts.Mute,
	)
	return nil
}

// Run starts the receive loops and blocks until both have ended. Cancelling
// ctx closes the sockets, which unblocks any pending read. The first loop
// error is returned; a clean shutdown returns nil. Open must have succeeded.
func (c *Coordinator) Run(ctx context.Context) error {
	c.mu.Lock()
	v, a := c.video, c.audio
	c.mu.Unlock()
	if v == nil {
		return errors.New("stream: Run called before Open")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(c.frames)
		rx := video.NewReceiver(video.Options{
			SkipMalformed: c.opts.SkipMalformed,
			ConsumerDone:  c.opts.ConsumerDone,
			Stats:         c.opts.VideoStats,
		}, c.log)
		return rx.Run(gctx, v, c.frames)
	})

	g.Go(func() error {
		if a == nil {
			<-gctx.Done()
			return nil
		}
		rx := audio.NewReceiver(c.opts.AudioSink, c.opts.AudioStats, c.opts.SkipMalformed, c.log)
		return rx.Run(gctx, a)
	})

	g.Go(func() error {
		<-gctx.Done()
		c.closeConns()
		return nil
	})

	err := g.Wait()
	c.log.Info("stream stopped", "uptime", time.Since(c.startedAt).Round(time.Millisecond))
	return err
}

func (c *Coordinator) closeConns() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.video != nil {
		if err := c.video.Close(); err != nil {
			c.log.Debug("closing video socket", "error", err)
		}
	}
	if c.audio != nil {
		if err := c.audio.Close(); err != nil {
			c.log.Debug("closing audio socket", "error", err)
		}
	}
}

// IngestStats returns per-socket counters for the open subscriptions.
func (c *Coordinator) IngestStats() []ingest.Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []ingest.Stats
	for _, conn := range []Conn{c.video, c.audio} {
		if conn != nil {
			out = append(out, conn.Stats())
		}
	}
	return out
}
