package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/u64stream/internal/certs"
	"github.com/zsiec/u64stream/internal/config"
	"github.com/zsiec/u64stream/internal/distribution"
	"github.com/zsiec/u64stream/internal/jitter"
	"github.com/zsiec/u64stream/internal/playback"
	"github.com/zsiec/u64stream/internal/protocol"
	"github.com/zsiec/u64stream/internal/record"
	"github.com/zsiec/u64stream/internal/stream"
)

var version = "dev"

// Audio jitter buffer sizing in interleaved samples: 500 ms of capacity,
// 125 ms of prefill.
const (
	jitterCapacity = protocol.SampleRate
	jitterMinFill  = protocol.SampleRate / 4
)

func main() {
	cfg, err := config.Parse(os.Args[0], os.Args[1:], os.Getenv, os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg); err != nil {
		slog.Error("viewer error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	slog.Info("u64view starting",
		"version", version,
		"video", fmt.Sprintf("%s:%d", cfg.VideoGroup, cfg.VideoPort),
		"audio", fmt.Sprintf("%s:%d", cfg.AudioGroup, cfg.AudioPort),
		"http", cfg.HTTPAddr,
		"dimensions", cfg.Dimensions.String(),
		"mute", cfg.Mute,
	)

	stats := distribution.NewStreamStats()
	relay := distribution.NewRelay(nil)
	encoder := distribution.NewFrameEncoder(cfg.Dimensions.Width, cfg.Dimensions.Height, cfg.Palette, relay, nil)
	consumerDone := make(chan struct{})

	var (
		buf   *jitter.Buffer[float32]
		clock *playback.Clock
	)
	opts := stream.Options{
		Video:         cfg.VideoIngest(),
		Audio:         cfg.AudioIngest(),
		Mute:          cfg.Mute,
		SkipMalformed: cfg.SkipMalformed,
		VideoStats:    stats,
		AudioStats:    stats,
		ConsumerDone:  consumerDone,
	}
	if !cfg.Mute {
		buf = jitter.New[float32](jitterCapacity, jitterMinFill)
		clock = playback.NewClock(buf, playback.DefaultConfig(), nil)
		clock.AddSink(relay)
		opts.AudioSink = buf
	}

	coord := stream.NewCoordinator(opts, nil)

	var rec *record.Recorder
	if cfg.RecordPath != "" && clock != nil {
		r, err := record.Create(cfg.RecordPath, nil)
		if err != nil {
			return err
		}
		rec = r
		defer func() {
			if err := rec.Close(); err != nil {
				slog.Error("closing recording", "error", err)
			}
		}()
		clock.AddSink(rec)
	} else if cfg.RecordPath != "" {
		slog.Warn("recording disabled while muted", "path", cfg.RecordPath)
	}

	var tlsConfig *tls.Config
	if cfg.TLS {
		cert, err := certs.Generate(0, cfg.TLSHosts...)
		if err != nil {
			return err
		}
		tlsConfig = cert.TLSConfig()
		slog.Info("generated self-signed certificate",
			"fingerprint", cert.FingerprintHex(),
			"expires", cert.NotAfter.Format(time.RFC3339),
		)
	}

	srv, err := distribution.NewServer(distribution.ServerConfig{
		Addr:   cfg.HTTPAddr,
		TLS:    tlsConfig,
		HTTP3:  cfg.HTTP3,
		Relay:  relay,
		Width:  cfg.Dimensions.Width,
		Height: cfg.Dimensions.Height,
		Muted:  cfg.Mute,
		Quit:   cancel,
		Stats: distribution.StatsProviderFunc(func() distribution.StreamSnapshot {
			snap := stats.Snapshot()
			snap.Muted = cfg.Mute
			snap.Ingest = coord.IngestStats()
			if buf != nil {
				js := buf.Stats()
				snap.Jitter = &js
			}
			if clock != nil {
				ps := clock.Stats()
				snap.Playback = &ps
			}
			return snap
		}),
	})
	if err != nil {
		return err
	}

	if err := coord.Open(); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return coord.Run(ctx)
	})

	g.Go(func() error {
		return encoder.Run(ctx, coord.Frames(), consumerDone)
	})

	if clock != nil {
		g.Go(func() error {
			return clock.Run(ctx)
		})
	}

	g.Go(func() error {
		return srv.Start(ctx)
	})

	err = g.Wait()
	slog.Info("u64view stopped",
		"frames", encoder.Encoded(),
		"viewers", relay.ViewerCount(),
	)
	return err
}
