package video

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gobwas/pool/pbytes"

	"github.com/zsiec/u64stream/internal/ingest"
	"github.com/zsiec/u64stream/internal/protocol"
)

// ErrConsumerGone is logged when a completed frame cannot be delivered
// because the presentation consumer has stopped reading.
var ErrConsumerGone = errors.New("frame consumer gone")

// StatsRecorder receives telemetry from the video receive loop. The
// distribution layer's Stats implements it.
type StatsRecorder interface {
	RecordVideoPacket(bytes int)
	RecordVideoFrame(f *Frame)
	RecordFrameDropped()
	RecordMalformed(stream string)
}

// Options configures a Receiver.
type Options struct {
	// SkipMalformed logs and skips short datagrams instead of ending the loop.
	SkipMalformed bool
	// ConsumerDone, when closed, signals that nobody reads the output
	// channel anymore. Frames completed afterwards are dropped.
	ConsumerDone <-chan struct{}
	Stats        StatsRecorder
}

// Receiver reads video datagrams, reassembles frames and sends each completed
// frame on an output channel.
type Receiver struct {
	log  *slog.Logger
	opts Options
	r    *Reassembler

	warnedEncoding bool
}

// NewReceiver creates a Receiver. If log is nil, slog.Default() is used.
func NewReceiver(opts Options, log *slog.Logger) *Receiver {
	if log == nil {
		log = slog.Default()
	}
	return &Receiver{
		log:  log.With("component", "video"),
		opts: opts,
		r:    NewReassembler(),
	}
}

// Run receives packets from conn until ctx is cancelled or a fatal error
// occurs. Cancellation is observed between packets; Run returns nil when it
// stops because of it. A malformed datagram ends the loop with an error
// wrapping protocol.ErrMalformedPacket unless Options.SkipMalformed is set.
//
// Sends on out block while the consumer is behind.
func (rc *Receiver) Run(ctx context.Context, conn ingest.PacketReader, out chan<- *Frame) error {
	rc.log.Debug("starting video receiver")

	buf := pbytes.GetLen(protocol.VideoPacketSize)
	defer pbytes.Put(buf)
	var pkt protocol.VideoPacket

	for ctx.Err() == nil {
		n, src, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("video receive: %w", err)
		}
		rc.log.Debug("datagram", "bytes", n, "src", src)

		if err := protocol.ParseVideoPacket(buf[:n], &pkt); err != nil {
			if rc.opts.Stats != nil {
				rc.opts.Stats.RecordMalformed("video")
			}
			if rc.opts.SkipMalformed {
				rc.log.Debug("skipping malformed packet", "error", err)
				continue
			}
			return fmt.Errorf("invalid video packet: %w", err)
		}
		if rc.opts.Stats != nil {
			rc.opts.Stats.RecordVideoPacket(n)
		}

		if pkt.Encoding != protocol.EncodingRaw && !rc.warnedEncoding {
			rc.warnedEncoding = true
			rc.log.Warn("unsupported encoding, passing payload through raw", "encoding", pkt.Encoding.String())
		}

		frame := rc.r.Push(&pkt)
		if frame == nil {
			continue
		}
		if rc.opts.Stats != nil {
			rc.opts.Stats.RecordVideoFrame(frame)
		}
		if err := rc.deliver(ctx, frame, out); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			rc.log.Debug("frame dropped", "frame", frame.Number, "error", err)
		}
	}
	return nil
}

func (rc *Receiver) deliver(ctx context.Context, f *Frame, out chan<- *Frame) error {
	select {
	case <-rc.opts.ConsumerDone:
		return rc.drop(f)
	default:
	}

	select {
	case out <- f:
		return nil
	case <-ctx.Done():
		f.Release()
		return ctx.Err()
	case <-rc.opts.ConsumerDone:
		return rc.drop(f)
	}
}

func (rc *Receiver) drop(f *Frame) error {
	f.Release()
	if rc.opts.Stats != nil {
		rc.opts.Stats.RecordFrameDropped()
	}
	return ErrConsumerGone
}
