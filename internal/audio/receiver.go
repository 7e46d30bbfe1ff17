package audio

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gobwas/pool/pbytes"

	"github.com/zsiec/u64stream/internal/ingest"
	"github.com/zsiec/u64stream/internal/protocol"
)

// Receiver reads audio datagrams and feeds them through a Decoder.
type Receiver struct {
	log           *slog.Logger
	dec           *Decoder
	stats         StatsRecorder
	skipMalformed bool
}

// NewReceiver creates a Receiver that decodes into sink. When skipMalformed
// is set, short datagrams are logged and skipped instead of ending the loop.
// stats may be nil. If log is nil, slog.Default() is used.
func NewReceiver(sink Sink, stats StatsRecorder, skipMalformed bool, log *slog.Logger) *Receiver {
	if log == nil {
		log = slog.Default()
	}
	return &Receiver{
		log:           log.With("component", "audio"),
		dec:           NewDecoder(sink, stats, log),
		stats:         stats,
		skipMalformed: skipMalformed,
	}
}

// Run receives packets from conn until ctx is cancelled or a fatal error
// occurs. Cancellation is observed between packets; Run returns nil when it
// stops because of it.
func (rc *Receiver) Run(ctx context.Context, conn ingest.PacketReader) error {
	rc.log.Debug("starting audio receiver")

	buf := pbytes.GetLen(protocol.AudioPacketSize)
	defer pbytes.Put(buf)
	var pkt protocol.AudioPacket

	for ctx.Err() == nil {
		n, src, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("audio receive: %w", err)
		}
		rc.log.Debug("datagram", "bytes", n, "src", src)

		if err := protocol.ParseAudioPacket(buf[:n], &pkt); err != nil {
			if rc.stats != nil {
				rc.stats.RecordMalformed("audio")
			}
			if rc.skipMalformed {
				rc.log.Debug("skipping malformed packet", "error", err)
				continue
			}
			return fmt.Errorf("invalid audio packet: %w", err)
		}
		if rc.stats != nil {
			rc.stats.RecordAudioPacket(n)
		}
		rc.dec.Decode(&pkt)
	}
	return nil
}
