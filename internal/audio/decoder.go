// Package audio turns Ultimate 64 audio packets into a stream of normalized
// interleaved stereo samples.
//
// The protocol has no retransmission, so loss is masked rather than
// repaired: when the sequence number skips, one packet's worth of silence is
// written ahead of the next payload and the reader keeps its cadence.
package audio

import (
	"log/slog"

	"github.com/zsiec/u64stream/internal/protocol"
)

// GapSilence is the number of zero samples inserted for a sequence gap.
const GapSilence = 384

// Sink receives decoded samples. The slice is reused after PushSlice
// returns. *jitter.Buffer[float32] implements it.
type Sink interface {
	PushSlice(samples []float32)
}

// StatsRecorder receives telemetry from the audio path. The distribution
// layer's Stats implements it.
type StatsRecorder interface {
	RecordAudioPacket(bytes int)
	RecordSequenceGap(expected, got uint16)
	RecordMalformed(stream string)
}

// SampleToFloat maps a signed 16-bit sample onto [-1, 1).
func SampleToFloat(s int16) float32 {
	return float32(s) / 32768
}

// Decoder tracks sequence continuity and converts packet payloads.
type Decoder struct {
	log     *slog.Logger
	sink    Sink
	stats   StatsRecorder
	prevSeq uint16
	hasPrev bool

	scratch [GapSilence + protocol.SamplesPerPacket]float32
}

// NewDecoder creates a Decoder writing into sink. stats may be nil. If log
// is nil, slog.Default() is used.
func NewDecoder(sink Sink, stats StatsRecorder, log *slog.Logger) *Decoder {
	if log == nil {
		log = slog.Default()
	}
	return &Decoder{
		log:   log.With("component", "audio"),
		sink:  sink,
		stats: stats,
	}
}

// Decode pushes p's samples, left then right for each pair, preceded by
// GapSilence zero samples when p.Seq does not follow the previous packet.
// It reports whether a gap was detected. The whole packet reaches the sink
// in a single PushSlice call.
func (d *Decoder) Decode(p *protocol.AudioPacket) bool {
	gap := false
	if d.hasPrev {
		expected := d.prevSeq + 1
		if p.Seq != expected {
			gap = true
			d.log.Debug("dropped audio packet", "expected", expected, "got", p.Seq)
			if d.stats != nil {
				d.stats.RecordSequenceGap(expected, p.Seq)
			}
		}
	}
	d.prevSeq = p.Seq
	d.hasPrev = true

	out := d.scratch[:0]
	if gap {
		out = d.scratch[:GapSilence]
		clear(out)
	}
	for _, pair := range p.Data {
		out = append(out, SampleToFloat(pair[0]), SampleToFloat(pair[1]))
	}
	d.sink.PushSlice(out)
	return gap
}

// LastSeq returns the most recent sequence number and whether any packet
// has been decoded.
func (d *Decoder) LastSeq() (uint16, bool) {
	return d.prevSeq, d.hasPrev
}
