// Package record writes the played-out audio stream to a 16-bit PCM WAV file.
package record

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/zsiec/u64stream/internal/protocol"
)

// ErrClosed is returned by WriteSamples after Close.
var ErrClosed = errors.New("recorder closed")

const (
	bitDepth  = 16
	pcmFormat = 1
)

// Recorder is a playback sink that encodes samples into a WAV container.
// It is safe for concurrent use.
type Recorder struct {
	log *slog.Logger

	mu      sync.Mutex
	file    io.Closer
	enc     *wav.Encoder
	buf     *audio.IntBuffer
	samples int64
	closed  bool
}

// Create opens path for writing, truncating any existing file.
func Create(path string, log *slog.Logger) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating recording: %w", err)
	}
	r := New(f, log)
	r.file = f
	r.log.Info("recording audio", "path", path)
	return r, nil
}

// New writes to w, which must support seeking so the header can be patched
// on Close. If w is also an io.Closer it is not closed; use Create for that.
func New(w io.WriteSeeker, log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{
		log: log.With("component", "record"),
		enc: wav.NewEncoder(w, protocol.SampleRate, bitDepth, protocol.Channels, pcmFormat),
		buf: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: protocol.Channels, SampleRate: protocol.SampleRate},
			SourceBitDepth: bitDepth,
		},
	}
}

// FloatToPCM16 maps a sample in [-1, 1] to a signed 16-bit integer,
// clamping values outside the range. It inverts audio.SampleToFloat exactly.
func FloatToPCM16(f float32) int {
	v := math.Round(float64(f) * 32768)
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int(v)
}

// WriteSamples appends interleaved stereo samples to the file.
func (r *Recorder) WriteSamples(samples []float32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if len(samples) == 0 {
		return nil
	}

	data := r.buf.Data[:0]
	for _, s := range samples {
		data = append(data, FloatToPCM16(s))
	}
	r.buf.Data = data

	if err := r.enc.Write(r.buf); err != nil {
		return fmt.Errorf("writing wav samples: %w", err)
	}
	r.samples += int64(len(samples))
	return nil
}

// Samples returns the number of samples written so far.
func (r *Recorder) Samples() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.samples
}

// Close finalizes the WAV header and closes the file opened by Create.
// Calling Close more than once is a no-op.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	err := r.enc.Close()
	if r.file != nil {
		if cerr := r.file.Close(); err == nil {
			err = cerr
		}
	}
	r.log.Info("recording finished",
		"samples", r.samples,
		"seconds", float64(r.samples)/float64(protocol.SampleRate*protocol.Channels),
	)
	if err != nil {
		return fmt.Errorf("finalizing recording: %w", err)
	}
	return nil
}
