package distribution

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"sync/atomic"

	"golang.org/x/image/draw"

	"github.com/zsiec/u64stream/internal/palette"
	"github.com/zsiec/u64stream/internal/protocol"
	"github.com/zsiec/u64stream/internal/video"
)

// pngPool lets png.Encoder reuse its scratch buffers between frames.
type pngPool struct {
	b atomic.Pointer[png.EncoderBuffer]
}

func (p *pngPool) Get() *png.EncoderBuffer  { return p.b.Swap(nil) }
func (p *pngPool) Put(b *png.EncoderBuffer) { p.b.Store(b) }

// FrameEncoder is the presentation consumer: it drains completed frames,
// decodes them through the palette at the native 384x272 geometry, scales
// the picture to the presentation size and hands PNG pictures to the relay.
type FrameEncoder struct {
	log   *slog.Logger
	dec   *palette.Decoder
	relay *Relay
	src   *image.RGBA
	// out is the presentation picture; it is src itself when no scaling
	// is needed.
	out *image.RGBA
	fit image.Rectangle
	enc png.Encoder
	buf bytes.Buffer

	encoded atomic.Int64
}

// NewFrameEncoder creates a FrameEncoder that renders into a
// width x height picture. The frame keeps its aspect ratio and is centered,
// with black bars filling the rest. If log is nil, slog.Default() is used.
func NewFrameEncoder(width, height int, p palette.Palette, relay *Relay, log *slog.Logger) *FrameEncoder {
	if log == nil {
		log = slog.Default()
	}
	if width <= 0 || height <= 0 {
		width, height = protocol.LineWidth, protocol.FrameHeight
	}
	dec := palette.NewDecoder(protocol.LineWidth, protocol.FrameHeight, p)
	e := &FrameEncoder{
		log:   log.With("component", "encoder"),
		dec:   dec,
		relay: relay,
		src:   dec.NewImage(),
		enc:   png.Encoder{CompressionLevel: png.BestSpeed, BufferPool: &pngPool{}},
	}
	e.out = e.src
	e.fit = e.src.Bounds()
	if width != dec.Width() || height != dec.Height() {
		e.out = image.NewRGBA(image.Rect(0, 0, width, height))
		draw.Draw(e.out, e.out.Bounds(), image.Black, image.Point{}, draw.Src)
		e.fit = FitRect(width, height, dec.Width(), dec.Height())
	}
	return e
}

// FitRect returns the largest rectangle with the aspect ratio of srcW x srcH
// that fits centered in a w x h area.
func FitRect(w, h, srcW, srcH int) image.Rectangle {
	fw, fh := w, h
	if w*srcH > h*srcW {
		fw = (h*srcW + srcH/2) / srcH
	} else {
		fh = (w*srcH + srcW/2) / srcW
	}
	x0, y0 := (w-fw)/2, (h-fh)/2
	return image.Rect(x0, y0, x0+fw, y0+fh)
}

// Encode renders one frame and broadcasts it. The frame is released.
func (e *FrameEncoder) Encode(f *video.Frame) error {
	defer f.Release()

	e.dec.DecodeImage(e.src, f.Data)
	if e.out != e.src {
		draw.NearestNeighbor.Scale(e.out, e.fit, e.src, e.src.Bounds(), draw.Src, nil)
	}

	e.buf.Reset()
	if err := e.enc.Encode(&e.buf, e.out); err != nil {
		return fmt.Errorf("encoding frame %d: %w", f.Number, err)
	}
	e.relay.BroadcastVideo(e.buf.Bytes())

	e.encoded.Add(1)
	return nil
}

// Run consumes frames until ctx is cancelled or frames is closed. done is
// closed on return so the video receiver can tell the consumer is gone.
func (e *FrameEncoder) Run(ctx context.Context, frames <-chan *video.Frame, done chan<- struct{}) error {
	if done != nil {
		defer close(done)
	}
	e.log.Info("frame encoder started",
		"width", e.out.Bounds().Dx(),
		"height", e.out.Bounds().Dy(),
		"picture", e.fit.String(),
	)
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-frames:
			if !ok {
				return nil
			}
			if err := e.Encode(f); err != nil {
				e.log.Warn("frame encode failed", "error", err)
			}
		}
	}
}

// Encoded returns the number of frames encoded so far.
func (e *FrameEncoder) Encoded() int64 {
	return e.encoded.Load()
}
