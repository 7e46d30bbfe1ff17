package palette

import (
	"image"

	"github.com/zsiec/u64stream/internal/protocol"
)

// Decoder expands nibble-packed frames into packed ARGB pixels for a
// width x height image, normally the protocol's 384x272.
//
// Each source row is protocol.BytesPerLine bytes. For the byte at column
// pair x of row y, the low nibble is the pixel at (2x, y) and the high
// nibble the pixel at (2x+1, y). Pixels that fall outside the destination
// are skipped, so frames of any length are accepted.
type Decoder struct {
	width   int
	height  int
	palette Palette
	lut     [Size]uint32
}

// NewDecoder creates a Decoder for the given image size and palette.
func NewDecoder(width, height int, p Palette) *Decoder {
	d := &Decoder{width: width, height: height, palette: p}
	for i, c := range p {
		d.lut[i] = c.U32()
	}
	return d
}

// Width returns the decoded image width in pixels.
func (d *Decoder) Width() int { return d.width }

// Height returns the decoded image height in pixels.
func (d *Decoder) Height() int { return d.height }

// Palette returns the palette the decoder was built with.
func (d *Decoder) Palette() Palette { return d.palette }

// NewBuffer allocates a destination buffer sized for the decoder.
func (d *Decoder) NewBuffer() []uint32 {
	return make([]uint32, d.width*d.height)
}

// Decode writes frame into dst. dst is normally from NewBuffer; a shorter
// dst only receives the pixels that fit.
func (d *Decoder) Decode(dst []uint32, frame []byte) {
	for i, b := range frame {
		y := i / protocol.BytesPerLine
		if y >= d.height {
			return
		}
		x := 2 * (i % protocol.BytesPerLine)
		pos := y*d.width + x
		if x < d.width && pos < len(dst) {
			dst[pos] = d.lut[b&0x0F]
		}
		if x+1 < d.width && pos+1 < len(dst) {
			dst[pos+1] = d.lut[b>>4]
		}
	}
}

// Indexes returns the palette indexes selected by b: the low nibble for the
// first pixel and the high nibble for the second.
func Indexes(b byte) (first, second uint8) {
	return b & 0x0F, b >> 4
}

// DecodeImage decodes frame into img, which must be Width x Height.
// Pixels are written fully opaque regardless of palette alpha.
func (d *Decoder) DecodeImage(img *image.RGBA, frame []byte) {
	for i, b := range frame {
		y := i / protocol.BytesPerLine
		if y >= d.height {
			return
		}
		x := 2 * (i % protocol.BytesPerLine)
		first, second := Indexes(b)
		d.setRGBA(img, x, y, first)
		d.setRGBA(img, x+1, y, second)
	}
}

func (d *Decoder) setRGBA(img *image.RGBA, x, y int, idx uint8) {
	if x >= d.width {
		return
	}
	off := img.PixOffset(x, y)
	if off < 0 || off+4 > len(img.Pix) {
		return
	}
	r, g, b := d.palette[idx].RGB()
	img.Pix[off] = r
	img.Pix[off+1] = g
	img.Pix[off+2] = b
	img.Pix[off+3] = 0xFF
}

// NewImage allocates an image sized for the decoder.
func (d *Decoder) NewImage() *image.RGBA {
	return image.NewRGBA(image.Rect(0, 0, d.width, d.height))
}
