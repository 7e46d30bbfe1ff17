package palette

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/u64stream/internal/protocol"
)

func TestColorU32(t *testing.T) {
	t.Parallel()

	assert.Equal(t, uint32(0x00000000), Color{0, 0, 0, 0}.U32())
	assert.Equal(t, uint32(0x00FFFFFF), Color{0, 0xFF, 0xFF, 0xFF}.U32())
	assert.Equal(t, uint32(0x00FF0000), Color{0, 0xFF, 0, 0}.U32())
	assert.Equal(t, uint32(0x12345678), Color{0x12, 0x34, 0x56, 0x78}.U32())
}

func TestDefaultPalette(t *testing.T) {
	t.Parallel()

	assert.Len(t, Default, 16)
	assert.Equal(t, uint32(0), Default[0].U32(), "index 0 is black")
	for i, c := range Default {
		assert.Equal(t, uint8(0), c[0], "entry %d alpha", i)
	}
}

func TestParseOverride(t *testing.T) {
	t.Parallel()

	got, err := ParseOverride("FF0000,00FF00,0000FF,FFFF00,FF00FF,00FFFF,FFFFFF,000000,808080,800000,008000,000080,808000,800080,008080,C0C0C0")
	require.NoError(t, err)
	require.Len(t, got, 16)
	assert.Equal(t, uint32(0xFF0000), got[0])
	assert.Equal(t, uint32(0x00FF00), got[1])
	assert.Equal(t, uint32(0x0000FF), got[2])
	assert.Equal(t, uint32(0xC0C0C0), got[15])
}

func TestParseOverrideSpacesAndCase(t *testing.T) {
	t.Parallel()

	got, err := ParseOverride("ff0000, 00ff00 ,c0c0c0")
	require.NoError(t, err)
	assert.Equal(t, []uint32{0xFF0000, 0x00FF00, 0xC0C0C0}, got)

	got, err = ParseOverride("  ")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestParseOverrideInvalidHex(t *testing.T) {
	t.Parallel()

	_, err := ParseOverride("GGGGGG,00FF00")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid hex value")

	_, err = ParseOverride("FF0000,,00FF00")
	assert.Error(t, err)
}

func TestFromRGB(t *testing.T) {
	t.Parallel()

	rgb := make([]uint32, 16)
	rgb[3] = 0x123456
	rgb[15] = 0xFFFFFFFF
	p, err := FromRGB(rgb)
	require.NoError(t, err)
	assert.Equal(t, Color{0, 0x12, 0x34, 0x56}, p[3])
	assert.Equal(t, Color{0, 0xFF, 0xFF, 0xFF}, p[15])

	_, err = FromRGB(rgb[:15])
	assert.ErrorIs(t, err, ErrPaletteSize)
	_, err = FromRGB(append(rgb, 0))
	assert.ErrorIs(t, err, ErrPaletteSize)
}

func indexPalette() Palette {
	var p Palette
	for i := range p {
		p[i] = Color{0, 0, 0, uint8(i)}
	}
	return p
}

func TestIndexes(t *testing.T) {
	t.Parallel()

	first, second := Indexes(0xAB)
	assert.Equal(t, uint8(0xB), first)
	assert.Equal(t, uint8(0xA), second)
}

func TestDecodeNibbleOrder(t *testing.T) {
	t.Parallel()

	d := NewDecoder(protocol.LineWidth, protocol.FrameHeight, indexPalette())
	dst := d.NewBuffer()
	d.Decode(dst, []byte{0xAB})

	assert.Equal(t, uint32(0xB), dst[0])
	assert.Equal(t, uint32(0xA), dst[1])
}

func TestDecodeRowLayout(t *testing.T) {
	t.Parallel()

	d := NewDecoder(protocol.LineWidth, protocol.FrameHeight, indexPalette())
	frame := make([]byte, protocol.FrameSize)
	// First byte of row 1, last byte of row 2.
	frame[protocol.BytesPerLine] = 0x21
	frame[2*protocol.BytesPerLine+191] = 0x43
	frame[protocol.FrameSize-1] = 0xF0

	dst := d.NewBuffer()
	d.Decode(dst, frame)

	w := protocol.LineWidth
	assert.Equal(t, uint32(1), dst[w])
	assert.Equal(t, uint32(2), dst[w+1])
	assert.Equal(t, uint32(3), dst[2*w+382])
	assert.Equal(t, uint32(4), dst[2*w+383])
	assert.Equal(t, uint32(0xF), dst[len(dst)-1])
	assert.Equal(t, uint32(0), dst[len(dst)-2])
}

func TestDecodeToleratesMismatchedSizes(t *testing.T) {
	t.Parallel()

	d := NewDecoder(protocol.LineWidth, protocol.FrameHeight, indexPalette())

	// Oversized frame: extra rows are ignored.
	big := make([]byte, protocol.FrameSize+3*protocol.VideoPayloadSize)
	for i := range big {
		big[i] = 0x11
	}
	dst := d.NewBuffer()
	assert.NotPanics(t, func() { d.Decode(dst, big) })
	assert.Equal(t, uint32(1), dst[len(dst)-1])

	// Short frame: only the covered pixels change.
	dst = d.NewBuffer()
	d.Decode(dst, []byte{0x11, 0x11})
	assert.Equal(t, []uint32{1, 1, 1, 1, 0}, dst[:5])

	// Short destination.
	small := make([]uint32, 3)
	assert.NotPanics(t, func() { d.Decode(small, big) })
	assert.Equal(t, []uint32{1, 1, 1}, small)
}

func TestDecodeAndDecodeImageAgree(t *testing.T) {
	t.Parallel()

	d := NewDecoder(protocol.LineWidth, protocol.FrameHeight, Default)
	assert.Equal(t, protocol.LineWidth, d.Width())
	assert.Equal(t, protocol.FrameHeight, d.Height())
	assert.Equal(t, Default, d.Palette())

	frame := make([]byte, Size/2)
	for i := range frame {
		frame[i] = byte(2*i) | byte(2*i+1)<<4
	}
	dst := d.NewBuffer()
	d.Decode(dst, frame)
	img := d.NewImage()
	d.DecodeImage(img, frame)

	for x := 0; x < Size; x++ {
		r, g, b := Default[x].RGB()
		assert.Equal(t, Default[x].U32(), dst[x], "index %d", x)
		assert.Equal(t, uint32(r)<<16|uint32(g)<<8|uint32(b), dst[x]&0xFFFFFF, "index %d", x)
		assert.Equal(t, []uint8{r, g, b, 0xFF}, img.Pix[4*x:4*x+4], "index %d", x)
	}
}

func TestDecodeImage(t *testing.T) {
	t.Parallel()

	d := NewDecoder(protocol.LineWidth, protocol.FrameHeight, Default)
	img := d.NewImage()
	d.DecodeImage(img, []byte{0x10})

	r, g, b := Default[0].RGB()
	assert.Equal(t, []uint8{r, g, b, 0xFF}, img.Pix[0:4])
	r, g, b = Default[1].RGB()
	assert.Equal(t, []uint8{r, g, b, 0xFF}, img.Pix[4:8])
	assert.Equal(t, []uint8{0, 0, 0, 0}, img.Pix[8:12], "untouched pixel")
}
