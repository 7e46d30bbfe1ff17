// Package palette decodes nibble-packed frames through a 16-entry color table.
package palette

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Size is the number of palette entries addressable by a nibble.
const Size = 16

// ErrPaletteSize is returned when an override does not have exactly Size entries.
var ErrPaletteSize = errors.New("palette must have exactly 16 colors")

// Color is an ARGB quadruple.
type Color [4]uint8

// U32 packs c as 0xAARRGGBB.
func (c Color) U32() uint32 {
	return uint32(c[0])<<24 | uint32(c[1])<<16 | uint32(c[2])<<8 | uint32(c[3])
}

// RGB returns the red, green and blue components.
func (c Color) RGB() (r, g, b uint8) {
	return c[1], c[2], c[3]
}

// Palette maps a 4-bit index to a color.
type Palette [Size]Color

// Default is the stock Ultimate 64 VIC-II palette. Alpha is zero.
var Default = Palette{
	{0x00, 0x00, 0x00, 0x00}, // black
	{0x00, 0xEF, 0xEF, 0xEF}, // white
	{0x00, 0x8D, 0x2F, 0x34}, // red
	{0x00, 0x6A, 0xD4, 0xCD}, // cyan
	{0x00, 0x98, 0x35, 0xA4}, // purple
	{0x00, 0x4C, 0xB4, 0x42}, // green
	{0x00, 0x2C, 0x29, 0xB1}, // blue
	{0x00, 0xEF, 0xEF, 0x5D}, // yellow
	{0x00, 0x98, 0x4E, 0x20}, // orange
	{0x00, 0x5B, 0x38, 0x00}, // brown
	{0x00, 0xD1, 0x67, 0x6D}, // light red
	{0x00, 0x4A, 0x4A, 0x4A}, // dark grey
	{0x00, 0x7B, 0x7B, 0x7B}, // grey
	{0x00, 0x9F, 0xEF, 0x93}, // light green
	{0x00, 0x6D, 0x6A, 0xEF}, // light blue
	{0x00, 0xB2, 0xB2, 0xB2}, // light grey
}

// FromRGB builds a palette from exactly Size 0xRRGGBB values. Bits above
// 24 are ignored and alpha is zero.
func FromRGB(rgb []uint32) (Palette, error) {
	var p Palette
	if len(rgb) != Size {
		return p, fmt.Errorf("got %d colors: %w", len(rgb), ErrPaletteSize)
	}
	for i, v := range rgb {
		p[i] = Color{0, uint8(v >> 16), uint8(v >> 8), uint8(v)}
	}
	return p, nil
}

// ParseOverride parses a comma separated list of hex RGB values such as
// "FF0000, 00ff00,...". It does not check the count; see FromRGB.
func ParseOverride(s string) ([]uint32, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]uint32, 0, len(parts))
	for _, part := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(part), 16, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid hex value: %q", part)
		}
		out = append(out, uint32(v))
	}
	return out, nil
}
