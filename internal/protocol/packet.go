// Package protocol defines the fixed wire layouts of the Ultimate 64 video
// and audio multicast streams. Every multi-byte field is little-endian and
// the records carry no padding, so each field sits at a fixed offset.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrMalformedPacket is returned when a datagram cannot hold the fixed layout.
var ErrMalformedPacket = errors.New("malformed packet")

// Wire sizes and protocol constants.
const (
	VideoPacketSize = 780
	AudioPacketSize = 770

	VideoPayloadSize = 768
	AudioPairs       = 192

	// LineWidth is the number of pixels on a scan line.
	LineWidth = 384
	// LinesPerPacket is the number of scan lines carried by one packet.
	LinesPerPacket = 4
	// BitsPerPixel is the nibble-packed pixel depth: two pixels per byte.
	BitsPerPixel = 4
	// FrameHeight is the number of scan lines in a full PAL frame.
	FrameHeight = 272
	// BytesPerLine is the packed size of one scan line.
	BytesPerLine = LineWidth * BitsPerPixel / 8
	// FrameSize is the packed size of a full frame.
	FrameSize = BytesPerLine * FrameHeight
	// PacketsPerFrame is the number of video packets in a full frame.
	PacketsPerFrame = FrameSize / VideoPayloadSize

	// SampleRate is the audio stream sample rate in Hz.
	SampleRate = 48000
	// Channels is the audio channel count (interleaved left, right).
	Channels = 2
	// SamplesPerPacket is the number of interleaved samples in one audio packet.
	SamplesPerPacket = AudioPairs * Channels

	// EndOfFrame is the bit in a video packet's line field that marks the
	// last packet of a frame.
	EndOfFrame uint16 = 0x8000
)

const (
	offSeq      = 0
	offFrame    = 2
	offLine     = 4
	offWidth    = 6
	offLPP      = 8
	offBits     = 9
	offEncoding = 10
	offData     = 12

	offAudioData = 2
)

// Encoding identifies how a video payload is packed.
type Encoding uint16

// Known video encodings. Only EncodingRaw is decoded; others pass through.
const (
	EncodingRaw Encoding = 0
	EncodingRLE Encoding = 1
)

func (e Encoding) String() string {
	switch e {
	case EncodingRaw:
		return "raw"
	case EncodingRLE:
		return "rle"
	default:
		return fmt.Sprintf("unknown(%d)", uint16(e))
	}
}

// VideoPacket is one 780-byte video datagram carrying four scan lines.
type VideoPacket struct {
	Seq      uint16
	Frame    uint16
	Line     uint16
	Width    uint16
	LPP      uint8
	Bits     uint8
	Encoding Encoding
	Data     [VideoPayloadSize]byte
}

// EndOfFrame reports whether this is the last packet of its frame.
func (p *VideoPacket) EndOfFrame() bool {
	return p.Line&EndOfFrame != 0
}

// LineGroup returns the line index with the end-of-frame bit masked off.
func (p *VideoPacket) LineGroup() uint16 {
	return p.Line &^ EndOfFrame
}

// AudioPacket is one 770-byte audio datagram of 192 stereo sample pairs.
type AudioPacket struct {
	Seq  uint16
	Data [AudioPairs][2]int16
}

// ParseVideoPacket decodes buf into p. Bytes beyond VideoPacketSize are
// ignored. Field values are not checked against the protocol constants.
func ParseVideoPacket(buf []byte, p *VideoPacket) error {
	if len(buf) < VideoPacketSize {
		return fmt.Errorf("video: %d bytes, need %d: %w", len(buf), VideoPacketSize, ErrMalformedPacket)
	}
	le := binary.LittleEndian
	p.Seq = le.Uint16(buf[offSeq:])
	p.Frame = le.Uint16(buf[offFrame:])
	p.Line = le.Uint16(buf[offLine:])
	p.Width = le.Uint16(buf[offWidth:])
	p.LPP = buf[offLPP]
	p.Bits = buf[offBits]
	p.Encoding = Encoding(le.Uint16(buf[offEncoding:]))
	copy(p.Data[:], buf[offData:VideoPacketSize])
	return nil
}

// ParseAudioPacket decodes buf into p. Bytes beyond AudioPacketSize are ignored.
func ParseAudioPacket(buf []byte, p *AudioPacket) error {
	if len(buf) < AudioPacketSize {
		return fmt.Errorf("audio: %d bytes, need %d: %w", len(buf), AudioPacketSize, ErrMalformedPacket)
	}
	le := binary.LittleEndian
	p.Seq = le.Uint16(buf[offSeq:])
	off := offAudioData
	for i := range p.Data {
		p.Data[i][0] = int16(le.Uint16(buf[off:]))
		p.Data[i][1] = int16(le.Uint16(buf[off+2:]))
		off += 4
	}
	return nil
}

// AppendVideoPacket appends the wire encoding of p to dst.
func AppendVideoPacket(dst []byte, p *VideoPacket) []byte {
	le := binary.LittleEndian
	dst = le.AppendUint16(dst, p.Seq)
	dst = le.AppendUint16(dst, p.Frame)
	dst = le.AppendUint16(dst, p.Line)
	dst = le.AppendUint16(dst, p.Width)
	dst = append(dst, p.LPP, p.Bits)
	dst = le.AppendUint16(dst, uint16(p.Encoding))
	return append(dst, p.Data[:]...)
}

// AppendAudioPacket appends the wire encoding of p to dst.
func AppendAudioPacket(dst []byte, p *AudioPacket) []byte {
	le := binary.LittleEndian
	dst = le.AppendUint16(dst, p.Seq)
	for _, pair := range p.Data {
		dst = le.AppendUint16(dst, uint16(pair[0]))
		dst = le.AppendUint16(dst, uint16(pair[1]))
	}
	return dst
}
