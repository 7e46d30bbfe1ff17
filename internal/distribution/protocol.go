// Package distribution implements the browser viewer: a fan-out relay of
// encoded frames and PCM chunks, websocket viewer sessions, and the HTTP
// server exposing the viewer page and the stats API.
package distribution

import (
	"encoding/binary"
	"math"
)

// Websocket binary message types. Each message is one type byte followed by
// the payload.
const (
	// MsgVideo is followed by a PNG-encoded frame.
	MsgVideo byte = 0x01
	// MsgAudio is followed by interleaved stereo float32 little-endian PCM.
	MsgAudio byte = 0x02
)

// Per-viewer send queue sizes. A viewer that falls behind drops messages
// rather than holding up the relay.
const (
	viewerVideoBuffer = 4
	viewerAudioBuffer = 32
)

// EncodeVideoMessage frames a PNG picture for the websocket.
func EncodeVideoMessage(png []byte) []byte {
	msg := make([]byte, 1+len(png))
	msg[0] = MsgVideo
	copy(msg[1:], png)
	return msg
}

// EncodeAudioMessage frames PCM samples for the websocket.
func EncodeAudioMessage(samples []float32) []byte {
	msg := make([]byte, 1+4*len(samples))
	msg[0] = MsgAudio
	for i, s := range samples {
		binary.LittleEndian.PutUint32(msg[1+4*i:], math.Float32bits(s))
	}
	return msg
}

// DecodeAudioMessage is the inverse of EncodeAudioMessage. It returns nil if
// msg is not an audio message.
func DecodeAudioMessage(msg []byte) []float32 {
	if len(msg) < 1 || msg[0] != MsgAudio {
		return nil
	}
	body := msg[1:]
	out := make([]float32, len(body)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(body[4*i:]))
	}
	return out
}
