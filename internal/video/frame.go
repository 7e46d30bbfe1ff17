// Package video reassembles Ultimate 64 video packets into complete frames.
//
// [Reassembler] is the per-packet state machine; [Receiver] drives it from a
// socket and delivers each completed [Frame] on a bounded channel.
package video

import (
	"github.com/gobwas/pool/pbytes"

	"github.com/zsiec/u64stream/internal/protocol"
)

// FrameBufferSize is the channel capacity between the receiver and the
// presentation consumer.
const FrameBufferSize = 20

// Frame is the nibble-packed payload of one video frame, the concatenation
// of its packets' data in arrival order. After a Frame is received from the
// output channel it belongs to the consumer.
type Frame struct {
	// Number is the frame counter carried by the frame's last packet.
	Number uint16
	// Packets is the number of packets that contributed to Data.
	Packets int
	Data    []byte
}

func newFrameBuffer() []byte {
	return pbytes.GetCap(protocol.FrameSize)
}

// Release returns the frame's buffer to the shared pool. The frame must not
// be used afterwards. Calling Release is optional.
func (f *Frame) Release() {
	if f == nil || f.Data == nil {
		return
	}
	pbytes.Put(f.Data)
	f.Data = nil
}

// Short reports whether the frame carries fewer packets than a complete
// picture, as happens when packets were lost.
func (f *Frame) Short() bool {
	return f.Packets < protocol.PacketsPerFrame
}
