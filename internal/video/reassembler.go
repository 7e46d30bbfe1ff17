package video

import "github.com/zsiec/u64stream/internal/protocol"

// Reassembler accumulates packet payloads until an end-of-frame marker.
//
// Packets seen before the first end-of-frame marker belong to a frame that
// was already in progress when the stream was joined; they are discarded,
// marker included, so the first emitted frame is always whole. There is no
// sequence check: a lost packet yields a short frame.
type Reassembler struct {
	collecting bool
	buf        []byte
	packets    int
}

// NewReassembler returns a Reassembler in its warm-up state.
func NewReassembler() *Reassembler {
	return &Reassembler{}
}

// Collecting reports whether warm-up has ended.
func (r *Reassembler) Collecting() bool {
	return r.collecting
}

// Push feeds one packet. It returns the completed frame when p carries the
// end-of-frame marker and warm-up has already ended, otherwise nil.
func (r *Reassembler) Push(p *protocol.VideoPacket) *Frame {
	eof := p.EndOfFrame()

	if !r.collecting {
		// The marker that ends warm-up closes a partial frame.
		if eof {
			r.collecting = true
		}
		return nil
	}

	if r.buf == nil {
		r.buf = newFrameBuffer()
	}
	r.buf = append(r.buf, p.Data[:]...)
	r.packets++

	if !eof {
		return nil
	}

	f := &Frame{Number: p.Frame, Packets: r.packets, Data: r.buf}
	r.buf = nil
	r.packets = 0
	return f
}

// Pending returns the number of payload bytes buffered for the frame in progress.
func (r *Reassembler) Pending() int {
	return len(r.buf)
}
