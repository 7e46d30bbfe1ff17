// Package synth generates Ultimate 64 wire-format test streams: scrolling
// color bars for video and a stereo tone for audio. The generators feed the
// push tool, the examples and end-to-end tests.
package synth

import (
	"math"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/u64stream/internal/ingest"
	"github.com/zsiec/u64stream/internal/protocol"
)

// Real-time pacing of the two streams.
const (
	FrameRate           = 50
	VideoPacketInterval = time.Second / (FrameRate * protocol.PacketsPerFrame)
	AudioPacketInterval = time.Second * protocol.AudioPairs / protocol.SampleRate
)

// barWidth gives sixteen bars across a scan line, one per palette entry.
const barWidth = protocol.LineWidth / 16

// Generator produces consecutive datagrams.
type Generator interface {
	AppendNext(dst []byte) []byte
}

// Bars generates full frames of vertical color bars that shift by one
// palette entry every frame.
type Bars struct {
	seq    uint16
	frame  uint16
	packet int
}

// Next fills p with the next packet. The last packet of each frame carries
// the end-of-frame marker.
func (b *Bars) Next(p *protocol.VideoPacket) {
	line := b.packet * protocol.LinesPerPacket
	p.Seq = b.seq
	p.Frame = b.frame
	p.Line = uint16(line)
	p.Width = protocol.LineWidth
	p.LPP = protocol.LinesPerPacket
	p.Bits = protocol.BitsPerPixel
	p.Encoding = protocol.EncodingRaw

	for i := range p.Data {
		x := 2 * (i % protocol.BytesPerLine)
		idx := byte((x/barWidth + int(b.frame)) % 16)
		p.Data[i] = idx | idx<<4
	}

	b.seq++
	b.packet++
	if b.packet == protocol.PacketsPerFrame {
		p.Line |= protocol.EndOfFrame
		b.packet = 0
		b.frame++
	}
}

// AppendNext appends the next packet's wire form to dst.
func (b *Bars) AppendNext(dst []byte) []byte {
	var p protocol.VideoPacket
	b.Next(&p)
	return protocol.AppendVideoPacket(dst, &p)
}

// Tone generates a sine on the left channel and a fifth above on the right.
type Tone struct {
	// Freq is the left channel frequency in Hz; zero means 440.
	Freq float64
	// Amplitude is the peak level in [0, 1]; zero means 0.5.
	Amplitude float64

	seq   uint16
	phase float64
}

// Next fills p with the next packet.
func (t *Tone) Next(p *protocol.AudioPacket) {
	freq, amp := t.Freq, t.Amplitude
	if freq == 0 {
		freq = 440
	}
	if amp == 0 {
		amp = 0.5
	}
	step := 2 * math.Pi * freq / protocol.SampleRate

	p.Seq = t.seq
	for i := range p.Data {
		ph := t.phase + float64(i)*step
		p.Data[i][0] = int16(amp * math.MaxInt16 * math.Sin(ph))
		p.Data[i][1] = int16(amp * math.MaxInt16 * math.Sin(1.5*ph))
	}
	t.phase = math.Mod(t.phase+float64(len(p.Data))*step, 4*math.Pi)
	t.seq++
}

// AppendNext appends the next packet's wire form to dst.
func (t *Tone) AppendNext(dst []byte) []byte {
	var p protocol.AudioPacket
	t.Next(&p)
	return protocol.AppendAudioPacket(dst, &p)
}

var loopbackAddr = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}

// Reader serves a Generator through the socket read interface, optionally
// paced at one packet per interval. It satisfies ingest.PacketReader and
// stream.Conn.
type Reader struct {
	name string
	gen  Generator
	tick *time.Ticker
	buf  []byte

	done chan struct{}
	once sync.Once

	startedAt time.Time
	bytes     atomic.Int64
	reads     atomic.Int64
}

// NewReader creates a Reader. An interval of zero serves packets as fast as
// they are read.
func NewReader(name string, gen Generator, interval time.Duration) *Reader {
	r := &Reader{
		name:      name,
		gen:       gen,
		done:      make(chan struct{}),
		startedAt: time.Now(),
	}
	if interval > 0 {
		r.tick = time.NewTicker(interval)
	}
	return r
}

// ReadFrom copies the next packet into p, truncating if p is short.
func (r *Reader) ReadFrom(p []byte) (int, net.Addr, error) {
	if r.tick != nil {
		select {
		case <-r.tick.C:
		case <-r.done:
			return 0, nil, net.ErrClosed
		}
	} else {
		select {
		case <-r.done:
			return 0, nil, net.ErrClosed
		default:
		}
	}
	r.buf = r.gen.AppendNext(r.buf[:0])
	n := copy(p, r.buf)
	r.bytes.Add(int64(n))
	r.reads.Add(1)
	return n, loopbackAddr, nil
}

// Close unblocks pending reads; later reads fail with net.ErrClosed.
func (r *Reader) Close() error {
	r.once.Do(func() {
		close(r.done)
		if r.tick != nil {
			r.tick.Stop()
		}
	})
	return nil
}

// Stats reports read counters in the same shape as a multicast socket.
func (r *Reader) Stats() ingest.Stats {
	return ingest.Stats{
		Name:          r.name,
		Group:         "synthetic",
		BytesReceived: r.bytes.Load(),
		ReadCount:     r.reads.Load(),
		ConnectedAt:   r.startedAt.UnixMilli(),
		UptimeMs:      time.Since(r.startedAt).Milliseconds(),
		RemoteAddr:    loopbackAddr.String(),
	}
}
