package distribution

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/u64stream/internal/audio"
	"github.com/zsiec/u64stream/internal/ingest"
	"github.com/zsiec/u64stream/internal/jitter"
	"github.com/zsiec/u64stream/internal/playback"
	"github.com/zsiec/u64stream/internal/video"
)

// Compile-time interface checks.
var (
	_ video.StatsRecorder = (*StreamStats)(nil)
	_ audio.StatsRecorder = (*StreamStats)(nil)
)

// VideoStats holds point-in-time video receive metrics.
type VideoStats struct {
	Packets          int64   `json:"packets"`
	Bytes            int64   `json:"bytes"`
	Frames           int64   `json:"frames"`
	FramesDropped    int64   `json:"framesDropped"`
	Malformed        int64   `json:"malformed"`
	LastFrame        uint16  `json:"lastFrame"`
	LastFramePackets int     `json:"lastFramePackets"`
	ShortFrames      int64   `json:"shortFrames"`
	FrameRate        float64 `json:"frameRate"`
	BitrateKbps      float64 `json:"bitrateKbps"`
}

// AudioStats holds point-in-time audio receive metrics.
type AudioStats struct {
	Packets      int64 `json:"packets"`
	Bytes        int64 `json:"bytes"`
	SequenceGaps int64 `json:"sequenceGaps"`
	LostPackets  int64 `json:"lostPackets"`
	Reordered    int64 `json:"reordered"`
	Malformed    int64 `json:"malformed"`
}

// ViewerStats captures per-viewer delivery metrics.
type ViewerStats struct {
	ID           string `json:"id"`
	RemoteAddr   string `json:"remoteAddr,omitempty"`
	VideoSent    int64  `json:"videoSent"`
	AudioSent    int64  `json:"audioSent"`
	VideoDropped int64  `json:"videoDropped"`
	AudioDropped int64  `json:"audioDropped"`
	BytesSent    int64  `json:"bytesSent"`
}

// StreamSnapshot is the payload of GET /api/stats.
type StreamSnapshot struct {
	Timestamp   int64           `json:"ts"`
	UptimeMs    int64           `json:"uptimeMs"`
	Muted       bool            `json:"muted"`
	Video       VideoStats      `json:"video"`
	Audio       AudioStats      `json:"audio"`
	Ingest      []ingest.Stats  `json:"ingest,omitempty"`
	Jitter      *jitter.Stats   `json:"jitter,omitempty"`
	Playback    *playback.Stats `json:"playback,omitempty"`
	ViewerCount int             `json:"viewerCount"`
	Viewers     []ViewerStats   `json:"viewers,omitempty"`
}

const statsWindow = 2 * time.Second

type windowEntry struct {
	ts    time.Time
	bytes int64
}

// StreamStats accumulates receive telemetry from the video and audio loops
// using atomic counters. It implements video.StatsRecorder and
// audio.StatsRecorder.
type StreamStats struct {
	start time.Time

	videoPackets     atomic.Int64
	videoBytes       atomic.Int64
	videoFrames      atomic.Int64
	framesDropped    atomic.Int64
	shortFrames      atomic.Int64
	lastFrame        atomic.Uint32
	lastFramePackets atomic.Int32
	videoMalformed   atomic.Int64

	audioPackets   atomic.Int64
	audioBytes     atomic.Int64
	seqGaps        atomic.Int64
	lostPackets    atomic.Int64
	reordered      atomic.Int64
	audioMalformed atomic.Int64

	// windowMu guards the frame and byte sliding windows
	windowMu    sync.Mutex
	fpsWindow   []time.Time
	bytesWindow []windowEntry
}

// NewStreamStats creates a StreamStats whose uptime starts now.
func NewStreamStats() *StreamStats {
	return &StreamStats{start: time.Now()}
}

// RecordVideoPacket counts one valid video datagram.
func (s *StreamStats) RecordVideoPacket(bytes int) {
	s.videoPackets.Add(1)
	s.videoBytes.Add(int64(bytes))

	now := time.Now()
	s.windowMu.Lock()
	s.bytesWindow = append(s.bytesWindow, windowEntry{ts: now, bytes: int64(bytes)})
	cutoff := now.Add(-statsWindow)
	i := 0
	for i < len(s.bytesWindow) && s.bytesWindow[i].ts.Before(cutoff) {
		i++
	}
	s.bytesWindow = s.bytesWindow[i:]
	s.windowMu.Unlock()
}

// RecordVideoFrame counts a completed frame and updates the frame-rate window.
// Frames that span fewer packets than a full picture are counted as short.
func (s *StreamStats) RecordVideoFrame(f *video.Frame) {
	s.videoFrames.Add(1)
	s.lastFrame.Store(uint32(f.Number))
	s.lastFramePackets.Store(int32(f.Packets))
	if f.Short() {
		s.shortFrames.Add(1)
	}

	now := time.Now()
	s.windowMu.Lock()
	s.fpsWindow = append(s.fpsWindow, now)
	cutoff := now.Add(-statsWindow)
	j := 0
	for j < len(s.fpsWindow) && s.fpsWindow[j].Before(cutoff) {
		j++
	}
	s.fpsWindow = s.fpsWindow[j:]
	s.windowMu.Unlock()
}

// RecordFrameDropped counts a frame discarded because nobody consumed it.
func (s *StreamStats) RecordFrameDropped() {
	s.framesDropped.Add(1)
}

// RecordMalformed counts a datagram rejected by the parser on stream
// "video" or "audio".
func (s *StreamStats) RecordMalformed(stream string) {
	switch stream {
	case "video":
		s.videoMalformed.Add(1)
	case "audio":
		s.audioMalformed.Add(1)
	}
}

// RecordAudioPacket counts one valid audio datagram.
func (s *StreamStats) RecordAudioPacket(bytes int) {
	s.audioPackets.Add(1)
	s.audioBytes.Add(int64(bytes))
}

// RecordSequenceGap counts a discontinuity in the audio sequence. A forward
// jump of less than half the sequence space is counted as lost packets;
// anything else is treated as reordering.
func (s *StreamStats) RecordSequenceGap(expected, got uint16) {
	s.seqGaps.Add(1)
	if ahead := got - expected; ahead < 1<<15 {
		s.lostPackets.Add(int64(ahead))
	} else {
		s.reordered.Add(1)
	}
}

// VideoFPS computes the frame rate over the sliding window.
func (s *StreamStats) VideoFPS() float64 {
	s.windowMu.Lock()
	defer s.windowMu.Unlock()

	if len(s.fpsWindow) < 2 {
		return 0
	}
	dur := s.fpsWindow[len(s.fpsWindow)-1].Sub(s.fpsWindow[0]).Seconds()
	if dur <= 0 {
		return 0
	}
	return float64(len(s.fpsWindow)-1) / dur
}

// VideoBitrateKbps computes the video ingest rate over the sliding window.
func (s *StreamStats) VideoBitrateKbps() float64 {
	s.windowMu.Lock()
	defer s.windowMu.Unlock()

	if len(s.bytesWindow) < 2 {
		return 0
	}
	dur := s.bytesWindow[len(s.bytesWindow)-1].ts.Sub(s.bytesWindow[0].ts).Seconds()
	if dur <= 0 {
		return 0
	}
	var total int64
	for _, e := range s.bytesWindow {
		total += e.bytes
	}
	return float64(total) * 8 / dur / 1000
}

// Snapshot fills the receive-side portion of a StreamSnapshot.
func (s *StreamStats) Snapshot() StreamSnapshot {
	now := time.Now()
	return StreamSnapshot{
		Timestamp: now.UnixMilli(),
		UptimeMs:  now.Sub(s.start).Milliseconds(),
		Video: VideoStats{
			Packets:          s.videoPackets.Load(),
			Bytes:            s.videoBytes.Load(),
			Frames:           s.videoFrames.Load(),
			FramesDropped:    s.framesDropped.Load(),
			Malformed:        s.videoMalformed.Load(),
			LastFrame:        uint16(s.lastFrame.Load()),
			LastFramePackets: int(s.lastFramePackets.Load()),
			ShortFrames:      s.shortFrames.Load(),
			FrameRate:        s.VideoFPS(),
			BitrateKbps:      s.VideoBitrateKbps(),
		},
		Audio: AudioStats{
			Packets:      s.audioPackets.Load(),
			Bytes:        s.audioBytes.Load(),
			SequenceGaps: s.seqGaps.Load(),
			LostPackets:  s.lostPackets.Load(),
			Reordered:    s.reordered.Load(),
			Malformed:    s.audioMalformed.Load(),
		},
	}
}
