package distribution

import (
	"log/slog"
	"sync"

	"github.com/zsiec/u64stream/internal/playback"
)

var _ playback.Sink = (*Relay)(nil)

// Viewer is implemented by a connected viewer session. Send methods must not
// block; a viewer that cannot keep up drops and counts. The message slice is
// shared between viewers and must not be modified.
type Viewer interface {
	ID() string
	SendVideo(msg []byte)
	SendAudio(msg []byte)
	Stats() ViewerStats
}

// Relay is the fan-out hub between the decode side and the connected
// viewers. It keeps the most recent encoded frame so that a viewer joining
// mid-stream, or a snapshot request, sees a picture immediately.
type Relay struct {
	log      *slog.Logger
	mu       sync.RWMutex
	sessions map[string]Viewer

	frameMu   sync.RWMutex
	lastFrame []byte
}

// NewRelay creates a Relay with no viewers. If log is nil, slog.Default()
// is used.
func NewRelay(log *slog.Logger) *Relay {
	if log == nil {
		log = slog.Default()
	}
	return &Relay{
		log:      log.With("component", "relay"),
		sessions: make(map[string]Viewer),
	}
}

// AddViewer sends the latest frame to the viewer, then registers it for live
// delivery.
func (r *Relay) AddViewer(v Viewer) {
	r.frameMu.RLock()
	last := r.lastFrame
	r.frameMu.RUnlock()
	if last != nil {
		v.SendVideo(last)
	}

	r.mu.Lock()
	r.sessions[v.ID()] = v
	r.mu.Unlock()

	r.log.Info("viewer added", "session", v.ID(), "viewers", r.ViewerCount())
}

// RemoveViewer unregisters a viewer by ID.
func (r *Relay) RemoveViewer(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()

	r.log.Info("viewer removed", "session", id, "viewers", r.ViewerCount())
}

// BroadcastVideo sends a PNG-encoded frame to every viewer and caches it.
func (r *Relay) BroadcastVideo(png []byte) {
	msg := EncodeVideoMessage(png)

	r.frameMu.Lock()
	r.lastFrame = msg
	r.frameMu.Unlock()

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		s.SendVideo(msg)
	}
}

// LatestFrame returns the most recent PNG frame, or nil before the first.
func (r *Relay) LatestFrame() []byte {
	r.frameMu.RLock()
	defer r.frameMu.RUnlock()
	if r.lastFrame == nil {
		return nil
	}
	return r.lastFrame[1:]
}

// WriteSamples implements playback.Sink by broadcasting the chunk as an
// audio message. It never fails.
func (r *Relay) WriteSamples(samples []float32) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.sessions) == 0 || len(samples) == 0 {
		return nil
	}
	msg := EncodeAudioMessage(samples)
	for _, s := range r.sessions {
		s.SendAudio(msg)
	}
	return nil
}

// ViewerCount returns the number of connected viewers.
func (r *Relay) ViewerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ViewerStatsAll returns delivery metrics for every connected viewer.
func (r *Relay) ViewerStatsAll() []ViewerStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := make([]ViewerStats, 0, len(r.sessions))
	for _, s := range r.sessions {
		stats = append(stats, s.Stats())
	}
	return stats
}
