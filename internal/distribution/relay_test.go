package distribution

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockViewer implements the Viewer interface for testing.
type mockViewer struct {
	id     string
	mu     sync.Mutex
	videos [][]byte
	audios [][]byte
}

func newMockViewer(id string) *mockViewer {
	return &mockViewer{id: id}
}

func (m *mockViewer) ID() string { return m.id }

func (m *mockViewer) SendVideo(msg []byte) {
	m.mu.Lock()
	m.videos = append(m.videos, msg)
	m.mu.Unlock()
}

func (m *mockViewer) SendAudio(msg []byte) {
	m.mu.Lock()
	m.audios = append(m.audios, msg)
	m.mu.Unlock()
}

func (m *mockViewer) Stats() ViewerStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ViewerStats{
		ID:        m.id,
		VideoSent: int64(len(m.videos)),
		AudioSent: int64(len(m.audios)),
	}
}

func TestRelayAddRemoveViewer(t *testing.T) {
	t.Parallel()

	r := NewRelay(nil)
	r.AddViewer(newMockViewer("v1"))
	r.AddViewer(newMockViewer("v2"))
	assert.Equal(t, 2, r.ViewerCount())
	assert.Len(t, r.ViewerStatsAll(), 2)

	r.RemoveViewer("v1")
	assert.Equal(t, 1, r.ViewerCount())
	r.RemoveViewer("missing")
	assert.Equal(t, 1, r.ViewerCount())
}

func TestRelayBroadcastVideo(t *testing.T) {
	t.Parallel()

	r := NewRelay(nil)
	assert.Nil(t, r.LatestFrame())

	v1, v2 := newMockViewer("v1"), newMockViewer("v2")
	r.AddViewer(v1)
	r.AddViewer(v2)

	r.BroadcastVideo([]byte("png1"))

	require.Len(t, v1.videos, 1)
	assert.Equal(t, append([]byte{MsgVideo}, "png1"...), v1.videos[0])
	assert.Equal(t, v1.videos, v2.videos)
	assert.Equal(t, []byte("png1"), r.LatestFrame())
}

func TestRelayReplaysLatestFrame(t *testing.T) {
	t.Parallel()

	r := NewRelay(nil)
	r.BroadcastVideo([]byte("old"))
	r.BroadcastVideo([]byte("new"))

	late := newMockViewer("late")
	r.AddViewer(late)

	require.Len(t, late.videos, 1)
	assert.Equal(t, append([]byte{MsgVideo}, "new"...), late.videos[0])
}

func TestRelayBroadcastCopiesPicture(t *testing.T) {
	t.Parallel()

	r := NewRelay(nil)
	pic := []byte("abc")
	r.BroadcastVideo(pic)
	pic[0] = 'x'
	assert.Equal(t, []byte("abc"), r.LatestFrame())
}

func TestRelayWriteSamples(t *testing.T) {
	t.Parallel()

	r := NewRelay(nil)
	assert.NoError(t, r.WriteSamples([]float32{1, 2}), "no viewers")

	v := newMockViewer("v1")
	r.AddViewer(v)
	require.NoError(t, r.WriteSamples([]float32{0.25, -0.5}))
	require.NoError(t, r.WriteSamples(nil))

	require.Len(t, v.audios, 1)
	assert.Equal(t, []float32{0.25, -0.5}, DecodeAudioMessage(v.audios[0]))
}
