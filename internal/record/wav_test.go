package record

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/u64stream/internal/audio"
)

func TestFloatToPCM16(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, FloatToPCM16(0))
	assert.Equal(t, 32767, FloatToPCM16(1))
	assert.Equal(t, -32768, FloatToPCM16(-1))
	assert.Equal(t, 16384, FloatToPCM16(0.5))
	assert.Equal(t, 32767, FloatToPCM16(3))
	assert.Equal(t, -32768, FloatToPCM16(-3))
}

func TestFloatToPCM16InvertsSampleToFloat(t *testing.T) {
	t.Parallel()

	for s := math.MinInt16; s <= math.MaxInt16; s++ {
		if got := FloatToPCM16(audio.SampleToFloat(int16(s))); got != s {
			t.Fatalf("FloatToPCM16(SampleToFloat(%d)) = %d", s, got)
		}
	}
}

func TestRecorderRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.wav")
	r, err := Create(path, nil)
	require.NoError(t, err)

	require.NoError(t, r.WriteSamples([]float32{0, 0.5, -0.5, 1}))
	require.NoError(t, r.WriteSamples(nil))
	require.NoError(t, r.WriteSamples([]float32{-1, 0}))
	assert.Equal(t, int64(6), r.Samples())

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	assert.ErrorIs(t, r.WriteSamples([]float32{0, 0}), ErrClosed)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	dec := wav.NewDecoder(f)
	require.True(t, dec.IsValidFile())
	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)

	assert.Equal(t, uint32(48000), dec.SampleRate)
	assert.Equal(t, uint16(2), dec.NumChans)
	assert.Equal(t, uint16(16), dec.BitDepth)
	assert.Equal(t, []int{0, 16384, -16384, 32767, -32768, 0}, buf.Data)
}

func TestCreateBadPath(t *testing.T) {
	t.Parallel()

	_, err := Create(filepath.Join(t.TempDir(), "missing", "out.wav"), nil)
	assert.Error(t, err)
}
