package distribution

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeAudioMessageLayout(t *testing.T) {
	t.Parallel()

	msg := EncodeAudioMessage([]float32{1, -2})
	// 1.0 = 0x3F800000, -2.0 = 0xC0000000, little-endian.
	assert.Equal(t, []byte{MsgAudio, 0x00, 0x00, 0x80, 0x3F, 0x00, 0x00, 0x00, 0xC0}, msg)
	assert.Equal(t, []float32{1, -2}, DecodeAudioMessage(msg))
}

func TestDecodeAudioMessageRejectsVideo(t *testing.T) {
	t.Parallel()

	assert.Nil(t, DecodeAudioMessage(EncodeVideoMessage([]byte{1, 2, 3, 4})))
	assert.Nil(t, DecodeAudioMessage(nil))
	assert.Empty(t, DecodeAudioMessage([]byte{MsgAudio}))
}
