package ingest

import (
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListenRejectsNonMulticast(t *testing.T) {
	t.Parallel()

	for _, addr := range []string{"192.168.1.10", "127.0.0.1", "ff02::1", "240.0.0.1"} {
		_, err := Listen(Config{Name: "video", Group: netip.MustParseAddr(addr), Port: 0}, nil)
		assert.ErrorIs(t, err, ErrJoin, addr)
	}
}

func TestListenRejectsInvalidGroup(t *testing.T) {
	t.Parallel()

	_, err := Listen(Config{Name: "audio"}, nil)
	assert.ErrorIs(t, err, ErrJoin)
}

func TestListenUnknownInterface(t *testing.T) {
	t.Parallel()

	_, err := Listen(Config{
		Name:      "video",
		Group:     netip.MustParseAddr("239.0.1.64"),
		Interface: "does-not-exist0",
	}, nil)
	assert.ErrorIs(t, err, ErrJoin)
}

func TestConnRecordsReads(t *testing.T) {
	t.Parallel()

	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	c := newConn("video", pc, nil)
	defer c.Close()

	sender, err := net.Dial("udp4", pc.LocalAddr().String())
	require.NoError(t, err)
	defer sender.Close()

	_, err = sender.Write(make([]byte, 100))
	require.NoError(t, err)
	_, err = sender.Write(make([]byte, 50))
	require.NoError(t, err)

	require.NoError(t, pc.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 1500)
	for i := 0; i < 2; i++ {
		_, _, err := c.ReadFrom(buf)
		require.NoError(t, err)
	}

	st := c.Stats()
	assert.Equal(t, "video", st.Name)
	assert.Equal(t, int64(150), st.BytesReceived)
	assert.Equal(t, int64(2), st.ReadCount)
	assert.Equal(t, sender.LocalAddr().String(), st.RemoteAddr)
	assert.NotZero(t, st.ConnectedAt)
}

func TestCloseUnblocksRead(t *testing.T) {
	t.Parallel()

	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	c := newConn("audio", pc, nil)

	errCh := make(chan error, 1)
	go func() {
		_, _, err := c.ReadFrom(make([]byte, 16))
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, c.Close())
	assert.NoError(t, c.Close(), "second Close is a no-op")

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, net.ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("ReadFrom did not return after Close")
	}
}
