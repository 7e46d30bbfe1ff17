package distribution

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// ViewerSession delivers relay messages to one websocket client. Video and
// audio have separate bounded queues; when either is full the message is
// dropped and counted.
type ViewerSession struct {
	id     string
	remote string
	conn   *websocket.Conn
	log    *slog.Logger

	videoCh chan []byte
	audioCh chan []byte

	videoSent    atomic.Int64
	audioSent    atomic.Int64
	videoDropped atomic.Int64
	audioDropped atomic.Int64
	bytesSent    atomic.Int64
}

// NewViewerSession wraps an upgraded websocket connection.
func NewViewerSession(id string, conn *websocket.Conn, log *slog.Logger) *ViewerSession {
	if log == nil {
		log = slog.Default()
	}
	return &ViewerSession{
		id:      id,
		remote:  conn.RemoteAddr().String(),
		conn:    conn,
		log:     log.With("component", "viewer", "session", id),
		videoCh: make(chan []byte, viewerVideoBuffer),
		audioCh: make(chan []byte, viewerAudioBuffer),
	}
}

// ID returns the session identifier.
func (s *ViewerSession) ID() string { return s.id }

// SendVideo queues a video message without blocking.
func (s *ViewerSession) SendVideo(msg []byte) {
	trySend(s.videoCh, msg, &s.videoDropped)
}

// SendAudio queues an audio message without blocking.
func (s *ViewerSession) SendAudio(msg []byte) {
	trySend(s.audioCh, msg, &s.audioDropped)
}

func trySend(ch chan []byte, msg []byte, dropped *atomic.Int64) {
	select {
	case ch <- msg:
	default:
		dropped.Add(1)
	}
}

// Stats returns delivery counters for the session.
func (s *ViewerSession) Stats() ViewerStats {
	return ViewerStats{
		ID:           s.id,
		RemoteAddr:   s.remote,
		VideoSent:    s.videoSent.Load(),
		AudioSent:    s.audioSent.Load(),
		VideoDropped: s.videoDropped.Load(),
		AudioDropped: s.audioDropped.Load(),
		BytesSent:    s.bytesSent.Load(),
	}
}

// Run writes queued messages until ctx is cancelled, the client disconnects,
// or a write fails. It closes the connection on return.
func (s *ViewerSession) Run(ctx context.Context) error {
	defer s.conn.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The read side only services control frames and detects disconnects.
	s.conn.SetReadLimit(512)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := s.conn.ReadMessage(); err != nil {
				s.log.Debug("viewer read ended", "error", err)
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return nil
		case msg := <-s.audioCh:
			if err := s.write(msg); err != nil {
				return err
			}
			s.audioSent.Add(1)
		case msg := <-s.videoCh:
			if err := s.write(msg); err != nil {
				return err
			}
			s.videoSent.Add(1)
		case <-ping.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return err
			}
		}
	}
}

func (s *ViewerSession) write(msg []byte) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
		return err
	}
	s.bytesSent.Add(int64(len(msg)))
	return nil
}
