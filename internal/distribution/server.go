package distribution

import (
	"context"
	"crypto/tls"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"

	"github.com/zsiec/u64stream/internal/protocol"
)

//go:embed web/index.html
var indexHTML []byte

// StatsProvider supplies the snapshot served by GET /api/stats. The server
// fills in the viewer fields itself.
type StatsProvider interface {
	StreamSnapshot() StreamSnapshot
}

// StatsProviderFunc adapts a function to StatsProvider.
type StatsProviderFunc func() StreamSnapshot

// StreamSnapshot calls f.
func (f StatsProviderFunc) StreamSnapshot() StreamSnapshot { return f() }

// ViewerInfo is the JSON response for GET /api/info, used by the viewer page
// to size its canvas and set up audio.
type ViewerInfo struct {
	Width      int  `json:"width"`
	Height     int  `json:"height"`
	Muted      bool `json:"muted"`
	SampleRate int  `json:"sampleRate"`
	Channels   int  `json:"channels"`
}

// ServerConfig holds the configuration for the viewer Server.
type ServerConfig struct {
	Addr   string
	Relay  *Relay
	Stats  StatsProvider
	Width  int
	Height int
	Muted  bool
	// TLS, when set, serves HTTPS and secure websockets.
	TLS *tls.Config
	// HTTP3 also serves the page and API over HTTP/3 on the same port
	// number (UDP) and advertises it with Alt-Svc. Requires TLS. Websocket
	// viewers stay on the TCP listener.
	HTTP3 bool
	// Quit is called once when a client posts to /api/quit.
	Quit func()
	Log  *slog.Logger
}

// shutdownTimeout bounds how long Start waits for in-flight requests.
const shutdownTimeout = 3 * time.Second

// Server is the HTTP server for the browser viewer.
type Server struct {
	config   ServerConfig
	log      *slog.Logger
	engine   *gin.Engine
	upgrader websocket.Upgrader

	h3        atomic.Pointer[http3.Server]
	nextID    atomic.Int64
	quitOnce  sync.Once
	closing   chan struct{}
	closeOnce sync.Once
}

// NewServer creates a viewer Server. It returns an error if required fields
// are missing.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Relay == nil {
		return nil, errors.New("distribution: Relay is required")
	}
	if config.Addr == "" {
		return nil, errors.New("distribution: Addr is required")
	}
	if config.HTTP3 && config.TLS == nil {
		return nil, errors.New("distribution: HTTP3 requires TLS")
	}
	log := config.Log
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		config: config,
		log:    log.With("component", "http"),
		upgrader: websocket.Upgrader{
			// The viewer is meant for local-network use; any origin may connect.
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		closing: make(chan struct{}),
	}
	s.engine = s.routes()
	return s, nil
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.altSvc)

	r.GET("/", s.handleIndex)
	r.GET("/ws", s.handleWebSocket)

	api := r.Group("/api")
	api.GET("/info", s.handleInfo)
	api.GET("/stats", s.handleStats)
	api.GET("/snapshot.png", s.handleSnapshot)
	api.POST("/quit", s.handleQuit)
	return r
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves HTTP on config.Addr until ctx is cancelled. Open viewer
// sessions are told to close when it returns.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve is like Start with a caller-supplied listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	scheme := "http"
	if s.config.TLS != nil {
		ln = tls.NewListener(ln, s.config.TLS)
		scheme = "https"
	}
	s.log.Info("viewer listening", "addr", ln.Addr().String(), "scheme", scheme)

	var h3Done chan struct{}
	if s.config.HTTP3 {
		h3, pc, err := s.listenHTTP3(ln.Addr())
		if err != nil {
			ln.Close()
			return err
		}
		s.h3.Store(h3)
		h3Done = make(chan struct{})
		go func() {
			defer close(h3Done)
			if err := h3.Serve(pc); err != nil && ctx.Err() == nil {
				s.log.Error("http3 serve", "error", err)
			}
		}()
		defer func() {
			s.h3.Store(nil)
			_ = h3.Close()
			pc.Close()
			<-h3Done
		}()
	}

	stop := context.AfterFunc(ctx, func() {
		s.closeSessions()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	})
	defer stop()

	err := srv.Serve(ln)
	if ctx.Err() != nil || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// listenHTTP3 binds UDP on the TCP listener's address.
func (s *Server) listenHTTP3(addr net.Addr) (*http3.Server, net.PacketConn, error) {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return nil, nil, fmt.Errorf("http3: unsupported listener address %s", addr)
	}
	pc, err := net.ListenUDP("udp", &net.UDPAddr{IP: tcp.IP, Port: tcp.Port})
	if err != nil {
		return nil, nil, fmt.Errorf("http3 listen: %w", err)
	}
	h3 := &http3.Server{
		Handler:   s.engine,
		TLSConfig: s.config.TLS,
		Port:      tcp.Port,
		QUICConfig: &quic.Config{
			MaxIdleTimeout: 30 * time.Second,
		},
	}
	s.log.Info("viewer listening", "addr", pc.LocalAddr().String(), "scheme", "h3")
	return h3, pc, nil
}

// altSvc advertises HTTP/3 on responses served over TCP.
func (s *Server) altSvc(c *gin.Context) {
	if h3 := s.h3.Load(); h3 != nil && c.Request.ProtoMajor < 3 {
		if err := h3.SetQUICHeaders(c.Writer.Header()); err != nil {
			s.log.Debug("alt-svc header", "error", err)
		}
	}
	c.Next()
}

func (s *Server) closeSessions() {
	s.closeOnce.Do(func() { close(s.closing) })
}

func (s *Server) handleIndex(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
}

func (s *Server) handleInfo(c *gin.Context) {
	c.JSON(http.StatusOK, ViewerInfo{
		Width:      s.config.Width,
		Height:     s.config.Height,
		Muted:      s.config.Muted,
		SampleRate: protocol.SampleRate,
		Channels:   protocol.Channels,
	})
}

func (s *Server) handleStats(c *gin.Context) {
	var snap StreamSnapshot
	if s.config.Stats != nil {
		snap = s.config.Stats.StreamSnapshot()
	}
	snap.ViewerCount = s.config.Relay.ViewerCount()
	snap.Viewers = s.config.Relay.ViewerStatsAll()
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleSnapshot(c *gin.Context) {
	frame := s.config.Relay.LatestFrame()
	if frame == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no frame received yet"})
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", frame)
}

func (s *Server) handleQuit(c *gin.Context) {
	if s.config.Quit == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "quit not configured"})
		return
	}
	s.log.Info("quit requested", "remote", c.ClientIP())
	s.quitOnce.Do(s.config.Quit)
	c.JSON(http.StatusAccepted, gin.H{"status": "quitting"})
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	id := fmt.Sprintf("ws-%d", s.nextID.Add(1))
	session := NewViewerSession(id, conn, s.log)
	s.log.Info("viewer connected", "session", id, "remote", c.Request.RemoteAddr)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go func() {
		select {
		case <-s.closing:
			cancel()
		case <-ctx.Done():
		}
	}()

	s.config.Relay.AddViewer(session)
	defer s.config.Relay.RemoveViewer(id)

	if err := session.Run(ctx); err != nil {
		s.log.Debug("viewer session ended", "session", id, "error", err)
	}
}
