// Package ingest opens the UDP sockets that receive the multicast streams,
// joins their groups, and keeps connection-level counters for each.
package ingest

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/ipv4"
)

// Startup failures. Both are fatal and surface before any receive loop runs.
var (
	ErrBind = errors.New("socket bind failed")
	ErrJoin = errors.New("multicast join failed")
)

// PacketReader is the receive side of a datagram socket. *Conn and any
// net.PacketConn satisfy it.
type PacketReader interface {
	ReadFrom(p []byte) (n int, addr net.Addr, err error)
}

// Config describes one multicast subscription.
type Config struct {
	// Name labels the socket in logs and stats ("video", "audio").
	Name  string
	Group netip.Addr
	Port  int
	// Interface is the name of the network interface to join on. Empty
	// lets the kernel choose.
	Interface string
	// Loopback enables receipt of datagrams sent from this host.
	Loopback bool
}

// Stats captures connection-level metrics for a socket, exposed via the
// stats API for monitoring source health.
type Stats struct {
	Name          string `json:"name"`
	Group         string `json:"group"`
	BytesReceived int64  `json:"bytesReceived"`
	ReadCount     int64  `json:"readCount"`
	ConnectedAt   int64  `json:"connectedAt"`
	UptimeMs      int64  `json:"uptimeMs"`
	RemoteAddr    string `json:"remoteAddr"`
}

// Conn is a bound UDP socket that has joined a multicast group. Reads
// record the byte and datagram counters.
type Conn struct {
	log       *slog.Logger
	name      string
	group     string
	startedAt time.Time
	pc        net.PacketConn
	mc        *ipv4.PacketConn
	groupAddr *net.UDPAddr
	ifi       *net.Interface

	bytesReceived atomic.Int64
	readCount     atomic.Int64
	remoteAddr    atomic.Value

	closeOnce sync.Once
	closeErr  error
}

// Listen binds 0.0.0.0:cfg.Port and joins cfg.Group. If log is nil,
// slog.Default() is used.
func Listen(cfg Config, log *slog.Logger) (*Conn, error) {
	if log == nil {
		log = slog.Default()
	}
	if !cfg.Group.Is4() || !cfg.Group.IsMulticast() {
		return nil, fmt.Errorf("%s: %s is not an IPv4 multicast address: %w", cfg.Name, cfg.Group, ErrJoin)
	}

	addr := net.JoinHostPort("0.0.0.0", strconv.Itoa(cfg.Port))
	pc, err := net.ListenPacket("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("%s: listen on %s: %w: %w", cfg.Name, addr, ErrBind, err)
	}

	c := newConn(cfg.Name, pc, log)
	c.group = cfg.Group.String()
	c.groupAddr = &net.UDPAddr{IP: net.IP(cfg.Group.AsSlice())}
	c.mc = ipv4.NewPacketConn(pc)

	if cfg.Interface != "" {
		ifi, err := net.InterfaceByName(cfg.Interface)
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("%s: interface %q: %w: %w", cfg.Name, cfg.Interface, ErrJoin, err)
		}
		c.ifi = ifi
	}

	if err := c.mc.JoinGroup(c.ifi, c.groupAddr); err != nil {
		pc.Close()
		return nil, fmt.Errorf("%s: join %s: %w: %w", cfg.Name, cfg.Group, ErrJoin, err)
	}
	if cfg.Loopback {
		if err := c.mc.SetMulticastLoopback(true); err != nil {
			c.log.Warn("enable multicast loopback", "error", err)
		}
	}

	c.log.Info("joined multicast group", "group", c.group, "addr", pc.LocalAddr().String())
	return c, nil
}

func newConn(name string, pc net.PacketConn, log *slog.Logger) *Conn {
	if log == nil {
		log = slog.Default()
	}
	return &Conn{
		log:       log.With("component", "ingest", "stream", name),
		name:      name,
		startedAt: time.Now(),
		pc:        pc,
	}
}

// ReadFrom reads one datagram into p.
func (c *Conn) ReadFrom(p []byte) (int, net.Addr, error) {
	n, addr, err := c.pc.ReadFrom(p)
	if err != nil {
		return n, addr, err
	}
	c.bytesReceived.Add(int64(n))
	if c.readCount.Add(1) == 1 && addr != nil {
		c.log.Info("first datagram", "remote", addr.String(), "bytes", n)
	}
	if addr != nil {
		c.remoteAddr.Store(addr.String())
	}
	return n, addr, nil
}

// LocalAddr returns the bound socket address.
func (c *Conn) LocalAddr() net.Addr {
	return c.pc.LocalAddr()
}

// Close leaves the group and closes the socket, unblocking any pending
// ReadFrom. It is safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		if c.mc != nil && c.groupAddr != nil {
			if err := c.mc.LeaveGroup(c.ifi, c.groupAddr); err != nil {
				c.log.Debug("leave group", "error", err)
			}
		}
		c.closeErr = c.pc.Close()
		st := c.Stats()
		c.log.Info("socket closed", "bytes", st.BytesReceived, "reads", st.ReadCount, "uptime_ms", st.UptimeMs)
	})
	return c.closeErr
}

// Stats returns a snapshot of connection metrics.
func (c *Conn) Stats() Stats {
	addr, _ := c.remoteAddr.Load().(string)
	return Stats{
		Name:          c.name,
		Group:         c.group,
		BytesReceived: c.bytesReceived.Load(),
		ReadCount:     c.readCount.Load(),
		ConnectedAt:   c.startedAt.UnixMilli(),
		UptimeMs:      time.Since(c.startedAt).Milliseconds(),
		RemoteAddr:    addr,
	}
}
