// Package config parses and validates the viewer's command-line options.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/netip"
	"strconv"
	"strings"

	"github.com/zsiec/u64stream/internal/ingest"
	"github.com/zsiec/u64stream/internal/palette"
	"github.com/zsiec/u64stream/internal/protocol"
)

// Presentation size bounds.
const (
	MinWidth  = 320
	MinHeight = 200
	MaxWidth  = 5120
	MaxHeight = 3650
)

// Default endpoints of the Ultimate 64 stream.
var (
	DefaultVideoGroup = netip.MustParseAddr("239.0.1.64")
	DefaultAudioGroup = netip.MustParseAddr("239.0.1.65")
)

const (
	DefaultVideoPort = 11000
	DefaultAudioPort = 11001
	DefaultHTTPAddr  = ":8064"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Dimensions is a WIDTHxHEIGHT presentation size.
type Dimensions struct {
	Width  int
	Height int
}

// String formats d as WIDTHxHEIGHT.
func (d *Dimensions) String() string {
	return fmt.Sprintf("%dx%d", d.Width, d.Height)
}

// Set parses and bounds-checks a WIDTHxHEIGHT value.
func (d *Dimensions) Set(s string) error {
	v, err := ParseDimensions(s)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// ParseDimensions parses s as WIDTHxHEIGHT within the supported bounds.
func ParseDimensions(s string) (Dimensions, error) {
	parts := strings.Split(s, "x")
	if len(parts) != 2 {
		return Dimensions{}, fmt.Errorf("invalid format %q: expected WIDTHxHEIGHT", s)
	}
	w, err := strconv.Atoi(parts[0])
	if err != nil || w < 0 {
		return Dimensions{}, fmt.Errorf("invalid width: %s", parts[0])
	}
	h, err := strconv.Atoi(parts[1])
	if err != nil || h < 0 {
		return Dimensions{}, fmt.Errorf("invalid height: %s", parts[1])
	}
	if w < MinWidth || h < MinHeight {
		return Dimensions{}, fmt.Errorf("dimensions too small (min %dx%d)", MinWidth, MinHeight)
	}
	if w > MaxWidth || h > MaxHeight {
		return Dimensions{}, fmt.Errorf("dimensions too large (max %dx%d)", MaxWidth, MaxHeight)
	}
	return Dimensions{Width: w, Height: h}, nil
}

// multicastValue is a flag.Value accepting only IPv4 multicast addresses.
type multicastValue struct{ addr *netip.Addr }

func (m multicastValue) String() string {
	if m.addr == nil {
		return ""
	}
	return m.addr.String()
}

func (m multicastValue) Set(s string) error {
	a, err := ParseMulticast(s)
	if err != nil {
		return err
	}
	*m.addr = a
	return nil
}

// ParseMulticast parses s as an IPv4 multicast group address.
func ParseMulticast(s string) (netip.Addr, error) {
	a, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil || !a.Is4() {
		return netip.Addr{}, fmt.Errorf("error parsing multicast address: %s", s)
	}
	if !a.IsMulticast() {
		return netip.Addr{}, fmt.Errorf("address %s is not a multicast address", a)
	}
	return a, nil
}

// paletteValue collects a comma separated list of hex colors.
type paletteValue struct{ rgb *[]uint32 }

func (p paletteValue) String() string {
	if p.rgb == nil {
		return ""
	}
	parts := make([]string, len(*p.rgb))
	for i, v := range *p.rgb {
		parts[i] = fmt.Sprintf("%06X", v)
	}
	return strings.Join(parts, ",")
}

func (p paletteValue) Set(s string) error {
	rgb, err := palette.ParseOverride(s)
	if err != nil {
		return err
	}
	*p.rgb = rgb
	return nil
}

// Config is the validated runtime configuration.
type Config struct {
	Dimensions Dimensions
	Mute       bool
	// PaletteRGB holds the raw override values; empty means the default palette.
	PaletteRGB []uint32
	Palette    palette.Palette

	VideoGroup netip.Addr
	AudioGroup netip.Addr
	VideoPort  int
	AudioPort  int
	Interface  string

	HTTPAddr string
	// TLS serves the viewer over HTTPS with a generated self-signed
	// certificate covering localhost and TLSHosts.
	TLS      bool
	TLSHosts []string
	// HTTP3 also serves the page and API over HTTP/3. Requires TLS.
	HTTP3 bool

	RecordPath    string
	SkipMalformed bool
	Debug         bool
}

// Default returns the configuration used when no options are given.
func Default() Config {
	return Config{
		Dimensions: Dimensions{Width: protocol.LineWidth, Height: protocol.FrameHeight},
		Palette:    palette.Default,
		VideoGroup: DefaultVideoGroup,
		AudioGroup: DefaultAudioGroup,
		VideoPort:  DefaultVideoPort,
		AudioPort:  DefaultAudioPort,
		HTTPAddr:   DefaultHTTPAddr,
	}
}

// Parse reads options from args (without the program name). getenv supplies
// environment fallbacks and may be nil. Usage and flag errors are written to
// out. The returned error wraps ErrInvalid for validation failures and is
// flag.ErrHelp when -h was given.
func Parse(name string, args []string, getenv func(string) string, out io.Writer) (Config, error) {
	if getenv == nil {
		getenv = func(string) string { return "" }
	}
	envOr := func(key, fallback string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return fallback
	}

	cfg := Default()
	cfg.HTTPAddr = envOr("U64_HTTP_ADDR", cfg.HTTPAddr)
	cfg.Interface = envOr("U64_IFACE", "")
	cfg.Debug = getenv("DEBUG") != ""

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)

	fs.Var(&cfg.Dimensions, "d", "window dimensions `WxH` (e.g. 640x480)")
	fs.Var(&cfg.Dimensions, "dimensions", "window dimensions `WxH` (e.g. 640x480)")
	fs.BoolVar(&cfg.Mute, "m", false, "mute audio")
	fs.BoolVar(&cfg.Mute, "mute", false, "mute audio")
	pv := paletteValue{rgb: &cfg.PaletteRGB}
	fs.Var(pv, "p", "alternate palette of 16 comma separated `RRGGBB` values")
	fs.Var(pv, "palette", "alternate palette of 16 comma separated `RRGGBB` values")
	fs.Var(multicastValue{&cfg.VideoGroup}, "v", "video multicast `address`")
	fs.Var(multicastValue{&cfg.VideoGroup}, "video-maddr", "video multicast `address`")
	fs.Var(multicastValue{&cfg.AudioGroup}, "a", "audio multicast `address`")
	fs.Var(multicastValue{&cfg.AudioGroup}, "audio-maddr", "audio multicast `address`")
	fs.IntVar(&cfg.VideoPort, "video-port", cfg.VideoPort, "video UDP `port`")
	fs.IntVar(&cfg.AudioPort, "audio-port", cfg.AudioPort, "audio UDP `port`")
	fs.StringVar(&cfg.Interface, "iface", cfg.Interface, "network `interface` to join the groups on (env U64_IFACE)")
	fs.StringVar(&cfg.HTTPAddr, "http", cfg.HTTPAddr, "viewer listen `address` (env U64_HTTP_ADDR)")
	fs.BoolVar(&cfg.TLS, "tls", false, "serve the viewer over HTTPS with a self-signed certificate")
	fs.BoolVar(&cfg.HTTP3, "http3", false, "also serve over HTTP/3 (requires -tls)")
	fs.Func("tls-host", "extra certificate host name or IP, comma separated `hosts`", func(v string) error {
		for _, h := range strings.Split(v, ",") {
			if h = strings.TrimSpace(h); h != "" {
				cfg.TLSHosts = append(cfg.TLSHosts, h)
			}
		}
		return nil
	})
	fs.StringVar(&cfg.RecordPath, "record", "", "write played audio to this WAV `file`")
	fs.BoolVar(&cfg.SkipMalformed, "skip-malformed", false, "log and skip short datagrams instead of stopping")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "debug logging (env DEBUG)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return cfg, err
		}
		return cfg, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if fs.NArg() > 0 {
		return cfg, fmt.Errorf("%w: unexpected argument %q", ErrInvalid, fs.Arg(0))
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints and resolves Palette from
// PaletteRGB.
func (c *Config) Validate() error {
	if _, err := ParseDimensions(c.Dimensions.String()); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	for _, g := range []netip.Addr{c.VideoGroup, c.AudioGroup} {
		if _, err := ParseMulticast(g.String()); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalid, err)
		}
	}
	for _, p := range []int{c.VideoPort, c.AudioPort} {
		if p < 1 || p > 65535 {
			return fmt.Errorf("%w: port %d out of range", ErrInvalid, p)
		}
	}
	if c.VideoGroup == c.AudioGroup && c.VideoPort == c.AudioPort {
		return fmt.Errorf("%w: video and audio share %s:%d", ErrInvalid, c.VideoGroup, c.VideoPort)
	}
	if c.HTTPAddr == "" {
		return fmt.Errorf("%w: empty http address", ErrInvalid)
	}
	if c.HTTP3 && !c.TLS {
		return fmt.Errorf("%w: -http3 requires -tls", ErrInvalid)
	}

	c.Palette = palette.Default
	if len(c.PaletteRGB) > 0 {
		p, err := palette.FromRGB(c.PaletteRGB)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalid, err)
		}
		c.Palette = p
	}
	return nil
}

// VideoIngest returns the subscription for the video stream.
func (c *Config) VideoIngest() ingest.Config {
	return ingest.Config{Name: "video", Group: c.VideoGroup, Port: c.VideoPort, Interface: c.Interface}
}

// AudioIngest returns the subscription for the audio stream.
func (c *Config) AudioIngest() ingest.Config {
	return ingest.Config{Name: "audio", Group: c.AudioGroup, Port: c.AudioPort, Interface: c.Interface}
}
