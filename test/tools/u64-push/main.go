// u64-push sends a synthetic Ultimate 64 stream (scrolling color bars and a
// stereo tone) to the video and audio multicast groups, paced at real-time
// rate. Point u64view at the same groups to test without hardware.
//
// Usage:
//
//	go run ./test/tools/u64-push
//	go run ./test/tools/u64-push -video 239.0.1.64:11000 -audio 239.0.1.65:11001 -duration 30
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/zsiec/u64stream/internal/synth"
)

func main() {
	videoFlag := flag.String("video", "239.0.1.64:11000", "Video multicast destination")
	audioFlag := flag.String("audio", "239.0.1.65:11001", "Audio multicast destination")
	ifaceFlag := flag.String("iface", "", "Outgoing interface name (default: kernel choice)")
	ttlFlag := flag.Int("ttl", 1, "Multicast TTL")
	loopFlag := flag.Bool("loopback", true, "Deliver to listeners on this host")
	noAudio := flag.Bool("no-audio", false, "Send video only")
	toneFlag := flag.Float64("tone", 440, "Tone frequency in Hz")
	durationFlag := flag.Duration("duration", 0, "Stop after this long (default: run until interrupted)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	if *durationFlag > 0 {
		ctx, cancel = context.WithTimeout(ctx, *durationFlag)
		defer cancel()
	}

	opts := sendOptions{iface: *ifaceFlag, ttl: *ttlFlag, loopback: *loopFlag}

	var wg sync.WaitGroup
	errCh := make(chan error, 2)
	start := func(name, dest string, gen synth.Generator, interval time.Duration) {
		conn, err := dialMulticast(dest, opts)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[%s] %v\n", name, err)
			os.Exit(1)
		}
		fmt.Printf("[%s] Sending to %s every %s\n", name, dest, interval)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer conn.Close()
			if err := sendLoop(ctx, conn, gen, interval, name); err != nil {
				errCh <- fmt.Errorf("%s: %w", name, err)
				cancel()
			}
		}()
	}

	start("video", *videoFlag, &synth.Bars{}, synth.VideoPacketInterval)
	if !*noAudio {
		start("audio", *audioFlag, &synth.Tone{Freq: *toneFlag}, synth.AudioPacketInterval)
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		fmt.Fprintf(os.Stderr, "Send failed: %v\n", err)
		os.Exit(1)
	}
}

type sendOptions struct {
	iface    string
	ttl      int
	loopback bool
}

func dialMulticast(dest string, opts sendOptions) (*net.UDPConn, error) {
	raddr, err := parseDestination(dest)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp4", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", dest, err)
	}

	pc := ipv4.NewPacketConn(conn)
	if err := pc.SetMulticastTTL(opts.ttl); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set TTL: %w", err)
	}
	if err := pc.SetMulticastLoopback(opts.loopback); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set loopback: %w", err)
	}
	if opts.iface != "" {
		ifi, err := net.InterfaceByName(opts.iface)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("interface %q: %w", opts.iface, err)
		}
		if err := pc.SetMulticastInterface(ifi); err != nil {
			conn.Close()
			return nil, fmt.Errorf("set interface: %w", err)
		}
	}
	return conn, nil
}

func parseDestination(dest string) (*net.UDPAddr, error) {
	raddr, err := net.ResolveUDPAddr("udp4", dest)
	if err != nil {
		return nil, fmt.Errorf("invalid destination %q: %w", dest, err)
	}
	if !raddr.IP.IsMulticast() {
		return nil, fmt.Errorf("destination %s is not a multicast address", raddr.IP)
	}
	if raddr.Port == 0 {
		return nil, errors.New("destination port is required")
	}
	return raddr, nil
}

// packetsDue returns how many packets should have gone out after elapsed,
// given sent so far.
func packetsDue(elapsed, interval time.Duration, sent int64) int64 {
	if interval <= 0 {
		return 0
	}
	due := int64(elapsed/interval) + 1 - sent
	if due < 0 {
		return 0
	}
	return due
}

func sendLoop(ctx context.Context, conn *net.UDPConn, gen synth.Generator, interval time.Duration, name string) error {
	const (
		tick        = 2 * time.Millisecond
		logInterval = 10 * time.Second
	)
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	start := time.Now()
	lastLog := start
	var (
		sent  int64
		bytes int64
		buf   []byte
	)

	// Pace against the start time so the rate holds across ticker jitter.
	for {
		for n := packetsDue(time.Since(start), interval, sent); n > 0; n-- {
			buf = gen.AppendNext(buf[:0])
			w, err := conn.Write(buf)
			if err != nil {
				return err
			}
			sent++
			bytes += int64(w)
		}

		if time.Since(lastLog) >= logInterval {
			elapsed := time.Since(start).Seconds()
			fmt.Printf("[%s] packets=%d rate=%.0f pkt/s (target=%.0f) total=%.1f MB\n",
				name, sent, float64(sent)/elapsed, float64(time.Second)/float64(interval),
				float64(bytes)/(1024*1024))
			lastLog = time.Now()
		}

		select {
		case <-ctx.Done():
			fmt.Printf("[%s] Stopped after %d packets\n", name, sent)
			return nil
		case <-ticker.C:
		}
	}
}
