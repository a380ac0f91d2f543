// Package replay feeds captured sACN traffic from a pcap file through the
// receive pipeline, using the capture timestamps as the clock.
package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"sacnbridge/internal/logger"
	"sacnbridge/internal/sacn"
	"sacnbridge/internal/universe"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// Options configures a replay.
type Options struct {
	Port          int           // UDP destination port, universe.DefaultPort if 0.
	SweepInterval time.Duration // sacn.DefaultSweepInterval if 0.
}

// Stats counts what a replay processed.
type Stats struct {
	Datagrams int
	Invalid   int
	Filtered  int
	Expired   int
}

// Read calls fn for the payload of every UDP datagram to port in the capture.
// Other frames are skipped. An error from fn stops the read.
func Read(ctx context.Context, r io.Reader, port int, fn func(ts time.Time, payload []byte) error) error {
	if port == 0 {
		port = universe.DefaultPort
	}
	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return fmt.Errorf("failed to open capture: %w", err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, ci, err := reader.ReadPacketData()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read capture: %w", err)
		}

		pkt := gopacket.NewPacket(data, reader.LinkType(), gopacket.DecodeOptions{Lazy: true, NoCopy: true})
		udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok || int(udp.DstPort) != port || len(udp.Payload) == 0 {
			continue
		}
		if err := fn(ci.Timestamp, udp.Payload); err != nil {
			return err
		}
	}
}

// Run replays the capture through p and hands every delivered result to sink.
// Sources are swept whenever the capture clock advances by the sweep interval.
func Run(ctx context.Context, log logger.Logger, r io.Reader, opts Options, p *sacn.Pipeline, sink func(sacn.Result)) (Stats, error) {
	l := log.With(logger.Fields{"module": "replay"})
	interval := opts.SweepInterval
	if interval <= 0 {
		interval = sacn.DefaultSweepInterval
	}

	var (
		stats     Stats
		lastSweep time.Time
	)
	err := Read(ctx, r, opts.Port, func(ts time.Time, payload []byte) error {
		stats.Datagrams++
		if lastSweep.IsZero() {
			lastSweep = ts
		} else if ts.Sub(lastSweep) >= interval {
			stats.Expired += len(p.Sweep(ts))
			lastSweep = ts
		}

		res, err := p.Handle(payload, ts)
		if err != nil {
			stats.Invalid++
			l.Debugf("discarding datagram %d: %v", stats.Datagrams, err)
			return nil
		}
		if res.Filtered {
			stats.Filtered++
			return nil
		}
		if sink != nil {
			sink(res)
		}
		return nil
	})
	l.Infof("replayed %d datagrams, %d invalid, %d filtered, %d sources expired",
		stats.Datagrams, stats.Invalid, stats.Filtered, stats.Expired)
	return stats, err
}
