package sacn

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"sacnbridge/internal/logger"
	"sacnbridge/internal/merge"
	"sacnbridge/internal/packet"
	"sacnbridge/internal/source"
	"sacnbridge/internal/universe"

	"golang.org/x/net/ipv4"
)

const (
	// DefaultSweepInterval is how often silent sources are expired.
	DefaultSweepInterval = 5000 * time.Millisecond
	// DefaultBuffer is the capacity of the receiver output streams.
	DefaultBuffer = 64

	// readBufferSize is larger than any valid packet so that oversized
	// datagrams fail to parse instead of being cut off.
	readBufferSize = 1500
)

// ReceiverConfig configures a Receiver.
type ReceiverConfig struct {
	Interface     string // Interface name or address used for multicast joins.
	Address       string // Address to bind to, all addresses if empty.
	Port          int    // Port defaults to universe.DefaultPort.
	AllStartCodes bool
	SourceTimeout time.Duration
	SweepInterval time.Duration
	Buffer        int
}

// Receiver listens for sACN data, tracks the sources and merges their
// channels. Both output streams have to be drained; a full stream holds
// back the processing of further datagrams until it is read or the
// Receiver is closed.
type Receiver struct {
	log      *logger.Log
	conn     packetConn
	members  *membership
	pipeline *Pipeline
	now      func() time.Time
	sweep    time.Duration

	packets chan *packet.Packet
	changes chan []merge.Change

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// NewReceiver binds the UDP socket and starts listening. Universes have to
// be added with AddUniverse to receive multicast data; unicast data sent to
// the socket is processed right away. The caller is responsible for closing.
func NewReceiver(log logger.Logger, cfg ReceiverConfig) (*Receiver, error) {
	ifi, _, err := resolveInterface(cfg.Interface)
	if err != nil {
		return nil, err
	}
	port := cfg.Port
	if port == 0 {
		port = universe.DefaultPort
	}
	addr := net.JoinHostPort(cfg.Address, strconv.Itoa(port))
	conn, err := net.ListenPacket("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return newReceiver(log, ipv4.NewPacketConn(conn), ifi, cfg), nil
}

func newReceiver(log logger.Logger, conn packetConn, ifi *net.Interface, cfg ReceiverConfig) *Receiver {
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	sweep := cfg.SweepInterval
	if sweep <= 0 {
		sweep = DefaultSweepInterval
	}
	r := &Receiver{
		log:     log.With(logger.Fields{"module": "receiver"}),
		conn:    conn,
		members: newMembership(conn, ifi),
		pipeline: NewPipeline(log, PipelineConfig{
			AllStartCodes: cfg.AllStartCodes,
			SourceTimeout: cfg.SourceTimeout,
		}),
		now:     time.Now,
		sweep:   sweep,
		packets: make(chan *packet.Packet, buffer),
		changes: make(chan []merge.Change, buffer),
		done:    make(chan struct{}),
	}
	r.wg.Add(2)
	go r.listen()
	go r.sweepSources()
	return r
}

// AddUniverse joins the multicast group of u. It returns false if the
// universe is already joined or a join is in progress.
func (r *Receiver) AddUniverse(u uint16) (bool, error) {
	ok, err := r.members.join(u)
	if ok {
		r.log.Infof("joined universe %d", u)
	}
	return ok, err
}

// RemoveUniverse leaves the multicast group of u. It returns false if the
// universe was not joined.
func (r *Receiver) RemoveUniverse(u uint16) (bool, error) {
	ok, err := r.members.leave(u)
	if ok {
		r.log.Infof("left universe %d", u)
	}
	return ok, err
}

// Universes returns the joined universes.
func (r *Receiver) Universes() []uint16 {
	return r.members.universes()
}

// Packets returns the stream of validated packets. It is closed by Close.
func (r *Receiver) Packets() <-chan *packet.Packet {
	return r.packets
}

// Changes returns the stream of merged channel changes, one slice per
// packet that changed at least one channel. It is closed by Close.
func (r *Receiver) Changes() <-chan []merge.Change {
	return r.changes
}

// Sources returns the live sources.
func (r *Receiver) Sources() []source.Source {
	return r.pipeline.Sources()
}

// Channels returns all merged channel values keyed by global channel.
func (r *Receiver) Channels() map[uint32]uint8 {
	return r.pipeline.Channels()
}

// Universe returns the merged values of universe u.
func (r *Receiver) Universe(u uint16) [universe.Channels]byte {
	return r.pipeline.Universe(u)
}

// Close stops the sweep timer and closes the socket. Items still queued are
// discarded, so once Close returns both streams are closed and empty, and
// all sources are forgotten. Close may be called more than once.
func (r *Receiver) Close() error {
	r.closeOnce.Do(func() {
		close(r.done)
		if err := r.conn.Close(); err != nil {
			r.closeErr = fmt.Errorf("failed to close socket: %w", err)
		}
		r.wg.Wait()
		for len(r.packets) > 0 {
			<-r.packets
		}
		for len(r.changes) > 0 {
			<-r.changes
		}
		close(r.packets)
		close(r.changes)
		r.pipeline.Reset()
		r.log.Debug("receiver closed")
	})
	return r.closeErr
}

func (r *Receiver) closed() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// listen reads and processes one datagram at a time until the socket is closed.
func (r *Receiver) listen() {
	defer r.wg.Done()
	buf := make([]byte, readBufferSize)
	for {
		n, _, addr, err := r.conn.ReadFrom(buf)
		if err != nil {
			if r.closed() || errors.Is(err, net.ErrClosed) {
				return
			}
			r.log.Warnf("read error: %v", err)
			continue
		}

		res, err := r.pipeline.Handle(buf[:n], r.now())
		if err != nil {
			r.log.With(logger.Fields{"from": addr}).Warnf("discarding datagram: %v", err)
			continue
		}
		if res.Filtered {
			continue
		}
		if !r.deliver(res) {
			return
		}
	}
}

func (r *Receiver) deliver(res Result) bool {
	select {
	case r.packets <- res.Packet:
	case <-r.done:
		return false
	}
	if len(res.Changes) == 0 {
		return true
	}
	select {
	case r.changes <- res.Changes:
	case <-r.done:
		return false
	}
	return true
}

func (r *Receiver) sweepSources() {
	defer r.wg.Done()
	t := time.NewTicker(r.sweep)
	defer t.Stop()
	for {
		select {
		case <-r.done:
			return
		case <-t.C:
			r.pipeline.Sweep(r.now())
		}
	}
}
