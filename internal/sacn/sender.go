package sacn

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"sacnbridge/internal/logger"
	"sacnbridge/internal/packet"
	"sacnbridge/internal/universe"

	"github.com/google/uuid"
	"golang.org/x/net/ipv4"
)

const (
	// DefaultSourceLabel is used when no label is configured.
	DefaultSourceLabel = "sacnbridge"
	// DefaultPriority is the E1.31 default priority.
	DefaultPriority uint8 = 100

	multicastTTL = 8
)

// ErrSenderClosed is returned by Send after Close.
var ErrSenderClosed = errors.New("sender closed")

// PacketOptions are the per packet fields of a Sender. Zero fields are not
// set and leave the underlying default in place.
type PacketOptions struct {
	CID         uuid.UUID
	SourceLabel string
	Priority    *uint8
}

// Merge returns o with every set field of over applied on top.
func (o PacketOptions) Merge(over PacketOptions) PacketOptions {
	if over.CID != uuid.Nil {
		o.CID = over.CID
	}
	if over.SourceLabel != "" {
		o.SourceLabel = over.SourceLabel
	}
	if over.Priority != nil {
		p := *over.Priority
		o.Priority = &p
	}
	return o
}

// Priority returns a pointer to p for use in PacketOptions.
func Priority(p uint8) *uint8 {
	return &p
}

// SenderConfig configures a Sender.
type SenderConfig struct {
	Universe  uint16
	Interface string // Interface name or IPv4 address to send from.
	Port      int    // Port defaults to universe.DefaultPort.
	// MinRefreshRate in Hz retransmits the last payload even if it did not
	// change. 0 sends every payload once.
	MinRefreshRate float64
	// Defaults are layered over a random CID, DefaultSourceLabel and DefaultPriority.
	Defaults PacketOptions
	// UnicastDestination sends to this host instead of the multicast group.
	UnicastDestination string
}

// stopper is satisfied by *time.Timer.
type stopper interface {
	Stop() bool
}

// Sender transmits the data of one universe.
type Sender struct {
	log      *logger.Log
	conn     packetWriter
	dst      net.Addr
	universe uint16
	defaults PacketOptions
	interval time.Duration

	afterFunc func(d time.Duration, f func()) stopper

	mu         sync.Mutex
	sequence   uint8
	timer      stopper
	generation uint64
	closed     bool
	healthy    bool
}

// NewSender opens the socket of a Sender. The caller is responsible for closing.
func NewSender(log logger.Logger, cfg SenderConfig) (*Sender, error) {
	if err := universe.Valid(cfg.Universe); err != nil {
		return nil, err
	}
	dst, err := destination(cfg)
	if err != nil {
		return nil, err
	}
	ifi, ip, err := resolveInterface(cfg.Interface)
	if err != nil {
		return nil, err
	}

	host := ""
	if ip != nil {
		host = ip.String()
	}
	conn, err := net.ListenPacket("udp4", net.JoinHostPort(host, "0"))
	if err != nil {
		return nil, fmt.Errorf("failed to open socket: %w", err)
	}
	pc := ipv4.NewPacketConn(conn)
	if cfg.UnicastDestination == "" {
		if err := setupMulticast(pc, ifi); err != nil {
			pc.Close()
			return nil, err
		}
	}
	return newSender(log, pc, dst, cfg), nil
}

func setupMulticast(pc *ipv4.PacketConn, ifi *net.Interface) error {
	if err := pc.SetMulticastLoopback(true); err != nil {
		return fmt.Errorf("failed to enable multicast loopback: %w", err)
	}
	if err := pc.SetMulticastTTL(multicastTTL); err != nil {
		return fmt.Errorf("failed to set multicast TTL: %w", err)
	}
	if ifi != nil {
		if err := pc.SetMulticastInterface(ifi); err != nil {
			return fmt.Errorf("failed to set multicast interface %s: %w", ifi.Name, err)
		}
	}
	return nil
}

func destination(cfg SenderConfig) (net.Addr, error) {
	port := cfg.Port
	if port == 0 {
		port = universe.DefaultPort
	}
	if cfg.UnicastDestination == "" {
		addr, err := universe.MulticastAddr(cfg.Universe, port)
		if err != nil {
			return nil, err
		}
		return addr, nil
	}
	addr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(cfg.UnicastDestination, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve destination %s: %w", cfg.UnicastDestination, err)
	}
	return addr, nil
}

func newSender(log logger.Logger, conn packetWriter, dst net.Addr, cfg SenderConfig) *Sender {
	defaults := PacketOptions{
		CID:         uuid.New(),
		SourceLabel: DefaultSourceLabel,
		Priority:    Priority(DefaultPriority),
	}.Merge(cfg.Defaults)

	var interval time.Duration
	if cfg.MinRefreshRate > 0 {
		interval = time.Duration(float64(time.Second) / cfg.MinRefreshRate)
	}

	return &Sender{
		log:       log.With(logger.Fields{"module": "sender", "universe": cfg.Universe}),
		conn:      conn,
		dst:       dst,
		universe:  cfg.Universe,
		defaults:  defaults,
		interval:  interval,
		afterFunc: func(d time.Duration, f func()) stopper { return time.AfterFunc(d, f) },
		healthy:   true,
	}
}

// Send transmits data (start code at index 0) with the default options.
func (s *Sender) Send(data []byte) error {
	return s.SendWith(PacketOptions{}, data)
}

// SendWith transmits data with opts layered over the defaults. With a
// refresh rate configured any pending resend is replaced by a new one
// for this payload.
func (s *Sender) SendWith(opts PacketOptions, data []byte) error {
	payload := append([]byte(nil), data...)
	return s.send(s.defaults.Merge(opts), payload, 0, false)
}

func (s *Sender) send(opts PacketOptions, data []byte, generation uint64, resend bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSenderClosed
	}
	if resend && generation != s.generation {
		// superseded by a newer send
		s.mu.Unlock()
		return nil
	}
	p := &packet.Packet{
		CID:         opts.CID,
		Priority:    *opts.Priority,
		Sequence:    s.sequence,
		Universe:    s.universe,
		Data:        data,
		SourceLabel: opts.SourceLabel,
	}
	s.sequence++
	s.rearm(opts, data)
	s.mu.Unlock()

	_, err := s.conn.WriteTo(packet.Build(p), nil, s.dst)

	s.mu.Lock()
	s.healthy = err == nil
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to send universe %d to %s: %w", s.universe, s.dst, err)
	}
	return nil
}

// rearm replaces the pending resend timer. s.mu must be held.
func (s *Sender) rearm(opts PacketOptions, data []byte) {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.generation++
	if s.interval <= 0 {
		return
	}
	generation := s.generation
	s.timer = s.afterFunc(s.interval, func() {
		if err := s.send(opts, data, generation, true); err != nil && !errors.Is(err, ErrSenderClosed) {
			s.log.Warnf("resend failed: %v", err)
		}
	})
}

// Healthy reports whether the last transmission succeeded.
func (s *Sender) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthy
}

// Sequence returns the sequence number of the next packet.
func (s *Sender) Sequence() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sequence
}

// Destination returns the address packets are sent to.
func (s *Sender) Destination() net.Addr {
	return s.dst
}

// Close cancels the pending resend and closes the socket. Close may be
// called more than once.
func (s *Sender) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.generation++
	s.mu.Unlock()

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close socket: %w", err)
	}
	return nil
}
