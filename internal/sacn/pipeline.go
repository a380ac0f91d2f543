package sacn

import (
	"sync"
	"time"

	"sacnbridge/internal/logger"
	"sacnbridge/internal/merge"
	"sacnbridge/internal/packet"
	"sacnbridge/internal/source"
	"sacnbridge/internal/universe"

	"github.com/google/uuid"
)

// PipelineConfig configures the receive processing.
type PipelineConfig struct {
	// AllStartCodes delivers packets with a non-zero start code too.
	// By default only DMX data (start code 0) is delivered.
	AllStartCodes bool
	// SourceTimeout defaults to source.DefaultTimeout.
	SourceTimeout time.Duration
}

// Result is the outcome of one datagram.
type Result struct {
	Packet  *packet.Packet
	Source  source.Source
	Verdict source.Verdict
	// Filtered is set when the packet was dropped because of its start code.
	Filtered bool
	Changes  []merge.Change
}

// Pipeline decodes datagrams, tracks their sources and merges their data.
// All methods are safe for concurrent use; the source table and the merged
// channels are guarded by one mutex held for the duration of each update.
type Pipeline struct {
	log           *logger.Log
	allStartCodes bool

	mu      sync.Mutex
	tracker *source.Tracker
	merger  *merge.Merger
}

// NewPipeline creates an empty Pipeline.
func NewPipeline(log logger.Logger, cfg PipelineConfig) *Pipeline {
	return &Pipeline{
		log:           log.With(logger.Fields{"module": "sacn"}),
		allStartCodes: cfg.AllStartCodes,
		tracker:       source.NewTracker(cfg.SourceTimeout),
		merger:        merge.New(),
	}
}

// Handle processes one datagram received at now. A *packet.FormatError is
// returned for malformed datagrams; sequence problems are only logged.
func (p *Pipeline) Handle(raw []byte, now time.Time) (Result, error) {
	pkt, err := packet.Parse(raw)
	if err != nil {
		return Result{}, err
	}

	p.mu.Lock()
	src, verdict := p.tracker.Observe(pkt, now)
	res := Result{Packet: pkt, Source: src, Verdict: verdict}
	if !p.allStartCodes && pkt.StartCode() != 0 {
		res.Filtered = true
	} else {
		res.Changes = p.merger.Update(pkt.CID, pkt.Universe, pkt.Priority, pkt.Data)
	}
	p.mu.Unlock()

	p.logVerdict(src, pkt, verdict)
	return res, nil
}

func (p *Pipeline) logVerdict(src source.Source, pkt *packet.Packet, v source.Verdict) {
	if v.First {
		p.log.With(logger.Fields{"source": src.Label, "cid": src.CID, "universe": pkt.Universe}).
			Debug("new stream")
		return
	}
	log := p.log.With(logger.Fields{"source": src.Label, "universe": pkt.Universe})
	switch v.Status {
	case source.Duplicate:
		log.Debugf("duplicate frame %d", v.Sequence)
	case source.Dropped:
		log.Warn(v.String())
	case source.OutOfOrder:
		log.Error(v.String())
	}
}

// Sweep expires the sources silent since before now minus the timeout and
// releases their merge snapshots.
func (p *Pipeline) Sweep(now time.Time) []uuid.UUID {
	p.mu.Lock()
	expired := p.tracker.Sweep(now)
	for _, id := range expired {
		p.merger.Forget(id)
	}
	live := p.tracker.Len()
	p.mu.Unlock()

	for _, id := range expired {
		p.log.With(logger.Fields{"cid": id}).Info("source timed out")
	}
	if len(expired) > 0 {
		p.log.Debugf("%d source(s) live", live)
	}
	return expired
}

// Reset forgets all sources and their merge snapshots.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	for _, src := range p.tracker.Sources() {
		p.merger.Forget(src.CID)
	}
	p.tracker.Reset()
	p.mu.Unlock()
}

// Sources returns the live sources.
func (p *Pipeline) Sources() []source.Source {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tracker.Sources()
}

// Channels returns all merged channel values keyed by global channel.
func (p *Pipeline) Channels() map[uint32]uint8 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.merger.Snapshot()
}

// Universe returns the merged values of universe u, channel 1 at index 0.
func (p *Pipeline) Universe(u uint16) [universe.Channels]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.merger.Universe(u)
}

// Timeout returns the source expiry timeout.
func (p *Pipeline) Timeout() time.Duration {
	return p.tracker.Timeout()
}
