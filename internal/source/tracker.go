// Package source tracks the live sACN sources and their sequence numbers.
package source

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"sacnbridge/internal/packet"

	"github.com/google/uuid"
)

// DefaultTimeout is the time after which a silent source is expired.
const DefaultTimeout = 5000 * time.Millisecond

// Status classifies a sequence number relative to the last one of the same source and universe.
type Status int

const (
	InOrder Status = iota
	Duplicate
	Dropped
	OutOfOrder
)

func (s Status) String() string {
	switch s {
	case InOrder:
		return "in order"
	case Duplicate:
		return "duplicate"
	case Dropped:
		return "dropped"
	case OutOfOrder:
		return "out of order"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Verdict is the result of the sequence check of one packet.
type Verdict struct {
	Status   Status
	First    bool  // First is set for the first packet of a source on a universe.
	Dropped  int   // Dropped is the number of missing frames if Status is Dropped.
	Last     uint8 // Last is the previous sequence number.
	Sequence uint8 // Sequence is the sequence number of the packet.
}

func (v Verdict) String() string {
	switch {
	case v.First:
		return "first packet"
	case v.Status == Dropped:
		return fmt.Sprintf("%d frame(s) dropped", v.Dropped)
	case v.Status == OutOfOrder:
		return fmt.Sprintf("frame significantly out of order (%d -> %d)", v.Last, v.Sequence)
	}
	return v.Status.String()
}

// Source is a transmitter identified by its CID.
type Source struct {
	CID uuid.UUID
	// Label and Priority are taken from the first packet of the source.
	// The priority used for merging is tracked per universe by the merger.
	Label    string
	Priority uint8
	LastSeen time.Time
}

type entry struct {
	Source
	sequence map[uint16]uint8
}

// Tracker holds the live sources. It is not safe for concurrent use.
type Tracker struct {
	timeout time.Duration
	sources map[uuid.UUID]*entry
}

// NewTracker creates a Tracker expiring sources silent for longer than timeout.
func NewTracker(timeout time.Duration) *Tracker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Tracker{
		timeout: timeout,
		sources: map[uuid.UUID]*entry{},
	}
}

// Timeout returns the expiry timeout.
func (t *Tracker) Timeout() time.Duration {
	return t.timeout
}

// Observe records p as seen at now and checks its sequence number.
// The stored sequence is updated regardless of the verdict.
func (t *Tracker) Observe(p *packet.Packet, now time.Time) (Source, Verdict) {
	e, ok := t.sources[p.CID]
	if !ok {
		e = &entry{
			Source: Source{
				CID:      p.CID,
				Label:    p.SourceLabel,
				Priority: p.Priority,
			},
			sequence: map[uint16]uint8{},
		}
		t.sources[p.CID] = e
	}
	e.LastSeen = now

	v := Verdict{Sequence: p.Sequence}
	last, seen := e.sequence[p.Universe]
	if seen {
		v.Last = last
		v.Status, v.Dropped = classify(last, p.Sequence)
	} else {
		v.First = true
	}
	e.sequence[p.Universe] = p.Sequence

	return e.Source, v
}

func classify(last, next uint8) (Status, int) {
	diff := int(next) - int(last)
	switch {
	case diff == 1 || diff == -255:
		return InOrder, 0
	case diff == 0:
		return Duplicate, 0
	case diff > 0 && diff < 5:
		return Dropped, diff - 1
	}
	return OutOfOrder, 0
}

// Sweep removes the sources not seen for longer than the timeout
// and returns their ids.
func (t *Tracker) Sweep(now time.Time) []uuid.UUID {
	clearPoint := now.Add(-t.timeout)
	var expired []uuid.UUID
	for id, e := range t.sources {
		if e.LastSeen.Before(clearPoint) {
			delete(t.sources, id)
			expired = append(expired, id)
		}
	}
	sortIDs(expired)
	return expired
}

// Lookup returns the source with the given id.
func (t *Tracker) Lookup(id uuid.UUID) (Source, bool) {
	e, ok := t.sources[id]
	if !ok {
		return Source{}, false
	}
	return e.Source, true
}

// LastSequence returns the last sequence number of source id on universe u.
func (t *Tracker) LastSequence(id uuid.UUID, u uint16) (uint8, bool) {
	e, ok := t.sources[id]
	if !ok {
		return 0, false
	}
	seq, ok := e.sequence[u]
	return seq, ok
}

// Sources returns a copy of all live sources ordered by CID.
func (t *Tracker) Sources() []Source {
	list := make([]Source, 0, len(t.sources))
	for _, e := range t.sources {
		list = append(list, e.Source)
	}
	sort.Slice(list, func(i, j int) bool {
		return bytes.Compare(list[i].CID[:], list[j].CID[:]) < 0
	})
	return list
}

// Len returns the number of live sources.
func (t *Tracker) Len() int {
	return len(t.sources)
}

// Reset forgets all sources.
func (t *Tracker) Reset() {
	t.sources = map[uuid.UUID]*entry{}
}

func sortIDs(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
}
