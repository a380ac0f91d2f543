// Package merge combines the channel data of several sACN sources
// using highest takes precedence (HTP) arbitration.
package merge

import (
	"sort"

	"sacnbridge/internal/universe"

	"github.com/google/uuid"
)

// Change is a new merged value of a global channel.
type Change struct {
	Channel uint32 `json:"channel"`
	Value   uint8  `json:"value"`
}

// snapshot is the last data a source sent on a universe.
type snapshot struct {
	data     []byte // start code at index 0
	priority uint8
}

// Merger holds the per source snapshots and the last merged value of every channel.
// It is not safe for concurrent use.
type Merger struct {
	snapshots map[uuid.UUID]map[uint16]snapshot
	values    map[uint32]uint8
	width     map[uint16]int // widest channel count seen per universe
}

// New creates an empty Merger.
func New() *Merger {
	return &Merger{
		snapshots: map[uuid.UUID]map[uint16]snapshot{},
		values:    map[uint32]uint8{},
		width:     map[uint16]int{},
	}
}

// Update stores data as the latest snapshot of source id on universe u and
// recomputes the universe. Only channels whose merged value changed are returned.
//
// Among all sources with a snapshot for u only those sharing the highest
// priority take part, and each channel gets the maximum of their values.
// data[0] is the start code; missing channels count as 0. data is retained
// and must not be modified afterwards.
func (m *Merger) Update(id uuid.UUID, u uint16, priority uint8, data []byte) []Change {
	perUniverse, ok := m.snapshots[id]
	if !ok {
		perUniverse = map[uint16]snapshot{}
		m.snapshots[id] = perUniverse
	}
	perUniverse[u] = snapshot{data: data, priority: priority}

	if n := len(data) - 1; n > m.width[u] {
		if n > universe.Channels {
			n = universe.Channels
		}
		m.width[u] = n
	}

	highest := -1
	var winners [][]byte
	for _, src := range m.snapshots {
		s, ok := src[u]
		if !ok || int(s.priority) < highest {
			continue
		}
		if int(s.priority) > highest {
			highest = int(s.priority)
			winners = winners[:0]
		}
		winners = append(winners, s.data)
	}

	var changes []Change
	for addr := 1; addr <= m.width[u]; addr++ {
		var v uint8
		for _, d := range winners {
			if addr < len(d) && d[addr] > v {
				v = d[addr]
			}
		}
		ch := universe.GlobalChannel(u, uint16(addr))
		if old, ok := m.values[ch]; ok && old == v {
			continue
		}
		m.values[ch] = v
		changes = append(changes, Change{Channel: ch, Value: v})
	}
	return changes
}

// Forget drops all snapshots of source id. Merged values are kept until the
// next update of the affected universes.
func (m *Merger) Forget(id uuid.UUID) {
	delete(m.snapshots, id)
}

// Priority returns the priority source id declared on universe u with its last packet.
func (m *Merger) Priority(id uuid.UUID, u uint16) (uint8, bool) {
	s, ok := m.snapshots[id][u]
	return s.priority, ok
}

// Value returns the merged value of a global channel.
func (m *Merger) Value(global uint32) (uint8, bool) {
	v, ok := m.values[global]
	return v, ok
}

// Snapshot returns a copy of all merged channel values.
func (m *Merger) Snapshot() map[uint32]uint8 {
	out := make(map[uint32]uint8, len(m.values))
	for ch, v := range m.values {
		out[ch] = v
	}
	return out
}

// Universe returns the merged values of universe u, channel 1 at index 0.
func (m *Merger) Universe(u uint16) [universe.Channels]byte {
	var out [universe.Channels]byte
	for addr := 1; addr <= m.width[u]; addr++ {
		out[addr-1] = m.values[universe.GlobalChannel(u, uint16(addr))]
	}
	return out
}

// Universes returns the universes with merged data in ascending order.
func (m *Merger) Universes() []uint16 {
	list := make([]uint16, 0, len(m.width))
	for u := range m.width {
		list = append(list, u)
	}
	sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
	return list
}
