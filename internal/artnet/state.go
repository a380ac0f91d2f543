package artnet

import (
	"sync"
)

// State is the last value of every channel forwarded to Art-Net.
type State struct {
	mu        sync.Mutex
	universes UniverseStateMap
}

func NewState() *State {
	return &State{universes: UniverseStateMap{}}
}

// SetChannel stores one value. Channels outside 1-512 are ignored.
func (s *State) SetChannel(universe, channel uint16, value uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set(universe, channel, value)
}

// SetChannelValues stores values and returns the universes they touched.
func (s *State) SetChannelValues(values []ChannelValue) []uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var touched []uint16
	seen := map[uint16]bool{}
	for _, v := range values {
		if !s.set(v.Universe, v.Channel, v.Value) || seen[v.Universe] {
			continue
		}
		seen[v.Universe] = true
		touched = append(touched, v.Universe)
	}
	return touched
}

func (s *State) set(universe, channel uint16, value uint8) bool {
	if channel < 1 || channel > 512 {
		return false
	}
	dmx := s.universes[universe]
	dmx[channel-1] = value
	s.universes[universe] = dmx
	return true
}

// Get returns a copy of the universes, all of them if none are named.
func (s *State) Get(universes ...uint16) UniverseStateMap {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := UniverseStateMap{}
	if len(universes) == 0 {
		for u, dmx := range s.universes {
			out[u] = dmx
		}
		return out
	}
	for _, u := range universes {
		if dmx, ok := s.universes[u]; ok {
			out[u] = dmx
		}
	}
	return out
}
