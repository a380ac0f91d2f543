package sacn

import (
	"fmt"
	"net"
	"sort"
	"sync"

	"sacnbridge/internal/universe"
)

// membership tracks the multicast groups joined on one socket.
type membership struct {
	conn groupConn
	ifi  *net.Interface

	mu     sync.Mutex
	joined map[uint16]bool // false while the join is in flight
}

func newMembership(conn groupConn, ifi *net.Interface) *membership {
	return &membership{
		conn:   conn,
		ifi:    ifi,
		joined: map[uint16]bool{},
	}
}

// join joins the group of u. It returns false if u is already joined or
// being joined by another caller.
func (m *membership) join(u uint16) (bool, error) {
	group, err := universe.MulticastAddr(u, universe.DefaultPort)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	if _, ok := m.joined[u]; ok {
		m.mu.Unlock()
		return false, nil
	}
	m.joined[u] = false
	m.mu.Unlock()

	err = m.conn.JoinGroup(m.ifi, group)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		delete(m.joined, u)
		return false, fmt.Errorf("join universe %d (%s): %w", u, group.IP, err)
	}
	m.joined[u] = true
	return true, nil
}

// leave leaves the group of u. It returns false if u was not joined.
func (m *membership) leave(u uint16) (bool, error) {
	group, err := universe.MulticastAddr(u, universe.DefaultPort)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	if done := m.joined[u]; !done {
		m.mu.Unlock()
		return false, nil
	}
	delete(m.joined, u)
	m.mu.Unlock()

	if err := m.conn.LeaveGroup(m.ifi, group); err != nil {
		m.mu.Lock()
		m.joined[u] = true
		m.mu.Unlock()
		return false, fmt.Errorf("leave universe %d (%s): %w", u, group.IP, err)
	}
	return true, nil
}

// universes returns the joined universes in ascending order.
func (m *membership) universes() []uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := make([]uint16, 0, len(m.joined))
	for u, done := range m.joined {
		if done {
			list = append(list, u)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
	return list
}
