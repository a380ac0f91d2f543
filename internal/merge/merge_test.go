package merge

import (
	"testing"

	"sacnbridge/internal/universe"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	srcA = uuid.UUID{0xa}
	srcB = uuid.UUID{0xb}
	srcC = uuid.UUID{0xc}
)

func dmx(values ...byte) []byte {
	return append([]byte{0}, values...)
}

func TestFirstUpdateReportsAllChannels(t *testing.T) {
	m := New()
	changes := m.Update(srcA, 1, 100, dmx(10, 0, 30))
	assert.Equal(t, []Change{{1, 10}, {2, 0}, {3, 30}}, changes)
}

func TestUnchangedChannelsNotReported(t *testing.T) {
	m := New()
	m.Update(srcA, 1, 100, dmx(10, 20, 30))

	assert.Empty(t, m.Update(srcA, 1, 100, dmx(10, 20, 30)))
	assert.Equal(t, []Change{{2, 21}}, m.Update(srcA, 1, 100, dmx(10, 21, 30)))
}

func TestHigherPriorityWins(t *testing.T) {
	m := New()
	m.Update(srcA, 1, 100, dmx(255, 255, 255))
	changes := m.Update(srcB, 1, 150, dmx(1, 2, 3))
	assert.Equal(t, []Change{{1, 1}, {2, 2}, {3, 3}}, changes)

	// the lower priority source no longer matters
	assert.Empty(t, m.Update(srcA, 1, 100, dmx(200, 200, 200)))
	assert.Equal(t, [3]byte{1, 2, 3}, first3(m.Universe(1)))
}

func TestEqualPriorityTakesMaximum(t *testing.T) {
	m := New()
	m.Update(srcA, 1, 100, dmx(10, 200, 0))
	m.Update(srcB, 1, 100, dmx(50, 100, 7))

	assert.Equal(t, [3]byte{50, 200, 7}, first3(m.Universe(1)))

	m.Update(srcC, 1, 90, dmx(255, 255, 255))
	assert.Equal(t, [3]byte{50, 200, 7}, first3(m.Universe(1)))
}

func TestPriorityDropFallsBack(t *testing.T) {
	m := New()
	m.Update(srcA, 1, 100, dmx(10, 10))
	m.Update(srcB, 1, 150, dmx(1, 1))

	changes := m.Update(srcB, 1, 50, dmx(1, 1))
	assert.Equal(t, []Change{{1, 10}, {2, 10}}, changes)
}

func TestPriorityPerUniverse(t *testing.T) {
	m := New()
	m.Update(srcA, 1, 200, dmx(1))
	m.Update(srcA, 2, 10, dmx(1))
	m.Update(srcB, 2, 100, dmx(99))
	m.Update(srcB, 1, 100, dmx(99))

	v, ok := m.Value(universe.GlobalChannel(1, 1))
	require.True(t, ok)
	assert.Equal(t, uint8(1), v)

	v, ok = m.Value(universe.GlobalChannel(2, 1))
	require.True(t, ok)
	assert.Equal(t, uint8(99), v)

	p, ok := m.Priority(srcA, 2)
	require.True(t, ok)
	assert.Equal(t, uint8(10), p)
	_, ok = m.Priority(srcC, 2)
	assert.False(t, ok)
}

func TestGlobalChannelsInChanges(t *testing.T) {
	m := New()
	changes := m.Update(srcA, 3, 100, dmx(5))
	assert.Equal(t, []Change{{universe.GlobalChannel(3, 1), 5}}, changes)
	assert.Equal(t, uint32(1025), changes[0].Channel)
}

func TestNarrowerWinnerClearsTail(t *testing.T) {
	m := New()
	m.Update(srcA, 1, 100, dmx(1, 2, 3, 4))
	changes := m.Update(srcB, 1, 150, dmx(9))
	assert.Equal(t, []Change{{1, 9}, {2, 0}, {3, 0}, {4, 0}}, changes)
}

func TestFullUniverseWidthCapped(t *testing.T) {
	m := New()
	data := make([]byte, 513)
	data[512] = 77
	changes := m.Update(srcA, 1, 100, data)
	require.Len(t, changes, universe.Channels)
	assert.Equal(t, Change{512, 77}, changes[511])
	assert.Equal(t, byte(77), m.Universe(1)[511])
}

func TestForget(t *testing.T) {
	m := New()
	m.Update(srcA, 1, 150, dmx(100))
	m.Update(srcB, 1, 100, dmx(5))
	m.Forget(srcA)

	v, _ := m.Value(1)
	assert.Equal(t, uint8(100), v, "forgetting keeps the merged value until the next update")

	changes := m.Update(srcB, 1, 100, dmx(5))
	assert.Equal(t, []Change{{1, 5}}, changes)
}

func TestSnapshotIsCopy(t *testing.T) {
	m := New()
	m.Update(srcA, 1, 100, dmx(1, 2))
	m.Update(srcA, 2, 100, dmx(3))

	snap := m.Snapshot()
	assert.Equal(t, map[uint32]uint8{1: 1, 2: 2, 513: 3}, snap)
	snap[1] = 200
	v, _ := m.Value(1)
	assert.Equal(t, uint8(1), v)
	assert.Equal(t, []uint16{1, 2}, m.Universes())
}

func first3(u [universe.Channels]byte) [3]byte {
	return [3]byte{u[0], u[1], u[2]}
}
