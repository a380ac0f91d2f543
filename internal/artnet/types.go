package artnet

import (
	"github.com/Haba1234/go-artnet"
)

// ChannelValue defines an sACN universe and the value of one of its DMX channels.
type ChannelValue struct {
	Universe uint16 // Universe: номер вселенной sACN (1-63999).
	Channel  uint16 // Channel: номер канала (1-512).
	Value    uint8  // Value: значение для канала.
}

// Universe wraps the 512 byte array for convenience.
type Universe [512]byte

// UniverseStateMap holds the state of all used universes.
type UniverseStateMap map[uint16]Universe

type NodeTopic struct {
	Name      string
	OutputStr []string
	Output    []uint16
}

type IpsType struct {
	Ips    []string
	Topics []NodeTopic
}

// dmxSender is the part of *artnet.Controller in use.
type dmxSender interface {
	Start() error
	Stop()
	SendDMXToAddress(dmx [512]byte, address artnet.Address)
}
