// Package universe maps sACN universes to multicast groups and global channels.
package universe

import (
	"fmt"
	"net"
)

const (
	// DefaultPort is the ACN SDT multicast port.
	DefaultPort = 5568
	// Min and Max bound the universes that carry data.
	Min = 1
	Max = 63999
	// Discovery is the reserved universe of the universe discovery layer.
	Discovery = 64214
	// Channels is the number of channels in one universe.
	Channels = 512
)

// RangeError is returned for a universe outside [Min, Max] and not Discovery.
type RangeError struct {
	Universe int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("universe %d out of range, must be between %d-%d", e.Universe, Min, Max)
}

// Valid checks that u is a usable universe number.
func Valid(u uint16) error {
	if (u >= Min && u <= Max) || u == Discovery {
		return nil
	}
	return &RangeError{Universe: int(u)}
}

// MulticastGroup returns the IPv4 group 239.255.<hi>.<lo> of u.
func MulticastGroup(u uint16) (net.IP, error) {
	if err := Valid(u); err != nil {
		return nil, err
	}
	return net.IPv4(239, 255, byte(u>>8), byte(u)), nil
}

// MulticastAddr returns the UDP address of the multicast group of u.
func MulticastAddr(u uint16, port int) (*net.UDPAddr, error) {
	ip, err := MulticastGroup(u)
	if err != nil {
		return nil, err
	}
	if port == 0 {
		port = DefaultPort
	}
	return &net.UDPAddr{IP: ip, Port: port}, nil
}

// GlobalChannel converts a 1-based address of universe u into a universe independent channel.
func GlobalChannel(u uint16, addr uint16) uint32 {
	return (uint32(u)-1)*Channels + uint32(addr)
}

// Split is the inverse of GlobalChannel.
func Split(global uint32) (u uint16, addr uint16) {
	return uint16((global-1)/Channels + 1), uint16((global-1)%Channels + 1)
}
