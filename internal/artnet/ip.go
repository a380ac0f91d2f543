package artnet

import (
	"fmt"
	"net"
)

const (
	// DefaultNetwork specifies the network CIDR an art-net network should have.
	DefaultNetwork = "192.168.6.0/24"
)

// FindArtNetIP finds the matching interface with an IPv4 address inside network.
// It returns nil without error if no interface matches.
func FindArtNetIP(network string) (net.IP, error) {
	address, err := net.InterfaceAddrs()
	if err != nil {
		return nil, fmt.Errorf("error getting ips: %w", err)
	}
	return matchIP(address, network)
}

func matchIP(address []net.Addr, network string) (net.IP, error) {
	if network == "" {
		network = DefaultNetwork
	}
	_, cidrNet, err := net.ParseCIDR(network)
	if err != nil {
		return nil, fmt.Errorf("bad art-net network %q: %w", network, err)
	}

	for _, addr := range address {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip := ipNet.IP.To4()
		if ip == nil {
			continue
		}
		if cidrNet.Contains(ip) {
			return ip, nil
		}
	}
	return nil, nil
}
