package sacn

import (
	"fmt"
	"net"

	"golang.org/x/net/ipv4"
)

// packetConn is the part of *ipv4.PacketConn used by the Receiver.
type packetConn interface {
	groupConn
	ReadFrom(b []byte) (n int, cm *ipv4.ControlMessage, src net.Addr, err error)
	Close() error
}

// groupConn joins and leaves multicast groups.
type groupConn interface {
	JoinGroup(ifi *net.Interface, group net.Addr) error
	LeaveGroup(ifi *net.Interface, group net.Addr) error
}

// packetWriter is the part of *ipv4.PacketConn used by the Sender.
type packetWriter interface {
	WriteTo(b []byte, cm *ipv4.ControlMessage, dst net.Addr) (n int, err error)
	Close() error
}

// resolveInterface accepts an interface name or one of its IPv4 addresses.
// An empty string selects the system default (nil interface, no address).
func resolveInterface(s string) (*net.Interface, net.IP, error) {
	if s == "" {
		return nil, nil, nil
	}
	if ip := net.ParseIP(s); ip != nil {
		ifi, err := interfaceByIP(ip)
		return ifi, ip, err
	}
	ifi, err := net.InterfaceByName(s)
	if err != nil {
		return nil, nil, fmt.Errorf("interface %q: %w", s, err)
	}
	ip, err := interfaceIPv4(ifi)
	return ifi, ip, err
}

func interfaceByIP(ip net.IP) (*net.Interface, error) {
	if ip.IsUnspecified() {
		return nil, nil
	}
	list, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("error getting interfaces: %w", err)
	}
	for i := range list {
		addrs, err := list[i].Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipNet, ok := addr.(*net.IPNet); ok && ipNet.IP.Equal(ip) {
				return &list[i], nil
			}
		}
	}
	return nil, fmt.Errorf("no interface with address %s", ip)
}

func interfaceIPv4(ifi *net.Interface) (net.IP, error) {
	addrs, err := ifi.Addrs()
	if err != nil {
		return nil, fmt.Errorf("error getting ips of %s: %w", ifi.Name, err)
	}
	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok && ipNet.IP.To4() != nil {
			return ipNet.IP.To4(), nil
		}
	}
	return nil, fmt.Errorf("interface %s has no IPv4 address", ifi.Name)
}
