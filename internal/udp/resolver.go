package udp

import (
	"context"
	"fmt"
	"net"
	"net/netip"
)

// Resolver finds the address broadcasts are sent to. It is consulted on
// every send so network changes are picked up without a restart.
type Resolver interface {
	BroadcastAddr(ctx context.Context) (netip.Addr, error)
}

// StaticResolver always returns the same address.
type StaticResolver struct {
	Addr netip.Addr
}

func NewStaticResolver(addr string) (StaticResolver, error) {
	a, err := netip.ParseAddr(addr)
	if err != nil {
		return StaticResolver{}, fmt.Errorf("broadcast address %q: %w", addr, err)
	}
	return StaticResolver{Addr: a.Unmap()}, nil
}

func (r StaticResolver) BroadcastAddr(context.Context) (netip.Addr, error) {
	if !r.Addr.IsValid() {
		return netip.Addr{}, ErrNoNetworkInfo
	}
	return r.Addr, nil
}

// InterfaceResolver computes the directed broadcast address of an IPv4
// interface. With an empty Name the first up, non-loopback interface that
// has an IPv4 address is used.
type InterfaceResolver struct {
	Name string

	// interfaces is swapped in tests.
	interfaces func() ([]ifaceAddrs, error)
}

type ifaceAddrs struct {
	name  string
	flags net.Flags
	addrs []net.Addr
}

func NewInterfaceResolver(name string) *InterfaceResolver {
	return &InterfaceResolver{Name: name, interfaces: systemInterfaces}
}

func (r *InterfaceResolver) BroadcastAddr(context.Context) (netip.Addr, error) {
	list := r.interfaces
	if list == nil {
		list = systemInterfaces
	}
	ifaces, err := list()
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: list interfaces: %v", ErrNoNetworkInfo, err)
	}
	for _, ifc := range ifaces {
		if r.Name != "" && ifc.name != r.Name {
			continue
		}
		if ifc.flags&net.FlagUp == 0 {
			continue
		}
		if r.Name == "" && ifc.flags&net.FlagLoopback != 0 {
			continue
		}
		for _, a := range ifc.addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			if b, ok := directedBroadcast(ipnet); ok {
				return b, nil
			}
		}
	}
	if r.Name != "" {
		return netip.Addr{}, fmt.Errorf("%w: interface %q has no usable IPv4 address", ErrNoNetworkInfo, r.Name)
	}
	return netip.Addr{}, ErrNoNetworkInfo
}

func directedBroadcast(ipnet *net.IPNet) (netip.Addr, bool) {
	ip4 := ipnet.IP.To4()
	if ip4 == nil {
		return netip.Addr{}, false
	}
	mask := ipnet.Mask
	if len(mask) == net.IPv6len {
		mask = mask[12:]
	}
	if len(mask) != net.IPv4len {
		return netip.Addr{}, false
	}
	var b [4]byte
	for i := range b {
		b[i] = ip4[i] | ^mask[i]
	}
	return netip.AddrFrom4(b), true
}

func systemInterfaces() ([]ifaceAddrs, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	out := make([]ifaceAddrs, 0, len(ifaces))
	for _, ifc := range ifaces {
		addrs, err := ifc.Addrs()
		if err != nil {
			continue
		}
		out = append(out, ifaceAddrs{name: ifc.Name, flags: ifc.Flags, addrs: addrs})
	}
	return out, nil
}
