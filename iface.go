package hpsdr

import (
	"net"
	"strings"
)

// An Iface is one candidate local interface for broadcast discovery,
// as yielded by EnumerateInterfaces (spec.md §4.2).
type Iface struct {
	// Name is the interface name (e.g. "eth0").
	Name string
	// Index is the OS interface index, used to pin a broadcast send to
	// this interface via golang.org/x/net/ipv4.
	Index int
	// IP is the interface's own IPv4 address.
	IP net.IP
	// Netmask is the interface's IPv4 netmask.
	Netmask net.IPMask
	// Broadcast is the interface's IPv4 broadcast address.
	Broadcast net.IP
}

// denyPrefixes is an advisory, non-exhaustive deny-list of virtual,
// container, and bridge interface name prefixes, matching spec.md
// §4.2 ("may be excluded, but this is advisory, not a correctness
// property").
var denyPrefixes = []string{"docker", "veth", "br-", "virbr", "lo:"}

// EnumerateInterfaces returns the set of usable local IPv4 interfaces
// for broadcast discovery, in the policy order described in spec.md
// §4.2:
//
//  1. up and running;
//  2. not loopback, unless allowLoopback is true (a platform
//     mitigation for same-host HPSDR emulators, spec.md §9);
//  3. a nonzero, non-255.255.255.255 broadcast address;
//  4. first interface to claim a given broadcast address wins —
//     later interfaces sharing it are suppressed as duplicates.
func EnumerateInterfaces(allowLoopback bool) ([]Iface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []Iface

	for _, ni := range ifaces {
		if ni.Flags&net.FlagUp == 0 {
			continue
		}
		if ni.Flags&net.FlagRunning == 0 {
			continue
		}
		if ni.Flags&net.FlagLoopback != 0 && !allowLoopback {
			continue
		}
		if denied(ni.Name) {
			continue
		}

		addrs, err := ni.Addrs()
		if err != nil {
			continue
		}

		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipNet.IP.To4()
			if ip4 == nil {
				continue
			}

			bcast := broadcastAddr(ip4, ipNet.Mask)
			if bcast == nil || isZeroOrAllOnes(bcast) {
				continue
			}

			key := bcast.String()
			if seen[key] {
				continue
			}
			seen[key] = true

			out = append(out, Iface{
				Name:      ni.Name,
				Index:     ni.Index,
				IP:        ip4,
				Netmask:   ipNet.Mask,
				Broadcast: bcast,
			})
		}
	}

	return out, nil
}

// denied reports whether name matches the advisory deny-list.
func denied(name string) bool {
	for _, p := range denyPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// broadcastAddr computes the IPv4 broadcast address for ip/mask.
func broadcastAddr(ip net.IP, mask net.IPMask) net.IP {
	if len(ip) != 4 || len(mask) != 4 {
		return nil
	}

	b := make(net.IP, 4)
	for i := range b {
		b[i] = ip[i] | ^mask[i]
	}
	return b
}

// isZeroOrAllOnes reports whether ip is 0.0.0.0 or 255.255.255.255.
func isZeroOrAllOnes(ip net.IP) bool {
	return ip.Equal(net.IPv4zero) || ip.Equal(net.IPv4bcast)
}
