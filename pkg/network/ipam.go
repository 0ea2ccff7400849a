package network

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/vesseld/vesseld/pkg/storage"
	"github.com/vesseld/vesseld/pkg/types"
)

// ipam allocates addresses within a single network's subnet. It holds no
// state of its own - every decision is made by re-reading the persisted
// allocation set, since a single daemon never has enough concurrent
// allocation traffic to justify an in-memory bitmap cache.
type ipam struct {
	store storage.Store
}

// reservedHostOrdinal returns true for the network address (0) and the
// broadcast address (the last host in the subnet) - these, plus the
// gateway, are never handed out.
func reservedHostOrdinal(ord, hostBits uint32) bool {
	if ord == 0 {
		return true
	}
	return ord == (uint32(1)<<hostBits)-1
}

func ipToUint32(ip net.IP) uint32 {
	ip4 := ip.To4()
	return binary.BigEndian.Uint32(ip4)
}

func uint32ToIP(v uint32) net.IP {
	b := make(net.IP, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

// Allocate reserves an address in network n for containerID. If requested
// is non-empty it must fall inside n's subnet (or range), must not be the
// network, gateway, or broadcast address, and must not already be
// allocated. An empty requested address picks the lowest free address
// starting at subnet[2].
func (a *ipam) Allocate(n *types.Network, containerID, requested string) (net.IP, error) {
	_, ipnet, err := net.ParseCIDR(n.Subnet)
	if err != nil {
		return nil, fmt.Errorf("network %s: invalid subnet %q: %w", n.Name, n.Subnet, err)
	}
	ones, bits := ipnet.Mask.Size()
	hostBits := uint32(bits - ones)
	base := ipToUint32(ipnet.IP)

	gateway := n.Gateway
	if gateway == "" {
		gateway = uint32ToIP(base + 1).String()
	}

	existing, err := a.store.ListAllocations(n.ID)
	if err != nil {
		return nil, err
	}
	taken := make(map[string]bool, len(existing))
	for _, alloc := range existing {
		taken[alloc.IP.String()] = true
	}
	taken[gateway] = true

	var candidate net.IP
	if requested != "" {
		ip := net.ParseIP(requested).To4()
		if ip == nil || !ipnet.Contains(ip) {
			return nil, fmt.Errorf("ip %s is outside subnet %s", requested, n.Subnet)
		}
		ord := ipToUint32(ip) - base
		if reservedHostOrdinal(ord, hostBits) || ip.String() == gateway {
			return nil, fmt.Errorf("ip %s is reserved", requested)
		}
		if taken[ip.String()] {
			return nil, fmt.Errorf("ip %s is already allocated", requested)
		}
		candidate = ip
	} else {
		for ord := uint32(2); ord < (uint32(1)<<hostBits)-1; ord++ {
			ip := uint32ToIP(base + ord)
			if taken[ip.String()] {
				continue
			}
			candidate = ip
			break
		}
		if candidate == nil {
			return nil, fmt.Errorf("network %s: no free addresses", n.Name)
		}
	}

	if err := a.store.AllocateIP(&types.IPAllocation{
		NetworkID:   n.ID,
		IP:          candidate,
		ContainerID: containerID,
		AllocatedAt: time.Now(),
	}); err != nil {
		return nil, err
	}
	return candidate, nil
}

// Release frees an address previously returned by Allocate.
func (a *ipam) Release(networkID, ip string) error {
	return a.store.ReleaseIP(networkID, ip)
}
