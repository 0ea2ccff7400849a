package network

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/vesseld/vesseld/pkg/storage"
	"github.com/vesseld/vesseld/pkg/types"
)

// Builtin network names. These three always exist and can never be removed.
const (
	Bridge = "bridge"
	Host   = "host"
	None   = "none"
)

// DefaultBridgeSubnet is the subnet of the builtin "bridge" network - user
// auto-allocation starts one /16 above it (172.18.0.0/16) so it's never
// handed out to a user network.
const DefaultBridgeSubnet = "172.17.0.0/16"

// Manager is the NetworkManager: builtin + user bridge networks, IPAM, and
// attach/detach bookkeeping. Bridge device lifecycle is delegated to a
// BridgeController over vsock.
type Manager struct {
	store   storage.Store
	bridges BridgeController
	ipam    *ipam
}

// NewManager wires a Manager against store and a bridge controller.
func NewManager(store storage.Store, bridges BridgeController) *Manager {
	return &Manager{store: store, bridges: bridges, ipam: &ipam{store: store}}
}

// EnsureDefaults creates the bridge/host/none builtin networks if this is
// the daemon's first run. Safe to call on every boot.
func (m *Manager) EnsureDefaults(ctx context.Context) error {
	defaults := []*types.Network{
		{Name: Bridge, Driver: "bridge", Subnet: DefaultBridgeSubnet, Gateway: "172.17.0.1", Builtin: true},
		{Name: Host, Driver: "host", Builtin: true, Internal: false},
		{Name: None, Driver: "null", Builtin: true, Internal: true},
	}
	for _, n := range defaults {
		if existing, err := m.store.GetNetworkByName(n.Name); err == nil && existing != nil {
			continue
		}
		n.ID = uuid.NewString()
		n.CreatedAt = time.Now()
		if err := m.store.CreateNetwork(n); err != nil {
			return fmt.Errorf("network: create builtin %s: %w", n.Name, err)
		}
		if n.Driver == "bridge" && m.bridges != nil {
			if err := m.bridges.CreateBridge(ctx, n.ID, n.Subnet, n.Gateway); err != nil {
				return fmt.Errorf("network: provision builtin %s: %w", n.Name, err)
			}
		}
	}
	return nil
}

// Create makes a new user network. If subnet is empty, the next free /16
// under 172.16.0.0/12 is allocated automatically; otherwise the requested
// subnet is used as-is (after validating it parses and doesn't duplicate an
// existing persisted user subnet).
func (m *Manager) Create(ctx context.Context, name, driver, subnet string, internal, attachable bool, labels map[string]string) (*types.Network, error) {
	if existing, err := m.store.GetNetworkByName(name); err == nil && existing != nil {
		return nil, fmt.Errorf("network: %s already exists", name)
	}

	if subnet == "" {
		s, err := m.store.NextSubnet()
		if err != nil {
			return nil, fmt.Errorf("network: allocate subnet: %w", err)
		}
		subnet = s
	} else {
		if _, _, err := net.ParseCIDR(subnet); err != nil {
			return nil, fmt.Errorf("network: invalid subnet %q: %w", subnet, err)
		}
		if err := m.checkSubnetOverlap(subnet); err != nil {
			return nil, err
		}
	}

	_, ipnet, _ := net.ParseCIDR(subnet)
	gateway := uint32ToIP(ipToUint32(ipnet.IP) + 1).String()

	n := &types.Network{
		ID:         uuid.NewString(),
		Name:       name,
		Driver:     driver,
		Subnet:     subnet,
		Gateway:    gateway,
		Internal:   internal,
		Attachable: attachable,
		Labels:     labels,
		CreatedAt:  time.Now(),
	}
	if n.Driver == "" {
		n.Driver = "bridge"
	}

	if err := m.store.CreateNetwork(n); err != nil {
		return nil, err
	}
	if n.Driver == "bridge" && m.bridges != nil {
		if err := m.bridges.CreateBridge(ctx, n.ID, n.Subnet, n.Gateway); err != nil {
			m.store.DeleteNetwork(n.ID)
			return nil, fmt.Errorf("network: provision bridge: %w", err)
		}
	}
	return n, nil
}

func (m *Manager) checkSubnetOverlap(subnet string) error {
	_, want, _ := net.ParseCIDR(subnet)
	all, err := m.store.ListNetworks()
	if err != nil {
		return err
	}
	for _, n := range all {
		if n.Subnet == "" {
			continue
		}
		_, have, err := net.ParseCIDR(n.Subnet)
		if err != nil {
			continue
		}
		if have.Contains(want.IP) || want.Contains(have.IP) {
			return fmt.Errorf("network: subnet %s overlaps existing network %s (%s)", subnet, n.Name, n.Subnet)
		}
	}
	return nil
}

// Get returns a network by ID or name.
func (m *Manager) Get(idOrName string) (*types.Network, error) {
	if n, err := m.store.GetNetwork(idOrName); err == nil {
		return n, nil
	}
	return m.store.GetNetworkByName(idOrName)
}

// List returns every network.
func (m *Manager) List() ([]*types.Network, error) {
	return m.store.ListNetworks()
}

// Remove deletes a user network. Builtin networks refuse removal.
func (m *Manager) Remove(ctx context.Context, idOrName string) error {
	n, err := m.Get(idOrName)
	if err != nil {
		return err
	}
	if n.Builtin {
		return fmt.Errorf("network: %s is a builtin network and cannot be removed", n.Name)
	}
	if n.Driver == "bridge" && m.bridges != nil {
		if err := m.bridges.DeleteBridge(ctx, n.ID); err != nil {
			return fmt.Errorf("network: teardown bridge: %w", err)
		}
	}
	return m.store.DeleteNetwork(n.ID)
}

// Attach allocates an address for containerID on network n (or uses
// requestedIP) and records the endpoint. It does not touch the container's
// VM; ContainerManager uses the recorded IP as the backend address for the
// container's published ports.
func (m *Manager) Attach(containerID string, n *types.Network, requestedIP string) (*types.EndpointSettings, error) {
	if n.Driver == "null" || n.Driver == "host" {
		return &types.EndpointSettings{EndpointID: uuid.NewString()}, nil
	}
	ip, err := m.ipam.Allocate(n, containerID, requestedIP)
	if err != nil {
		return nil, err
	}
	_, ipnet, _ := net.ParseCIDR(n.Subnet)
	ones, _ := ipnet.Mask.Size()
	ep := &types.EndpointSettings{
		EndpointID:  uuid.NewString(),
		IPAddress:   ip.String(),
		IPPrefixLen: ones,
		Gateway:     n.Gateway,
	}
	if err := m.store.AttachNetwork(containerID, n.ID, ep); err != nil {
		m.ipam.Release(n.ID, ip.String())
		return nil, err
	}
	return ep, nil
}

// Detach releases containerID's address on network n and drops the
// endpoint record.
func (m *Manager) Detach(containerID string, n *types.Network) error {
	attachments, err := m.store.NetworkAttachments(containerID)
	if err != nil {
		return err
	}
	if ep, ok := attachments[n.ID]; ok && ep.IPAddress != "" {
		if err := m.ipam.Release(n.ID, ep.IPAddress); err != nil {
			return err
		}
	}
	return m.store.DetachNetwork(containerID, n.ID)
}
