package storage

import (
	"github.com/vesseld/vesseld/pkg/types"
)

// Store is the StateStore contract. All mutating methods are expected to be
// transactional: either the whole write lands or none of it does.
type Store interface {
	// Containers
	CreateContainer(c *types.Container) error
	GetContainer(id string) (*types.Container, error)
	GetContainerByName(name string) (*types.Container, error)
	ListContainers() ([]*types.Container, error)
	UpdateContainer(c *types.Container) error
	DeleteContainer(id string) error

	// Container <-> network attachments
	AttachNetwork(containerID, networkID string, ep *types.EndpointSettings) error
	DetachNetwork(containerID, networkID string) error
	NetworkAttachments(containerID string) (map[string]*types.EndpointSettings, error)

	// Container mounts
	SetMounts(containerID string, mounts []*types.Mount) error
	GetMounts(containerID string) ([]*types.Mount, error)

	// Networks
	CreateNetwork(n *types.Network) error
	GetNetwork(id string) (*types.Network, error)
	GetNetworkByName(name string) (*types.Network, error)
	ListNetworks() ([]*types.Network, error)
	DeleteNetwork(id string) error

	// IPAM
	AllocateIP(alloc *types.IPAllocation) error
	ReleaseIP(networkID, ip string) error
	ListAllocations(networkID string) ([]*types.IPAllocation, error)

	// NextSubnet hands out the next auto-allocated /16 under 172.16.0.0/12,
	// advancing the persisted cursor so restarts don't reuse a subnet still
	// in use by a live network.
	NextSubnet() (string, error)

	// Volumes
	CreateVolume(v *types.Volume) error
	GetVolume(name string) (*types.Volume, error)
	ListVolumes() ([]*types.Volume, error)
	UpdateVolumeRefCount(name string, delta int) (int, error)
	DeleteVolume(name string) error

	// Port mappings
	CreatePortMapping(pm *types.PortMapping) error
	DeletePortMapping(hostIP string, hostPort int, proto string) error
	ListPortMappings() ([]*types.PortMapping, error)
	ListPortMappingsByContainer(containerID string) ([]*types.PortMapping, error)

	Close() error
}
