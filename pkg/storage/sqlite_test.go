package storage

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vesseld/vesseld/pkg/types"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vesseld.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestContainerRoundTrip(t *testing.T) {
	s := openTestStore(t)

	c := &types.Container{
		ID:        "c1",
		Name:      "web",
		Image:     "nginx:latest",
		ImageID:   "sha256:abc",
		Phase:     types.PhaseCreated,
		Cmd:       []string{"nginx", "-g", "daemon off;"},
		Env:       []string{"FOO=bar"},
		Labels:    map[string]string{"app": "web"},
		CreatedAt: time.Now().Truncate(time.Second),
	}
	require.NoError(t, s.CreateContainer(c))

	got, err := s.GetContainer("c1")
	require.NoError(t, err)
	require.Equal(t, c.Name, got.Name)
	require.Equal(t, c.Cmd, got.Cmd)
	require.Equal(t, c.Labels, got.Labels)
	require.Equal(t, types.PhaseCreated, got.Phase)

	byName, err := s.GetContainerByName("web")
	require.NoError(t, err)
	require.Equal(t, "c1", byName.ID)

	got.Phase = types.PhaseRunning
	got.Pid = 4242
	require.NoError(t, s.UpdateContainer(got))

	updated, err := s.GetContainer("c1")
	require.NoError(t, err)
	require.Equal(t, types.PhaseRunning, updated.Phase)
	require.Equal(t, 4242, updated.Pid)

	list, err := s.ListContainers()
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, s.DeleteContainer("c1"))
	_, err = s.GetContainer("c1")
	require.Error(t, err)
}

func TestNetworkAttachmentsAndMounts(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.CreateContainer(&types.Container{ID: "c1", Name: "web", CreatedAt: time.Now()}))
	require.NoError(t, s.CreateNetwork(&types.Network{ID: "n1", Name: "bridge", Driver: "bridge", CreatedAt: time.Now()}))

	ep := &types.EndpointSettings{EndpointID: "ep1", IPAddress: "172.17.0.2", IPPrefixLen: 16, Aliases: []string{"web"}}
	require.NoError(t, s.AttachNetwork("c1", "n1", ep))

	attachments, err := s.NetworkAttachments("c1")
	require.NoError(t, err)
	require.Contains(t, attachments, "n1")
	require.Equal(t, "172.17.0.2", attachments["n1"].IPAddress)

	require.NoError(t, s.DetachNetwork("c1", "n1"))
	attachments, err = s.NetworkAttachments("c1")
	require.NoError(t, err)
	require.Empty(t, attachments)

	mounts := []*types.Mount{{Target: "/data", Type: types.MountTypeVolume, VolumeName: "v1"}}
	require.NoError(t, s.SetMounts("c1", mounts))
	got, err := s.GetMounts("c1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "/data", got[0].Target)
}

func TestIPAMAllocation(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.CreateNetwork(&types.Network{ID: "n1", Name: "bridge", Driver: "bridge", CreatedAt: time.Now()}))

	alloc := &types.IPAllocation{NetworkID: "n1", IP: net.ParseIP("172.17.0.2"), ContainerID: "c1", AllocatedAt: time.Now()}
	require.NoError(t, s.AllocateIP(alloc))

	list, err := s.ListAllocations("n1")
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, s.ReleaseIP("n1", "172.17.0.2"))
	list, err = s.ListAllocations("n1")
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestNextSubnetAdvancesMonotonically(t *testing.T) {
	s := openTestStore(t)

	first, err := s.NextSubnet()
	require.NoError(t, err)
	require.Equal(t, "172.18.0.0/16", first)

	second, err := s.NextSubnet()
	require.NoError(t, err)
	require.Equal(t, "172.19.0.0/16", second)
}

func TestVolumeRefCounting(t *testing.T) {
	s := openTestStore(t)

	v := &types.Volume{Name: "v1", Driver: "local", MountPoint: "/var/lib/vesseld/volumes/v1", CreatedAt: time.Now()}
	require.NoError(t, s.CreateVolume(v))

	count, err := s.UpdateVolumeRefCount("v1", 1)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	count, err = s.UpdateVolumeRefCount("v1", -1)
	require.NoError(t, err)
	require.Equal(t, 0, count)

	// refcount never goes negative
	count, err = s.UpdateVolumeRefCount("v1", -1)
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

func TestPortMappingUniqueness(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.CreateContainer(&types.Container{ID: "c1", Name: "web", CreatedAt: time.Now()}))

	pm := &types.PortMapping{ContainerID: "c1", ContainerPort: 80, Proto: "tcp", HostIP: "0.0.0.0", HostPort: 8080}
	require.NoError(t, s.CreatePortMapping(pm))

	// same (bind-ip, port, proto) key conflicts
	err := s.CreatePortMapping(pm)
	require.Error(t, err)

	list, err := s.ListPortMappingsByContainer("c1")
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, s.DeletePortMapping("0.0.0.0", 8080, "tcp"))
	list, err = s.ListPortMappings()
	require.NoError(t, err)
	require.Empty(t, list)
}
