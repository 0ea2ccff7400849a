package network

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vesseld/vesseld/pkg/storage"
)

func newTestManager(t *testing.T) (*Manager, *MockBridgeController) {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "vesseld.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	bridges := NewMockBridgeController()
	return NewManager(store, bridges), bridges
}

func TestEnsureDefaultsCreatesBuiltinNetworks(t *testing.T) {
	mgr, bridges := newTestManager(t)
	require.NoError(t, mgr.EnsureDefaults(context.Background()))

	for _, name := range []string{Bridge, Host, None} {
		n, err := mgr.Get(name)
		require.NoError(t, err)
		require.True(t, n.Builtin)
	}
	require.Len(t, bridges.Bridges, 1) // only "bridge" provisions a device

	// idempotent
	require.NoError(t, mgr.EnsureDefaults(context.Background()))
	list, err := mgr.List()
	require.NoError(t, err)
	require.Len(t, list, 3)
}

func TestBuiltinNetworksCannotBeRemoved(t *testing.T) {
	mgr, _ := newTestManager(t)
	require.NoError(t, mgr.EnsureDefaults(context.Background()))

	err := mgr.Remove(context.Background(), Bridge)
	require.Error(t, err)
}

func TestCreateAutoAllocatesSubnet(t *testing.T) {
	mgr, _ := newTestManager(t)
	require.NoError(t, mgr.EnsureDefaults(context.Background()))

	n1, err := mgr.Create(context.Background(), "n1", "bridge", "", false, true, nil)
	require.NoError(t, err)
	require.Equal(t, "172.18.0.0/16", n1.Subnet)
	require.Equal(t, "172.18.0.1", n1.Gateway)

	n2, err := mgr.Create(context.Background(), "n2", "bridge", "", false, true, nil)
	require.NoError(t, err)
	require.Equal(t, "172.19.0.0/16", n2.Subnet)
}

func TestCreateRejectsOverlappingUserSubnet(t *testing.T) {
	mgr, _ := newTestManager(t)
	require.NoError(t, mgr.EnsureDefaults(context.Background()))

	_, err := mgr.Create(context.Background(), "n1", "bridge", "10.90.0.0/24", false, true, nil)
	require.NoError(t, err)

	_, err = mgr.Create(context.Background(), "n2", "bridge", "10.90.0.0/25", false, true, nil)
	require.Error(t, err)
}

func TestAttachAllocatesSequentialAddresses(t *testing.T) {
	mgr, _ := newTestManager(t)
	require.NoError(t, mgr.EnsureDefaults(context.Background()))

	n, err := mgr.Create(context.Background(), "n1", "bridge", "10.90.0.0/24", false, true, nil)
	require.NoError(t, err)

	ep1, err := mgr.Attach("c1", n, "")
	require.NoError(t, err)
	require.Equal(t, "10.90.0.2", ep1.IPAddress)

	ep2, err := mgr.Attach("c2", n, "")
	require.NoError(t, err)
	require.Equal(t, "10.90.0.3", ep2.IPAddress)
}

func TestAttachExplicitIPConflict(t *testing.T) {
	mgr, _ := newTestManager(t)
	require.NoError(t, mgr.EnsureDefaults(context.Background()))

	n, err := mgr.Create(context.Background(), "n1", "bridge", "10.90.0.0/24", false, true, nil)
	require.NoError(t, err)

	_, err = mgr.Attach("c1", n, "10.90.0.100")
	require.NoError(t, err)

	_, err = mgr.Attach("c2", n, "10.90.0.100")
	require.Error(t, err)
}

func TestAttachRejectsGatewayAndBroadcast(t *testing.T) {
	mgr, _ := newTestManager(t)
	require.NoError(t, mgr.EnsureDefaults(context.Background()))

	n, err := mgr.Create(context.Background(), "n1", "bridge", "10.90.0.0/24", false, true, nil)
	require.NoError(t, err)

	_, err = mgr.Attach("c1", n, "10.90.0.1")
	require.Error(t, err)

	_, err = mgr.Attach("c1", n, "10.90.0.255")
	require.Error(t, err)
}

func TestDetachReleasesAddress(t *testing.T) {
	mgr, _ := newTestManager(t)
	require.NoError(t, mgr.EnsureDefaults(context.Background()))

	n, err := mgr.Create(context.Background(), "n1", "bridge", "10.90.0.0/24", false, true, nil)
	require.NoError(t, err)

	_, err = mgr.Attach("c1", n, "10.90.0.100")
	require.NoError(t, err)
	require.NoError(t, mgr.Detach("c1", n))

	ep, err := mgr.Attach("c2", n, "10.90.0.100")
	require.NoError(t, err)
	require.Equal(t, "10.90.0.100", ep.IPAddress)
}
