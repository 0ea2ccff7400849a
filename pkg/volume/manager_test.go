package volume

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vesseld/vesseld/pkg/storage"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "vesseld.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	mgr, err := NewManager(store, filepath.Join(t.TempDir(), "volumes"))
	require.NoError(t, err)
	return mgr
}

func TestManagerCreateNamedIsIdempotent(t *testing.T) {
	mgr := newTestManager(t)

	v1, err := mgr.Create("data", "local", map[string]string{"app": "db"}, nil)
	require.NoError(t, err)
	require.False(t, v1.Anonymous)

	v2, err := mgr.Create("data", "local", nil, nil)
	require.NoError(t, err)
	require.Equal(t, v1.Name, v2.Name)
}

func TestManagerAnonymousVolumeRemovedOnRelease(t *testing.T) {
	mgr := newTestManager(t)

	v, err := mgr.Create("", "local", nil, nil)
	require.NoError(t, err)
	require.True(t, v.Anonymous)

	require.NoError(t, mgr.Acquire(v.Name))
	require.NoError(t, mgr.Release(v.Name, true))

	_, err = mgr.Get(v.Name)
	require.Error(t, err)
}

func TestManagerAnonymousVolumeKeptWithoutRemoveFlag(t *testing.T) {
	mgr := newTestManager(t)

	v, err := mgr.Create("", "local", nil, nil)
	require.NoError(t, err)

	require.NoError(t, mgr.Acquire(v.Name))
	require.NoError(t, mgr.Release(v.Name, false))

	got, err := mgr.Get(v.Name)
	require.NoError(t, err)
	require.Equal(t, 0, got.RefCount)
}

func TestManagerNamedVolumeSurvivesRelease(t *testing.T) {
	mgr := newTestManager(t)

	v, err := mgr.Create("data", "local", nil, nil)
	require.NoError(t, err)

	require.NoError(t, mgr.Acquire(v.Name))
	require.NoError(t, mgr.Release(v.Name, true))

	got, err := mgr.Get(v.Name)
	require.NoError(t, err)
	require.Equal(t, 0, got.RefCount)
}

func TestManagerRemoveRefusesInUseVolume(t *testing.T) {
	mgr := newTestManager(t)

	v, err := mgr.Create("data", "local", nil, nil)
	require.NoError(t, err)
	require.NoError(t, mgr.Acquire(v.Name))

	err = mgr.Remove(v.Name, false)
	require.Error(t, err)

	require.NoError(t, mgr.Remove(v.Name, true))
}

func TestManagerPruneSkipsInUseVolumes(t *testing.T) {
	mgr := newTestManager(t)

	inUse, err := mgr.Create("in-use", "local", nil, nil)
	require.NoError(t, err)
	require.NoError(t, mgr.Acquire(inUse.Name))

	idle, err := mgr.Create("idle", "local", nil, nil)
	require.NoError(t, err)

	removed, err := mgr.Prune()
	require.NoError(t, err)
	require.Equal(t, []string{idle.Name}, removed)
}
