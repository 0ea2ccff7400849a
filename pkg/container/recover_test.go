package container

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vesseld/vesseld/pkg/events"
	execpkg "github.com/vesseld/vesseld/pkg/exec"
	"github.com/vesseld/vesseld/pkg/logstore"
	"github.com/vesseld/vesseld/pkg/network"
	"github.com/vesseld/vesseld/pkg/portmap"
	"github.com/vesseld/vesseld/pkg/runtime"
	"github.com/vesseld/vesseld/pkg/storage"
	"github.com/vesseld/vesseld/pkg/types"
	"github.com/vesseld/vesseld/pkg/volume"
)

// managerOn builds a Manager over an existing daemon home, simulating a
// fresh daemon process against a surviving state directory.
func managerOn(t *testing.T, home string) (*Manager, *runtime.Mock, func()) {
	t.Helper()
	store, err := storage.Open(filepath.Join(home, "vesseld.db"))
	require.NoError(t, err)

	netMgr := network.NewManager(store, nil)
	require.NoError(t, netMgr.EnsureDefaults(context.Background()))
	volMgr, err := volume.NewManager(store, filepath.Join(home, "volumes"))
	require.NoError(t, err)
	portMgr, err := portmap.NewManager(store)
	require.NoError(t, err)
	logs, err := logstore.NewStore(filepath.Join(home, "logs"))
	require.NoError(t, err)

	rt := runtime.NewMock()
	execs := execpkg.NewManager(rt)
	broker := events.NewBroker()
	broker.Start()

	images := &fakeImages{images: map[string]*types.Image{
		"alpine:latest": {ID: "sha256:deadbeef", RepoTags: []string{"alpine:latest"}},
	}}

	mgr := New(store, rt, netMgr, volMgr, portMgr, images, logs, execs, broker)
	return mgr, rt, func() {
		broker.Stop()
		store.Close()
	}
}

func TestRecoverMarksRunningAsExited137(t *testing.T) {
	home := t.TempDir()

	mgr1, _, close1 := managerOn(t, home)
	c, err := mgr1.Create(context.Background(), CreateSpec{Image: "alpine:latest", Cmd: []string{"sleep", "3600"}})
	require.NoError(t, err)
	require.NoError(t, mgr1.Start(context.Background(), c.ID))
	close1()

	// "daemon restart": a second manager over the same store, fresh runtime.
	mgr2, _, close2 := managerOn(t, home)
	defer close2()
	require.NoError(t, mgr2.Recover(context.Background()))

	got, err := mgr2.Get(c.ID)
	require.NoError(t, err)
	require.Equal(t, types.PhaseExited, got.Phase)
	require.Equal(t, 137, got.ExitCode)
}

func TestRecoverRestartsAlwaysPolicy(t *testing.T) {
	home := t.TempDir()

	mgr1, _, close1 := managerOn(t, home)
	c, err := mgr1.Create(context.Background(), CreateSpec{
		Image:         "alpine:latest",
		Cmd:           []string{"sleep", "3600"},
		RestartPolicy: &types.RestartPolicy{Name: types.RestartPolicyAlways},
	})
	require.NoError(t, err)
	require.NoError(t, mgr1.Start(context.Background(), c.ID))

	// A manual stop of an "always" container holds only until the next
	// daemon boot.
	require.NoError(t, mgr1.Stop(context.Background(), c.ID, 50*time.Millisecond))
	close1()

	mgr2, _, close2 := managerOn(t, home)
	defer close2()
	require.NoError(t, mgr2.Recover(context.Background()))

	got, err := mgr2.Get(c.ID)
	require.NoError(t, err)
	require.Equal(t, types.PhaseRunning, got.Phase)
}

func TestRecoverHonorsUnlessStoppedManualStop(t *testing.T) {
	home := t.TempDir()

	mgr1, _, close1 := managerOn(t, home)
	c, err := mgr1.Create(context.Background(), CreateSpec{
		Image:         "alpine:latest",
		Cmd:           []string{"sleep", "3600"},
		RestartPolicy: &types.RestartPolicy{Name: types.RestartPolicyUnlessStopped},
	})
	require.NoError(t, err)
	require.NoError(t, mgr1.Start(context.Background(), c.ID))
	require.NoError(t, mgr1.Stop(context.Background(), c.ID, 50*time.Millisecond))
	close1()

	mgr2, _, close2 := managerOn(t, home)
	defer close2()
	require.NoError(t, mgr2.Recover(context.Background()))

	got, err := mgr2.Get(c.ID)
	require.NoError(t, err)
	require.Equal(t, types.PhaseExited, got.Phase)
}
