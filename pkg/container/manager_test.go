package container

import (
	"context"
	"fmt"
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

// fakeImages is a minimal ImageResolver so tests don't need a real
// containerd connection.
type fakeImages struct{ images map[string]*types.Image }

func (f *fakeImages) Inspect(ctx context.Context, ref string) (*types.Image, error) {
	img, ok := f.images[ref]
	if !ok {
		return nil, fmt.Errorf("no such image: %s", ref)
	}
	return img, nil
}

func newTestManager(t *testing.T) (*Manager, *runtime.Mock) {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "vesseld.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	netMgr := network.NewManager(store, nil)
	require.NoError(t, netMgr.EnsureDefaults(context.Background()))

	volMgr, err := volume.NewManager(store, filepath.Join(t.TempDir(), "volumes"))
	require.NoError(t, err)

	portMgr, err := portmap.NewManager(store)
	require.NoError(t, err)

	logs, err := logstore.NewStore(filepath.Join(t.TempDir(), "logs"))
	require.NoError(t, err)

	rt := runtime.NewMock()
	execs := execpkg.NewManager(rt)
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	images := &fakeImages{images: map[string]*types.Image{
		"alpine:latest": {ID: "sha256:deadbeef", RepoTags: []string{"alpine:latest"}},
	}}

	mgr := New(store, rt, netMgr, volMgr, portMgr, images, logs, execs, broker)
	return mgr, rt
}

func TestCreateResolvesImageAndPersists(t *testing.T) {
	mgr, _ := newTestManager(t)

	c, err := mgr.Create(context.Background(), CreateSpec{
		Name:  "web",
		Image: "alpine:latest",
		Cmd:   []string{"sleep", "3600"},
	})
	require.NoError(t, err)
	require.Equal(t, types.PhaseCreated, c.Phase)
	require.NotEmpty(t, c.VMID)

	got, err := mgr.Get("web")
	require.NoError(t, err)
	require.Equal(t, c.ID, got.ID)
}

func TestCreateUnknownImageIsNotFound(t *testing.T) {
	mgr, _ := newTestManager(t)

	_, err := mgr.Create(context.Background(), CreateSpec{Image: "missing:latest"})
	require.Error(t, err)
}

func TestStartAttachesDefaultNetworkAndRunsMonitor(t *testing.T) {
	mgr, rt := newTestManager(t)

	c, err := mgr.Create(context.Background(), CreateSpec{Image: "alpine:latest", Cmd: []string{"sleep", "3600"}})
	require.NoError(t, err)

	require.NoError(t, mgr.Start(context.Background(), c.ID))

	running, err := mgr.Get(c.ID)
	require.NoError(t, err)
	require.Equal(t, types.PhaseRunning, running.Phase)
	require.NotEmpty(t, running.NetworkConfig.EndpointsConfig)

	rt.Exit(running.VMID, 0)

	require.Eventually(t, func() bool {
		got, err := mgr.Get(c.ID)
		return err == nil && got.Phase == types.PhaseExited
	}, time.Second, 10*time.Millisecond)
}

func TestRemoveRefusesRunningContainerWithoutForce(t *testing.T) {
	mgr, _ := newTestManager(t)

	c, err := mgr.Create(context.Background(), CreateSpec{Image: "alpine:latest"})
	require.NoError(t, err)
	require.NoError(t, mgr.Start(context.Background(), c.ID))

	err = mgr.Remove(context.Background(), c.ID, false, false)
	require.Error(t, err)

	require.NoError(t, mgr.Remove(context.Background(), c.ID, true, false))
	_, err = mgr.Get(c.ID)
	require.Error(t, err)
}

func TestRestartPolicyAlwaysRestartsAfterExit(t *testing.T) {
	mgr, rt := newTestManager(t)

	c, err := mgr.Create(context.Background(), CreateSpec{
		Image:         "alpine:latest",
		RestartPolicy: &types.RestartPolicy{Name: types.RestartPolicyAlways},
	})
	require.NoError(t, err)
	require.NoError(t, mgr.Start(context.Background(), c.ID))

	running, err := mgr.Get(c.ID)
	require.NoError(t, err)
	firstVM := running.VMID

	rt.Exit(firstVM, 1)

	require.Eventually(t, func() bool {
		got, err := mgr.Get(c.ID)
		return err == nil && got.Phase == types.PhaseRunning && got.RestartSeq > 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBackoffDelayEscalatesWithCap(t *testing.T) {
	require.Equal(t, 100*time.Millisecond, backoffDelay(1))
	require.Equal(t, 200*time.Millisecond, backoffDelay(2))
	require.Equal(t, 400*time.Millisecond, backoffDelay(3))
	require.Equal(t, restartBackoffCap, backoffDelay(20))
}

func TestOnFailureStopsAfterMaxRetries(t *testing.T) {
	mgr, rt := newTestManager(t)

	c, err := mgr.Create(context.Background(), CreateSpec{
		Image:         "alpine:latest",
		Cmd:           []string{"sh", "-c", "exit 1"},
		RestartPolicy: &types.RestartPolicy{Name: types.RestartPolicyOnFailure, MaximumRetryCount: 2},
	})
	require.NoError(t, err)
	require.NoError(t, mgr.Start(context.Background(), c.ID))

	// Crash every run. Attempts accumulate across the monitor->Start
	// handoff: crash 1 and 2 are retried, the third evaluation exceeds
	// the cap and the container stays down.
	for i := 0; i < 3; i++ {
		var vmID string
		require.Eventually(t, func() bool {
			got, err := mgr.Get(c.ID)
			if err != nil || got.Phase != types.PhaseRunning {
				return false
			}
			vmID = got.VMID
			return true
		}, 3*time.Second, 10*time.Millisecond)
		rt.Exit(vmID, 1)
		require.Eventually(t, func() bool {
			got, err := mgr.Get(c.ID)
			return err == nil && got.Phase == types.PhaseExited
		}, 3*time.Second, 10*time.Millisecond)
	}

	// longer than the next backoff step would have been
	time.Sleep(600 * time.Millisecond)
	got, err := mgr.Get(c.ID)
	require.NoError(t, err)
	require.Equal(t, types.PhaseExited, got.Phase)
}
