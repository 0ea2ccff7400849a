package exec

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vesseld/vesseld/pkg/runtime"
)

func TestCreateAndStartRunsCommand(t *testing.T) {
	rt := runtime.NewMock()
	vmID, err := rt.CreateVM(context.Background(), runtime.VMSpec{ContainerID: "c1", Image: "alpine"})
	require.NoError(t, err)

	m := NewManager(rt)
	rec, err := m.Create("c1", vmID, []string{"echo", "hi"}, nil, false, false)
	require.NoError(t, err)
	require.False(t, rec.Running)

	var out bytes.Buffer
	require.NoError(t, m.Start(context.Background(), rec.ID, nil, &out, &out))

	got, err := m.Inspect(rec.ID)
	require.NoError(t, err)
	require.False(t, got.Running)
	require.Equal(t, 0, got.ExitCode)
}

func TestPurgeForContainerDropsInstances(t *testing.T) {
	rt := runtime.NewMock()
	vmID, err := rt.CreateVM(context.Background(), runtime.VMSpec{ContainerID: "c1"})
	require.NoError(t, err)

	m := NewManager(rt)
	rec, err := m.Create("c1", vmID, []string{"true"}, nil, false, false)
	require.NoError(t, err)

	m.PurgeForContainer("c1")

	_, err = m.Inspect(rec.ID)
	require.Error(t, err)
}

func TestResizeRequiresRunningTTY(t *testing.T) {
	rt := runtime.NewMock()
	vmID, err := rt.CreateVM(context.Background(), runtime.VMSpec{ContainerID: "c1"})
	require.NoError(t, err)

	m := NewManager(rt)
	rec, err := m.Create("c1", vmID, []string{"sh"}, nil, true, true)
	require.NoError(t, err)

	err = m.Resize(context.Background(), rec.ID, 80, 24)
	require.Error(t, err)
}
