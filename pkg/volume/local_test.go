package volume

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vesseld/vesseld/pkg/types"
)

func TestLocalDriverCreateAndRemove(t *testing.T) {
	tmpDir := t.TempDir()
	driver, err := NewLocalDriver(tmpDir)
	require.NoError(t, err)

	v := &types.Volume{Name: "test"}
	require.NoError(t, driver.Create(v))
	require.DirExists(t, v.MountPoint)

	require.NoError(t, driver.Remove(v))
	_, err = os.Stat(v.MountPoint)
	require.True(t, os.IsNotExist(err))
}

func TestLocalDriverRemoveNonExistentIsNoop(t *testing.T) {
	tmpDir := t.TempDir()
	driver, err := NewLocalDriver(tmpDir)
	require.NoError(t, err)

	v := &types.Volume{Name: "never-created"}
	require.NoError(t, driver.Remove(v))
}
