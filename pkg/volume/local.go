package volume

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/vesseld/vesseld/pkg/types"
)

// DefaultVolumesPath is the base directory for local volumes.
const DefaultVolumesPath = "/var/lib/vesseld/volumes"

// Driver manages the on-disk lifecycle of a volume. vesseld ships exactly
// one driver ("local"); the interface exists so a future driver doesn't
// require touching Manager.
type Driver interface {
	Create(v *types.Volume) error
	Remove(v *types.Volume) error
	MountPoint(v *types.Volume) string
}

// LocalDriver stores each volume as a plain directory under basePath, named
// after the volume itself.
type LocalDriver struct {
	basePath string
}

// NewLocalDriver creates basePath if needed and returns a driver rooted there.
func NewLocalDriver(basePath string) (*LocalDriver, error) {
	if basePath == "" {
		basePath = DefaultVolumesPath
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("volume: create volumes directory: %w", err)
	}
	return &LocalDriver{basePath: basePath}, nil
}

func (d *LocalDriver) MountPoint(v *types.Volume) string {
	return filepath.Join(d.basePath, v.Name)
}

func (d *LocalDriver) Create(v *types.Volume) error {
	path := d.MountPoint(v)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("volume: create %s: %w", v.Name, err)
	}
	v.MountPoint = path
	return nil
}

func (d *LocalDriver) Remove(v *types.Volume) error {
	path := d.MountPoint(v)
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("volume: remove %s: %w", v.Name, err)
	}
	return nil
}
