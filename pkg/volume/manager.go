package volume

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vesseld/vesseld/pkg/storage"
	"github.com/vesseld/vesseld/pkg/types"
)

// Manager is the VolumeManager: it owns volume bookkeeping in the state
// store and drives a Driver to do the actual directory work. One driver
// ("local") is wired in today; the by-name driver lookup keeps the door
// open for more.
type Manager struct {
	store   storage.Store
	drivers map[string]Driver
}

// NewManager wires a Manager against store, defaulting to a LocalDriver
// rooted at volumesPath (empty uses DefaultVolumesPath).
func NewManager(store storage.Store, volumesPath string) (*Manager, error) {
	local, err := NewLocalDriver(volumesPath)
	if err != nil {
		return nil, err
	}
	return &Manager{
		store:   store,
		drivers: map[string]Driver{"local": local},
	}, nil
}

func (m *Manager) driver(name string) (Driver, error) {
	if name == "" {
		name = "local"
	}
	d, ok := m.drivers[name]
	if !ok {
		return nil, fmt.Errorf("volume: unknown driver %q", name)
	}
	return d, nil
}

// Create creates a named volume. If name is empty, an anonymous volume is
// created with a generated name and Anonymous set — anonymous volumes are
// eligible for automatic removal once their container is removed, unlike
// named volumes which persist until explicitly deleted.
func (m *Manager) Create(name, driverName string, labels, options map[string]string) (*types.Volume, error) {
	anonymous := name == ""
	if anonymous {
		name = uuid.NewString()
	} else if existing, err := m.store.GetVolume(name); err == nil && existing != nil {
		return existing, nil
	}

	d, err := m.driver(driverName)
	if err != nil {
		return nil, err
	}

	v := &types.Volume{
		Name:      name,
		Driver:    driverName,
		Labels:    labels,
		Options:   options,
		Anonymous: anonymous,
		CreatedAt: time.Now(),
	}
	if v.Driver == "" {
		v.Driver = "local"
	}
	if err := d.Create(v); err != nil {
		return nil, err
	}
	if err := m.store.CreateVolume(v); err != nil {
		return nil, fmt.Errorf("volume: persist %s: %w", name, err)
	}
	return v, nil
}

// Get returns a volume by name.
func (m *Manager) Get(name string) (*types.Volume, error) {
	return m.store.GetVolume(name)
}

// List returns every volume known to the store.
func (m *Manager) List() ([]*types.Volume, error) {
	return m.store.ListVolumes()
}

// Acquire increments a volume's refcount, recording that a container now
// mounts it.
func (m *Manager) Acquire(name string) error {
	_, err := m.store.UpdateVolumeRefCount(name, 1)
	return err
}

// Release decrements a volume's refcount, recording that a container no
// longer mounts it. The refcount always comes down, whatever the caller's
// remove-volumes flag said - removeAnonymous only decides whether an
// anonymous volume whose count just hit zero is deleted outright. Named
// volumes never get removed implicitly either way.
func (m *Manager) Release(name string, removeAnonymous bool) error {
	count, err := m.store.UpdateVolumeRefCount(name, -1)
	if err != nil {
		return err
	}
	if count > 0 || !removeAnonymous {
		return nil
	}
	v, err := m.store.GetVolume(name)
	if err != nil {
		return nil
	}
	if !v.Anonymous {
		return nil
	}
	return m.Remove(name, false)
}

// Remove deletes a volume. Unless force is set, a volume still referenced
// by a container (RefCount > 0) is refused.
func (m *Manager) Remove(name string, force bool) error {
	v, err := m.store.GetVolume(name)
	if err != nil {
		return err
	}
	if v.RefCount > 0 && !force {
		return fmt.Errorf("volume: %s is in use", name)
	}
	d, err := m.driver(v.Driver)
	if err != nil {
		return err
	}
	if err := d.Remove(v); err != nil {
		return err
	}
	return m.store.DeleteVolume(name)
}

// Prune removes every volume with a zero refcount and returns their names.
// It reports no reclaimed-space figure: vesseld doesn't walk volume
// contents to size them.
func (m *Manager) Prune() ([]string, error) {
	all, err := m.store.ListVolumes()
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, v := range all {
		if v.RefCount > 0 {
			continue
		}
		if err := m.Remove(v.Name, false); err != nil {
			continue
		}
		removed = append(removed, v.Name)
	}
	return removed, nil
}
