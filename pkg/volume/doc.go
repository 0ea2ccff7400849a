/*
Package volume implements vesseld's VolumeManager: named and anonymous
volumes backed by plain host directories, refcounted against the
containers that mount them.

A volume is created lazily the first time a container references it by
name; an empty name produces an anonymous volume with a generated name.
Manager.Acquire/Release track how many containers mount a volume (from
container create to container remove) - named volumes survive a refcount
of zero, anonymous ones are removed when their count drops to zero and the
caller passes the remove-volumes flag, matching the "docker rm -v"
convention where anonymous volumes are cleaned up with their container.

# Usage

	mgr, err := volume.NewManager(store, cfg.VolumesDir())
	v, err := mgr.Create("postgres-data", "local", nil, nil)
	mgr.Acquire(v.Name)
	...
	mgr.Release(v.Name, removeVolumes)
*/
package volume
