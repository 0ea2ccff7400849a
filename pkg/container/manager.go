package container

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/vesseld/vesseld/pkg/apierror"
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

// restartBackoffBase and restartBackoffCap bound the exit monitor's
// exponential backoff between restart attempts. A run that survives
// restartResetAfter counts as a recovery and restarts the backoff ladder;
// anything shorter keeps escalating the previous attempt count.
const (
	restartBackoffBase = 100 * time.Millisecond
	restartBackoffCap  = 30 * time.Second
	restartResetAfter  = 10 * time.Second
)

// liveState is the in-memory, never-persisted bookkeeping a running
// container needs: the exit monitor's cancel func, any active attach
// session, and the healthcheck scheduler's cancel func. None of this
// survives a daemon restart - Recover rebuilds it from scratch.
//
// The restart attempt counter deliberately does NOT live here: liveState is
// recreated on every Start, and the counter must survive the
// monitor->Start->new-monitor handoff or the backoff ladder and
// on-failure(N) cap would reset on every crash. It lives in
// Manager.restartAttempts instead.
type liveState struct {
	cancel       context.CancelFunc
	healthCancel context.CancelFunc
	attach       *AttachSession
}

// ImageResolver is the subset of image.Manager's surface ContainerManager
// needs: resolving a reference to an already-available image. It's carved
// out as an interface (rather than taking *image.Manager directly) so tests
// can substitute a fake instead of standing up a real containerd
// connection, the same way storage.Store already lets tests swap in a
// temp-file-backed SQLite store.
type ImageResolver interface {
	Inspect(ctx context.Context, ref string) (*types.Image, error)
}

// Manager is the ContainerManager: it owns every container
// record, is the only component that ever flips a container's phase, and
// coordinates the Network/Volume/PortMap managers and the runtime
// collaborator to make that phase observable in practice.
type Manager struct {
	store  storage.Store
	rt     runtime.Runtime
	net    *network.Manager
	vol    *volume.Manager
	ports  *portmap.Manager
	images ImageResolver
	logs   *logstore.Store
	execs  *execpkg.Manager
	events *events.Broker

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex

	liveMu          sync.Mutex
	live            map[string]*liveState
	pending         map[string]*AttachSession
	restartAttempts map[string]int // consecutive crash-restarts per container
}

// New wires a Manager from its dependencies. Every dependency is expected
// to already be constructed and, where relevant, have EnsureDefaults/schema
// bootstrap already applied by the daemon composition root.
func New(store storage.Store, rt runtime.Runtime, net *network.Manager, vol *volume.Manager, ports *portmap.Manager, images ImageResolver, logs *logstore.Store, execs *execpkg.Manager, broker *events.Broker) *Manager {
	return &Manager{
		store:           store,
		rt:              rt,
		net:             net,
		vol:             vol,
		ports:           ports,
		images:          images,
		logs:            logs,
		execs:           execs,
		events:          broker,
		locks:           make(map[string]*sync.Mutex),
		live:            make(map[string]*liveState),
		pending:         make(map[string]*AttachSession),
		restartAttempts: make(map[string]int),
	}
}

// lockFor returns the per-container sync.Mutex for id, creating it on
// first use. It serializes operations on one container but does not serve
// waiters in arrival order. Locks are never evicted: the map is bounded by the number of
// container ids this daemon has ever seen, acceptable for a single-host
// daemon's lifetime.
func (m *Manager) lockFor(id string) *sync.Mutex {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

func (m *Manager) withLock(id string, fn func() error) error {
	l := m.lockFor(id)
	l.Lock()
	defer l.Unlock()
	return fn()
}

func newID() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// CreateSpec is everything Create needs, already translated from the wire
// request into vesseld's own types - httpapi owns the Docker-shaped JSON
// decode, Manager only ever sees this.
type CreateSpec struct {
	Name          string
	Image         string
	Cmd           []string
	Entrypoint    []string
	Env           []string
	WorkingDir    string
	User          string
	Tty           bool
	OpenStdin     bool
	Labels        map[string]string
	HealthCheck   *types.HealthCheck
	RestartPolicy *types.RestartPolicy
	Resources     types.ResourceLimits
	Mounts        []*types.Mount
	// Networks maps a network name to the endpoint settings requested at
	// create time (only IPAddress is read from it).
	Networks     map[string]*types.EndpointSettings
	PortBindings map[string][]types.PortBinding // "80/tcp" -> bindings
	NetworkMode  string
}

// Create validates spec, resolves its image, provisions the VM synchronously
// (so a subsequent Start can never race an unfinished rootfs build), and
// persists a new container record in the "created" phase.
func (m *Manager) Create(ctx context.Context, spec CreateSpec) (*types.Container, error) {
	if spec.Image == "" {
		return nil, apierror.Invalid("image is required")
	}

	name := spec.Name
	if name != "" {
		if existing, err := m.store.GetContainerByName(name); err == nil && existing != nil && existing.Phase != types.PhaseDead {
			return nil, apierror.Conflict("container name %q is already in use by %s", name, existing.ID)
		}
	} else {
		name = generateName()
	}

	img, err := m.images.Inspect(ctx, spec.Image)
	if err != nil {
		return nil, apierror.NotFound("No such image: %s", spec.Image)
	}

	id := newID()

	resolvedMounts, err := m.materializeMounts(spec.Mounts)
	if err != nil {
		return nil, err
	}

	vmSpec := runtime.VMSpec{
		ContainerID: id,
		Image:       img.ID,
		Cmd:         spec.Cmd,
		Entrypoint:  spec.Entrypoint,
		Env:         spec.Env,
		WorkingDir:  spec.WorkingDir,
		User:        spec.User,
		Tty:         spec.Tty,
		OpenStdin:   spec.OpenStdin,
		Mounts:      toOCIMounts(resolvedMounts),
		Resources:   toLinuxResources(spec.Resources),
	}
	vmID, err := m.rt.CreateVM(ctx, vmSpec)
	if err != nil {
		return nil, apierror.Transient("create vm for %s: %v", spec.Image, err)
	}

	restartPolicy := spec.RestartPolicy
	if restartPolicy == nil {
		restartPolicy = &types.RestartPolicy{Name: types.RestartPolicyNo}
	}

	c := &types.Container{
		ID:         id,
		Name:       name,
		Image:      spec.Image,
		ImageID:    img.ID,
		Cmd:        spec.Cmd,
		Entrypoint: spec.Entrypoint,
		Env:        spec.Env,
		WorkingDir: spec.WorkingDir,
		User:       spec.User,
		Tty:        spec.Tty,
		OpenStdin:  spec.OpenStdin,
		Labels:     spec.Labels,
		HostConfig: &types.HostConfig{
			PortBindings:  spec.PortBindings,
			Resources:     spec.Resources,
			NetworkMode:   spec.NetworkMode,
			RestartPolicy: restartPolicy,
		},
		NetworkConfig: &types.ContainerNetworkConfig{EndpointsConfig: spec.Networks},
		Mounts:        resolvedMounts,
		HealthCheck:   spec.HealthCheck,
		RestartPolicy: restartPolicy,
		Phase:         types.PhaseCreated,
		CreatedAt:     time.Now(),
		VMID:          vmID,
	}

	if err := m.store.CreateContainer(c); err != nil {
		_ = m.rt.Destroy(ctx, vmID)
		return nil, apierror.Internal("persist container: %v", err)
	}
	if err := m.store.SetMounts(id, resolvedMounts); err != nil {
		return nil, apierror.Internal("persist mounts: %v", err)
	}

	m.publish(events.TypeContainerCreated, id)
	return c, nil
}

// materializeMounts resolves every volume mount whose source wasn't
// supplied: an unnamed one gets a new anonymous volume, a named one is
// created on first reference (or reused if it exists). Each volume mount
// acquires a refcount.
func (m *Manager) materializeMounts(mounts []*types.Mount) ([]*types.Mount, error) {
	out := make([]*types.Mount, 0, len(mounts))
	for _, mnt := range mounts {
		cp := *mnt
		if cp.Type == types.MountTypeVolume && cp.Source == "" {
			v, err := m.vol.Create(cp.VolumeName, "local", nil, nil)
			if err != nil {
				return nil, apierror.Internal("create volume: %v", err)
			}
			cp.VolumeName = v.Name
			cp.Source = v.MountPoint
		}
		if cp.Type == types.MountTypeVolume && cp.VolumeName != "" {
			if err := m.vol.Acquire(cp.VolumeName); err != nil {
				return nil, apierror.Internal("acquire volume %s: %v", cp.VolumeName, err)
			}
		}
		out = append(out, &cp)
	}
	return out, nil
}

// toOCIMounts translates resolved bind/volume mounts into the OCI mount
// entries a VMSpec carries; tmpfs mounts are passed through to the runtime
// collaborator as an OCI tmpfs mount rather than handled here.
func toOCIMounts(mounts []*types.Mount) []specs.Mount {
	if len(mounts) == 0 {
		return nil
	}
	out := make([]specs.Mount, 0, len(mounts))
	for _, mnt := range mounts {
		switch mnt.Type {
		case types.MountTypeTmpfs:
			opts := []string{"noexec", "nosuid", "nodev"}
			if mnt.ReadOnly {
				opts = append(opts, "ro")
			}
			out = append(out, specs.Mount{Destination: mnt.Target, Type: "tmpfs", Source: "tmpfs", Options: opts})
		default:
			opts := []string{"rbind"}
			if mnt.ReadOnly {
				opts = append(opts, "ro")
			} else {
				opts = append(opts, "rw")
			}
			out = append(out, specs.Mount{Destination: mnt.Target, Type: "bind", Source: mnt.Source, Options: opts})
		}
	}
	return out
}

// toLinuxResources converts vesseld's ResourceLimits into the OCI resource
// struct the runtime collaborator's VMSpec carries.
func toLinuxResources(r types.ResourceLimits) *specs.LinuxResources {
	if r.Memory == 0 && r.MemorySwap == 0 && r.NanoCPUs == 0 && r.CPUShares == 0 {
		return nil
	}
	res := &specs.LinuxResources{}
	if r.Memory != 0 || r.MemorySwap != 0 {
		mem := &specs.LinuxMemory{}
		if r.Memory != 0 {
			mem.Limit = &r.Memory
		}
		if r.MemorySwap != 0 {
			mem.Swap = &r.MemorySwap
		}
		res.Memory = mem
	}
	if r.NanoCPUs != 0 || r.CPUShares != 0 {
		cpu := &specs.LinuxCPU{}
		if r.CPUShares != 0 {
			shares := uint64(r.CPUShares)
			cpu.Shares = &shares
		}
		if r.NanoCPUs != 0 {
			// NanoCPUs is billionths of a CPU; OCI quota/period are
			// microseconds over a period, so a 100ms period scales directly.
			period := uint64(100000)
			quota := r.NanoCPUs * int64(period) / 1_000_000_000
			cpu.Period = &period
			cpu.Quota = &quota
		}
		res.CPU = cpu
	}
	return res
}

// Get returns a container's full record, including its mount and network
// attachment state, by id or name.
func (m *Manager) Get(idOrName string) (*types.Container, error) {
	c, err := m.store.GetContainer(idOrName)
	if err != nil {
		c, err = m.store.GetContainerByName(idOrName)
		if err != nil {
			return nil, apierror.NotFound("No such container: %s", idOrName)
		}
	}
	if err := m.hydrate(c); err != nil {
		return nil, apierror.Internal("load container state: %v", err)
	}
	return c, nil
}

func (m *Manager) hydrate(c *types.Container) error {
	mounts, err := m.store.GetMounts(c.ID)
	if err != nil {
		return err
	}
	c.Mounts = mounts

	attachments, err := m.store.NetworkAttachments(c.ID)
	if err != nil {
		return err
	}
	if c.NetworkConfig == nil {
		c.NetworkConfig = &types.ContainerNetworkConfig{}
	}
	c.NetworkConfig.EndpointsConfig = attachments
	return nil
}

// PortMappings returns the published port reservations recorded for id,
// paper entries included.
func (m *Manager) PortMappings(id string) ([]*types.PortMapping, error) {
	return m.ports.List(id)
}

// ListFilters narrows List's result set; zero-value fields are unset.
type ListFilters struct {
	All      bool
	Labels   map[string]string
	Names    []string
	IDs      []string
	Statuses []types.ContainerPhase
}

// List returns every container matching filters.
func (m *Manager) List(filters ListFilters) ([]*types.Container, error) {
	all, err := m.store.ListContainers()
	if err != nil {
		return nil, err
	}
	out := make([]*types.Container, 0, len(all))
	for _, c := range all {
		if !filters.All && (c.Phase == types.PhaseExited || c.Phase == types.PhaseDead) {
			continue
		}
		if !matchesFilters(c, filters) {
			continue
		}
		if err := m.hydrate(c); err != nil {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func matchesFilters(c *types.Container, f ListFilters) bool {
	if len(f.IDs) > 0 && !containsPrefix(f.IDs, c.ID) {
		return false
	}
	if len(f.Names) > 0 && !contains(f.Names, c.Name) {
		return false
	}
	if len(f.Statuses) > 0 && !containsPhase(f.Statuses, c.Phase) {
		return false
	}
	for k, v := range f.Labels {
		if c.Labels[k] != v {
			return false
		}
	}
	return true
}

func contains(haystack []string, needle string) bool {
	for _, h := range haystack {
		if h == needle {
			return true
		}
	}
	return false
}

func containsPrefix(haystack []string, needle string) bool {
	for _, h := range haystack {
		if len(needle) >= len(h) && needle[:len(h)] == h {
			return true
		}
	}
	return false
}

func containsPhase(haystack []types.ContainerPhase, needle types.ContainerPhase) bool {
	for _, h := range haystack {
		if h == needle {
			return true
		}
	}
	return false
}

// Remove deletes a container. A running container is refused unless force
// is set, in which case it is killed first. Every mounted volume's refcount
// is released; removeVolumes additionally deletes anonymous volumes that
// drop to zero.
func (m *Manager) Remove(ctx context.Context, id string, force, removeVolumes bool) error {
	return m.withLock(id, func() error {
		c, err := m.Get(id)
		if err != nil {
			return err
		}
		if c.Phase == types.PhaseRunning || c.Phase == types.PhasePaused {
			if !force {
				return apierror.Conflict("cannot remove a running container, use force or stop it first")
			}
			if err := m.killLocked(ctx, c, 9); err != nil {
				return err
			}
		}

		m.stopLiveState(id)
		m.execs.PurgeForContainer(id)
		_ = m.ports.UnpublishContainer(id)
		for netID, ep := range attachmentsOf(c) {
			if ep == nil {
				continue
			}
			if n, err := m.net.Get(netID); err == nil {
				_ = m.net.Detach(id, n)
			}
		}
		// Refcounts come down for every volume this container mounted;
		// removeVolumes only controls whether anonymous ones are deleted.
		for _, mnt := range c.Mounts {
			if mnt.Type == types.MountTypeVolume && mnt.VolumeName != "" {
				_ = m.vol.Release(mnt.VolumeName, removeVolumes)
			}
		}
		if c.VMID != "" {
			_ = m.rt.Destroy(ctx, c.VMID)
		}
		if err := m.store.DeleteContainer(id); err != nil {
			return apierror.Internal("delete container: %v", err)
		}
		m.publish(events.TypeContainerRemoved, id)
		return nil
	})
}

func attachmentsOf(c *types.Container) map[string]*types.EndpointSettings {
	if c.NetworkConfig == nil {
		return nil
	}
	return c.NetworkConfig.EndpointsConfig
}

// Prune removes every container that is neither running nor paused and
// carries all of the given labels, and returns their ids. vesseld
// doesn't size VM rootfs disks, so (unlike dockerd) it never reports a
// reclaimed-bytes figure for this operation.
func (m *Manager) Prune(ctx context.Context, labels map[string]string) ([]string, error) {
	all, err := m.store.ListContainers()
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, c := range all {
		if c.Phase == types.PhaseRunning || c.Phase == types.PhasePaused {
			continue
		}
		skip := false
		for k, v := range labels {
			if c.Labels[k] != v {
				skip = true
				break
			}
		}
		if skip {
			continue
		}
		if err := m.Remove(ctx, c.ID, false, true); err != nil {
			continue
		}
		removed = append(removed, c.ID)
	}
	return removed, nil
}

func (m *Manager) publish(t events.Type, containerID string) {
	if m.events == nil {
		return
	}
	m.events.Publish(&events.Event{Type: t, Actor: events.Actor{ID: containerID}})
}
