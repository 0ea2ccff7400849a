package types

import (
	"net"
	"time"
)

// Container represents a single managed container and its full lifecycle state.
type Container struct {
	ID         string
	Name       string
	Image      string
	ImageID    string
	Cmd        []string
	Entrypoint []string
	Env        []string
	WorkingDir string
	User       string
	Tty        bool
	OpenStdin  bool
	Labels     map[string]string

	HostConfig    *HostConfig
	NetworkConfig *ContainerNetworkConfig
	Mounts        []*Mount
	HealthCheck   *HealthCheck
	RestartPolicy *RestartPolicy

	Phase       ContainerPhase
	Pid         int
	ExitCode    int
	Error       string
	OOMKilled   bool
	Health      *HealthState
	RestartedAt time.Time
	RestartSeq  int

	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time

	VMID string // the runtime collaborator's opaque handle for this container's VM
}

// ContainerPhase is the container's lifecycle phase.
type ContainerPhase string

const (
	PhaseCreated    ContainerPhase = "created"
	PhaseRunning    ContainerPhase = "running"
	PhasePaused     ContainerPhase = "paused"
	PhaseRestarting ContainerPhase = "restarting"
	PhaseExited     ContainerPhase = "exited"
	PhaseDead       ContainerPhase = "dead"
	PhaseRemoving   ContainerPhase = "removing"
)

// HostConfig mirrors the subset of Docker's HostConfig this daemon honors.
type HostConfig struct {
	Binds          []string
	NetworkMode    string
	PortBindings   map[string][]PortBinding // "80/tcp" -> bindings
	AutoRemove     bool
	Privileged     bool
	CapAdd         []string
	CapDrop        []string
	DNS            []string
	ExtraHosts     []string
	Resources      ResourceLimits
	RestartPolicy  *RestartPolicy
	ReadonlyRootfs bool
}

// PortBinding is a single host-side binding for a container port.
type PortBinding struct {
	HostIP   string
	HostPort string
}

// ResourceLimits mirrors Docker's Resources struct for the fields this daemon enforces.
type ResourceLimits struct {
	Memory     int64 // bytes, 0 = unlimited
	MemorySwap int64
	NanoCPUs   int64 // billionths of a CPU
	CPUShares  int64
}

// Mount is a single bind or volume mount attached to a container.
type Mount struct {
	Type        MountType
	Source      string // host path or volume name
	Target      string
	ReadOnly    bool
	VolumeName  string // set when Type == MountTypeVolume
	Propagation string
}

// MountType distinguishes bind mounts from named volumes.
type MountType string

const (
	MountTypeBind   MountType = "bind"
	MountTypeVolume MountType = "volume"
	MountTypeTmpfs  MountType = "tmpfs"
)

// ContainerNetworkConfig records which networks a container is attached to
// and the addresses it was handed on each.
type ContainerNetworkConfig struct {
	EndpointsConfig map[string]*EndpointSettings // network name -> settings
}

// EndpointSettings is the per-network attachment state for one container.
type EndpointSettings struct {
	NetworkID   string
	EndpointID  string
	IPAddress   string
	IPPrefixLen int
	Gateway     string
	MacAddress  string
	Aliases     []string
}

// HealthCheck defines how a container's liveness is probed.
type HealthCheck struct {
	Test        []string // ["NONE"] disables, ["CMD", ...] or ["CMD-SHELL", ...]
	Interval    time.Duration
	Timeout     time.Duration
	StartPeriod time.Duration
	Retries     int
}

// HealthState is the accumulated result of health probing for a container.
type HealthState struct {
	Status        HealthStatus
	FailingStreak int
	Log           []*HealthLogEntry // bounded ring, most recent last
}

// HealthStatus is the coarse health verdict surfaced on /containers/{id}/json.
type HealthStatus string

const (
	HealthStarting  HealthStatus = "starting"
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthNone      HealthStatus = "none"
)

// HealthLogEntry is a single probe result.
type HealthLogEntry struct {
	Start    time.Time
	End      time.Time
	ExitCode int
	Output   string
}

// RestartPolicy controls whether and how a container restarts after exit.
type RestartPolicy struct {
	Name              RestartPolicyName
	MaximumRetryCount int
	ManualStop        bool // set when a user explicitly stopped the container
}

// RestartPolicyName is the restart policy kind.
type RestartPolicyName string

const (
	RestartPolicyNo            RestartPolicyName = "no"
	RestartPolicyOnFailure     RestartPolicyName = "on-failure"
	RestartPolicyAlways        RestartPolicyName = "always"
	RestartPolicyUnlessStopped RestartPolicyName = "unless-stopped"
)

// Image represents a pulled or loaded container image.
type Image struct {
	ID          string
	RepoTags    []string
	RepoDigests []string
	Size        int64
	CreatedAt   time.Time
	Labels      map[string]string
}

// Network represents a container network managed by NetworkManager/IPAM.
type Network struct {
	ID         string
	Name       string
	Driver     string // "bridge", "host", "null"
	Subnet     string // CIDR
	Gateway    string
	Internal   bool
	Attachable bool
	Builtin    bool
	Labels     map[string]string
	CreatedAt  time.Time
}

// IPAllocation is a single leased address within a network's subnet.
type IPAllocation struct {
	NetworkID   string
	IP          net.IP
	ContainerID string
	AllocatedAt time.Time
}

// Volume represents a named persistent storage volume.
type Volume struct {
	Name       string
	Driver     string
	MountPoint string
	Labels     map[string]string
	Options    map[string]string
	RefCount   int
	Anonymous  bool
	CreatedAt  time.Time
}

// PortMapping is a single published (bind-ip, port, proto) reservation.
type PortMapping struct {
	ContainerID   string
	ContainerPort int
	Proto         string // "tcp" or "udp"
	HostIP        string
	HostPort      int
}

// ExecInstance represents one exec session bound to a running container.
type ExecInstance struct {
	ID          string
	ContainerID string
	Cmd         []string
	Env         []string
	Tty         bool
	AttachStdin bool
	Running     bool
	ExitCode    int
	Pid         int
	CreatedAt   time.Time
}

// AttachMode describes which streams a raw-stream upgrade attaches to.
type AttachMode struct {
	Stdin  bool
	Stdout bool
	Stderr bool
	Stream bool
	Logs   bool
}

// LogEntry is a single recorded line of container stdout/stderr.
type LogEntry struct {
	Stream    string // "stdout" or "stderr"
	Timestamp time.Time
	Line      []byte
}
