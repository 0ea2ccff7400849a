package httpapi

import (
	"fmt"
	"time"

	units "github.com/docker/go-units"

	"github.com/vesseld/vesseld/pkg/runtime"
	"github.com/vesseld/vesseld/pkg/types"
)

// The structs below are the response side of the Docker Engine API. Field
// names and casings follow the upstream API documentation exactly; a field
// vesseld has no value for is either zeroed (when clients index into it
// unconditionally, like stats sub-objects) or omitted.

type createdResponse struct {
	Id       string   `json:"Id"`
	Warnings []string `json:"Warnings"`
}

type waitResponse struct {
	StatusCode int        `json:"StatusCode"`
	Error      *waitError `json:"Error,omitempty"`
}

type waitError struct {
	Message string `json:"Message"`
}

type versionResponse struct {
	Version       string            `json:"Version"`
	ApiVersion    string            `json:"ApiVersion"`
	MinAPIVersion string            `json:"MinAPIVersion"`
	GitCommit     string            `json:"GitCommit"`
	GoVersion     string            `json:"GoVersion"`
	Os            string            `json:"Os"`
	Arch          string            `json:"Arch"`
	KernelVersion string            `json:"KernelVersion"`
	Platform      map[string]string `json:"Platform"`
}

type portSummary struct {
	IP          string `json:"IP,omitempty"`
	PrivatePort int    `json:"PrivatePort"`
	PublicPort  int    `json:"PublicPort,omitempty"`
	Type        string `json:"Type"`
}

type containerSummary struct {
	Id              string                  `json:"Id"`
	Names           []string                `json:"Names"`
	Image           string                  `json:"Image"`
	ImageID         string                  `json:"ImageID"`
	Command         string                  `json:"Command"`
	Created         int64                   `json:"Created"`
	State           string                  `json:"State"`
	Status          string                  `json:"Status"`
	Ports           []portSummary           `json:"Ports"`
	Labels          map[string]string       `json:"Labels"`
	NetworkSettings *summaryNetworkSettings `json:"NetworkSettings,omitempty"`
	Mounts          []mountPoint            `json:"Mounts"`
}

type summaryNetworkSettings struct {
	Networks map[string]*endpointResource `json:"Networks"`
}

type endpointResource struct {
	NetworkID   string   `json:"NetworkID"`
	EndpointID  string   `json:"EndpointID"`
	Gateway     string   `json:"Gateway"`
	IPAddress   string   `json:"IPAddress"`
	IPPrefixLen int      `json:"IPPrefixLen"`
	MacAddress  string   `json:"MacAddress"`
	Aliases     []string `json:"Aliases,omitempty"`
}

type mountPoint struct {
	Type        string `json:"Type"`
	Name        string `json:"Name,omitempty"`
	Source      string `json:"Source"`
	Destination string `json:"Destination"`
	Driver      string `json:"Driver,omitempty"`
	Mode        string `json:"Mode"`
	RW          bool   `json:"RW"`
	Propagation string `json:"Propagation"`
}

type containerState struct {
	Status     string          `json:"Status"`
	Running    bool            `json:"Running"`
	Paused     bool            `json:"Paused"`
	Restarting bool            `json:"Restarting"`
	OOMKilled  bool            `json:"OOMKilled"`
	Dead       bool            `json:"Dead"`
	Pid        int             `json:"Pid"`
	ExitCode   int             `json:"ExitCode"`
	Error      string          `json:"Error"`
	StartedAt  string          `json:"StartedAt"`
	FinishedAt string          `json:"FinishedAt"`
	Health     *healthResource `json:"Health,omitempty"`
}

type healthResource struct {
	Status        string           `json:"Status"`
	FailingStreak int              `json:"FailingStreak"`
	Log           []healthLogEntry `json:"Log"`
}

type healthLogEntry struct {
	Start    string `json:"Start"`
	End      string `json:"End"`
	ExitCode int    `json:"ExitCode"`
	Output   string `json:"Output"`
}

type containerConfig struct {
	Hostname     string            `json:"Hostname"`
	User         string            `json:"User"`
	AttachStdin  bool              `json:"AttachStdin"`
	AttachStdout bool              `json:"AttachStdout"`
	AttachStderr bool              `json:"AttachStderr"`
	Tty          bool              `json:"Tty"`
	OpenStdin    bool              `json:"OpenStdin"`
	Env          []string          `json:"Env"`
	Cmd          []string          `json:"Cmd"`
	Entrypoint   []string          `json:"Entrypoint"`
	Image        string            `json:"Image"`
	WorkingDir   string            `json:"WorkingDir"`
	Labels       map[string]string `json:"Labels"`
}

type hostConfigResource struct {
	NetworkMode   string                `json:"NetworkMode"`
	PortBindings  map[string][]portBind `json:"PortBindings"`
	RestartPolicy restartPolicyResource `json:"RestartPolicy"`
	Memory        int64                 `json:"Memory"`
	MemorySwap    int64                 `json:"MemorySwap"`
	NanoCpus      int64                 `json:"NanoCpus"`
	CpuShares     int64                 `json:"CpuShares"`
}

type portBind struct {
	HostIp   string `json:"HostIp"`
	HostPort string `json:"HostPort"`
}

type restartPolicyResource struct {
	Name              string `json:"Name"`
	MaximumRetryCount int    `json:"MaximumRetryCount"`
}

type containerInspect struct {
	Id              string                  `json:"Id"`
	Created         string                  `json:"Created"`
	Path            string                  `json:"Path"`
	Args            []string                `json:"Args"`
	State           containerState          `json:"State"`
	Image           string                  `json:"Image"`
	Name            string                  `json:"Name"`
	RestartCount    int                     `json:"RestartCount"`
	Platform        string                  `json:"Platform"`
	Driver          string                  `json:"Driver"`
	Config          containerConfig         `json:"Config"`
	HostConfig      hostConfigResource      `json:"HostConfig"`
	NetworkSettings *summaryNetworkSettings `json:"NetworkSettings"`
	Mounts          []mountPoint            `json:"Mounts"`
}

type imageSummary struct {
	Id          string            `json:"Id"`
	RepoTags    []string          `json:"RepoTags"`
	RepoDigests []string          `json:"RepoDigests"`
	Created     int64             `json:"Created"`
	Size        int64             `json:"Size"`
	VirtualSize int64             `json:"VirtualSize"`
	Labels      map[string]string `json:"Labels"`
	Containers  int64             `json:"Containers"`
}

type imageDeleteItem struct {
	Untagged string `json:"Untagged,omitempty"`
	Deleted  string `json:"Deleted,omitempty"`
}

type ipamResource struct {
	Driver string            `json:"Driver"`
	Config []ipamConfigEntry `json:"Config"`
}

type ipamConfigEntry struct {
	Subnet  string `json:"Subnet,omitempty"`
	Gateway string `json:"Gateway,omitempty"`
}

type networkContainerEntry struct {
	Name        string `json:"Name"`
	EndpointID  string `json:"EndpointID"`
	MacAddress  string `json:"MacAddress"`
	IPv4Address string `json:"IPv4Address"`
}

type networkResource struct {
	Name       string                           `json:"Name"`
	Id         string                           `json:"Id"`
	Created    string                           `json:"Created"`
	Scope      string                           `json:"Scope"`
	Driver     string                           `json:"Driver"`
	EnableIPv6 bool                             `json:"EnableIPv6"`
	Internal   bool                             `json:"Internal"`
	Attachable bool                             `json:"Attachable"`
	IPAM       ipamResource                     `json:"IPAM"`
	Containers map[string]networkContainerEntry `json:"Containers"`
	Labels     map[string]string                `json:"Labels"`
}

type volumeResource struct {
	Name       string            `json:"Name"`
	Driver     string            `json:"Driver"`
	Mountpoint string            `json:"Mountpoint"`
	CreatedAt  string            `json:"CreatedAt"`
	Labels     map[string]string `json:"Labels"`
	Options    map[string]string `json:"Options"`
	Scope      string            `json:"Scope"`
}

type volumeListResponse struct {
	Volumes  []volumeResource `json:"Volumes"`
	Warnings []string         `json:"Warnings"`
}

type execInspect struct {
	ID            string            `json:"ID"`
	ContainerID   string            `json:"ContainerID"`
	Running       bool              `json:"Running"`
	ExitCode      int               `json:"ExitCode"`
	OpenStdin     bool              `json:"OpenStdin"`
	OpenStdout    bool              `json:"OpenStdout"`
	OpenStderr    bool              `json:"OpenStderr"`
	Pid           int               `json:"Pid"`
	ProcessConfig execProcessConfig `json:"ProcessConfig"`
}

type execProcessConfig struct {
	Tty        bool     `json:"tty"`
	Entrypoint string   `json:"entrypoint"`
	Arguments  []string `json:"arguments"`
}

// statsResponse carries the sub-objects Docker CLI's stats templates index
// into unconditionally; the ones vesseld's runtime contract cannot fill
// (blkio, pids) are present and zeroed rather than omitted.
type statsResponse struct {
	Read        string                  `json:"read"`
	Preread     string                  `json:"preread"`
	CPUStats    cpuStats                `json:"cpu_stats"`
	PreCPUStats cpuStats                `json:"precpu_stats"`
	MemoryStats memoryStats             `json:"memory_stats"`
	BlkioStats  blkioStats              `json:"blkio_stats"`
	PidsStats   pidsStats               `json:"pids_stats"`
	Networks    map[string]networkStats `json:"networks"`
	Name        string                  `json:"name"`
	ID          string                  `json:"id"`
}

type cpuStats struct {
	CPUUsage       cpuUsage `json:"cpu_usage"`
	SystemCPUUsage uint64   `json:"system_cpu_usage"`
	OnlineCPUs     uint32   `json:"online_cpus"`
}

type cpuUsage struct {
	TotalUsage        uint64 `json:"total_usage"`
	UsageInKernelmode uint64 `json:"usage_in_kernelmode"`
	UsageInUsermode   uint64 `json:"usage_in_usermode"`
}

type memoryStats struct {
	Usage uint64 `json:"usage"`
	Limit uint64 `json:"limit"`
}

type blkioStats struct {
	IoServiceBytesRecursive []struct{} `json:"io_service_bytes_recursive"`
}

type pidsStats struct {
	Current uint64 `json:"current"`
}

type networkStats struct {
	RxBytes uint64 `json:"rx_bytes"`
	TxBytes uint64 `json:"tx_bytes"`
}

// ---- converters ----

func commandString(c *types.Container) string {
	parts := append(append([]string{}, c.Entrypoint...), c.Cmd...)
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += " "
		}
		out += p
	}
	return out
}

// statusString renders the human state column docker ps shows.
func statusString(c *types.Container) string {
	switch c.Phase {
	case types.PhaseRunning:
		return fmt.Sprintf("Up %s", units.HumanDuration(time.Since(c.StartedAt)))
	case types.PhasePaused:
		return fmt.Sprintf("Up %s (Paused)", units.HumanDuration(time.Since(c.StartedAt)))
	case types.PhaseExited:
		return fmt.Sprintf("Exited (%d) %s ago", c.ExitCode, units.HumanDuration(time.Since(c.FinishedAt)))
	case types.PhaseCreated:
		return "Created"
	case types.PhaseRestarting:
		return fmt.Sprintf("Restarting (%d) %s ago", c.ExitCode, units.HumanDuration(time.Since(c.FinishedAt)))
	case types.PhaseDead:
		return "Dead"
	default:
		return string(c.Phase)
	}
}

func toMountPoints(mounts []*types.Mount) []mountPoint {
	out := make([]mountPoint, 0, len(mounts))
	for _, mnt := range mounts {
		mode := "rw"
		if mnt.ReadOnly {
			mode = "ro"
		}
		mp := mountPoint{
			Type:        string(mnt.Type),
			Source:      mnt.Source,
			Destination: mnt.Target,
			Mode:        mode,
			RW:          !mnt.ReadOnly,
			Propagation: mnt.Propagation,
		}
		if mnt.Type == types.MountTypeVolume {
			mp.Name = mnt.VolumeName
			mp.Driver = "local"
		}
		out = append(out, mp)
	}
	return out
}

func toEndpoints(c *types.Container) *summaryNetworkSettings {
	if c.NetworkConfig == nil || len(c.NetworkConfig.EndpointsConfig) == 0 {
		return &summaryNetworkSettings{Networks: map[string]*endpointResource{}}
	}
	out := make(map[string]*endpointResource, len(c.NetworkConfig.EndpointsConfig))
	for name, ep := range c.NetworkConfig.EndpointsConfig {
		if ep == nil {
			continue
		}
		out[name] = &endpointResource{
			NetworkID:   ep.NetworkID,
			EndpointID:  ep.EndpointID,
			Gateway:     ep.Gateway,
			IPAddress:   ep.IPAddress,
			IPPrefixLen: ep.IPPrefixLen,
			MacAddress:  ep.MacAddress,
			Aliases:     ep.Aliases,
		}
	}
	return &summaryNetworkSettings{Networks: out}
}

func toPortSummaries(mappings []*types.PortMapping) []portSummary {
	out := make([]portSummary, 0, len(mappings))
	for _, pm := range mappings {
		out = append(out, portSummary{
			IP:          pm.HostIP,
			PrivatePort: pm.ContainerPort,
			PublicPort:  pm.HostPort,
			Type:        pm.Proto,
		})
	}
	return out
}

func toContainerSummary(c *types.Container, ports []*types.PortMapping) containerSummary {
	return containerSummary{
		Id:              c.ID,
		Names:           []string{"/" + c.Name},
		Image:           c.Image,
		ImageID:         c.ImageID,
		Command:         commandString(c),
		Created:         c.CreatedAt.Unix(),
		State:           string(c.Phase),
		Status:          statusString(c),
		Ports:           toPortSummaries(ports),
		Labels:          c.Labels,
		NetworkSettings: toEndpoints(c),
		Mounts:          toMountPoints(c.Mounts),
	}
}

func toHealthResource(h *types.HealthState) *healthResource {
	if h == nil {
		return nil
	}
	out := &healthResource{Status: string(h.Status), FailingStreak: h.FailingStreak}
	for _, e := range h.Log {
		out.Log = append(out.Log, healthLogEntry{
			Start:    e.Start.Format(time.RFC3339Nano),
			End:      e.End.Format(time.RFC3339Nano),
			ExitCode: e.ExitCode,
			Output:   e.Output,
		})
	}
	return out
}

func dockerTime(t time.Time) string {
	if t.IsZero() {
		return "0001-01-01T00:00:00Z"
	}
	return t.Format(time.RFC3339Nano)
}

func toContainerInspect(c *types.Container) containerInspect {
	path := ""
	var args []string
	full := append(append([]string{}, c.Entrypoint...), c.Cmd...)
	if len(full) > 0 {
		path = full[0]
		args = full[1:]
	}

	hc := hostConfigResource{NetworkMode: "default", PortBindings: map[string][]portBind{}, RestartPolicy: restartPolicyResource{Name: "no"}}
	if c.HostConfig != nil {
		if c.HostConfig.NetworkMode != "" {
			hc.NetworkMode = c.HostConfig.NetworkMode
		}
		for spec, binds := range c.HostConfig.PortBindings {
			for _, b := range binds {
				hc.PortBindings[spec] = append(hc.PortBindings[spec], portBind{HostIp: b.HostIP, HostPort: b.HostPort})
			}
		}
		hc.Memory = c.HostConfig.Resources.Memory
		hc.MemorySwap = c.HostConfig.Resources.MemorySwap
		hc.NanoCpus = c.HostConfig.Resources.NanoCPUs
		hc.CpuShares = c.HostConfig.Resources.CPUShares
	}
	if c.RestartPolicy != nil {
		hc.RestartPolicy = restartPolicyResource{
			Name:              string(c.RestartPolicy.Name),
			MaximumRetryCount: c.RestartPolicy.MaximumRetryCount,
		}
	}

	return containerInspect{
		Id:      c.ID,
		Created: dockerTime(c.CreatedAt),
		Path:    path,
		Args:    args,
		State: containerState{
			Status:     string(c.Phase),
			Running:    c.Phase == types.PhaseRunning,
			Paused:     c.Phase == types.PhasePaused,
			Restarting: c.Phase == types.PhaseRestarting,
			OOMKilled:  c.OOMKilled,
			Dead:       c.Phase == types.PhaseDead,
			Pid:        c.Pid,
			ExitCode:   c.ExitCode,
			Error:      c.Error,
			StartedAt:  dockerTime(c.StartedAt),
			FinishedAt: dockerTime(c.FinishedAt),
			Health:     toHealthResource(c.Health),
		},
		Image:        c.ImageID,
		Name:         "/" + c.Name,
		RestartCount: c.RestartSeq - 1,
		Platform:     "linux",
		Driver:       "vm",
		Config: containerConfig{
			Hostname:   shortID(c.ID),
			User:       c.User,
			Tty:        c.Tty,
			OpenStdin:  c.OpenStdin,
			Env:        c.Env,
			Cmd:        c.Cmd,
			Entrypoint: c.Entrypoint,
			Image:      c.Image,
			WorkingDir: c.WorkingDir,
			Labels:     c.Labels,
		},
		HostConfig:      hc,
		NetworkSettings: toEndpoints(c),
		Mounts:          toMountPoints(c.Mounts),
	}
}

func toImageSummary(img *types.Image) imageSummary {
	return imageSummary{
		Id:          img.ID,
		RepoTags:    img.RepoTags,
		RepoDigests: img.RepoDigests,
		Created:     img.CreatedAt.Unix(),
		Size:        img.Size,
		VirtualSize: img.Size,
		Labels:      img.Labels,
		Containers:  -1,
	}
}

func toNetworkResource(n *types.Network, containers map[string]networkContainerEntry) networkResource {
	res := networkResource{
		Name:       n.Name,
		Id:         n.ID,
		Created:    dockerTime(n.CreatedAt),
		Scope:      "local",
		Driver:     n.Driver,
		Internal:   n.Internal,
		Attachable: n.Attachable,
		IPAM:       ipamResource{Driver: "default"},
		Containers: containers,
		Labels:     n.Labels,
	}
	if res.Containers == nil {
		res.Containers = map[string]networkContainerEntry{}
	}
	if n.Subnet != "" {
		res.IPAM.Config = []ipamConfigEntry{{Subnet: n.Subnet, Gateway: n.Gateway}}
	}
	return res
}

func toVolumeResource(v *types.Volume) volumeResource {
	return volumeResource{
		Name:       v.Name,
		Driver:     v.Driver,
		Mountpoint: v.MountPoint,
		CreatedAt:  dockerTime(v.CreatedAt),
		Labels:     v.Labels,
		Options:    v.Options,
		Scope:      "local",
	}
}

func toExecInspect(e *types.ExecInstance) execInspect {
	entrypoint := ""
	var args []string
	if len(e.Cmd) > 0 {
		entrypoint = e.Cmd[0]
		args = e.Cmd[1:]
	}
	return execInspect{
		ID:          e.ID,
		ContainerID: e.ContainerID,
		Running:     e.Running,
		ExitCode:    e.ExitCode,
		OpenStdin:   e.AttachStdin,
		OpenStdout:  true,
		OpenStderr:  !e.Tty,
		Pid:         e.Pid,
		ProcessConfig: execProcessConfig{
			Tty:        e.Tty,
			Entrypoint: entrypoint,
			Arguments:  args,
		},
	}
}

func toStatsResponse(c *types.Container, s runtime.Stats, prev runtime.Stats) statsResponse {
	return statsResponse{
		Read:    dockerTime(s.SampledAt),
		Preread: dockerTime(prev.SampledAt),
		CPUStats: cpuStats{
			CPUUsage:   cpuUsage{TotalUsage: s.CPUUsageNanos},
			OnlineCPUs: 1,
		},
		PreCPUStats: cpuStats{
			CPUUsage: cpuUsage{TotalUsage: prev.CPUUsageNanos},
		},
		MemoryStats: memoryStats{Usage: s.MemoryUsage, Limit: s.MemoryLimit},
		BlkioStats:  blkioStats{IoServiceBytesRecursive: []struct{}{}},
		Networks: map[string]networkStats{
			"eth0": {RxBytes: s.NetworkRxBytes, TxBytes: s.NetworkTxBytes},
		},
		Name: "/" + c.Name,
		ID:   c.ID,
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
