package runtime

import (
	"context"
	"io"
	"time"

	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// VMSpec describes the micro-VM a container should run inside.
type VMSpec struct {
	ContainerID string
	Image       string
	Cmd         []string
	Entrypoint  []string
	Env         []string
	WorkingDir  string
	User        string
	Tty         bool
	OpenStdin   bool
	Mounts      []specs.Mount
	Resources   *specs.LinuxResources
	Hostname    string
}

// StdIO carries the byte streams Start should wire to a VM's init process.
// Any field may be nil; a nil Stdout/Stderr means that stream is discarded,
// and a nil Stdin means the process starts with stdin already closed.
type StdIO struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// WaitResult is what Wait reports once a VM's init process has exited.
type WaitResult struct {
	ExitCode  int
	OOMKilled bool
	Err       error
}

// ExecSpec describes a one-off process to run inside an already-running VM.
type ExecSpec struct {
	Cmd       []string
	Env       []string
	Tty       bool
	Stdin     io.Reader
	Stdout    io.Writer
	Stderr    io.Writer
	OnStarted func(pid int)
}

// Runtime is the collaborator interface implemented by an adapter over the
// external VM/container framework. Every method is expected to be safe for
// concurrent use across different VMIDs; a given VMID is never addressed
// concurrently by more than one caller because pkg/container serializes
// per-container operations upstream of this interface.
type Runtime interface {
	// CreateVM provisions (but does not start) a micro-VM for spec and
	// returns an opaque handle used by every subsequent call.
	CreateVM(ctx context.Context, spec VMSpec) (vmID string, err error)

	// Start boots vmID's init process, wiring its stdio to io.
	Start(ctx context.Context, vmID string, io StdIO) error

	// Signal delivers a unix signal to vmID's init process.
	Signal(ctx context.Context, vmID string, sig int) error

	// Wait blocks until vmID's init process exits, or ctx is cancelled.
	Wait(ctx context.Context, vmID string) (WaitResult, error)

	// DialVsock opens a raw vsock connection to port inside vmID, used for
	// attach/exec stdio. The bridge-controller RPC client in pkg/network
	// dials its own vsock connection instead.
	DialVsock(ctx context.Context, vmID string, port uint32) (io.ReadWriteCloser, error)

	// ExecIn runs a one-off process inside an already-running vmID.
	ExecIn(ctx context.Context, vmID string, spec ExecSpec) (pid int, wait func() (int, error), err error)

	// Destroy tears down vmID and reclaims its resources. Safe to call on a
	// VM that was never started.
	Destroy(ctx context.Context, vmID string) error
}

// Stats is the narrow resource-usage snapshot the runtime reports back for
// the `/containers/{id}/stats` endpoint.
type Stats struct {
	CPUUsageNanos  uint64
	MemoryUsage    uint64
	MemoryLimit    uint64
	NetworkRxBytes uint64
	NetworkTxBytes uint64
	SampledAt      time.Time
}

// StatsRuntime is implemented by adapters that can sample resource usage.
// Not every backend supports this; callers type-assert for it.
type StatsRuntime interface {
	Stats(ctx context.Context, vmID string) (Stats, error)
}

// ResizeRuntime is implemented by adapters that can resize a TTY belonging
// to vmID's main process or one of its exec'd processes (identified by
// pid). Only meaningful when the process was started with Tty set; callers
// type-assert for it and silently ignore resize requests against a backend
// that doesn't support it.
type ResizeRuntime interface {
	Resize(ctx context.Context, vmID string, pid int, cols, rows uint16) error
}
