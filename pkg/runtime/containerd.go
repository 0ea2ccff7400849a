package runtime

import (
	"context"
	"fmt"
	"io"
	"sync"
	"syscall"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/vesseld/vesseld/pkg/log"
)

const (
	// Namespace is the containerd namespace vesseld uses, keeping its
	// containers isolated from anything else sharing the same containerd.
	Namespace = "vesseld"

	// DefaultSocketPath is where the in-guest containerd instance is
	// expected to listen once a micro-VM is reachable.
	DefaultSocketPath = "/run/containerd/containerd.sock"
)

// ContainerdRuntime implements Runtime against an in-guest containerd,
// reached over the vsock connection a VMSpec's guest network plumbing
// establishes at boot. It treats "VM" and "containerd container+task" as the
// same unit: CreateVM provisions the containerd container, Start starts its
// task.
type ContainerdRuntime struct {
	client *containerd.Client

	mu        sync.Mutex
	tasks     map[string]containerd.Task
	resizable map[int]resizer // pid -> task or exec process, for Resize
}

// resizer is the subset of containerd.Task/containerd.Process this runtime
// needs for TTY resize, satisfied by both.
type resizer interface {
	Resize(ctx context.Context, w, h uint32) error
}

// Client exposes the underlying containerd connection so the image facade
// can share it instead of dialing a second time.
func (r *ContainerdRuntime) Client() *containerd.Client { return r.client }

// NewContainerdRuntime dials the containerd socket at socketPath. An empty
// socketPath uses DefaultSocketPath.
func NewContainerdRuntime(socketPath string) (*ContainerdRuntime, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}

	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to containerd: %w", err)
	}

	return &ContainerdRuntime{
		client:    client,
		tasks:     make(map[string]containerd.Task),
		resizable: make(map[int]resizer),
	}, nil
}

func (r *ContainerdRuntime) ns(ctx context.Context) context.Context {
	return namespaces.WithNamespace(ctx, Namespace)
}

// CreateVM pulls spec.Image if needed and creates a containerd container and
// snapshot for it; the task itself isn't started until Start is called.
func (r *ContainerdRuntime) CreateVM(ctx context.Context, spec VMSpec) (string, error) {
	ctx = r.ns(ctx)

	image, err := r.client.GetImage(ctx, spec.Image)
	if err != nil {
		image, err = r.client.Pull(ctx, spec.Image, containerd.WithPullUnpack)
		if err != nil {
			return "", fmt.Errorf("pull image %s: %w", spec.Image, err)
		}
	}

	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(spec.Env),
	}
	if spec.WorkingDir != "" {
		opts = append(opts, oci.WithProcessCwd(spec.WorkingDir))
	}
	if len(spec.Cmd) > 0 {
		opts = append(opts, oci.WithProcessArgs(spec.Cmd...))
	}
	if spec.Tty {
		opts = append(opts, oci.WithTTY)
	}
	if spec.Resources != nil {
		if cpu := spec.Resources.CPU; cpu != nil {
			if cpu.Shares != nil {
				opts = append(opts, oci.WithCPUShares(*cpu.Shares))
			}
			if cpu.Quota != nil && cpu.Period != nil {
				opts = append(opts, oci.WithCPUCFS(*cpu.Quota, *cpu.Period))
			}
		}
		if mem := spec.Resources.Memory; mem != nil && mem.Limit != nil {
			opts = append(opts, oci.WithMemoryLimit(uint64(*mem.Limit)))
		}
	}
	if len(spec.Mounts) > 0 {
		opts = append(opts, oci.WithMounts(spec.Mounts))
	}

	container, err := r.client.NewContainer(
		ctx,
		spec.ContainerID,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(spec.ContainerID+"-snapshot", image),
		containerd.WithNewSpec(opts...),
	)
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}

	return container.ID(), nil
}

// Start creates and starts the containerd task for vmID, wiring io directly
// to the task's stdio pipes - the bare containerd adapter has no vsock path
// of its own, unlike the Lima adapter, so this is its only stdio route.
func (r *ContainerdRuntime) Start(ctx context.Context, vmID string, io StdIO) error {
	ctx = r.ns(ctx)

	c, err := r.client.LoadContainer(ctx, vmID)
	if err != nil {
		return fmt.Errorf("load container %s: %w", vmID, err)
	}

	creator := cio.NullIO
	if io.Stdin != nil || io.Stdout != nil || io.Stderr != nil {
		creator = cio.NewCreator(cio.WithStreams(io.Stdin, io.Stdout, io.Stderr))
	}
	task, err := c.NewTask(ctx, creator)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	if err := task.Start(ctx); err != nil {
		return fmt.Errorf("start task: %w", err)
	}

	r.mu.Lock()
	r.tasks[vmID] = task
	r.resizable[int(task.Pid())] = task
	r.mu.Unlock()
	return nil
}

// Signal delivers sig to vmID's init process.
func (r *ContainerdRuntime) Signal(ctx context.Context, vmID string, sig int) error {
	ctx = r.ns(ctx)
	task, err := r.taskFor(ctx, vmID)
	if err != nil {
		return err
	}
	return task.Kill(ctx, syscall.Signal(sig))
}

// Wait blocks until vmID's task exits.
func (r *ContainerdRuntime) Wait(ctx context.Context, vmID string) (WaitResult, error) {
	ctx = r.ns(ctx)
	task, err := r.taskFor(ctx, vmID)
	if err != nil {
		return WaitResult{}, err
	}

	statusC, err := task.Wait(ctx)
	if err != nil {
		return WaitResult{}, fmt.Errorf("wait task: %w", err)
	}

	select {
	case status := <-statusC:
		return WaitResult{ExitCode: int(status.ExitCode()), Err: status.Error()}, nil
	case <-ctx.Done():
		return WaitResult{}, ctx.Err()
	}
}

// DialVsock is not implemented directly by the containerd adapter; vsock
// connectivity to a guest is brokered by the hypervisor layer (see the lima
// adapter on darwin). On a bare containerd backend stdio is wired through
// cio pipes instead, so this returns an error rather than faking a socket.
func (r *ContainerdRuntime) DialVsock(ctx context.Context, vmID string, port uint32) (io.ReadWriteCloser, error) {
	return nil, fmt.Errorf("vsock dial not supported by bare containerd runtime; use the lima adapter")
}

// ExecIn runs a one-off process inside vmID's running task.
func (r *ContainerdRuntime) ExecIn(ctx context.Context, vmID string, spec ExecSpec) (int, func() (int, error), error) {
	ctx = r.ns(ctx)
	task, err := r.taskFor(ctx, vmID)
	if err != nil {
		return 0, nil, err
	}

	pspec := &specs.Process{Args: spec.Cmd, Env: spec.Env, Terminal: spec.Tty, Cwd: "/"}
	execID := vmID + "-exec"
	process, err := task.Exec(ctx, execID, pspec, cio.NewCreator(cio.WithStreams(spec.Stdin, spec.Stdout, spec.Stderr)))
	if err != nil {
		return 0, nil, fmt.Errorf("exec: %w", err)
	}

	statusC, err := process.Wait(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("wait exec: %w", err)
	}
	if err := process.Start(ctx); err != nil {
		return 0, nil, fmt.Errorf("start exec: %w", err)
	}
	r.mu.Lock()
	r.resizable[int(process.Pid())] = process
	r.mu.Unlock()
	if spec.OnStarted != nil {
		spec.OnStarted(int(process.Pid()))
	}

	wait := func() (int, error) {
		status := <-statusC
		return int(status.ExitCode()), status.Error()
	}

	return int(process.Pid()), wait, nil
}

// Destroy kills and deletes vmID's task and container.
func (r *ContainerdRuntime) Destroy(ctx context.Context, vmID string) error {
	ctx = r.ns(ctx)

	c, err := r.client.LoadContainer(ctx, vmID)
	if err != nil {
		return nil // already gone
	}

	if task, terr := r.taskFor(ctx, vmID); terr == nil {
		_ = task.Kill(ctx, syscall.SIGKILL)
		if _, err := task.Delete(ctx); err != nil {
			lg := log.WithComponent("runtime")
			lg.Warn().Err(err).Str("vm_id", vmID).Msg("delete task")
		}
		r.mu.Lock()
		delete(r.tasks, vmID)
		r.mu.Unlock()
	}

	return c.Delete(ctx, containerd.WithSnapshotCleanup)
}

func (r *ContainerdRuntime) taskFor(ctx context.Context, vmID string) (containerd.Task, error) {
	r.mu.Lock()
	task, ok := r.tasks[vmID]
	r.mu.Unlock()
	if ok {
		return task, nil
	}

	c, err := r.client.LoadContainer(ctx, vmID)
	if err != nil {
		return nil, fmt.Errorf("load container %s: %w", vmID, err)
	}
	task, err = c.Task(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("load task %s: %w", vmID, err)
	}

	r.mu.Lock()
	r.tasks[vmID] = task
	r.mu.Unlock()
	return task, nil
}

// Resize changes the TTY dimensions of the process identified by pid,
// which may be vmID's main task or one of its exec'd processes.
func (r *ContainerdRuntime) Resize(ctx context.Context, vmID string, pid int, cols, rows uint16) error {
	r.mu.Lock()
	proc, ok := r.resizable[pid]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("resize: no resizable process with pid %d", pid)
	}
	return proc.Resize(r.ns(ctx), uint32(cols), uint32(rows))
}

// Close releases the underlying containerd client connection.
func (r *ContainerdRuntime) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}
