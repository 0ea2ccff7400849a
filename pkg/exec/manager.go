package exec

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vesseld/vesseld/pkg/runtime"
	"github.com/vesseld/vesseld/pkg/types"
)

// instance is the live, in-memory bookkeeping for one exec session. Unlike
// ContainerManager's records, these never touch the state store: an exec
// instance that outlives its parent container is meaningless, and one
// bound to a still-running container does not survive a daemon restart
// either, since its VM dies with the daemon, so persisting it would only be
// a stale write.
type instance struct {
	mu   sync.Mutex
	rec  *types.ExecInstance
	vmID string
}

// Manager is the ExecManager: it hands out exec ids bound to a running
// container's VM, starts them via the runtime collaborator with TTY or
// multiplexed stdio, and tracks their live/exit state for inspect.
type Manager struct {
	mu          sync.RWMutex
	runtime     runtime.Runtime
	instances   map[string]*instance
	byContainer map[string]map[string]bool
}

// NewManager wires a Manager against rt.
func NewManager(rt runtime.Runtime) *Manager {
	return &Manager{
		runtime:     rt,
		instances:   make(map[string]*instance),
		byContainer: make(map[string]map[string]bool),
	}
}

// Create registers a new exec instance bound to containerID/vmID and
// returns its id. It does not start the process; Start does that.
func (m *Manager) Create(containerID, vmID string, cmd, env []string, tty, attachStdin bool) (*types.ExecInstance, error) {
	rec := &types.ExecInstance{
		ID:          uuid.NewString(),
		ContainerID: containerID,
		Cmd:         cmd,
		Env:         env,
		Tty:         tty,
		AttachStdin: attachStdin,
		CreatedAt:   time.Now(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.instances[rec.ID] = &instance{rec: rec, vmID: vmID}
	if m.byContainer[containerID] == nil {
		m.byContainer[containerID] = make(map[string]bool)
	}
	m.byContainer[containerID][rec.ID] = true
	return rec, nil
}

// Start spawns execID's process inside its container's VM, wiring stdin/
// stdout/stderr directly to the caller-supplied streams (the raw-stream
// upgrader owns framing; Manager just pumps bytes through to the runtime).
// It blocks until the process exits, records its exit code for Inspect,
// and returns the runtime's wait error, if any.
func (m *Manager) Start(ctx context.Context, execID string, stdin io.Reader, stdout, stderr io.Writer) error {
	inst, err := m.get(execID)
	if err != nil {
		return err
	}

	inst.mu.Lock()
	if inst.rec.Running {
		inst.mu.Unlock()
		return fmt.Errorf("exec: %s already started", execID)
	}
	inst.mu.Unlock()

	pid, wait, err := m.runtime.ExecIn(ctx, inst.vmID, runtime.ExecSpec{
		Cmd:    inst.rec.Cmd,
		Env:    inst.rec.Env,
		Tty:    inst.rec.Tty,
		Stdin:  stdin,
		Stdout: stdout,
		Stderr: stderr,
		OnStarted: func(pid int) {
			inst.mu.Lock()
			inst.rec.Pid = pid
			inst.rec.Running = true
			inst.mu.Unlock()
		},
	})
	if err != nil {
		return fmt.Errorf("exec: start %s: %w", execID, err)
	}
	_ = pid

	code, err := wait()
	inst.mu.Lock()
	inst.rec.Running = false
	inst.rec.ExitCode = code
	inst.mu.Unlock()
	return err
}

// Resize adjusts execID's TTY dimensions. It is an error when the instance
// is not a running TTY session, and a no-op (not an error) when the
// underlying runtime doesn't support resize.
func (m *Manager) Resize(ctx context.Context, execID string, cols, rows uint16) error {
	inst, err := m.get(execID)
	if err != nil {
		return err
	}
	inst.mu.Lock()
	tty := inst.rec.Tty
	pid := inst.rec.Pid
	running := inst.rec.Running
	vmID := inst.vmID
	inst.mu.Unlock()

	if !tty || !running {
		return fmt.Errorf("exec: %s is not an active tty session", execID)
	}
	rr, ok := m.runtime.(runtime.ResizeRuntime)
	if !ok {
		return nil
	}
	return rr.Resize(ctx, vmID, pid, cols, rows)
}

// Inspect returns a snapshot of execID's current state.
func (m *Manager) Inspect(execID string) (*types.ExecInstance, error) {
	inst, err := m.get(execID)
	if err != nil {
		return nil, err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	cp := *inst.rec
	return &cp, nil
}

// PurgeForContainer drops every exec instance bound to containerID. Called
// when a container stops, is removed, or is found stopped on daemon
// startup recovery, matching Docker's "purged on daemon restart for
// stopped containers" rule.
func (m *Manager) PurgeForContainer(containerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.byContainer[containerID] {
		delete(m.instances, id)
	}
	delete(m.byContainer, containerID)
}

func (m *Manager) get(execID string) (*instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[execID]
	if !ok {
		return nil, fmt.Errorf("exec: no such exec instance %s", execID)
	}
	return inst, nil
}
