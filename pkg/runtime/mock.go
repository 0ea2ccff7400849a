package runtime

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
)

// Mock is an in-memory Runtime used by manager-level tests so they don't
// need a real containerd or Lima instance. It models each VM as a simple
// state machine (created -> started -> exited) and lets tests control exit
// codes and timing explicitly.
type Mock struct {
	mu      sync.Mutex
	vms     map[string]*mockVM
	Execs   []ExecSpec // records every ExecIn call for assertions
	Resizes []ResizeCall
}

// ResizeCall records a single Resize invocation for test assertions.
type ResizeCall struct {
	VMID       string
	Pid        int
	Cols, Rows uint16
}

type mockVM struct {
	spec      VMSpec
	started   bool
	exitC     chan WaitResult
	destroyed bool
}

// NewMock returns a ready-to-use Mock runtime.
func NewMock() *Mock {
	return &Mock{vms: make(map[string]*mockVM)}
}

func (m *Mock) CreateVM(ctx context.Context, spec VMSpec) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := "vm-" + uuid.NewString()
	m.vms[id] = &mockVM{spec: spec, exitC: make(chan WaitResult, 1)}
	return id, nil
}

func (m *Mock) Start(ctx context.Context, vmID string, sio StdIO) error {
	m.mu.Lock()
	vm, ok := m.vms[vmID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("mock: unknown vm %s", vmID)
	}
	vm.started = true

	if sio.Stdout != nil {
		fmt.Fprintf(sio.Stdout, "mock: started %s\n", vmID)
	}
	return nil
}

func (m *Mock) Signal(ctx context.Context, vmID string, sig int) error {
	m.mu.Lock()
	vm, ok := m.vms[vmID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("mock: unknown vm %s", vmID)
	}
	if sig == 15 || sig == 9 {
		select {
		case vm.exitC <- WaitResult{ExitCode: 137}:
		default:
		}
	}
	return nil
}

func (m *Mock) Wait(ctx context.Context, vmID string) (WaitResult, error) {
	m.mu.Lock()
	vm, ok := m.vms[vmID]
	m.mu.Unlock()
	if !ok {
		return WaitResult{}, fmt.Errorf("mock: unknown vm %s", vmID)
	}

	select {
	case res := <-vm.exitC:
		return res, nil
	case <-ctx.Done():
		return WaitResult{}, ctx.Err()
	}
}

// Exit lets a test simulate vmID's init process exiting with code.
func (m *Mock) Exit(vmID string, code int) {
	m.mu.Lock()
	vm, ok := m.vms[vmID]
	m.mu.Unlock()
	if !ok {
		return
	}
	select {
	case vm.exitC <- WaitResult{ExitCode: code}:
	default:
	}
}

func (m *Mock) DialVsock(ctx context.Context, vmID string, port uint32) (io.ReadWriteCloser, error) {
	return nil, fmt.Errorf("mock: vsock dial not supported")
}

func (m *Mock) ExecIn(ctx context.Context, vmID string, spec ExecSpec) (int, func() (int, error), error) {
	m.mu.Lock()
	_, ok := m.vms[vmID]
	m.Execs = append(m.Execs, spec)
	m.mu.Unlock()
	if !ok {
		return 0, nil, fmt.Errorf("mock: unknown vm %s", vmID)
	}

	if spec.OnStarted != nil {
		spec.OnStarted(1)
	}
	return 1, func() (int, error) { return 0, nil }, nil
}

// Resize records the resize request so tests can assert on it.
func (m *Mock) Resize(ctx context.Context, vmID string, pid int, cols, rows uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Resizes = append(m.Resizes, ResizeCall{VMID: vmID, Pid: pid, Cols: cols, Rows: rows})
	return nil
}

func (m *Mock) Destroy(ctx context.Context, vmID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if vm, ok := m.vms[vmID]; ok {
		vm.destroyed = true
	}
	return nil
}
