//go:build linux || darwin

package runtime

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/creack/pty"
	"github.com/google/uuid"
)

// ProcessRuntime implements Runtime by running each "VM" as a plain host
// process. There is no isolation whatsoever; it exists so the full
// attach/exec byte path - including real PTYs for TTY sessions - can be
// exercised on a developer machine or in tests with nothing but an OS.
type ProcessRuntime struct {
	mu    sync.Mutex
	procs map[string]*localProc
}

type localProc struct {
	spec    VMSpec
	cmd     *exec.Cmd
	ptyFile *os.File
	exitC   chan WaitResult
	started bool
}

// NewProcessRuntime returns an empty process-backed runtime.
func NewProcessRuntime() *ProcessRuntime {
	return &ProcessRuntime{procs: make(map[string]*localProc)}
}

func (r *ProcessRuntime) CreateVM(ctx context.Context, spec VMSpec) (string, error) {
	argv := append(append([]string{}, spec.Entrypoint...), spec.Cmd...)
	if len(argv) == 0 {
		return "", fmt.Errorf("local: no command to run")
	}

	id := "proc-" + uuid.NewString()
	r.mu.Lock()
	r.procs[id] = &localProc{spec: spec, exitC: make(chan WaitResult, 1)}
	r.mu.Unlock()
	return id, nil
}

func (r *ProcessRuntime) Start(ctx context.Context, vmID string, sio StdIO) error {
	r.mu.Lock()
	p, ok := r.procs[vmID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("local: unknown vm %s", vmID)
	}
	if p.started {
		return fmt.Errorf("local: %s already started", vmID)
	}

	argv := append(append([]string{}, p.spec.Entrypoint...), p.spec.Cmd...)
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = p.spec.Env
	cmd.Dir = p.spec.WorkingDir
	p.cmd = cmd

	if p.spec.Tty {
		f, err := pty.Start(cmd)
		if err != nil {
			return fmt.Errorf("local: start with pty: %w", err)
		}
		p.ptyFile = f
		if sio.Stdin != nil {
			go func() { _, _ = io.Copy(f, sio.Stdin) }()
		}
		go func() {
			if sio.Stdout != nil {
				_, _ = io.Copy(sio.Stdout, f)
			} else {
				_, _ = io.Copy(io.Discard, f)
			}
		}()
	} else {
		cmd.Stdin = sio.Stdin
		cmd.Stdout = sio.Stdout
		cmd.Stderr = sio.Stderr
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("local: start: %w", err)
		}
	}
	p.started = true

	go func() {
		err := cmd.Wait()
		code := 0
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else if err != nil {
			code = 1
		}
		if p.ptyFile != nil {
			p.ptyFile.Close()
		}
		p.exitC <- WaitResult{ExitCode: code}
	}()
	return nil
}

func (r *ProcessRuntime) Signal(ctx context.Context, vmID string, sig int) error {
	r.mu.Lock()
	p, ok := r.procs[vmID]
	r.mu.Unlock()
	if !ok || p.cmd == nil || p.cmd.Process == nil {
		return fmt.Errorf("local: %s is not running", vmID)
	}
	return p.cmd.Process.Signal(syscall.Signal(sig))
}

func (r *ProcessRuntime) Wait(ctx context.Context, vmID string) (WaitResult, error) {
	r.mu.Lock()
	p, ok := r.procs[vmID]
	r.mu.Unlock()
	if !ok {
		return WaitResult{}, fmt.Errorf("local: unknown vm %s", vmID)
	}
	select {
	case res := <-p.exitC:
		return res, nil
	case <-ctx.Done():
		return WaitResult{}, ctx.Err()
	}
}

func (r *ProcessRuntime) DialVsock(ctx context.Context, vmID string, port uint32) (io.ReadWriteCloser, error) {
	return nil, fmt.Errorf("local: vsock is not available for host processes")
}

func (r *ProcessRuntime) ExecIn(ctx context.Context, vmID string, spec ExecSpec) (int, func() (int, error), error) {
	r.mu.Lock()
	_, ok := r.procs[vmID]
	r.mu.Unlock()
	if !ok {
		return 0, nil, fmt.Errorf("local: unknown vm %s", vmID)
	}
	if len(spec.Cmd) == 0 {
		return 0, nil, fmt.Errorf("local: exec requires a command")
	}

	cmd := exec.CommandContext(ctx, spec.Cmd[0], spec.Cmd[1:]...)
	cmd.Env = spec.Env

	var ptyFile *os.File
	if spec.Tty {
		f, err := pty.Start(cmd)
		if err != nil {
			return 0, nil, fmt.Errorf("local: exec with pty: %w", err)
		}
		ptyFile = f
		if spec.Stdin != nil {
			go func() { _, _ = io.Copy(f, spec.Stdin) }()
		}
		go func() {
			if spec.Stdout != nil {
				_, _ = io.Copy(spec.Stdout, f)
			} else {
				_, _ = io.Copy(io.Discard, f)
			}
		}()
	} else {
		cmd.Stdin = spec.Stdin
		cmd.Stdout = spec.Stdout
		cmd.Stderr = spec.Stderr
		if err := cmd.Start(); err != nil {
			return 0, nil, fmt.Errorf("local: exec start: %w", err)
		}
	}

	pid := cmd.Process.Pid
	if spec.OnStarted != nil {
		spec.OnStarted(pid)
	}

	wait := func() (int, error) {
		err := cmd.Wait()
		if ptyFile != nil {
			ptyFile.Close()
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode(), nil
		}
		if err != nil {
			return 1, err
		}
		return 0, nil
	}
	return pid, wait, nil
}

// Resize adjusts the PTY window of a TTY session. Non-TTY processes have
// nothing to resize; for them it returns nil without doing anything.
func (r *ProcessRuntime) Resize(ctx context.Context, vmID string, pid int, cols, rows uint16) error {
	r.mu.Lock()
	p, ok := r.procs[vmID]
	r.mu.Unlock()
	if !ok || p.ptyFile == nil {
		return nil
	}
	return pty.Setsize(p.ptyFile, &pty.Winsize{Cols: cols, Rows: rows})
}

func (r *ProcessRuntime) Destroy(ctx context.Context, vmID string) error {
	r.mu.Lock()
	p, ok := r.procs[vmID]
	delete(r.procs, vmID)
	r.mu.Unlock()
	if ok && p.cmd != nil && p.cmd.Process != nil && p.started {
		_ = p.cmd.Process.Kill()
	}
	return nil
}
