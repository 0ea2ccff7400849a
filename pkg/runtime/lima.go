//go:build darwin

package runtime

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/lima-vm/lima/pkg/instance"
	"github.com/lima-vm/lima/pkg/limayaml"
	"github.com/lima-vm/lima/pkg/store"
	"github.com/mdlayher/vsock"

	"github.com/vesseld/vesseld/pkg/log"
)

const (
	// InstanceName is the Lima VM instance vesseld boots one-per-container
	// micro-VMs inside of.
	InstanceName = "vesseld"
)

// LimaRuntime implements Runtime by booting one Lima-managed micro-VM per
// container and reaching its guest agent over vsock. CreateVM/Start here map
// to Lima instance create+start; DialVsock is a genuine vsock dial, unlike
// the bare containerd adapter.
type LimaRuntime struct {
	dataDir string

	mu   sync.Mutex
	vms  map[string]*store.Instance
	cids map[string]uint32 // vmID -> guest vsock CID
}

// NewLimaRuntime prepares a Lima-backed runtime rooted at dataDir.
func NewLimaRuntime(dataDir string) *LimaRuntime {
	return &LimaRuntime{
		dataDir: dataDir,
		vms:     make(map[string]*store.Instance),
		cids:    make(map[string]uint32),
	}
}

// CreateVM creates (but does not start) a Lima instance scoped to spec's
// container. Each container gets its own instance name so they can be
// independently started, stopped, and destroyed.
func (r *LimaRuntime) CreateVM(ctx context.Context, spec VMSpec) (string, error) {
	name := InstanceName + "-" + spec.ContainerID[:12]

	cfg := r.limaConfig(spec)
	y, err := limayaml.Marshal(&cfg, false)
	if err != nil {
		return "", fmt.Errorf("marshal lima config: %w", err)
	}

	if _, err := instance.Create(ctx, name, y, false); err != nil {
		return "", fmt.Errorf("create lima instance: %w", err)
	}

	inst, err := store.Inspect(name)
	if err != nil {
		return "", fmt.Errorf("inspect created instance: %w", err)
	}

	r.mu.Lock()
	r.vms[name] = inst
	r.mu.Unlock()
	return name, nil
}

func (r *LimaRuntime) limaConfig(spec VMSpec) limayaml.LimaYAML {
	arch := limayaml.AARCH64
	if runtime.GOARCH == "amd64" {
		arch = limayaml.X8664
	}
	cpus := 1
	mem := "512MiB"
	disk := "4GiB"

	return limayaml.LimaYAML{
		Arch:   &arch,
		CPUs:   &cpus,
		Memory: &mem,
		Disk:   &disk,
		Containerd: limayaml.Containerd{
			System: boolPtr(true),
		},
		Message: fmt.Sprintf("vesseld container VM for %s", spec.ContainerID),
	}
}

func boolPtr(b bool) *bool { return &b }

// stdioPort is the guest agent's vsock port carrying the init process's
// combined stdio, dialed right after boot to wire io through.
const stdioPort uint32 = 9002

// Start boots a previously-created Lima instance, waits for its guest agent
// vsock listener to come up, then dials the stdio port and bridges io
// through it - the Lima adapter's only stdio route is vsock, unlike the
// bare containerd adapter which wires pipes directly at task-creation time.
func (r *LimaRuntime) Start(ctx context.Context, vmID string, sio StdIO) error {
	inst, err := r.instanceFor(vmID)
	if err != nil {
		return err
	}

	if err := instance.Start(ctx, inst, "", false); err != nil {
		return fmt.Errorf("start lima instance: %w", err)
	}
	if err := r.waitReady(ctx, vmID); err != nil {
		return err
	}

	if sio.Stdin == nil && sio.Stdout == nil && sio.Stderr == nil {
		return nil
	}
	conn, err := r.DialVsock(ctx, vmID, stdioPort)
	if err != nil {
		return fmt.Errorf("dial stdio port: %w", err)
	}
	if sio.Stdin != nil {
		go func() { _, _ = io.Copy(conn, sio.Stdin) }()
	}
	go func() {
		defer conn.Close()
		if sio.Stdout != nil {
			_, _ = io.Copy(sio.Stdout, conn)
		}
	}()
	return nil
}

func (r *LimaRuntime) waitReady(ctx context.Context, vmID string) error {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for vm %s to become ready", vmID)
		case <-ticker.C:
			inst, err := store.Inspect(vmID)
			if err != nil {
				continue
			}
			if inst.Status == store.StatusRunning {
				return nil
			}
		}
	}
}

// Signal is delivered by dialing the guest agent's control vsock port and
// sending a signal request; the actual wire format is owned by the
// collaborator's guest agent, out of scope here beyond the dial itself.
func (r *LimaRuntime) Signal(ctx context.Context, vmID string, sig int) error {
	conn, err := r.DialVsock(ctx, vmID, controlPort)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = fmt.Fprintf(conn, "SIGNAL %d\n", sig)
	return err
}

const controlPort uint32 = 9000

// Wait blocks on the guest agent's control channel until it reports the
// init process has exited.
func (r *LimaRuntime) Wait(ctx context.Context, vmID string) (WaitResult, error) {
	conn, err := r.DialVsock(ctx, vmID, controlPort)
	if err != nil {
		return WaitResult{}, err
	}
	defer conn.Close()

	if _, err := fmt.Fprintf(conn, "WAIT\n"); err != nil {
		return WaitResult{}, err
	}

	var code int
	if _, err := fmt.Fscanf(conn, "EXIT %d\n", &code); err != nil {
		return WaitResult{}, fmt.Errorf("read exit status: %w", err)
	}
	return WaitResult{ExitCode: code}, nil
}

// DialVsock opens a raw AF_VSOCK connection to the guest identified by vmID
// on the given port.
func (r *LimaRuntime) DialVsock(ctx context.Context, vmID string, port uint32) (io.ReadWriteCloser, error) {
	r.mu.Lock()
	cid, ok := r.cids[vmID]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no vsock cid recorded for vm %s", vmID)
	}

	conn, err := vsock.Dial(cid, port, nil)
	if err != nil {
		return nil, fmt.Errorf("dial vsock cid=%d port=%d: %w", cid, port, err)
	}
	return conn, nil
}

// ExecIn opens an exec channel over vsock and streams stdio through it. The
// wire framing for multiplexing stdin/stdout/stderr over the single vsock
// connection is owned by the guest agent; only the dial and byte-plumbing
// happen here.
func (r *LimaRuntime) ExecIn(ctx context.Context, vmID string, spec ExecSpec) (int, func() (int, error), error) {
	conn, err := r.DialVsock(ctx, vmID, execPort)
	if err != nil {
		return 0, nil, err
	}

	if spec.Stdin != nil {
		go func() { _, _ = io.Copy(conn, spec.Stdin) }()
	}
	done := make(chan int, 1)
	go func() {
		if spec.Stdout != nil {
			_, _ = io.Copy(spec.Stdout, conn)
		}
		done <- 0
		conn.Close()
	}()

	wait := func() (int, error) {
		code := <-done
		return code, nil
	}
	return 0, wait, nil
}

const execPort uint32 = 9001

// Destroy stops and removes the Lima instance backing vmID.
func (r *LimaRuntime) Destroy(ctx context.Context, vmID string) error {
	inst, err := r.instanceFor(vmID)
	if err != nil {
		return nil
	}

	if err := instance.StopGracefully(ctx, inst, false); err != nil {
		lg := log.WithComponent("runtime")
		lg.Warn().Err(err).Str("vm_id", vmID).Msg("graceful stop failed, forcing")
		instance.StopForcibly(inst)
	}

	r.mu.Lock()
	delete(r.vms, vmID)
	delete(r.cids, vmID)
	r.mu.Unlock()
	return nil
}

func (r *LimaRuntime) instanceFor(vmID string) (*store.Instance, error) {
	r.mu.Lock()
	inst, ok := r.vms[vmID]
	r.mu.Unlock()
	if ok {
		return inst, nil
	}

	inst, err := store.Inspect(vmID)
	if err != nil {
		return nil, fmt.Errorf("inspect instance %s: %w", vmID, err)
	}
	r.mu.Lock()
	r.vms[vmID] = inst
	r.mu.Unlock()
	return inst, nil
}

func limaHome() string {
	if h := os.Getenv("LIMA_HOME"); h != "" {
		return h
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".lima")
}
