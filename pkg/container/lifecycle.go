package container

import (
	"context"
	"io"
	"time"

	"github.com/docker/go-connections/nat"

	"github.com/vesseld/vesseld/pkg/apierror"
	"github.com/vesseld/vesseld/pkg/events"
	"github.com/vesseld/vesseld/pkg/log"
	"github.com/vesseld/vesseld/pkg/network"
	"github.com/vesseld/vesseld/pkg/runtime"
	"github.com/vesseld/vesseld/pkg/types"
)

// defaultStopTimeout mirrors dockerd's default grace period between SIGTERM
// and the follow-up SIGKILL on Stop.
const defaultStopTimeout = 10 * time.Second

// Start boots c's VM, publishing its ports, attaching its networks, wiring
// stdio through the logstore and any pre-registered attach session, and
// launching the exit monitor and healthcheck scheduler. Starting an
// already-running container is a conflict, matching dockerd.
func (m *Manager) Start(ctx context.Context, id string) error {
	return m.withLock(id, func() error {
		c, err := m.Get(id)
		if err != nil {
			return err
		}
		if c.Phase == types.PhaseRunning {
			return apierror.Conflict("container %s is already running", id)
		}

		if c.VMID == "" {
			vmID, err := m.rt.CreateVM(ctx, runtime.VMSpec{
				ContainerID: c.ID,
				Image:       c.ImageID,
				Cmd:         c.Cmd,
				Entrypoint:  c.Entrypoint,
				Env:         c.Env,
				WorkingDir:  c.WorkingDir,
				User:        c.User,
				Tty:         c.Tty,
				OpenStdin:   c.OpenStdin,
				Mounts:      toOCIMounts(c.Mounts),
				Resources:   toLinuxResources(c.HostConfig.Resources),
			})
			if err != nil {
				return apierror.Transient("recreate vm: %v", err)
			}
			c.VMID = vmID
		}

		if err := m.attachNetworks(c); err != nil {
			return err
		}
		if err := m.publishPorts(c); err != nil {
			return err
		}

		writer, err := m.logs.Writer(c.ID)
		if err != nil {
			return apierror.Internal("open log writer: %v", err)
		}

		live := &liveState{}
		m.liveMu.Lock()
		m.live[c.ID] = live
		if as, ok := m.pending[c.ID]; ok {
			live.attach = as
			delete(m.pending, c.ID)
		}
		m.liveMu.Unlock()

		stdout := newLinePump("stdout", writer, live)
		stderr := newLinePump("stderr", writer, live)

		var stdin io.Reader
		if live.attach != nil {
			stdin = live.attach.stdinRead
		}

		if err := m.rt.Start(ctx, c.VMID, runtime.StdIO{Stdin: stdin, Stdout: stdout, Stderr: stderr}); err != nil {
			writer.Close()
			return apierror.Transient("start vm: %v", err)
		}

		c.Phase = types.PhaseRunning
		c.StartedAt = time.Now()
		c.RestartSeq++
		if c.RestartPolicy != nil {
			c.RestartPolicy.ManualStop = false
		}
		if err := m.store.UpdateContainer(c); err != nil {
			return apierror.Internal("persist start: %v", err)
		}
		lg := log.WithContainerID(c.ID)
		lg.Info().Str("vm_id", c.VMID).Msg("container started")
		go m.stampChangesMarker(c.ID, c.VMID)

		monitorCtx, cancel := context.WithCancel(context.Background())
		live.cancel = cancel
		go m.monitor(monitorCtx, c.ID, writer)

		if c.HealthCheck != nil && len(c.HealthCheck.Test) > 0 && c.HealthCheck.Test[0] != "NONE" {
			healthCtx, hcancel := context.WithCancel(context.Background())
			m.liveMu.Lock()
			live.healthCancel = hcancel
			m.liveMu.Unlock()
			go m.runHealthScheduler(healthCtx, c.ID)
		}

		m.publish(events.TypeContainerStarted, c.ID)
		return nil
	})
}

func (m *Manager) attachNetworks(c *types.Container) error {
	requested := c.NetworkConfig
	if requested == nil || len(requested.EndpointsConfig) == 0 {
		n, err := m.net.Get(network.Bridge)
		if err != nil {
			return apierror.Internal("lookup default network: %v", err)
		}
		_, err = m.net.Attach(c.ID, n, "")
		if err != nil {
			return apierror.Transient("attach default network: %v", err)
		}
		return nil
	}
	for name, ep := range requested.EndpointsConfig {
		n, err := m.net.Get(name)
		if err != nil {
			return apierror.NotFound("network %s not found", name)
		}
		requestedIP := ""
		if ep != nil {
			requestedIP = ep.IPAddress
		}
		if _, err := m.net.Attach(c.ID, n, requestedIP); err != nil {
			return apierror.Transient("attach network %s: %v", name, err)
		}
	}
	return nil
}

func (m *Manager) publishPorts(c *types.Container) error {
	if c.HostConfig == nil {
		return nil
	}
	attachments, err := m.store.NetworkAttachments(c.ID)
	if err != nil {
		return apierror.Internal("load attachments: %v", err)
	}
	backendIP := ""
	for _, ep := range attachments {
		if ep != nil && ep.IPAddress != "" {
			backendIP = ep.IPAddress
			break
		}
	}
	if backendIP == "" {
		return nil
	}
	for portProto, bindings := range c.HostConfig.PortBindings {
		spec := nat.Port(portProto)
		for _, b := range bindings {
			hostPort, err := nat.ParsePort(b.HostPort)
			if err != nil {
				return apierror.Invalid("invalid host port %q for %s", b.HostPort, portProto)
			}
			if _, err := m.ports.Publish(c.ID, spec.Int(), spec.Proto(), b.HostIP, hostPort, backendIP); err != nil {
				return apierror.Transient("publish %s: %v", portProto, err)
			}
		}
	}
	return nil
}

// Stop sends SIGTERM, waits up to timeout (defaultStopTimeout if <= 0) for
// the container to exit on its own, then escalates to SIGKILL. Manual stop
// always sets RestartPolicy.ManualStop, which the exit monitor consults.
func (m *Manager) Stop(ctx context.Context, id string, timeout time.Duration) error {
	return m.withLock(id, func() error {
		c, err := m.Get(id)
		if err != nil {
			return err
		}
		if c.Phase != types.PhaseRunning && c.Phase != types.PhasePaused {
			return nil
		}
		if timeout <= 0 {
			timeout = defaultStopTimeout
		}

		if c.RestartPolicy != nil {
			c.RestartPolicy.ManualStop = true
			_ = m.store.UpdateContainer(c)
		}

		if err := m.rt.Signal(ctx, c.VMID, 15); err != nil {
			return apierror.Transient("signal term: %v", err)
		}

		exited := make(chan struct{})
		m.liveMu.Lock()
		live := m.live[c.ID]
		m.liveMu.Unlock()
		if live != nil && live.attach != nil {
			go func() {
				select {
				case <-live.attach.Done:
				case <-time.After(timeout):
				}
				close(exited)
			}()
		} else {
			go func() {
				deadline := time.Now().Add(timeout)
				for time.Now().Before(deadline) {
					if cur, err := m.Get(id); err == nil && (cur.Phase == types.PhaseExited || cur.Phase == types.PhaseDead) {
						break
					}
					time.Sleep(50 * time.Millisecond)
				}
				close(exited)
			}()
		}

		select {
		case <-exited:
		case <-ctx.Done():
			return ctx.Err()
		}

		c, _ = m.Get(id)
		if c.Phase == types.PhaseRunning {
			return m.killLocked(ctx, c, 9)
		}
		return nil
	})
}

// Kill delivers sig (a raw signal number) directly, without a grace period.
func (m *Manager) Kill(ctx context.Context, id string, sig int) error {
	return m.withLock(id, func() error {
		c, err := m.Get(id)
		if err != nil {
			return err
		}
		return m.killLocked(ctx, c, sig)
	})
}

// killLocked assumes the caller already holds c's per-container lock.
func (m *Manager) killLocked(ctx context.Context, c *types.Container, sig int) error {
	if c.Phase != types.PhaseRunning && c.Phase != types.PhasePaused {
		return apierror.Conflict("container %s is not running", c.ID)
	}
	if err := m.rt.Signal(ctx, c.VMID, sig); err != nil {
		return apierror.Transient("signal %d: %v", sig, err)
	}
	return nil
}

// Restart stops (if running) and starts c again.
func (m *Manager) Restart(ctx context.Context, id string, timeout time.Duration) error {
	c, err := m.Get(id)
	if err != nil {
		return err
	}
	if c.Phase == types.PhaseRunning || c.Phase == types.PhasePaused {
		if err := m.Stop(ctx, id, timeout); err != nil {
			return err
		}
	}
	return m.Start(ctx, id)
}

// Pause freezes c's processes. vesseld relies on the runtime collaborator's
// signal mechanism to deliver a freeze request; a genuine cgroup freezer is
// the hypervisor's responsibility on the other side of the VM boundary.
func (m *Manager) Pause(ctx context.Context, id string) error {
	return m.withLock(id, func() error {
		c, err := m.Get(id)
		if err != nil {
			return err
		}
		if c.Phase != types.PhaseRunning {
			return apierror.Conflict("container %s is not running", id)
		}
		if err := m.rt.Signal(ctx, c.VMID, 19); err != nil {
			return apierror.Transient("signal stop: %v", err)
		}
		c.Phase = types.PhasePaused
		return m.store.UpdateContainer(c)
	})
}

// Unpause resumes a paused container.
func (m *Manager) Unpause(ctx context.Context, id string) error {
	return m.withLock(id, func() error {
		c, err := m.Get(id)
		if err != nil {
			return err
		}
		if c.Phase != types.PhasePaused {
			return apierror.Conflict("container %s is not paused", id)
		}
		if err := m.rt.Signal(ctx, c.VMID, 18); err != nil {
			return apierror.Transient("signal cont: %v", err)
		}
		c.Phase = types.PhaseRunning
		return m.store.UpdateContainer(c)
	})
}

// Rename changes c's name, refusing a collision with another live container.
func (m *Manager) Rename(id, newName string) error {
	return m.withLock(id, func() error {
		c, err := m.Get(id)
		if err != nil {
			return err
		}
		if existing, err := m.store.GetContainerByName(newName); err == nil && existing != nil && existing.ID != c.ID {
			return apierror.Conflict("name %q is already in use by %s", newName, existing.ID)
		}
		c.Name = newName
		return m.store.UpdateContainer(c)
	})
}

// Update changes c's resource limits and/or restart policy. The new
// resource limits only take effect on the container's next start; vesseld
// has no live cgroup-update path through the fixed six-operation runtime
// contract.
func (m *Manager) Update(id string, resources *types.ResourceLimits, restartPolicy *types.RestartPolicy) error {
	return m.withLock(id, func() error {
		c, err := m.Get(id)
		if err != nil {
			return err
		}
		if resources != nil {
			c.HostConfig.Resources = *resources
		}
		if restartPolicy != nil {
			c.RestartPolicy = restartPolicy
			c.HostConfig.RestartPolicy = restartPolicy
		}
		return m.store.UpdateContainer(c)
	})
}

// Resize adjusts c's main process TTY dimensions, silently doing nothing if
// the runtime backend doesn't support resize.
func (m *Manager) Resize(ctx context.Context, id string, cols, rows uint16) error {
	c, err := m.Get(id)
	if err != nil {
		return err
	}
	if c.Phase != types.PhaseRunning {
		return apierror.Conflict("container %s is not running", id)
	}
	rr, ok := m.rt.(runtime.ResizeRuntime)
	if !ok {
		return nil
	}
	return rr.Resize(ctx, c.VMID, c.Pid, cols, rows)
}

// Wait blocks until c next exits and reports its exit code. A container
// that has already exited, or has no live state, returns immediately.
func (m *Manager) Wait(ctx context.Context, id string) (int, error) {
	c, err := m.Get(id)
	if err != nil {
		return 0, err
	}
	if c.Phase == types.PhaseExited || c.Phase == types.PhaseDead {
		return c.ExitCode, nil
	}

	m.liveMu.Lock()
	live := m.live[id]
	m.liveMu.Unlock()
	if live == nil {
		return c.ExitCode, nil
	}

	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(200 * time.Millisecond):
			c, err := m.Get(id)
			if err != nil {
				return 0, err
			}
			if c.Phase == types.PhaseExited || c.Phase == types.PhaseDead {
				return c.ExitCode, nil
			}
		}
	}
}

func (m *Manager) stopLiveState(id string) {
	m.liveMu.Lock()
	live, ok := m.live[id]
	if ok {
		delete(m.live, id)
	}
	delete(m.restartAttempts, id)
	m.liveMu.Unlock()
	if !ok {
		return
	}
	if live.cancel != nil {
		live.cancel()
	}
	if live.healthCancel != nil {
		live.healthCancel()
	}
	if live.attach != nil {
		live.attach.closeOutput()
	}
}

