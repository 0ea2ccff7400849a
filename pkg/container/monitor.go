package container

import (
	"context"
	"time"

	"github.com/vesseld/vesseld/pkg/events"
	"github.com/vesseld/vesseld/pkg/log"
	"github.com/vesseld/vesseld/pkg/logstore"
	"github.com/vesseld/vesseld/pkg/types"
)

// monitor owns one container's exit-wait loop for the lifetime of a single
// Start call. It blocks on rt.Wait, records the exit, and - unless Remove
// has torn the monitor down via its ctx - applies the restart policy. When
// a restart happens, the Start call launches a fresh monitor and this one
// returns.
func (m *Manager) monitor(ctx context.Context, containerID string, writer *logstore.Writer) {
	defer writer.Close()

	for {
		c, err := m.Get(containerID)
		if err != nil {
			return
		}
		vmID := c.VMID

		result, err := m.rt.Wait(ctx, vmID)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			lg := log.WithContainerID(containerID)
			lg.Error().Err(err).Msg("wait failed")
			return
		}

		m.handleExit(containerID, result.ExitCode, result.OOMKilled)

		shouldRestart, delay := m.restartDecision(containerID)
		if !shouldRestart {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = m.Start(startCtx, containerID)
		cancel()
		if err != nil {
			lg := log.WithContainerID(containerID)
			lg.Error().Err(err).Msg("restart failed")
			return
		}
		// Start launched a brand new monitor goroutine for the fresh run;
		// this one's job is done.
		return
	}
}

func (m *Manager) handleExit(containerID string, exitCode int, oomKilled bool) {
	c, err := m.Get(containerID)
	if err != nil {
		return
	}

	c.Phase = types.PhaseExited
	c.ExitCode = exitCode
	c.OOMKilled = oomKilled
	c.FinishedAt = time.Now()
	_ = m.store.UpdateContainer(c)

	_ = m.ports.UnpublishContainer(containerID)
	for netID, ep := range attachmentsOf(c) {
		if ep == nil {
			continue
		}
		if n, nerr := m.net.Get(netID); nerr == nil {
			_ = m.net.Detach(containerID, n)
		}
	}
	m.execs.PurgeForContainer(containerID)

	m.liveMu.Lock()
	live := m.live[containerID]
	m.liveMu.Unlock()
	if live != nil && live.attach != nil {
		live.attach.closeOutput()
	}

	m.publish(events.TypeContainerDied, containerID)
}

// restartDecision applies the restart-policy state machine,
// returning whether to relaunch and, if so, the backoff delay before doing
// so. ManualStop blocks every policy within the current daemon process's
// lifetime - it's cleared again the next time Start succeeds.
//
// The attempt counter accumulates across the monitor->Start->new-monitor
// handoff; it resets only when a run survives restartResetAfter, so a
// crash-looping container keeps climbing the backoff ladder and an
// on-failure(N) container genuinely stops after N attempts.
func (m *Manager) restartDecision(containerID string) (bool, time.Duration) {
	c, err := m.Get(containerID)
	if err != nil || c.RestartPolicy == nil {
		return false, 0
	}
	policy := c.RestartPolicy

	m.liveMu.Lock()
	if !c.StartedAt.IsZero() && c.FinishedAt.Sub(c.StartedAt) >= restartResetAfter {
		m.restartAttempts[containerID] = 0
	}
	m.restartAttempts[containerID]++
	attempt := m.restartAttempts[containerID]
	m.liveMu.Unlock()

	switch policy.Name {
	case types.RestartPolicyNo:
		return false, 0
	case types.RestartPolicyOnFailure:
		if c.ExitCode == 0 || policy.ManualStop {
			return false, 0
		}
		if policy.MaximumRetryCount > 0 && attempt > policy.MaximumRetryCount {
			return false, 0
		}
	case types.RestartPolicyUnlessStopped:
		if policy.ManualStop {
			return false, 0
		}
	case types.RestartPolicyAlways:
		// A manual stop holds an "always" container down too - but only
		// until the next daemon boot, where Recover disregards the flag.
		if policy.ManualStop {
			return false, 0
		}
	default:
		return false, 0
	}

	return true, backoffDelay(attempt)
}

func backoffDelay(attempt int) time.Duration {
	delay := restartBackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= restartBackoffCap {
			return restartBackoffCap
		}
	}
	return delay
}
