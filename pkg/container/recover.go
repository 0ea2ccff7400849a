package container

import (
	"context"

	"github.com/vesseld/vesseld/pkg/log"
	"github.com/vesseld/vesseld/pkg/types"
)

// sigkillExitCode is what a container that was running when the daemon died
// reports after recovery: its VM is gone, which is indistinguishable from a
// SIGKILL as far as the workload is concerned.
const sigkillExitCode = 137

// Recover is called once at daemon startup, before the API server accepts
// requests. It reconciles persisted container records with the fact that
// every VM died with the previous daemon process: containers stored as
// running/paused/restarting are marked exited with code 137, their exec
// instances purged, and then restart policy decides which of them come
// straight back up.
//
// Policy on daemon boot mirrors dockerd: "always" restarts unconditionally
// (a manual stop only holds until the next daemon restart), and
// "unless-stopped" restarts unless the persisted manual-stop flag is set.
// "on-failure" and "no" stay down; a crashed daemon is not a container
// failure.
func (m *Manager) Recover(ctx context.Context) error {
	all, err := m.store.ListContainers()
	if err != nil {
		return err
	}

	var toRestart []string
	for _, c := range all {
		switch c.Phase {
		case types.PhaseRunning, types.PhasePaused, types.PhaseRestarting:
		default:
			m.execs.PurgeForContainer(c.ID)
			if c.Phase == types.PhaseExited && c.RestartPolicy != nil && c.RestartPolicy.Name == types.RestartPolicyAlways {
				// Its VM died with the previous process; Start provisions a new one.
				c.VMID = ""
				if err := m.store.UpdateContainer(c); err == nil {
					toRestart = append(toRestart, c.ID)
				}
			}
			continue
		}

		c.Phase = types.PhaseExited
		c.ExitCode = sigkillExitCode
		if c.FinishedAt.Before(c.StartedAt) {
			c.FinishedAt = c.StartedAt
		}
		c.VMID = ""
		if err := m.store.UpdateContainer(c); err != nil {
			lg := log.WithContainerID(c.ID)
			lg.Error().Err(err).Msg("recovery: persist exited phase")
			continue
		}
		m.execs.PurgeForContainer(c.ID)
		_ = m.ports.UnpublishContainer(c.ID)

		if shouldRestartOnBoot(c.RestartPolicy) {
			toRestart = append(toRestart, c.ID)
		}
	}

	for _, id := range toRestart {
		if err := m.Start(ctx, id); err != nil {
			lg := log.WithContainerID(id)
			lg.Warn().Err(err).Msg("recovery: restart failed")
		}
	}
	return nil
}

func shouldRestartOnBoot(policy *types.RestartPolicy) bool {
	if policy == nil {
		return false
	}
	switch policy.Name {
	case types.RestartPolicyAlways:
		return true
	case types.RestartPolicyUnlessStopped:
		return !policy.ManualStop
	default:
		return false
	}
}
