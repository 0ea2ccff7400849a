package container

import (
	"context"
	"time"

	"github.com/vesseld/vesseld/pkg/events"
	"github.com/vesseld/vesseld/pkg/healthcheck"
	"github.com/vesseld/vesseld/pkg/types"
)

// runHealthScheduler probes containerID's HealthCheck on its configured
// interval until ctx is cancelled (container stopped, removed, or restarted
// under a fresh monitor). The start period suppresses failures from
// counting against the failing streak, matching Docker's own grace-period
// semantics.
func (m *Manager) runHealthScheduler(ctx context.Context, containerID string) {
	c, err := m.Get(containerID)
	if err != nil || c.HealthCheck == nil {
		return
	}
	hc := c.HealthCheck
	cfg := healthcheck.Config{
		Interval:      hc.Interval,
		Timeout:       hc.Timeout,
		Retries:       hc.Retries,
		StartPeriod:   hc.StartPeriod,
		StartInterval: hc.Interval,
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}

	checker := m.buildChecker(c, hc)
	if checker == nil {
		return
	}

	start := time.Now()
	for {
		inStartPeriod := time.Since(start) < cfg.StartPeriod
		delay := intervalFor(cfg, inStartPeriod)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		c, err := m.Get(containerID)
		if err != nil || c.Phase != types.PhaseRunning {
			return
		}

		result := checker.Check(ctx, cfg.Timeout)
		m.recordHealth(containerID, result, cfg.Retries, inStartPeriod)
	}
}

func intervalFor(cfg healthcheck.Config, inStartPeriod bool) time.Duration {
	if inStartPeriod && cfg.StartInterval > 0 {
		return cfg.StartInterval
	}
	return cfg.Interval
}

func (m *Manager) buildChecker(c *types.Container, hc *types.HealthCheck) healthcheck.Checker {
	if len(hc.Test) == 0 {
		return nil
	}
	switch hc.Test[0] {
	case "NONE":
		return nil
	case "CMD":
		return &healthcheck.ExecChecker{Runtime: m.rt, VMID: c.VMID, Cmd: hc.Test[1:]}
	case "CMD-SHELL":
		if len(hc.Test) < 2 {
			return nil
		}
		return &healthcheck.ExecChecker{Runtime: m.rt, VMID: c.VMID, Cmd: []string{"/bin/sh", "-c", hc.Test[1]}}
	default:
		return &healthcheck.ExecChecker{Runtime: m.rt, VMID: c.VMID, Cmd: hc.Test}
	}
}

func (m *Manager) recordHealth(containerID string, result healthcheck.Result, retries int, inStartPeriod bool) {
	c, err := m.Get(containerID)
	if err != nil {
		return
	}
	if c.Health == nil {
		c.Health = &types.HealthState{Status: types.HealthStarting}
	}

	entry := &types.HealthLogEntry{Start: result.CheckedAt, End: result.CheckedAt.Add(result.Duration)}
	if !result.Healthy {
		entry.ExitCode = 1
	}
	entry.Output = result.Output

	c.Health.Log = append(c.Health.Log, entry)
	if len(c.Health.Log) > 5 {
		c.Health.Log = c.Health.Log[len(c.Health.Log)-5:]
	}

	if result.Healthy {
		c.Health.FailingStreak = 0
		c.Health.Status = types.HealthHealthy
	} else {
		if inStartPeriod {
			// failures during the start period don't advance the streak.
		} else {
			c.Health.FailingStreak++
		}
		if c.Health.FailingStreak >= retries {
			c.Health.Status = types.HealthUnhealthy
		} else if c.Health.Status != types.HealthHealthy {
			c.Health.Status = types.HealthStarting
		}
	}

	_ = m.store.UpdateContainer(c)
	m.publish(events.TypeContainerHealth, containerID)
}
