/*
Package types defines the core data structures used throughout vesseld.

This package contains all fundamental types that represent vesseld's domain
model: containers and their lifecycle phase, images, networks and IP
allocations, volumes, exec instances, port mappings, health state, and
restart policies. These types are used by all other packages for state
management, API translation, and lifecycle logic.

# Design Principles

Plain data only. Nothing in this package performs I/O, holds a lock, or
imports another vesseld package; every struct is safe to copy, marshal, and
persist. The managers own behavior, types owns shape.

String-typed enums. Lifecycle phases, health statuses, restart policy kinds,
and mount types are typed strings whose values match the exact words the
Docker Engine API puts on the wire ("running", "unhealthy",
"unless-stopped"), so persisting and re-serving them needs no mapping table.

Pointer-valued optional sub-objects. A container without a healthcheck has a
nil HealthCheck, not a zero-valued one; handlers translate nil into an
omitted JSON field the same way dockerd does.

# Core Types

Container is the largest type: an immutable creation-time spec (image,
command, env, mounts, requested networks, published ports, limits) plus the
mutable runtime fields only pkg/container may write (Phase, ExitCode,
StartedAt, FinishedAt, Health, VMID).

Network, Volume, and PortMapping carry exactly the columns pkg/storage
persists for them. ExecInstance is the one record that is deliberately never
persisted - an exec session cannot outlive the daemon process that spawned
it.

# Usage

	c := &types.Container{
		ID:    id,
		Name:  "web",
		Image: "nginx:alpine",
		Phase: types.PhaseCreated,
	}
	if c.Phase == types.PhaseRunning {
		// only pkg/container flips this field
	}
*/
package types
