/*
Package runtime defines and implements vesseld's contract with the external
micro-VM containerization framework.

vesseld never boots VMs, builds root filesystems, or schedules guest
processes itself. It consumes a seven-operation interface - CreateVM, Start,
Signal, Wait, DialVsock, ExecIn, Destroy - and persists the results. Every
adapter in this package is a thin translation layer from that interface onto
one concrete backend; all lifecycle policy (restart, healthcheck, phase
transitions) lives upstream in pkg/container.

# Backends

ContainerdRuntime (containerd.go) drives a containerd daemon whose runtime
shim boots each container inside its own lightweight VM. It handles OCI spec
generation from a VMSpec, resource-limit translation, namespace isolation,
and task attach for ExecIn.

LimaRuntime (lima.go, darwin) drives Lima VM instances on macOS hosts, where
containerd's VM shim isn't available. It adapts Lima's instance
create/start/wait lifecycle onto the same interface.

ProcessRuntime (local.go) runs workloads as plain host processes, allocating
a pty when the spec asks for a TTY. It exists for development and for
exercising the full attach/exec byte path in tests without a hypervisor;
nothing production-facing selects it.

Mock (mock.go) is the in-memory state machine manager tests use to control
exit codes and timing explicitly.

# Optional Capabilities

Stats sampling and TTY resize aren't part of the core contract because not
every backend can provide them. Adapters that can implement StatsRuntime
and ResizeRuntime; callers type-assert and degrade gracefully when the
assertion fails.

# Concurrency

Every method is safe for concurrent use across different VM handles. A
single handle is never addressed concurrently by more than one caller,
because pkg/container serializes per-container operations upstream of this
interface.
*/
package runtime
