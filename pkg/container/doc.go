// Package container implements the ContainerManager: the authoritative
// owner of container records and the sole mutator
// of container phase. It drives create/start/stop/restart/pause/exec-adjacent
// lifecycle transitions, runs one exit monitor per live container to apply
// restart policy, schedules healthcheck probes, and brokers attach sessions
// for the raw-stream upgrader.
package container
