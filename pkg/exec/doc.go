// Package exec implements the ExecManager: one-off processes spawned inside
// an already-running container's VM inside an already-running container. An exec instance's
// lifetime is bounded by its parent container's lifetime; Manager never
// persists instances to the state store because they don't survive a
// daemon restart regardless (the purge-on-restart rule would
// just delete them again on the next boot).
package exec
