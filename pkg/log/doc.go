/*
Package log provides structured logging for vesseld using zerolog.

A single unexported root logger backs the package. It is usable before
Init - early daemon-construction failures still produce a line - and Init
swaps it for one built from Options: a verbosity floor (carried on the
logger itself, not zerolog's global level, so tests initializing the
package don't fight each other), JSON or human console rendering, and an
output writer (stdout unless a test substitutes a buffer).

Call sites don't touch the root directly. Per-object work derives a child
logger:

  - WithComponent("portmap") tags every line from a subsystem
  - WithContainerID / WithNetworkID / WithExecID tag per-object tasks
    (exit monitors, healthcheck loops, proxy goroutines, exec sessions)

and one-off messages use the field-free helpers (Info, Warn, Errorf, ...).

# Usage

Initialize once at daemon startup:

	import "github.com/vesseld/vesseld/pkg/log"

	log.Init(log.Options{Level: log.InfoLevel, JSON: true})

Then log through a child logger wherever per-object context exists:

	log.WithContainerID(c.ID).Info().Str("vm_id", c.VMID).Msg("container started")

Background tasks (exit monitors, healthcheck probes, restart scheduling,
port proxy loops) never let an error reach a client; they log it here and
update persisted runtime fields instead:

	log.Errorf("portmap: dial backend", err)

# Output Formats

JSON (production):

	{"level":"info","component":"container","container_id":"9f3c...","time":"2026-05-11T10:30:00Z","message":"container started"}

Console (interactive terminal):

	10:30AM INF container started component=container container_id=9f3c...
*/
package log
