// Package daemon is vesseld's composition root: it constructs every
// manager in dependency order (state store first, HTTP server last), runs
// startup recovery, and owns orderly shutdown. Nothing here contains
// business logic; if a decision matters, it lives in the package that owns
// the data it decides about.
package daemon
