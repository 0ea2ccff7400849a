// Package apierror implements the daemon's error taxonomy: a small set
// of kinds (not-found, conflict, invalid, not-permitted, transient,
// internal) that every manager's errors map onto. The kind-to-HTTP-status
// table itself lives in httpapi.
package apierror
