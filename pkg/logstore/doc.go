// Package logstore persists each container's stdout/stderr as newline-
// delimited JSON records on disk and serves the batch-read, tail, and
// follow-mode semantics of docker logs. One writer owns a given
// container's files at a time; readers may run concurrently with it.
package logstore
