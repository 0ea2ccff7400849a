// Package upgrade owns the raw-stream protocol switch: it hijacks an HTTP
// connection out of the server's codec, answers the Docker upgrade
// handshake, and provides the frame writer and stdin pump that bridge the
// client socket to a container's or exec's stdio. After Hijack returns, the
// connection is bytes, not HTTP - the caller is responsible for closing it
// once the process has exited and all pending output has drained.
package upgrade
