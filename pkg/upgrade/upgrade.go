package upgrade

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/vesseld/vesseld/pkg/log"
)

// rawStreamContentType is the media type Docker clients expect on an
// attach/exec stream.
const rawStreamContentType = "application/vnd.docker.raw-stream"

// IsUpgradeRequest reports whether r carries the Connection/Upgrade header
// pair that asks for the raw-stream protocol switch. Docker CLI always
// sends it for exec start and attach; plain HTTP clients may omit it, in
// which case the stream is served over a 200 response on the same hijacked
// connection.
func IsUpgradeRequest(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "tcp") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}

// Hijack takes the connection away from the HTTP server and answers the
// raw-stream handshake by hand: a 101 when the client asked to upgrade, a
// 200 otherwise. From the returned conn onward there is no HTTP codec in
// the path; the caller owns the socket and must Close it when the session
// completes.
//
// Half-close tolerance is part of the contract here: clients customarily
// shut down their write side once stdin is done, and the read side must
// stay open until the process exits. Nothing in this function or its
// callers treats a stdin EOF as a reason to close the connection.
func Hijack(w http.ResponseWriter, r *http.Request) (net.Conn, error) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		return nil, fmt.Errorf("upgrade: response writer does not support hijacking")
	}
	conn, buf, err := hj.Hijack()
	if err != nil {
		return nil, fmt.Errorf("upgrade: hijack: %w", err)
	}

	var resp string
	if IsUpgradeRequest(r) {
		resp = "HTTP/1.1 101 UPGRADED\r\n" +
			"Content-Type: " + rawStreamContentType + "\r\n" +
			"Connection: Upgrade\r\n" +
			"Upgrade: tcp\r\n\r\n"
	} else {
		resp = "HTTP/1.1 200 OK\r\n" +
			"Content-Type: " + rawStreamContentType + "\r\n\r\n"
	}
	if _, err := buf.WriteString(resp); err != nil {
		conn.Close()
		return nil, fmt.Errorf("upgrade: write handshake: %w", err)
	}
	if err := buf.Flush(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("upgrade: flush handshake: %w", err)
	}
	return conn, nil
}

// PumpStdin copies client bytes from conn into dst until the client
// half-closes (EOF) or the connection drops, then closes dst so the guest
// process sees its own stdin EOF. The connection itself is left open for
// the output direction; a client disconnect is logged at debug and is not
// an error - per Docker semantics the underlying process keeps running.
func PumpStdin(conn net.Conn, dst io.WriteCloser) {
	if dst == nil {
		return
	}
	_, err := io.Copy(dst, conn)
	if err != nil {
		lg := log.WithComponent("upgrade")
		lg.Debug().Err(err).Msg("stdin pump ended")
	}
	dst.Close()
}
