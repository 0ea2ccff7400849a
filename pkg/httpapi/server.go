package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/vesseld/vesseld/pkg/log"
)

// Server owns the unix stream socket and the http.Server serving the API
// over it.
type Server struct {
	socketPath string
	handler    http.Handler
	httpSrv    *http.Server
	listener   net.Listener
}

// NewServer prepares a Server for socketPath. Nothing is bound until Listen.
func NewServer(socketPath string, handler http.Handler) *Server {
	return &Server{
		socketPath: socketPath,
		handler:    handler,
	}
}

// Listen binds the unix socket, replacing a stale socket file left behind
// by a previous daemon that died without cleanup. The socket is made
// group-accessible so members of the daemon's group can drive the API
// without root.
func (s *Server) Listen() error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0o755); err != nil {
		return fmt.Errorf("httpapi: create socket dir: %w", err)
	}

	if _, err := os.Stat(s.socketPath); err == nil {
		// If something is still serving on it, refuse rather than steal it.
		if conn, dialErr := net.DialTimeout("unix", s.socketPath, time.Second); dialErr == nil {
			conn.Close()
			return fmt.Errorf("httpapi: socket %s is already in use by another daemon", s.socketPath)
		}
		if err := os.Remove(s.socketPath); err != nil {
			return fmt.Errorf("httpapi: remove stale socket: %w", err)
		}
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("httpapi: listen %s: %w", s.socketPath, err)
	}
	if err := os.Chmod(s.socketPath, 0o660); err != nil {
		ln.Close()
		return fmt.Errorf("httpapi: chmod socket: %w", err)
	}
	s.listener = ln
	return nil
}

// Serve runs the HTTP server until Shutdown. ReadHeaderTimeout bounds
// header parsing; there is deliberately no whole-request ReadTimeout or
// WriteTimeout because attach, logs-follow, and pull are long-lived by
// design - the body ceiling is enforced per-request at decode time.
func (s *Server) Serve() error {
	if s.listener == nil {
		return errors.New("httpapi: Serve called before Listen")
	}
	s.httpSrv = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 30 * time.Second,
	}
	lg := log.WithComponent("httpapi")
	lg.Info().Str("socket", s.socketPath).Msg("api server listening")

	err := s.httpSrv.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and removes the socket file. Hijacked
// raw-stream connections are not waited for; their sessions close when
// their containers exit or their clients hang up.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	err := s.httpSrv.Shutdown(ctx)
	os.Remove(s.socketPath)
	return err
}
