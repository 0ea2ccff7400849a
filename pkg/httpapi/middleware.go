package httpapi

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"regexp"
	"time"

	"github.com/vesseld/vesseld/pkg/log"
)

// versionPrefix matches the optional /v<major>.<minor> prefix Docker
// clients put in front of every path after version negotiation.
var versionPrefix = regexp.MustCompile(`^/v\d+\.\d+(/.*)?$`)

type ctxKey int

// rawURIKey carries the pre-normalization URI so the request logger can
// report what the client actually sent.
const rawURIKey ctxKey = iota

// normalizeVersion strips the API-version prefix from the request path
// before routing, preserving the original URI in the request context and
// leaving query parameters untouched. It must sit in front of the router:
// pattern matching only ever sees canonical paths.
func normalizeVersion(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m := versionPrefix.FindStringSubmatch(r.URL.Path); m != nil {
			r = r.WithContext(context.WithValue(r.Context(), rawURIKey, r.URL.RequestURI()))
			if m[1] == "" {
				r.URL.Path = "/"
			} else {
				r.URL.Path = m[1]
			}
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the status and body size a handler produced so
// the request logger can report them, while keeping Hijack and Flush
// reachable for the upgrade and streaming paths.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += int64(n)
	return n, err
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := sr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("httpapi: underlying writer does not support hijacking")
	}
	conn, buf, err := hj.Hijack()
	if err == nil {
		sr.status = http.StatusSwitchingProtocols
	}
	return conn, buf, err
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// requestLogger emits one structured line per request: method, canonical
// path, original URI when a version prefix was stripped, status, duration,
// and response size.
func requestLogger(next http.Handler) http.Handler {
	logger := log.WithComponent("httpapi")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		ev := logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Int64("bytes", rec.bytes)
		if raw, ok := r.Context().Value(rawURIKey).(string); ok {
			ev = ev.Str("uri", raw)
		}
		ev.Msg("request")
	})
}
