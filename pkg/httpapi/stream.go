package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
)

// ndjsonWriter emits one JSON object per line over a chunked response,
// flushing after every object so progress events reach the client as they
// happen rather than when the transfer ends.
type ndjsonWriter struct {
	w   http.ResponseWriter
	f   http.Flusher
	enc *json.Encoder

	// cancel fires on the first failed write, giving the producer (pull
	// progress, stats sampler, log follower) a client-gone signal without
	// using errors for control flow.
	cancel context.CancelFunc
	failed bool
}

// newNDJSONWriter prepares w for a chunked NDJSON stream and returns the
// writer plus a context that is cancelled once the client goes away.
// Callers pass that context to whatever produces the stream.
func newNDJSONWriter(ctx context.Context, w http.ResponseWriter) (*ndjsonWriter, context.Context) {
	streamCtx, cancel := context.WithCancel(ctx)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	nw := &ndjsonWriter{w: w, enc: json.NewEncoder(w), cancel: cancel}
	if f, ok := w.(http.Flusher); ok {
		nw.f = f
	}
	return nw, streamCtx
}

// Emit writes one object and flushes. After the first failure every
// subsequent call is a no-op; the producer learns about the dead client
// through the context newNDJSONWriter returned.
func (nw *ndjsonWriter) Emit(v any) {
	if nw.failed {
		return
	}
	if err := nw.enc.Encode(v); err != nil {
		nw.failed = true
		nw.cancel()
		return
	}
	if nw.f != nil {
		nw.f.Flush()
	}
}

// flushWriter adapts a ResponseWriter into an io.Writer that flushes after
// every write, for raw-stream responses (non-upgraded logs and attach) that
// must reach the client line by line.
type flushWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func newFlushWriter(w http.ResponseWriter) *flushWriter {
	fw := &flushWriter{w: w}
	if f, ok := w.(http.Flusher); ok {
		fw.f = f
	}
	return fw
}

func (fw *flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if fw.f != nil {
		fw.f.Flush()
	}
	return n, err
}
