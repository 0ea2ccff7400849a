package upgrade

import (
	"encoding/binary"
	"io"
	"sync"
)

// StreamID tags which stdio stream a multiplexed frame carries.
type StreamID byte

const (
	StreamStdin  StreamID = 0
	StreamStdout StreamID = 1
	StreamStderr StreamID = 2
)

// frameHeaderLen is the fixed prefix of every multiplexed frame: one stream
// type byte, three bytes of zero padding, and a big-endian uint32 payload
// length.
const frameHeaderLen = 8

// WriteFrame writes a single multiplexed frame carrying payload on stream.
// An empty payload writes nothing - Docker clients treat a zero-length
// frame as a no-op and some older ones mis-handle it.
func WriteFrame(w io.Writer, stream StreamID, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	var hdr [frameHeaderLen]byte
	hdr[0] = byte(stream)
	binary.BigEndian.PutUint32(hdr[4:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// FrameWriter is an io.Writer that wraps every Write in a multiplexed frame
// on a fixed stream. Writes from the stdout and stderr pumps of one session
// share the underlying connection, so a mutex keeps their frames from
// interleaving mid-header.
type FrameWriter struct {
	mu     *sync.Mutex
	w      io.Writer
	stream StreamID
}

// NewStreamWriters returns the stdout and stderr writers for one session's
// connection. When tty is set both writers pass bytes through unframed and
// interleaved, which is correct because a TTY merges the streams at the
// pseudo-terminal anyway; otherwise each Write becomes one tagged frame.
func NewStreamWriters(conn io.Writer, tty bool) (stdout, stderr io.Writer) {
	if tty {
		lw := &lockedWriter{w: conn}
		return lw, lw
	}
	mu := &sync.Mutex{}
	return &FrameWriter{mu: mu, w: conn, stream: StreamStdout},
		&FrameWriter{mu: mu, w: conn, stream: StreamStderr}
}

func (f *FrameWriter) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := WriteFrame(f.w, f.stream, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// lockedWriter serializes raw TTY writes from two pumps onto one connection.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
