package container

import (
	"io"
	"sync"

	"github.com/vesseld/vesseld/pkg/logstore"
	"github.com/vesseld/vesseld/pkg/types"
)

// OutputChunk is a slice of raw bytes an attach session received on one
// stream, matching the framing the raw-stream upgrader multiplexes onto
// the wire.
type OutputChunk struct {
	Stream string // "stdout" or "stderr"
	Data   []byte
}

// AttachSession brokers one client's raw-stream attach to a container's
// live stdio. Stdin is modeled as an io.Pipe: the upgrader owns the write
// side, and closing it naturally produces EOF on stdinRead, which is handed
// to the runtime as the process's stdin - giving half-close semantics for
// free, no extra protocol needed.
type AttachSession struct {
	stdinWrite io.WriteCloser
	stdinRead  io.Reader

	mu     sync.Mutex
	output chan OutputChunk
	closed bool
	Done   chan struct{}
}

func newAttachSession(stdin bool) *AttachSession {
	as := &AttachSession{
		output: make(chan OutputChunk, 64),
		Done:   make(chan struct{}),
	}
	if stdin {
		r, w := io.Pipe()
		as.stdinRead = r
		as.stdinWrite = w
	}
	return as
}

// Stdin returns the write side a raw-stream upgrader should copy client
// input into, or nil if this session wasn't opened with stdin attached.
func (as *AttachSession) Stdin() io.WriteCloser { return as.stdinWrite }

// Output is the channel of stdout/stderr chunks a raw-stream upgrader
// copies out to the client as they arrive.
func (as *AttachSession) Output() <-chan OutputChunk { return as.output }

func (as *AttachSession) push(stream string, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)
	as.mu.Lock()
	defer as.mu.Unlock()
	if as.closed {
		return
	}
	select {
	case as.output <- OutputChunk{Stream: stream, Data: cp}:
	default:
		// client isn't draining fast enough; drop rather than block the
		// container's stdio pump.
	}
}

func (as *AttachSession) closeOutput() {
	as.mu.Lock()
	defer as.mu.Unlock()
	if as.closed {
		return
	}
	as.closed = true
	close(as.output)
	close(as.Done)
}

// RegisterAttach opens a new attach session for id, replacing any earlier
// one, letting a
// client start streaming stdio before or after the container itself starts.
// If the container is already running, the session is wired immediately;
// otherwise it's parked in m.pending for Start to pick up.
func (m *Manager) RegisterAttach(id string, stdin bool) (*AttachSession, error) {
	c, err := m.Get(id)
	if err != nil {
		return nil, err
	}

	as := newAttachSession(stdin)

	m.liveMu.Lock()
	defer m.liveMu.Unlock()
	if live, ok := m.live[id]; ok && c.Phase == types.PhaseRunning {
		live.attach = as
		return as, nil
	}
	m.pending[id] = as
	return as, nil
}

// linePump is the io.Writer wired into runtime.StdIO.Stdout/Stderr: it tees
// every byte verbatim to any attached session's Output channel while also
// splitting the stream into lines for the logstore writer, mirroring how
// dockerd's container logger consumes the same combined byte stream for
// both attach and logs.
type linePump struct {
	stream string
	logW   *logstore.Writer
	live   *liveState
	buf    []byte
}

func newLinePump(stream string, logW *logstore.Writer, live *liveState) *linePump {
	return &linePump{stream: stream, logW: logW, live: live}
}

func (p *linePump) Write(b []byte) (int, error) {
	if p.live != nil && p.live.attach != nil {
		p.live.attach.push(p.stream, b)
	}

	p.buf = append(p.buf, b...)
	for {
		idx := indexByte(p.buf, '\n')
		if idx < 0 {
			break
		}
		line := string(p.buf[:idx])
		p.buf = p.buf[idx+1:]
		if p.logW != nil {
			_ = p.logW.WriteLine(p.stream, line)
		}
	}
	return len(b), nil
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}
