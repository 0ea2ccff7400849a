package logstore

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Record is a single self-describing log line, matching Docker's own
// json-file log driver record shape.
type Record struct {
	Time   time.Time `json:"time"`
	Stream string    `json:"stream"` // "stdout" or "stderr"
	Log    string    `json:"log"`
}

// Store roots every container's log files under a single directory,
// {root}/{containerID}/{stdout,stderr}.log.
type Store struct {
	root string
}

// NewStore creates a Store rooted at root, creating the directory if needed.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("logstore: create root %s: %w", root, err)
	}
	return &Store{root: root}, nil
}

func (s *Store) dir(containerID string) string {
	return filepath.Join(s.root, containerID)
}

func (s *Store) path(containerID, stream string) string {
	return filepath.Join(s.dir(containerID), stream+".log")
}

// Writer is the single append-only handle a container's stdio pump uses to
// record lines as they arrive. WriteLine holds an internal mutex, so the
// stdout and stderr pumps (one goroutine per stream) can share one Writer.
type Writer struct {
	mu    sync.Mutex
	files map[string]*os.File
}

// Writer opens (creating if needed) the log files for containerID.
func (s *Store) Writer(containerID string) (*Writer, error) {
	dir := s.dir(containerID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("logstore: create dir for %s: %w", containerID, err)
	}
	w := &Writer{files: make(map[string]*os.File, 2)}
	for _, stream := range []string{"stdout", "stderr"} {
		f, err := os.OpenFile(filepath.Join(dir, stream+".log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			w.Close()
			return nil, fmt.Errorf("logstore: open %s log for %s: %w", stream, containerID, err)
		}
		w.files[stream] = f
	}
	return w, nil
}

// WriteLine appends a single record to stream's file, stamping the current
// time. line should not include a trailing newline.
func (w *Writer) WriteLine(stream string, line string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	f, ok := w.files[stream]
	if !ok {
		return fmt.Errorf("logstore: unknown stream %q", stream)
	}
	rec := Record{Time: time.Now(), Stream: stream, Log: line}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = f.Write(b)
	return err
}

// Close releases the underlying file handles.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var firstErr error
	for _, f := range w.files {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ReadOptions selects the window and streams a batch read or follow
// session returns.
type ReadOptions struct {
	Since      time.Time // zero means no lower bound
	Until      time.Time // zero means no upper bound
	Tail       int       // -1 means "all"; N means the N most recent records per stream
	Stdout     bool
	Stderr     bool
	Timestamps bool
}

// TailAll is the sentinel for ReadOptions.Tail meaning the full history,
// matching the CLI's `--tail all`.
const TailAll = -1

// Read returns the matched historical records across the enabled streams,
// merged and sorted by timestamp. Tail is applied per-stream before the
// merge, so `tail=N` always returns the N most recent lines of each
// requested stream, not N lines overall.
func (s *Store) Read(containerID string, opts ReadOptions) ([]Record, error) {
	var all []Record
	for _, stream := range enabledStreams(opts) {
		recs, err := readFile(s.path(containerID, stream), opts)
		if err != nil {
			return nil, err
		}
		all = append(all, recs...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Time.Before(all[j].Time) })
	return all, nil
}

func enabledStreams(opts ReadOptions) []string {
	var streams []string
	if opts.Stdout {
		streams = append(streams, "stdout")
	}
	if opts.Stderr {
		streams = append(streams, "stderr")
	}
	return streams
}

func readFile(path string, opts ReadOptions) ([]Record, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("logstore: open %s: %w", path, err)
	}
	defer f.Close()

	var matched []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		if !opts.Since.IsZero() && rec.Time.Before(opts.Since) {
			continue
		}
		if !opts.Until.IsZero() && rec.Time.After(opts.Until) {
			continue
		}
		matched = append(matched, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("logstore: scan %s: %w", path, err)
	}

	if opts.Tail != TailAll && opts.Tail >= 0 && len(matched) > opts.Tail {
		matched = matched[len(matched)-opts.Tail:]
	}
	return matched, nil
}

// Follow replays the matched historical window via emit, then blocks
// streaming newly appended records until ctx is cancelled. Both streams'
// new lines are delivered in arrival order as observed by the underlying
// fsnotify watch, which is the same best-effort cross-stream interleaving
// Docker's own log multiplexer provides.
func (s *Store) Follow(ctx context.Context, containerID string, opts ReadOptions, emit func(Record)) error {
	historical, err := s.Read(containerID, opts)
	if err != nil {
		return err
	}
	for _, rec := range historical {
		emit(rec)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("logstore: create watcher: %w", err)
	}
	defer watcher.Close()

	dir := s.dir(containerID)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("logstore: watch %s: %w", dir, err)
	}

	tails := make(map[string]*liveTail)
	for _, stream := range enabledStreams(opts) {
		t, err := newLiveTail(s.path(containerID, stream))
		if err != nil {
			return err
		}
		defer t.Close()
		tails[filepath.Base(t.path)] = t
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			t, ok := tails[filepath.Base(ev.Name)]
			if !ok {
				continue
			}
			for _, rec := range t.readNewLines() {
				if !opts.Since.IsZero() && rec.Time.Before(opts.Since) {
					continue
				}
				emit(rec)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("logstore: watch error: %w", err)
		}
	}
}

// liveTail reads whatever new, complete lines have been appended to path
// since it was opened or last read.
type liveTail struct {
	path string
	f    *os.File
	r    *bufio.Reader
}

func newLiveTail(path string) (*liveTail, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		f, err = os.Create(path)
	}
	if err != nil {
		return nil, fmt.Errorf("logstore: open tail %s: %w", path, err)
	}
	if _, err := f.Seek(0, os.SEEK_END); err != nil {
		f.Close()
		return nil, err
	}
	return &liveTail{path: path, f: f, r: bufio.NewReader(f)}, nil
}

func (t *liveTail) readNewLines() []Record {
	var out []Record
	for {
		line, err := t.r.ReadString('\n')
		if line != "" {
			var rec Record
			if jsonErr := json.Unmarshal([]byte(line), &rec); jsonErr == nil {
				out = append(out, rec)
			}
		}
		if err != nil {
			break
		}
	}
	return out
}

func (t *liveTail) Close() error { return t.f.Close() }
