package container

import (
	"bytes"
	"context"
	"io"
	"strings"
	"time"

	"github.com/vesseld/vesseld/pkg/apierror"
	"github.com/vesseld/vesseld/pkg/runtime"
	"github.com/vesseld/vesseld/pkg/types"
)

// Stats returns a live resource-usage snapshot for a running container, or
// a not-permitted error if the runtime backend doesn't expose sampling.
func (m *Manager) Stats(ctx context.Context, id string) (runtime.Stats, error) {
	c, err := m.Get(id)
	if err != nil {
		return runtime.Stats{}, err
	}
	if c.Phase != types.PhaseRunning {
		return runtime.Stats{}, apierror.Conflict("container %s is not running", id)
	}
	sr, ok := m.rt.(runtime.StatsRuntime)
	if !ok {
		return runtime.Stats{}, apierror.NotPermitted("runtime backend does not support stats sampling")
	}
	stats, err := sr.Stats(ctx, c.VMID)
	if err != nil {
		return runtime.Stats{}, apierror.Transient("sample stats: %v", err)
	}
	return stats, nil
}

// Top runs `ps` with psArgs (default `-ef`) inside a running container's VM and
// returns its raw output lines - the runtime contract has no dedicated
// process-listing operation, so this is approximated via ExecIn the same
// way `docker top` shells out on classic Linux containers.
func (m *Manager) Top(ctx context.Context, id string, psArgs string) ([]string, error) {
	c, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if c.Phase != types.PhaseRunning {
		return nil, apierror.Conflict("container %s is not running", id)
	}
	if psArgs == "" {
		psArgs = "-ef"
	}

	var out bytes.Buffer
	_, wait, err := m.rt.ExecIn(ctx, c.VMID, runtime.ExecSpec{
		Cmd:    append([]string{"ps"}, strings.Fields(psArgs)...),
		Stdout: &out,
		Stderr: &out,
	})
	if err != nil {
		return nil, apierror.Transient("exec ps: %v", err)
	}
	if _, err := wait(); err != nil {
		return nil, apierror.Transient("ps wait: %v", err)
	}
	return strings.Split(strings.TrimRight(out.String(), "\n"), "\n"), nil
}

// changesMarker is the path Changes touches before taking its "before"
// snapshot, giving `find -newer` something stable to compare against.
const changesMarker = "/tmp/.vesseld-changes-marker"

// Changes reports which filesystem paths under / have been added or
// modified since the container started, approximated via `find -newer` run
// through ExecIn - the runtime contract exposes no overlay-diff operation,
// so this can't distinguish a deletion from dockerd's real overlayfs-based
// Kind field; every reported path comes back as modified.
func (m *Manager) Changes(ctx context.Context, id string) ([]string, error) {
	c, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if c.Phase != types.PhaseRunning {
		return nil, apierror.Conflict("container %s is not running", id)
	}

	var out bytes.Buffer
	_, wait, err := m.rt.ExecIn(ctx, c.VMID, runtime.ExecSpec{
		Cmd:    []string{"find", "/", "-newer", changesMarker, "-not", "-path", "/proc/*", "-not", "-path", "/sys/*"},
		Stdout: &out,
	})
	if err != nil {
		return nil, apierror.Transient("exec find: %v", err)
	}
	if _, err := wait(); err != nil {
		return nil, apierror.Transient("find wait: %v", err)
	}
	trimmed := strings.TrimRight(out.String(), "\n")
	if trimmed == "" {
		return nil, nil
	}
	return strings.Split(trimmed, "\n"), nil
}

// GetArchive streams a tar of srcPath from inside a running container by
// running `tar -cf -` through ExecIn and copying its stdout to w - the
// nearest equivalent of dockerd's archive API the fixed six-operation
// runtime contract allows.
func (m *Manager) GetArchive(ctx context.Context, id, srcPath string, w io.Writer) error {
	c, err := m.Get(id)
	if err != nil {
		return err
	}
	if c.Phase != types.PhaseRunning {
		return apierror.Conflict("container %s is not running", id)
	}

	_, wait, err := m.rt.ExecIn(ctx, c.VMID, runtime.ExecSpec{
		Cmd:    []string{"tar", "-cf", "-", "-C", dirOf(srcPath), baseOf(srcPath)},
		Stdout: w,
	})
	if err != nil {
		return apierror.Transient("exec tar: %v", err)
	}
	if _, err := wait(); err != nil {
		return apierror.Transient("tar wait: %v", err)
	}
	return nil
}

// PutArchive extracts the tar stream r into dstPath inside a running
// container via `tar -xf -`.
func (m *Manager) PutArchive(ctx context.Context, id, dstPath string, r io.Reader) error {
	c, err := m.Get(id)
	if err != nil {
		return err
	}
	if c.Phase != types.PhaseRunning {
		return apierror.Conflict("container %s is not running", id)
	}

	_, wait, err := m.rt.ExecIn(ctx, c.VMID, runtime.ExecSpec{
		Cmd:   []string{"tar", "-xf", "-", "-C", dstPath},
		Stdin: r,
	})
	if err != nil {
		return apierror.Transient("exec tar: %v", err)
	}
	if _, err := wait(); err != nil {
		return apierror.Transient("tar wait: %v", err)
	}
	return nil
}

// stampChangesMarker touches changesMarker right after a container boots so
// Changes has a reliable "before" timestamp to diff against.
func (m *Manager) stampChangesMarker(containerID, vmID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, wait, err := m.rt.ExecIn(ctx, vmID, runtime.ExecSpec{Cmd: []string{"touch", changesMarker}})
	if err != nil {
		return
	}
	_, _ = wait()
	_ = containerID
}

func dirOf(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return "/"
	}
	return path[:idx]
}

func baseOf(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return path
	}
	return path[idx+1:]
}
