package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/moby/sys/signal"

	"github.com/vesseld/vesseld/pkg/apierror"
	"github.com/vesseld/vesseld/pkg/container"
	"github.com/vesseld/vesseld/pkg/logstore"
	"github.com/vesseld/vesseld/pkg/runtime"
	"github.com/vesseld/vesseld/pkg/types"
	"github.com/vesseld/vesseld/pkg/upgrade"
)

func (a *API) handleContainerList(w http.ResponseWriter, r *http.Request) {
	all, err := queryBool(r, "all", false)
	if err != nil {
		writeError(w, err)
		return
	}
	filters, err := queryFilters(r)
	if err != nil {
		writeError(w, err)
		return
	}

	lf := container.ListFilters{
		All:    all,
		Labels: labelFilters(filters),
		Names:  filters["name"],
		IDs:    filters["id"],
	}
	for _, s := range filters["status"] {
		lf.Statuses = append(lf.Statuses, types.ContainerPhase(s))
	}
	if len(lf.Statuses) > 0 {
		lf.All = true
	}

	list, err := a.containers.List(lf)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]containerSummary, 0, len(list))
	for _, c := range list {
		ports, _ := a.containers.PortMappings(c.ID)
		out = append(out, toContainerSummary(c, ports))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleContainerCreate(w http.ResponseWriter, r *http.Request) {
	var req dockercontainer.CreateRequest
	if err := decodeJSONBody(r, a.cfg.MaxRequestBodyBytes, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Config == nil {
		writeError(w, apierror.Invalid("config cannot be empty"))
		return
	}

	spec, err := createSpecFromRequest(&req, r.URL.Query().Get("name"))
	if err != nil {
		writeError(w, err)
		return
	}

	c, err := a.containers.Create(r.Context(), spec)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createdResponse{Id: c.ID, Warnings: []string{}})
}

// createSpecFromRequest translates Docker's create-request wire shape into
// the manager's own CreateSpec. All wire-format knowledge (bind strings,
// nat.Port specs, the three mount spellings) stays here.
func createSpecFromRequest(req *dockercontainer.CreateRequest, name string) (container.CreateSpec, error) {
	spec := container.CreateSpec{Name: name}

	spec.Image = req.Image
	spec.Cmd = req.Cmd
	spec.Entrypoint = req.Entrypoint
	spec.Env = req.Env
	spec.WorkingDir = req.WorkingDir
	spec.User = req.User
	spec.Tty = req.Tty
	spec.OpenStdin = req.OpenStdin
	spec.Labels = req.Labels

	if hc := req.Healthcheck; hc != nil && len(hc.Test) > 0 {
		spec.HealthCheck = &types.HealthCheck{
			Test:        hc.Test,
			Interval:    hc.Interval,
			Timeout:     hc.Timeout,
			StartPeriod: hc.StartPeriod,
			Retries:     hc.Retries,
		}
	}

	if req.HostConfig != nil {
		hc := req.HostConfig

		switch hc.RestartPolicy.Name {
		case "", dockercontainer.RestartPolicyDisabled:
			spec.RestartPolicy = &types.RestartPolicy{Name: types.RestartPolicyNo}
		case dockercontainer.RestartPolicyAlways, dockercontainer.RestartPolicyOnFailure, dockercontainer.RestartPolicyUnlessStopped:
			spec.RestartPolicy = &types.RestartPolicy{
				Name:              types.RestartPolicyName(hc.RestartPolicy.Name),
				MaximumRetryCount: hc.RestartPolicy.MaximumRetryCount,
			}
		default:
			return spec, apierror.Invalid("invalid restart policy %q", hc.RestartPolicy.Name)
		}

		spec.Resources = types.ResourceLimits{
			Memory:     hc.Memory,
			MemorySwap: hc.MemorySwap,
			NanoCPUs:   hc.NanoCPUs,
			CPUShares:  hc.CPUShares,
		}

		for _, bind := range hc.Binds {
			mnt, err := parseBind(bind)
			if err != nil {
				return spec, err
			}
			spec.Mounts = append(spec.Mounts, mnt)
		}
		for _, m := range hc.Mounts {
			mnt := &types.Mount{
				Type:     types.MountType(m.Type),
				Source:   m.Source,
				Target:   m.Target,
				ReadOnly: m.ReadOnly,
			}
			if mnt.Type == types.MountTypeVolume {
				mnt.VolumeName = m.Source
				mnt.Source = ""
			}
			spec.Mounts = append(spec.Mounts, mnt)
		}
		for target := range hc.Tmpfs {
			spec.Mounts = append(spec.Mounts, &types.Mount{Type: types.MountTypeTmpfs, Target: target})
		}

		if len(hc.PortBindings) > 0 {
			spec.PortBindings = make(map[string][]types.PortBinding, len(hc.PortBindings))
			for port, binds := range hc.PortBindings {
				if port.Int() == 0 {
					return spec, apierror.Invalid("invalid port spec %q", string(port))
				}
				key := fmt.Sprintf("%d/%s", port.Int(), port.Proto())
				for _, b := range binds {
					spec.PortBindings[key] = append(spec.PortBindings[key], types.PortBinding{
						HostIP:   b.HostIP,
						HostPort: b.HostPort,
					})
				}
			}
		}
		spec.NetworkMode = string(hc.NetworkMode)
	}

	if req.NetworkingConfig != nil && len(req.NetworkingConfig.EndpointsConfig) > 0 {
		spec.Networks = make(map[string]*types.EndpointSettings, len(req.NetworkingConfig.EndpointsConfig))
		for netName, ep := range req.NetworkingConfig.EndpointsConfig {
			settings := &types.EndpointSettings{}
			if ep != nil {
				settings.Aliases = ep.Aliases
				if ep.IPAMConfig != nil {
					settings.IPAddress = ep.IPAMConfig.IPv4Address
				}
			}
			spec.Networks[netName] = settings
		}
	}

	return spec, nil
}

// parseBind splits Docker's "source:target[:options]" bind string. A source
// that isn't an absolute path names a volume.
func parseBind(bind string) (*types.Mount, error) {
	parts := strings.Split(bind, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return nil, apierror.Invalid("invalid bind spec %q", bind)
	}
	mnt := &types.Mount{Source: parts[0], Target: parts[1]}
	if len(parts) == 3 {
		for _, opt := range strings.Split(parts[2], ",") {
			if opt == "ro" {
				mnt.ReadOnly = true
			}
		}
	}
	if strings.HasPrefix(mnt.Source, "/") {
		mnt.Type = types.MountTypeBind
	} else {
		mnt.Type = types.MountTypeVolume
		mnt.VolumeName = mnt.Source
		mnt.Source = ""
	}
	return mnt, nil
}

func (a *API) handleContainerInspect(w http.ResponseWriter, r *http.Request) {
	c, err := a.containers.Get(pathParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toContainerInspect(c))
}

func (a *API) handleContainerStart(w http.ResponseWriter, r *http.Request) {
	err := a.containers.Start(r.Context(), pathParam(r, "id"))
	if err != nil {
		// starting an already-running container answers 304, not 409,
		// because the CLI treats it as success.
		if apierror.KindOf(err) == apierror.KindConflict && strings.Contains(err.Error(), "already running") {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleContainerStop(w http.ResponseWriter, r *http.Request) {
	t, err := queryInt(r, "t", 0, 0)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := a.containers.Stop(r.Context(), pathParam(r, "id"), time.Duration(t)*time.Second); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleContainerKill(w http.ResponseWriter, r *http.Request) {
	sigName := r.URL.Query().Get("signal")
	if sigName == "" {
		sigName = "KILL"
	}
	sig, err := signal.ParseSignal(sigName)
	if err != nil {
		writeError(w, apierror.Invalid("invalid signal: %s", sigName))
		return
	}
	if err := a.containers.Kill(r.Context(), pathParam(r, "id"), int(sig)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleContainerRestart(w http.ResponseWriter, r *http.Request) {
	t, err := queryInt(r, "t", 0, 0)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := a.containers.Restart(r.Context(), pathParam(r, "id"), time.Duration(t)*time.Second); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleContainerPause(w http.ResponseWriter, r *http.Request) {
	if err := a.containers.Pause(r.Context(), pathParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleContainerUnpause(w http.ResponseWriter, r *http.Request) {
	if err := a.containers.Unpause(r.Context(), pathParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleContainerRename(w http.ResponseWriter, r *http.Request) {
	newName := r.URL.Query().Get("name")
	if newName == "" {
		writeError(w, apierror.Invalid("rename requires a name parameter"))
		return
	}
	if err := a.containers.Rename(pathParam(r, "id"), newName); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleContainerResize(w http.ResponseWriter, r *http.Request) {
	h, err := queryInt(r, "h", 0, 1)
	if err != nil {
		writeError(w, err)
		return
	}
	wCols, err := queryInt(r, "w", 0, 1)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := a.containers.Resize(r.Context(), pathParam(r, "id"), uint16(wCols), uint16(h)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (a *API) handleContainerUpdate(w http.ResponseWriter, r *http.Request) {
	var req dockercontainer.UpdateConfig
	if err := decodeJSONBody(r, a.cfg.MaxRequestBodyBytes, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.MemoryReservation > 0 && req.Memory > 0 && req.MemoryReservation > req.Memory {
		writeError(w, apierror.Invalid("MemoryReservation %d cannot exceed Memory %d", req.MemoryReservation, req.Memory))
		return
	}

	var resources *types.ResourceLimits
	if req.Memory != 0 || req.MemorySwap != 0 || req.NanoCPUs != 0 || req.CPUShares != 0 {
		resources = &types.ResourceLimits{
			Memory:     req.Memory,
			MemorySwap: req.MemorySwap,
			NanoCPUs:   req.NanoCPUs,
			CPUShares:  req.CPUShares,
		}
	}
	var policy *types.RestartPolicy
	if req.RestartPolicy.Name != "" {
		policy = &types.RestartPolicy{
			Name:              types.RestartPolicyName(req.RestartPolicy.Name),
			MaximumRetryCount: req.RestartPolicy.MaximumRetryCount,
		}
	}

	if err := a.containers.Update(pathParam(r, "id"), resources, policy); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"Warnings": {}})
}

func (a *API) handleContainerWait(w http.ResponseWriter, r *http.Request) {
	code, err := a.containers.Wait(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, waitResponse{StatusCode: code})
}

func (a *API) handleContainerRemove(w http.ResponseWriter, r *http.Request) {
	force, err := queryBool(r, "force", false)
	if err != nil {
		writeError(w, err)
		return
	}
	removeVolumes, err := queryBool(r, "v", false)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := a.containers.Remove(r.Context(), pathParam(r, "id"), force, removeVolumes); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleContainerPrune(w http.ResponseWriter, r *http.Request) {
	filters, err := queryFilters(r)
	if err != nil {
		writeError(w, err)
		return
	}
	removed, err := a.containers.Prune(r.Context(), labelFilters(filters))
	if err != nil {
		writeError(w, err)
		return
	}
	if removed == nil {
		removed = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ContainersDeleted": removed,
		"SpaceReclaimed":    0,
	})
}

// logReadOptions assembles the shared since/until/tail/stream toggles the
// logs endpoint takes.
func logReadOptions(r *http.Request) (logstore.ReadOptions, error) {
	var opts logstore.ReadOptions
	var err error
	if opts.Stdout, err = queryBool(r, "stdout", false); err != nil {
		return opts, err
	}
	if opts.Stderr, err = queryBool(r, "stderr", false); err != nil {
		return opts, err
	}
	if !opts.Stdout && !opts.Stderr {
		return opts, apierror.Invalid("you must choose at least one stream")
	}
	if opts.Timestamps, err = queryBool(r, "timestamps", false); err != nil {
		return opts, err
	}
	if opts.Since, err = queryUnixTime(r, "since"); err != nil {
		return opts, err
	}
	if opts.Until, err = queryUnixTime(r, "until"); err != nil {
		return opts, err
	}
	if opts.Tail, err = queryTail(r); err != nil {
		return opts, err
	}
	return opts, nil
}

func (a *API) handleContainerLogs(w http.ResponseWriter, r *http.Request) {
	c, err := a.containers.Get(pathParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	opts, err := logReadOptions(r)
	if err != nil {
		writeError(w, err)
		return
	}
	follow, err := queryBool(r, "follow", false)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.docker.raw-stream")
	w.WriteHeader(http.StatusOK)
	fw := newFlushWriter(w)
	stdoutW, stderrW := upgrade.NewStreamWriters(fw, c.Tty)

	emit := func(rec logstore.Record) {
		line := rec.Log + "\n"
		if opts.Timestamps {
			line = rec.Time.Format(time.RFC3339Nano) + " " + line
		}
		dst := stdoutW
		if rec.Stream == "stderr" {
			dst = stderrW
		}
		_, _ = dst.Write([]byte(line))
	}

	if !follow {
		records, err := a.containers.Logs(c.ID, opts)
		if err != nil {
			return
		}
		for _, rec := range records {
			emit(rec)
		}
		return
	}

	// Follow: the emit callback turns write failures into context
	// cancellation so the file watcher stops when the client goes away.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	failAware := func(rec logstore.Record) {
		line := rec.Log + "\n"
		if opts.Timestamps {
			line = rec.Time.Format(time.RFC3339Nano) + " " + line
		}
		dst := stdoutW
		if rec.Stream == "stderr" {
			dst = stderrW
		}
		if _, err := dst.Write([]byte(line)); err != nil {
			cancel()
		}
	}
	_ = a.containers.FollowLogs(ctx, c.ID, opts, failAware)
}

func (a *API) handleContainerAttach(w http.ResponseWriter, r *http.Request) {
	c, err := a.containers.Get(pathParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	withStdin, err := queryBool(r, "stdin", false)
	if err != nil {
		writeError(w, err)
		return
	}
	withStdout, _ := queryBool(r, "stdout", false)
	withStderr, _ := queryBool(r, "stderr", false)
	withStream, _ := queryBool(r, "stream", false)
	withLogs, _ := queryBool(r, "logs", false)
	if !withStream && !withLogs {
		writeError(w, apierror.Invalid("at least one of stream or logs must be set"))
		return
	}

	// A container that already finished has no live stream to join; the
	// request degrades to a log replay, or a conflict if none was asked for.
	if c.Phase == types.PhaseExited || c.Phase == types.PhaseDead {
		if !withLogs {
			writeError(w, apierror.Conflict("container %s is not running", c.ID))
			return
		}
		withStream = false
	}

	var session *container.AttachSession
	if withStream {
		session, err = a.containers.RegisterAttach(c.ID, withStdin)
		if err != nil {
			writeError(w, err)
			return
		}
	}

	conn, err := upgrade.Hijack(w, r)
	if err != nil {
		writeError(w, apierror.Internal("attach: %v", err))
		return
	}
	defer conn.Close()

	stdoutW, stderrW := upgrade.NewStreamWriters(conn, c.Tty)

	// Historical records go out first, in timestamp order, before any live
	// byte - the same replay-then-stream contract the logs endpoint has.
	if withLogs {
		records, err := a.containers.Logs(c.ID, logstore.ReadOptions{
			Stdout: withStdout || c.Tty,
			Stderr: withStderr && !c.Tty,
			Tail:   logstore.TailAll,
		})
		if err == nil {
			for _, rec := range records {
				dst := stdoutW
				if rec.Stream == "stderr" {
					dst = stderrW
				}
				_, _ = dst.Write([]byte(rec.Log + "\n"))
			}
		}
	}

	if session == nil {
		return
	}

	if withStdin {
		go upgrade.PumpStdin(conn, session.Stdin())
	}

	// This loop is the session's completion point: the channel closes only
	// once the container has exited and every pending chunk was handed
	// over, so falling out of the range is exactly "exited and drained".
	for chunk := range session.Output() {
		if chunk.Stream == "stdout" && !withStdout {
			continue
		}
		if chunk.Stream == "stderr" && !withStderr {
			continue
		}
		dst := stdoutW
		if chunk.Stream == "stderr" {
			dst = stderrW
		}
		if _, err := dst.Write(chunk.Data); err != nil {
			// Client hung up; keep draining so the container's pumps never
			// block, but stop writing.
			for range session.Output() {
			}
			return
		}
	}
}

func (a *API) handleContainerStats(w http.ResponseWriter, r *http.Request) {
	c, err := a.containers.Get(pathParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	stream, err := queryBool(r, "stream", true)
	if err != nil {
		writeError(w, err)
		return
	}
	if c.Phase != types.PhaseRunning {
		writeError(w, apierror.Conflict("container %s is not running", c.ID))
		return
	}

	nw, ctx := newNDJSONWriter(r.Context(), w)

	var prev runtime.Stats
	sample := func() bool {
		s, err := a.containers.Stats(ctx, c.ID)
		if err != nil {
			return false
		}
		nw.Emit(toStatsResponse(c, s, prev))
		prev = s
		return true
	}

	if !stream {
		sample()
		return
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		if !sample() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (a *API) handleContainerTop(w http.ResponseWriter, r *http.Request) {
	lines, err := a.containers.Top(r.Context(), pathParam(r, "id"), r.URL.Query().Get("ps_args"))
	if err != nil {
		writeError(w, err)
		return
	}

	var titles []string
	processes := [][]string{}
	if len(lines) > 0 {
		titles = strings.Fields(lines[0])
		for _, line := range lines[1:] {
			fields := strings.Fields(line)
			if len(fields) == 0 {
				continue
			}
			// The command column may contain spaces; re-join the overflow.
			if len(fields) > len(titles) && len(titles) > 0 {
				head := fields[:len(titles)-1]
				tail := strings.Join(fields[len(titles)-1:], " ")
				fields = append(append([]string{}, head...), tail)
			}
			processes = append(processes, fields)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"Titles":    titles,
		"Processes": processes,
	})
}

func (a *API) handleContainerChanges(w http.ResponseWriter, r *http.Request) {
	paths, err := a.containers.Changes(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	type change struct {
		Path string `json:"Path"`
		Kind int    `json:"Kind"`
	}
	out := make([]change, 0, len(paths))
	for _, p := range paths {
		out = append(out, change{Path: p, Kind: 0})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleArchiveGet(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, apierror.Invalid("bad parameter: path is required"))
		return
	}
	w.Header().Set("Content-Type", "application/x-tar")
	if err := a.containers.GetArchive(r.Context(), pathParam(r, "id"), path, w); err != nil {
		// Headers may already be out; nothing more useful to do than log,
		// which GetArchive's caller chain already did.
		return
	}
}

func (a *API) handleArchivePut(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, apierror.Invalid("bad parameter: path is required"))
		return
	}
	if err := a.containers.PutArchive(r.Context(), pathParam(r, "id"), path, r.Body); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
