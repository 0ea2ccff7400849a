package httpapi

import (
	"context"
	"io"
	"net/http"

	dockercontainer "github.com/docker/docker/api/types/container"

	"github.com/vesseld/vesseld/pkg/apierror"
	"github.com/vesseld/vesseld/pkg/log"
	"github.com/vesseld/vesseld/pkg/types"
	"github.com/vesseld/vesseld/pkg/upgrade"
)

func (a *API) handleExecCreate(w http.ResponseWriter, r *http.Request) {
	c, err := a.containers.Get(pathParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if c.Phase != types.PhaseRunning {
		writeError(w, apierror.Conflict("container %s is not running", c.ID))
		return
	}

	var req dockercontainer.ExecOptions
	if err := decodeJSONBody(r, a.cfg.MaxRequestBodyBytes, &req); err != nil {
		writeError(w, err)
		return
	}
	if len(req.Cmd) == 0 {
		writeError(w, apierror.Invalid("exec requires a command"))
		return
	}

	inst, err := a.execs.Create(c.ID, c.VMID, req.Cmd, req.Env, req.Tty, req.AttachStdin)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createdResponse{Id: inst.ID, Warnings: []string{}})
}

func (a *API) handleExecStart(w http.ResponseWriter, r *http.Request) {
	execID := pathParam(r, "id")
	inst, err := a.execs.Inspect(execID)
	if err != nil {
		writeError(w, err)
		return
	}

	var req dockercontainer.ExecStartOptions
	if err := decodeJSONBody(r, a.cfg.MaxRequestBodyBytes, &req); err != nil {
		writeError(w, err)
		return
	}

	// Detached: launch, discard stdio, answer immediately. The exec keeps
	// running; its result is visible through GET /exec/{id}/json.
	if req.Detach {
		go func() {
			if err := a.execs.Start(context.Background(), execID, nil, io.Discard, io.Discard); err != nil {
				lg := log.WithExecID(execID)
				lg.Warn().Err(err).Msg("detached exec failed")
			}
		}()
		writeJSON(w, http.StatusOK, nil)
		return
	}

	conn, err := upgrade.Hijack(w, r)
	if err != nil {
		writeError(w, apierror.Internal("exec start: %v", err))
		return
	}
	defer conn.Close()

	stdoutW, stderrW := upgrade.NewStreamWriters(conn, inst.Tty)

	var stdin io.Reader
	if inst.AttachStdin {
		pr, pw := io.Pipe()
		stdin = pr
		go upgrade.PumpStdin(conn, pw)
	}

	// Start blocks until the process exits and its output pumps finish, so
	// the deferred Close only runs once everything has been written - the
	// exec variant of the drain-before-close rule. The request context is
	// deliberately not threaded through: a client disconnect must not kill
	// the in-guest process.
	if err := a.execs.Start(context.Background(), execID, stdin, stdoutW, stderrW); err != nil {
		lg := log.WithExecID(execID)
		lg.Debug().Err(err).Msg("exec session ended with error")
	}
}

func (a *API) handleExecResize(w http.ResponseWriter, r *http.Request) {
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
	if err := a.execs.Resize(r.Context(), pathParam(r, "id"), uint16(wCols), uint16(h)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (a *API) handleExecInspect(w http.ResponseWriter, r *http.Request) {
	inst, err := a.execs.Inspect(pathParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toExecInspect(inst))
}
