package httpapi

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vesseld/vesseld/pkg/config"
	"github.com/vesseld/vesseld/pkg/container"
	execpkg "github.com/vesseld/vesseld/pkg/exec"
	"github.com/vesseld/vesseld/pkg/image"
	"github.com/vesseld/vesseld/pkg/network"
	"github.com/vesseld/vesseld/pkg/types"
	"github.com/vesseld/vesseld/pkg/volume"
)

// apiVersion is the Docker Engine API version this daemon speaks.
const (
	apiVersion    = "1.51"
	minAPIVersion = "1.24"
)

// ImageService is the slice of the image facade the handlers consume. It's
// an interface (unlike the other manager fields) because the real
// implementation needs a live containerd connection that handler tests
// have no business standing up.
type ImageService interface {
	Pull(ctx context.Context, ref string, onProgress func(image.ProgressEvent)) (*types.Image, error)
	Load(ctx context.Context, r io.Reader, onProgress func(image.ProgressEvent)) ([]*types.Image, error)
	List(ctx context.Context) ([]*types.Image, error)
	Inspect(ctx context.Context, ref string) (*types.Image, error)
	Delete(ctx context.Context, ref string, force bool) error
	Prune(ctx context.Context, usedRefs map[string]bool) ([]string, error)
}

// API holds every dependency the handlers need. One value of this is
// constructed by the daemon composition root and turned into an
// http.Handler by Router.
type API struct {
	cfg        config.Config
	containers *container.Manager
	images     ImageService
	networks   *network.Manager
	volumes    *volume.Manager
	execs      *execpkg.Manager
	version    string
}

// NewAPI wires an API value. version is the daemon build version reported
// by GET /version.
func NewAPI(cfg config.Config, containers *container.Manager, images ImageService, networks *network.Manager, volumes *volume.Manager, execs *execpkg.Manager, version string) *API {
	return &API{
		cfg:        cfg,
		containers: containers,
		images:     images,
		networks:   networks,
		volumes:    volumes,
		execs:      execs,
		version:    version,
	}
}

// Router builds the immutable route table with the middleware pipeline in
// front: request logger first, version normalizer second, so patterns only
// ever match canonical paths. A path that matches some route under a
// different method answers 405, not 404.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestLogger)
	r.Use(normalizeVersion)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Message: "page not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Message: "method not allowed"})
	})

	r.Get("/_ping", a.handlePing)
	r.Head("/_ping", a.handlePing)
	r.Get("/version", a.handleVersion)

	r.Route("/containers", func(r chi.Router) {
		r.Get("/json", a.handleContainerList)
		r.Post("/create", a.handleContainerCreate)
		r.Post("/prune", a.handleContainerPrune)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/json", a.handleContainerInspect)
			r.Post("/start", a.handleContainerStart)
			r.Post("/stop", a.handleContainerStop)
			r.Post("/kill", a.handleContainerKill)
			r.Post("/restart", a.handleContainerRestart)
			r.Post("/pause", a.handleContainerPause)
			r.Post("/unpause", a.handleContainerUnpause)
			r.Post("/rename", a.handleContainerRename)
			r.Post("/resize", a.handleContainerResize)
			r.Post("/update", a.handleContainerUpdate)
			r.Post("/wait", a.handleContainerWait)
			r.Post("/attach", a.handleContainerAttach)
			r.Get("/logs", a.handleContainerLogs)
			r.Get("/stats", a.handleContainerStats)
			r.Get("/top", a.handleContainerTop)
			r.Get("/changes", a.handleContainerChanges)
			r.Get("/archive", a.handleArchiveGet)
			r.Put("/archive", a.handleArchivePut)
			r.Post("/exec", a.handleExecCreate)
			r.Delete("/", a.handleContainerRemove)
		})
	})

	r.Route("/exec/{id}", func(r chi.Router) {
		r.Post("/start", a.handleExecStart)
		r.Post("/resize", a.handleExecResize)
		r.Get("/json", a.handleExecInspect)
	})

	r.Route("/images", func(r chi.Router) {
		r.Get("/json", a.handleImageList)
		r.Post("/create", a.handleImagePull)
		r.Post("/load", a.handleImageLoad)
		r.Post("/prune", a.handleImagePrune)
		r.Delete("/{name:.+}", a.handleImageDelete)
	})

	r.Route("/networks", func(r chi.Router) {
		r.Get("/", a.handleNetworkList)
		r.Post("/create", a.handleNetworkCreate)
		r.Post("/prune", a.handleNetworkPrune)
		r.Get("/{id}", a.handleNetworkInspect)
		r.Delete("/{id}", a.handleNetworkRemove)
		r.Post("/{id}/connect", a.handleNetworkConnect)
		r.Post("/{id}/disconnect", a.handleNetworkDisconnect)
	})

	r.Route("/volumes", func(r chi.Router) {
		r.Get("/", a.handleVolumeList)
		r.Post("/create", a.handleVolumeCreate)
		r.Post("/prune", a.handleVolumePrune)
		r.Get("/{name}", a.handleVolumeInspect)
		r.Delete("/{name}", a.handleVolumeRemove)
	})

	return r
}
