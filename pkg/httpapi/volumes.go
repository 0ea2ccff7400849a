package httpapi

import (
	"net/http"

	"github.com/vesseld/vesseld/pkg/apierror"
)

type volumeCreateRequest struct {
	Name       string            `json:"Name"`
	Driver     string            `json:"Driver"`
	DriverOpts map[string]string `json:"DriverOpts"`
	Labels     map[string]string `json:"Labels"`
}

func (a *API) handleVolumeCreate(w http.ResponseWriter, r *http.Request) {
	var req volumeCreateRequest
	if err := decodeJSONBody(r, a.cfg.MaxRequestBodyBytes, &req); err != nil {
		writeError(w, err)
		return
	}
	v, err := a.volumes.Create(req.Name, req.Driver, req.Labels, req.DriverOpts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toVolumeResource(v))
}

func (a *API) handleVolumeList(w http.ResponseWriter, r *http.Request) {
	filters, err := queryFilters(r)
	if err != nil {
		writeError(w, err)
		return
	}
	labels := labelFilters(filters)

	vols, err := a.volumes.List()
	if err != nil {
		writeError(w, err)
		return
	}
	out := volumeListResponse{Volumes: []volumeResource{}, Warnings: []string{}}
	for _, v := range vols {
		if !matchesLabels(v.Labels, labels) {
			continue
		}
		if dangling := filters["dangling"]; len(dangling) > 0 {
			wantDangling := dangling[0] == "true" || dangling[0] == "1"
			if wantDangling != (v.RefCount == 0) {
				continue
			}
		}
		if names := filters["name"]; len(names) > 0 && !containsString(names, v.Name) {
			continue
		}
		out.Volumes = append(out.Volumes, toVolumeResource(v))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleVolumeInspect(w http.ResponseWriter, r *http.Request) {
	v, err := a.volumes.Get(pathParam(r, "name"))
	if err != nil {
		writeError(w, apierror.NotFound("no such volume: %s", pathParam(r, "name")))
		return
	}
	writeJSON(w, http.StatusOK, toVolumeResource(v))
}

func (a *API) handleVolumeRemove(w http.ResponseWriter, r *http.Request) {
	force, err := queryBool(r, "force", false)
	if err != nil {
		writeError(w, err)
		return
	}
	name := pathParam(r, "name")
	if _, err := a.volumes.Get(name); err != nil {
		writeError(w, apierror.NotFound("no such volume: %s", name))
		return
	}
	if err := a.volumes.Remove(name, force); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleVolumePrune(w http.ResponseWriter, r *http.Request) {
	filters, err := queryFilters(r)
	if err != nil {
		writeError(w, err)
		return
	}
	labels := labelFilters(filters)

	vols, err := a.volumes.List()
	if err != nil {
		writeError(w, err)
		return
	}
	deleted := []string{}
	for _, v := range vols {
		if v.RefCount > 0 {
			continue
		}
		if !matchesLabels(v.Labels, labels) {
			continue
		}
		if err := a.volumes.Remove(v.Name, false); err != nil {
			continue
		}
		deleted = append(deleted, v.Name)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"VolumesDeleted": deleted,
		"SpaceReclaimed": 0,
	})
}
