package httpapi

import (
	"net/http"
	"strings"

	"github.com/vesseld/vesseld/pkg/apierror"
	"github.com/vesseld/vesseld/pkg/container"
	"github.com/vesseld/vesseld/pkg/image"
	"github.com/vesseld/vesseld/pkg/types"
)

func (a *API) handleImageList(w http.ResponseWriter, r *http.Request) {
	filters, err := queryFilters(r)
	if err != nil {
		writeError(w, err)
		return
	}
	labels := labelFilters(filters)

	imgs, err := a.images.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]imageSummary, 0, len(imgs))
	for _, img := range imgs {
		if !matchesLabels(img.Labels, labels) {
			continue
		}
		if refs := filters["reference"]; len(refs) > 0 && !matchesReference(img, refs) {
			continue
		}
		out = append(out, toImageSummary(img))
	}
	writeJSON(w, http.StatusOK, out)
}

func matchesLabels(have map[string]string, want map[string]string) bool {
	for k, v := range want {
		got, ok := have[k]
		if !ok {
			return false
		}
		if v != "" && got != v {
			return false
		}
	}
	return true
}

func matchesReference(img *types.Image, refs []string) bool {
	for _, want := range refs {
		for _, tag := range img.RepoTags {
			if tag == want || strings.HasPrefix(tag, want+":") {
				return true
			}
		}
	}
	return false
}

// handleImagePull serves POST /images/create: an NDJSON progress stream
// that ends in a status line even on failure, because the CLI renders
// errors from the stream body once the 200 header is out.
func (a *API) handleImagePull(w http.ResponseWriter, r *http.Request) {
	ref := r.URL.Query().Get("fromImage")
	if ref == "" {
		writeError(w, apierror.Invalid("fromImage is required"))
		return
	}
	if tag := r.URL.Query().Get("tag"); tag != "" && !strings.Contains(ref, ":") {
		ref = ref + ":" + tag
	}

	if _, err := a.images.Inspect(r.Context(), ref); err == nil {
		nw, _ := newNDJSONWriter(r.Context(), w)
		nw.Emit(image.ProgressEvent{Status: "Status: Image is up to date for " + ref})
		return
	}

	nw, ctx := newNDJSONWriter(r.Context(), w)
	_, err := a.images.Pull(ctx, ref, func(ev image.ProgressEvent) {
		nw.Emit(ev)
	})
	if err != nil {
		nw.Emit(map[string]any{
			"errorDetail": map[string]string{"message": err.Error()},
			"error":       err.Error(),
		})
	}
}

func (a *API) handleImageLoad(w http.ResponseWriter, r *http.Request) {
	nw, ctx := newNDJSONWriter(r.Context(), w)
	_, err := a.images.Load(ctx, r.Body, func(ev image.ProgressEvent) {
		nw.Emit(ev)
	})
	if err != nil {
		nw.Emit(map[string]any{
			"errorDetail": map[string]string{"message": err.Error()},
			"error":       err.Error(),
		})
	}
}

func (a *API) handleImageDelete(w http.ResponseWriter, r *http.Request) {
	name := pathParam(r, "name")
	force, err := queryBool(r, "force", false)
	if err != nil {
		writeError(w, err)
		return
	}

	img, err := a.images.Inspect(r.Context(), name)
	if err != nil {
		writeError(w, apierror.NotFound("No such image: %s", name))
		return
	}
	if err := a.images.Delete(r.Context(), name, force); err != nil {
		writeError(w, err)
		return
	}

	out := []imageDeleteItem{{Untagged: name}, {Deleted: img.ID}}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleImagePrune(w http.ResponseWriter, r *http.Request) {
	containers, err := a.containers.List(container.ListFilters{All: true})
	if err != nil {
		writeError(w, err)
		return
	}
	used := make(map[string]bool, len(containers))
	for _, c := range containers {
		used[c.Image] = true
		used[c.ImageID] = true
	}

	removed, err := a.images.Prune(r.Context(), used)
	if err != nil {
		writeError(w, err)
		return
	}
	items := make([]imageDeleteItem, 0, len(removed))
	for _, ref := range removed {
		items = append(items, imageDeleteItem{Deleted: ref})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ImagesDeleted":  items,
		"SpaceReclaimed": 0,
	})
}
