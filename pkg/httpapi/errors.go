package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/vesseld/vesseld/pkg/apierror"
	"github.com/vesseld/vesseld/pkg/log"
)

// errorResponse is the JSON error shape every 4xx/5xx carries.
type errorResponse struct {
	Message string `json:"message"`
}

// statusFor is the single kind-to-HTTP-status table. Handlers never pick
// status codes themselves; they return manager errors and let this decide.
func statusFor(err error) int {
	switch apierror.KindOf(err) {
	case apierror.KindNotFound:
		return http.StatusNotFound
	case apierror.KindConflict:
		return http.StatusConflict
	case apierror.KindInvalid:
		return http.StatusBadRequest
	case apierror.KindNotPermitted:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// writeError translates err into the Docker JSON error shape with the
// status the error's kind maps to.
func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		lg := log.WithComponent("httpapi")
		lg.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, errorResponse{Message: err.Error()})
}

// writeJSON marshals v with the given status. A nil v writes only headers,
// for endpoints whose success shape is an empty body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}
