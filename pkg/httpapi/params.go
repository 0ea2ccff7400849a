package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vesseld/vesseld/pkg/apierror"
	"github.com/vesseld/vesseld/pkg/logstore"
)

// pathParam extracts a {name} capture from the matched route.
func pathParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

// queryBool reads a boolean query parameter. Docker's CLI sends "1"/"0" as
// often as "true"/"false", so both spellings are accepted; anything else is
// a 400 naming the parameter.
func queryBool(r *http.Request, name string, def bool) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	switch raw {
	case "1", "true", "True":
		return true, nil
	case "0", "false", "False":
		return false, nil
	}
	return false, apierror.Invalid("invalid value for %s: %q is not a boolean", name, raw)
}

// queryInt reads an integer query parameter, enforcing min as the lowest
// accepted value.
func queryInt(r *http.Request, name string, def, min int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apierror.Invalid("invalid value for %s: %q is not an integer", name, raw)
	}
	if n < min {
		return 0, apierror.Invalid("invalid value for %s: %d is below the minimum %d", name, n, min)
	}
	return n, nil
}

// queryUnixTime reads an epoch-seconds query parameter into a time.Time;
// zero value means the parameter was absent. Fractional timestamps
// ("1609459200.123456") are accepted the way dockerd accepts them.
func queryUnixTime(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" || raw == "0" {
		return time.Time{}, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return time.Time{}, apierror.Invalid("invalid value for %s: %q is not a timestamp", name, raw)
	}
	sec := int64(f)
	nsec := int64((f - float64(sec)) * 1e9)
	return time.Unix(sec, nsec), nil
}

// queryTail reads a tail spec: a positive record count or "all" (the
// default). The logstore sentinel TailAll carries the "all" case.
func queryTail(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("tail")
	if raw == "" || raw == "all" {
		return logstore.TailAll, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apierror.Invalid("invalid value for tail: %q is not a positive integer or \"all\"", raw)
	}
	return n, nil
}

// queryFilters decodes Docker's `filters` query parameter. Two encodings
// exist on the wire: the current map[string][]string and the legacy
// map[string]map[string]bool; both normalize to the former.
func queryFilters(r *http.Request) (map[string][]string, error) {
	raw := r.URL.Query().Get("filters")
	if raw == "" {
		return nil, nil
	}

	out := make(map[string][]string)
	if err := json.Unmarshal([]byte(raw), &out); err == nil {
		return out, nil
	}

	legacy := make(map[string]map[string]bool)
	if err := json.Unmarshal([]byte(raw), &legacy); err != nil {
		return nil, apierror.Invalid("invalid value for filters: %q is not a filter map", raw)
	}
	for k, set := range legacy {
		for v, on := range set {
			if on {
				out[k] = append(out[k], v)
			}
		}
	}
	return out, nil
}

// labelFilters extracts label=k and label=k=v entries from a parsed filter
// map into the key/value map the managers' prune and list filters take. A
// bare key matches any value, recorded here as the empty string.
func labelFilters(filters map[string][]string) map[string]string {
	if len(filters["label"]) == 0 {
		return nil
	}
	out := make(map[string]string, len(filters["label"]))
	for _, l := range filters["label"] {
		k, v := l, ""
		for i := 0; i < len(l); i++ {
			if l[i] == '=' {
				k, v = l[:i], l[i+1:]
				break
			}
		}
		out[k] = v
	}
	return out
}

// decodeJSONBody decodes r's body into v, capping the read at maxBytes.
// An empty body leaves v untouched, matching how Docker treats optional
// request bodies (POST .../stop with no body is legal).
func decodeJSONBody(r *http.Request, maxBytes int64, v any) error {
	if r.Body == nil {
		return nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBytes))
	if err != nil {
		return apierror.Invalid("read request body: %v", err)
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return apierror.Invalid("invalid JSON request body: %v", err)
	}
	return nil
}
