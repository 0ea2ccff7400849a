package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newRequest(t *testing.T, method, url, body string) (*http.Request, error) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rdr)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// doRequest runs one request, asserts the status, and returns the body.
func doRequest(t *testing.T, srv *httptest.Server, method, path, body string, wantStatus int) string {
	t.Helper()
	req, _ := newRequest(t, method, srv.URL+path, body)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, wantStatus, resp.StatusCode, "%s %s: %s", method, path, raw)
	return string(raw)
}

func getJSON(t *testing.T, srv *httptest.Server, path string, wantStatus int, out any) {
	t.Helper()
	raw := doRequest(t, srv, "GET", path, "", wantStatus)
	require.NoError(t, json.Unmarshal([]byte(raw), out), raw)
}

func postJSON(t *testing.T, srv *httptest.Server, path, body string, wantStatus int, out any) {
	t.Helper()
	raw := doRequest(t, srv, "POST", path, body, wantStatus)
	if out != nil {
		require.NoError(t, json.Unmarshal([]byte(raw), out), raw)
	}
}

func createContainer(t *testing.T, srv *httptest.Server, body, name string) string {
	t.Helper()
	path := "/containers/create"
	if name != "" {
		path += "?name=" + name
	}
	var created createdResponse
	postJSON(t, srv, path, body, 201, &created)
	require.NotEmpty(t, created.Id)
	return created.Id
}
