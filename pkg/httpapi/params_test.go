package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vesseld/vesseld/pkg/logstore"
)

func TestQueryTail(t *testing.T) {
	tests := []struct {
		raw     string
		want    int
		wantErr bool
	}{
		{"", logstore.TailAll, false},
		{"all", logstore.TailAll, false},
		{"0", 0, false},
		{"25", 25, false},
		{"-3", 0, true},
		{"banana", 0, true},
	}
	for _, tt := range tests {
		r := httptest.NewRequest("GET", "/containers/x/logs?tail="+tt.raw, nil)
		got, err := queryTail(r)
		if tt.wantErr {
			require.Error(t, err, tt.raw)
			continue
		}
		require.NoError(t, err, tt.raw)
		require.Equal(t, tt.want, got, tt.raw)
	}
}

func TestQueryUnixTime(t *testing.T) {
	r := httptest.NewRequest("GET", "/x?since=1609459200", nil)
	got, err := queryUnixTime(r, "since")
	require.NoError(t, err)
	require.Equal(t, time.Unix(1609459200, 0), got)

	r = httptest.NewRequest("GET", "/x", nil)
	got, err = queryUnixTime(r, "since")
	require.NoError(t, err)
	require.True(t, got.IsZero())

	r = httptest.NewRequest("GET", "/x?since=notatime", nil)
	_, err = queryUnixTime(r, "since")
	require.Error(t, err)
}

func TestQueryFiltersBothEncodings(t *testing.T) {
	current := httptest.NewRequest("GET", `/x?filters={"label":["a=b"],"name":["web"]}`, nil)
	got, err := queryFilters(current)
	require.NoError(t, err)
	require.Equal(t, []string{"a=b"}, got["label"])
	require.Equal(t, []string{"web"}, got["name"])

	legacy := httptest.NewRequest("GET", `/x?filters={"label":{"a=b":true,"c=d":false}}`, nil)
	got, err = queryFilters(legacy)
	require.NoError(t, err)
	require.Equal(t, []string{"a=b"}, got["label"])
}

func TestLabelFilters(t *testing.T) {
	got := labelFilters(map[string][]string{"label": {"env=test", "team"}})
	require.Equal(t, map[string]string{"env": "test", "team": ""}, got)
	require.Nil(t, labelFilters(nil))
}

func TestNormalizeVersionPaths(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/v1.51/containers/json", "/containers/json"},
		{"/v1.24/_ping", "/_ping"},
		{"/containers/json", "/containers/json"},
		{"/v1.51", "/"},
		{"/version", "/version"},
	}
	for _, tt := range tests {
		var got, gotQuery string
		h := normalizeVersion(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = r.URL.Path
			gotQuery = r.URL.Query().Get("all")
		}))
		r := httptest.NewRequest("GET", tt.in+"?all=1", nil)
		h.ServeHTTP(httptest.NewRecorder(), r)
		require.Equal(t, tt.want, got, tt.in)
		require.Equal(t, "1", gotQuery, tt.in)
	}
}
