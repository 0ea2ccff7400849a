package image

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProgressEventJSONShape(t *testing.T) {
	ev := ProgressEvent{
		Status: "Downloading",
		ID:     "a1b2c3d4e5f6",
		ProgressDetail: &ProgressDetail{
			Current: 512,
			Total:   1024,
		},
	}
	b, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(b, &decoded))
	require.Equal(t, "Downloading", decoded["status"])
	require.Equal(t, "a1b2c3d4e5f6", decoded["id"])
	detail := decoded["progressDetail"].(map[string]any)
	require.Equal(t, float64(512), detail["current"])
	require.Equal(t, float64(1024), detail["total"])
}

func TestProgressEventOmitsEmptyFields(t *testing.T) {
	ev := ProgressEvent{Status: "Pull complete"}
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	require.JSONEq(t, `{"status":"Pull complete"}`, string(b))
}

func TestShortDigestTruncates(t *testing.T) {
	long := "sha256:0123456789abcdef0123456789abcdef"
	require.Len(t, shortDigest(long), 19)
	require.Equal(t, "short", shortDigest("short"))
}
