package upgrade

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteFrame(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, StreamStdout, []byte("out\n")))

	want := []byte{0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x04, 'o', 'u', 't', '\n'}
	require.Equal(t, want, buf.Bytes())
}

func TestWriteFrameStderr(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, StreamStderr, []byte("err\n")))

	want := []byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x04, 'e', 'r', 'r', '\n'}
	require.Equal(t, want, buf.Bytes())
}

func TestWriteFrameEmptyPayloadIsNoop(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, StreamStdout, nil))
	require.Zero(t, buf.Len())
}

func TestStreamWritersMultiplexed(t *testing.T) {
	var buf bytes.Buffer
	stdout, stderr := NewStreamWriters(&buf, false)

	n, err := stdout.Write([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, 1, n)
	_, err = stderr.Write([]byte("bb"))
	require.NoError(t, err)

	want := []byte{
		0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01, 'a',
		0x02, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x02, 'b', 'b',
	}
	require.Equal(t, want, buf.Bytes())
}

func TestStreamWritersTTYUnframed(t *testing.T) {
	var buf bytes.Buffer
	stdout, stderr := NewStreamWriters(&buf, true)

	_, err := stdout.Write([]byte("raw"))
	require.NoError(t, err)
	_, err = stderr.Write([]byte("bytes"))
	require.NoError(t, err)

	require.Equal(t, "rawbytes", buf.String())
}

func TestIsUpgradeRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/exec/abc/start", nil)
	require.False(t, IsUpgradeRequest(r))

	r.Header.Set("Connection", "Upgrade")
	r.Header.Set("Upgrade", "tcp")
	require.True(t, IsUpgradeRequest(r))

	r.Header.Set("Upgrade", "websocket")
	require.False(t, IsUpgradeRequest(r))
}

func TestHijackHandshakeAndFrames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Hijack(w, r)
		require.NoError(t, err)
		defer conn.Close()

		stdout, stderr := NewStreamWriters(conn, false)
		_, _ = stdout.Write([]byte("out\n"))
		_, _ = stderr.Write([]byte("err\n"))
	}))
	defer srv.Close()

	conn, err := net.Dial("tcp", srv.Listener.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("POST /containers/x/attach HTTP/1.1\r\n" +
		"Host: vesseld\r\n" +
		"Connection: Upgrade\r\n" +
		"Upgrade: tcp\r\n\r\n"))
	require.NoError(t, err)

	br := bufio.NewReader(conn)
	status, err := br.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, status, "101 UPGRADED")

	// skip remaining response headers
	for {
		line, err := br.ReadString('\n')
		require.NoError(t, err)
		if line == "\r\n" {
			break
		}
	}

	body, err := io.ReadAll(br)
	require.NoError(t, err)
	want := []byte{
		0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x04, 'o', 'u', 't', '\n',
		0x02, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x04, 'e', 'r', 'r', '\n',
	}
	require.Equal(t, want, body)
}
