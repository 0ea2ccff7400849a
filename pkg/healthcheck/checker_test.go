package healthcheck

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vesseld/vesseld/pkg/runtime"
)

func TestHTTPCheckerStatusRanges(t *testing.T) {
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	c := &HTTPChecker{URL: srv.URL}

	res := c.Check(context.Background(), time.Second)
	require.True(t, res.Healthy)
	require.Contains(t, res.Output, "200")

	status = http.StatusInternalServerError
	res = c.Check(context.Background(), time.Second)
	require.False(t, res.Healthy)
}

func TestHTTPCheckerUnreachable(t *testing.T) {
	c := &HTTPChecker{URL: "http://127.0.0.1:1/nope"}
	res := c.Check(context.Background(), 200*time.Millisecond)
	require.False(t, res.Healthy)
}

func TestTCPChecker(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	c := &TCPChecker{Address: ln.Addr().String()}
	res := c.Check(context.Background(), time.Second)
	require.True(t, res.Healthy)

	ln.Close()
	res = c.Check(context.Background(), 200*time.Millisecond)
	require.False(t, res.Healthy)
}

func TestExecCheckerHealthyOnZeroExit(t *testing.T) {
	rt := runtime.NewMock()
	vmID, err := rt.CreateVM(context.Background(), runtime.VMSpec{ContainerID: "c1", Image: "alpine"})
	require.NoError(t, err)

	c := &ExecChecker{Runtime: rt, VMID: vmID, Cmd: []string{"test", "-f", "/tmp/ready"}}
	res := c.Check(context.Background(), time.Second)
	require.True(t, res.Healthy)
	require.False(t, res.CheckedAt.IsZero())
}

func TestExecCheckerNoCommand(t *testing.T) {
	c := &ExecChecker{Runtime: runtime.NewMock(), VMID: "x"}
	res := c.Check(context.Background(), time.Second)
	require.False(t, res.Healthy)
}
