package portmap

import (
	"io"
	"net"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vesseld/vesseld/pkg/storage"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "vesseld.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	m, err := NewManager(store)
	require.NoError(t, err)
	return m
}

// echoTCPServer starts a listener that echoes back whatever it reads, and
// returns its "ip:port" backend address plus the bare port as an int.
func echoTCPServer(t *testing.T) (ip string, port int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				io.Copy(conn, conn)
			}()
		}
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	p, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, p
}

func freeTCPPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	p, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return p
}

func TestPublishAndUnpublish(t *testing.T) {
	m := newTestManager(t)
	backendIP, backendPort := echoTCPServer(t)

	hostPort := freeTCPPort(t)
	pm, err := m.Publish("c1", backendPort, "tcp", "127.0.0.1", hostPort, backendIP)
	require.NoError(t, err)
	require.Equal(t, "tcp", pm.Proto)
	require.Equal(t, hostPort, pm.HostPort)

	require.NoError(t, m.Unpublish("127.0.0.1", hostPort, "tcp"))
}

func TestPublishRejectsDuplicateReservation(t *testing.T) {
	m := newTestManager(t)
	backendIP, backendPort := echoTCPServer(t)

	hostPort := freeTCPPort(t)
	_, err := m.Publish("c1", backendPort, "tcp", "127.0.0.1", hostPort, backendIP)
	require.NoError(t, err)
	defer m.Unpublish("127.0.0.1", hostPort, "tcp")

	_, err = m.Publish("c2", backendPort, "tcp", "127.0.0.1", hostPort, backendIP)
	require.Error(t, err)
}

func TestPublishForwardsTraffic(t *testing.T) {
	m := newTestManager(t)
	backendIP, backendPort := echoTCPServer(t)

	hostPort := freeTCPPort(t)
	_, err := m.Publish("c1", backendPort, "tcp", "127.0.0.1", hostPort, backendIP)
	require.NoError(t, err)
	defer m.Unpublish("127.0.0.1", hostPort, "tcp")

	time.Sleep(50 * time.Millisecond)
	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(hostPort)))
	require.NoError(t, err)
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(2 * time.Second))
	_, err = conn.Write([]byte("ping"))
	require.NoError(t, err)

	buf := make([]byte, 4)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf))
}

func TestUnpublishContainerReleasesAllMappings(t *testing.T) {
	m := newTestManager(t)
	backendIP, backendPort := echoTCPServer(t)

	p1 := freeTCPPort(t)
	p2 := freeTCPPort(t)
	_, err := m.Publish("c1", backendPort, "tcp", "127.0.0.1", p1, backendIP)
	require.NoError(t, err)
	_, err = m.Publish("c1", backendPort, "tcp", "127.0.0.1", p2, backendIP)
	require.NoError(t, err)

	require.NoError(t, m.UnpublishContainer("c1"))

	list, err := m.List("c1")
	require.NoError(t, err)
	require.Empty(t, list)
}
