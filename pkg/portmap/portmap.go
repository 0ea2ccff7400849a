package portmap

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"

	"golang.org/x/time/rate"

	"github.com/vesseld/vesseld/pkg/log"
	"github.com/vesseld/vesseld/pkg/storage"
	"github.com/vesseld/vesseld/pkg/types"
)

// acceptRateLimit bounds how fast a single published TCP port accepts new
// connections, so a client hammering a published port can't spin up an
// unbounded number of proxy goroutines.
const acceptRateLimit = rate.Limit(500)

// key identifies a published port the way Docker does: bind address, port
// number, and protocol together must be unique across the whole daemon.
type key struct {
	hostIP   string
	hostPort int
	proto    string
}

func (k key) String() string { return fmt.Sprintf("%s:%d/%s", k.hostIP, k.hostPort, k.proto) }

type published struct {
	mapping  *types.PortMapping
	listener net.Listener // tcp
	conn     net.PacketConn
	cancel   context.CancelFunc
}

// Manager is the PortMapManager: it owns every published (bind-ip, port,
// proto) reservation and proxies traffic from the host listener into the
// backend address, which is the container's bridge-network IP - reachable
// from the host because the hypervisor plumbs that subnet onto the host
// routing table, not because vesseld reaches into the VM directly.
type Manager struct {
	mu        sync.Mutex
	store     storage.Store
	published map[key]*published
}

// NewManager wires a Manager against store, restoring any port mappings
// persisted from a previous daemon run.
func NewManager(store storage.Store) (*Manager, error) {
	m := &Manager{store: store, published: make(map[key]*published)}
	existing, err := m.store.ListPortMappings()
	if err != nil {
		return nil, err
	}
	for _, pm := range existing {
		k := key{pm.HostIP, pm.HostPort, pm.Proto}
		m.published[k] = &published{mapping: pm}
	}
	return m, nil
}

// Publish reserves hostIP:hostPort/proto for containerID and starts
// forwarding to backendIP:containerPort. It fails if the (bind-ip, port,
// proto) tuple is already published by any container.
func (m *Manager) Publish(containerID string, containerPort int, proto, hostIP string, hostPort int, backendIP string) (*types.PortMapping, error) {
	if proto == "" {
		proto = "tcp"
	}
	k := key{hostIP, hostPort, proto}

	m.mu.Lock()
	if _, exists := m.published[k]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("portmap: %s already published", k)
	}
	m.mu.Unlock()

	pm := &types.PortMapping{
		ContainerID:   containerID,
		ContainerPort: containerPort,
		Proto:         proto,
		HostIP:        hostIP,
		HostPort:      hostPort,
	}
	if err := m.store.CreatePortMapping(pm); err != nil {
		return nil, err
	}

	backend := fmt.Sprintf("%s:%d", backendIP, containerPort)
	ctx, cancel := context.WithCancel(context.Background())
	p := &published{mapping: pm, cancel: cancel}

	var err error
	switch proto {
	case "udp":
		err = m.startUDP(ctx, p, hostIP, hostPort, backend)
	default:
		err = m.startTCP(ctx, p, hostIP, hostPort, backend)
	}
	if err != nil {
		cancel()
		m.store.DeletePortMapping(hostIP, hostPort, proto)
		return nil, err
	}

	m.mu.Lock()
	m.published[k] = p
	m.mu.Unlock()
	return pm, nil
}

// Unpublish tears down the listener/proxy for hostIP:hostPort/proto and
// drops the reservation.
func (m *Manager) Unpublish(hostIP string, hostPort int, proto string) error {
	k := key{hostIP, hostPort, proto}

	m.mu.Lock()
	p, ok := m.published[k]
	delete(m.published, k)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	if p.cancel != nil {
		p.cancel()
	}
	if p.listener != nil {
		p.listener.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
	return m.store.DeletePortMapping(hostIP, hostPort, proto)
}

// UnpublishContainer releases every port mapping owned by containerID.
func (m *Manager) UnpublishContainer(containerID string) error {
	all, err := m.store.ListPortMappingsByContainer(containerID)
	if err != nil {
		return err
	}
	for _, pm := range all {
		if err := m.Unpublish(pm.HostIP, pm.HostPort, pm.Proto); err != nil {
			return err
		}
	}
	return nil
}

// List returns every published mapping for containerID.
func (m *Manager) List(containerID string) ([]*types.PortMapping, error) {
	return m.store.ListPortMappingsByContainer(containerID)
}

func (m *Manager) startTCP(ctx context.Context, p *published, hostIP string, hostPort int, backend string) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", hostIP, hostPort))
	if err != nil {
		return fmt.Errorf("portmap: listen %s:%d: %w", hostIP, hostPort, err)
	}
	p.listener = ln

	limiter := rate.NewLimiter(acceptRateLimit, int(acceptRateLimit))
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			if err := limiter.Wait(ctx); err != nil {
				conn.Close()
				return
			}
			go proxyTCP(conn, backend)
		}
	}()
	return nil
}

func proxyTCP(client net.Conn, backend string) {
	defer client.Close()
	upstream, err := net.Dial("tcp", backend)
	if err != nil {
		log.Errorf(fmt.Sprintf("portmap: dial backend %s", backend), err)
		return
	}
	defer upstream.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); io.Copy(upstream, client) }()
	go func() { defer wg.Done(); io.Copy(client, upstream) }()
	wg.Wait()
}

func (m *Manager) startUDP(ctx context.Context, p *published, hostIP string, hostPort int, backend string) error {
	conn, err := net.ListenPacket("udp", fmt.Sprintf("%s:%d", hostIP, hostPort))
	if err != nil {
		return fmt.Errorf("portmap: listen udp %s:%d: %w", hostIP, hostPort, err)
	}
	p.conn = conn

	backendAddr, err := net.ResolveUDPAddr("udp", backend)
	if err != nil {
		conn.Close()
		return fmt.Errorf("portmap: resolve backend %s: %w", backend, err)
	}

	go proxyUDP(ctx, conn, backendAddr)
	return nil
}

// proxyUDP runs a single goroutine that forwards client datagrams to the
// backend and relays backend replies back to whichever client last sent
// one - adequate for the request/response-shaped traffic containerized
// services typically see on a published UDP port.
func proxyUDP(ctx context.Context, front net.PacketConn, backend *net.UDPAddr) {
	upstream, err := net.DialUDP("udp", nil, backend)
	if err != nil {
		log.Errorf(fmt.Sprintf("portmap: dial udp backend %s", backend), err)
		return
	}
	defer upstream.Close()

	var lastClient net.Addr
	var mu sync.Mutex

	go func() {
		buf := make([]byte, 64*1024)
		for {
			n, err := upstream.Read(buf)
			if err != nil {
				return
			}
			mu.Lock()
			client := lastClient
			mu.Unlock()
			if client != nil {
				front.WriteTo(buf[:n], client)
			}
		}
	}()

	buf := make([]byte, 64*1024)
	for {
		n, addr, err := front.ReadFrom(buf)
		if err != nil {
			return
		}
		mu.Lock()
		lastClient = addr
		mu.Unlock()
		upstream.Write(buf[:n])

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}
