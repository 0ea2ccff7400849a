package daemon

import (
	"context"
	"fmt"
	"os"

	"github.com/vesseld/vesseld/pkg/config"
	"github.com/vesseld/vesseld/pkg/container"
	"github.com/vesseld/vesseld/pkg/events"
	execpkg "github.com/vesseld/vesseld/pkg/exec"
	"github.com/vesseld/vesseld/pkg/httpapi"
	"github.com/vesseld/vesseld/pkg/log"
	"github.com/vesseld/vesseld/pkg/logstore"
	"github.com/vesseld/vesseld/pkg/network"
	"github.com/vesseld/vesseld/pkg/portmap"
	"github.com/vesseld/vesseld/pkg/runtime"
	"github.com/vesseld/vesseld/pkg/storage"
	"github.com/vesseld/vesseld/pkg/volume"
)

// Daemon holds every long-lived subsystem for one vesseld process.
type Daemon struct {
	cfg config.Config

	store      storage.Store
	logs       *logstore.Store
	broker     *events.Broker
	rt         runtime.Runtime
	networks   *network.Manager
	volumes    *volume.Manager
	ports      *portmap.Manager
	execs      *execpkg.Manager
	containers *container.Manager
	server     *httpapi.Server
}

// New constructs the full daemon in dependency order: store, log store,
// then the leaf managers, then ContainerManager, then the API server. The
// runtime collaborator, image facade, and bridge controller are injected
// because their construction is platform- and deployment-specific (the cmd
// layer owns that choice).
func New(cfg config.Config, rt runtime.Runtime, images httpapi.ImageService, bridges network.BridgeController, version string) (*Daemon, error) {
	if err := os.MkdirAll(cfg.Home, 0o755); err != nil {
		return nil, fmt.Errorf("daemon: create home %s: %w", cfg.Home, err)
	}

	store, err := storage.Open(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("daemon: open state store: %w", err)
	}

	logs, err := logstore.NewStore(cfg.LogDir())
	if err != nil {
		store.Close()
		return nil, err
	}

	broker := events.NewBroker()

	networks := network.NewManager(store, bridges)
	volumes, err := volume.NewManager(store, cfg.VolumesDir())
	if err != nil {
		store.Close()
		return nil, err
	}
	ports, err := portmap.NewManager(store)
	if err != nil {
		store.Close()
		return nil, err
	}
	execs := execpkg.NewManager(rt)

	containers := container.New(store, rt, networks, volumes, ports, images, logs, execs, broker)

	api := httpapi.NewAPI(cfg, containers, images, networks, volumes, execs, version)
	server := httpapi.NewServer(cfg.SocketPath, api.Router())

	return &Daemon{
		cfg:        cfg,
		store:      store,
		logs:       logs,
		broker:     broker,
		rt:         rt,
		networks:   networks,
		volumes:    volumes,
		ports:      ports,
		execs:      execs,
		containers: containers,
		server:     server,
	}, nil
}

// Containers exposes the container manager for the cmd layer and tests.
func (d *Daemon) Containers() *container.Manager { return d.containers }

// Run brings the daemon up - defaults, recovery, then the API socket - and
// serves until Shutdown. Recovery runs to completion before the first
// request is accepted so no client ever observes a half-reconciled store.
func (d *Daemon) Run(ctx context.Context) error {
	d.broker.Start()

	if err := d.networks.EnsureDefaults(ctx); err != nil {
		return err
	}
	if err := d.containers.Recover(ctx); err != nil {
		return fmt.Errorf("daemon: startup recovery: %w", err)
	}

	if err := d.server.Listen(); err != nil {
		return err
	}
	lg := log.WithComponent("daemon")
	lg.Info().Str("home", d.cfg.Home).Msg("vesseld ready")
	return d.server.Serve()
}

// Shutdown stops accepting requests, drains in-flight handlers, and closes
// the store. It does not stop containers; their VMs do not outlive the
// daemon process, and the next process's Recover marks them exited (137).
func (d *Daemon) Shutdown(ctx context.Context) error {
	err := d.server.Shutdown(ctx)
	d.broker.Stop()
	if cerr := d.store.Close(); err == nil {
		err = cerr
	}
	return err
}
