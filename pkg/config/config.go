// Package config holds the daemon's flat runtime configuration.
package config

import (
	"path/filepath"

	"github.com/vesseld/vesseld/pkg/log"
)

// Config is the daemon's full set of startup parameters. There is no
// external config-file format; every field is populated from CLI flags.
type Config struct {
	// SocketPath is the unix stream socket the API server listens on.
	SocketPath string

	// Home is the daemon's state directory: sqlite database, per-container
	// log files, volume mount points, and the runtime's scratch data all
	// live under here.
	Home string

	LogLevel log.Level
	LogJSON  bool

	// DefaultBridgeSubnet records the builtin bridge network's subnet,
	// e.g. "172.17.0.0/16". The network package does not read it; it uses
	// its own DefaultBridgeSubnet constant.
	DefaultBridgeSubnet string

	// NetworkAutoAllocBase and NetworkAutoAllocSize describe the pool of
	// user-defined /16 subnets. They are not read: the store's subnet cursor
	// hands out 172.18.0.0/16 through 172.31.0.0/16 on its own.
	NetworkAutoAllocBase string // "172.18.0.0"
	NetworkAutoAllocSize int    // 16, meaning /16 steps

	// MaxRequestBodyBytes caps decoded JSON request bodies.
	MaxRequestBodyBytes int64

	// VsockBridgeCID is the bridge controller's vsock context ID, dialed by
	// network.VsockBridgeController to program the host-side network bridge.
	// VsockBridgePort is not read; the controller always dials
	// network.BridgeControllerPort.
	VsockBridgeCID  uint32
	VsockBridgePort uint32
}

// Default returns a Config with production-sane defaults; callers override
// fields from flags before calling daemon.New.
func Default() Config {
	home := "/var/lib/vesseld"
	return Config{
		SocketPath:           filepath.Join(home, "vesseld.sock"),
		Home:                 home,
		LogLevel:             log.InfoLevel,
		LogJSON:              true,
		DefaultBridgeSubnet:  "172.17.0.0/16",
		NetworkAutoAllocBase: "172.18.0.0",
		NetworkAutoAllocSize: 16,
		MaxRequestBodyBytes:  64 << 20,
		VsockBridgePort:      9999,
	}
}

// DBPath is the sqlite database file under Home.
func (c Config) DBPath() string {
	return filepath.Join(c.Home, "state.db")
}

// LogDir is where per-container stdout/stderr logs are stored.
func (c Config) LogDir() string {
	return filepath.Join(c.Home, "logs")
}

// VolumesDir is where named volume mount points live.
func (c Config) VolumesDir() string {
	return filepath.Join(c.Home, "volumes")
}
