package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/vesseld/vesseld/pkg/config"
	"github.com/vesseld/vesseld/pkg/daemon"
	"github.com/vesseld/vesseld/pkg/log"
	"github.com/vesseld/vesseld/pkg/network"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var cfg = config.Default()

var (
	flagLogLevel string
	flagLogJSON  bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "vesseld",
	Short: "vesseld - Docker-compatible daemon for micro-VM containers",
	Long: `vesseld serves the Docker Engine API over a local unix socket while
running each container inside its own lightweight virtual machine.
Docker CLI, Compose, and ecosystem tooling work against it unchanged.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"vesseld version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&flagLogJSON, "log-json", false, "Force JSON log output (default: JSON unless stdout is a terminal)")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
}

// initLogging picks console output when stdout is an interactive terminal
// and JSON otherwise, unless --log-json forces the latter.
func initLogging() {
	jsonOut := flagLogJSON
	if !flagLogJSON {
		jsonOut = !term.IsTerminal(int(os.Stdout.Fd()))
	}
	log.Init(log.Options{
		Level: log.Level(flagLogLevel),
		JSON:  jsonOut,
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the vesseld daemon",
	RunE:  runServe,
}

var (
	flagContainerdSocket string
	flagBridgeCID        uint32
)

func init() {
	serveCmd.Flags().StringVar(&cfg.SocketPath, "socket", cfg.SocketPath, "Unix socket path for the Docker API")
	serveCmd.Flags().StringVar(&cfg.Home, "home", cfg.Home, "Daemon state directory")
	serveCmd.Flags().StringVar(&flagContainerdSocket, "containerd-socket", "", "Containerd socket path (auto-detected if not specified)")
	serveCmd.Flags().Uint32Var(&flagBridgeCID, "bridge-cid", cfg.VsockBridgeCID, "vsock context ID of the hypervisor network controller")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg.VsockBridgeCID = flagBridgeCID

	rt, images, err := buildRuntime(cfg, flagContainerdSocket)
	if err != nil {
		return fmt.Errorf("initialize runtime: %w", err)
	}

	var bridges network.BridgeController
	if cfg.VsockBridgeCID != 0 {
		bridges = network.NewVsockBridgeController(cfg.VsockBridgeCID)
	}

	d, err := daemon.New(cfg, rt, images, bridges, Version)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return d.Shutdown(shutdownCtx)
}
