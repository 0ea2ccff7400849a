//go:build darwin

package main

import (
	"path/filepath"

	"github.com/containerd/containerd"

	"github.com/vesseld/vesseld/pkg/config"
	"github.com/vesseld/vesseld/pkg/httpapi"
	"github.com/vesseld/vesseld/pkg/image"
	"github.com/vesseld/vesseld/pkg/runtime"
)

// buildRuntime selects the Lima-backed adapter on macOS. The image facade
// talks to the containerd instance running inside the Lima VM through its
// host-forwarded socket.
func buildRuntime(cfg config.Config, containerdSocket string) (runtime.Runtime, httpapi.ImageService, error) {
	rt := runtime.NewLimaRuntime(filepath.Join(cfg.Home, "lima"))

	if containerdSocket == "" {
		containerdSocket = filepath.Join(cfg.Home, "lima", "containerd.sock")
	}
	client, err := containerd.New(containerdSocket)
	if err != nil {
		return nil, nil, err
	}
	return rt, image.NewManager(client), nil
}
