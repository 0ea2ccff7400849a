//go:build linux

package main

import (
	"github.com/vesseld/vesseld/pkg/config"
	"github.com/vesseld/vesseld/pkg/httpapi"
	"github.com/vesseld/vesseld/pkg/image"
	"github.com/vesseld/vesseld/pkg/runtime"
)

// buildRuntime selects the containerd-backed adapter on Linux, sharing its
// client connection with the image facade.
func buildRuntime(cfg config.Config, containerdSocket string) (runtime.Runtime, httpapi.ImageService, error) {
	rt, err := runtime.NewContainerdRuntime(containerdSocket)
	if err != nil {
		return nil, nil, err
	}
	return rt, image.NewManager(rt.Client()), nil
}
