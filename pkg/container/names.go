package container

import "github.com/docker/docker/pkg/namesgenerator"

// generateName produces a Docker-style "adjective_surname" container name
// for create requests that don't supply one.
func generateName() string {
	return namesgenerator.GetRandomName(0)
}
