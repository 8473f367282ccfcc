package clustertest

// DockerDiscoverer talks to the daemon directly through
// github.com/docker/docker's client package, rather than shelling out to the
// docker CLI, to genuinely exercise that dependency.

import (
	"context"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// DockerDiscoverer finds overlay peer containers by name suffix and
// attached network, the cluster-testing analogue of bootstrap.Discoverer.
type DockerDiscoverer struct {
	cli     *client.Client
	Suffix  string // container name fragment identifying an overlay peer, e.g. "overlay-node"
	Port    int    // the Dispatch port every peer container listens on
	Network string // docker network name peers are attached to
}

// NewDockerDiscoverer connects to the local Docker daemon using the
// environment's standard DOCKER_HOST/DOCKER_CERT_PATH/DOCKER_API_VERSION
// configuration.
func NewDockerDiscoverer(suffix string, port int, network string) (*DockerDiscoverer, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("clustertest: connect to docker daemon: %w", err)
	}
	return &DockerDiscoverer{
		cli:     cli,
		Suffix:  strings.TrimSpace(suffix),
		Port:    port,
		Network: strings.TrimSpace(network),
	}, nil
}

// Discover lists running containers, keeping those whose name contains
// Suffix and are attached to Network, and returns their "name:port"
// Dispatch addresses (container names resolve via Docker's embedded DNS on
// a user-defined network, so no IP lookup is needed).
func (d *DockerDiscoverer) Discover(ctx context.Context) ([]string, error) {
	containers, err := d.cli.ContainerList(ctx, container.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("clustertest: list containers: %w", err)
	}

	var addrs []string
	for _, c := range containers {
		name := strings.TrimPrefix(firstName(c.Names), "/")
		if name == "" || !strings.Contains(name, d.Suffix) {
			continue
		}
		if c.NetworkSettings == nil {
			continue
		}
		if _, onNetwork := c.NetworkSettings.Networks[d.Network]; !onNetwork {
			continue
		}
		addrs = append(addrs, fmt.Sprintf("%s:%d", name, d.Port))
	}
	return addrs, nil
}

func firstName(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

// Close releases the underlying Docker client connection.
func (d *DockerDiscoverer) Close() error {
	return d.cli.Close()
}
