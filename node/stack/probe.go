package stack

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"golang.org/x/xerrors"
)

const projectLabel = "com.docker.compose.project"

// ProbeResult is the outcome of dialing one published port.
type ProbeResult struct {
	Service string
	Port    int
	Latency time.Duration
	Err     error
}

// Probe dials every host port of services on host concurrently.
func Probe(ctx context.Context, host string, services []ServiceSpec, timeout time.Duration) []ProbeResult {
	var results []ProbeResult
	for _, svc := range services {
		for _, p := range svc.Ports {
			results = append(results, ProbeResult{Service: svc.Name, Port: p.Host})
		}
	}

	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(r *ProbeResult) {
			defer wg.Done()

			dctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			started := time.Now()
			var d net.Dialer
			conn, err := d.DialContext(dctx, "tcp", net.JoinHostPort(host, strconv.Itoa(r.Port)))
			if err != nil {
				r.Err = err
				return
			}
			r.Latency = time.Since(started)
			conn.Close() //nolint:errcheck
		}(&results[i])
	}
	wg.Wait()

	return results
}

// Container is a running or stopped container of the stack.
type Container struct {
	ID      string
	Name    string
	Service string
	Image   string
	State   string
	Status  string
}

// ContainerLister is the part of the Docker client Ps needs.
type ContainerLister interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error)
}

// NewDockerClient connects to the daemon named by the DOCKER_* environment.
func NewDockerClient() (*client.Client, error) {
	c, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, xerrors.Errorf("docker client: %w", err)
	}
	return c, nil
}

// Ps lists the containers of the compose project, stopped ones included.
func Ps(ctx context.Context, cli ContainerLister, project string) ([]Container, error) {
	list, err := cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", projectLabel+"="+project)),
	})
	if err != nil {
		return nil, xerrors.Errorf("list containers: %w", err)
	}

	out := make([]Container, 0, len(list))
	for _, c := range list {
		name := ""
		if len(c.Names) > 0 {
			name = trimSlash(c.Names[0])
		}
		id := c.ID
		if len(id) > 12 {
			id = id[:12]
		}
		out = append(out, Container{
			ID:      id,
			Name:    name,
			Service: c.Labels["com.docker.compose.service"],
			Image:   c.Image,
			State:   c.State,
			Status:  c.Status,
		})
	}
	log.Debugf("%d container(s) in project %s", len(out), project)
	return out, nil
}

func trimSlash(s string) string {
	if len(s) > 0 && s[0] == '/' {
		return s[1:]
	}
	return s
}
