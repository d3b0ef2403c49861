package runtime

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
)

const (
	// ReplPort is the fixed port the in-container REPL server listens on.
	ReplPort = "9000/tcp"

	// DefaultMemoryBytes caps each sandbox container at 8 GiB of RAM.
	DefaultMemoryBytes = 8 * 1024 * 1024 * 1024

	// DefaultNanoCPUs caps each sandbox container at two CPU cores.
	DefaultNanoCPUs = 2_000_000_000

	// DefaultStopTimeout is how long a container gets to exit cleanly
	// before the daemon kills it.
	DefaultStopTimeout = 10 * time.Second
)

// ContainerSpec describes a sandbox container to create. Mounts carry the
// bind mounts for the selected storage and dataset mode; Tmpfs carries
// in-memory mounts keyed by container path with docker option strings
// (e.g. "rw,size=1024m,mode=1777"). When PublishRepl is set the REPL port
// is bound to a random host port; otherwise the container is expected to
// be reached by name over Network.
type ContainerSpec struct {
	Name        string
	Image       string
	Env         []string
	Mounts      []mount.Mount
	Tmpfs       map[string]string
	Network     string
	Labels      map[string]string
	PublishRepl bool
	Memory      int64
	NanoCPUs    int64
}

// DockerRuntime implements container runtime operations against the
// Docker Engine API.
type DockerRuntime struct {
	client *client.Client
}

// NewDockerRuntime creates a new Docker runtime client from the
// environment (DOCKER_HOST et al), negotiating the API version with
// the daemon.
func NewDockerRuntime() (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to docker: %w", err)
	}

	return &DockerRuntime{client: cli}, nil
}

// Close closes the Docker client connection
func (r *DockerRuntime) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Ping verifies the Docker daemon is reachable
func (r *DockerRuntime) Ping(ctx context.Context) error {
	if _, err := r.client.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping docker daemon: %w", err)
	}
	return nil
}

// EnsureImage makes sure the image is available locally, pulling it from
// a registry when missing. Locally built images that exist under the
// given tag are used as-is.
func (r *DockerRuntime) EnsureImage(ctx context.Context, imageRef string) error {
	images, err := r.client.ImageList(ctx, image.ListOptions{
		Filters: filters.NewArgs(filters.Arg("reference", imageRef)),
	})
	if err != nil {
		return fmt.Errorf("failed to list images: %w", err)
	}
	if len(images) > 0 {
		return nil
	}

	reader, err := r.client.ImagePull(ctx, imageRef, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", imageRef, err)
	}
	defer reader.Close()

	// Drain the progress stream so the pull completes
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", imageRef, err)
	}

	return nil
}

// CreateContainer creates a sandbox container from the given spec and
// returns its ID. The container is not started.
func (r *DockerRuntime) CreateContainer(ctx context.Context, spec *ContainerSpec) (string, error) {
	memory := spec.Memory
	if memory == 0 {
		memory = DefaultMemoryBytes
	}
	nanoCPUs := spec.NanoCPUs
	if nanoCPUs == 0 {
		nanoCPUs = DefaultNanoCPUs
	}

	cfg := &container.Config{
		Image:  spec.Image,
		Env:    spec.Env,
		Labels: spec.Labels,
	}

	hostCfg := &container.HostConfig{
		Mounts: spec.Mounts,
		Tmpfs:  spec.Tmpfs,
		Resources: container.Resources{
			Memory:   memory,
			NanoCPUs: nanoCPUs,
		},
	}

	if spec.PublishRepl {
		// Empty binding publishes the REPL port on a random host port
		cfg.ExposedPorts = nat.PortSet{ReplPort: struct{}{}}
		hostCfg.PortBindings = nat.PortMap{ReplPort: []nat.PortBinding{{}}}
	}

	var netCfg *network.NetworkingConfig
	if spec.Network != "" {
		netCfg = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				spec.Network: {},
			},
		}
	}

	resp, err := r.client.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("failed to create container %s: %w", spec.Name, err)
	}

	return resp.ID, nil
}

// StartContainer starts a created or stopped container
func (r *DockerRuntime) StartContainer(ctx context.Context, containerID string) error {
	if err := r.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container %s: %w", containerID, err)
	}
	return nil
}

// StopContainer stops a running container, giving it the timeout to
// exit cleanly before the daemon kills it
func (r *DockerRuntime) StopContainer(ctx context.Context, containerID string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}
	seconds := int(timeout.Seconds())

	if err := r.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &seconds}); err != nil {
		return fmt.Errorf("failed to stop container %s: %w", containerID, err)
	}
	return nil
}

// RemoveContainer force-removes a container, stopping it first if needed
func (r *DockerRuntime) RemoveContainer(ctx context.Context, containerID string) error {
	err := r.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
	if err != nil {
		return fmt.Errorf("failed to remove container %s: %w", containerID, err)
	}
	return nil
}

// InspectContainer returns the full inspect payload for a container
func (r *DockerRuntime) InspectContainer(ctx context.Context, containerID string) (container.InspectResponse, error) {
	info, err := r.client.ContainerInspect(ctx, containerID)
	if err != nil {
		return container.InspectResponse{}, fmt.Errorf("failed to inspect container %s: %w", containerID, err)
	}
	return info, nil
}

// ContainerRunning reports whether the container exists and is running
func (r *DockerRuntime) ContainerRunning(ctx context.Context, containerID string) (bool, error) {
	info, err := r.client.ContainerInspect(ctx, containerID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to inspect container %s: %w", containerID, err)
	}
	return info.State != nil && info.State.Running, nil
}

// ListContainersByPrefix lists all containers (running or not) whose name
// starts with the given prefix.
func (r *DockerRuntime) ListContainersByPrefix(ctx context.Context, prefix string) ([]container.Summary, error) {
	containers, err := r.client.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", prefix)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	// The name filter matches substrings, so re-check for a true prefix
	matched := make([]container.Summary, 0, len(containers))
	for _, c := range containers {
		for _, name := range c.Names {
			if strings.HasPrefix(strings.TrimPrefix(name, "/"), prefix) {
				matched = append(matched, c)
				break
			}
		}
	}

	return matched, nil
}

// ExecRun executes a command inside a running container and returns the
// exit code together with the combined stdout and stderr output. An empty
// user runs as the image default.
func (r *DockerRuntime) ExecRun(ctx context.Context, containerID string, cmd []string, user string) (int, []byte, error) {
	code, stdout, stderr, err := r.execCapture(ctx, containerID, cmd, user)
	if err != nil {
		return -1, nil, err
	}
	return code, append(stdout, stderr...), nil
}

// execCapture runs a command and captures stdout and stderr separately.
func (r *DockerRuntime) execCapture(ctx context.Context, containerID string, cmd []string, user string) (int, []byte, []byte, error) {
	exec, err := r.client.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		User:         user,
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return -1, nil, nil, fmt.Errorf("failed to create exec in container %s: %w", containerID, err)
	}

	resp, err := r.client.ContainerExecAttach(ctx, exec.ID, container.ExecAttachOptions{})
	if err != nil {
		return -1, nil, nil, fmt.Errorf("failed to attach exec in container %s: %w", containerID, err)
	}
	defer resp.Close()

	// The attached stream multiplexes stdout and stderr
	var stdout, stderr strings.Builder
	if _, err := stdcopy.StdCopy(&stdout, &stderr, resp.Reader); err != nil {
		return -1, nil, nil, fmt.Errorf("failed to read exec output: %w", err)
	}

	inspect, err := r.client.ContainerExecInspect(ctx, exec.ID)
	if err != nil {
		return -1, nil, nil, fmt.Errorf("failed to inspect exec: %w", err)
	}

	return inspect.ExitCode, []byte(stdout.String()), []byte(stderr.String()), nil
}

// CopyFrom returns a tar stream of the given path inside the container
func (r *DockerRuntime) CopyFrom(ctx context.Context, containerID, path string) (io.ReadCloser, error) {
	reader, _, err := r.client.CopyFromContainer(ctx, containerID, path)
	if err != nil {
		return nil, fmt.Errorf("failed to copy %s from container %s: %w", path, containerID, err)
	}
	return reader, nil
}

// CopyTo extracts a tar archive into the given directory inside the container
func (r *DockerRuntime) CopyTo(ctx context.Context, containerID, destDir string, archive io.Reader) error {
	err := r.client.CopyToContainer(ctx, containerID, destDir, archive, container.CopyToContainerOptions{})
	if err != nil {
		return fmt.Errorf("failed to copy into container %s: %w", containerID, err)
	}
	return nil
}

// NetworkExists reports whether a docker network with the given name exists
func (r *DockerRuntime) NetworkExists(ctx context.Context, name string) (bool, error) {
	networks, err := r.client.NetworkList(ctx, network.ListOptions{
		Filters: filters.NewArgs(filters.Arg("name", name)),
	})
	if err != nil {
		return false, fmt.Errorf("failed to list networks: %w", err)
	}
	for _, n := range networks {
		if n.Name == name {
			return true, nil
		}
	}
	return false, nil
}

// PublishedPort extracts the host port a container port was published on
// from an inspect payload's port map.
func PublishedPort(ports nat.PortMap, port nat.Port) (int, error) {
	bindings, ok := ports[port]
	if !ok || len(bindings) == 0 {
		return 0, fmt.Errorf("port %s is not published", port)
	}
	hostPort, err := strconv.Atoi(bindings[0].HostPort)
	if err != nil {
		return 0, fmt.Errorf("failed to parse host port %q: %w", bindings[0].HostPort, err)
	}
	return hostPort, nil
}

// ContainerName returns the primary name of a listed container without
// the leading slash docker prepends.
func ContainerName(c container.Summary) string {
	if len(c.Names) == 0 {
		return ""
	}
	return strings.TrimPrefix(c.Names[0], "/")
}
