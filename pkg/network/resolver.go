package network

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sboxhq/sbox/pkg/config"
	"github.com/sboxhq/sbox/pkg/log"
	"github.com/sboxhq/sbox/pkg/types"
)

const (
	osReleasePath = "/proc/sys/kernel/osrelease"
	dockerEnvPath = "/.dockerenv"

	lookupTimeout = 2 * time.Second
)

// Resolver picks the address the daemon dials to reach a session's REPL.
//
// With the container strategy the daemon shares a Docker network with the
// sandboxes and dials them by container name on the fixed REPL port. With
// the host strategy each sandbox publishes its REPL on an ephemeral host
// port and the daemon dials <gateway>:<port>, where the gateway depends on
// where the daemon itself runs (bare host, WSL2, or inside a container).
type Resolver struct {
	cfg *config.Config

	once    sync.Once
	gateway string

	// detection seams, replaced in tests
	osRelease  string
	dockerEnv  string
	lookupHost func(ctx context.Context, host string) ([]string, error)
}

// NewResolver creates a resolver for the given configuration.
func NewResolver(cfg *config.Config) *Resolver {
	return &Resolver{
		cfg:        cfg,
		osRelease:  osReleasePath,
		dockerEnv:  dockerEnvPath,
		lookupHost: net.DefaultResolver.LookupHost,
	}
}

// ReplBaseURL returns the base URL for one session's REPL given its
// container name and published host port (ignored under the container
// strategy).
func (r *Resolver) ReplBaseURL(ctx context.Context, containerName string, hostPort int) string {
	if r.cfg.AddressStrategy == types.AddressStrategyContainer {
		return fmt.Sprintf("http://%s:%d", containerName, config.ContainerReplPort)
	}
	return fmt.Sprintf("http://%s:%d", r.HostGateway(ctx), hostPort)
}

// HostGateway returns the hostname used to reach published container ports.
// Detection runs once per process and is cached.
//
// An explicitly configured non-default gateway wins outright. Otherwise:
// WSL2 reaches published ports on localhost; a containerized daemon needs
// host.docker.internal; elsewhere host.docker.internal is used when it
// resolves, falling back to localhost.
func (r *Resolver) HostGateway(ctx context.Context) string {
	if r.cfg.HostGateway != "" && r.cfg.HostGateway != config.DefaultHostGateway {
		return r.cfg.HostGateway
	}
	r.once.Do(func() {
		r.gateway = r.detect(ctx)
		log.Logger.Debug().
			Str("component", "network.resolver").
			Str("gateway", r.gateway).
			Msg("detected host gateway")
	})
	return r.gateway
}

func (r *Resolver) detect(ctx context.Context) string {
	if raw, err := os.ReadFile(r.osRelease); err == nil {
		if strings.Contains(strings.ToLower(string(raw)), "microsoft") {
			// WSL2: published ports appear on localhost
			return "localhost"
		}
	}

	if _, err := os.Stat(r.dockerEnv); err == nil {
		// Daemon itself runs in a container
		return config.DefaultHostGateway
	}

	lctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()
	if _, err := r.lookupHost(lctx, config.DefaultHostGateway); err == nil {
		return config.DefaultHostGateway
	}
	return "localhost"
}
