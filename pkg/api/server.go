package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/sboxhq/sbox/pkg/artifacts"
	"github.com/sboxhq/sbox/pkg/config"
	"github.com/sboxhq/sbox/pkg/datasets"
	"github.com/sboxhq/sbox/pkg/log"
	"github.com/sboxhq/sbox/pkg/metrics"
	"github.com/sboxhq/sbox/pkg/types"
)

// portAttempts is how many consecutive ports are tried from the configured
// base before Start gives up.
const portAttempts = 5

// serverPortEnv is where the bound port is published for URL construction
// in this process and its children.
const serverPortEnv = "ARTIFACTS_SERVER_PORT"

// SessionService is the slice of the session manager the HTTP layer
// drives. Satisfied by *session.Manager.
type SessionService interface {
	Start(ctx context.Context, key string) (*types.Session, error)
	Exec(ctx context.Context, key, code string, timeout time.Duration) (*types.ExecResult, error)
	Stop(ctx context.Context, key string)
	Get(key string) (*types.Session, bool)
	Snapshot() []*types.Session
	StageDatasets(ctx context.Context, key string, datasetIDs []string) ([]*types.StagedDataset, error)
	Export(ctx context.Context, key, containerPath string) *types.ExportResult
}

// Options carry the server's collaborators. Store and Signer are required
// for the artifact endpoints; Sessions enables the control endpoints and
// Datasets the dataset listings.
type Options struct {
	Sessions SessionService
	Store    *artifacts.Store
	Signer   *artifacts.Signer
	Datasets *datasets.Manager

	// ListenHost restricts the bind address; empty binds all interfaces.
	ListenHost string

	// ListenPorts is an explicit candidate list tried in order. When
	// empty, Start probes portAttempts consecutive ports from the
	// configured base port.
	ListenPorts []int
}

// Server is the daemon's HTTP surface: token-checked artifact downloads,
// JSON control endpoints for the CLI, and the health and metrics mounts.
type Server struct {
	cfg      *config.Config
	sessions SessionService
	store    *artifacts.Store
	signer   *artifacts.Signer
	reader   *artifacts.Reader
	datasets *datasets.Manager

	host  string
	ports []int

	mux  *http.ServeMux
	http *http.Server

	mu   sync.Mutex
	ln   net.Listener
	port int
}

// NewServer creates the HTTP server. It does not bind until Start.
func NewServer(cfg *config.Config, opts Options) (*Server, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("api server requires an artifact store")
	}
	if opts.Signer == nil {
		return nil, fmt.Errorf("api server requires a token signer")
	}

	s := &Server{
		cfg:      cfg,
		sessions: opts.Sessions,
		store:    opts.Store,
		signer:   opts.Signer,
		reader:   artifacts.NewReader(opts.Store, opts.Signer),
		datasets: opts.Datasets,
		host:     opts.ListenHost,
		ports:    opts.ListenPorts,
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /artifacts/{id}", s.instrument("artifact_download", s.handleArtifactDownload))
	s.mux.HandleFunc("GET /artifacts/{id}/head", s.instrument("artifact_head", s.handleArtifactHead))

	s.mux.HandleFunc("POST /v1/exec", s.instrument("exec", s.handleExec))
	s.mux.HandleFunc("GET /v1/sessions", s.instrument("list_sessions", s.handleListSessions))
	s.mux.HandleFunc("GET /v1/sessions/{key}", s.instrument("get_session", s.handleGetSession))
	s.mux.HandleFunc("DELETE /v1/sessions/{key}", s.instrument("stop_session", s.handleStopSession))
	s.mux.HandleFunc("POST /v1/sessions/{key}/export", s.instrument("export", s.handleExport))
	s.mux.HandleFunc("POST /v1/sessions/{key}/datasets", s.instrument("stage_datasets", s.handleStageDatasets))
	s.mux.HandleFunc("GET /v1/sessions/{key}/datasets", s.instrument("list_datasets", s.handleListDatasets))
	s.mux.HandleFunc("GET /v1/sessions/{key}/artifacts", s.instrument("session_artifacts", s.handleSessionArtifacts))

	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /health", metrics.HealthHandler())
	s.mux.Handle("GET /ready", metrics.ReadyHandler())
	s.mux.Handle("GET /live", metrics.LivenessHandler())
	s.mux.Handle("GET /metrics", metrics.Handler())
}

// candidatePorts returns the ports Start will try, in order: the explicit
// listen list when configured, otherwise portAttempts consecutive ports
// from the configured base.
func (s *Server) candidatePorts() []int {
	if len(s.ports) > 0 {
		return s.ports
	}
	base := s.cfg.ServerPort
	if base == 0 {
		base = config.DefaultServerPort
	}
	out := make([]int, 0, portAttempts)
	for i := 0; i < portAttempts; i++ {
		out = append(out, base+i)
	}
	return out
}

// Start binds the first free candidate port, publishes the bound port for
// URL construction, and serves in the background. The returned port is the
// one actually bound.
func (s *Server) Start() (int, error) {
	candidates := s.candidatePorts()

	var (
		ln   net.Listener
		port int
		err  error
	)
	for _, p := range candidates {
		port = p
		ln, err = net.Listen("tcp", net.JoinHostPort(s.host, strconv.Itoa(port)))
		if err == nil {
			break
		}
		log.Logger.Debug().
			Err(err).
			Str("component", "api.server").
			Int("port", port).
			Msg("port unavailable, trying next")
	}
	if ln == nil {
		return 0, fmt.Errorf("failed to bind a server port from %v: %w", candidates, err)
	}

	s.signer.SetServerPort(port)
	if err := os.Setenv(serverPortEnv, strconv.Itoa(port)); err != nil {
		log.Logger.Warn().
			Err(err).
			Str("component", "api.server").
			Msg("failed to publish bound port")
	}

	s.mu.Lock()
	s.ln = ln
	s.port = port
	s.http = &http.Server{
		Handler:      s.mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	srv := s.http
	s.mu.Unlock()

	go func() {
		if serr := srv.Serve(ln); serr != nil && serr != http.ErrServerClosed {
			log.Logger.Error().
				Err(serr).
				Str("component", "api.server").
				Msg("http server stopped")
			metrics.UpdateComponent("api", false, serr.Error())
		}
	}()

	metrics.UpdateComponent("api", true, fmt.Sprintf("listening on :%d", port))
	log.Logger.Info().
		Str("component", "api.server").
		Int("port", port).
		Msg("api server listening")
	return port, nil
}

// Port returns the bound port, or zero before Start.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// Handler exposes the route table for tests and for embedding.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Shutdown drains in-flight requests and closes the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
