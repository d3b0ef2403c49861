package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/google/uuid"

	"github.com/sboxhq/sbox/pkg/artifacts"
	"github.com/sboxhq/sbox/pkg/config"
	"github.com/sboxhq/sbox/pkg/datasets"
	"github.com/sboxhq/sbox/pkg/events"
	"github.com/sboxhq/sbox/pkg/health"
	"github.com/sboxhq/sbox/pkg/log"
	"github.com/sboxhq/sbox/pkg/metrics"
	"github.com/sboxhq/sbox/pkg/network"
	"github.com/sboxhq/sbox/pkg/repl"
	"github.com/sboxhq/sbox/pkg/runtime"
	"github.com/sboxhq/sbox/pkg/storage"
	"github.com/sboxhq/sbox/pkg/types"
	"github.com/sboxhq/sbox/pkg/volume"
)

const (
	// ContainerNamePrefix is prepended to the session id to form the
	// container name, so sandbox containers are recognizable (and
	// listable) among everything else the engine runs.
	ContainerNamePrefix = "sbox-"

	// DefaultIdleTimeout is how long a session may sit unused before the
	// sweeper removes its container.
	DefaultIdleTimeout = 45 * time.Minute

	// DefaultSweepInterval is the period of the background idle sweep.
	DefaultSweepInterval = 5 * time.Minute

	// artifactsContainerDir is where sandbox code drops files it wants
	// captured; the exec flow diffs this tree before and after each run.
	artifactsContainerDir = config.ContainerSessionPath + "/artifacts"

	// artifactsRelPrefix keys snapshot entries relative to /session, so
	// container paths and host paths derive from the same string.
	artifactsRelPrefix = "artifacts/"

	anonPrefix = "anon-"

	labelSessionID = "sbox.session-id"
)

var (
	// ErrUnknownSession is returned for operations on a key with no live
	// session. Callers recover by calling Start first.
	ErrUnknownSession = errors.New("unknown or expired session key")

	// ErrInvalidKey is returned for session keys that cannot form a valid
	// container name.
	ErrInvalidKey = errors.New("invalid session key")
)

// Session keys become container name suffixes, so they inherit the engine's
// name alphabet.
var keyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// Runtime is the container engine surface the manager drives. Satisfied by
// *runtime.DockerRuntime; tests substitute a fake.
type Runtime interface {
	EnsureImage(ctx context.Context, imageRef string) error
	CreateContainer(ctx context.Context, spec *runtime.ContainerSpec) (string, error)
	StartContainer(ctx context.Context, containerID string) error
	RemoveContainer(ctx context.Context, containerID string) error
	InspectContainer(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerRunning(ctx context.Context, containerID string) (bool, error)
	ExecRun(ctx context.Context, containerID string, cmd []string, user string) (int, []byte, error)
	ListFiles(ctx context.Context, containerID, dir string) ([]string, error)
	CopyOut(ctx context.Context, containerID, srcPath, dstDir string) (string, error)
	FileExists(ctx context.Context, containerID, containerPath string) (bool, error)
}

// Options carries the manager's collaborators. Runtime and Ingestor are
// required; the rest are optional and skipped when nil.
type Options struct {
	Runtime  Runtime
	Ingestor *artifacts.Ingestor
	Registry *storage.BoltStore
	Monitor  *health.Monitor
	Broker   *events.Broker
	Datasets *datasets.Manager

	IdleTimeout   time.Duration // zero selects DefaultIdleTimeout
	SweepInterval time.Duration // zero selects DefaultSweepInterval
}

// Manager owns the per-conversation sandbox containers: it creates or
// reattaches one container per session key, executes code through the
// in-container REPL, captures new artifact files, and evicts idle sessions.
//
// The manager is shared across request handlers. Operations on distinct
// keys run in parallel; operations on the same key are serialized by a
// per-session mutex so concurrent execs cannot corrupt the before/after
// artifact diff.
type Manager struct {
	cfg      *config.Config
	runtime  Runtime
	repl     *repl.Client
	mounts   *volume.Assembler
	resolver *network.Resolver
	ingestor *artifacts.Ingestor

	registry *storage.BoltStore
	monitor  *health.Monitor
	broker   *events.Broker
	datasets *datasets.Manager

	idleTimeout   time.Duration
	sweepInterval time.Duration

	mu       sync.Mutex
	sessions map[string]*types.Session
	locks    map[string]*sync.Mutex

	stopCh    chan struct{}
	closeOnce sync.Once
}

// NewManager creates a session manager for the given configuration.
func NewManager(cfg *config.Config, opts Options) (*Manager, error) {
	if opts.Runtime == nil {
		return nil, fmt.Errorf("session manager requires a container runtime")
	}
	if opts.Ingestor == nil {
		return nil, fmt.Errorf("session manager requires an artifact ingestor")
	}

	idle := opts.IdleTimeout
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	sweep := opts.SweepInterval
	if sweep <= 0 {
		sweep = DefaultSweepInterval
	}

	return &Manager{
		cfg:           cfg,
		runtime:       opts.Runtime,
		repl:          repl.NewClient(),
		mounts:        volume.NewAssembler(cfg),
		resolver:      network.NewResolver(cfg),
		ingestor:      opts.Ingestor,
		registry:      opts.Registry,
		monitor:       opts.Monitor,
		broker:        opts.Broker,
		datasets:      opts.Datasets,
		idleTimeout:   idle,
		sweepInterval: sweep,
		sessions:      make(map[string]*types.Session),
		locks:         make(map[string]*sync.Mutex),
		stopCh:        make(chan struct{}),
	}, nil
}

// Start returns the live session for the given key, creating or reattaching
// its container as needed. An empty key gets a generated anonymous id.
// Idle sessions are swept first.
func (m *Manager) Start(ctx context.Context, key string) (*types.Session, error) {
	m.evictIdle(ctx)

	sid := key
	if sid == "" {
		sid = anonPrefix + uuid.NewString()[:8]
	}
	if !keyPattern.MatchString(sid) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	lock := m.sessionLock(sid)
	lock.Lock()
	defer lock.Unlock()

	if sess := m.lookup(sid); sess != nil {
		return cloneSession(sess), nil
	}

	name := ContainerNamePrefix + sid

	// A container may survive a manager restart; reattach instead of
	// colliding on the name.
	if info, err := m.runtime.InspectContainer(ctx, name); err == nil {
		sess, rerr := m.reattach(ctx, sid, name, info)
		if rerr == nil {
			return cloneSession(sess), nil
		}
		log.Logger.Warn().
			Err(rerr).
			Str("component", "session.manager").
			Str("session_id", sid).
			Str("container", name).
			Msg("failed to reattach to existing container, recreating")
		_ = m.runtime.RemoveContainer(ctx, name)
	}

	sess, err := m.create(ctx, sid, name)
	if err != nil {
		return nil, err
	}
	return cloneSession(sess), nil
}

// create builds mounts, runs the container, waits for the REPL, and
// registers the session.
func (m *Manager) create(ctx context.Context, sid, name string) (*types.Session, error) {
	plan, err := m.mounts.Plan(sid)
	if err != nil {
		return nil, err
	}

	if err := m.runtime.EnsureImage(ctx, m.cfg.SandboxImage); err != nil {
		return nil, err
	}

	spec := &runtime.ContainerSpec{
		Name:   name,
		Image:  m.cfg.SandboxImage,
		Mounts: plan.Binds,
		Tmpfs:  plan.Tmpfs,
		Labels: map[string]string{labelSessionID: sid},
	}
	if m.cfg.AddressStrategy == types.AddressStrategyContainer {
		spec.Network = m.cfg.ComposeNetwork
	} else {
		spec.PublishRepl = true
	}

	cid, err := m.runtime.CreateContainer(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("failed to create session container: %w", err)
	}
	if err := m.runtime.StartContainer(ctx, cid); err != nil {
		_ = m.runtime.RemoveContainer(ctx, cid)
		return nil, fmt.Errorf("failed to start session container: %w", err)
	}

	hostPort := 0
	if spec.PublishRepl {
		info, ierr := m.runtime.InspectContainer(ctx, cid)
		if ierr != nil {
			_ = m.runtime.RemoveContainer(ctx, cid)
			return nil, ierr
		}
		hostPort, err = publishedReplPort(info)
		if err != nil {
			_ = m.runtime.RemoveContainer(ctx, cid)
			return nil, err
		}
	}

	baseURL := m.resolver.ReplBaseURL(ctx, name, hostPort)

	if !m.repl.WaitReady(ctx, baseURL) {
		log.Logger.Warn().
			Str("component", "session.manager").
			Str("session_id", sid).
			Str("repl", baseURL).
			Msg("repl not ready after startup probe, proceeding anyway")
	}

	m.prepareContainerDirs(ctx, cid)

	now := time.Now().UTC()
	sess := &types.Session{
		ID:            sid,
		ContainerID:   cid,
		ContainerName: name,
		Image:         m.cfg.SandboxImage,
		Storage:       m.cfg.SessionStorage,
		DatasetAccess: m.cfg.DatasetAccess,
		HostPort:      hostPort,
		ReplAddress:   baseURL,
		SessionDir:    plan.SessionDir,
		State:         types.SessionStateRunning,
		CreatedAt:     now,
		LastUsed:      now,
	}
	m.register(sess)
	m.seedLocalDatasets(sid)

	if m.cfg.IsBind() {
		m.writeInitialMetadata(sess)
		m.appendSessionLog(sess, map[string]any{
			"event":        "session_started",
			"container_id": cid,
			"host_port":    hostPort,
		})
	}

	metrics.SessionsStarted.Inc()
	m.publish(events.EventSessionStarted, sid, "session container started")
	log.Logger.Info().
		Str("component", "session.manager").
		Str("session_id", sid).
		Str("container_id", cid).
		Str("repl", baseURL).
		Str("storage", string(sess.Storage)).
		Msg("session started")

	return sess, nil
}

// reattach adopts an existing container under the session's name, starting
// it first when stopped.
func (m *Manager) reattach(ctx context.Context, sid, name string, info container.InspectResponse) (*types.Session, error) {
	if info.ContainerJSONBase == nil || info.State == nil {
		return nil, fmt.Errorf("container %s inspect returned no state", name)
	}
	cid := info.ID

	if !info.State.Running {
		if err := m.runtime.StartContainer(ctx, cid); err != nil {
			return nil, fmt.Errorf("failed to restart container: %w", err)
		}
		// Host ports are reassigned on restart
		fresh, err := m.runtime.InspectContainer(ctx, cid)
		if err != nil {
			return nil, err
		}
		info = fresh
	}

	hostPort := 0
	if m.cfg.AddressStrategy == types.AddressStrategyHost {
		p, err := publishedReplPort(info)
		if err != nil {
			return nil, err
		}
		hostPort = p
	}

	sessionDir := ""
	if m.cfg.IsBind() {
		dir, err := m.mounts.EnsureSessionDir(sid)
		if err != nil {
			return nil, err
		}
		sessionDir = dir
	}

	baseURL := m.resolver.ReplBaseURL(ctx, name, hostPort)

	createdAt := time.Now().UTC()
	if t, err := time.Parse(time.RFC3339Nano, info.Created); err == nil {
		createdAt = t
	}

	sess := &types.Session{
		ID:             sid,
		ContainerID:    cid,
		ContainerName:  name,
		Image:          m.cfg.SandboxImage,
		Storage:        m.cfg.SessionStorage,
		DatasetAccess:  m.cfg.DatasetAccess,
		HostPort:       hostPort,
		ReplAddress:    baseURL,
		SessionDir:     sessionDir,
		State:          types.SessionStateRunning,
		ExecutionCount: storedExecutionCount(sessionDir),
		CreatedAt:      createdAt,
		LastUsed:       time.Now().UTC(),
	}
	m.register(sess)
	m.seedLocalDatasets(sid)

	if m.cfg.IsBind() {
		m.appendSessionLog(sess, map[string]any{
			"event":        "session_reattached",
			"container_id": cid,
			"host_port":    hostPort,
		})
		m.mergeSessionMetadata(sess, map[string]any{
			"container_id": cid,
			"host_port":    hostPort,
			"last_used":    nowISO(),
		})
	}

	m.publish(events.EventSessionReattached, sid, "reattached to existing container")
	log.Logger.Info().
		Str("component", "session.manager").
		Str("session_id", sid).
		Str("container_id", cid).
		Str("repl", baseURL).
		Msg("session reattached")

	return sess, nil
}

// Stop removes the session's container and drops every registration.
// Idempotent: unknown keys are a no-op. Container removal is best-effort.
func (m *Manager) Stop(ctx context.Context, key string) {
	lock := m.sessionLock(key)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	sess := m.sessions[key]
	delete(m.sessions, key)
	m.mu.Unlock()
	if sess == nil {
		return
	}

	m.teardown(ctx, sess)
	metrics.SessionsStopped.Inc()
	m.publish(events.EventSessionStopped, key, "session stopped")
	log.Logger.Info().
		Str("component", "session.manager").
		Str("session_id", key).
		Str("container_id", sess.ContainerID).
		Msg("session stopped")
}

// teardown force-removes the session's container and clears its monitor and
// registry entries. Shared by Stop and the idle sweeper.
func (m *Manager) teardown(ctx context.Context, sess *types.Session) {
	if m.cfg.IsBind() {
		m.appendSessionLog(sess, map[string]any{
			"event":        "session_stopped",
			"container_id": sess.ContainerID,
		})
		m.mergeSessionMetadata(sess, map[string]any{
			"stopped_at":            nowISO(),
			"final_execution_count": sess.ExecutionCount,
		})
	}

	if err := m.runtime.RemoveContainer(ctx, sess.ContainerID); err != nil {
		log.Logger.Debug().
			Err(err).
			Str("component", "session.manager").
			Str("session_id", sess.ID).
			Str("container_id", sess.ContainerID).
			Msg("failed to remove session container")
	}
	if m.monitor != nil {
		m.monitor.Untrack(sess.ID)
	}
	if m.registry != nil {
		if err := m.registry.DeleteSession(sess.ID); err != nil {
			log.Logger.Warn().
				Err(err).
				Str("component", "session.manager").
				Str("session_id", sess.ID).
				Msg("failed to delete session record")
		}
	}
}

// evictIdle removes sessions unused for longer than the idle timeout.
// Sessions whose lock is currently held are skipped: a running operation
// refreshes last_used anyway.
func (m *Manager) evictIdle(ctx context.Context) {
	cutoff := time.Now().Add(-m.idleTimeout)

	type evicted struct {
		sess *types.Session
		lock *sync.Mutex
	}

	m.mu.Lock()
	var expired []evicted
	for id, sess := range m.sessions {
		if !sess.LastUsed.Before(cutoff) {
			continue
		}
		lock := m.locks[id]
		if lock == nil || !lock.TryLock() {
			continue
		}
		delete(m.sessions, id)
		expired = append(expired, evicted{sess: sess, lock: lock})
	}
	m.mu.Unlock()

	for _, e := range expired {
		m.teardown(ctx, e.sess)
		e.lock.Unlock()
		metrics.SessionsEvicted.Inc()
		m.publish(events.EventSessionEvicted, e.sess.ID, "session evicted after idle timeout")
		log.Logger.Info().
			Str("component", "session.manager").
			Str("session_id", e.sess.ID).
			Str("container_id", e.sess.ContainerID).
			Dur("idle", time.Since(e.sess.LastUsed)).
			Msg("session evicted")
	}
}

// StartSweeper launches the background idle sweep loop.
func (m *Manager) StartSweeper() {
	go m.sweepLoop()
}

// Close stops the background sweeper. Running containers are left alone so
// a restarted manager can re-adopt them.
func (m *Manager) Close() {
	m.closeOnce.Do(func() { close(m.stopCh) })
}

func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.evictIdle(context.Background())
		case <-m.stopCh:
			return
		}
	}
}

// Adopt restores sessions recorded in the durable registry whose containers
// are still running, so a restarted daemon keeps serving them. Stale
// records are dropped; stopped containers are left in place for name-based
// reattach on the next Start. Returns the number of sessions adopted.
func (m *Manager) Adopt(ctx context.Context) (int, error) {
	if m.registry == nil {
		return 0, nil
	}
	records, err := m.registry.ListSessions()
	if err != nil {
		return 0, fmt.Errorf("failed to list registered sessions: %w", err)
	}

	adopted := 0
	for _, rec := range records {
		running, rerr := m.runtime.ContainerRunning(ctx, rec.ContainerID)
		if rerr != nil || !running {
			if derr := m.registry.DeleteSession(rec.ID); derr != nil {
				log.Logger.Warn().
					Err(derr).
					Str("component", "session.manager").
					Str("session_id", rec.ID).
					Msg("failed to drop stale session record")
			}
			log.Logger.Info().
				Str("component", "session.manager").
				Str("session_id", rec.ID).
				Str("container_id", rec.ContainerID).
				Msg("dropped stale session record")
			continue
		}

		// The gateway may differ from the previous process's detection
		rec.ReplAddress = m.resolver.ReplBaseURL(ctx, rec.ContainerName, rec.HostPort)
		rec.State = types.SessionStateRunning
		// A daemon restart should not mass-evict everything it adopts
		rec.LastUsed = time.Now().UTC()

		m.mu.Lock()
		m.sessions[rec.ID] = rec
		m.mu.Unlock()
		if m.monitor != nil {
			m.monitor.Track(rec.ID, health.NewREPLChecker(rec.ReplAddress))
		}
		if serr := m.registry.SaveSession(rec); serr != nil {
			log.Logger.Warn().
				Err(serr).
				Str("component", "session.manager").
				Str("session_id", rec.ID).
				Msg("failed to refresh session record")
		}
		adopted++
		log.Logger.Info().
			Str("component", "session.manager").
			Str("session_id", rec.ID).
			Str("container_id", rec.ContainerID).
			Str("repl", rec.ReplAddress).
			Msg("session adopted")
	}
	return adopted, nil
}

// Get returns a copy of one session's record.
func (m *Manager) Get(key string) (*types.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[key]
	if !ok {
		return nil, false
	}
	return cloneSession(sess), true
}

// Snapshot returns a point-in-time copy of every registered session,
// oldest first.
func (m *Manager) Snapshot() []*types.Session {
	m.mu.Lock()
	out := make([]*types.Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		out = append(out, cloneSession(sess))
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// register records the session in memory, the durable registry, and the
// health monitor. Caller holds the session's lock.
func (m *Manager) register(sess *types.Session) {
	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()

	if m.registry != nil {
		if err := m.registry.SaveSession(sess); err != nil {
			log.Logger.Warn().
				Err(err).
				Str("component", "session.manager").
				Str("session_id", sess.ID).
				Msg("failed to save session record")
		}
	}
	if m.monitor != nil {
		m.monitor.Track(sess.ID, health.NewREPLChecker(sess.ReplAddress))
	}
}

// prepareContainerDirs creates the writable directories the sandbox
// contract expects. Failures degrade artifact discovery and exports but do
// not block the session.
func (m *Manager) prepareContainerDirs(ctx context.Context, containerID string) {
	dirs := []string{config.ContainerExportPath, config.ContainerModifiedPath, artifactsContainerDir}

	mkdir := append([]string{"mkdir", "-p"}, dirs...)
	if code, out, err := m.runtime.ExecRun(ctx, containerID, mkdir, "root"); err != nil || code != 0 {
		log.Logger.Warn().
			Err(err).
			Str("component", "session.manager").
			Str("container_id", containerID).
			Str("output", string(out)).
			Msg("failed to create container directories")
		return
	}

	chmod := append([]string{"chmod", "777"}, dirs...)
	if code, out, err := m.runtime.ExecRun(ctx, containerID, chmod, "root"); err != nil || code != 0 {
		log.Logger.Warn().
			Err(err).
			Str("component", "session.manager").
			Str("container_id", containerID).
			Str("output", string(out)).
			Msg("failed to open container directory permissions")
	}
}

// seedLocalDatasets records read-only mounted datasets in the session's
// cache so they list as LOADED without an API round-trip.
func (m *Manager) seedLocalDatasets(sid string) {
	if m.datasets == nil || !m.cfg.UsesLocalRO() {
		return
	}
	if _, err := datasets.InitializeLocal(m.cfg, m.datasets.Cache(), sid); err != nil {
		log.Logger.Warn().
			Err(err).
			Str("component", "session.manager").
			Str("session_id", sid).
			Msg("failed to seed local datasets")
	}
}

// sessionLock returns the mutex serializing operations on one session key.
// Locks are never removed: a goroutine blocked on a key must wake holding
// the same mutex a later Start would use, so the map only grows with
// distinct keys seen.
func (m *Manager) sessionLock(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[id] = lock
	}
	return lock
}

// lookup returns the live session record. Caller holds the session's lock.
func (m *Manager) lookup(id string) *types.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

// touch refreshes the session's last-used stamp. Mutable session fields are
// written under mu so Snapshot and Get can clone concurrently.
func (m *Manager) touch(sess *types.Session) {
	m.mu.Lock()
	sess.LastUsed = time.Now().UTC()
	m.mu.Unlock()
}

func (m *Manager) publish(eventType events.EventType, sessionID, msg string) {
	if m.broker == nil {
		return
	}
	m.broker.Publish(&events.Event{Type: eventType, SessionID: sessionID, Message: msg})
}

func cloneSession(s *types.Session) *types.Session {
	c := *s
	return &c
}

// publishedReplPort extracts the host port the REPL was published on from
// an inspect payload.
func publishedReplPort(info container.InspectResponse) (int, error) {
	if info.NetworkSettings == nil {
		return 0, fmt.Errorf("container has no network settings")
	}
	port, err := runtime.PublishedPort(info.NetworkSettings.Ports, runtime.ReplPort)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve published repl port: %w", err)
	}
	return port, nil
}
