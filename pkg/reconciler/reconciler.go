package reconciler

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"

	"github.com/sboxhq/sbox/pkg/log"
	"github.com/sboxhq/sbox/pkg/metrics"
	"github.com/sboxhq/sbox/pkg/runtime"
	"github.com/sboxhq/sbox/pkg/session"
	"github.com/sboxhq/sbox/pkg/types"
)

// defaultInterval is used when no reconcile interval is configured.
const defaultInterval = time.Minute

// Registry is the persisted session index the reconciler prunes.
// Satisfied by *storage.BoltStore.
type Registry interface {
	ListSessions() ([]*types.Session, error)
	DeleteSession(id string) error
}

// LiveSessions is the in-memory session view. Satisfied by
// *session.Manager.
type LiveSessions interface {
	Get(key string) (*types.Session, bool)
}

// Runtime is the container slice the reconciler drives.
type Runtime interface {
	ContainerRunning(ctx context.Context, containerID string) (bool, error)
	ListContainersByPrefix(ctx context.Context, prefix string) ([]container.Summary, error)
	RemoveContainer(ctx context.Context, containerID string) error
}

// Options configure the reconciler.
type Options struct {
	Registry Registry
	Live     LiveSessions
	Runtime  Runtime

	// Interval between cycles (default one minute).
	Interval time.Duration

	// RemoveOrphans removes sandbox containers that neither the live
	// view nor the registry knows. Off by default: an orphan may be a
	// session another daemon instance is about to adopt.
	RemoveOrphans bool
}

// Reconciler keeps three views of session state agreeing: the registry
// on disk, the manager's live map, and the containers Docker actually
// runs. Records whose containers died are dropped so restarts do not
// adopt ghosts; unknown sandbox containers are reported or removed.
type Reconciler struct {
	registry Registry
	live     LiveSessions
	runtime  Runtime

	interval      time.Duration
	removeOrphans bool

	mu     sync.Mutex
	stopCh chan struct{}
}

// NewReconciler creates a reconciler. It does not run until Start.
func NewReconciler(opts Options) *Reconciler {
	interval := opts.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Reconciler{
		registry:      opts.Registry,
		live:          opts.Live,
		runtime:       opts.Runtime,
		interval:      interval,
		removeOrphans: opts.RemoveOrphans,
		stopCh:        make(chan struct{}),
	}
}

// Start begins the reconciliation loop.
func (r *Reconciler) Start() {
	go r.run()
}

// Stop stops the reconciler.
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

func (r *Reconciler) run() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Reconcile(context.Background())
		case <-r.stopCh:
			return
		}
	}
}

// Reconcile performs one cycle. Exported so the daemon can run a pass at
// startup before the ticker takes over.
func (r *Reconciler) Reconcile(ctx context.Context) {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconcileDuration)
		metrics.ReconcileCyclesTotal.Inc()
	}()

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.dropStaleRecords(ctx); err != nil {
		log.Logger.Warn().
			Err(err).
			Str("component", "reconciler").
			Msg("failed to reconcile session registry")
	}
	if err := r.sweepOrphans(ctx); err != nil {
		log.Logger.Warn().
			Err(err).
			Str("component", "reconciler").
			Msg("failed to sweep orphaned containers")
	}
}

// dropStaleRecords deletes registry rows whose containers are gone. A
// record with a running container but no live session is left alone; the
// manager adopts those on the next Start for that key.
func (r *Reconciler) dropStaleRecords(ctx context.Context) error {
	records, err := r.registry.ListSessions()
	if err != nil {
		return err
	}

	for _, rec := range records {
		if _, ok := r.live.Get(rec.ID); ok {
			continue
		}

		running, err := r.runtime.ContainerRunning(ctx, rec.ContainerName)
		if err != nil {
			log.Logger.Warn().
				Err(err).
				Str("component", "reconciler").
				Str("session_id", rec.ID).
				Msg("failed to check session container")
			continue
		}
		if running {
			continue
		}

		if err := r.registry.DeleteSession(rec.ID); err != nil {
			log.Logger.Warn().
				Err(err).
				Str("component", "reconciler").
				Str("session_id", rec.ID).
				Msg("failed to drop stale session record")
			continue
		}
		metrics.StaleRecordsDropped.Inc()
		log.Logger.Info().
			Str("component", "reconciler").
			Str("session_id", rec.ID).
			Str("container", rec.ContainerName).
			Msg("dropped stale session record")
	}
	return nil
}

// sweepOrphans finds sandbox-named containers that neither the live view
// nor the registry knows about.
func (r *Reconciler) sweepOrphans(ctx context.Context) error {
	containers, err := r.runtime.ListContainersByPrefix(ctx, session.ContainerNamePrefix)
	if err != nil {
		return err
	}

	known := map[string]bool{}
	records, err := r.registry.ListSessions()
	if err != nil {
		return err
	}
	for _, rec := range records {
		known[rec.ContainerName] = true
	}

	for _, c := range containers {
		name := runtime.ContainerName(c)
		if name == "" || known[name] {
			continue
		}
		key := strings.TrimPrefix(name, session.ContainerNamePrefix)
		if _, ok := r.live.Get(key); ok {
			continue
		}

		if !r.removeOrphans {
			log.Logger.Warn().
				Str("component", "reconciler").
				Str("container", name).
				Msg("found orphaned sandbox container")
			continue
		}

		if err := r.runtime.RemoveContainer(ctx, c.ID); err != nil {
			log.Logger.Warn().
				Err(err).
				Str("component", "reconciler").
				Str("container", name).
				Msg("failed to remove orphaned container")
			continue
		}
		metrics.OrphanContainersRemoved.Inc()
		log.Logger.Info().
			Str("component", "reconciler").
			Str("container", name).
			Msg("removed orphaned sandbox container")
	}
	return nil
}
