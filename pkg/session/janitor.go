package session

import (
	"context"

	"github.com/docker/docker/api/types/container"

	"github.com/sboxhq/sbox/pkg/log"
	"github.com/sboxhq/sbox/pkg/runtime"
	"github.com/sboxhq/sbox/pkg/types"
)

// PruneRuntime is the container slice the janitor needs.
type PruneRuntime interface {
	ListContainersByPrefix(ctx context.Context, prefix string) ([]container.Summary, error)
	RemoveContainer(ctx context.Context, containerID string) error
}

// RecordStore is the registry slice the janitor prunes alongside the
// containers. Satisfied by *storage.BoltStore.
type RecordStore interface {
	ListSessions() ([]*types.Session, error)
	DeleteSession(id string) error
}

// PruneContainers force-removes every sandbox container and, when a
// registry is given, the session records that pointed at them. Returns
// the names of the containers actually removed; per-container failures
// are logged and skipped.
func PruneContainers(ctx context.Context, rt PruneRuntime, registry RecordStore) ([]string, error) {
	containers, err := rt.ListContainersByPrefix(ctx, ContainerNamePrefix)
	if err != nil {
		return nil, err
	}

	removed := make([]string, 0, len(containers))
	removedSet := make(map[string]bool, len(containers))
	for _, c := range containers {
		name := runtime.ContainerName(c)
		if err := rt.RemoveContainer(ctx, c.ID); err != nil {
			log.Logger.Warn().
				Err(err).
				Str("component", "session.janitor").
				Str("container", name).
				Msg("failed to remove sandbox container")
			continue
		}
		removed = append(removed, name)
		removedSet[name] = true
		log.Logger.Info().
			Str("component", "session.janitor").
			Str("container", name).
			Msg("removed sandbox container")
	}

	if registry != nil {
		records, err := registry.ListSessions()
		if err != nil {
			return removed, err
		}
		for _, rec := range records {
			if !removedSet[rec.ContainerName] {
				continue
			}
			if err := registry.DeleteSession(rec.ID); err != nil {
				log.Logger.Warn().
					Err(err).
					Str("component", "session.janitor").
					Str("session_id", rec.ID).
					Msg("failed to drop pruned session record")
			}
		}
	}

	return removed, nil
}
