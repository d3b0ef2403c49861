package datasets

import (
	"context"
	"fmt"

	"github.com/sboxhq/sbox/pkg/log"
	"github.com/sboxhq/sbox/pkg/types"
)

// LoadPending stages each of the given dataset ids and flips its cache entry
// to LOADED, or to FAILED on the first error (which is returned along with
// the descriptors staged so far). Callers pass the PENDING subset; already
// staged ids are a no-op by that filter.
//
// HYBRID sessions prefer the read-only local mount: an id present under the
// hybrid local directory resolves to its mounted path without a fetch.
func (m *Manager) LoadPending(ctx context.Context, sessionID, containerID string, dsIDs []string) ([]*types.StagedDataset, error) {
	out := make([]*types.StagedDataset, 0, len(dsIDs))
	for _, dsID := range dsIDs {
		desc, err := m.loadOne(ctx, sessionID, containerID, dsID)
		if err != nil {
			if cerr := m.cache.UpdateStatus(sessionID, dsID, types.DatasetStatusFailed); cerr != nil {
				log.Logger.Warn().Err(cerr).
					Str("component", "datasets.sync").
					Str("session_id", sessionID).
					Str("dataset_id", dsID).
					Msg("failed to record dataset failure")
			}
			return out, fmt.Errorf("failed to load dataset %s: %w", dsID, err)
		}
		if err := m.cache.UpdateStatus(sessionID, dsID, types.DatasetStatusLoaded); err != nil {
			return out, err
		}
		out = append(out, desc)
	}
	return out, nil
}

func (m *Manager) loadOne(ctx context.Context, sessionID, containerID, dsID string) (*types.StagedDataset, error) {
	if m.cfg.UsesHybrid() && HybridLocalHit(m.cfg, dsID) {
		return &types.StagedDataset{
			ID:              dsID,
			PathInContainer: ContainerHybridPath(dsID),
			Source:          types.DatasetSourceLocal,
		}, nil
	}
	if m.cfg.UsesAPIStaging() {
		return m.Stage(ctx, sessionID, containerID, dsID)
	}
	// Read-only mount: the file is already in place
	return &types.StagedDataset{
		ID:              dsID,
		PathInContainer: ContainerROPath(dsID),
		Source:          types.DatasetSourceLocal,
	}, nil
}
