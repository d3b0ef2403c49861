package session

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sboxhq/sbox/pkg/artifacts"
	"github.com/sboxhq/sbox/pkg/events"
	"github.com/sboxhq/sbox/pkg/log"
	"github.com/sboxhq/sbox/pkg/metrics"
	"github.com/sboxhq/sbox/pkg/repl"
	"github.com/sboxhq/sbox/pkg/types"
)

const (
	// cleanupTimeout bounds the post-exec housekeeping run inside the REPL.
	cleanupTimeout = 10 * time.Second

	// tmpfsSettleDelay gives tmpfs-backed writes a moment to land before
	// new artifacts are copied out.
	tmpfsSettleDelay = 30 * time.Millisecond
)

// cleanupCode runs in the sandbox after every exec: it releases figure
// memory and clears already-captured artifacts so the next diff starts
// from an empty tree.
const cleanupCode = `import gc
gc.collect()
try:
    import matplotlib.pyplot as _plt
    _plt.close('all')
except Exception:
    pass
import os as _os
_art = '/session/artifacts'
if _os.path.isdir(_art):
    for _root, _dirs, _files in _os.walk(_art, topdown=False):
        for _f in _files:
            try:
                _os.remove(_os.path.join(_root, _f))
            except OSError:
                pass
        for _d in _dirs:
            try:
                _os.rmdir(_os.path.join(_root, _d))
            except OSError:
                pass
`

// Exec runs code in the session's REPL and captures any files the run left
// under the artifact directory. The returned result carries the stdout and
// error text verbatim plus a descriptor per captured file.
//
// The artifact tree is snapshotted before and after the run; only paths new
// in the after set are ingested, so re-running the same code captures only
// what it newly produced.
func (m *Manager) Exec(ctx context.Context, key, code string, timeout time.Duration) (*types.ExecResult, error) {
	m.evictIdle(ctx)

	lock := m.sessionLock(key)
	lock.Lock()
	defer lock.Unlock()

	sess := m.lookup(key)
	if sess == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSession, key)
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ExecutionDuration)

	m.touch(sess)

	before, err := m.snapshotArtifacts(ctx, sess)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot artifacts before execution: %w", err)
	}

	resp, err := m.repl.Exec(ctx, sess.ReplAddress, code, timeout)
	if err != nil {
		metrics.ExecutionsTotal.WithLabelValues("transport_error").Inc()
		m.publish(events.EventExecFailed, sess.ID, "repl request failed")
		return nil, fmt.Errorf("failed to execute code in session %s: %w", sess.ID, err)
	}

	after, err := m.snapshotArtifacts(ctx, sess)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot artifacts after execution: %w", err)
	}
	newRels := diffSnapshots(before, after)

	// tmpfs writes can lag the exec response by a beat
	if m.cfg.IsTmpfs() && len(newRels) > 0 {
		time.Sleep(tmpfsSettleDelay)
	}

	hostFiles, staging, err := m.materialize(ctx, sess, newRels)
	if staging != "" {
		defer os.RemoveAll(staging)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to copy artifacts out of session %s: %w", sess.ID, err)
	}

	descriptors, err := m.ingestor.Ingest(hostFiles, artifacts.Link{SessionID: sess.ID})
	if err != nil {
		return nil, fmt.Errorf("failed to ingest artifacts for session %s: %w", sess.ID, err)
	}

	m.mu.Lock()
	sess.ExecutionCount++
	m.mu.Unlock()
	if m.registry != nil {
		if serr := m.registry.SaveSession(sess); serr != nil {
			log.Logger.Warn().
				Err(serr).
				Str("component", "session.manager").
				Str("session_id", sess.ID).
				Msg("failed to save session record")
		}
	}

	if m.cfg.IsBind() {
		effective := timeout
		if effective <= 0 {
			effective = repl.DefaultExecTimeout
		}
		m.appendSessionLog(sess, map[string]any{
			"event":   "code_execution",
			"code":    code,
			"success": resp.OK,
			"stdout":  resp.Stdout,
			"error":   resp.Error,
			"timeout": effective.Seconds(),
		})
		m.mergeSessionMetadata(sess, map[string]any{
			"execution_count": sess.ExecutionCount,
			"last_used":       nowISO(),
		})
		if len(descriptors) > 0 {
			summaries := make([]map[string]any, 0, len(descriptors))
			for _, d := range descriptors {
				summaries = append(summaries, map[string]any{
					"id":           d.ID,
					"filename":     d.Name,
					"content_type": d.MIME,
					"size_bytes":   d.Size,
				})
			}
			m.appendSessionLog(sess, map[string]any{
				"event":          "artifacts_created",
				"artifact_count": len(descriptors),
				"artifacts":      summaries,
			})
		}
	}

	m.cleanupREPL(ctx, sess)

	outcome := "ok"
	if !resp.OK {
		outcome = "error"
	}
	metrics.ExecutionsTotal.WithLabelValues(outcome).Inc()
	for _, d := range descriptors {
		if d.ID == "" {
			continue
		}
		metrics.ArtifactsIngested.Inc()
		metrics.ArtifactBytesIngested.Add(float64(d.Size))
	}

	if resp.OK {
		m.publish(events.EventExecCompleted, sess.ID, fmt.Sprintf("execution #%d completed", sess.ExecutionCount))
	} else {
		m.publish(events.EventExecFailed, sess.ID, fmt.Sprintf("execution #%d failed", sess.ExecutionCount))
	}
	log.Logger.Debug().
		Str("component", "session.manager").
		Str("session_id", sess.ID).
		Bool("success", resp.OK).
		Int("artifacts", len(descriptors)).
		Msg("execution finished")

	sessionDir := ""
	if m.cfg.IsBind() {
		sessionDir = sess.SessionDir
	}
	return &types.ExecResult{
		OK:         resp.OK,
		Stdout:     resp.Stdout,
		Error:      resp.Error,
		SessionDir: sessionDir,
		Artifacts:  descriptors,
	}, nil
}

// cleanupREPL runs housekeeping inside the sandbox after an exec. Any
// failure is ignored: the next diff simply sees a larger before set.
func (m *Manager) cleanupREPL(ctx context.Context, sess *types.Session) {
	if _, err := m.repl.Exec(ctx, sess.ReplAddress, cleanupCode, cleanupTimeout); err != nil {
		log.Logger.Debug().
			Err(err).
			Str("component", "session.manager").
			Str("session_id", sess.ID).
			Msg("post-exec cleanup failed")
	}
}

// StageDatasets loads the given datasets into the session's container via
// the configured staging path. Already-loaded ids are skipped. On failure
// the successfully staged prefix is returned alongside the error.
func (m *Manager) StageDatasets(ctx context.Context, key string, datasetIDs []string) ([]*types.StagedDataset, error) {
	lock := m.sessionLock(key)
	lock.Lock()
	defer lock.Unlock()

	sess := m.lookup(key)
	if sess == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSession, key)
	}
	if m.datasets == nil {
		return nil, nil
	}

	m.touch(sess)

	staged, err := m.datasets.LoadPending(ctx, sess.ID, sess.ContainerID, datasetIDs)
	for _, ds := range staged {
		metrics.DatasetsLoaded.WithLabelValues(string(ds.Source)).Inc()
		m.publish(events.EventDatasetLoaded, sess.ID, fmt.Sprintf("dataset %s staged at %s", ds.ID, ds.PathInContainer))
	}
	if err != nil {
		metrics.DatasetLoadFailures.Inc()
		m.publish(events.EventDatasetFailed, sess.ID, err.Error())
		return staged, err
	}
	return staged, nil
}
