package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/sboxhq/sbox/pkg/log"
	"github.com/sboxhq/sbox/pkg/types"
)

// Bind-mounted sessions keep a human-inspectable trail next to their
// artifacts: session.log is append-only JSONL, one entry per lifecycle
// event, and session_metadata.json is a small document rewritten on
// every change.
const (
	sessionLogFile      = "session.log"
	sessionMetadataFile = "session_metadata.json"
)

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// appendSessionLog writes one JSONL entry to the session's log file,
// stamping it when the caller did not. No-op outside bind mode; failures
// are logged, never surfaced.
func (m *Manager) appendSessionLog(sess *types.Session, entry map[string]any) {
	if sess.SessionDir == "" {
		return
	}
	if _, ok := entry["timestamp"]; !ok {
		entry["timestamp"] = nowISO()
	}

	line, err := json.Marshal(entry)
	if err != nil {
		log.Logger.Warn().
			Err(err).
			Str("component", "session.manager").
			Str("session_id", sess.ID).
			Msg("failed to encode session log entry")
		return
	}

	path := filepath.Join(sess.SessionDir, sessionLogFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Logger.Warn().
			Err(err).
			Str("component", "session.manager").
			Str("session_id", sess.ID).
			Msg("failed to open session log")
		return
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		log.Logger.Warn().
			Err(err).
			Str("component", "session.manager").
			Str("session_id", sess.ID).
			Msg("failed to append session log entry")
	}
}

// readSessionMetadata loads the metadata document. A missing or corrupt
// file yields an empty map so callers can always merge into it.
func readSessionMetadata(sessionDir string) map[string]any {
	meta := make(map[string]any)
	raw, err := os.ReadFile(filepath.Join(sessionDir, sessionMetadataFile))
	if err != nil {
		return meta
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return make(map[string]any)
	}
	return meta
}

func (m *Manager) writeSessionMetadata(sess *types.Session, meta map[string]any) {
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		log.Logger.Warn().
			Err(err).
			Str("component", "session.manager").
			Str("session_id", sess.ID).
			Msg("failed to encode session metadata")
		return
	}
	path := filepath.Join(sess.SessionDir, sessionMetadataFile)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		log.Logger.Warn().
			Err(err).
			Str("component", "session.manager").
			Str("session_id", sess.ID).
			Msg("failed to write session metadata")
	}
}

// mergeSessionMetadata applies updates on top of the existing document.
// No-op outside bind mode.
func (m *Manager) mergeSessionMetadata(sess *types.Session, updates map[string]any) {
	if sess.SessionDir == "" {
		return
	}
	meta := readSessionMetadata(sess.SessionDir)
	for k, v := range updates {
		meta[k] = v
	}
	m.writeSessionMetadata(sess, meta)
}

// writeInitialMetadata records the session's identity at creation time,
// replacing whatever a previous container under the same key left behind.
func (m *Manager) writeInitialMetadata(sess *types.Session) {
	if sess.SessionDir == "" {
		return
	}
	m.writeSessionMetadata(sess, map[string]any{
		"session_id":      sess.ID,
		"created_at":      sess.CreatedAt.Format(time.RFC3339),
		"container_id":    sess.ContainerID,
		"host_port":       sess.HostPort,
		"session_storage": string(sess.Storage),
		"dataset_access":  string(sess.DatasetAccess),
		"image":           sess.Image,
		"execution_count": sess.ExecutionCount,
		"last_used":       sess.LastUsed.Format(time.RFC3339),
	})
}

// storedExecutionCount recovers the execution counter from a previous
// life's metadata, so reattached sessions keep counting from where they
// stopped. JSON numbers decode as float64.
func storedExecutionCount(sessionDir string) int {
	if sessionDir == "" {
		return 0
	}
	if v, ok := readSessionMetadata(sessionDir)["execution_count"].(float64); ok {
		return int(v)
	}
	return 0
}
