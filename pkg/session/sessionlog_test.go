package session

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sboxhq/sbox/pkg/types"
)

func readLogEntries(t *testing.T, sessionDir string) []map[string]any {
	t.Helper()
	f, err := os.Open(filepath.Join(sessionDir, sessionLogFile))
	if err != nil {
		t.Fatalf("open session log: %v", err)
	}
	defer f.Close()

	var entries []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var entry map[string]any
		if err := json.Unmarshal(sc.Bytes(), &entry); err != nil {
			t.Fatalf("bad log line %q: %v", sc.Text(), err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestAppendSessionLog(t *testing.T) {
	var mgr Manager
	sess := &types.Session{ID: "demo", SessionDir: t.TempDir()}

	mgr.appendSessionLog(sess, map[string]any{"event": "session_started", "host_port": 49213})
	mgr.appendSessionLog(sess, map[string]any{"event": "code_execution", "success": true})

	entries := readLogEntries(t, sess.SessionDir)
	if len(entries) != 2 {
		t.Fatalf("entry count = %d, want 2", len(entries))
	}
	if entries[0]["event"] != "session_started" {
		t.Errorf("first event = %v, want session_started", entries[0]["event"])
	}
	if entries[1]["event"] != "code_execution" {
		t.Errorf("second event = %v, want code_execution", entries[1]["event"])
	}
	for i, entry := range entries {
		ts, ok := entry["timestamp"].(string)
		if !ok {
			t.Fatalf("entry %d has no timestamp", i)
		}
		if _, err := time.Parse(time.RFC3339, ts); err != nil {
			t.Errorf("entry %d timestamp %q: %v", i, ts, err)
		}
	}
}

func TestAppendSessionLogKeepsCallerTimestamp(t *testing.T) {
	var mgr Manager
	sess := &types.Session{ID: "demo", SessionDir: t.TempDir()}

	mgr.appendSessionLog(sess, map[string]any{"event": "x", "timestamp": "2020-01-01T00:00:00Z"})

	entries := readLogEntries(t, sess.SessionDir)
	if entries[0]["timestamp"] != "2020-01-01T00:00:00Z" {
		t.Errorf("timestamp = %v, want caller value", entries[0]["timestamp"])
	}
}

func TestSessionMetadataRoundTrip(t *testing.T) {
	var mgr Manager
	now := time.Now().UTC()
	sess := &types.Session{
		ID:          "demo",
		ContainerID: "cid-0",
		Image:       "sbox-sandbox:latest",
		Storage:     types.SessionStorageBind,
		HostPort:    49213,
		SessionDir:  t.TempDir(),
		CreatedAt:   now,
		LastUsed:    now,
	}

	mgr.writeInitialMetadata(sess)
	mgr.mergeSessionMetadata(sess, map[string]any{"execution_count": 3, "last_used": nowISO()})

	meta := readSessionMetadata(sess.SessionDir)
	if meta["session_id"] != "demo" {
		t.Errorf("session_id = %v, want demo", meta["session_id"])
	}
	if meta["image"] != "sbox-sandbox:latest" {
		t.Errorf("image = %v, want sbox-sandbox:latest", meta["image"])
	}
	if got := storedExecutionCount(sess.SessionDir); got != 3 {
		t.Errorf("storedExecutionCount() = %d, want 3", got)
	}
}

func TestReadSessionMetadataTolerant(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		meta := readSessionMetadata(t.TempDir())
		if len(meta) != 0 {
			t.Errorf("metadata = %v, want empty", meta)
		}
	})

	t.Run("corrupt file", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, sessionMetadataFile), []byte("{not json"), 0o644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
		meta := readSessionMetadata(dir)
		if len(meta) != 0 {
			t.Errorf("metadata = %v, want empty", meta)
		}
		if got := storedExecutionCount(dir); got != 0 {
			t.Errorf("storedExecutionCount() = %d, want 0", got)
		}
	})
}

func TestStoredExecutionCountWithoutDir(t *testing.T) {
	if got := storedExecutionCount(""); got != 0 {
		t.Errorf("storedExecutionCount(\"\") = %d, want 0", got)
	}
}
