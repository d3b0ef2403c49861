package session

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/sboxhq/sbox/pkg/artifacts"
	"github.com/sboxhq/sbox/pkg/config"
	"github.com/sboxhq/sbox/pkg/events"
	"github.com/sboxhq/sbox/pkg/log"
	"github.com/sboxhq/sbox/pkg/types"
)

// exportsDir is where exported files land on the host, named with a
// timestamp so repeated exports never overwrite each other.
const exportsDir = "./exports/modified_datasets"

// exportableRoots are the only in-container trees Export will read from.
var exportableRoots = []string{
	config.ContainerDataPath,
	config.ContainerHeavyDataPath,
	config.ContainerExportPath,
	config.ContainerModifiedPath,
}

// Export copies one file out of the session's container into the host
// exports directory and ingests a copy so the result carries a signed
// download URL. Failures are reported in the result, not as an error.
func (m *Manager) Export(ctx context.Context, key, containerPath string) *types.ExportResult {
	lock := m.sessionLock(key)
	lock.Lock()
	defer lock.Unlock()

	sess := m.lookup(key)
	if sess == nil {
		return &types.ExportResult{Error: fmt.Sprintf("Session '%s' not found", key)}
	}
	m.touch(sess)

	clean := path.Clean(containerPath)
	if !exportable(clean) {
		return &types.ExportResult{Error: fmt.Sprintf("Path '%s' is not under an exportable directory", containerPath)}
	}

	exists, err := m.runtime.FileExists(ctx, sess.ContainerID, clean)
	if err != nil {
		return &types.ExportResult{Error: fmt.Sprintf("Failed to check file existence: %v", err)}
	}
	if !exists {
		return &types.ExportResult{Error: fmt.Sprintf("File '%s' does not exist in container", containerPath)}
	}

	if err := os.MkdirAll(exportsDir, 0o755); err != nil {
		return &types.ExportResult{Error: fmt.Sprintf("Failed to export file: %v", err)}
	}

	// Copy lands under its original name, then renames within the same
	// directory so the move never crosses filesystems.
	hostFile, err := m.runtime.CopyOut(ctx, sess.ContainerID, clean, exportsDir)
	if err != nil {
		return &types.ExportResult{Error: fmt.Sprintf("Failed to export file: %v", err)}
	}
	stamp := time.Now().Format("20060102_150405")
	final := filepath.Join(exportsDir, stamp+"_"+filepath.Base(clean))
	if err := os.Rename(hostFile, final); err != nil {
		_ = os.Remove(hostFile)
		return &types.ExportResult{Error: fmt.Sprintf("Failed to export file: %v", err)}
	}

	downloadURL := final
	if url := m.ingestExportCopy(sess.ID, final, filepath.Base(clean)); url != "" {
		downloadURL = url
	}

	abs, err := filepath.Abs(final)
	if err != nil {
		abs = final
	}

	m.publish(events.EventExportCompleted, sess.ID, fmt.Sprintf("exported %s", containerPath))
	log.Logger.Info().
		Str("component", "session.manager").
		Str("session_id", sess.ID).
		Str("container_path", containerPath).
		Str("host_path", abs).
		Msg("file exported")

	return &types.ExportResult{Success: true, HostPath: abs, DownloadURL: downloadURL}
}

// ingestExportCopy feeds a throwaway copy of the exported file through the
// ingestor, because ingestion consumes its source. The copy keeps the
// in-container basename so the descriptor's filename matches what the user
// asked to export. Returns the signed URL, or "" when ingestion failed.
func (m *Manager) ingestExportCopy(sessionID, hostPath, name string) string {
	tmpRoot, err := os.MkdirTemp("", "sbox-export-")
	if err != nil {
		log.Logger.Warn().
			Err(err).
			Str("component", "session.manager").
			Str("session_id", sessionID).
			Msg("failed to stage export copy")
		return ""
	}
	defer os.RemoveAll(tmpRoot)

	tmpCopy := filepath.Join(tmpRoot, name)
	if err := copyFile(hostPath, tmpCopy); err != nil {
		log.Logger.Warn().
			Err(err).
			Str("component", "session.manager").
			Str("session_id", sessionID).
			Msg("failed to copy export for ingestion")
		return ""
	}

	descriptors, err := m.ingestor.Ingest([]string{tmpCopy}, artifacts.Link{SessionID: sessionID})
	if err != nil {
		log.Logger.Warn().
			Err(err).
			Str("component", "session.manager").
			Str("session_id", sessionID).
			Msg("failed to ingest export copy")
		return ""
	}
	if len(descriptors) == 0 {
		return ""
	}
	return descriptors[0].URL
}

func exportable(clean string) bool {
	for _, root := range exportableRoots {
		if clean == root || strings.HasPrefix(clean, root+"/") {
			return true
		}
	}
	return false
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
