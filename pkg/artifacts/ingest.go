package artifacts

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"github.com/sboxhq/sbox/pkg/log"
	"github.com/sboxhq/sbox/pkg/types"
)

const (
	// DefaultMaxSizeMB caps how large a single artifact may be.
	DefaultMaxSizeMB = 50

	// hashChunkSize is the read buffer for streaming sha-256.
	hashChunkSize = 1024 * 1024
)

// Ingestor moves freshly created files from a staging area into the
// artifact store: hash, dedup, blob copy, catalog rows, signed URL,
// source cleanup.
type Ingestor struct {
	store    *Store
	signer   *Signer
	maxBytes int64
}

// NewIngestor creates an ingestor bound to a store and token signer.
// maxSizeMB caps individual files; zero or negative selects the default.
func NewIngestor(store *Store, signer *Signer, maxSizeMB int) *Ingestor {
	if maxSizeMB <= 0 {
		maxSizeMB = DefaultMaxSizeMB
	}
	return &Ingestor{
		store:    store,
		signer:   signer,
		maxBytes: int64(maxSizeMB) * 1024 * 1024,
	}
}

// Ingest records each host file in the artifact store and returns one
// descriptor per file, in order. Files over the size cap produce a
// descriptor with an empty id and an error message, and their source is
// left in place; everything else is deleted from staging after its
// catalog rows commit. Paths that are not regular files are skipped
// silently. A non-nil error reports a store-level failure; descriptors
// accumulated up to that point are still returned.
func (ing *Ingestor) Ingest(hostFiles []string, link Link) ([]*types.Artifact, error) {
	descriptors := make([]*types.Artifact, 0, len(hostFiles))

	for _, hostPath := range hostFiles {
		if hostPath == "" {
			continue
		}
		fi, err := os.Stat(hostPath)
		if err != nil || !fi.Mode().IsRegular() {
			continue
		}

		name := filepath.Base(hostPath)
		size := fi.Size()

		if size > ing.maxBytes {
			// Over the cap: report, keep the source in place
			descriptors = append(descriptors, &types.Artifact{
				Name:      name,
				MIME:      sniffMIME(name),
				Size:      size,
				CreatedAt: nowISO(),
				Error:     fmt.Sprintf("File too large (> %d bytes).", ing.maxBytes),
			})
			continue
		}

		sha, err := fileSHA256(hostPath)
		if err != nil {
			return descriptors, fmt.Errorf("failed to hash %s: %w", hostPath, err)
		}
		mimeType := sniffMIME(name)
		createdAt := nowISO()

		id, err := ing.store.SaveArtifact(hostPath, name, sha, size, mimeType, createdAt, link)
		if err != nil {
			return descriptors, fmt.Errorf("failed to store %s: %w", hostPath, err)
		}

		desc := &types.Artifact{
			ID:        id,
			Name:      name,
			MIME:      mimeType,
			Size:      size,
			SHA256:    sha,
			CreatedAt: createdAt,
		}
		if ing.signer != nil {
			if url, err := ing.signer.DownloadURL(id); err == nil {
				desc.URL = url
			}
		}

		// Keep the staging area lean; the blob is the source of truth now
		if err := os.Remove(hostPath); err != nil {
			log.Logger.Warn().
				Err(err).
				Str("component", "artifacts.ingest").
				Str("path", hostPath).
				Msg("failed to delete ingested staging file")
		}

		descriptors = append(descriptors, desc)
	}

	return descriptors, nil
}

// fileSHA256 streams a file through sha-256 in fixed-size chunks
func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, hashChunkSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// sniffMIME guesses a MIME type from the filename extension
func sniffMIME(name string) string {
	if mt := mime.TypeByExtension(filepath.Ext(name)); mt != "" {
		return mt
	}
	return "application/octet-stream"
}
