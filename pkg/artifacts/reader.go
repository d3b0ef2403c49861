package artifacts

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sboxhq/sbox/pkg/log"
)

// SessionArtifact is one row of a session's artifact listing, ready to
// hand to a caller: metadata plus a freshly signed download URL.
type SessionArtifact struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	MIME        string `json:"mime"`
	Size        int64  `json:"size"`
	CreatedAt   string `json:"created_at"`
	DownloadURL string `json:"download_url"`
}

// Reader provides host-side read access to stored artifacts
type Reader struct {
	store  *Store
	signer *Signer
}

// NewReader creates a reader over a store and token signer
func NewReader(store *Store, signer *Signer) *Reader {
	return &Reader{store: store, signer: signer}
}

// Metadata returns the catalog row for an artifact
func (r *Reader) Metadata(artifactID string) (*Record, error) {
	return r.store.GetArtifact(artifactID)
}

// ReadBytes returns an artifact's content. A positive maxBytes truncates
// the result; zero or negative reads the whole blob.
func (r *Reader) ReadBytes(artifactID string, maxBytes int64) ([]byte, error) {
	rec, err := r.store.GetArtifact(artifactID)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(r.store.BlobPath(rec.SHA256))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrBlobMissing
		}
		return nil, fmt.Errorf("failed to open blob for %s: %w", artifactID, err)
	}
	defer f.Close()

	var reader io.Reader = f
	if maxBytes > 0 {
		reader = io.LimitReader(f, maxBytes)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob for %s: %w", artifactID, err)
	}
	return data, nil
}

// ReadText returns an artifact's content as text, replacing any invalid
// UTF-8 rather than failing. Truncation follows ReadBytes.
func (r *Reader) ReadText(artifactID string, maxBytes int64) (string, error) {
	data, err := r.ReadBytes(artifactID, maxBytes)
	if err != nil {
		return "", err
	}
	return strings.ToValidUTF8(string(data), "�"), nil
}

// ListSessionArtifacts returns download descriptors for every artifact
// linked to a session, newest first. Rows that cannot be signed are
// skipped with a warning.
func (r *Reader) ListSessionArtifacts(sessionID string) ([]SessionArtifact, error) {
	records, err := r.store.ListBySession(sessionID)
	if err != nil {
		return nil, err
	}

	out := make([]SessionArtifact, 0, len(records))
	for _, rec := range records {
		url, err := r.signer.DownloadURL(rec.ID)
		if err != nil {
			log.Logger.Warn().
				Err(err).
				Str("component", "artifacts.reader").
				Str("artifact_id", rec.ID).
				Msg("failed to sign download URL, skipping artifact")
			continue
		}

		filename := rec.Filename
		if filename == "" {
			filename = rec.ID
		}
		out = append(out, SessionArtifact{
			ID:          rec.ID,
			Filename:    filename,
			MIME:        rec.MIME,
			Size:        rec.Size,
			CreatedAt:   rec.CreatedAt,
			DownloadURL: url,
		})
	}
	return out, nil
}
