package artifacts

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound is returned when no catalog row exists for an artifact id.
	ErrNotFound = errors.New("artifact not found")

	// ErrBlobMissing is returned when a catalog row exists but its blob
	// file is gone (pruned or lost).
	ErrBlobMissing = errors.New("artifact blob missing")
)

// timeFormat renders timestamps with fixed-width microseconds so catalog
// rows sort correctly under plain string comparison.
const timeFormat = "2006-01-02T15:04:05.000000Z07:00"

func nowISO() string {
	return time.Now().UTC().Format(timeFormat)
}

const schema = `
CREATE TABLE IF NOT EXISTS artifacts (
    id TEXT PRIMARY KEY,
    sha256 TEXT NOT NULL UNIQUE,
    size INTEGER NOT NULL,
    mime TEXT NOT NULL,
    filename TEXT,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS links (
    artifact_id TEXT NOT NULL,
    session_id TEXT NOT NULL,
    run_id TEXT,
    tool_call_id TEXT,
    created_at TEXT NOT NULL,
    FOREIGN KEY (artifact_id) REFERENCES artifacts(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_artifacts_sha256 ON artifacts(sha256);
CREATE INDEX IF NOT EXISTS idx_links_artifact_id ON links(artifact_id);
CREATE INDEX IF NOT EXISTS idx_links_session ON links(session_id);
`

// Options configure where the artifact store keeps its pieces.
type Options struct {
	// DBPath is the SQLite catalog file.
	DBPath string

	// BlobDir is the root of the content-addressed blob tree.
	BlobDir string
}

// Record is one catalog row of the artifacts table
type Record struct {
	ID        string
	SHA256    string
	Size      int64
	MIME      string
	Filename  string
	CreatedAt string
}

// Link ties an artifact to the session (and optionally run and tool call)
// that produced it. Empty optional ids are stored as NULL.
type Link struct {
	SessionID  string
	RunID      string
	ToolCallID string
}

// Store is the content-addressed artifact store: file bytes live on disk
// under sha-256 derived paths, metadata lives in an embedded SQLite
// catalog. Safe for concurrent use.
type Store struct {
	db      *sql.DB
	blobDir string
}

// Open initializes the artifact store, creating the blob directory and
// the catalog schema when missing. Idempotent.
func Open(opts Options) (*Store, error) {
	if opts.DBPath == "" || opts.BlobDir == "" {
		return nil, fmt.Errorf("artifact store needs both a database path and a blob directory")
	}

	if err := os.MkdirAll(opts.BlobDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on&_busy_timeout=5000", opts.DBPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create artifact schema: %w", err)
	}

	return &Store{db: db, blobDir: opts.BlobDir}, nil
}

// Close closes the catalog database
func (s *Store) Close() error {
	return s.db.Close()
}

// BlobPath returns the on-disk location for a content hash, fanned out
// over two directory levels (ab/cd/abcd...).
func (s *Store) BlobPath(sha256 string) string {
	if len(sha256) < 4 {
		return filepath.Join(s.blobDir, sha256)
	}
	return filepath.Join(s.blobDir, sha256[:2], sha256[2:4], sha256)
}

// HasBlob reports whether the blob file for a content hash exists
func (s *Store) HasBlob(sha256 string) bool {
	_, err := os.Stat(s.BlobPath(sha256))
	return err == nil
}

// SaveArtifact records one file in the catalog: a dedup-upsert of the
// artifact row plus a fresh link row, committed in a single transaction.
// The blob is copied into place before the commit, so a failure leaves
// the catalog unchanged. Returns the artifact id, which is reused when
// the same content was stored before.
func (s *Store) SaveArtifact(srcPath, filename, sha256 string, size int64, mime, createdAt string, link Link) (string, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRow("SELECT id FROM artifacts WHERE sha256 = ?", sha256).Scan(&id)
	switch {
	case err == sql.ErrNoRows:
		if err := s.copyBlob(srcPath, sha256); err != nil {
			return "", err
		}
		id = newArtifactID()
		_, err = tx.Exec(
			"INSERT INTO artifacts (id, sha256, size, mime, filename, created_at) VALUES (?, ?, ?, ?, ?, ?)",
			id, sha256, size, mime, filename, createdAt,
		)
		if err != nil {
			return "", fmt.Errorf("failed to insert artifact row: %w", err)
		}
	case err != nil:
		return "", fmt.Errorf("failed to look up artifact by hash: %w", err)
	default:
		// Known content; restore the blob if it was pruned
		if !s.HasBlob(sha256) {
			if err := s.copyBlob(srcPath, sha256); err != nil {
				return "", err
			}
		}
	}

	_, err = tx.Exec(
		"INSERT INTO links (artifact_id, session_id, run_id, tool_call_id, created_at) VALUES (?, ?, ?, ?, ?)",
		id, link.SessionID, nullable(link.RunID), nullable(link.ToolCallID), createdAt,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert link row: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit artifact: %w", err)
	}
	return id, nil
}

// GetArtifact returns the catalog row for an artifact id
func (s *Store) GetArtifact(artifactID string) (*Record, error) {
	var (
		rec      Record
		filename sql.NullString
	)
	err := s.db.QueryRow(
		"SELECT id, sha256, size, mime, filename, created_at FROM artifacts WHERE id = ?",
		artifactID,
	).Scan(&rec.ID, &rec.SHA256, &rec.Size, &rec.MIME, &filename, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query artifact %s: %w", artifactID, err)
	}
	rec.Filename = filename.String
	return &rec, nil
}

// ListBySession returns the catalog rows linked to a session, newest
// first. Artifacts linked to the session more than once appear once per
// link.
func (s *Store) ListBySession(sessionID string) ([]Record, error) {
	rows, err := s.db.Query(
		`SELECT a.id, a.filename, a.mime, a.size, a.created_at
		 FROM artifacts a
		 JOIN links l ON a.id = l.artifact_id
		 WHERE l.session_id = ?
		 ORDER BY a.created_at DESC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query session artifacts: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec      Record
			filename sql.NullString
		)
		if err := rows.Scan(&rec.ID, &filename, &rec.MIME, &rec.Size, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan artifact row: %w", err)
		}
		rec.Filename = filename.String
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read session artifacts: %w", err)
	}
	return records, nil
}

// Stats summarizes the catalog: distinct artifacts, link rows, and the
// total size of stored content.
type Stats struct {
	Artifacts  int64
	Links      int64
	TotalBytes int64
}

// Stats returns catalog-wide counts used by monitoring
func (s *Store) Stats() (*Stats, error) {
	var st Stats
	err := s.db.QueryRow("SELECT COUNT(*), COALESCE(SUM(size), 0) FROM artifacts").Scan(&st.Artifacts, &st.TotalBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to count artifacts: %w", err)
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM links").Scan(&st.Links); err != nil {
		return nil, fmt.Errorf("failed to count links: %w", err)
	}
	return &st, nil
}

// copyBlob copies srcPath into the blob tree for the given hash, creating
// parent directories. An existing blob is left untouched.
func (s *Store) copyBlob(srcPath, sha256 string) error {
	dst := s.BlobPath(sha256)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create blob directory: %w", err)
	}
	if _, err := os.Stat(dst); err == nil {
		return nil
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create blob file: %w", err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("failed to write blob: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to finalize blob: %w", err)
	}
	return nil
}

// newArtifactID generates a short opaque artifact id ("art_" + 24 hex chars)
func newArtifactID() string {
	u := uuid.New()
	return "art_" + hex.EncodeToString(u[:])[:24]
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
