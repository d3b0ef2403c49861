package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sboxhq/sbox/pkg/artifacts"
	"github.com/sboxhq/sbox/pkg/datasets"
	"github.com/sboxhq/sbox/pkg/metrics"
	"github.com/sboxhq/sbox/pkg/repl"
	"github.com/sboxhq/sbox/pkg/session"
	"github.com/sboxhq/sbox/pkg/types"
)

// maxRequestBody caps JSON control-request bodies. Code payloads are small;
// anything larger is a client bug.
const maxRequestBody = 10 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

// requireSessions guards the control endpoints when the server was built
// without a session manager (artifact-only mode).
func (s *Server) requireSessions(w http.ResponseWriter) bool {
	if s.sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "session service unavailable")
		return false
	}
	return true
}

// handleArtifactDownload streams a blob after four checks in order: token
// validity, token/id match, catalog row, blob on disk. Each failure maps
// to its own status so clients can tell expired links from pruned blobs.
func (s *Server) handleArtifactDownload(w http.ResponseWriter, r *http.Request) {
	artifactID := r.PathValue("id")

	claims, err := s.signer.VerifyToken(r.URL.Query().Get("token"))
	if err != nil {
		metrics.ArtifactDownloads.WithLabelValues("unauthorized").Inc()
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if claims.ArtifactID != artifactID {
		metrics.ArtifactDownloads.WithLabelValues("forbidden").Inc()
		writeError(w, http.StatusForbidden, "token does not match artifact")
		return
	}

	rec, err := s.store.GetArtifact(artifactID)
	if errors.Is(err, artifacts.ErrNotFound) {
		metrics.ArtifactDownloads.WithLabelValues("not_found").Inc()
		writeError(w, http.StatusNotFound, "artifact not found")
		return
	}
	if err != nil {
		metrics.ArtifactDownloads.WithLabelValues("error").Inc()
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load artifact: %v", err))
		return
	}

	f, err := os.Open(s.store.BlobPath(rec.SHA256))
	if err != nil {
		metrics.ArtifactDownloads.WithLabelValues("gone").Inc()
		writeError(w, http.StatusGone, "artifact blob missing")
		return
	}
	defer f.Close()

	filename := rec.Filename
	if filename == "" {
		filename = rec.ID
	}
	contentType := rec.MIME
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	http.ServeContent(w, r, "", time.Time{}, f)
	metrics.ArtifactDownloads.WithLabelValues("ok").Inc()
}

// artifactHeadResponse mirrors the catalog row for metadata-only requests.
type artifactHeadResponse struct {
	ID        string `json:"id"`
	SHA256    string `json:"sha256"`
	MIME      string `json:"mime"`
	Filename  string `json:"filename"`
	Size      int64  `json:"size"`
	CreatedAt string `json:"created_at"`
}

// handleArtifactHead runs the same token checks as download but returns
// metadata only. The blob is not touched, so a pruned blob still answers.
func (s *Server) handleArtifactHead(w http.ResponseWriter, r *http.Request) {
	artifactID := r.PathValue("id")

	claims, err := s.signer.VerifyToken(r.URL.Query().Get("token"))
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if claims.ArtifactID != artifactID {
		writeError(w, http.StatusForbidden, "token does not match artifact")
		return
	}

	rec, err := s.store.GetArtifact(artifactID)
	if errors.Is(err, artifacts.ErrNotFound) {
		writeError(w, http.StatusNotFound, "artifact not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load artifact: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, artifactHeadResponse{
		ID:        rec.ID,
		SHA256:    rec.SHA256,
		MIME:      rec.MIME,
		Filename:  rec.Filename,
		Size:      rec.Size,
		CreatedAt: rec.CreatedAt,
	})
}

type execRequest struct {
	SessionID      string `json:"session_id"`
	Code           string `json:"code"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// handleExec runs code in the caller's session, starting or reattaching
// the container first so a fresh conversation needs no separate call.
func (s *Server) handleExec(w http.ResponseWriter, r *http.Request) {
	if !s.requireSessions(w) {
		return
	}

	var req execRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	timeout := repl.DefaultExecTimeout
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}

	if _, err := s.sessions.Start(r.Context(), req.SessionID); err != nil {
		if errors.Is(err, session.ErrInvalidKey) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to start session: %v", err))
		return
	}

	result, err := s.sessions.Exec(r.Context(), req.SessionID, req.Code, timeout)
	if err != nil {
		if errors.Is(err, session.ErrUnknownSession) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("execution failed: %v", err))
		return
	}

	resp := execResponse{ExecResult: result}
	if s.cfg.InChatURL {
		resp.Summary = artifactSummary(result.Artifacts)
	}
	writeJSON(w, http.StatusOK, resp)
}

// execResponse is the exec payload. The structured artifact list always
// carries download URLs; Summary is a pre-rendered listing added when
// IN_CHAT_URL is set, for callers that relay output into a chat verbatim.
type execResponse struct {
	*types.ExecResult
	Summary string `json:"summary,omitempty"`
}

func artifactSummary(arts []*types.Artifact) string {
	var b strings.Builder
	for _, a := range arts {
		if a.Error != "" {
			continue
		}
		if b.Len() == 0 {
			b.WriteString("📁 Generated Artifacts:")
		}
		fmt.Fprintf(&b, "\n  • %s (%s, %d bytes)", a.Name, a.MIME, a.Size)
		if a.URL != "" {
			fmt.Fprintf(&b, "\n    Download: %s", a.URL)
		}
	}
	return b.String()
}

type sessionListResponse struct {
	Sessions []*types.Session `json:"sessions"`
	Count    int              `json:"count"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if !s.requireSessions(w) {
		return
	}
	sessions := s.sessions.Snapshot()
	writeJSON(w, http.StatusOK, sessionListResponse{Sessions: sessions, Count: len(sessions)})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if !s.requireSessions(w) {
		return
	}
	key := r.PathValue("key")
	sess, ok := s.sessions.Get(key)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

type stopSessionResponse struct {
	SessionID string `json:"session_id"`
	Stopped   bool   `json:"stopped"`
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	if !s.requireSessions(w) {
		return
	}
	key := r.PathValue("key")
	if _, ok := s.sessions.Get(key); !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	s.sessions.Stop(r.Context(), key)
	writeJSON(w, http.StatusOK, stopSessionResponse{SessionID: key, Stopped: true})
}

type exportRequest struct {
	Path string `json:"path"`
}

// handleExport copies a container file to the host export directory. The
// result carries its own success flag; only an unknown session or a bad
// request fail at the HTTP level.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if !s.requireSessions(w) {
		return
	}
	key := r.PathValue("key")

	var req exportRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	if _, ok := s.sessions.Get(key); !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}

	result := s.sessions.Export(r.Context(), key, req.Path)
	writeJSON(w, http.StatusOK, result)
}

type stageDatasetsRequest struct {
	Datasets []string `json:"datasets"`
}

type stagedDatasetJSON struct {
	ID              string `json:"id"`
	PathInContainer string `json:"path_in_container"`
	Source          string `json:"source"`
}

type stageDatasetsResponse struct {
	SessionID string              `json:"session_id"`
	Staged    []stagedDatasetJSON `json:"staged"`
}

func (s *Server) handleStageDatasets(w http.ResponseWriter, r *http.Request) {
	if !s.requireSessions(w) {
		return
	}
	key := r.PathValue("key")

	var req stageDatasetsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Datasets) == 0 {
		writeError(w, http.StatusBadRequest, "datasets is required")
		return
	}

	staged, err := s.sessions.StageDatasets(r.Context(), key, req.Datasets)
	if err != nil {
		if errors.Is(err, session.ErrUnknownSession) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to stage datasets: %v", err))
		return
	}

	resp := stageDatasetsResponse{SessionID: key, Staged: make([]stagedDatasetJSON, 0, len(staged))}
	for _, sd := range staged {
		resp.Staged = append(resp.Staged, stagedDatasetJSON{
			ID:              sd.ID,
			PathInContainer: sd.PathInContainer,
			Source:          string(sd.Source),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type datasetListResponse struct {
	SessionID string               `json:"session_id"`
	Datasets  []string             `json:"datasets"`
	Entries   []types.DatasetEntry `json:"entries"`
}

// handleListDatasets reads the per-session cache plus the local catalog;
// it answers for stopped sessions too, since the cache outlives the
// container.
func (s *Server) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	if s.datasets == nil {
		writeError(w, http.StatusServiceUnavailable, "dataset staging unavailable")
		return
	}
	key := r.PathValue("key")

	available, err := datasets.Available(s.cfg, s.datasets.Cache(), key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list datasets: %v", err))
		return
	}
	entries, err := s.datasets.Cache().ReadEntries(key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to read dataset cache: %v", err))
		return
	}
	if available == nil {
		available = []string{}
	}
	if entries == nil {
		entries = []types.DatasetEntry{}
	}
	writeJSON(w, http.StatusOK, datasetListResponse{SessionID: key, Datasets: available, Entries: entries})
}

type sessionArtifactsResponse struct {
	SessionID string                      `json:"session_id"`
	Artifacts []artifacts.SessionArtifact `json:"artifacts"`
	Count     int                         `json:"count"`
}

func (s *Server) handleSessionArtifacts(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	list, err := s.reader.ListSessionArtifacts(key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list artifacts: %v", err))
		return
	}
	if list == nil {
		list = []artifacts.SessionArtifact{}
	}
	writeJSON(w, http.StatusOK, sessionArtifactsResponse{SessionID: key, Artifacts: list, Count: len(list)})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		OK bool `json:"ok"`
	}{OK: true})
}
