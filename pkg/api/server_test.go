package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sboxhq/sbox/pkg/artifacts"
	"github.com/sboxhq/sbox/pkg/config"
	"github.com/sboxhq/sbox/pkg/session"
	"github.com/sboxhq/sbox/pkg/types"
)

// fakeSessionService satisfies SessionService without Docker. Canned
// results stand in for the manager; calls are recorded for assertions.
type fakeSessionService struct {
	mu       sync.Mutex
	sessions map[string]*types.Session

	started []string
	stopped []string
	execKey string
	code    string
	timeout time.Duration

	execResult   *types.ExecResult
	execErr      error
	stageResult  []*types.StagedDataset
	stageErr     error
	exportResult *types.ExportResult
}

func newFakeSessionService() *fakeSessionService {
	return &fakeSessionService{sessions: make(map[string]*types.Session)}
}

func (f *fakeSessionService) Start(ctx context.Context, key string) (*types.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if strings.ContainsAny(key, "/ ") {
		return nil, fmt.Errorf("%w: %q", session.ErrInvalidKey, key)
	}
	f.started = append(f.started, key)
	sess, ok := f.sessions[key]
	if !ok {
		sess = &types.Session{
			ID:            key,
			ContainerName: "sbox-" + key,
			State:         types.SessionStateRunning,
			CreatedAt:     time.Now(),
			LastUsed:      time.Now(),
		}
		f.sessions[key] = sess
	}
	return sess, nil
}

func (f *fakeSessionService) Exec(ctx context.Context, key, code string, timeout time.Duration) (*types.ExecResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execKey, f.code, f.timeout = key, code, timeout
	if f.execErr != nil {
		return nil, f.execErr
	}
	if f.execResult != nil {
		return f.execResult, nil
	}
	return &types.ExecResult{OK: true, Stdout: "ran\n", Artifacts: []*types.Artifact{}}, nil
}

func (f *fakeSessionService) Stop(ctx context.Context, key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, key)
	delete(f.sessions, key)
}

func (f *fakeSessionService) Get(key string) (*types.Session, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[key]
	return sess, ok
}

func (f *fakeSessionService) Snapshot() []*types.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*types.Session, 0, len(f.sessions))
	for _, sess := range f.sessions {
		out = append(out, sess)
	}
	return out
}

func (f *fakeSessionService) StageDatasets(ctx context.Context, key string, datasetIDs []string) ([]*types.StagedDataset, error) {
	if f.stageErr != nil {
		return nil, f.stageErr
	}
	return f.stageResult, nil
}

func (f *fakeSessionService) Export(ctx context.Context, key, containerPath string) *types.ExportResult {
	if f.exportResult != nil {
		return f.exportResult
	}
	return &types.ExportResult{Success: true, HostPath: "./exports/modified_datasets/x.parquet"}
}

func newTestServer(t *testing.T, svc SessionService) (*Server, *artifacts.Store, *artifacts.Signer) {
	t.Helper()
	dir := t.TempDir()
	store, err := artifacts.Open(artifacts.Options{
		DBPath:  filepath.Join(dir, "artifacts.db"),
		BlobDir: filepath.Join(dir, "blobstore"),
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	signer, err := artifacts.NewSigner(artifacts.SignerOptions{
		Secret:        "test-secret",
		TTL:           10 * time.Minute,
		PublicBaseURL: "http://localhost:8000",
	})
	if err != nil {
		t.Fatalf("NewSigner() error = %v", err)
	}

	cfg := &config.Config{
		DatasetAccess: types.DatasetAccessNone,
		SessionsRoot:  filepath.Join(dir, "sessions"),
		CacheFilename: config.DefaultCacheFilename,
		ServerPort:    config.DefaultServerPort,
	}
	srv, err := NewServer(cfg, Options{Sessions: svc, Store: store, Signer: signer})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	return srv, store, signer
}

// saveTestArtifact writes content through the catalog and returns the id.
func saveTestArtifact(t *testing.T, store *artifacts.Store, name, sessionID string, content []byte) (string, string) {
	t.Helper()
	ing := artifacts.NewIngestor(store, mustSigner(t), 0)
	staging := t.TempDir()
	path := filepath.Join(staging, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	descriptors, err := ing.Ingest([]string{path}, artifacts.Link{SessionID: sessionID})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if len(descriptors) != 1 || descriptors[0].ID == "" {
		t.Fatalf("Ingest() descriptors = %+v, want one ingested file", descriptors)
	}
	return descriptors[0].ID, descriptors[0].SHA256
}

func mustSigner(t *testing.T) *artifacts.Signer {
	t.Helper()
	s, err := artifacts.NewSigner(artifacts.SignerOptions{Secret: "test-secret"})
	if err != nil {
		t.Fatalf("NewSigner() error = %v", err)
	}
	return s
}

func TestArtifactDownload(t *testing.T) {
	srv, store, signer := newTestServer(t, newFakeSessionService())
	content := []byte("col_a,col_b\n1,2\n")
	id, _ := saveTestArtifact(t, store, "result.csv", "s1", content)

	token, err := signer.CreateToken(id)
	if err != nil {
		t.Fatalf("CreateToken() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/artifacts/"+id+"?token="+token, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("download status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	if !bytes.Equal(rec.Body.Bytes(), content) {
		t.Errorf("download body = %q, want original content", rec.Body.String())
	}
	row, err := store.GetArtifact(id)
	if err != nil {
		t.Fatalf("GetArtifact() error = %v", err)
	}
	if ct := rec.Header().Get("Content-Type"); ct != row.MIME {
		t.Errorf("Content-Type = %q, want catalog mime %q", ct, row.MIME)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "result.csv") {
		t.Errorf("Content-Disposition = %q, want filename result.csv", cd)
	}
}

func TestArtifactDownloadRejectsBadTokens(t *testing.T) {
	srv, store, signer := newTestServer(t, newFakeSessionService())
	id, _ := saveTestArtifact(t, store, "a.txt", "s1", []byte("data"))

	otherToken, err := signer.CreateToken("art_000000000000000000000000")
	if err != nil {
		t.Fatalf("CreateToken() error = %v", err)
	}

	tests := []struct {
		name string
		url  string
		want int
	}{
		{"missing token", "/artifacts/" + id, http.StatusUnauthorized},
		{"garbage token", "/artifacts/" + id + "?token=not-a-token", http.StatusUnauthorized},
		{"token for other artifact", "/artifacts/" + id + "?token=" + otherToken, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestArtifactDownloadUnknownArtifact(t *testing.T) {
	srv, _, signer := newTestServer(t, newFakeSessionService())

	id := "art_ffffffffffffffffffffffff"
	token, err := signer.CreateToken(id)
	if err != nil {
		t.Fatalf("CreateToken() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/artifacts/"+id+"?token="+token, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestArtifactDownloadBlobMissing(t *testing.T) {
	srv, store, signer := newTestServer(t, newFakeSessionService())
	id, sha := saveTestArtifact(t, store, "gone.bin", "s1", []byte("pruned later"))

	if err := os.Remove(store.BlobPath(sha)); err != nil {
		t.Fatalf("failed to remove blob: %v", err)
	}

	token, err := signer.CreateToken(id)
	if err != nil {
		t.Fatalf("CreateToken() error = %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/artifacts/"+id+"?token="+token, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusGone {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusGone)
	}
}

func TestArtifactHead(t *testing.T) {
	srv, store, signer := newTestServer(t, newFakeSessionService())
	content := []byte("head me")
	id, sha := saveTestArtifact(t, store, "meta.txt", "s1", content)

	// Metadata must survive blob pruning.
	if err := os.Remove(store.BlobPath(sha)); err != nil {
		t.Fatalf("failed to remove blob: %v", err)
	}

	token, err := signer.CreateToken(id)
	if err != nil {
		t.Fatalf("CreateToken() error = %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/artifacts/"+id+"/head?token="+token, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("head status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	var head artifactHeadResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &head); err != nil {
		t.Fatalf("failed to decode head response: %v", err)
	}
	if head.ID != id || head.SHA256 != sha || head.Filename != "meta.txt" {
		t.Errorf("head = %+v, want id/sha/filename to match catalog", head)
	}
	if head.Size != int64(len(content)) {
		t.Errorf("head size = %d, want %d", head.Size, len(content))
	}
}

func TestExecStartsSessionAndRuns(t *testing.T) {
	svc := newFakeSessionService()
	svc.execResult = &types.ExecResult{OK: true, Stdout: "42\n", Artifacts: []*types.Artifact{}}
	srv, _, _ := newTestServer(t, svc)

	body := `{"session_id":"conv-1","code":"print(42)","timeout_seconds":30}`
	req := httptest.NewRequest(http.MethodPost, "/v1/exec", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("exec status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	var result types.ExecResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to decode exec response: %v", err)
	}
	if !result.OK || result.Stdout != "42\n" {
		t.Errorf("exec result = %+v, want ok with stdout", result)
	}
	if len(svc.started) != 1 || svc.started[0] != "conv-1" {
		t.Errorf("started sessions = %v, want [conv-1]", svc.started)
	}
	if svc.code != "print(42)" {
		t.Errorf("executed code = %q, want %q", svc.code, "print(42)")
	}
	if svc.timeout != 30*time.Second {
		t.Errorf("timeout = %v, want 30s", svc.timeout)
	}
}

func TestExecChatSummary(t *testing.T) {
	svc := newFakeSessionService()
	svc.execResult = &types.ExecResult{OK: true, Stdout: "done\n", Artifacts: []*types.Artifact{
		{ID: "art_1", Name: "plot.png", MIME: "image/png", Size: 5412, URL: "http://localhost:8000/artifacts/art_1?token=x"},
		{Name: "huge.bin", Error: "file too large"},
	}}
	srv, _, _ := newTestServer(t, svc)

	exec := func(t *testing.T) map[string]any {
		t.Helper()
		body := `{"session_id":"conv-1","code":"plot()"}`
		req := httptest.NewRequest(http.MethodPost, "/v1/exec", strings.NewReader(body))
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("exec status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
		}
		var resp map[string]any
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to decode exec response: %v", err)
		}
		return resp
	}

	resp := exec(t)
	if _, ok := resp["summary"]; ok {
		t.Errorf("summary present without IN_CHAT_URL: %v", resp["summary"])
	}

	srv.cfg.InChatURL = true
	resp = exec(t)
	summary, _ := resp["summary"].(string)
	if !strings.Contains(summary, "plot.png (image/png, 5412 bytes)") {
		t.Errorf("summary = %q, want artifact listing", summary)
	}
	if !strings.Contains(summary, "Download: http://localhost:8000/artifacts/art_1?token=x") {
		t.Errorf("summary = %q, want download URL line", summary)
	}
	if strings.Contains(summary, "huge.bin") {
		t.Errorf("summary = %q, should omit skipped files", summary)
	}
}

func TestExecValidation(t *testing.T) {
	srv, _, _ := newTestServer(t, newFakeSessionService())

	tests := []struct {
		name string
		body string
		want int
	}{
		{"bad json", "{", http.StatusBadRequest},
		{"missing session", `{"code":"1+1"}`, http.StatusBadRequest},
		{"missing code", `{"session_id":"s1"}`, http.StatusBadRequest},
		{"invalid key", `{"session_id":"has space","code":"1+1"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/exec", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestSessionEndpoints(t *testing.T) {
	svc := newFakeSessionService()
	srv, _, _ := newTestServer(t, svc)
	if _, err := svc.Start(context.Background(), "conv-1"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d, want %d", rec.Code, http.StatusOK)
	}
	var list sessionListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("failed to decode session list: %v", err)
	}
	if list.Count != 1 || len(list.Sessions) != 1 || list.Sessions[0].ID != "conv-1" {
		t.Errorf("session list = %+v, want one session conv-1", list)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/sessions/conv-1", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("get status = %d, want %d", rec.Code, http.StatusOK)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/sessions/missing", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get missing status = %d, want %d", rec.Code, http.StatusNotFound)
	}

	req = httptest.NewRequest(http.MethodDelete, "/v1/sessions/conv-1", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("stop status = %d, want %d", rec.Code, http.StatusOK)
	}
	if len(svc.stopped) != 1 || svc.stopped[0] != "conv-1" {
		t.Errorf("stopped sessions = %v, want [conv-1]", svc.stopped)
	}

	req = httptest.NewRequest(http.MethodDelete, "/v1/sessions/conv-1", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second stop status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestStageDatasetsEndpoint(t *testing.T) {
	svc := newFakeSessionService()
	svc.stageResult = []*types.StagedDataset{
		{ID: "sales_2024", PathInContainer: "/data/sales_2024.parquet", Source: types.DatasetSourceAPI},
	}
	srv, _, _ := newTestServer(t, svc)

	body := `{"datasets":["sales_2024"]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/conv-1/datasets", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("stage status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	var resp stageDatasetsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode stage response: %v", err)
	}
	if len(resp.Staged) != 1 || resp.Staged[0].PathInContainer != "/data/sales_2024.parquet" {
		t.Errorf("staged = %+v, want the staged descriptor", resp.Staged)
	}

	svc.stageErr = fmt.Errorf("%w: %q", session.ErrUnknownSession, "conv-1")
	req = httptest.NewRequest(http.MethodPost, "/v1/sessions/conv-1/datasets", strings.NewReader(body))
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("stage on unknown session status = %d, want %d", rec.Code, http.StatusNotFound)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/sessions/conv-1/datasets", strings.NewReader(`{"datasets":[]}`))
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty stage status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestExportEndpoint(t *testing.T) {
	svc := newFakeSessionService()
	svc.exportResult = &types.ExportResult{Success: true, HostPath: "./exports/modified_datasets/20240101_000000_out.parquet"}
	srv, _, _ := newTestServer(t, svc)
	if _, err := svc.Start(context.Background(), "conv-1"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	body := `{"path":"/data/out.parquet"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/conv-1/export", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("export status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	var result types.ExportResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to decode export response: %v", err)
	}
	if !result.Success || result.HostPath == "" {
		t.Errorf("export result = %+v, want success with host path", result)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/sessions/conv-1/export", strings.NewReader(`{}`))
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("export without path status = %d, want %d", rec.Code, http.StatusBadRequest)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/sessions/missing/export", strings.NewReader(body))
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("export on missing session status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestSessionArtifactsEndpoint(t *testing.T) {
	srv, store, _ := newTestServer(t, newFakeSessionService())
	saveTestArtifact(t, store, "one.txt", "conv-1", []byte("first"))
	saveTestArtifact(t, store, "two.txt", "conv-1", []byte("second"))
	saveTestArtifact(t, store, "other.txt", "conv-2", []byte("elsewhere"))

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/conv-1/artifacts", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("artifacts status = %d, want %d", rec.Code, http.StatusOK)
	}
	var resp sessionArtifactsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode artifacts response: %v", err)
	}
	if resp.Count != 2 {
		t.Fatalf("artifact count = %d, want 2", resp.Count)
	}
	for _, a := range resp.Artifacts {
		if !strings.Contains(a.DownloadURL, "/artifacts/"+a.ID+"?token=") {
			t.Errorf("artifact url = %q, want signed download URL", a.DownloadURL)
		}
	}
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer(t, newFakeSessionService())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("healthz status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), `"ok":true`) {
		t.Errorf("healthz body = %q, want ok true", rec.Body.String())
	}
}

func TestControlEndpointsWithoutSessions(t *testing.T) {
	dir := t.TempDir()
	store, err := artifacts.Open(artifacts.Options{
		DBPath:  filepath.Join(dir, "artifacts.db"),
		BlobDir: filepath.Join(dir, "blobstore"),
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	srv, err := NewServer(&config.Config{}, Options{Store: store, Signer: mustSigner(t)})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/exec", strings.NewReader(`{"session_id":"s1","code":"1"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("exec without sessions status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestStartPortFallback(t *testing.T) {
	// Occupy a port so Start has to walk past it.
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve port: %v", err)
	}
	defer taken.Close()
	base := taken.Addr().(*net.TCPAddr).Port

	srv, _, signer := newTestServer(t, newFakeSessionService())
	srv.cfg.ServerPort = base

	port, err := srv.Start()
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	if port == base {
		t.Errorf("Start() bound the occupied port %d", base)
	}
	if port < base || port >= base+portAttempts {
		t.Errorf("Start() bound port %d, want within %d..%d", port, base, base+portAttempts-1)
	}
	if got := os.Getenv("ARTIFACTS_SERVER_PORT"); got != strconv.Itoa(port) {
		t.Errorf("ARTIFACTS_SERVER_PORT = %q, want %q", got, strconv.Itoa(port))
	}
	if srv.Port() != port {
		t.Errorf("Port() = %d, want %d", srv.Port(), port)
	}

	// Derived URLs must follow the bound port.
	url, err := signer.DownloadURL("art_0123456789abcdef01234567")
	if err != nil {
		t.Fatalf("DownloadURL() error = %v", err)
	}
	if !strings.Contains(url, "http://localhost:8000") {
		// PublicBaseURL was set in the fixture, so the port override is
		// not visible here. Rebuild without it to check the fallback.
		t.Fatalf("DownloadURL() = %q, want fixture base URL", url)
	}

	bare := mustSigner(t)
	bare.SetServerPort(port)
	url, err = bare.DownloadURL("art_0123456789abcdef01234567")
	if err != nil {
		t.Fatalf("DownloadURL() error = %v", err)
	}
	if !strings.Contains(url, fmt.Sprintf("localhost:%d", port)) {
		t.Errorf("DownloadURL() = %q, want bound port %d", url, port)
	}
}

func TestStartExplicitListenPorts(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve port: %v", err)
	}
	defer taken.Close()
	takenPort := taken.Addr().(*net.TCPAddr).Port

	spare, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to probe a free port: %v", err)
	}
	sparePort := spare.Addr().(*net.TCPAddr).Port
	spare.Close()

	srv, _, _ := newTestServer(t, newFakeSessionService())
	srv.host = "127.0.0.1"
	srv.ports = []int{takenPort, sparePort}

	port, err := srv.Start()
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	if port != sparePort {
		t.Errorf("Start() bound port %d, want the second candidate %d", port, sparePort)
	}
}
