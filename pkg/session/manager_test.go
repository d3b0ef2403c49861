package session

import (
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

	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"

	"github.com/sboxhq/sbox/pkg/artifacts"
	"github.com/sboxhq/sbox/pkg/config"
	"github.com/sboxhq/sbox/pkg/repl"
	"github.com/sboxhq/sbox/pkg/runtime"
	"github.com/sboxhq/sbox/pkg/storage"
	"github.com/sboxhq/sbox/pkg/types"
)

// fakeRuntime records every engine call and serves canned responses, so
// lifecycle tests run without a Docker daemon.
type fakeRuntime struct {
	mu sync.Mutex

	hostPort int
	content  []byte

	ensured []string
	created []*runtime.ContainerSpec
	started []string
	removed []string
	execs   [][]string

	inspect    map[string]container.InspectResponse
	running    map[string]bool
	listQueue  map[string][][]string
	fileExists map[string]bool

	copyOutErr error
	nextID     int
}

func newFakeRuntime(hostPort int) *fakeRuntime {
	return &fakeRuntime{
		hostPort:   hostPort,
		content:    []byte("fake artifact bytes"),
		inspect:    make(map[string]container.InspectResponse),
		running:    make(map[string]bool),
		listQueue:  make(map[string][][]string),
		fileExists: make(map[string]bool),
	}
}

func (f *fakeRuntime) EnsureImage(ctx context.Context, imageRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensured = append(f.ensured, imageRef)
	return nil
}

func (f *fakeRuntime) CreateContainer(ctx context.Context, spec *runtime.ContainerSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, spec)
	id := fmt.Sprintf("cid-%d", f.nextID)
	f.nextID++
	info := runningInspect(id, f.hostPort)
	f.inspect[id] = info
	f.inspect[spec.Name] = info
	f.running[id] = true
	return id, nil
}

func (f *fakeRuntime) StartContainer(ctx context.Context, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, containerID)
	f.running[containerID] = true
	return nil
}

func (f *fakeRuntime) RemoveContainer(ctx context.Context, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, containerID)
	delete(f.running, containerID)
	return nil
}

func (f *fakeRuntime) InspectContainer(ctx context.Context, containerID string) (container.InspectResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.inspect[containerID]
	if !ok {
		return container.InspectResponse{}, fmt.Errorf("no such container: %s", containerID)
	}
	return info, nil
}

func (f *fakeRuntime) ContainerRunning(ctx context.Context, containerID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[containerID], nil
}

func (f *fakeRuntime) ExecRun(ctx context.Context, containerID string, cmd []string, user string) (int, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs = append(f.execs, cmd)
	return 0, nil, nil
}

func (f *fakeRuntime) ListFiles(ctx context.Context, containerID, dir string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	queue := f.listQueue[containerID]
	if len(queue) == 0 {
		return nil, nil
	}
	f.listQueue[containerID] = queue[1:]
	return queue[0], nil
}

func (f *fakeRuntime) CopyOut(ctx context.Context, containerID, srcPath, dstDir string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.copyOutErr != nil {
		return "", f.copyOutErr
	}
	dst := filepath.Join(dstDir, filepath.Base(srcPath))
	if err := os.WriteFile(dst, f.content, 0o644); err != nil {
		return "", err
	}
	return dst, nil
}

func (f *fakeRuntime) FileExists(ctx context.Context, containerID, containerPath string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fileExists[containerPath], nil
}

func (f *fakeRuntime) setListQueue(containerID string, batches [][]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listQueue[containerID] = batches
}

func (f *fakeRuntime) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func (f *fakeRuntime) removedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.removed...)
}

func runningInspect(id string, hostPort int) container.InspectResponse {
	return container.InspectResponse{
		ContainerJSONBase: &container.ContainerJSONBase{
			ID:      id,
			Created: time.Now().UTC().Format(time.RFC3339Nano),
			State:   &container.State{Running: true},
		},
		NetworkSettings: &container.NetworkSettings{
			NetworkSettingsBase: container.NetworkSettingsBase{
				Ports: nat.PortMap{
					nat.Port(runtime.ReplPort): []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: strconv.Itoa(hostPort)}},
				},
			},
		},
	}
}

func stoppedInspect(id string) container.InspectResponse {
	return container.InspectResponse{
		ContainerJSONBase: &container.ContainerJSONBase{
			ID:      id,
			Created: time.Now().UTC().Format(time.RFC3339Nano),
			State:   &container.State{Running: false},
		},
	}
}

// replServer is an httptest stand-in for the in-container REPL. Tests
// reach it through the host address strategy by pinning the gateway to
// 127.0.0.1 and publishing its port from the fake runtime.
type replServer struct {
	srv *httptest.Server

	mu     sync.Mutex
	codes  []string
	onExec func(code string) repl.Response
}

func newREPLServer(t *testing.T) *replServer {
	t.Helper()
	rs := &replServer{}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ok":true}`)
	})
	mux.HandleFunc("/exec", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Code string `json:"code"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		rs.mu.Lock()
		rs.codes = append(rs.codes, req.Code)
		handler := rs.onExec
		rs.mu.Unlock()

		resp := repl.Response{OK: true}
		if handler != nil {
			resp = handler(req.Code)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})

	rs.srv = httptest.NewServer(mux)
	t.Cleanup(rs.srv.Close)
	return rs
}

func (rs *replServer) port() int {
	return rs.srv.Listener.Addr().(*net.TCPAddr).Port
}

func (rs *replServer) setOnExec(fn func(code string) repl.Response) {
	rs.mu.Lock()
	rs.onExec = fn
	rs.mu.Unlock()
}

func (rs *replServer) receivedCodes() []string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]string(nil), rs.codes...)
}

func testConfig(t *testing.T, storageMode types.SessionStorage) *config.Config {
	t.Helper()
	return &config.Config{
		SessionStorage:  storageMode,
		DatasetAccess:   types.DatasetAccessNone,
		SessionsRoot:    t.TempDir(),
		SandboxImage:    "sbox-sandbox:latest",
		TmpfsSizeMB:     512,
		AddressStrategy: types.AddressStrategyHost,
		HostGateway:     "127.0.0.1",
		CacheFilename:   "cache_datasets.json",
	}
}

func newTestIngestor(t *testing.T) *artifacts.Ingestor {
	t.Helper()
	dir := t.TempDir()
	store, err := artifacts.Open(artifacts.Options{
		DBPath:  filepath.Join(dir, "artifacts.db"),
		BlobDir: filepath.Join(dir, "blobs"),
	})
	if err != nil {
		t.Fatalf("artifacts.Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	signer, err := artifacts.NewSigner(artifacts.SignerOptions{Secret: "test-secret"})
	if err != nil {
		t.Fatalf("artifacts.NewSigner() error = %v", err)
	}
	return artifacts.NewIngestor(store, signer, 50)
}

func newTestManager(t *testing.T, cfg *config.Config, fake *fakeRuntime) *Manager {
	t.Helper()
	mgr, err := NewManager(cfg, Options{Runtime: fake, Ingestor: newTestIngestor(t)})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return mgr
}

func TestNewManagerRequiresCollaborators(t *testing.T) {
	cfg := testConfig(t, types.SessionStorageTmpfs)

	if _, err := NewManager(cfg, Options{Ingestor: newTestIngestor(t)}); err == nil {
		t.Error("NewManager() without runtime expected error, got nil")
	}
	if _, err := NewManager(cfg, Options{Runtime: newFakeRuntime(0)}); err == nil {
		t.Error("NewManager() without ingestor expected error, got nil")
	}
}

func TestStartCreatesSession(t *testing.T) {
	rs := newREPLServer(t)
	fake := newFakeRuntime(rs.port())
	cfg := testConfig(t, types.SessionStorageTmpfs)
	mgr := newTestManager(t, cfg, fake)

	sess, err := mgr.Start(context.Background(), "demo")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if sess.ID != "demo" {
		t.Errorf("session ID = %q, want %q", sess.ID, "demo")
	}
	if sess.ContainerName != "sbox-demo" {
		t.Errorf("container name = %q, want %q", sess.ContainerName, "sbox-demo")
	}
	if sess.State != types.SessionStateRunning {
		t.Errorf("state = %q, want %q", sess.State, types.SessionStateRunning)
	}
	if sess.HostPort != rs.port() {
		t.Errorf("host port = %d, want %d", sess.HostPort, rs.port())
	}
	if want := fmt.Sprintf("http://127.0.0.1:%d", rs.port()); sess.ReplAddress != want {
		t.Errorf("repl address = %q, want %q", sess.ReplAddress, want)
	}
	if sess.SessionDir != "" {
		t.Errorf("tmpfs session dir = %q, want empty", sess.SessionDir)
	}

	spec := fake.created[0]
	if spec.Name != "sbox-demo" {
		t.Errorf("spec name = %q, want %q", spec.Name, "sbox-demo")
	}
	if !spec.PublishRepl {
		t.Error("host strategy should publish the repl port")
	}
	if _, ok := spec.Tmpfs[config.ContainerSessionPath]; !ok {
		t.Errorf("spec tmpfs missing %s", config.ContainerSessionPath)
	}
	if spec.Labels[labelSessionID] != "demo" {
		t.Errorf("session label = %q, want %q", spec.Labels[labelSessionID], "demo")
	}

	// Contract directories are prepared as root, then opened up
	if len(fake.execs) != 2 {
		t.Fatalf("exec count = %d, want 2", len(fake.execs))
	}
	if fake.execs[0][0] != "mkdir" || fake.execs[1][0] != "chmod" {
		t.Errorf("execs = %v, want mkdir then chmod", fake.execs)
	}
	joined := strings.Join(fake.execs[0], " ")
	for _, dir := range []string{config.ContainerExportPath, config.ContainerModifiedPath, artifactsContainerDir} {
		if !strings.Contains(joined, dir) {
			t.Errorf("mkdir %v missing %s", fake.execs[0], dir)
		}
	}

	if _, ok := mgr.Get("demo"); !ok {
		t.Error("session not registered")
	}
}

func TestStartGeneratesAnonymousKey(t *testing.T) {
	rs := newREPLServer(t)
	fake := newFakeRuntime(rs.port())
	mgr := newTestManager(t, testConfig(t, types.SessionStorageTmpfs), fake)

	sess, err := mgr.Start(context.Background(), "")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !strings.HasPrefix(sess.ID, "anon-") {
		t.Errorf("anonymous ID = %q, want anon- prefix", sess.ID)
	}
	if len(sess.ID) != len("anon-")+8 {
		t.Errorf("anonymous ID length = %d, want %d", len(sess.ID), len("anon-")+8)
	}
}

func TestStartRejectsInvalidKey(t *testing.T) {
	rs := newREPLServer(t)
	fake := newFakeRuntime(rs.port())
	mgr := newTestManager(t, testConfig(t, types.SessionStorageTmpfs), fake)

	tests := []struct {
		name string
		key  string
	}{
		{"slash", "a/b"},
		{"space", "a b"},
		{"leading dash", "-abc"},
		{"too long", strings.Repeat("x", 80)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := mgr.Start(context.Background(), tt.key); err == nil {
				t.Errorf("Start(%q) expected error, got nil", tt.key)
			}
		})
	}
}

func TestStartReturnsLiveSession(t *testing.T) {
	rs := newREPLServer(t)
	fake := newFakeRuntime(rs.port())
	mgr := newTestManager(t, testConfig(t, types.SessionStorageTmpfs), fake)

	first, err := mgr.Start(context.Background(), "demo")
	if err != nil {
		t.Fatalf("first Start() error = %v", err)
	}
	second, err := mgr.Start(context.Background(), "demo")
	if err != nil {
		t.Fatalf("second Start() error = %v", err)
	}

	if fake.createdCount() != 1 {
		t.Errorf("created %d containers, want 1", fake.createdCount())
	}
	if first.ContainerID != second.ContainerID {
		t.Errorf("container IDs differ: %q vs %q", first.ContainerID, second.ContainerID)
	}
}

func TestStartReattachesRunningContainer(t *testing.T) {
	rs := newREPLServer(t)
	fake := newFakeRuntime(rs.port())
	fake.inspect["sbox-keep"] = runningInspect("cid-keep", rs.port())
	fake.running["cid-keep"] = true
	mgr := newTestManager(t, testConfig(t, types.SessionStorageTmpfs), fake)

	sess, err := mgr.Start(context.Background(), "keep")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if fake.createdCount() != 0 {
		t.Errorf("created %d containers, want 0", fake.createdCount())
	}
	if sess.ContainerID != "cid-keep" {
		t.Errorf("container ID = %q, want %q", sess.ContainerID, "cid-keep")
	}
	if want := fmt.Sprintf("http://127.0.0.1:%d", rs.port()); sess.ReplAddress != want {
		t.Errorf("repl address = %q, want %q", sess.ReplAddress, want)
	}
}

func TestStartRestartsStoppedContainer(t *testing.T) {
	rs := newREPLServer(t)
	fake := newFakeRuntime(rs.port())
	fake.inspect["sbox-keep"] = stoppedInspect("cid-keep")
	fake.inspect["cid-keep"] = runningInspect("cid-keep", rs.port())
	mgr := newTestManager(t, testConfig(t, types.SessionStorageTmpfs), fake)

	sess, err := mgr.Start(context.Background(), "keep")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if len(fake.started) != 1 || fake.started[0] != "cid-keep" {
		t.Errorf("started = %v, want [cid-keep]", fake.started)
	}
	if fake.createdCount() != 0 {
		t.Errorf("created %d containers, want 0", fake.createdCount())
	}
	if sess.HostPort != rs.port() {
		t.Errorf("host port = %d, want %d", sess.HostPort, rs.port())
	}
}

func TestStartRecreatesBrokenContainer(t *testing.T) {
	rs := newREPLServer(t)
	fake := newFakeRuntime(rs.port())
	// Inspect succeeds but carries no usable state
	fake.inspect["sbox-broken"] = container.InspectResponse{}
	mgr := newTestManager(t, testConfig(t, types.SessionStorageTmpfs), fake)

	sess, err := mgr.Start(context.Background(), "broken")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	removed := fake.removedIDs()
	if len(removed) == 0 || removed[0] != "sbox-broken" {
		t.Errorf("removed = %v, want leading sbox-broken", removed)
	}
	if fake.createdCount() != 1 {
		t.Errorf("created %d containers, want 1", fake.createdCount())
	}
	if sess.ContainerID == "" {
		t.Error("recreated session has no container ID")
	}
}

func TestStartReattachRestoresExecutionCount(t *testing.T) {
	rs := newREPLServer(t)
	fake := newFakeRuntime(rs.port())
	fake.inspect["sbox-keep"] = runningInspect("cid-keep", rs.port())
	cfg := testConfig(t, types.SessionStorageBind)
	mgr := newTestManager(t, cfg, fake)

	sessDir := cfg.SessionDir("keep")
	if err := os.MkdirAll(sessDir, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	meta := `{"session_id":"keep","execution_count":7}`
	if err := os.WriteFile(filepath.Join(sessDir, "session_metadata.json"), []byte(meta), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	sess, err := mgr.Start(context.Background(), "keep")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if sess.ExecutionCount != 7 {
		t.Errorf("execution count = %d, want 7", sess.ExecutionCount)
	}
	if sess.SessionDir != sessDir {
		t.Errorf("session dir = %q, want %q", sess.SessionDir, sessDir)
	}
}

func TestStopRemovesContainer(t *testing.T) {
	rs := newREPLServer(t)
	fake := newFakeRuntime(rs.port())
	mgr := newTestManager(t, testConfig(t, types.SessionStorageTmpfs), fake)

	sess, err := mgr.Start(context.Background(), "demo")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	mgr.Stop(context.Background(), "demo")

	removed := fake.removedIDs()
	if len(removed) != 1 || removed[0] != sess.ContainerID {
		t.Errorf("removed = %v, want [%s]", removed, sess.ContainerID)
	}
	if _, ok := mgr.Get("demo"); ok {
		t.Error("stopped session still registered")
	}

	// Second stop is a no-op
	mgr.Stop(context.Background(), "demo")
	if got := fake.removedIDs(); len(got) != 1 {
		t.Errorf("removed after second stop = %v, want single entry", got)
	}
}

func TestEvictIdleRemovesExpiredSessions(t *testing.T) {
	rs := newREPLServer(t)
	fake := newFakeRuntime(rs.port())
	cfg := testConfig(t, types.SessionStorageTmpfs)
	mgr, err := NewManager(cfg, Options{
		Runtime:     fake,
		Ingestor:    newTestIngestor(t),
		IdleTimeout: 30 * time.Minute,
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	if _, err := mgr.Start(context.Background(), "stale"); err != nil {
		t.Fatalf("Start(stale) error = %v", err)
	}
	if _, err := mgr.Start(context.Background(), "fresh"); err != nil {
		t.Fatalf("Start(fresh) error = %v", err)
	}

	mgr.mu.Lock()
	mgr.sessions["stale"].LastUsed = time.Now().Add(-2 * time.Hour)
	mgr.mu.Unlock()

	mgr.evictIdle(context.Background())

	if _, ok := mgr.Get("stale"); ok {
		t.Error("stale session survived eviction")
	}
	if _, ok := mgr.Get("fresh"); !ok {
		t.Error("fresh session was evicted")
	}
}

func TestEvictIdleSkipsBusySessions(t *testing.T) {
	rs := newREPLServer(t)
	fake := newFakeRuntime(rs.port())
	cfg := testConfig(t, types.SessionStorageTmpfs)
	mgr, err := NewManager(cfg, Options{
		Runtime:     fake,
		Ingestor:    newTestIngestor(t),
		IdleTimeout: 30 * time.Minute,
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	if _, err := mgr.Start(context.Background(), "busy"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	mgr.mu.Lock()
	mgr.sessions["busy"].LastUsed = time.Now().Add(-2 * time.Hour)
	mgr.mu.Unlock()

	lock := mgr.sessionLock("busy")
	lock.Lock()
	mgr.evictIdle(context.Background())
	lock.Unlock()

	if _, ok := mgr.Get("busy"); !ok {
		t.Error("busy session was evicted while its lock was held")
	}
}

func TestAdopt(t *testing.T) {
	rs := newREPLServer(t)
	fake := newFakeRuntime(rs.port())
	fake.running["cid-live"] = true
	cfg := testConfig(t, types.SessionStorageTmpfs)

	registry, err := storage.NewBoltStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewBoltStore() error = %v", err)
	}
	t.Cleanup(func() { registry.Close() })

	now := time.Now().UTC()
	live := &types.Session{
		ID:            "live",
		ContainerID:   "cid-live",
		ContainerName: "sbox-live",
		HostPort:      rs.port(),
		State:         types.SessionStateRunning,
		CreatedAt:     now.Add(-time.Hour),
		LastUsed:      now.Add(-time.Hour),
	}
	gone := &types.Session{
		ID:            "gone",
		ContainerID:   "cid-gone",
		ContainerName: "sbox-gone",
		CreatedAt:     now.Add(-2 * time.Hour),
		LastUsed:      now.Add(-2 * time.Hour),
	}
	for _, s := range []*types.Session{live, gone} {
		if err := registry.SaveSession(s); err != nil {
			t.Fatalf("SaveSession(%s) error = %v", s.ID, err)
		}
	}

	mgr, err := NewManager(cfg, Options{
		Runtime:  fake,
		Ingestor: newTestIngestor(t),
		Registry: registry,
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	adopted, err := mgr.Adopt(context.Background())
	if err != nil {
		t.Fatalf("Adopt() error = %v", err)
	}
	if adopted != 1 {
		t.Errorf("Adopt() = %d, want 1", adopted)
	}

	sess, ok := mgr.Get("live")
	if !ok {
		t.Fatal("live session not adopted")
	}
	if want := fmt.Sprintf("http://127.0.0.1:%d", rs.port()); sess.ReplAddress != want {
		t.Errorf("repl address = %q, want %q", sess.ReplAddress, want)
	}
	if sess.LastUsed.Before(now) {
		t.Error("adopted session did not get a fresh idle budget")
	}

	if _, ok := mgr.Get("gone"); ok {
		t.Error("stale session was adopted")
	}
	if _, err := registry.GetSession("gone"); err == nil {
		t.Error("stale session record was not dropped")
	}
}

func TestSnapshotOrdersByCreation(t *testing.T) {
	rs := newREPLServer(t)
	fake := newFakeRuntime(rs.port())
	mgr := newTestManager(t, testConfig(t, types.SessionStorageTmpfs), fake)

	for _, key := range []string{"b", "a", "c"} {
		if _, err := mgr.Start(context.Background(), key); err != nil {
			t.Fatalf("Start(%s) error = %v", key, err)
		}
	}

	mgr.mu.Lock()
	base := time.Now().UTC().Add(-time.Hour)
	mgr.sessions["b"].CreatedAt = base
	mgr.sessions["a"].CreatedAt = base.Add(time.Minute)
	mgr.sessions["c"].CreatedAt = base.Add(2 * time.Minute)
	mgr.mu.Unlock()

	snap := mgr.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("Snapshot() len = %d, want 3", len(snap))
	}
	got := []string{snap[0].ID, snap[1].ID, snap[2].ID}
	want := []string{"b", "a", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Snapshot() order = %v, want %v", got, want)
			break
		}
	}
}

func TestCloseStopsSweeperOnly(t *testing.T) {
	rs := newREPLServer(t)
	fake := newFakeRuntime(rs.port())
	cfg := testConfig(t, types.SessionStorageTmpfs)
	mgr, err := NewManager(cfg, Options{
		Runtime:       fake,
		Ingestor:      newTestIngestor(t),
		SweepInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	if _, err := mgr.Start(context.Background(), "demo"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	mgr.StartSweeper()
	mgr.Close()
	mgr.Close() // idempotent

	if len(fake.removedIDs()) != 0 {
		t.Errorf("Close removed containers: %v", fake.removedIDs())
	}
}
