package reconciler

import (
	"context"
	"sync"
	"testing"

	"github.com/docker/docker/api/types/container"

	"github.com/sboxhq/sbox/pkg/types"
)

type fakeRegistry struct {
	mu      sync.Mutex
	records map[string]*types.Session
	deleted []string
}

func newFakeRegistry(records ...*types.Session) *fakeRegistry {
	f := &fakeRegistry{records: make(map[string]*types.Session)}
	for _, r := range records {
		f.records[r.ID] = r
	}
	return f
}

func (f *fakeRegistry) ListSessions() ([]*types.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*types.Session, 0, len(f.records))
	for _, r := range f.records {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeRegistry) DeleteSession(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, id)
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeLive struct {
	sessions map[string]*types.Session
}

func (f *fakeLive) Get(key string) (*types.Session, bool) {
	s, ok := f.sessions[key]
	return s, ok
}

type fakeRuntime struct {
	mu      sync.Mutex
	running map[string]bool
	listed  []container.Summary
	removed []string
}

func (f *fakeRuntime) ContainerRunning(ctx context.Context, containerID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[containerID], nil
}

func (f *fakeRuntime) ListContainersByPrefix(ctx context.Context, prefix string) ([]container.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listed, nil
}

func (f *fakeRuntime) RemoveContainer(ctx context.Context, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, containerID)
	return nil
}

func record(id string) *types.Session {
	return &types.Session{ID: id, ContainerName: "sbox-" + id}
}

func TestDropStaleRecords(t *testing.T) {
	registry := newFakeRegistry(record("dead"), record("alive"), record("adopted"))
	live := &fakeLive{sessions: map[string]*types.Session{"adopted": record("adopted")}}
	rt := &fakeRuntime{running: map[string]bool{"sbox-alive": true}}

	r := NewReconciler(Options{Registry: registry, Live: live, Runtime: rt})
	r.Reconcile(context.Background())

	if len(registry.deleted) != 1 || registry.deleted[0] != "dead" {
		t.Errorf("deleted records = %v, want [dead]", registry.deleted)
	}
	if _, ok := registry.records["alive"]; !ok {
		t.Error("record with a running container must survive")
	}
	if _, ok := registry.records["adopted"]; !ok {
		t.Error("record with a live session must survive")
	}
}

func TestSweepOrphansReportOnly(t *testing.T) {
	registry := newFakeRegistry(record("known"))
	live := &fakeLive{sessions: map[string]*types.Session{}}
	rt := &fakeRuntime{
		running: map[string]bool{"sbox-known": true},
		listed: []container.Summary{
			{ID: "c1", Names: []string{"/sbox-known"}},
			{ID: "c2", Names: []string{"/sbox-orphan"}},
		},
	}

	r := NewReconciler(Options{Registry: registry, Live: live, Runtime: rt})
	r.Reconcile(context.Background())

	if len(rt.removed) != 0 {
		t.Errorf("removed containers = %v, want none without RemoveOrphans", rt.removed)
	}
}

func TestSweepOrphansRemoves(t *testing.T) {
	registry := newFakeRegistry(record("known"))
	live := &fakeLive{sessions: map[string]*types.Session{"live": record("live")}}
	rt := &fakeRuntime{
		running: map[string]bool{"sbox-known": true},
		listed: []container.Summary{
			{ID: "c1", Names: []string{"/sbox-known"}},
			{ID: "c2", Names: []string{"/sbox-orphan"}},
			{ID: "c3", Names: []string{"/sbox-live"}},
		},
	}

	r := NewReconciler(Options{Registry: registry, Live: live, Runtime: rt, RemoveOrphans: true})
	r.Reconcile(context.Background())

	if len(rt.removed) != 1 || rt.removed[0] != "c2" {
		t.Errorf("removed containers = %v, want [c2]", rt.removed)
	}
}

func TestStartStop(t *testing.T) {
	registry := newFakeRegistry()
	live := &fakeLive{sessions: map[string]*types.Session{}}
	rt := &fakeRuntime{}

	r := NewReconciler(Options{Registry: registry, Live: live, Runtime: rt})
	r.Start()
	r.Stop()
}
