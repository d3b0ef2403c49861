package session

import (
	"context"
	"errors"
	"testing"

	"github.com/docker/docker/api/types/container"

	"github.com/sboxhq/sbox/pkg/types"
)

type prunerFake struct {
	listed  []container.Summary
	failIDs map[string]bool
	removed []string
}

func (p *prunerFake) ListContainersByPrefix(ctx context.Context, prefix string) ([]container.Summary, error) {
	return p.listed, nil
}

func (p *prunerFake) RemoveContainer(ctx context.Context, containerID string) error {
	if p.failIDs[containerID] {
		return errors.New("in use")
	}
	p.removed = append(p.removed, containerID)
	return nil
}

type recordStoreFake struct {
	records map[string]*types.Session
	deleted []string
}

func (r *recordStoreFake) ListSessions() ([]*types.Session, error) {
	out := make([]*types.Session, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	return out, nil
}

func (r *recordStoreFake) DeleteSession(id string) error {
	delete(r.records, id)
	r.deleted = append(r.deleted, id)
	return nil
}

func TestPruneContainers(t *testing.T) {
	rt := &prunerFake{
		listed: []container.Summary{
			{ID: "c1", Names: []string{"/sbox-a"}},
			{ID: "c2", Names: []string{"/sbox-b"}},
		},
	}
	registry := &recordStoreFake{records: map[string]*types.Session{
		"a":    {ID: "a", ContainerName: "sbox-a"},
		"kept": {ID: "kept", ContainerName: "sbox-elsewhere"},
	}}

	removed, err := PruneContainers(context.Background(), rt, registry)
	if err != nil {
		t.Fatalf("PruneContainers() error = %v", err)
	}
	if len(removed) != 2 {
		t.Errorf("removed = %v, want both containers", removed)
	}
	if len(registry.deleted) != 1 || registry.deleted[0] != "a" {
		t.Errorf("deleted records = %v, want [a]", registry.deleted)
	}
	if _, ok := registry.records["kept"]; !ok {
		t.Error("record for an unrelated container must survive")
	}
}

func TestPruneContainersSkipsFailures(t *testing.T) {
	rt := &prunerFake{
		listed: []container.Summary{
			{ID: "c1", Names: []string{"/sbox-a"}},
			{ID: "c2", Names: []string{"/sbox-b"}},
		},
		failIDs: map[string]bool{"c1": true},
	}

	removed, err := PruneContainers(context.Background(), rt, nil)
	if err != nil {
		t.Fatalf("PruneContainers() error = %v", err)
	}
	if len(removed) != 1 || removed[0] != "sbox-b" {
		t.Errorf("removed = %v, want [sbox-b]", removed)
	}
}
