package datasets

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/sboxhq/sbox/pkg/config"
	"github.com/sboxhq/sbox/pkg/types"
)

func testConfig(t *testing.T, storage types.SessionStorage, access types.DatasetAccess) *config.Config {
	t.Helper()
	return &config.Config{
		SessionStorage: storage,
		DatasetAccess:  access,
		SessionsRoot:   t.TempDir(),
		CacheFilename:  config.DefaultCacheFilename,
		TmpfsSizeMB:    config.DefaultTmpfsSizeMB,
	}
}

func TestCacheReadMissing(t *testing.T) {
	c := NewCache(testConfig(t, types.SessionStorageBind, types.DatasetAccessAPI))

	entries, err := c.ReadEntries("s1")
	if err != nil {
		t.Fatalf("ReadEntries: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty cache, got %d entries", len(entries))
	}
}

func TestCacheWriteIDsRead(t *testing.T) {
	cfg := testConfig(t, types.SessionStorageBind, types.DatasetAccessAPI)
	c := NewCache(cfg)

	if err := c.WriteIDs("s1", []string{"a", "b", "a", "  ", "c"}); err != nil {
		t.Fatalf("WriteIDs: %v", err)
	}

	want := filepath.Join(cfg.SessionsRoot, "s1", config.DefaultCacheFilename)
	if c.FilePath("s1") != want {
		t.Fatalf("FilePath = %q, want %q", c.FilePath("s1"), want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("cache file not written: %v", err)
	}

	ids, err := c.ReadIDs("s1")
	if err != nil {
		t.Fatalf("ReadIDs: %v", err)
	}
	if !reflect.DeepEqual(ids, []string{"a", "b", "c"}) {
		t.Fatalf("ReadIDs = %v", ids)
	}

	entries, err := c.ReadEntries("s1")
	if err != nil {
		t.Fatalf("ReadEntries: %v", err)
	}
	for _, e := range entries {
		if e.Status != types.DatasetStatusPending {
			t.Errorf("entry %s status = %s, want PENDING", e.ID, e.Status)
		}
		if e.Timestamp == "" {
			t.Errorf("entry %s has no timestamp", e.ID)
		}
	}
}

func TestCacheAddEntryUpsert(t *testing.T) {
	c := NewCache(testConfig(t, types.SessionStorageBind, types.DatasetAccessAPI))

	if err := c.AddEntry("s1", "d1", types.DatasetStatusPending); err != nil {
		t.Fatalf("AddEntry d1: %v", err)
	}
	if err := c.AddEntry("s1", "d2", types.DatasetStatusPending); err != nil {
		t.Fatalf("AddEntry d2: %v", err)
	}

	before, err := c.ReadEntries("s1")
	if err != nil {
		t.Fatalf("ReadEntries: %v", err)
	}

	time.Sleep(2 * time.Millisecond)
	if err := c.AddEntry("s1", "d1", types.DatasetStatusLoaded); err != nil {
		t.Fatalf("AddEntry d1 update: %v", err)
	}

	after, err := c.ReadEntries("s1")
	if err != nil {
		t.Fatalf("ReadEntries: %v", err)
	}
	if len(after) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(after))
	}
	if after[0].ID != "d1" || after[1].ID != "d2" {
		t.Fatalf("insertion order lost: %v", after)
	}
	if after[0].Status != types.DatasetStatusLoaded {
		t.Errorf("d1 status = %s, want LOADED", after[0].Status)
	}
	if after[1].Status != types.DatasetStatusPending {
		t.Errorf("d2 status = %s, want PENDING", after[1].Status)
	}
	if !(after[0].Timestamp > before[0].Timestamp) {
		t.Errorf("d1 timestamp not refreshed: %s -> %s", before[0].Timestamp, after[0].Timestamp)
	}
}

func TestCacheReadPendingIDs(t *testing.T) {
	c := NewCache(testConfig(t, types.SessionStorageBind, types.DatasetAccessAPI))

	entries := []types.DatasetEntry{
		{ID: "d1", Status: types.DatasetStatusLoaded},
		{ID: "d2", Status: types.DatasetStatusPending},
		{ID: "d3", Status: types.DatasetStatusFailed},
		{ID: "d4", Status: types.DatasetStatusPending},
	}
	if err := c.WriteEntries("s1", entries); err != nil {
		t.Fatalf("WriteEntries: %v", err)
	}

	ids, err := c.ReadPendingIDs("s1")
	if err != nil {
		t.Fatalf("ReadPendingIDs: %v", err)
	}
	if !reflect.DeepEqual(ids, []string{"d2", "d4"}) {
		t.Fatalf("ReadPendingIDs = %v, want [d2 d4]", ids)
	}
}

func TestCacheCorruptFileReadsEmpty(t *testing.T) {
	c := NewCache(testConfig(t, types.SessionStorageBind, types.DatasetAccessAPI))

	p := c.FilePath("s1")
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	entries, err := c.ReadEntries("s1")
	if err != nil {
		t.Fatalf("ReadEntries: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty read, got %v", entries)
	}
}

func TestCacheNormalizesLegacyStatuses(t *testing.T) {
	c := NewCache(testConfig(t, types.SessionStorageBind, types.DatasetAccessAPI))

	raw := `{"datasets":[
		{"id":"d1","status":"loaded","timestamp":"2024-01-01T00:00:00.000000Z"},
		{"id":"d2","status":"pending"},
		{"id":"d3","status":"bogus"}
	]}`
	p := c.FilePath("s1")
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	entries, err := c.ReadEntries("s1")
	if err != nil {
		t.Fatalf("ReadEntries: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Status != types.DatasetStatusLoaded {
		t.Errorf("d1 status = %s, want LOADED", entries[0].Status)
	}
	if entries[0].Timestamp != "2024-01-01T00:00:00.000000Z" {
		t.Errorf("d1 timestamp rewritten: %s", entries[0].Timestamp)
	}
	if entries[1].Status != types.DatasetStatusPending || entries[1].Timestamp == "" {
		t.Errorf("d2 not normalized: %+v", entries[1])
	}
	if entries[2].Status != types.DatasetStatusPending {
		t.Errorf("unknown status should degrade to PENDING, got %s", entries[2].Status)
	}
}

func TestCacheDedupFirstWins(t *testing.T) {
	c := NewCache(testConfig(t, types.SessionStorageBind, types.DatasetAccessAPI))

	raw := `{"datasets":[
		{"id":"d1","status":"LOADED","timestamp":"2024-01-01T00:00:00.000000Z"},
		{"id":"d1","status":"FAILED","timestamp":"2024-01-02T00:00:00.000000Z"}
	]}`
	p := c.FilePath("s1")
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	entries, err := c.ReadEntries("s1")
	if err != nil {
		t.Fatalf("ReadEntries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry after dedup, got %d", len(entries))
	}
	if entries[0].Status != types.DatasetStatusLoaded {
		t.Errorf("first occurrence should win, got %s", entries[0].Status)
	}
}

func TestCacheClear(t *testing.T) {
	c := NewCache(testConfig(t, types.SessionStorageBind, types.DatasetAccessAPI))

	if err := c.WriteIDs("s1", []string{"d1", "d2"}); err != nil {
		t.Fatalf("WriteIDs: %v", err)
	}
	if err := c.Clear("s1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	entries, err := c.ReadEntries("s1")
	if err != nil {
		t.Fatalf("ReadEntries: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected cleared cache, got %v", entries)
	}

	// The file itself survives with an empty list, not a null
	raw, err := os.ReadFile(c.FilePath("s1"))
	if err != nil {
		t.Fatalf("cache file gone after Clear: %v", err)
	}
	var data struct {
		Datasets []json.RawMessage `json:"datasets"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		t.Fatalf("cleared cache not valid JSON: %v", err)
	}
	if data.Datasets == nil {
		t.Error("cleared cache serialized datasets as null")
	}
}

func TestCacheEntryStatus(t *testing.T) {
	c := NewCache(testConfig(t, types.SessionStorageBind, types.DatasetAccessAPI))

	if err := c.AddEntry("s1", "d1", types.DatasetStatusFailed); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}

	status, ok, err := c.EntryStatus("s1", "d1")
	if err != nil || !ok {
		t.Fatalf("EntryStatus d1: ok=%v err=%v", ok, err)
	}
	if status != types.DatasetStatusFailed {
		t.Errorf("status = %s, want FAILED", status)
	}

	_, ok, err = c.EntryStatus("s1", "missing")
	if err != nil {
		t.Fatalf("EntryStatus missing: %v", err)
	}
	if ok {
		t.Error("expected ok=false for uncached id")
	}
}

func TestCacheWriteReadStable(t *testing.T) {
	c := NewCache(testConfig(t, types.SessionStorageBind, types.DatasetAccessAPI))

	if err := c.WriteIDs("s1", []string{"d1", "d2", "d3"}); err != nil {
		t.Fatalf("WriteIDs: %v", err)
	}
	first, err := c.ReadEntries("s1")
	if err != nil {
		t.Fatalf("ReadEntries: %v", err)
	}
	if err := c.WriteEntries("s1", first); err != nil {
		t.Fatalf("WriteEntries: %v", err)
	}
	second, err := c.ReadEntries("s1")
	if err != nil {
		t.Fatalf("ReadEntries: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("write/read not stable:\n%v\n%v", first, second)
	}
}
