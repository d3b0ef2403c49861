package datasets

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sboxhq/sbox/pkg/config"
	"github.com/sboxhq/sbox/pkg/log"
	"github.com/sboxhq/sbox/pkg/types"
)

// timestampFormat keeps microsecond precision so entries sort the same way
// lexically and chronologically.
const timestampFormat = "2006-01-02T15:04:05.000000Z07:00"

func nowUTC() string {
	return time.Now().UTC().Format(timestampFormat)
}

// cacheFile is the on-disk shape of a per-session dataset cache.
type cacheFile struct {
	Datasets []types.DatasetEntry `json:"datasets"`
}

// Cache tracks which datasets a session has requested and how far their
// staging got. Each session owns one JSON file under the sessions root; the
// file lives on the host regardless of session storage mode, so TMPFS and
// BIND sessions are tracked identically.
//
// All writes are atomic (temp file in the same directory, then rename) and
// create parent directories as needed. Reads tolerate a missing or corrupt
// file by treating it as empty.
type Cache struct {
	cfg *config.Config
}

// NewCache returns a cache bound to the given configuration.
func NewCache(cfg *config.Config) *Cache {
	return &Cache{cfg: cfg}
}

// FilePath returns the host path of the session's cache file.
func (c *Cache) FilePath(sessionID string) string {
	return c.cfg.CacheFilePath(sessionID)
}

// ReadEntries returns the cached entries de-duplicated in insertion order
// (first occurrence wins).
func (c *Cache) ReadEntries(sessionID string) ([]types.DatasetEntry, error) {
	raw, err := os.ReadFile(c.FilePath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read dataset cache: %w", err)
	}

	var data cacheFile
	if err := json.Unmarshal(raw, &data); err != nil {
		log.Logger.Warn().Err(err).
			Str("component", "datasets.cache").
			Str("session_id", sessionID).
			Msg("dataset cache unreadable, treating as empty")
		return nil, nil
	}

	seen := make(map[string]bool, len(data.Datasets))
	out := make([]types.DatasetEntry, 0, len(data.Datasets))
	for _, e := range data.Datasets {
		if e.ID == "" || seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		e.Status = normalizeStatus(string(e.Status))
		if e.Timestamp == "" {
			e.Timestamp = nowUTC()
		}
		out = append(out, e)
	}
	return out, nil
}

// ReadIDs returns the cached dataset ids de-duplicated in insertion order.
func (c *Cache) ReadIDs(sessionID string) ([]string, error) {
	entries, err := c.ReadEntries(sessionID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	return ids, nil
}

// ReadPendingIDs returns the ids still awaiting staging, in insertion order.
func (c *Cache) ReadPendingIDs(sessionID string) ([]string, error) {
	entries, err := c.ReadEntries(sessionID)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.Status == types.DatasetStatusPending {
			ids = append(ids, e.ID)
		}
	}
	return ids, nil
}

// EntryStatus returns the status of one cached dataset. ok is false when the
// id is not cached.
func (c *Cache) EntryStatus(sessionID, dsID string) (types.DatasetStatus, bool, error) {
	entries, err := c.ReadEntries(sessionID)
	if err != nil {
		return "", false, err
	}
	for _, e := range entries {
		if e.ID == dsID {
			return e.Status, true, nil
		}
	}
	return "", false, nil
}

// WriteEntries overwrites the cache with the given entries, de-duplicated in
// order. Blank ids are dropped; missing statuses default to PENDING.
func (c *Cache) WriteEntries(sessionID string, entries []types.DatasetEntry) error {
	seen := make(map[string]bool, len(entries))
	unique := make([]types.DatasetEntry, 0, len(entries))
	for _, e := range entries {
		id := strings.TrimSpace(e.ID)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		e.ID = id
		if e.Status == "" {
			e.Status = types.DatasetStatusPending
		}
		if e.Timestamp == "" {
			e.Timestamp = nowUTC()
		}
		unique = append(unique, e)
	}

	buf, err := json.MarshalIndent(cacheFile{Datasets: unique}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode dataset cache: %w", err)
	}
	return atomicWrite(c.FilePath(sessionID), buf)
}

// WriteIDs overwrites the cache with PENDING entries for the given ids.
func (c *Cache) WriteIDs(sessionID string, ids []string) error {
	entries := make([]types.DatasetEntry, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, types.DatasetEntry{ID: id, Status: types.DatasetStatusPending})
	}
	return c.WriteEntries(sessionID, entries)
}

// AddEntry inserts or updates one entry, refreshing its timestamp. New ids
// append at the end so insertion order is preserved. Idempotent.
func (c *Cache) AddEntry(sessionID, dsID string, status types.DatasetStatus) error {
	entries, err := c.ReadEntries(sessionID)
	if err != nil {
		return err
	}
	found := false
	for i := range entries {
		if entries[i].ID == dsID {
			entries[i].Status = status
			entries[i].Timestamp = nowUTC()
			found = true
			break
		}
	}
	if !found {
		entries = append(entries, types.DatasetEntry{ID: dsID, Status: status, Timestamp: nowUTC()})
	}
	return c.WriteEntries(sessionID, entries)
}

// UpdateStatus flips the status of a cached dataset. An id missing from the
// cache is added with the given status.
func (c *Cache) UpdateStatus(sessionID, dsID string, status types.DatasetStatus) error {
	return c.AddEntry(sessionID, dsID, status)
}

// Clear empties the session's cache file.
func (c *Cache) Clear(sessionID string) error {
	return c.WriteEntries(sessionID, nil)
}

// normalizeStatus maps raw cache values onto the known set. Older caches
// carry lowercase statuses; unknown values degrade to PENDING so a stale
// entry gets retried rather than silently trusted.
func normalizeStatus(raw string) types.DatasetStatus {
	switch types.DatasetStatus(strings.ToUpper(strings.TrimSpace(raw))) {
	case types.DatasetStatusLoaded:
		return types.DatasetStatusLoaded
	case types.DatasetStatusFailed:
		return types.DatasetStatusFailed
	}
	return types.DatasetStatusPending
}
