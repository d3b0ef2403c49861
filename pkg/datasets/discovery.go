package datasets

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sboxhq/sbox/pkg/config"
	"github.com/sboxhq/sbox/pkg/log"
	"github.com/sboxhq/sbox/pkg/types"
)

// GlobalSession is the session id under which startup discovery records
// locally available datasets.
const GlobalSession = "global"

// DiscoverLocal lists the dataset ids available under the read-only host
// directory (one id per *.parquet file, extension stripped), sorted. Returns
// nil unless the configuration uses LOCAL_RO access.
func DiscoverLocal(cfg *config.Config) ([]string, error) {
	if !cfg.UsesLocalRO() || cfg.DatasetsHostRO == "" {
		return nil, nil
	}
	if info, err := os.Stat(cfg.DatasetsHostRO); err != nil || !info.IsDir() {
		log.Logger.Warn().
			Str("component", "datasets.discovery").
			Str("path", cfg.DatasetsHostRO).
			Msg("read-only dataset directory not found")
		return nil, nil
	}

	matches, err := filepath.Glob(filepath.Join(cfg.DatasetsHostRO, "*.parquet"))
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", cfg.DatasetsHostRO, err)
	}
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, strings.TrimSuffix(filepath.Base(m), ".parquet"))
	}
	sort.Strings(ids)
	return ids, nil
}

// InitializeLocal discovers LOCAL_RO datasets and seeds the session cache
// with them. Meant to run once at startup; any other access mode is a no-op.
func InitializeLocal(cfg *config.Config, cache *Cache, sessionID string) ([]string, error) {
	if !cfg.UsesLocalRO() {
		return nil, nil
	}
	ids, err := DiscoverLocal(cfg)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if err := cache.WriteIDs(sessionID, ids); err != nil {
		return nil, err
	}
	log.Logger.Info().
		Str("component", "datasets.discovery").
		Int("count", len(ids)).
		Str("path", cfg.DatasetsHostRO).
		Msg("initialized local datasets")
	return ids, nil
}

// Available returns the dataset ids usable by a session: the discovered
// files for LOCAL_RO, the session cache otherwise, nothing for NONE.
func Available(cfg *config.Config, cache *Cache, sessionID string) ([]string, error) {
	switch {
	case cfg.DatasetAccess == types.DatasetAccessNone:
		return nil, nil
	case cfg.UsesLocalRO():
		return DiscoverLocal(cfg)
	default:
		return cache.ReadIDs(sessionID)
	}
}

// CleanID strips any file extension from a dataset id. Callers sometimes
// pass "<id>.parquet"; staging appends the extension itself.
func CleanID(dsID string) string {
	id := strings.TrimSpace(dsID)
	if i := strings.IndexByte(id, '.'); i >= 0 {
		id = id[:i]
	}
	return id
}
