package datasets

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/sboxhq/sbox/pkg/config"
	"github.com/sboxhq/sbox/pkg/types"
)

// FetchFunc retrieves the raw parquet bytes for a dataset id. Production
// wiring points this at a dataset service; tests supply stubs.
type FetchFunc func(ctx context.Context, dsID string) ([]byte, error)

// ContainerWriter places bytes at an absolute path inside a running
// container. *runtime.DockerRuntime satisfies it.
type ContainerWriter interface {
	PutBytes(ctx context.Context, containerID, containerPath string, data []byte) error
}

// ContainerStagedPath returns the in-container path where an API-staged
// dataset lands.
func ContainerStagedPath(dsID string) string {
	return path.Join(config.ContainerDataPath, dsID+".parquet")
}

// ContainerROPath returns the in-container path of a dataset under the
// read-only mount. Assumes <id>.parquet naming inside the mounted directory.
func ContainerROPath(dsID string) string {
	return path.Join(config.ContainerDataPath, dsID+".parquet")
}

// ContainerHybridPath returns the in-container path of a locally mounted
// dataset in HYBRID mode.
func ContainerHybridPath(dsID string) string {
	return path.Join(config.ContainerHeavyDataPath, dsID+".parquet")
}

// HostBindDataPath returns the host path that a BIND-mode container sees
// under /session/data.
func HostBindDataPath(cfg *config.Config, sessionID, dsID string) string {
	return filepath.Join(cfg.SessionDir(sessionID), "data", dsID+".parquet")
}

// HybridLocalHit reports whether the dataset is present in the hybrid local
// directory on the host.
func HybridLocalHit(cfg *config.Config, dsID string) bool {
	if cfg.HybridLocalPath == "" {
		return false
	}
	info, err := os.Stat(filepath.Join(cfg.HybridLocalPath, dsID+".parquet"))
	return err == nil && info.Mode().IsRegular()
}

// Manager fetches datasets into running sandboxes and tracks their lifecycle
// in the per-session cache.
type Manager struct {
	cfg    *config.Config
	cache  *Cache
	writer ContainerWriter
	fetch  FetchFunc
}

// NewManager returns a Manager. writer may be nil when the configuration
// never stages through the container (BIND storage, or no API access).
func NewManager(cfg *config.Config, cache *Cache, writer ContainerWriter, fetch FetchFunc) *Manager {
	return &Manager{cfg: cfg, cache: cache, writer: writer, fetch: fetch}
}

// Cache exposes the manager's session cache.
func (m *Manager) Cache() *Cache {
	return m.cache
}

// Stage fetches one dataset and places it at its staged path. Only valid
// with API or HYBRID access. TMPFS sessions receive the bytes through the
// container runtime; BIND sessions get an atomic write into the session
// directory, which the container sees through its bind mount.
func (m *Manager) Stage(ctx context.Context, sessionID, containerID, dsID string) (*types.StagedDataset, error) {
	if !m.cfg.UsesAPIStaging() {
		return nil, fmt.Errorf("dataset staging requires API or HYBRID access (mode is %s)", m.cfg.DatasetAccess)
	}
	if m.fetch == nil {
		return nil, fmt.Errorf("no dataset fetcher configured")
	}

	data, err := m.fetch(ctx, dsID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch dataset %s: %w", dsID, err)
	}

	if m.cfg.IsTmpfs() {
		if m.writer == nil {
			return nil, fmt.Errorf("no container writer configured for tmpfs staging")
		}
		if err := m.writer.PutBytes(ctx, containerID, ContainerStagedPath(dsID), data); err != nil {
			return nil, err
		}
	} else {
		if err := atomicWrite(HostBindDataPath(m.cfg, sessionID, dsID), data); err != nil {
			return nil, err
		}
	}

	return &types.StagedDataset{
		ID:              dsID,
		PathInContainer: ContainerStagedPath(dsID),
		Source:          types.DatasetSourceAPI,
	}, nil
}

// atomicWrite writes data to path via a temp file in the same directory and
// a rename, creating parent directories as needed.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", tmp.Name(), err)
	}
	// CreateTemp opens 0600; staged files must stay readable by the sandbox user
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
