package volume

import (
	"fmt"
	"os"

	"github.com/docker/docker/api/types/mount"

	"github.com/sboxhq/sbox/pkg/config"
	"github.com/sboxhq/sbox/pkg/types"
)

// dataTmpfsOptions backs /data when datasets arrive through the API;
// sandbox code must be able to write fetched parquet files there.
const dataTmpfsOptions = "rw,size=1g,mode=1777"

// Plan is the assembled mount set for one session container.
type Plan struct {
	Binds      []mount.Mount
	Tmpfs      map[string]string
	SessionDir string // host directory backing /session ("" for TMPFS)
}

// Assembler builds per-session mount plans from the resolved configuration.
type Assembler struct {
	cfg *config.Config
}

// NewAssembler creates a mount assembler for the given configuration.
func NewAssembler(cfg *config.Config) *Assembler {
	return &Assembler{cfg: cfg}
}

// Plan assembles the /session and dataset mounts for sessionID. In BIND
// mode the host session directory is created if missing.
//
// Session storage picks the /session backing: a sized memory filesystem
// for TMPFS, a read-write bind of the host session directory for BIND.
// Dataset access picks the /data side: LOCAL_RO binds the host dataset
// directory read-only at /data; HYBRID binds the hybrid directory
// read-only at /heavy_data and adds a writable tmpfs at /data for API
// fallback staging; API gets the writable /data tmpfs alone; NONE mounts
// nothing.
func (a *Assembler) Plan(sessionID string) (*Plan, error) {
	p := &Plan{Tmpfs: map[string]string{}}

	switch a.cfg.SessionStorage {
	case types.SessionStorageTmpfs:
		p.Tmpfs[config.ContainerSessionPath] = fmt.Sprintf("rw,size=%dm,mode=1777", a.cfg.TmpfsSizeMB)
	case types.SessionStorageBind:
		dir, err := a.EnsureSessionDir(sessionID)
		if err != nil {
			return nil, err
		}
		p.SessionDir = dir
		p.Binds = append(p.Binds, mount.Mount{
			Type:   mount.TypeBind,
			Source: dir,
			Target: config.ContainerSessionPath,
		})
	default:
		return nil, fmt.Errorf("unknown session storage mode: %s", a.cfg.SessionStorage)
	}

	switch a.cfg.DatasetAccess {
	case types.DatasetAccessLocalRO:
		p.Binds = append(p.Binds, mount.Mount{
			Type:     mount.TypeBind,
			Source:   a.cfg.DatasetsHostRO,
			Target:   config.ContainerDataPath,
			ReadOnly: true,
		})
	case types.DatasetAccessHybrid:
		p.Binds = append(p.Binds, mount.Mount{
			Type:     mount.TypeBind,
			Source:   a.cfg.HybridLocalPath,
			Target:   config.ContainerHeavyDataPath,
			ReadOnly: true,
		})
		// API fallback still needs a writable /data
		p.Tmpfs[config.ContainerDataPath] = dataTmpfsOptions
	case types.DatasetAccessAPI:
		p.Tmpfs[config.ContainerDataPath] = dataTmpfsOptions
	case types.DatasetAccessNone:
		// no dataset directory
	}

	return p, nil
}

// EnsureSessionDir creates the host session directory if missing and
// returns its path. Used for BIND mounts and for host-side session state
// (cache files, logs, exports) in every storage mode.
func (a *Assembler) EnsureSessionDir(sessionID string) (string, error) {
	dir := a.cfg.SessionDir(sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create session directory: %w", err)
	}
	return dir, nil
}
