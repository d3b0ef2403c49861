package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sboxhq/sbox/pkg/types"
)

// Defaults for every tunable. Container paths are canonical and shared with
// the sandbox image; do not change them lightly.
const (
	DefaultEnvFile       = "sandbox.env"
	DefaultSessionsRoot  = "./sessions"
	DefaultBlobstoreDir  = "./blobstore"
	DefaultArtifactsDB   = "./artifacts.db"
	DefaultCacheFilename = "cache_datasets.json"
	DefaultSandboxImage  = "sandbox:latest"
	DefaultTmpfsSizeMB   = 1024

	DefaultComposeNetwork = "sbox-network"
	DefaultHostGateway    = "host.docker.internal"

	DefaultTokenTTLSeconds   = 600
	DefaultServerPort        = 8000
	DefaultMaxArtifactSizeMB = 50

	ContainerSessionPath   = "/session"
	ContainerDataPath      = "/data"
	ContainerHeavyDataPath = "/heavy_data"
	ContainerExportPath    = "/to_export"
	ContainerModifiedPath  = "/modified_data"

	// ContainerReplPort is the fixed port the REPL server listens on inside
	// every sandbox container.
	ContainerReplPort = 9000
)

// Config is the immutable resolved configuration for one process. Build it
// with Load; resolution order per variable is explicit override > env file
// entry > process environment > default.
type Config struct {
	SessionStorage types.SessionStorage
	DatasetAccess  types.DatasetAccess

	// Host-side paths. All except HybridLocalPath are absolute after Load;
	// HybridLocalPath is kept verbatim so it stays usable as a mount source
	// when the daemon itself runs inside a container.
	SessionsRoot    string
	DatasetsHostRO  string
	HybridLocalPath string
	BlobstoreDir    string
	ArtifactsDBPath string
	CacheFilename   string

	SandboxImage string
	TmpfsSizeMB  int

	// InChatURL controls whether download URLs are embedded in exec payloads
	InChatURL bool

	AddressStrategy types.AddressStrategy
	ComposeNetwork  string
	HostGateway     string

	// Artifact service settings
	ArtifactsSecret   string
	SecretGenerated   bool // true when ArtifactsSecret was generated this process
	TokenTTLSeconds   int
	PublicBaseURL     string // no trailing slash; empty means localhost:<ServerPort>
	ServerPort        int
	MaxArtifactSizeMB int
}

// Overrides carry explicit values that beat both the env file and the process
// environment. Zero values mean "not set".
type Overrides struct {
	SessionStorage  string
	DatasetAccess   string
	SessionsRoot    string
	DatasetsHostRO  string
	HybridLocalPath string
	SandboxImage    string
	TmpfsSizeMB     int
	EnvFile         string
}

// Load resolves configuration from the given env file (or ./sandbox.env when
// empty), the process environment, and defaults.
func Load(envFile string) (*Config, error) {
	return LoadWithOverrides(Overrides{EnvFile: envFile})
}

// LoadWithOverrides is Load plus explicit per-field overrides, used by CLI
// flags.
func LoadWithOverrides(ov Overrides) (*Config, error) {
	envFile := ov.EnvFile
	if envFile == "" {
		if _, err := os.Stat(DefaultEnvFile); err == nil {
			envFile = DefaultEnvFile
		}
	}

	vars, err := ParseEnvFile(envFile)
	if err != nil {
		return nil, err
	}
	// Downstream collaborators read the environment directly
	ExportEnv(vars)

	storage, err := ParseSessionStorage(resolve(ov.SessionStorage, vars, "SESSION_STORAGE", string(types.SessionStorageTmpfs)))
	if err != nil {
		return nil, err
	}
	access, err := ParseDatasetAccess(resolve(ov.DatasetAccess, vars, "DATASET_ACCESS", string(types.DatasetAccessAPI)))
	if err != nil {
		return nil, err
	}
	strategy, err := ParseAddressStrategy(resolve("", vars, "SANDBOX_ADDRESS_STRATEGY", string(types.AddressStrategyContainer)))
	if err != nil {
		return nil, err
	}

	sessionsRoot, err := absPath(resolve(ov.SessionsRoot, vars, "SESSIONS_ROOT", DefaultSessionsRoot))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve SESSIONS_ROOT: %w", err)
	}
	blobstoreDir, err := absPath(resolve("", vars, "BLOBSTORE_DIR", DefaultBlobstoreDir))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve BLOBSTORE_DIR: %w", err)
	}
	artifactsDB, err := absPath(resolve("", vars, "ARTIFACTS_DB", DefaultArtifactsDB))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve ARTIFACTS_DB: %w", err)
	}

	datasetsHostRO := resolve(ov.DatasetsHostRO, vars, "DATASETS_HOST_RO", "")
	if datasetsHostRO != "" {
		datasetsHostRO, err = absPath(datasetsHostRO)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve DATASETS_HOST_RO: %w", err)
		}
	}
	// Kept verbatim: resolving would break mount sources for a containerized daemon
	hybridLocalPath := resolve(ov.HybridLocalPath, vars, "HYBRID_LOCAL_PATH", "")

	tmpfsSizeMB := ov.TmpfsSizeMB
	if tmpfsSizeMB == 0 {
		raw := resolve("", vars, "TMPFS_SIZE_MB", strconv.Itoa(DefaultTmpfsSizeMB))
		tmpfsSizeMB, err = strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to parse TMPFS_SIZE_MB: %w", err)
		}
	}

	maxArtifactMB := DefaultMaxArtifactSizeMB
	if raw := resolve("", vars, "MAX_ARTIFACT_SIZE_MB", ""); raw != "" {
		maxArtifactMB, err = strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to parse MAX_ARTIFACT_SIZE_MB: %w", err)
		}
	}

	cfg := &Config{
		SessionStorage:  storage,
		DatasetAccess:   access,
		SessionsRoot:    sessionsRoot,
		DatasetsHostRO:  datasetsHostRO,
		HybridLocalPath: hybridLocalPath,
		BlobstoreDir:    blobstoreDir,
		ArtifactsDBPath: artifactsDB,
		CacheFilename:   resolve("", vars, "CACHE_FILENAME", DefaultCacheFilename),
		SandboxImage:    resolve(ov.SandboxImage, vars, "SANDBOX_IMAGE", DefaultSandboxImage),
		TmpfsSizeMB:     tmpfsSizeMB,
		InChatURL:       parseBool(resolve("", vars, "IN_CHAT_URL", "false")),
		AddressStrategy: strategy,
		ComposeNetwork:  resolve("", vars, "COMPOSE_NETWORK", DefaultComposeNetwork),
		HostGateway:     resolve("", vars, "HOST_GATEWAY", DefaultHostGateway),

		ArtifactsSecret:   resolve("", vars, "ARTIFACTS_SECRET", ""),
		TokenTTLSeconds:   parseIntLenient(resolve("", vars, "ARTIFACTS_TOKEN_TTL_SECONDS", ""), DefaultTokenTTLSeconds),
		PublicBaseURL:     strings.TrimRight(resolve("", vars, "ARTIFACTS_PUBLIC_BASE_URL", ""), "/"),
		ServerPort:        parseIntLenient(resolve("", vars, "ARTIFACTS_SERVER_PORT", ""), DefaultServerPort),
		MaxArtifactSizeMB: maxArtifactMB,
	}

	if cfg.ArtifactsSecret == "" {
		secret, err := generateSecret()
		if err != nil {
			return nil, err
		}
		cfg.ArtifactsSecret = secret
		cfg.SecretGenerated = true
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DatasetAccess {
	case types.DatasetAccessLocalRO:
		if c.DatasetsHostRO == "" {
			return fmt.Errorf("DATASETS_HOST_RO is required when DATASET_ACCESS=LOCAL_RO")
		}
	case types.DatasetAccessHybrid:
		if c.HybridLocalPath == "" {
			return fmt.Errorf("HYBRID_LOCAL_PATH is required when DATASET_ACCESS=HYBRID")
		}
	case types.DatasetAccessNone:
		c.DatasetsHostRO = ""
	}
	return nil
}

// IsTmpfs reports whether /session lives in container memory
func (c *Config) IsTmpfs() bool {
	return c.SessionStorage == types.SessionStorageTmpfs
}

// IsBind reports whether /session is a host bind mount
func (c *Config) IsBind() bool {
	return c.SessionStorage == types.SessionStorageBind
}

// UsesAPIStaging reports whether datasets are fetched on demand
func (c *Config) UsesAPIStaging() bool {
	return c.DatasetAccess == types.DatasetAccessAPI || c.DatasetAccess == types.DatasetAccessHybrid
}

// UsesLocalRO reports whether a host dataset directory is mounted read-only
func (c *Config) UsesLocalRO() bool {
	return c.DatasetAccess == types.DatasetAccessLocalRO
}

// UsesHybrid reports whether local datasets are preferred with API fallback
func (c *Config) UsesHybrid() bool {
	return c.DatasetAccess == types.DatasetAccessHybrid
}

// ModeID returns the composite storage/dataset mode identifier used in logs
// and telemetry (e.g. "TMPFS_API", "BIND_HYBRID").
func (c *Config) ModeID() string {
	var ds string
	switch c.DatasetAccess {
	case types.DatasetAccessNone:
		ds = "NONE"
	case types.DatasetAccessLocalRO:
		ds = "LOCAL"
	case types.DatasetAccessHybrid:
		ds = "HYBRID"
	default:
		ds = "API"
	}
	return string(c.SessionStorage) + "_" + ds
}

// SessionDir returns the host-side folder for a session, used in BIND mode and
// for cache files, logs, and exports.
func (c *Config) SessionDir(sessionID string) string {
	return filepath.Join(c.SessionsRoot, sessionID)
}

// CacheFilePath returns the host-side dataset cache file for a session. It
// lives under the sessions root regardless of storage mode.
func (c *Config) CacheFilePath(sessionID string) string {
	return filepath.Join(c.SessionDir(sessionID), c.CacheFilename)
}

// EffectiveBaseURL returns the public base for download URLs, falling back to
// localhost with the given port when no public base is configured. Port 0
// means "use the configured server port".
func (c *Config) EffectiveBaseURL(port int) string {
	if c.PublicBaseURL != "" {
		return c.PublicBaseURL
	}
	if port == 0 {
		port = c.ServerPort
	}
	return fmt.Sprintf("http://localhost:%d", port)
}

// ParseSessionStorage parses a SESSION_STORAGE value (case-insensitive)
func ParseSessionStorage(raw string) (types.SessionStorage, error) {
	switch types.SessionStorage(strings.ToUpper(strings.TrimSpace(raw))) {
	case types.SessionStorageTmpfs:
		return types.SessionStorageTmpfs, nil
	case types.SessionStorageBind:
		return types.SessionStorageBind, nil
	}
	return "", fmt.Errorf("SESSION_STORAGE must be one of: TMPFS, BIND (got: %q)", raw)
}

// ParseDatasetAccess parses a DATASET_ACCESS value (case-insensitive)
func ParseDatasetAccess(raw string) (types.DatasetAccess, error) {
	switch types.DatasetAccess(strings.ToUpper(strings.TrimSpace(raw))) {
	case types.DatasetAccessNone:
		return types.DatasetAccessNone, nil
	case types.DatasetAccessLocalRO:
		return types.DatasetAccessLocalRO, nil
	case types.DatasetAccessAPI:
		return types.DatasetAccessAPI, nil
	case types.DatasetAccessHybrid:
		return types.DatasetAccessHybrid, nil
	}
	return "", fmt.Errorf("DATASET_ACCESS must be one of: NONE, LOCAL_RO, API, HYBRID (got: %q)", raw)
}

// ParseAddressStrategy parses a SANDBOX_ADDRESS_STRATEGY value (case-insensitive)
func ParseAddressStrategy(raw string) (types.AddressStrategy, error) {
	switch types.AddressStrategy(strings.ToLower(strings.TrimSpace(raw))) {
	case types.AddressStrategyContainer:
		return types.AddressStrategyContainer, nil
	case types.AddressStrategyHost:
		return types.AddressStrategyHost, nil
	}
	return "", fmt.Errorf("SANDBOX_ADDRESS_STRATEGY must be one of: container, host (got: %q)", raw)
}

// resolve applies the precedence chain: override > env file > process env >
// default. Empty values count as unset at every level.
func resolve(override string, vars map[string]string, name, def string) string {
	if override != "" {
		return override
	}
	if v, ok := vars[name]; ok && strings.TrimSpace(v) != "" {
		return v
	}
	if v := os.Getenv(name); strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

func parseBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes":
		return true
	}
	return false
}

// parseIntLenient falls back to def on any parse failure. Token TTL and the
// server port tolerate malformed values instead of refusing to start.
func parseIntLenient(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return def
	}
	return n
}

func absPath(p string) (string, error) {
	return filepath.Abs(p)
}

func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate artifacts secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
