package types

import (
	"time"
)

// SessionStorage defines where a session's scratch directory lives
type SessionStorage string

const (
	// SessionStorageTmpfs keeps /session in container memory (destroyed with the container)
	SessionStorageTmpfs SessionStorage = "TMPFS"

	// SessionStorageBind mounts a host directory into the container at /session
	SessionStorageBind SessionStorage = "BIND"
)

// DatasetAccess defines how datasets reach the container
type DatasetAccess string

const (
	DatasetAccessNone    DatasetAccess = "NONE"     // No dataset directory
	DatasetAccessLocalRO DatasetAccess = "LOCAL_RO" // Host directory mounted read-only
	DatasetAccessAPI     DatasetAccess = "API"      // Fetched on demand into /data
	DatasetAccessHybrid  DatasetAccess = "HYBRID"   // Local read-only mount with API fallback
)

// AddressStrategy defines how the host reaches a session's REPL port
type AddressStrategy string

const (
	// AddressStrategyContainer dials the container by name on a shared Docker network
	AddressStrategyContainer AddressStrategy = "container"

	// AddressStrategyHost dials the published port on the detected host gateway
	AddressStrategyHost AddressStrategy = "host"
)

// SessionState represents the lifecycle state of a session
type SessionState string

const (
	SessionStateStarting SessionState = "starting"
	SessionStateRunning  SessionState = "running"
	SessionStateStopped  SessionState = "stopped"
	SessionStateFailed   SessionState = "failed"
)

// Session represents one conversation-pinned sandbox container
type Session struct {
	ID             string         `json:"id"`
	ContainerID    string         `json:"container_id"`
	ContainerName  string         `json:"container_name"` // "sbox-<id>"
	Image          string         `json:"image"`
	Storage        SessionStorage `json:"storage"`
	DatasetAccess  DatasetAccess  `json:"dataset_access"`
	HostPort       int            `json:"host_port"`    // Published REPL port on the host (0 when unpublished)
	ReplAddress    string         `json:"repl_address"` // Base URL the daemon dials for REPL calls
	SessionDir     string         `json:"session_dir,omitempty"` // Host session directory (BIND only)
	State          SessionState   `json:"state"`
	ExecutionCount int            `json:"execution_count"`
	CreatedAt      time.Time      `json:"created_at"`
	LastUsed       time.Time      `json:"last_used"`
	StoppedAt      time.Time      `json:"stopped_at"`
}

// ExecResult is the outcome of one code execution inside a session
type ExecResult struct {
	OK         bool        `json:"ok"`
	Stdout     string      `json:"stdout"`
	Error      string      `json:"error,omitempty"` // Traceback or timeout message from the REPL
	SessionDir string      `json:"session_dir"`     // Host session directory (empty for TMPFS)
	Artifacts  []*Artifact `json:"artifacts"`
}

// Artifact describes one ingested (or skipped) output file
type Artifact struct {
	ID        string `json:"id"` // "art_<hex>", empty when ingest skipped the file
	Name      string `json:"name"`
	MIME      string `json:"mime"`
	Size      int64  `json:"size"`
	SHA256    string `json:"sha256,omitempty"` // Empty when ingest skipped the file
	CreatedAt string `json:"created_at"`       // ISO-8601 UTC
	URL       string `json:"url,omitempty"`    // Signed download URL (empty when signing is unconfigured)
	Error     string `json:"error,omitempty"`  // Set when the file was skipped (e.g. over the size cap)
}

// DatasetStatus represents the loading state of a cached dataset
type DatasetStatus string

const (
	DatasetStatusPending DatasetStatus = "PENDING"
	DatasetStatusLoaded  DatasetStatus = "LOADED"
	DatasetStatusFailed  DatasetStatus = "FAILED"
)

// DatasetEntry is one row of the per-session dataset cache
type DatasetEntry struct {
	ID        string        `json:"id"`
	Status    DatasetStatus `json:"status"`
	Timestamp string        `json:"timestamp"` // ISO-8601 UTC
}

// DatasetSource records where a staged dataset came from
type DatasetSource string

const (
	DatasetSourceAPI   DatasetSource = "api"
	DatasetSourceLocal DatasetSource = "local"
)

// StagedDataset describes a dataset made visible inside a container
type StagedDataset struct {
	ID              string
	PathInContainer string
	Source          DatasetSource
}

// ExportResult is the outcome of exporting a file from a container to the host
type ExportResult struct {
	Success     bool   `json:"success"`
	HostPath    string `json:"host_path,omitempty"`
	DownloadURL string `json:"download_url,omitempty"`
	Error       string `json:"error,omitempty"`
}
