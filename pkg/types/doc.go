/*
Package types defines the core data structures used throughout sbox.

This package contains the fundamental types that represent the sandbox domain
model, including sessions, execution results, artifacts, and dataset cache
entries. These types are used by all other packages for state management, API
communication, and container orchestration.

# Architecture

The types package is the foundation of the sandbox data model. It defines:

  - Session lifecycle (one container per conversation key)
  - Storage modes (tmpfs vs. bind-mounted session directories)
  - Dataset access modes (none, local read-only, API, hybrid)
  - Execution results with captured stdout and discovered artifacts
  - Artifact descriptors backed by the content-addressed store
  - Dataset cache entries with status transitions

All types are designed to be:
  - Serializable (JSON for registry and metadata persistence)
  - Self-documenting (clear field names and comments)
  - Validated (constants for enums, parse helpers in pkg/config)

# Core Types

Session Lifecycle:
  - Session: One conversation-pinned sandbox container
  - SessionState: Starting, running, stopped, failed
  - SessionStorage: TMPFS (in-memory) or BIND (host directory)

Execution:
  - ExecResult: Stdout, error, and artifacts from one code execution
  - Artifact: Descriptor for an ingested output file

Datasets:
  - DatasetAccess: NONE, LOCAL_RO, API, or HYBRID
  - DatasetEntry: Cache row with PENDING/LOADED/FAILED status
  - StagedDataset: A dataset made visible inside a container

Networking:
  - AddressStrategy: How the host reaches a session's REPL port

# Status Transitions

Dataset cache entries move through a small state machine:

	PENDING ──load ok──> LOADED
	PENDING ──load err─> FAILED
	FAILED  ──retry────> PENDING
	LOADED  ──reload───> LOADED (idempotent)

Entries are never removed except by an explicit cache clear. Order of first
insertion is preserved and ids are unique within a session.

# Usage

Creating a session handle:

	sess := &types.Session{
		ID:            "conv-42",
		ContainerName: "sbox-conv-42",
		Image:         "sandbox:latest",
		Storage:       types.SessionStorageTmpfs,
		DatasetAccess: types.DatasetAccessAPI,
		State:         types.SessionStateStarting,
		CreatedAt:     time.Now().UTC(),
	}

Inspecting an execution result:

	if !res.OK {
		fmt.Println("execution failed:", res.Error)
	}
	for _, a := range res.Artifacts {
		fmt.Printf("%s (%s, %d bytes) %s\n", a.Name, a.MIME, a.Size, a.URL)
	}

# Design Principles

1. Enums are string-typed constants so they serialize readably and survive
round-trips through JSON registries and log output.

2. The Session struct is an in-memory handle; durable persistence uses
dedicated records in pkg/storage and pkg/session so wire formats can evolve
independently of this package.

3. Artifact.CreatedAt is an ISO-8601 string rather than time.Time because the
catalog stores timestamps as TEXT and descriptors relay them verbatim.
*/
package types
