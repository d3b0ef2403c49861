/*
Package storage provides BoltDB-backed persistence for the sandbox session registry.

The storage package implements the Store interface using BoltDB as the underlying
database, mirroring the daemon's in-memory session registry to disk. The daemon
remains the authority on live state; the database exists so that a restarted
daemon can find the containers it left running and either re-adopt or reap them.
All records are serialized as JSON and stored in a single bucket keyed by
session ID.

# Architecture

The registry uses BoltDB (bbolt) for embedded, transactional storage with zero
external dependencies:

	┌──────────────────── SESSION REGISTRY ────────────────────┐
	│                                                           │
	│  ┌────────────────────────────────────────────┐          │
	│  │            BoltStore                        │          │
	│  │  - File: <dataDir>/registry.db              │          │
	│  │  - Format: B+tree with MVCC                 │          │
	│  │  - Transactions: ACID with fsync            │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Bucket Structure               │          │
	│  │  ┌────────────────────────────┐            │          │
	│  │  │ sessions      (Session ID) │            │          │
	│  │  └────────────────────────────┘            │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │        Transaction Management               │          │
	│  │  - Read: db.View() - Concurrent reads       │          │
	│  │  - Write: db.Update() - Serialized writes   │          │
	│  │  - Rollback: Automatic on error             │          │
	│  │  - Commit: Automatic on success + fsync     │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          JSON Serialization                 │          │
	│  │  - Marshal: types.Session → JSON bytes      │          │
	│  │  - Unmarshal: JSON bytes → types.Session    │          │
	│  └────────────────────────────────────────────┘          │
	└───────────────────────────────────────────────────────────┘

# Core Components

BoltStore:
  - Implements Store interface using BoltDB
  - Single database file under the daemon data directory
  - Automatic bucket creation on initialization
  - Thread-safe via BoltDB's transaction model
  - 1-second open timeout so a second daemon fails fast instead of
    blocking forever on the file lock

Buckets:
  - sessions: One record per sandbox session, including container ID,
    container name, REPL address, storage and dataset-access modes,
    execution count, and lifecycle timestamps

Transaction Model:
  - Read transactions: db.View() - Concurrent, consistent snapshots
  - Write transactions: db.Update() - Serialized, atomic commits
  - Isolation: Snapshot isolation (MVCC)
  - Durability: fsync on commit ensures crash recovery

# Operations

Save Session:
  - Upsert by session ID (same path for create and update)
  - Rejects records with an empty ID
  - Called on session start, after every execution (to persist
    execution counts and last-used timestamps), and on stop

Get Session:
  - Key lookup by session ID
  - Returns "session not found" error when absent

List Sessions:
  - Cursor iteration over the sessions bucket
  - Results sorted by creation time, oldest first
  - Used on daemon startup for container re-adoption and by the
    sessions CLI commands

Delete Session:
  - Remove key from bucket
  - No error if key doesn't exist (idempotent)
  - Called when a session is stopped or evicted

# Usage

Creating a Store:

	store, err := storage.NewBoltStore("/var/lib/sbox")
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

Session Operations:

	// Record a running session
	sess := &types.Session{
		ID:            "conv-42",
		ContainerID:   "a1b2c3d4",
		ContainerName: "sbox-conv-42",
		Storage:       types.SessionStorageTmpfs,
		State:         types.SessionStateRunning,
		CreatedAt:     time.Now().UTC(),
	}
	err := store.SaveSession(sess)

	// Look up one session
	sess, err := store.GetSession("conv-42")

	// Enumerate everything the daemon knows about
	sessions, err := store.ListSessions()

	// Drop the record once the container is gone
	err = store.DeleteSession("conv-42")

# Integration Points

This package integrates with:

  - pkg/session: Manager mirrors registry mutations here and replays
    the bucket on startup to re-adopt surviving containers
  - pkg/types: Session record definition
  - cmd/sboxd: sessions list/show/prune read through the daemon API,
    which is backed by this store

# Design Patterns

Memory-Authoritative Registry:
  - The in-memory map in pkg/session is the source of truth while the
    daemon runs
  - The database is written after the in-memory state changes, never
    consulted on the hot path
  - On startup the database is the only record of orphaned containers

Upsert Pattern:
  - Create and Update use same method (bucket.Put)
  - No separate "exists" check needed
  - Atomic replacement

Idempotent Deletes:
  - Delete returns no error if key doesn't exist
  - Safe to call during eviction races
  - Simplifies cleanup code

Error Wrapping:
  - All errors wrapped with context: fmt.Errorf("failed to X: %w", err)
  - Preserves original error for inspection

# Performance Characteristics

Read Operations:
  - Get by key: O(log n) via B+tree, typically < 1ms
  - List all: O(n) full scan, negligible at expected session counts
    (tens, not thousands)

Write Operations:
  - Insert/Update: O(log n) for key, ~1-5ms with fsync
  - Serialized: Only one writer at a time (BoltDB limitation)
  - Write rate is bounded by execution rate, far below BoltDB limits

Database File Size:
  - Empty: 32KB (header + initial pages)
  - Grows with session history; stopped sessions are deleted, so the
    file stays small in practice

# Troubleshooting

Database Locked:
  - Symptom: "timeout" error from NewBoltStore
  - Cause: Another daemon process holds the exclusive file lock
  - Solution: Ensure only one daemon uses the data directory

Database Corruption:
  - Symptom: "invalid database" or checksum errors on open
  - Cause: Unclean shutdown, disk failure
  - Solution: Delete registry.db; running containers become orphans
    and are reaped by the next prune

Stale Records:
  - Symptom: ListSessions returns sessions whose containers are gone
  - Cause: Daemon crashed between container removal and record delete
  - Solution: Startup re-adoption verifies each container against the
    Docker daemon and drops records that no longer resolve

# Data Integrity

Transaction Guarantees:
  - Atomicity: All-or-nothing commits
  - Isolation: Snapshot reads, serialized writes
  - Durability: fsync ensures crash recovery

Schema Evolution:
  - Handled via JSON flexibility
  - New fields: Add with omitempty tag (backward compatible)
  - Removed fields: Ignored during unmarshal

File Permissions:
  - Database file: 0600 (owner read/write only)
  - Session records include container IDs and host paths, nothing
    secret, but there is no reason to share them

# See Also

  - pkg/session for registry usage and re-adoption
  - pkg/types for the Session record definition
  - BoltDB documentation: https://github.com/etcd-io/bbolt
*/
package storage
