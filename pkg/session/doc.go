/*
Package session manages the per-conversation sandbox containers: one
container per session key, created on first use, reused across turns,
reattached after a daemon restart, and evicted after idling.

# Lifecycle

	Start(key)
	   │
	   ├─ live in memory ──────────────────────────► return session
	   │
	   ├─ container "sbox-<key>" exists
	   │     ├─ running ───────► adopt it          ► return session
	   │     ├─ stopped ───────► start, re-adopt   ► return session
	   │     └─ broken ────────► remove, fall through
	   │
	   └─ create: plan mounts, pull image, run container,
	      wait for REPL, mkdir /to_export /modified_data
	      /session/artifacts, register                ► return session

Sessions end three ways: an explicit Stop, the idle sweeper (sessions
unused past the idle timeout), or daemon shutdown followed by a restart
that finds the container gone. Stop and eviction remove the container;
Close does not, so a restarted daemon can Adopt what is still running.

# Execution

Each Exec round-trips the code to the in-container REPL over HTTP and
discovers produced files by diffing the artifact tree around the call:

	snapshot /session/artifacts            (before)
	POST /exec {code, timeout}
	snapshot /session/artifacts            (after)
	new files = after − before, sorted
	copy out (tmpfs) or resolve in place (bind)
	ingest into the artifact store
	run cleanup code in the REPL

Bind-mode sessions additionally keep an append-only session.log and a
session_metadata.json document in their host directory, so a session's
history survives the process and reattachment can restore the execution
counter.

# Concurrency

Operations on the same key are serialized by a per-session mutex, so a
slow Exec cannot interleave with another Exec's snapshot diff or with
Stop. Operations on distinct keys run in parallel. The sweeper skips
sessions whose mutex is held, since a running operation refreshes
last_used anyway.
*/
package session
