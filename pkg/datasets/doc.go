/*
Package datasets stages parquet datasets into running sandboxes and tracks
per-session dataset state.

The package covers three concerns: a durable per-session cache of requested
dataset ids with a small status lifecycle, the staging paths and mechanics
that place dataset bytes where sandbox code expects them, and startup
discovery of locally mounted datasets.

# Architecture

	┌───────────────────── DATASET PIPELINE ─────────────────────┐
	│                                                             │
	│  ┌──────────────────────────────────────────┐              │
	│  │              Cache                        │              │
	│  │  <sessions_root>/<sid>/cache_datasets.json│              │
	│  │  {"datasets":[{id,status,timestamp},…]}   │              │
	│  │  PENDING → LOADED | FAILED                │              │
	│  └──────────────────┬───────────────────────┘              │
	│                     │ ReadPendingIDs                        │
	│  ┌──────────────────▼───────────────────────┐              │
	│  │              Manager.LoadPending          │              │
	│  │  per id:                                  │              │
	│  │    HYBRID + local hit → /heavy_data path  │              │
	│  │    API/HYBRID miss    → fetch + stage     │              │
	│  │    LOCAL_RO           → /data path        │              │
	│  └──────────────────┬───────────────────────┘              │
	│                     │ Stage                                 │
	│  ┌──────────────────▼───────────────────────┐              │
	│  │           Placement                       │              │
	│  │  TMPFS: PutBytes → /data/<id>.parquet     │              │
	│  │  BIND:  atomic host write →               │              │
	│  │         <sid>/data/<id>.parquet           │              │
	│  └──────────────────────────────────────────┘              │
	│                                                             │
	└─────────────────────────────────────────────────────────────┘

# Core Components

Cache persists the dataset ids a session has asked for. Entries keep
insertion order, de-duplicate on id (first occurrence wins), and carry a
status plus an ISO-8601 UTC timestamp. Every write is atomic: the new
content goes to a temp file next to the destination and is renamed over it.
A missing or corrupt cache file reads as empty so a damaged session can
always recover by re-requesting its datasets.

Manager owns staging. Stage fetches one dataset through the configured
FetchFunc and places it at the staged path; LoadPending drives a batch of
PENDING ids through staging and records the outcome in the cache, stopping
at the first failure.

Discovery (DiscoverLocal, InitializeLocal) scans the read-only host
directory for *.parquet files at startup and seeds the cache so LOCAL_RO
deployments advertise their datasets without any fetch machinery.

# Access Modes

How a dataset becomes visible inside the container depends on the
configured access mode:

  - NONE: no dataset directory exists; every staging call is refused.
  - LOCAL_RO: the host directory is bind-mounted read-only at /data. No
    bytes move at load time; LoadPending only confirms the path.
  - API: datasets are fetched on demand. TMPFS sessions receive the bytes
    through the container runtime into the /data tmpfs; BIND sessions get
    an atomic write into <session_dir>/data on the host.
  - HYBRID: a local directory is bind-mounted read-only at /heavy_data and
    a writable tmpfs backs /data. Ids found locally resolve to their
    mounted path; everything else falls back to the API flow.

# Usage

Staging a requested dataset into a running session:

	cache := datasets.NewCache(cfg)
	mgr := datasets.NewManager(cfg, cache, rt, fetchFn)

	dsID := datasets.CleanID(requested)
	if err := cache.AddEntry(sessionID, dsID, types.DatasetStatusPending); err != nil {
		return err
	}
	descs, err := mgr.LoadPending(ctx, sessionID, containerID, []string{dsID})
	if err != nil {
		return err
	}
	fmt.Println("loaded at", descs[0].PathInContainer)

Seeding the cache for a LOCAL_RO deployment:

	ids, err := datasets.InitializeLocal(cfg, cache, datasets.GlobalSession)

# Design Principles

The cache is the only durable record: container state is disposable, so a
restarted session replays its PENDING entries rather than trusting any
in-container leftovers.

Fetching is a capability. The Manager never knows where bytes come from;
callers inject a FetchFunc and tests stub it.

Failures are sticky and loud. A staging error marks the entry FAILED and
propagates; LoadPending never silently skips an id.
*/
package datasets
