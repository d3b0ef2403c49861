/*
Package config resolves and validates all sandbox configuration.

Configuration flows from four layers, highest precedence first:

	explicit override (CLI flag)
	  > env file entry (sandbox.env by default)
	    > process environment
	      > built-in default

The env file loader understands plain KEY=VALUE lines, skips blanks and '#'
comment lines, strips inline comments, and exports keys into the process
environment when they are not already set so that collaborators reading the
environment directly (dataset fetchers, SDK clients) observe the same values.

# Resolved Record

Load produces an immutable Config carrying:

  - Session storage mode (TMPFS or BIND) and dataset access mode
    (NONE, LOCAL_RO, API, HYBRID)
  - Host paths: sessions root, blobstore, artifacts DB, optional read-only
    dataset directory, optional hybrid-local directory
  - Container image name and tmpfs sizing
  - Network strategy (container vs. host) with compose network and gateway
  - Artifact service settings: signing secret, token TTL, public base URL,
    server port, per-file size cap

Validation happens at load time: LOCAL_RO without DATASETS_HOST_RO and HYBRID
without HYBRID_LOCAL_PATH are errors, NONE clears the read-only dataset path,
and unknown enum values fail with the enumerated legal set. When no
ARTIFACTS_SECRET is configured a random per-process secret is generated and
flagged via SecretGenerated so the daemon can warn that URLs will not survive
restarts.

# Mode Matrix

The composite ModeID identifies the storage/dataset pairing in logs:

	             NONE        LOCAL_RO     API        HYBRID
	TMPFS   TMPFS_NONE   TMPFS_LOCAL  TMPFS_API  TMPFS_HYBRID
	BIND    BIND_NONE    BIND_LOCAL   BIND_API   BIND_HYBRID

# Daemon Settings

ServerConfig is the optional YAML file for the long-running daemon:

	log:
	  level: info
	  json: true
	listen:
	  host: 0.0.0.0
	  ports: [8000, 8001, 8002, 8003, 8004]
	sessions:
	  idle_timeout: 45m
	  sweep_interval: 5m
	janitor:
	  prune_on_start: true

Absent keys keep their defaults. Listen ports are tried in order until one
binds, which tolerates a first port squatted by another process.

# Usage

	cfg, err := config.Load("")
	if err != nil {
		log.Fatal(err.Error())
	}
	fmt.Println("mode:", cfg.ModeID())
	fmt.Println("session dir:", cfg.SessionDir("conv-42"))

HybridLocalPath is deliberately not resolved to an absolute path: when the
daemon itself runs inside a container the verbatim value is what the container
runtime needs as a bind source.
*/
package config
