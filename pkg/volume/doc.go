/*
Package volume assembles the mount set for session containers.

Every sandbox container gets exactly two mount concerns: where /session
lives (the scratch space the REPL works in) and how /data is populated
(the dataset surface). Both are decided by configuration, not per call,
so the assembler is a pure function of (config, session id) apart from
creating the host session directory in BIND mode.

# Architecture

	┌────────────────────── MOUNT PLAN ──────────────────────┐
	│                                                         │
	│   SessionStorage                DatasetAccess           │
	│   ┌───────────────┐             ┌────────────────────┐  │
	│   │ TMPFS         │             │ NONE    (nothing)  │  │
	│   │  tmpfs        │             │ LOCAL_RO           │  │
	│   │  /session     │             │  bind ro → /data   │  │
	│   │  size=<N>m    │             │ API                │  │
	│   ├───────────────┤             │  tmpfs rw /data    │  │
	│   │ BIND          │             │ HYBRID             │  │
	│   │  bind rw      │             │  bind ro →         │  │
	│   │  <root>/<sid> │             │   /heavy_data      │  │
	│   │  → /session   │             │  tmpfs rw /data    │  │
	│   └───────────────┘             └────────────────────┘  │
	│                │                          │             │
	│                └─────────┬────────────────┘             │
	│                          ▼                              │
	│                 Plan{Binds, Tmpfs,                      │
	│                      SessionDir}                        │
	│                          │                              │
	│                          ▼                              │
	│                 runtime.ContainerSpec                   │
	└─────────────────────────────────────────────────────────┘

# Mode Notes

TMPFS keeps /session in container memory: fast, ephemeral, destroyed
with the container. BIND mounts <sessions_root>/<sid> read-write so
session output survives the container and is directly visible to host
tooling.

HYBRID deliberately splits the dataset surface. The local directory is
mounted read-only at /heavy_data (large files, zero copy), while /data
stays a writable tmpfs so datasets missing locally can still be fetched
and staged. Collapsing both onto /data would leave the API fallback with
nowhere to write.

The /data tmpfs is fixed at 1 GiB with mode 1777; the /session tmpfs
size comes from TMPFS_SIZE_MB.

# Usage

	asm := volume.NewAssembler(cfg)
	plan, err := asm.Plan(sessionID)
	if err != nil {
		return err
	}
	spec := runtime.ContainerSpec{
		Mounts: plan.Binds,
		Tmpfs:  plan.Tmpfs,
	}
*/
package volume
