/*
Package runtime provides Docker Engine integration for sandbox container
lifecycle and I/O.

The runtime package wraps the Docker Engine API client to provide the
container operations the session layer needs: image availability and
builds, container creation with resource limits and mounts, lifecycle
management, in-container command execution, and file transfer in both
directions. It deliberately knows nothing about sessions, datasets, or
artifacts; it speaks containers only.

# Architecture

	┌──────────────────── DOCKER RUNTIME ───────────────────────┐
	│                                                            │
	│  ┌──────────────────────────────────────────────┐          │
	│  │            DockerRuntime Client              │          │
	│  │  - Connection: environment (DOCKER_HOST)     │          │
	│  │  - API version: negotiated with daemon       │          │
	│  └──────────────────┬───────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼───────────────────────────┐          │
	│  │            Image Operations                  │          │
	│  │  - EnsureImage: local check, pull if absent  │          │
	│  │  - BuildImage: tar context → progress stream │          │
	│  └──────────────────┬───────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼───────────────────────────┐          │
	│  │          Container Lifecycle                 │          │
	│  │  - Create: spec → mounts, tmpfs, ports, net  │          │
	│  │  - Start / Stop (graceful) / Remove (force)  │          │
	│  │  - Inspect, Running check, list by prefix    │          │
	│  └──────────────────┬───────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼───────────────────────────┐          │
	│  │            Container I/O                     │          │
	│  │  - ExecRun: command + exit code + output     │          │
	│  │  - PutBytes: tar put-archive, b64 fallback   │          │
	│  │  - CopyOut: retried multi-strategy copy      │          │
	│  │  - ListFiles: find under a directory         │          │
	│  └──────────────────────────────────────────────┘          │
	│                                                            │
	└────────────────────────────────────────────────────────────┘

# Core Components

DockerRuntime:
  - Main client wrapper for Docker Engine operations
  - One instance shared across all sessions
  - Thread-safe for concurrent operations

ContainerSpec:
  - Declarative description of a sandbox container
  - Bind mounts, tmpfs mounts, network, labels
  - Memory and CPU limits with safe defaults (8 GiB, 2 cores)
  - Optional random host-port publishing of the REPL port

# Container I/O

Writing a file into a running container (PutBytes):
 1. Reject directory paths (trailing slash).
 2. mkdir -p the parent directory via exec.
 3. Wrap the bytes in a single-entry tar archive (basename only,
    owned by the sandbox app user) and stream it through the
    engine's put-archive endpoint.
 4. On failure, fall back to streaming the bytes through the shell
    in 4 KiB base64 chunks (create with >, append with >>).

Copying a file out of a running container (CopyOut):

Files written to tmpfs mounts can lag behind their directory metadata
for a moment, so a single get-archive call is not reliable right after
a write. Three strategies are tried per attempt, five attempts with a
50 ms backoff:
 1. get-archive on the file path.
 2. get-archive on the parent directory, matching the entry by exact
    name or basename.
 3. tar -cf - executed inside the container, reading the archive from
    stdout.

# Usage

Creating a runtime client:

	rt, err := runtime.NewDockerRuntime()
	if err != nil {
		log.Fatal(err)
	}
	defer rt.Close()

Creating and starting a sandbox container:

	spec := &runtime.ContainerSpec{
		Name:  "sbox-demo",
		Image: "sandbox:latest",
		Tmpfs: map[string]string{
			"/session": "rw,size=1024m,mode=1777",
		},
		PublishRepl: true,
	}

	id, err := rt.CreateContainer(ctx, spec)
	if err != nil {
		log.Fatal(err)
	}
	if err := rt.StartContainer(ctx, id); err != nil {
		log.Fatal(err)
	}

Running a command inside the container:

	code, out, err := rt.ExecRun(ctx, id, []string{"/bin/sh", "-lc", "ls /session"}, "")

Moving files in and out:

	err = rt.PutBytes(ctx, id, "/data/sales.parquet", payload)
	hostPath, err := rt.CopyOut(ctx, id, "/session/artifacts/plot.png", stagingDir)

# Design Principles

 1. Session-agnostic: no sandbox policy lives here, only mechanism.
 2. One client, many containers: a single negotiated connection is
    shared by all sessions.
 3. Fail with context: every error names the container or path it
    concerns.
 4. Tolerate the engine's timing: copy-out retries instead of assuming
    tmpfs metadata is instantly consistent.
*/
package runtime
