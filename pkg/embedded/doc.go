/*
Package embedded ships the sandbox container image sources inside the
daemon binary: the Dockerfile and the in-container REPL bridge. A single
binary can build the image it needs without a checkout.

# Image contract

The image the assets describe must satisfy what the rest of the daemon
assumes about a session container:

  - a FastAPI REPL on port 9000 answering GET /health with {"ok": true}
    and POST /exec with {"ok", "stdout", "error"}
  - one shared interpreter namespace, so variables persist across calls
  - a "sandbox" user with uid/gid 1000, matching the ownership written
    by host-side file copies
  - POSIX userland (sh, bash, find, tar semantics via the copy API,
    base64, mkdir, test) for the exec-based fallbacks
  - pandas, numpy, pyarrow and matplotlib preinstalled, with a
    non-interactive matplotlib backend

# Usage

	buildCtx, err := embedded.BuildContext()
	if err != nil {
		log.Fatal(err)
	}
	stream, err := rt.BuildImage(ctx, buildCtx, "sandbox:latest", embedded.DockerfileName)

BuildContext assembles the embedded files into an in-memory tar stream;
the Docker daemon does the rest. The build is complete when the returned
progress stream hits EOF.
*/
package embedded
