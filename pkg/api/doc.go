/*
Package api implements the daemon's HTTP surface: token-checked artifact
downloads, JSON control endpoints for the CLI, and the health and metrics
mounts.

The server binds the first free port from an explicit candidate list (or
a configured base) and publishes the bound port so signed download URLs
keep working when the preferred port was taken.

# Architecture

	┌──────────────────────── HTTP SERVER ──────────────────────┐
	│                                                            │
	│  GET  /artifacts/{id}           signed blob download       │
	│  GET  /artifacts/{id}/head      metadata, no blob read     │
	│                                                            │
	│  POST   /v1/exec                     run code in a session │
	│  GET    /v1/sessions                 live session listing  │
	│  GET    /v1/sessions/{key}           one session           │
	│  DELETE /v1/sessions/{key}           stop and remove       │
	│  POST   /v1/sessions/{key}/export    copy file to host     │
	│  POST   /v1/sessions/{key}/datasets  stage datasets        │
	│  GET    /v1/sessions/{key}/datasets  availability + cache  │
	│  GET    /v1/sessions/{key}/artifacts per-session artifacts │
	│                                                            │
	│  GET /healthz /health /ready /live /metrics                │
	│                                                            │
	└──────┬───────────────┬──────────────────┬──────────────────┘
	       │               │                  │
	  session.Manager  artifacts.Store   datasets.Manager
	  (SessionService)   + Signer          (optional)

# Artifact downloads

Downloads run four checks in order, each with its own status code so
clients can tell an expired link from a pruned blob:

	401  token malformed, badly signed, or expired
	403  token valid but minted for a different artifact
	404  no catalog row for the id
	410  catalog row exists, blob pruned from disk

The head endpoint runs the same token checks but never touches the blob,
so metadata stays readable after pruning.

# Port fallback

Start tries the Options.ListenPorts candidates in order; with no list it
tries five consecutive ports from the configured base. The port it binds
is pushed into the token signer and exported as ARTIFACTS_SERVER_PORT,
keeping generated download URLs dialable without coordination.

# Usage

	srv, err := api.NewServer(cfg, api.Options{
		Sessions: manager,
		Store:    store,
		Signer:   signer,
		Datasets: datasetManager,
	})
	if err != nil {
		log.Fatal(err)
	}
	port, err := srv.Start()
	...
	srv.Shutdown(ctx)

Every non-2xx response is a JSON envelope {"error": "..."}. Request
metrics are labeled by logical operation name rather than HTTP verb.
*/
package api
