/*
Package metrics provides Prometheus metrics and health endpoints for the daemon.

The metrics package exposes counters, gauges, and histograms covering sessions,
executions, artifacts, datasets, and the HTTP API, plus a component health
registry backing the /health, /ready, and /live endpoints. Everything registers
against the default Prometheus registry at init and is served through the
standard promhttp handler.

# Architecture

	┌────────────────── METRICS PIPELINE ──────────────────┐
	│                                                       │
	│  Instrumented code             Collector (15s poll)   │
	│  ┌──────────────┐              ┌──────────────────┐   │
	│  │ pkg/session  │ Inc/Observe  │ SessionSource    │   │
	│  │ pkg/api      ├─────────┐    │  .Snapshot()     │   │
	│  │ pkg/datasets │         │    │ artifacts.Store  │   │
	│  └──────────────┘         │    │  .Stats()        │   │
	│                           ▼    └────────┬─────────┘   │
	│                  ┌────────────────┐     │ Set gauges  │
	│                  │ Default        │◄────┘             │
	│                  │ Registry       │                   │
	│                  └───────┬────────┘                   │
	│                          │                            │
	│                          ▼                            │
	│                  GET /metrics (promhttp)              │
	│                                                       │
	│  Component health registry                            │
	│  docker / store / api ──► /health /ready /live        │
	└───────────────────────────────────────────────────────┘

# Metric Inventory

Sessions:
  - sbox_sessions_active{storage}: Live sessions by storage mode (gauge)
  - sbox_sessions_started_total: Sessions started (counter)
  - sbox_sessions_stopped_total: Explicit stops (counter)
  - sbox_sessions_evicted_total: Idle evictions (counter)

Executions:
  - sbox_executions_total{outcome}: Executions by ok/error/transport_error
  - sbox_execution_duration_seconds: Wall time histogram, buckets sized
    for second-to-minutes executions rather than millisecond RPCs

Artifacts:
  - sbox_artifacts_ingested_total: Files captured from executions
  - sbox_artifact_bytes_ingested_total: Bytes captured
  - sbox_artifacts_stored: Catalog rows (gauge, polled)
  - sbox_artifact_store_bytes: Cataloged content size (gauge, polled)
  - sbox_artifact_downloads_total{result}: Download requests by outcome

Datasets:
  - sbox_datasets_loaded_total{source}: Loads by api/local
  - sbox_dataset_load_failures_total: Failed loads

API:
  - sbox_api_requests_total{method,status}
  - sbox_api_request_duration_seconds{method}

# Usage

Instrumenting an operation:

	timer := metrics.NewTimer()
	result, err := runCode(ctx, req)
	timer.ObserveDuration(metrics.ExecutionDuration)
	if err != nil {
		metrics.ExecutionsTotal.WithLabelValues("transport_error").Inc()
	}

Starting the collector:

	collector := metrics.NewCollector(sessionManager, artifactStore)
	collector.Start()
	defer collector.Stop()

Reporting component health:

	metrics.SetVersion(version)
	metrics.RegisterComponent("docker", true, "negotiated v1.47")
	...
	metrics.UpdateComponent("docker", false, "daemon unreachable")

Serving:

	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())

# Health Semantics

  - /live: 200 whenever the process runs; no dependencies checked
  - /health: 503 if any registered component is unhealthy
  - /ready: 503 until docker, store, and api have all registered healthy;
    used to hold traffic during startup

# Design Principles

Direct Instrumentation Plus Polling:
  - Event-shaped facts (starts, executions, downloads) increment at the
    call site
  - State-shaped facts (active sessions, catalog size) are polled by the
    Collector so the gauges cannot drift from reality

Package-Level Collectors:
  - Metrics are package vars registered in init, usable from any package
    without plumbing a registry handle through constructors
*/
package metrics
