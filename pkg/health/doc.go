/*
Package health provides health checking for sandbox session REPLs.

The health package implements pluggable health checkers and a monitor that
tracks every live session. Each session's REPL server exposes GET /health;
the monitor polls it, counts consecutive failures, and reports transitions
so the daemon can log, publish events, and surface degraded sessions
without tearing them down.

# Architecture

	┌──────────────────── HEALTH MONITORING ────────────────────┐
	│                                                            │
	│  session start ──► Monitor.Track(id, checker)              │
	│  session stop  ──► Monitor.Untrack(id)                     │
	│                                                            │
	│  ┌──────────────────────────────────────────────┐         │
	│  │                  Monitor                      │         │
	│  │   one goroutine per tracked session           │         │
	│  │                                               │         │
	│  │   every Interval:                             │         │
	│  │     result := checker.Check(ctx)              │         │
	│  │     status.Update(result, config)             │         │
	│  │     healthy flipped? ──► onTransition()       │         │
	│  └───────────────┬──────────────────────────────┘         │
	│                  │                                         │
	│        ┌────────┴─────────┐                               │
	│        ▼                   ▼                               │
	│  HTTPChecker          ExecChecker                          │
	│  GET <repl>/health    docker exec <cmd>                    │
	│  (status 200-399)     (exit code 0)                        │
	└────────────────────────────────────────────────────────────┘

# Core Components

Checker:
  - Interface over concrete check strategies
  - HTTPChecker: GET against a URL, healthy on 2xx/3xx
  - ExecChecker: command inside the container via the runtime's exec,
    healthy on exit code zero

Status:
  - Consecutive failure/success counters
  - Healthy flag flips only after Retries consecutive failures
  - One success flips it back immediately
  - StartPeriod grace: failures right after container creation are
    recorded but not counted

Monitor:
  - Explicit Track/Untrack driven by the session manager
  - Per-session goroutine, initial check immediately, then periodic
  - Transition callback fires only on state changes, not every check

# Usage

Wiring into the session manager:

	monitor := health.NewMonitor(health.DefaultConfig(),
		func(sessionID string, healthy bool, st health.Status) {
			// publish event, update metrics
		})

	// On session start
	monitor.Track(sess.ID, health.NewREPLChecker(sess.ReplAddress))

	// On session stop
	monitor.Untrack(sess.ID)

Inspecting a session:

	if st, ok := monitor.Status("conv-42"); ok && !st.Healthy {
		fmt.Println("repl down:", st.LastResult.Message)
	}

One-off exec probe:

	checker := health.NewExecChecker(rt, containerID,
		[]string{"test", "-d", "/session"})
	result := checker.Check(ctx)

# Design Principles

Observation, Not Remediation:
  - The monitor reports; it never restarts or evicts
  - Idle eviction and explicit stops remain the only paths that remove
    containers, so a flapping health check cannot destroy session state

Retries Before Flipping:
  - A single failed poll is noise (container pause, GC, load)
  - Only consecutive failures past the threshold mark a session
    unhealthy

Startup Grace:
  - The REPL needs a moment to import its interpreter and bind the port
  - Failures inside StartPeriod never count toward the threshold
*/
package health
