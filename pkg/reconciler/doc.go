/*
Package reconciler keeps the three views of session state agreeing: the
registry persisted on disk, the manager's in-memory map, and the
containers Docker actually runs.

# Drift

The views drift in two directions:

  - a registry record outlives its container (daemon killed mid-stop,
    container removed by hand, host reboot without BIND persistence).
    Left in place, the record makes restarts try to adopt a ghost.
  - a sandbox-named container outlives every record of it (registry file
    deleted, daemon crashed before registering). Left in place, it holds
    memory and a published port forever.

A periodic cycle walks both lists. Stale records are dropped; records
whose containers still run but have no live session are kept, since the
manager adopts those lazily on the next Start for that key. Orphaned
containers are logged, and removed only when RemoveOrphans is set,
because in a multi-daemon setup an unknown container may belong to
someone else.

# Usage

	r := reconciler.NewReconciler(reconciler.Options{
		Registry: registry,
		Live:     manager,
		Runtime:  rt,
		Interval: time.Minute,
	})
	r.Reconcile(ctx) // startup pass
	r.Start()
	defer r.Stop()

Each cycle observes its duration and increments a cycle counter, so a
stuck Docker daemon shows up as a flatlined metric.
*/
package reconciler
