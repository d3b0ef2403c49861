/*
Package events provides a publish-subscribe broker for daemon events.

The events package implements in-process event distribution for the sandbox
daemon. Session lifecycle transitions, executions, artifact ingestions, and
dataset loads publish events through a central broker; subscribers receive
them on buffered channels. Delivery is best-effort: a subscriber that stops
draining loses events rather than stalling the daemon.

# Architecture

	┌─────────────────── EVENT FLOW ────────────────────┐
	│                                                    │
	│  Publishers                                        │
	│  ┌──────────────┐  ┌─────────────┐  ┌──────────┐  │
	│  │ pkg/session  │  │pkg/artifacts│  │pkg/datasets│ │
	│  └──────┬───────┘  └──────┬──────┘  └────┬─────┘  │
	│         │                 │              │         │
	│         └────────┬────────┴──────────────┘         │
	│                  ▼                                 │
	│         ┌─────────────────┐                        │
	│         │     Broker      │                        │
	│         │  eventCh (100)  │                        │
	│         └────────┬────────┘                        │
	│                  │ broadcast (non-blocking)        │
	│       ┌──────────┼──────────┐                      │
	│       ▼          ▼          ▼                      │
	│  Subscriber  Subscriber  Subscriber                │
	│  (buf 50)    (buf 50)    (buf 50)                  │
	│                                                    │
	│  CLI event stream   logs      metrics             │
	└────────────────────────────────────────────────────┘

# Event Types

Session lifecycle:
  - session.started: Container created and REPL ready
  - session.reattached: Existing container re-adopted after restart
  - session.stopped: Explicit stop via API or CLI
  - session.evicted: Idle timeout exceeded, container removed

Execution:
  - exec.completed: Code ran to completion (ok may still be false)
  - exec.failed: Transport-level failure reaching the REPL

Data:
  - artifact.ingested: New file captured into the artifact store
  - dataset.loaded: Dataset staged or resolved for a session
  - dataset.failed: Dataset fetch or staging failed
  - export.completed: Container file exported to the host

Infrastructure:
  - image.built: Sandbox image build finished (no session scope)

# Delivery Semantics

 1. Publish enqueues onto a buffered channel (never blocks unless the
    broker is saturated and running)
 2. A single distribution goroutine broadcasts each event to every
    subscriber in turn
 3. Sends to subscribers are non-blocking; a full subscriber buffer
    drops the event for that subscriber only
 4. Unsubscribe closes the channel; double unsubscribe is a no-op

Events carry no delivery guarantee and no persistence. The session
registry and the artifact catalog are the records of truth; events are
for observation.

# Usage

Creating and starting a broker:

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

Subscribing:

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for event := range sub {
			fmt.Printf("[%s] %s %s: %s\n",
				event.Timestamp.Format("15:04:05"),
				event.Type, event.SessionID, event.Message)
		}
	}()

Publishing:

	broker.Publish(&events.Event{
		Type:      events.EventSessionStarted,
		SessionID: "conv-42",
		Message:   "session conv-42 started",
		Metadata: map[string]string{
			"container": "sbox-conv-42",
			"image":     "sandbox:latest",
		},
	})

# Integration Points

This package integrates with:

  - pkg/session: Publishes lifecycle and execution events
  - pkg/api: Streams events to clients over the daemon API
  - cmd/sboxd: The events command tails the stream

# Design Principles

Best-Effort Delivery:
  - The daemon never waits for a consumer
  - Slow consumers lose events, fast consumers see everything
  - Acceptable because events duplicate state held elsewhere

Single Distribution Goroutine:
  - Broadcast order matches publish order for all subscribers
  - No per-subscriber goroutines to leak
*/
package events
