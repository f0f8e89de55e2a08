/*
Package events provides the in-memory event broker for Magpie's pub/sub
messaging.

Control-plane components publish lifecycle events (task mutations,
execution transitions, schedule fires) and the broker broadcasts them to
every subscriber. Delivery is asynchronous and lossy by contract: the
authoritative record is the store, events are a change feed.

# Architecture

	┌──────────────────── EVENT BROKER ────────────────────┐
	│                                                      │
	│  Publisher ──▶ Event Channel (buffer: 100)           │
	│                      │                               │
	│                      ▼                               │
	│               Broadcast Loop                         │
	│                      │                               │
	│      ┌───────────────┼───────────────┐               │
	│      ▼               ▼               ▼               │
	│  Subscriber     Subscriber      Subscriber           │
	│  (buffer: 50)   (buffer: 50)    (buffer: 50)         │
	└──────────────────────────────────────────────────────┘

# Core Components

Broker: the bus. One goroutine moves events from the publish channel to
subscriber channels. Publish never blocks the caller; a subscriber whose
buffer is full misses the event.

Subscriber: a receive channel handed out by Subscribe. Unsubscribe
removes it from the fan-out set and closes it.

# Event Flow

Producers are the manager (task mutations), the scheduler (fires and
auto-disables), the engine (execution starts), and the reconciler and
callback endpoint (execution endings). The main consumer is the control
API's event stream, which relays events to connected clients as
server-sent events.

# Usage

Publishing:

	broker.Publish(&types.Event{
	    Type:        types.EventExecutionStarted,
	    TaskID:      task.ID,
	    ExecutionID: exec.ID,
	    Message:     "container started",
	})

Consuming:

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)
	for event := range sub {
	    handle(event)
	}

# Design Patterns

Non-Blocking Publish: state transitions must never stall on observers.
The publish path has two decoupling points (the broker buffer and the
per-subscriber buffer) and drops at the subscriber when both are full.

Broadcast-Only: there are no topics. Every subscriber sees every event
and filters on the Type field. The event volume here is task lifecycle
churn, not telemetry; filtering downstream costs nothing measurable.

# Limitations

  - No replay: a subscriber joining late starts from the next event.
  - No delivery guarantee: full buffers drop. Consumers needing a
    complete record read the store, not the feed.
  - Process-local: events do not cross orchestrator instances.

# Integration Points

  - pkg/manager, pkg/scheduler, pkg/engine, pkg/reconciler,
    pkg/callback: publishers
  - pkg/api: subscribes for the /v1/events stream

# See Also

  - pkg/types: Event and EventType definitions
  - pkg/api: the server-sent-events relay
*/
package events
