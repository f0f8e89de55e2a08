/*
Package ports allocates host ports for starting containers.

The live host is the single source of truth. Allocation probes the host
twice per candidate: is a container publishing the port, and is any
socket listening on it. No port registry is persisted; when a container
dies its port simply probes free on the next allocation.

# Allocation

	┌─────────────────────────────────────────────────┐
	│ Allocate(ctx)                                   │
	│                                                 │
	│  candidates = shuffle([min..max])               │
	│  for port in candidates:                        │
	│     container publishing? ── yes ──▶ next       │
	│     socket listening?     ── yes ──▶ next       │
	│     reserve in-process    ── held ─▶ next       │
	│     return port                                 │
	│  return resource-exhausted                      │
	└─────────────────────────────────────────────────┘

The random probe order spreads concurrent allocators across the range
instead of stacking them on the first free port.

# Reservations

Probes cannot see a port whose container has not started yet. The
allocator bridges that window with an in-process reservation (60s TTL)
taken atomically at allocation time. Release drops it early; an
unreleased reservation ages out on its own, so a crash between
allocate and start costs one port for one minute, nothing more.

Reservations do not cross processes. Two orchestrators driving the same
host can race between probe and start; the engine handles that by
retrying the whole allocate-and-start sequence when the start fails on
a taken port.

# Usage

	alloc, err := ports.NewAllocator(cfg.Ports.Min, cfg.Ports.Max, driver)
	if err != nil {
	    return err
	}
	port, err := alloc.Allocate(ctx)
	if errdefs.IsResourceExhausted(err) {
	    // range full: the execution fails with a reason, no retry here
	}
	defer alloc.Release(port)

# Integration Points

  - pkg/hostdriver: supplies the two probes
  - pkg/engine: allocates before container start, releases after the
    container is visible or the start failed

# See Also

  - pkg/hostdriver: ProbePortListening and ListPublishedPorts
*/
package ports
