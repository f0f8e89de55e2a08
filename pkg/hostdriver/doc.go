/*
Package hostdriver operates task containers on a collection host.

The driver shells out to the container engine CLI (docker by default)
instead of speaking an engine API. Collection hosts are plain VMs with
an engine installed; the CLI is the one interface guaranteed present,
and the exact command lines double as an audit trail on the execution
row.

# Architecture

	┌───────────────────────────────────────────────────────┐
	│                        Driver                         │
	│                                                       │
	│  StageConfig  Start  Stop  Inspect  Logs  Probe  Purge│
	│                          │                            │
	│                          ▼                            │
	│                  ┌──────────────┐                     │
	│                  │    Runner    │                     │
	│                  └──────┬───────┘                     │
	│                 ┌───────┴────────┐                    │
	│                 ▼                ▼                    │
	│          ┌────────────┐   ┌────────────┐              │
	│          │LocalRunner │   │ SSHRunner  │              │
	│          │ (os/exec)  │   │(x/crypto)  │              │
	│          └────────────┘   └────────────┘              │
	└───────────────────────────────────────────────────────┘

# Core Components

Runner: where commands execute. LocalRunner runs them on this machine;
SSHRunner runs them on a remote host over a lazily-dialed, shared SSH
client with one session per command. Both return combined output so
the driver can read engine diagnostics off a failure.

Driver: the container operations.

  - StageConfig: mkdir a per-execution directory under the configured
    staging root and place config.json there read-only.
  - Start: assemble the run command in a fixed flag order and return
    the engine-assigned container id plus the full command line.
  - Stop/Remove: idempotent from the caller's view; a missing
    container comes back as errdefs.ErrNotFound.
  - Inspect: {exists, running, status, exit code} for the reconciler.
    A gone container is a normal answer, not an error.
  - ProbePortListening / ListPublishedPorts: the two probes behind
    port allocation.
  - PurgeConfig: best-effort removal of the staged directory.

# Usage

	driver, err := hostdriver.New(cfg.Host)
	if err != nil {
	    return err
	}
	defer driver.Close()

	staged, err := driver.StageConfig(ctx, exec.ID, configJSON)
	if err != nil {
	    return err
	}
	containerID, command, err := driver.Start(ctx, hostdriver.StartSpec{
	    ExecutionID:   exec.ID,
	    Image:         image,
	    StagedConfig:  staged,
	    CallbackURL:   cfg.Callback.AdvertiseURL,
	    HostPort:      port,
	    ContainerPort: cfg.Host.ContainerPort,
	    AutoRemove:    cfg.Host.AutoRemove,
	})

# Failure Semantics

Every operation carries a bounded timeout (op_timeout for mutations,
inspect_timeout for reads). A deadline hit wraps
context.DeadlineExceeded, so callers can tell "the host did not answer"
from "the host answered no". The driver never retries internally;
the engine retries container starts at its own cadence and the
reconciler simply asks again next pass.

The port probe tries ss, then netstat, then a bash /dev/tcp connect,
because minimal host images ship with any subset of those.

# Integration Points

  - pkg/engine: stages configs and starts/stops containers
  - pkg/reconciler: inspects container reality and purges configs
  - pkg/ports: consumes the two port probes

# See Also

  - pkg/ports: allocation policy on top of the probes
  - pkg/config: the host section that selects local or remote mode
*/
package hostdriver
