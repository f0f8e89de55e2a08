/*
Package config loads and validates the magpie orchestrator configuration.

Configuration is layered: compiled-in defaults, then an optional YAML
file, then MAGPIE_* environment variables. Later layers win per field,
so a deployment can ship a small file and override secrets or addresses
from the environment.

# Architecture

	┌──────────────────────────────────────────────────┐
	│                  config.Load                     │
	│                                                  │
	│  ┌──────────┐   ┌───────────┐   ┌─────────────┐  │
	│  │ Default()│──▶│ YAML file │──▶│ MAGPIE_* env│  │
	│  └──────────┘   └───────────┘   └─────────────┘  │
	│                        │                         │
	│                        ▼                         │
	│                 ┌────────────┐                   │
	│                 │ Validate() │                   │
	│                 └────────────┘                   │
	└──────────────────────────────────────────────────┘

# Core Components

Config: the root structure. Each section maps to one subsystem:

  - API, Callback, Metrics: the three HTTP listeners. The callback
    section also carries AdvertiseURL, the base URL handed to task
    containers as API_BASE_URL.
  - Host: where containers run. "local" shells out to the engine
    binary on this machine; "remote" drives the engine over SSH.
  - Images: task type to container image.
  - Ports: the host port range containers may publish into.
  - Heartbeat: staleness threshold and tolerance used to declare an
    execution dead.
  - Scheduler, Reconciler, Engine: cadences, lease parameters, and
    worker pool sizing for the background loops.
  - Store, Cache: durable store location and optional Redis address.

Duration: a YAML-friendly wrapper over time.Duration that accepts the
usual Go duration syntax ("30s", "2m30s").

# Usage

	cfg, err := config.Load("/etc/magpie/magpie.yaml")
	if err != nil {
	    log.Fatal().Err(err).Msg("invalid configuration")
	}

	store, err := storage.NewBoltStore(cfg.Store.DataDir)

A minimal remote-host file:

	host:
	  mode: remote
	  address: 203.0.113.7
	  user: magpie
	  key_file: /etc/magpie/id_ed25519
	callback:
	  advertise_url: http://203.0.113.1:8421

# Environment Overrides

The override set is deliberately small: listener addresses, host
connection settings, data directory, Redis address, log level, and the
port range bounds. Everything else is file-only to keep deployments
reviewable.

	MAGPIE_API_ADDR        MAGPIE_HOST_MODE       MAGPIE_DATA_DIR
	MAGPIE_CALLBACK_ADDR   MAGPIE_HOST_ADDRESS    MAGPIE_REDIS_ADDR
	MAGPIE_CALLBACK_URL    MAGPIE_HOST_USER       MAGPIE_LOG_LEVEL
	MAGPIE_METRICS_ADDR    MAGPIE_HOST_KEY_FILE   MAGPIE_PORT_MIN/MAX

# Validation

Load never returns a configuration that fails Validate. The checks are
structural: host mode and credentials, port ranges, positive cadences,
lease TTL above the refresh interval, and an image for every task type.
Validation does not probe the network or filesystem; a wrong Redis
address surfaces at connect time, not load time.

# Integration Points

  - cmd/magpie: loads the file named by --config and wires every
    subsystem from the result
  - pkg/hostdriver: consumes the Host section
  - pkg/scheduler, pkg/reconciler, pkg/engine: consume their sections
    as plain values at construction time; nothing re-reads the file

# See Also

  - pkg/storage: the store the Store section points at
  - pkg/cache: backend selection driven by the Cache section
*/
package config
