package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/magpie/pkg/types"
)

// Duration wraps time.Duration so YAML configs can say "90s" or "5m"
type Duration time.Duration

// UnmarshalYAML parses a duration string
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration string
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// D returns the wrapped time.Duration
func (d Duration) D() time.Duration {
	return time.Duration(d)
}

// Config is the full orchestrator configuration
type Config struct {
	API        APIConfig         `yaml:"api"`
	Callback   CallbackConfig    `yaml:"callback"`
	Metrics    MetricsConfig     `yaml:"metrics"`
	Host       HostConfig        `yaml:"host"`
	Images     map[string]string `yaml:"images"` // task type -> container image
	Ports      PortsConfig       `yaml:"ports"`
	Heartbeat  HeartbeatConfig   `yaml:"heartbeat"`
	Scheduler  SchedulerConfig   `yaml:"scheduler"`
	Reconciler ReconcilerConfig  `yaml:"reconciler"`
	Engine     EngineConfig      `yaml:"engine"`
	Store      StoreConfig       `yaml:"store"`
	Cache      CacheConfig       `yaml:"cache"`
	Log        LogConfig         `yaml:"log"`
}

// APIConfig configures the control API listener
type APIConfig struct {
	Addr string `yaml:"addr"`
}

// CallbackConfig configures the container-facing callback listener.
// AdvertiseURL is what containers receive as API_BASE_URL; it must be
// reachable from the container network, which the listen address often
// is not.
type CallbackConfig struct {
	Addr         string `yaml:"addr"`
	AdvertiseURL string `yaml:"advertise_url"`
}

// MetricsConfig configures the metrics/health listener
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// HostConfig selects and configures the container host
type HostConfig struct {
	Mode           string              `yaml:"mode"` // "local" or "remote"
	Address        string              `yaml:"address"`
	User           string              `yaml:"user"`
	KeyFile        string              `yaml:"key_file"`
	Password       string              `yaml:"password"`
	Engine         string              `yaml:"engine"`     // container engine binary
	ConfigDir      string              `yaml:"config_dir"` // staged config root on the host
	ContainerPort  int                 `yaml:"container_port"`
	AutoRemove     bool                `yaml:"auto_remove"`
	ExtraBinds     map[string][]string `yaml:"extra_binds"` // task type -> extra -v specs
	OpTimeout      Duration            `yaml:"op_timeout"`
	InspectTimeout Duration            `yaml:"inspect_timeout"`
}

// PortsConfig bounds the host port range for container publishing
type PortsConfig struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

// HeartbeatConfig tunes liveness detection
type HeartbeatConfig struct {
	Timeout   Duration `yaml:"timeout"`   // T_hb: staleness threshold
	Tolerance int      `yaml:"tolerance"` // K_to: stale observations before failure
}

// SchedulerConfig tunes the schedule engine
type SchedulerConfig struct {
	Cadence      Duration `yaml:"cadence"`
	LeaseTTL     Duration `yaml:"lease_ttl"`
	LeaseRefresh Duration `yaml:"lease_refresh"`
	Batch        int      `yaml:"batch"`
}

// ReconcilerConfig tunes the liveness reconciler
type ReconcilerConfig struct {
	Cadence          Duration `yaml:"cadence"`
	Concurrency      int      `yaml:"concurrency"`
	AdmissionTimeout Duration `yaml:"admission_timeout"` // pending older than this is re-admitted
}

// EngineConfig tunes the execution engine worker pool
type EngineConfig struct {
	Workers int `yaml:"workers"`
	Queue   int `yaml:"queue"`
}

// StoreConfig locates the durable store
type StoreConfig struct {
	DataDir string `yaml:"data_dir"`
}

// CacheConfig selects the cache backend. An empty Redis address means the
// embedded in-process cache.
type CacheConfig struct {
	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`
}

// LogConfig configures structured logging
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		API:      APIConfig{Addr: ":8420"},
		Callback: CallbackConfig{Addr: ":8421", AdvertiseURL: "http://127.0.0.1:8421"},
		Metrics:  MetricsConfig{Addr: ":9420"},
		Host: HostConfig{
			Mode:           "local",
			Engine:         "docker",
			ConfigDir:      "/var/lib/magpie/executions",
			ContainerPort:  8080,
			AutoRemove:     true,
			OpTimeout:      Duration(30 * time.Second),
			InspectTimeout: Duration(10 * time.Second),
		},
		Images: map[string]string{
			string(types.TaskTypeContainerCrawl): "ghcr.io/cuemby/magpie-crawler:latest",
			string(types.TaskTypeAPIPull):        "ghcr.io/cuemby/magpie-apipull:latest",
			string(types.TaskTypeDBExtract):      "ghcr.io/cuemby/magpie-dbextract:latest",
		},
		Ports: PortsConfig{Min: 50000, Max: 51000},
		Heartbeat: HeartbeatConfig{
			Timeout:   Duration(300 * time.Second),
			Tolerance: 3,
		},
		Scheduler: SchedulerConfig{
			Cadence:      Duration(60 * time.Second),
			LeaseTTL:     Duration(120 * time.Second),
			LeaseRefresh: Duration(30 * time.Second),
			Batch:        200,
		},
		Reconciler: ReconcilerConfig{
			Cadence:          Duration(30 * time.Second),
			Concurrency:      8,
			AdmissionTimeout: Duration(120 * time.Second),
		},
		Engine: EngineConfig{Workers: 4, Queue: 64},
		Store:  StoreConfig{DataDir: "/var/lib/magpie"},
		Cache:  CacheConfig{},
		Log:    LogConfig{Level: "info", JSON: true},
	}
}

// Load builds the configuration: defaults, then the YAML file (if path is
// non-empty), then MAGPIE_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides selected settings from the environment
func applyEnv(cfg *Config) {
	if v := os.Getenv("MAGPIE_API_ADDR"); v != "" {
		cfg.API.Addr = v
	}
	if v := os.Getenv("MAGPIE_CALLBACK_ADDR"); v != "" {
		cfg.Callback.Addr = v
	}
	if v := os.Getenv("MAGPIE_CALLBACK_URL"); v != "" {
		cfg.Callback.AdvertiseURL = v
	}
	if v := os.Getenv("MAGPIE_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("MAGPIE_HOST_MODE"); v != "" {
		cfg.Host.Mode = v
	}
	if v := os.Getenv("MAGPIE_HOST_ADDRESS"); v != "" {
		cfg.Host.Address = v
	}
	if v := os.Getenv("MAGPIE_HOST_USER"); v != "" {
		cfg.Host.User = v
	}
	if v := os.Getenv("MAGPIE_HOST_KEY_FILE"); v != "" {
		cfg.Host.KeyFile = v
	}
	if v := os.Getenv("MAGPIE_DATA_DIR"); v != "" {
		cfg.Store.DataDir = v
	}
	if v := os.Getenv("MAGPIE_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("MAGPIE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("MAGPIE_PORT_MIN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Ports.Min = n
		}
	}
	if v := os.Getenv("MAGPIE_PORT_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Ports.Max = n
		}
	}
}

// Validate rejects configurations the orchestrator cannot run with
func (c *Config) Validate() error {
	if c.Host.Mode != "local" && c.Host.Mode != "remote" {
		return fmt.Errorf("host.mode must be \"local\" or \"remote\", got %q", c.Host.Mode)
	}
	if c.Host.Mode == "remote" {
		if c.Host.Address == "" {
			return fmt.Errorf("host.address is required in remote mode")
		}
		if c.Host.User == "" {
			return fmt.Errorf("host.user is required in remote mode")
		}
		if c.Host.KeyFile == "" && c.Host.Password == "" {
			return fmt.Errorf("remote mode needs host.key_file or host.password")
		}
	}
	if c.Host.Engine == "" {
		return fmt.Errorf("host.engine must not be empty")
	}
	if c.Host.ContainerPort <= 0 || c.Host.ContainerPort > 65535 {
		return fmt.Errorf("host.container_port out of range: %d", c.Host.ContainerPort)
	}
	if c.Ports.Min <= 0 || c.Ports.Max > 65535 || c.Ports.Min > c.Ports.Max {
		return fmt.Errorf("invalid port range [%d, %d]", c.Ports.Min, c.Ports.Max)
	}
	if c.Heartbeat.Timeout.D() <= 0 {
		return fmt.Errorf("heartbeat.timeout must be positive")
	}
	if c.Heartbeat.Tolerance < 1 {
		return fmt.Errorf("heartbeat.tolerance must be at least 1")
	}
	if c.Scheduler.Cadence.D() <= 0 || c.Reconciler.Cadence.D() <= 0 {
		return fmt.Errorf("scheduler and reconciler cadences must be positive")
	}
	if c.Scheduler.LeaseTTL.D() <= c.Scheduler.LeaseRefresh.D() {
		return fmt.Errorf("scheduler.lease_ttl must exceed scheduler.lease_refresh")
	}
	if c.Engine.Workers < 1 {
		return fmt.Errorf("engine.workers must be at least 1")
	}
	for _, tt := range []types.TaskType{types.TaskTypeContainerCrawl, types.TaskTypeAPIPull, types.TaskTypeDBExtract} {
		if c.Images[string(tt)] == "" {
			return fmt.Errorf("no image configured for task type %q", tt)
		}
	}
	return nil
}

// Image returns the container image for a task type
func (c *Config) Image(tt types.TaskType) string {
	return c.Images[string(tt)]
}
