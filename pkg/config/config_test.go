package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/magpie/pkg/types"
)

// TestDefaults verifies the built-in configuration is valid and carries
// the documented tuning values.
func TestDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "local", cfg.Host.Mode)
	assert.Equal(t, 300*time.Second, cfg.Heartbeat.Timeout.D())
	assert.Equal(t, 3, cfg.Heartbeat.Tolerance)
	assert.Equal(t, 60*time.Second, cfg.Scheduler.Cadence.D())
	assert.Equal(t, 120*time.Second, cfg.Scheduler.LeaseTTL.D())
	assert.Equal(t, 30*time.Second, cfg.Reconciler.Cadence.D())
	assert.NotEmpty(t, cfg.Image(types.TaskTypeContainerCrawl))
}

// TestLoadFile verifies YAML values overlay the defaults without
// clobbering unrelated sections.
func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "magpie.yaml")
	doc := `
api:
  addr: ":9000"
host:
  mode: remote
  address: 10.0.0.5
  user: crawler
  key_file: /etc/magpie/id_ed25519
  config_dir: /srv/magpie
heartbeat:
  timeout: 90s
ports:
  min: 40000
  max: 40100
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.API.Addr)
	assert.Equal(t, "remote", cfg.Host.Mode)
	assert.Equal(t, "10.0.0.5", cfg.Host.Address)
	assert.Equal(t, 90*time.Second, cfg.Heartbeat.Timeout.D())
	assert.Equal(t, 40000, cfg.Ports.Min)
	// untouched sections keep their defaults
	assert.Equal(t, ":8421", cfg.Callback.Addr)
	assert.Equal(t, 3, cfg.Heartbeat.Tolerance)
}

// TestEnvOverrides verifies MAGPIE_* variables win over file values
func TestEnvOverrides(t *testing.T) {
	t.Setenv("MAGPIE_API_ADDR", ":7777")
	t.Setenv("MAGPIE_LOG_LEVEL", "debug")
	t.Setenv("MAGPIE_PORT_MIN", "42000")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":7777", cfg.API.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 42000, cfg.Ports.Min)
}

// TestValidate exercises the rejection paths
func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{
			name:   "bad host mode",
			mutate: func(c *Config) { c.Host.Mode = "serverless" },
			errMsg: "host.mode",
		},
		{
			name:   "remote without address",
			mutate: func(c *Config) { c.Host.Mode = "remote"; c.Host.User = "u"; c.Host.KeyFile = "k" },
			errMsg: "host.address",
		},
		{
			name: "remote without credentials",
			mutate: func(c *Config) {
				c.Host.Mode = "remote"
				c.Host.Address = "10.0.0.5"
				c.Host.User = "u"
			},
			errMsg: "key_file or host.password",
		},
		{
			name:   "inverted port range",
			mutate: func(c *Config) { c.Ports.Min = 50100; c.Ports.Max = 50000 },
			errMsg: "port range",
		},
		{
			name:   "zero heartbeat timeout",
			mutate: func(c *Config) { c.Heartbeat.Timeout = 0 },
			errMsg: "heartbeat.timeout",
		},
		{
			name:   "lease ttl below refresh",
			mutate: func(c *Config) { c.Scheduler.LeaseTTL = Duration(10 * time.Second) },
			errMsg: "lease_ttl",
		},
		{
			name:   "missing image",
			mutate: func(c *Config) { delete(c.Images, string(types.TaskTypeDBExtract)) },
			errMsg: "no image configured",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

// TestLoadMissingFile verifies a bad path is reported rather than ignored
func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/magpie.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

// TestDurationRoundTrip verifies the YAML duration wrapper
func TestDurationRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "d.yaml")
	require.NoError(t, os.WriteFile(path, []byte("heartbeat:\n  timeout: 2m30s\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 150*time.Second, cfg.Heartbeat.Timeout.D())

	_, err = Load(func() string {
		p := filepath.Join(t.TempDir(), "bad.yaml")
		_ = os.WriteFile(p, []byte("heartbeat:\n  timeout: soon\n"), 0644)
		return p
	}())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}
