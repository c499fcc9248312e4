package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigraph/vg-server-sub000/errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func noEnv(string) (string, bool) { return "", false }

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 40*time.Millisecond, cfg.Engine.TickInterval.Duration())
	assert.False(t, cfg.NATS.Enabled())
}

func TestLoadLayers(t *testing.T) {
	base := writeFile(t, "base.yaml", `
engine:
  tick_interval: 20ms
  parallelism: 8
logging:
  level: debug
`)
	override := writeFile(t, "override.json", `{
  "engine": {"workers": 2},
  "nats": {"urls": ["nats://localhost:4222"], "channels": ["master"]},
  "metrics": {"port": 9090}
}`)

	l := NewLoader()
	l.lookupEnv = noEnv
	l.AddLayer(base)
	l.AddLayer(override)
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, 20*time.Millisecond, cfg.Engine.TickInterval.Duration())
	assert.Equal(t, 8, cfg.Engine.Parallelism)
	assert.Equal(t, 2, cfg.Engine.Workers)
	assert.Equal(t, 256, cfg.Engine.ReportHistory, "untouched fields keep defaults")
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, []string{"master"}, cfg.NATS.Channels)
	assert.Equal(t, "vigraph_graphs", cfg.NATS.Bucket)
	assert.Equal(t, 9090, cfg.Metrics.Port)
	assert.Equal(t, 2*time.Second, cfg.NATS.ReconnectWait.Duration())
	assert.Equal(t, 30*time.Second, cfg.NATS.PingInterval.Duration())
	assert.Equal(t, 30*time.Second, cfg.NATS.DrainTimeout.Duration())
}

func TestEnvOverrides(t *testing.T) {
	env := map[string]string{
		"VIGRAPH_NATS_URLS":            "nats://a:4222,nats://b:4222",
		"VIGRAPH_ENGINE_TICK_INTERVAL": "1s",
		"VIGRAPH_ENGINE_PARALLELISM":   "2",
		"VIGRAPH_LOG_FORMAT":           "text",
		"VIGRAPH_GRAPH_KEY":            "studio",
		"VIGRAPH_NATS_PING_INTERVAL":   "10s",
		"VIGRAPH_NATS_DRAIN_TIMEOUT":   "2s",
	}
	l := NewLoader()
	l.lookupEnv = func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"nats://a:4222", "nats://b:4222"}, cfg.NATS.URLs)
	assert.Equal(t, time.Second, cfg.Engine.TickInterval.Duration())
	assert.Equal(t, 2, cfg.Engine.Parallelism)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "studio", cfg.Graph.Key)
	assert.Equal(t, 10*time.Second, cfg.NATS.PingInterval.Duration())
	assert.Equal(t, 2*time.Second, cfg.NATS.DrainTimeout.Duration())

	env["VIGRAPH_METRICS_PORT"] = "many"
	_, err = l.Load()
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero tick", func(c *Config) { c.Engine.TickInterval = 0 }},
		{"clock", func(c *Config) { c.Engine.Clock = "lunar" }},
		{"parallelism", func(c *Config) { c.Engine.Parallelism = 0 }},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"bucket", func(c *Config) { c.NATS.Bucket = "has.dot" }},
		{"url", func(c *Config) { c.NATS.URLs = []string{"not a url"} }},
		{"ping interval", func(c *Config) { c.NATS.PingInterval = Duration(-time.Second) }},
		{"drain timeout", func(c *Config) { c.NATS.DrainTimeout = Duration(-time.Second) }},
		{"key without nats", func(c *Config) { c.Graph.Key = "studio" }},
		{"watch without key", func(c *Config) { c.Graph.Watch = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestLoadRejectsBadFiles(t *testing.T) {
	l := NewLoader()
	l.lookupEnv = noEnv

	_, err := l.LoadFile(writeFile(t, "cfg.toml", "x = 1"))
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)

	_, err = l.LoadFile(writeFile(t, "cfg.json", `{"engine": {"tick_interval": "soon"}}`))
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)

	_, err = l.LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, errors.ErrMissingConfig)

	_, err = l.LoadFile("../../etc/vigraph.json")
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestValidateJSONDepth(t *testing.T) {
	deep := ""
	for i := 0; i <= maxJSONDepth; i++ {
		deep += "["
	}
	assert.Error(t, validateJSONDepth([]byte(deep)))
	assert.NoError(t, validateJSONDepth([]byte(`{"a": "[[[{", "b": [1, 2]}`)))
	assert.Error(t, validateJSONDepth([]byte(`{"a": 1}}`)))
}

func TestStringMasksSecrets(t *testing.T) {
	cfg := Default()
	cfg.NATS.Password = "hunter2"
	s := cfg.String()
	assert.NotContains(t, s, "hunter2")
	assert.Equal(t, "hunter2", cfg.NATS.Password)
}

func TestSafeConfig(t *testing.T) {
	sc := NewSafeConfig(nil)

	bad := Default()
	bad.Engine.Workers = 0
	require.Error(t, sc.Update(bad))
	assert.Equal(t, 4, sc.Get().Engine.Workers)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				cfg := sc.Get()
				cfg.NATS.URLs = append(cfg.NATS.URLs, "nats://x:1")
			}
		}()
		go func(n int) {
			defer wg.Done()
			cfg := Default()
			cfg.Engine.Workers = n + 1
			assert.NoError(t, sc.Update(cfg))
		}(i)
	}
	wg.Wait()
	assert.Empty(t, sc.Get().NATS.URLs, "Get returns copies")
}
