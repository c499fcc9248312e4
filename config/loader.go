package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vigraph/vg-server-sub000/errors"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "VIGRAPH"

// Loader merges configuration layers over the defaults. Later layers override
// only the fields they set. Environment overrides apply last.
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a loader with validation enabled.
func NewLoader() *Loader {
	return &Loader{
		validation: true,
		envPrefix:  EnvPrefix,
		lookupEnv:  os.LookupEnv,
	}
}

// AddLayer adds a JSON or YAML configuration file.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads a single file over the defaults.
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load loads and merges all configuration layers
func (l *Loader) Load() (*Config, error) {
	merged, err := toMap(Default())
	if err != nil {
		return nil, err
	}

	for _, path := range l.layers {
		layer, err := l.loadRaw(path)
		if err != nil {
			return nil, errors.Wrap(err, "Loader", "Load", "load "+path)
		}
		merged = deepMergeMaps(merged, layer)
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "encode merged layers")
	}
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err),
			"Loader", "Load", "decode merged layers")
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &raw)
	default:
		if err = validateJSONDepth(data); err == nil {
			err = json.Unmarshal(data, &raw)
		}
	}
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err),
			"Loader", "loadRaw", "parse "+filepath.Base(path))
	}
	removeNilValues(raw)
	return raw, nil
}

func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "toMap", "encode defaults")
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "toMap", "decode defaults")
	}
	return m, nil
}

func deepMergeMaps(base, override map[string]any) map[string]any {
	out := make(map[string]any, len(base))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		if nested, ok := v.(map[string]any); ok {
			if baseNested, ok := out[k].(map[string]any); ok {
				out[k] = deepMergeMaps(baseNested, nested)
				continue
			}
		}
		out[k] = v
	}
	return out
}

func removeNilValues(m map[string]any) {
	for k, v := range m {
		if v == nil {
			delete(m, k)
		} else if nested, ok := v.(map[string]any); ok {
			removeNilValues(nested)
		}
	}
}

// applyEnvOverrides applies VIGRAPH_* variables.
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	str := map[string]*string{
		"NATS_USERNAME": &cfg.NATS.Username,
		"NATS_PASSWORD": &cfg.NATS.Password,
		"NATS_TOKEN":    &cfg.NATS.Token,
		"NATS_BUCKET":   &cfg.NATS.Bucket,
		"ENGINE_CLOCK":  &cfg.Engine.Clock,
		"LOG_LEVEL":     &cfg.Logging.Level,
		"LOG_FORMAT":    &cfg.Logging.Format,
		"GRAPH_PATH":    &cfg.Graph.Path,
		"GRAPH_KEY":     &cfg.Graph.Key,
	}
	ints := map[string]*int{
		"ENGINE_PARALLELISM": &cfg.Engine.Parallelism,
		"ENGINE_WORKERS":     &cfg.Engine.Workers,
		"METRICS_PORT":       &cfg.Metrics.Port,
	}

	for suffix, dst := range str {
		if val, ok := l.env(suffix); ok {
			if err := validateEnvVar(l.envPrefix+"_"+suffix, val); err != nil {
				return err
			}
			*dst = val
		}
	}
	for suffix, dst := range ints {
		if val, ok := l.env(suffix); ok {
			n, err := strconv.Atoi(val)
			if err != nil {
				return errors.WrapInvalid(fmt.Errorf("%w: %s_%s: %w", errors.ErrInvalidConfig, l.envPrefix, suffix, err),
					"Loader", "applyEnvOverrides", "parse integer")
			}
			*dst = n
		}
	}
	if val, ok := l.env("NATS_URLS"); ok {
		cfg.NATS.URLs = strings.Split(val, ",")
	}
	durations := map[string]*Duration{
		"ENGINE_TICK_INTERVAL": &cfg.Engine.TickInterval,
		"NATS_RECONNECT_WAIT":  &cfg.NATS.ReconnectWait,
		"NATS_PING_INTERVAL":   &cfg.NATS.PingInterval,
		"NATS_DRAIN_TIMEOUT":   &cfg.NATS.DrainTimeout,
	}
	for suffix, dst := range durations {
		if val, ok := l.env(suffix); ok {
			d, err := parseDurationWithDays(val)
			if err != nil {
				return errors.WrapInvalid(fmt.Errorf("%w: %s_%s: %w", errors.ErrInvalidConfig, l.envPrefix, suffix, err),
					"Loader", "applyEnvOverrides", "parse duration")
			}
			*dst = Duration(d)
		}
	}
	return nil
}

func (l *Loader) env(suffix string) (string, bool) {
	val, ok := l.lookupEnv(l.envPrefix + "_" + suffix)
	if !ok || val == "" {
		return "", false
	}
	return val, true
}
