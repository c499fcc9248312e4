// Package config holds the process configuration of a vigraph engine: tick
// timing, worker sizing, NATS connectivity, metrics and logging.
package config

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/vigraph/vg-server-sub000/errors"
)

// Clock modes
const (
	ClockWall   = "wall"   // ticks driven by a time.Ticker
	ClockManual = "manual" // ticks driven by explicit Step calls
)

// Config represents the complete process configuration
type Config struct {
	Version string        `json:"version" yaml:"version"`
	Engine  EngineConfig  `json:"engine" yaml:"engine"`
	NATS    NATSConfig    `json:"nats" yaml:"nats"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Graph   GraphConfig   `json:"graph" yaml:"graph"`
}

// EngineConfig configures the tick loop.
type EngineConfig struct {
	TickInterval  Duration `json:"tick_interval" yaml:"tick_interval" validate:"required"`
	Clock         string   `json:"clock" yaml:"clock" validate:"oneof=wall manual"`
	Parallelism   int      `json:"parallelism" yaml:"parallelism" validate:"gte=1,lte=1024"`
	Workers       int      `json:"workers" yaml:"workers" validate:"gte=1,lte=1024"`
	ReportHistory int      `json:"report_history" yaml:"report_history" validate:"gte=1"`
	SpawnRate     float64  `json:"spawn_rate" yaml:"spawn_rate" validate:"gt=0"`
	SpawnBurst    int      `json:"spawn_burst" yaml:"spawn_burst" validate:"gte=1"`
}

// NATSConfig defines NATS connection settings. An empty URL list runs the
// engine without NATS.
type NATSConfig struct {
	URLs           []string `json:"urls,omitempty" yaml:"urls,omitempty" validate:"dive,url"`
	MaxReconnects  int      `json:"max_reconnects,omitempty" yaml:"max_reconnects,omitempty"`
	ReconnectWait  Duration `json:"reconnect_wait,omitempty" yaml:"reconnect_wait,omitempty"`
	PingInterval   Duration `json:"ping_interval,omitempty" yaml:"ping_interval,omitempty"`
	// DrainTimeout bounds how long shutdown waits for in-flight messages.
	DrainTimeout   Duration `json:"drain_timeout,omitempty" yaml:"drain_timeout,omitempty"`
	Username       string   `json:"username,omitempty" yaml:"username,omitempty"`
	Password       string   `json:"password,omitempty" yaml:"password,omitempty"`
	Token          string   `json:"token,omitempty" yaml:"token,omitempty"`
	Bucket         string   `json:"bucket,omitempty" yaml:"bucket,omitempty" validate:"omitempty,subject_part"`
	PublishReports bool     `json:"publish_reports,omitempty" yaml:"publish_reports,omitempty"`
	// Channels lists the router channels mirrored over NATS; empty mirrors none
	// unless MirrorAll is set.
	Channels  []string `json:"channels,omitempty" yaml:"channels,omitempty"`
	MirrorAll bool     `json:"mirror_all,omitempty" yaml:"mirror_all,omitempty"`
}

// Enabled reports whether any NATS server is configured.
func (n NATSConfig) Enabled() bool {
	return len(n.URLs) > 0
}

// MetricsConfig configures the Prometheus endpoint. Port 0 disables it.
type MetricsConfig struct {
	Port int    `json:"port" yaml:"port" validate:"gte=0,lte=65535"`
	Path string `json:"path" yaml:"path" validate:"startswith=/"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `json:"format" yaml:"format" validate:"oneof=json text"`
}

// GraphConfig names where the initial graph description comes from: a file,
// or a key in the NATS graph store.
type GraphConfig struct {
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
	Key  string `json:"key,omitempty" yaml:"key,omitempty" validate:"omitempty,subject_part"`
	// Watch reloads the engine when the stored description changes.
	Watch bool `json:"watch,omitempty" yaml:"watch,omitempty"`
}

// Default returns the configuration used when no layer overrides a field.
func Default() *Config {
	return &Config{
		Version: "1.0.0",
		Engine: EngineConfig{
			TickInterval:  Duration(40 * time.Millisecond),
			Clock:         ClockWall,
			Parallelism:   4,
			Workers:       4,
			ReportHistory: 256,
			SpawnRate:     10,
			SpawnBurst:    20,
		},
		NATS: NATSConfig{
			MaxReconnects: -1,
			ReconnectWait: Duration(2 * time.Second),
			PingInterval:  Duration(30 * time.Second),
			DrainTimeout:  Duration(30 * time.Second),
			Bucket:        "vigraph_graphs",
		},
		Metrics: MetricsConfig{Port: 0, Path: "/metrics"},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("subject_part", func(fl validator.FieldLevel) bool {
		return isValidNATSSubjectPart(fl.Field().String())
	})
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err),
			"Config", "Validate", "field validation")
	}
	if c.Engine.TickInterval.Duration() <= 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: engine.tick_interval must be positive", errors.ErrInvalidConfig),
			"Config", "Validate", "tick interval")
	}
	for _, d := range []struct {
		name  string
		value Duration
	}{
		{"nats.reconnect_wait", c.NATS.ReconnectWait},
		{"nats.ping_interval", c.NATS.PingInterval},
		{"nats.drain_timeout", c.NATS.DrainTimeout},
	} {
		if d.value < 0 {
			return errors.WrapInvalid(fmt.Errorf("%w: %s must not be negative", errors.ErrInvalidConfig, d.name),
				"Config", "Validate", "nats timing")
		}
	}
	if c.Graph.Key != "" && !c.NATS.Enabled() {
		return errors.WrapInvalid(fmt.Errorf("%w: graph.key requires nats.urls", errors.ErrMissingConfig),
			"Config", "Validate", "graph source")
	}
	if c.Graph.Watch && c.Graph.Key == "" {
		return errors.WrapInvalid(fmt.Errorf("%w: graph.watch requires graph.key", errors.ErrMissingConfig),
			"Config", "Validate", "graph source")
	}
	return nil
}

// isValidNATSSubjectPart checks if a string is valid for use in NATS subjects
// and KV keys: letters, digits, dashes and underscores.
func isValidNATSSubjectPart(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' {
			return false
		}
	}
	return true
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return Default()
	}
	clone := *c
	clone.NATS.URLs = append([]string(nil), c.NATS.URLs...)
	clone.NATS.Channels = append([]string(nil), c.NATS.Channels...)
	return &clone
}

// String returns the configuration as JSON with secrets masked.
func (c *Config) String() string {
	masked := c.Clone()
	for _, s := range []*string{&masked.NATS.Password, &masked.NATS.Token} {
		if *s != "" {
			*s = "***"
		}
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig wraps cfg; a nil cfg is replaced by Default().
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = Default()
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update validates cfg and swaps it in.
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "SafeConfig", "Update", "nil config")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg.Clone()
	return nil
}
