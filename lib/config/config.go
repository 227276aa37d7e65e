// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the frontdesk service configuration.
type Config struct {
	Environment Environment `yaml:"environment"`

	// StateDir is where local state (the SQLite database, the socket)
	// lives by default. Available to other fields as ${FRONTDESK_STATE}.
	StateDir string `yaml:"state_dir"`

	Store     StoreConfig     `yaml:"store"`
	Socket    SocketConfig    `yaml:"socket"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Estimator EstimatorConfig `yaml:"estimator"`
	Refresher RefresherConfig `yaml:"refresher"`
	Queue     QueueConfig     `yaml:"queue"`

	Development *Overrides `yaml:"development,omitempty"`
	Staging     *Overrides `yaml:"staging,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// Overrides holds the per-environment replacements. Only non-zero
// fields replace base values.
type Overrides struct {
	Store     *StoreConfig     `yaml:"store,omitempty"`
	Socket    *SocketConfig    `yaml:"socket,omitempty"`
	Metrics   *MetricsConfig   `yaml:"metrics,omitempty"`
	Broadcast *BroadcastConfig `yaml:"broadcast,omitempty"`
	Refresher *RefresherConfig `yaml:"refresher,omitempty"`
}

// StoreConfig selects and configures the ticket store.
type StoreConfig struct {
	// Driver is one of memory, sqlite, postgres.
	Driver string `yaml:"driver"`

	// Path is the SQLite database file.
	Path string `yaml:"path"`

	// DSN is the Postgres connection string.
	DSN string `yaml:"dsn"`

	PoolSize int `yaml:"pool_size"`
}

// SocketConfig configures the CBOR service socket.
type SocketConfig struct {
	Path string `yaml:"path"`

	// RequestTimeout bounds one unary request, including lock waits.
	RequestTimeout Duration `yaml:"request_timeout"`
}

// MetricsConfig configures the Prometheus listener. An empty Listen
// disables it.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// CatalogConfig points at the JSONC service catalog seeded at startup.
// An empty Path skips seeding.
type CatalogConfig struct {
	Path string `yaml:"path"`
}

// BroadcastConfig configures real-time fan-out.
type BroadcastConfig struct {
	// SubscriberBuffer is the per-subscriber channel capacity.
	SubscriberBuffer int `yaml:"subscriber_buffer"`

	// HeartbeatInterval is how often idle streams get a heartbeat.
	HeartbeatInterval Duration `yaml:"heartbeat_interval"`

	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig configures the cross-instance relay. An empty URL
// disables it.
type RedisConfig struct {
	URL     string `yaml:"url"`
	Channel string `yaml:"channel"`

	// Outbox bounds the number of events waiting to be published.
	// The oldest are dropped first when it overflows.
	Outbox int `yaml:"outbox"`
}

// EstimatorConfig tunes wait-time estimation.
type EstimatorConfig struct {
	// Window is the number of recent service durations kept.
	Window int `yaml:"window"`

	// MinSamples is the history size below which the service base
	// estimate is used.
	MinSamples int `yaml:"min_samples"`

	// Decay is the sample count constant τ for blending the recent
	// average toward the all-time mean.
	Decay float64 `yaml:"decay"`

	// LoadProfile maps hour of day (0-23, local time) to a multiplier
	// applied to the average service time. Missing hours use 1.0.
	LoadProfile map[int]float64 `yaml:"load_profile"`
}

// RefresherConfig schedules statistics refresh.
type RefresherConfig struct {
	Interval     Duration `yaml:"interval"`
	StartupDelay Duration `yaml:"startup_delay"`
}

// QueueConfig tunes ordering.
type QueueConfig struct {
	// AgingInterval raises a waiting ticket's effective priority by
	// one per interval waited. Zero disables aging.
	AgingInterval Duration `yaml:"aging_interval"`
}

// Duration is a time.Duration that reads Go duration strings from YAML.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var text string
	if err := node.Decode(&text); err != nil {
		return fmt.Errorf("line %d: duration must be a string: %w", node.Line, err)
	}
	parsed, err := time.ParseDuration(text)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Default returns the base configuration the file is merged over.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	stateDir := filepath.Join(homeDir, ".local", "state", "frontdesk")

	return &Config{
		Environment: Development,
		StateDir:    stateDir,
		Store: StoreConfig{
			Driver:   DriverSQLite,
			Path:     "${FRONTDESK_STATE}/frontdesk.db",
			PoolSize: 4,
		},
		Socket: SocketConfig{
			Path:           "${FRONTDESK_STATE}/frontdesk.sock",
			RequestTimeout: Duration(10 * time.Second),
		},
		Broadcast: BroadcastConfig{
			SubscriberBuffer:  64,
			HeartbeatInterval: Duration(30 * time.Second),
			Redis: RedisConfig{
				Channel: "frontdesk.events",
				Outbox:  1024,
			},
		},
		Estimator: EstimatorConfig{
			Window:     20,
			MinSamples: 3,
			Decay:      5,
		},
		Refresher: RefresherConfig{
			Interval:     Duration(30 * time.Second),
			StartupDelay: Duration(2 * time.Second),
		},
	}
}

// Load loads the file named by FRONTDESK_CONFIG.
func Load() (*Config, error) {
	configPath := os.Getenv("FRONTDESK_CONFIG")
	if configPath == "" {
		return nil, errors.New("FRONTDESK_CONFIG environment variable not set; " +
			"set it to the path of your frontdesk.yaml, or use --config")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path, merged over [Default], with
// environment overrides applied and variables expanded. It does not
// call Validate.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Parse is LoadFile for an in-memory document.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing: %w", err)
	}
	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *Overrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}
	if overrides == nil {
		return
	}

	if store := overrides.Store; store != nil {
		setString(&c.Store.Driver, store.Driver)
		setString(&c.Store.Path, store.Path)
		setString(&c.Store.DSN, store.DSN)
		if store.PoolSize > 0 {
			c.Store.PoolSize = store.PoolSize
		}
	}

	if socket := overrides.Socket; socket != nil {
		setString(&c.Socket.Path, socket.Path)
		if socket.RequestTimeout > 0 {
			c.Socket.RequestTimeout = socket.RequestTimeout
		}
	}

	if metrics := overrides.Metrics; metrics != nil {
		setString(&c.Metrics.Listen, metrics.Listen)
	}

	if broadcast := overrides.Broadcast; broadcast != nil {
		if broadcast.SubscriberBuffer > 0 {
			c.Broadcast.SubscriberBuffer = broadcast.SubscriberBuffer
		}
		if broadcast.HeartbeatInterval > 0 {
			c.Broadcast.HeartbeatInterval = broadcast.HeartbeatInterval
		}
		setString(&c.Broadcast.Redis.URL, broadcast.Redis.URL)
		setString(&c.Broadcast.Redis.Channel, broadcast.Redis.Channel)
		if broadcast.Redis.Outbox > 0 {
			c.Broadcast.Redis.Outbox = broadcast.Redis.Outbox
		}
	}

	if refresher := overrides.Refresher; refresher != nil {
		if refresher.Interval > 0 {
			c.Refresher.Interval = refresher.Interval
		}
		if refresher.StartupDelay > 0 {
			c.Refresher.StartupDelay = refresher.StartupDelay
		}
	}
}

func setString(target *string, value string) {
	if value != "" {
		*target = value
	}
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.StateDir = expandVars(c.StateDir, vars)
	vars["FRONTDESK_STATE"] = c.StateDir

	c.Store.Path = expandVars(c.Store.Path, vars)
	c.Store.DSN = expandVars(c.Store.DSN, vars)
	c.Socket.Path = expandVars(c.Socket.Path, vars)
	c.Catalog.Path = expandVars(c.Catalog.Path, vars)
	c.Broadcast.Redis.URL = expandVars(c.Broadcast.Redis.URL, vars)
}

// varPattern matches ${VAR} and ${VAR:-default}.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, defaultValue := parts[1], parts[2]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error

	switch c.Environment {
	case Development, Staging, Production:
	default:
		errs = append(errs, fmt.Errorf("invalid environment: %q", c.Environment))
	}

	switch c.Store.Driver {
	case DriverMemory:
		if c.Environment == Production {
			errs = append(errs, errors.New("store.driver memory is not allowed in production"))
		}
	case DriverSQLite:
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path is required for the sqlite driver"))
		}
	case DriverPostgres:
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver must be one of memory, sqlite, postgres; got %q", c.Store.Driver))
	}

	if c.Socket.Path == "" {
		errs = append(errs, errors.New("socket.path is required"))
	}
	if c.Broadcast.SubscriberBuffer < 1 {
		errs = append(errs, errors.New("broadcast.subscriber_buffer must be at least 1"))
	}
	if c.Broadcast.HeartbeatInterval <= 0 {
		errs = append(errs, errors.New("broadcast.heartbeat_interval must be positive"))
	}
	if c.Broadcast.Redis.URL != "" && c.Broadcast.Redis.Channel == "" {
		errs = append(errs, errors.New("broadcast.redis.channel is required when broadcast.redis.url is set"))
	}

	if c.Estimator.Window < 1 {
		errs = append(errs, errors.New("estimator.window must be at least 1"))
	}
	if c.Estimator.MinSamples < 1 || c.Estimator.MinSamples > c.Estimator.Window {
		errs = append(errs, fmt.Errorf("estimator.min_samples must be between 1 and estimator.window (%d)", c.Estimator.Window))
	}
	if c.Estimator.Decay <= 0 {
		errs = append(errs, errors.New("estimator.decay must be positive"))
	}
	for hour, multiplier := range c.Estimator.LoadProfile {
		if hour < 0 || hour > 23 {
			errs = append(errs, fmt.Errorf("estimator.load_profile: hour %d out of range 0-23", hour))
		}
		if multiplier <= 0 {
			errs = append(errs, fmt.Errorf("estimator.load_profile: hour %d multiplier must be positive", hour))
		}
	}

	if c.Refresher.Interval <= 0 {
		errs = append(errs, errors.New("refresher.interval must be positive"))
	}
	if c.Refresher.StartupDelay < 0 {
		errs = append(errs, errors.New("refresher.startup_delay must not be negative"))
	}
	if c.Queue.AgingInterval < 0 {
		errs = append(errs, errors.New("queue.aging_interval must not be negative"))
	}

	return errors.Join(errs...)
}

// EnsureStateDir creates StateDir if it does not exist.
func (c *Config) EnsureStateDir() error {
	if c.StateDir == "" {
		return nil
	}
	if err := os.MkdirAll(c.StateDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", c.StateDir, err)
	}
	return nil
}
