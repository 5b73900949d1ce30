package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v2"

	"github.com/telekom/trustcore/pkg/audit"
	"github.com/telekom/trustcore/pkg/health"
	"github.com/telekom/trustcore/pkg/policy"
	"github.com/telekom/trustcore/pkg/ratelimit"
	"github.com/telekom/trustcore/pkg/redact"
	"github.com/telekom/trustcore/pkg/subscription"
)

// EnvConfigPath overrides the default config file location.
const EnvConfigPath = "TRUSTCORE_CONFIG"

// DefaultPath is used when neither an argument nor EnvConfigPath names a file.
const DefaultPath = "./config.yaml"

// ErrInvalid is returned by Validate.
var ErrInvalid = errors.New("invalid configuration")

type Server struct {
	ListenAddress  string   `yaml:"listenAddress"`
	TrustedProxies []string `yaml:"trustedProxies"` // IPs/CIDRS to trust for X-Forwarded-For headers (e.g., ["10.0.0.0/8", "127.0.0.1"])
	// RateLimit applies per client IP to the /api routes.
	RateLimit ratelimit.Config `yaml:"rateLimit"`
}

// Stream configures the in-memory replay buffer served to subscribers.
type Stream struct {
	MaxBufferedEvents int           `yaml:"maxBufferedEvents"`
	ReplayWindow      time.Duration `yaml:"replayWindow"`
}

// SinkBreaker gates the durable sinks with their own health tracker.
type SinkBreaker struct {
	Enabled bool          `yaml:"enabled"`
	Tracker health.Config `yaml:",inline"`
}

// Queue makes durable writes asynchronous.
type Queue struct {
	Enabled                bool `yaml:"enabled"`
	audit.QueuedSinkConfig `yaml:",inline"`
}

type Audit struct {
	// JSONLPath is the append-only audit log. Empty disables it.
	JSONLPath string `yaml:"jsonlPath"`
	Fsync     bool   `yaml:"fsync"`
	// LogSink mirrors every event to the process log.
	LogSink        bool         `yaml:"logSink"`
	DefaultAgentID string       `yaml:"defaultAgentId"`
	Redaction      redact.Rules `yaml:"redaction"`
	Stream         Stream       `yaml:"stream"`
	Queue          Queue        `yaml:"queue"`
	SinkBreaker    SinkBreaker  `yaml:"sinkBreaker"`
}

type Policy struct {
	// Layers are merged in order, outermost (global) first.
	Layers []policy.Layer `yaml:"layers"`
}

type Config struct {
	Server       Server              `yaml:"server"`
	Audit        Audit               `yaml:"audit"`
	Health       health.Config       `yaml:"health"`
	Policy       Policy              `yaml:"policy"`
	Subscription subscription.Config `yaml:"subscription"`
}

// Load loads the trustcore configuration from a file path.
// If configPath is empty, TRUSTCORE_CONFIG is consulted, then "./config.yaml".
// Defaults are applied and the result is validated.
func Load(configPath ...string) (Config, error) {
	path := DefaultPath
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	} else if env := os.Getenv(EnvConfigPath); env != "" {
		path = env
	}

	var config Config

	content, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("trying to open trustcore config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(content, &config); err != nil {
		return config, fmt.Errorf("error unmarshaling YAML %s: %w", path, err)
	}

	config.Defaults()
	if err := config.Validate(); err != nil {
		return config, fmt.Errorf("%s: %w", path, err)
	}
	return config, nil
}

// Default returns a configuration with every default applied.
func Default() Config {
	var c Config
	c.Defaults()
	return c
}

// Defaults fills unset fields with their documented defaults.
func (c *Config) Defaults() {
	if c.Server.ListenAddress == "" {
		c.Server.ListenAddress = ":8080"
	}
	api := ratelimit.DefaultAPIConfig()
	if c.Server.RateLimit.Rate == 0 {
		c.Server.RateLimit.Rate = api.Rate
	}
	if c.Server.RateLimit.Burst == 0 {
		c.Server.RateLimit.Burst = api.Burst
	}
	if c.Server.RateLimit.CleanupInterval == 0 {
		c.Server.RateLimit.CleanupInterval = api.CleanupInterval
	}
	if c.Server.RateLimit.MaxAge == 0 {
		c.Server.RateLimit.MaxAge = api.MaxAge
	}

	if c.Audit.Redaction.MaxStringLength == 0 {
		c.Audit.Redaction.MaxStringLength = redact.DefaultMaxStringLength
	}
	if c.Audit.Stream.MaxBufferedEvents == 0 {
		c.Audit.Stream.MaxBufferedEvents = audit.DefaultMaxBufferedEvents
	}
	if c.Audit.Stream.ReplayWindow == 0 {
		c.Audit.Stream.ReplayWindow = audit.DefaultReplayWindow
	}
	q := audit.DefaultQueuedSinkConfig()
	if c.Audit.Queue.QueueSize == 0 {
		c.Audit.Queue.QueueSize = q.QueueSize
	}
	if c.Audit.Queue.WorkerCount == 0 {
		c.Audit.Queue.WorkerCount = q.WorkerCount
	}
	if c.Audit.Queue.WriteTimeout == 0 {
		c.Audit.Queue.WriteTimeout = q.WriteTimeout
	}
	healthDefaults(&c.Audit.SinkBreaker.Tracker)
	healthDefaults(&c.Health)

	if c.Subscription.MaxEventsPerSec == 0 {
		c.Subscription.MaxEventsPerSec = subscription.DefaultMaxEventsPerSec
	}
}

func healthDefaults(h *health.Config) {
	d := health.DefaultConfig()
	if h.FailureThreshold == 0 {
		h.FailureThreshold = d.FailureThreshold
	}
	if h.Window == 0 {
		h.Window = d.Window
	}
	if h.OpenDuration == 0 {
		h.OpenDuration = d.OpenDuration
	}
}

// Validate rejects settings no component would accept.
func (c Config) Validate() error {
	var errs error
	check := func(ok bool, msg string) {
		if !ok {
			errs = multierr.Append(errs, errors.New(msg))
		}
	}

	check(c.Server.RateLimit.Rate >= 0, "server.rateLimit.rate must not be negative")
	check(c.Server.RateLimit.Burst >= 0, "server.rateLimit.burst must not be negative")
	check(c.Audit.Redaction.MaxStringLength >= 0, "audit.redaction.maxStringLength must not be negative")
	check(c.Audit.Stream.MaxBufferedEvents >= 0, "audit.stream.maxBufferedEvents must not be negative")
	check(c.Audit.Stream.ReplayWindow >= 0, "audit.stream.replayWindow must not be negative")
	check(c.Audit.Queue.QueueSize >= 0, "audit.queue.queueSize must not be negative")
	check(c.Audit.Queue.WorkerCount >= 0, "audit.queue.workerCount must not be negative")
	check(c.Audit.Queue.WriteTimeout >= 0, "audit.queue.writeTimeout must not be negative")
	check(c.Subscription.MaxEventsPerSec >= 0, "subscription.maxEventsPerSec must not be negative")
	check(c.Subscription.Burst >= 0, "subscription.burst must not be negative")

	if err := c.Health.Validate(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("health: %w", err))
	}
	if err := c.Audit.SinkBreaker.Tracker.Validate(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("audit.sinkBreaker: %w", err))
	}
	for i, l := range c.Policy.Layers {
		if err := policy.Validate(l); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("policy.layers[%d]: %w", i, err))
		}
	}

	if errs == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errs)
}

// StreamSinkConfig returns the stream sink settings with the audit redaction rules.
func (c Config) StreamSinkConfig() audit.StreamSinkConfig {
	return audit.StreamSinkConfig{
		Name:              "stream",
		MaxBufferedEvents: c.Audit.Stream.MaxBufferedEvents,
		ReplayWindow:      c.Audit.Stream.ReplayWindow,
		Redaction:         c.Audit.Redaction,
	}
}

// LoggerConfig returns the audit logger settings.
func (c Config) LoggerConfig() audit.LoggerConfig {
	return audit.LoggerConfig{
		Redaction:      c.Audit.Redaction,
		DefaultAgentID: c.Audit.DefaultAgentID,
	}
}
