// Package config holds the configuration of the capsched command.
package config

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/determined-ai/capsched/internal/detect"
	"github.com/determined-ai/capsched/pkg/check"
	"github.com/determined-ai/capsched/pkg/logger"
	"github.com/determined-ai/capsched/pkg/resources"
	"github.com/determined-ai/capsched/pkg/scheduler"
)

// AutoCapacity is the pool capacity that is replaced with the host's CPUs and memory.
const AutoCapacity = "auto"

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	sched := scheduler.DefaultConfig()
	return &Config{
		Log: *logger.DefaultConfig(),
		Pools: map[string]PoolCapacity{
			"local": {Auto: true},
		},
		WorkerLostRetries: sched.WorkerLostRetries,
		RetryBackoff: RetryBackoffConfig{
			InitialInterval: Duration(sched.RetryBackoff.InitialInterval),
			MaxInterval:     Duration(sched.RetryBackoff.MaxInterval),
		},
		RetainFinished:  sched.RetainFinished,
		ShutdownTimeout: Duration(30 * time.Second),
		Observability: ObservabilityConfig{
			EnablePrometheus: false,
			Listen:           ":9464",
		},
	}
}

// Config is the configuration of the capsched command.
type Config struct {
	ConfigFile        string                  `json:"config_file"`
	Log               logger.Config           `json:"log"`
	Pools             map[string]PoolCapacity `json:"pools"`
	WorkerLostRetries int                     `json:"worker_lost_retries"`
	RetryBackoff      RetryBackoffConfig      `json:"retry_backoff"`
	RetainFinished    int                     `json:"retain_finished"`
	ShutdownTimeout   Duration                `json:"shutdown_timeout"`
	Docker            DockerConfig            `json:"docker"`
	Observability     ObservabilityConfig     `json:"observability"`
}

// Validate implements the check.Validatable interface.
func (c Config) Validate() []error {
	errs := []error{
		check.GreaterThanOrEqualTo(float64(c.WorkerLostRetries), 0,
			"worker_lost_retries must be non-negative"),
		check.GreaterThanOrEqualTo(float64(c.RetainFinished), 0,
			"retain_finished must be non-negative"),
		check.True(c.ShutdownTimeout >= 0, "shutdown_timeout must be non-negative"),
	}
	for tag := range c.Pools {
		errs = append(errs, check.NotEmpty(tag, "pool tags must be non-empty"))
	}
	return errs
}

// Resolve replaces every `auto` pool capacity with the capacity detected on the host.
func (c *Config) Resolve() error {
	var host *resources.Vector
	for tag, p := range c.Pools {
		if !p.Auto {
			continue
		}
		if host == nil {
			detected, err := detect.Capacity()
			if err != nil {
				return errors.Wrapf(err, "detecting capacity of pool %s", tag)
			}
			host = &detected
		}
		c.Pools[tag] = PoolCapacity{Total: *host}
	}
	return nil
}

// Scheduler returns the scheduler configuration. Resolve must have been called first.
func (c Config) Scheduler() (scheduler.Config, error) {
	pools := make(map[string]resources.Vector, len(c.Pools))
	for tag, p := range c.Pools {
		if p.Auto {
			return scheduler.Config{}, errors.Errorf("pool %s has an unresolved capacity", tag)
		}
		pools[tag] = p.Total
	}
	return scheduler.Config{
		Pools:             pools,
		WorkerLostRetries: c.WorkerLostRetries,
		RetryBackoff: scheduler.RetryBackoff{
			InitialInterval: time.Duration(c.RetryBackoff.InitialInterval),
			MaxInterval:     time.Duration(c.RetryBackoff.MaxInterval),
		},
		RetainFinished: c.RetainFinished,
	}, nil
}

// Printable returns the configuration as indented JSON.
func (c Config) Printable() ([]byte, error) {
	bs, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "unable to convert config to JSON")
	}
	return bs, nil
}

// PoolCapacity is the total capacity of a pool: either a resource vector or `auto`.
type PoolCapacity struct {
	Auto  bool
	Total resources.Vector
}

// MarshalJSON implements the json.Marshaler interface.
func (p PoolCapacity) MarshalJSON() ([]byte, error) {
	if p.Auto {
		return json.Marshal(AutoCapacity)
	}
	return json.Marshal(p.Total)
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (p *PoolCapacity) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s != AutoCapacity {
			return errors.Errorf("pool capacity must be %q or a map of resources, got %q",
				AutoCapacity, s)
		}
		*p = PoolCapacity{Auto: true}
		return nil
	}
	var total resources.Vector
	if err := json.Unmarshal(data, &total); err != nil {
		return errors.Wrap(err, "parsing pool capacity")
	}
	*p = PoolCapacity{Total: total}
	return nil
}

// Validate implements the check.Validatable interface.
func (p PoolCapacity) Validate() []error {
	if p.Auto || !p.Total.HasNegative() {
		return nil
	}
	return []error{errors.Errorf("capacity %s has a negative component", p.Total)}
}

// RetryBackoffConfig configures the delays between retries of tasks whose worker was lost.
type RetryBackoffConfig struct {
	InitialInterval Duration `json:"initial_interval"`
	MaxInterval     Duration `json:"max_interval"`
}

// Validate implements the check.Validatable interface.
func (r RetryBackoffConfig) Validate() []error {
	return scheduler.RetryBackoff{
		InitialInterval: time.Duration(r.InitialInterval),
		MaxInterval:     time.Duration(r.MaxInterval),
	}.Validate()
}

// DockerConfig configures the containers backend.
type DockerConfig struct {
	// Host overrides DOCKER_HOST when set.
	Host string `json:"host"`
}

// ObservabilityConfig configures the metrics endpoint.
type ObservabilityConfig struct {
	EnablePrometheus bool   `json:"enable_prometheus"`
	Listen           string `json:"listen"`
}

// Validate implements the check.Validatable interface.
func (o ObservabilityConfig) Validate() []error {
	if !o.EnablePrometheus {
		return nil
	}
	return []error{check.NotEmpty(o.Listen, "observability.listen is required with prometheus")}
}

// Duration is a time.Duration that reads and writes as a string such as "1m30s".
type Duration time.Duration

// MarshalJSON implements the json.Marshaler interface.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements the json.Unmarshaler interface. Bare numbers are nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return errors.Wrapf(err, "invalid duration %q", value)
		}
		*d = Duration(parsed)
	default:
		return errors.Errorf("invalid duration %s", data)
	}
	return nil
}
