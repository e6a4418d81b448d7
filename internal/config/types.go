// Package config loads, validates and hot-reloads the hueplan configuration
// file. YAML and JSON are both accepted; YAML is coerced to JSON so one
// strict decoder covers both.
package config

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Bridge points at the Hue bridge and carries the API credentials.
	Bridge BridgeConfig `json:"bridge"`

	Scheduler SchedulerConfig `json:"scheduler,omitempty"`

	// Plan locates the automation plan file.
	Plan PlanConfig `json:"plan"`

	Storage  *StorageConfig  `json:"storage,omitempty"`
	Health   *HealthConfig   `json:"healthcheck,omitempty"`
	Location *LocationConfig `json:"location,omitempty"`

	// Timezone is an IANA name; empty means the host zone.
	Timezone string `json:"timezone,omitempty"`
}

type LoggingConfig struct {
	Level   string `json:"level,omitempty"`
	Console bool   `json:"console,omitempty"`
	File    string `json:"file,omitempty"`
}

type BridgeConfig struct {
	// Addr is host or host:port of the bridge, no scheme.
	Addr string `json:"addr"`
	// AccessToken is the application key issued by the bridge. It is used
	// as the v1 API username and as the hue-application-key header on v2.
	AccessToken string `json:"access_token"`

	// RatePerSec caps outgoing bridge requests. The bridge firmware
	// degrades under bursts, so the default is deliberately low.
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Burst      int     `json:"burst,omitempty"`

	// RequestTimeout is a Go duration string for a single API call.
	RequestTimeout string `json:"request_timeout,omitempty"`
}

type SchedulerConfig struct {
	ExitOnEmpty    bool `json:"exit_on_empty,omitempty"`
	AutoUnschedule bool `json:"auto_unschedule,omitempty"`

	RetryMax int `json:"retry_max,omitempty"`
	// RetryBase is a Go duration string seeding retry backoff.
	RetryBase string `json:"retry_base,omitempty"`
}

type PlanConfig struct {
	Path string `json:"path"`
	// Reload re-applies the plan when the file changes on disk.
	Reload bool `json:"reload,omitempty"`
}

type StorageConfig struct {
	// Driver is memory, file or sqlite.
	Driver string `json:"driver"`
	Path   string `json:"path,omitempty"`
}

type HealthConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	// EnablePprof exposes net/http/pprof on the same listener.
	EnablePprof bool `json:"enable_pprof,omitempty"`
}

type LocationConfig struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Validate checks cross-field rules and fills defaults in place.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Bridge.Addr) == "" {
		return fmt.Errorf("bridge.addr is required")
	}
	if strings.TrimSpace(c.Bridge.AccessToken) == "" {
		return fmt.Errorf("bridge.access_token is required")
	}
	if c.Bridge.RatePerSec <= 0 {
		c.Bridge.RatePerSec = 5
	}
	if c.Bridge.Burst <= 0 {
		c.Bridge.Burst = 5
	}
	if _, err := ParseDurationField("bridge.request_timeout", c.Bridge.RequestTimeout); err != nil {
		return err
	}
	if strings.TrimSpace(c.Plan.Path) == "" {
		return fmt.Errorf("plan.path is required")
	}
	if c.Scheduler.RetryMax < 0 {
		return fmt.Errorf("scheduler.retry_max must be >= 0")
	}
	if _, err := ParseDurationField("scheduler.retry_base", c.Scheduler.RetryBase); err != nil {
		return err
	}
	if c.Storage != nil {
		switch c.Storage.Driver {
		case "memory":
		case "file", "sqlite":
			if strings.TrimSpace(c.Storage.Path) == "" {
				return fmt.Errorf("storage.path is required for driver %q", c.Storage.Driver)
			}
		default:
			return fmt.Errorf("storage.driver must be memory, file or sqlite")
		}
	}
	if c.Health != nil && c.Health.Enabled && strings.TrimSpace(c.Health.Addr) == "" {
		c.Health.Addr = "127.0.0.1:9090"
	}
	if c.Location != nil {
		if c.Location.Latitude < -90 || c.Location.Latitude > 90 {
			return fmt.Errorf("location.latitude out of range")
		}
		if c.Location.Longitude < -180 || c.Location.Longitude > 180 {
			return fmt.Errorf("location.longitude out of range")
		}
	}
	if tz := strings.TrimSpace(c.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("timezone: %w", err)
		}
	}
	return nil
}

// TimeLocation resolves the configured time zone, falling back to the host
// zone.
func (c *Config) TimeLocation() (*time.Location, error) {
	tz := strings.TrimSpace(c.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	return time.LoadLocation(tz)
}

// Timeout returns the parsed per-call bridge timeout. Validate already
// rejected malformed values, so parse failures just yield the default.
func (b BridgeConfig) Timeout() time.Duration {
	if d, err := ParseDurationField("bridge.request_timeout", b.RequestTimeout); err == nil && d > 0 {
		return d
	}
	return 10 * time.Second
}

// Retry returns the scheduler retry knobs with defaults applied.
func (s SchedulerConfig) Retry() (max int, base time.Duration) {
	max = s.RetryMax
	if max <= 0 {
		max = 3
	}
	base = 2 * time.Second
	if d, err := ParseDurationField("scheduler.retry_base", s.RetryBase); err == nil && d > 0 {
		base = d
	}
	return max, base
}
