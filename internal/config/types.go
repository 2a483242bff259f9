package config

import (
	"errors"
	"fmt"
)

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "30s", "5m", "72h").
// One file per deployment/environment; pick it with the -config flag.
type Config struct {
	Logging LoggingConfig `json:"logging"`
	Storage StorageConfig `json:"storage"`
	Window  WindowConfig  `json:"window"`
	Engine  EngineConfig  `json:"engine"`
	Invoker InvokerConfig `json:"invoker"`
	Sender  SenderConfig  `json:"sender"`
	HTTP    HTTPConfig    `json:"http"`
}

type LoggingConfig struct {
	Level   string     `json:"level,omitempty"`
	Console bool       `json:"console"`
	File    FileConfig `json:"file,omitempty"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// StorageConfig selects and configures the record store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./remindd.db" }
//	"storage": { "driver": "dynamo", "table": "RemindersTable", "region": "us-east-1" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite

	Table      string `json:"table,omitempty"` // dynamo
	Region     string `json:"region,omitempty"`
	Endpoint   string `json:"endpoint,omitempty"`
	OwnerIndex string `json:"owner_index,omitempty"`
}

// WindowConfig bounds how far in the future a reminder may be scheduled,
// measured from the create/update instant.
type WindowConfig struct {
	MinDelay string `json:"min_delay"`
	MaxDelay string `json:"max_delay"`
}

// EngineConfig controls the execution engine.
//
// Defaults (when fields are omitted/zero):
//   - max_retry_count: 3
//   - ack_window: "5m"
//   - store_timeout: "5s"
type EngineConfig struct {
	MaxRetryCount int    `json:"max_retry_count,omitempty"`
	AckWindow     string `json:"ack_window,omitempty"`
	StoreTimeout  string `json:"store_timeout,omitempty"`
}

// InvokerConfig controls the trigger/worker service.
//
// Enabled is a pointer so we can distinguish "omitted" (default true) from
// an explicit false.
type InvokerConfig struct {
	Enabled     *bool  `json:"enabled,omitempty"`
	Workers     int    `json:"workers,omitempty"`
	QueueSize   int    `json:"queue_size,omitempty"`
	ExecTimeout string `json:"exec_timeout,omitempty"`
	SweepEvery  string `json:"sweep_every,omitempty"`
	SweepLimit  int    `json:"sweep_limit,omitempty"`
}

type SenderConfig struct {
	Region     string `json:"region,omitempty"`
	Timeout    string `json:"timeout,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	CharSet    string `json:"charset,omitempty"`
}

type HTTPConfig struct {
	Enabled      *bool  `json:"enabled,omitempty"`
	Addr         string `json:"addr,omitempty"` // default ":8080"
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
}

// Validate checks field shapes and cross-field invariants. It parses every
// duration string so a bad config is rejected before any service sees it.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	minDelay, err := ParseDurationField("window.min_delay", c.Window.MinDelay)
	if err != nil {
		return err
	}
	maxDelay, err := ParseDurationField("window.max_delay", c.Window.MaxDelay)
	if err != nil {
		return err
	}
	if minDelay <= 0 {
		return errors.New("window.min_delay must be > 0")
	}
	if maxDelay <= 0 {
		return errors.New("window.max_delay must be > 0")
	}
	if minDelay > maxDelay {
		return fmt.Errorf("window.min_delay (%s) must be <= window.max_delay (%s)", minDelay, maxDelay)
	}

	if c.Engine.MaxRetryCount < 0 {
		return errors.New("engine.max_retry_count must be >= 0")
	}
	for _, f := range []struct{ path, raw string }{
		{"engine.ack_window", c.Engine.AckWindow},
		{"engine.store_timeout", c.Engine.StoreTimeout},
		{"invoker.exec_timeout", c.Invoker.ExecTimeout},
		{"invoker.sweep_every", c.Invoker.SweepEvery},
		{"sender.timeout", c.Sender.Timeout},
		{"storage.busy_timeout", c.Storage.BusyTimeout},
		{"http.read_timeout", c.HTTP.ReadTimeout},
		{"http.write_timeout", c.HTTP.WriteTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}

	if c.Storage.Driver == "" {
		return errors.New("storage.driver is required")
	}
	return nil
}
