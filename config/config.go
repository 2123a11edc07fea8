// Copyright 2023 Trustplane Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config holds the trustd configuration.
package config

import (
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/trustplane/trustd/pkg/log"
	"github.com/trustplane/trustd/pkg/serrors"
	"github.com/trustplane/trustd/rtr"
)

// DefaultParentChannelFD is the descriptor number on which the parent
// process hands down the control channel.
const DefaultParentChannelFD = 3

// Config is the trustd configuration.
type Config struct {
	General General    `toml:"general,omitempty"`
	Logging log.Config `toml:"log,omitempty"`
	Metrics Metrics    `toml:"metrics,omitempty"`
	Timers  Timers     `toml:"timers,omitempty"`
}

// General holds the process-wide settings.
type General struct {
	// ID is the instance id used in log context.
	ID string `toml:"id,omitempty"`
	// ParentChannelFD is the inherited control channel descriptor.
	ParentChannelFD int `toml:"parent_channel_fd,omitempty"`
}

// Metrics configures the metrics endpoint.
type Metrics struct {
	// Prometheus is the address to expose /metrics on. Empty disables it.
	Prometheus string `toml:"prometheus,omitempty"`
}

// Timers holds the engine timers.
type Timers struct {
	// ExpireInterval is the period of the trust data expiry sweep.
	ExpireInterval Duration `toml:"expire_interval,omitempty"`
}

// Duration is a time.Duration with TOML text encoding.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// InitDefaults populates unset fields with default values.
func (cfg *Config) InitDefaults() {
	if cfg.General.ID == "" {
		cfg.General.ID = "trustd"
	}
	if cfg.General.ParentChannelFD == 0 {
		cfg.General.ParentChannelFD = DefaultParentChannelFD
	}
	if cfg.Timers.ExpireInterval == 0 {
		cfg.Timers.ExpireInterval = Duration(rtr.DefaultExpireInterval)
	}
	cfg.Logging.InitDefaults()
}

// Validate validates the configuration.
func (cfg *Config) Validate() error {
	cfg.InitDefaults()
	if cfg.General.ParentChannelFD < 0 {
		return serrors.New("invalid parent channel fd",
			"fd", cfg.General.ParentChannelFD)
	}
	if cfg.Timers.ExpireInterval < 0 {
		return serrors.New("invalid expire interval",
			"interval", time.Duration(cfg.Timers.ExpireInterval))
	}
	return cfg.Logging.Validate()
}

// Load reads the configuration from the given TOML file. An empty path
// yields the default configuration.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, serrors.Wrap("reading config file", err, "file", path)
		}
		if err := toml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, serrors.Wrap("parsing config file", err, "file", path)
		}
	}
	cfg.InitDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Sample returns a sample configuration file.
func Sample() string {
	return `[general]
# Instance id used in log context.
id = "trustd"
# Inherited control channel descriptor.
parent_channel_fd = 3

[log.console]
# Log level. One of debug, info, warn, error.
level = "info"
# Log format. Either console or json.
format = "console"

[metrics]
# Address to expose prometheus metrics on. Empty disables the endpoint.
prometheus = ""

[timers]
# Period of the trust data expiry sweep.
expire_interval = "5m0s"
`
}
