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

package log

import (
	"go.uber.org/zap/zapcore"

	"github.com/trustplane/trustd/pkg/serrors"
)

// Config is the logging configuration.
type Config struct {
	Console ConsoleConfig `toml:"console,omitempty"`
}

// ConsoleConfig configures the console output of the logger.
type ConsoleConfig struct {
	// Level of console logging. Defaults to info.
	Level string `toml:"level,omitempty"`
	// Format of the console output. Either "console" or "json".
	Format string `toml:"format,omitempty"`
}

// InitDefaults populates unset fields with default values.
func (cfg *Config) InitDefaults() {
	if cfg.Console.Level == "" {
		cfg.Console.Level = "info"
	}
	if cfg.Console.Format == "" {
		cfg.Console.Format = "console"
	}
}

// Validate validates the configuration.
func (cfg *Config) Validate() error {
	cfg.InitDefaults()
	var lvl zapcore.Level
	if err := lvl.Set(cfg.Console.Level); err != nil {
		return serrors.Wrap("invalid log level", err, "level", cfg.Console.Level)
	}
	if cfg.Console.Format != "console" && cfg.Console.Format != "json" {
		return serrors.New("invalid log format", "format", cfg.Console.Format)
	}
	return nil
}
