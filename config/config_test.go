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

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustplane/trustd/config"
	"github.com/trustplane/trustd/rtr"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "trustd", cfg.General.ID)
	assert.Equal(t, config.DefaultParentChannelFD, cfg.General.ParentChannelFD)
	assert.Equal(t, rtr.DefaultExpireInterval, time.Duration(cfg.Timers.ExpireInterval))
	assert.Equal(t, "info", cfg.Logging.Console.Level)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trustd.toml")
	raw := `
[general]
id = "trustd-1"

[timers]
expire_interval = "30s"
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "trustd-1", cfg.General.ID)
	assert.Equal(t, 30*time.Second, time.Duration(cfg.Timers.ExpireInterval))
	// Unset sections still get defaults.
	assert.Equal(t, config.DefaultParentChannelFD, cfg.General.ParentChannelFD)
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := config.Load(filepath.Join(t.TempDir(), "nope.toml"))
		assert.Error(t, err)
	})
	t.Run("bad toml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "trustd.toml")
		require.NoError(t, os.WriteFile(path, []byte("[general\n"), 0o644))
		_, err := config.Load(path)
		assert.Error(t, err)
	})
	t.Run("bad duration", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "trustd.toml")
		raw := "[timers]\nexpire_interval = \"soon\"\n"
		require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))
		_, err := config.Load(path)
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	var cfg config.Config
	cfg.General.ParentChannelFD = -1
	assert.Error(t, cfg.Validate())

	cfg = config.Config{}
	cfg.Timers.ExpireInterval = config.Duration(-time.Second)
	assert.Error(t, cfg.Validate())

	cfg = config.Config{}
	cfg.Logging.Console.Level = "chatty"
	assert.Error(t, cfg.Validate())
}

func TestSampleParses(t *testing.T) {
	var cfg config.Config
	require.NoError(t, toml.Unmarshal([]byte(config.Sample()), &cfg))
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5*time.Minute, time.Duration(cfg.Timers.ExpireInterval))
	assert.Equal(t, "console", cfg.Logging.Console.Format)
}
