/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	_, err := New(&Config{Level: "debug", Output: "stdout"})
	require.NoError(t, err)

	_, err = New(&Config{Level: "not-a-level"})
	assert.Error(t, err)

	_, err = New(nil)
	assert.NoError(t, err)
}

func TestConfigLevel(t *testing.T) {
	lvl, err := (&Config{Debug: true, Level: "error"}).level()
	require.NoError(t, err)
	assert.Equal(t, zerolog.DebugLevel, lvl)

	lvl, err = (&Config{}).level()
	require.NoError(t, err)
	assert.Equal(t, zerolog.InfoLevel, lvl)

	lvl, err = (&Config{Level: "warn"}).level()
	require.NoError(t, err)
	assert.Equal(t, zerolog.WarnLevel, lvl)
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer

	log := NewWriterLogger(&buf, zerolog.InfoLevel).WithComponent("discovery")
	log.Info().Str("host", "10.0.0.1").Msg("probing")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "discovery", entry["component"])
	assert.Equal(t, "10.0.0.1", entry["host"])
	assert.Equal(t, "probing", entry["message"])
}

func TestSetDebug(t *testing.T) {
	var buf bytes.Buffer

	log := NewWriterLogger(&buf, zerolog.InfoLevel)
	log.Debug().Msg("hidden")
	assert.Zero(t, buf.Len())

	log.SetDebug(true)
	log.Debug().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestDefaultConfigFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("DEBUG", "yes")
	t.Setenv("LOG_OUTPUT", "stderr")

	cfg := DefaultConfig()
	assert.Equal(t, "warn", cfg.Level)
	assert.True(t, cfg.Debug)
	assert.Equal(t, "stderr", cfg.Output)
}

func TestTestLoggerIsSilent(t *testing.T) {
	log := NewTestLogger()
	assert.NotPanics(t, func() {
		log.Error().Msg("discarded")
		log.WithComponent("x").Info().Msg("discarded")
	})
}
