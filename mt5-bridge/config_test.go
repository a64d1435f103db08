package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestInitConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{"address": "tcp://*:6000", "max-workers": 2}`)

	config, err := InitConfig(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "tcp://*:6000", config.Address)
	assert.Equal(t, 2, config.MaxWorkers)
	assert.Equal(t, "INFO", config.LogLevel)
	assert.Equal(t, "bridge", config.TerminalMode)
	assert.Equal(t, 500, config.CheckpointInterval)
	assert.Equal(t, 8, config.QueueSize)
	assert.Equal(t, 5*time.Second, config.HeartbeatInterval)
	assert.Equal(t, 60*time.Second, config.Retention)
	assert.Equal(t, time.Second, config.CancelGrace)
	assert.Equal(t, 30*time.Second, config.BridgeTimeout)
	assert.Equal(t, "EXTRACTION_EVENTS", config.EventsExchange)
	assert.Equal(t, "none", config.AccountMode)
}

func TestInitConfigShippedFile(t *testing.T) {
	config, err := InitConfig("config.json", nil)
	require.NoError(t, err)
	assert.Equal(t, "tcp://*:5555", config.Address)
	assert.Equal(t, 5*time.Second, config.SweepInterval)
}

func TestInitConfigEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, `{"address": "tcp://*:6000", "log-level": "INFO"}`)
	t.Setenv("MT5_BRIDGE_LOG_LEVEL", "DEBUG")
	t.Setenv("MT5_BRIDGE_TERMINAL_LOGIN", "5001")
	t.Setenv("MT5_BRIDGE_RECONNECT_DELAY", "250ms")

	config, err := InitConfig(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "DEBUG", config.LogLevel)
	assert.Equal(t, int64(5001), config.TerminalLogin)
	assert.Equal(t, 250*time.Millisecond, config.ReconnectDelay)
}

func TestInitConfigFlagsWin(t *testing.T) {
	path := writeConfig(t, `{"address": "tcp://*:6000", "max-workers": 2}`)
	t.Setenv("MT5_BRIDGE_MAX_WORKERS", "3")

	cmd := newServeCommand()
	require.NoError(t, cmd.Flags().Set("max-workers", "6"))
	require.NoError(t, cmd.Flags().Set("terminal-mode", "paper"))

	config, err := InitConfig(path, cmd)
	require.NoError(t, err)
	assert.Equal(t, 6, config.MaxWorkers)
	assert.Equal(t, "paper", config.TerminalMode)
	// unchanged flags do not shadow the file
	assert.Equal(t, "tcp://*:6000", config.Address)
}

func TestInitConfigMissingFile(t *testing.T) {
	wd, wdErr := os.Getwd()
	require.NoError(t, wdErr)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	_, err := InitConfig("", nil)
	assert.EqualError(t, err, "missing required config field: address")

	t.Setenv("MT5_BRIDGE_ADDRESS", "tcp://*:7000")
	config, err := InitConfig("", nil)
	require.NoError(t, err)
	assert.Equal(t, "tcp://*:7000", config.Address)

	_, err = InitConfig(filepath.Join(t.TempDir(), "absent.json"), nil)
	assert.Error(t, err)
}

func TestInitConfigRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"terminal mode":  `{"address": "a", "terminal-mode": "live"}`,
		"account mode":   `{"address": "a", "account-mode": "always"}`,
		"sweep interval": `{"address": "a", "sweep-interval": "0s"}`,
		"attempts":       `{"address": "a", "reconnect-attempts": 0}`,
	}
	for name, body := range cases {
		_, err := InitConfig(writeConfig(t, body), nil)
		assert.Error(t, err, name)
	}
}
