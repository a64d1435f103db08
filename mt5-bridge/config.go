package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	configFilePath = "config.json"
	envPrefix      = "MT5_BRIDGE"
)

// Config represents the bridge configuration.
type Config struct {
	Address  string `json:"address" mapstructure:"address"`
	LogLevel string `json:"log-level" mapstructure:"log-level"`
	DataDir  string `json:"data-dir" mapstructure:"data-dir"`

	TerminalMode     string        `json:"terminal-mode" mapstructure:"terminal-mode"`
	BridgeAddress    string        `json:"bridge-address" mapstructure:"bridge-address"`
	BridgeTimeout    time.Duration `json:"bridge-timeout" mapstructure:"bridge-timeout"`
	TerminalPath     string        `json:"terminal-path" mapstructure:"terminal-path"`
	TerminalLogin    int64         `json:"terminal-login" mapstructure:"terminal-login"`
	TerminalPassword string        `json:"terminal-password" mapstructure:"terminal-password"`
	TerminalServer   string        `json:"terminal-server" mapstructure:"terminal-server"`
	PaperDealsFile   string        `json:"paper-deals-file" mapstructure:"paper-deals-file"`

	CheckpointInterval int           `json:"checkpoint-interval" mapstructure:"checkpoint-interval"`
	HeartbeatInterval  time.Duration `json:"heartbeat-interval" mapstructure:"heartbeat-interval"`
	ReconnectAttempts  int           `json:"reconnect-attempts" mapstructure:"reconnect-attempts"`
	ReconnectDelay     time.Duration `json:"reconnect-delay" mapstructure:"reconnect-delay"`
	CancelGrace        time.Duration `json:"cancel-grace" mapstructure:"cancel-grace"`
	Retention          time.Duration `json:"retention" mapstructure:"retention"`
	SweepInterval      time.Duration `json:"sweep-interval" mapstructure:"sweep-interval"`
	MaxWorkers         int           `json:"max-workers" mapstructure:"max-workers"`
	QueueSize          int           `json:"queue-size" mapstructure:"queue-size"`

	MetricsAddress string `json:"metrics-address" mapstructure:"metrics-address"`
	EventsAddress  string `json:"events-address" mapstructure:"events-address"`
	EventsExchange string `json:"events-exchange" mapstructure:"events-exchange"`

	AccountMode    string `json:"account-mode" mapstructure:"account-mode"`
	PreferencePath string `json:"preference-path" mapstructure:"preference-path"`
}

var requiredFields = []string{
	"address",
}

// field: default value
var optionalFields = map[string]interface{}{
	"log-level":           "INFO",
	"data-dir":            "./data",
	"terminal-mode":       "bridge",
	"bridge-address":      "http://127.0.0.1:8788",
	"bridge-timeout":      "30s",
	"terminal-path":       "",
	"terminal-login":      0,
	"terminal-password":   "",
	"terminal-server":     "",
	"paper-deals-file":    "",
	"checkpoint-interval": 500,
	"heartbeat-interval":  "5s",
	"reconnect-attempts":  3,
	"reconnect-delay":     "5s",
	"cancel-grace":        "1s",
	"retention":           "60s",
	"sweep-interval":      "5s",
	"max-workers":         4,
	"queue-size":          8,
	"metrics-address":     "",
	"events-address":      "",
	"events-exchange":     "EXTRACTION_EVENTS",
	"account-mode":        "none",
	"preference-path":     "",
}

// InitConfig reads configuration from a JSON file, environment variables
// (MT5_BRIDGE_<KEY>) and the command flags, in increasing precedence. A
// missing file is only an error when path was given explicitly.
func InitConfig(path string, cmd *cobra.Command) (*Config, error) {
	v := viper.New()

	explicit := path != ""
	if !explicit {
		path = configFilePath
	}
	v.SetConfigFile(path)
	v.SetConfigType("json")

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	for _, field := range requiredFields {
		v.BindEnv(field)
	}
	for optField, defaultValue := range optionalFields {
		v.BindEnv(optField)
		v.SetDefault(optField, defaultValue)
	}

	if cmd != nil {
		for _, field := range append(append([]string{}, requiredFields...), keys(optionalFields)...) {
			if flag := cmd.Flags().Lookup(field); flag != nil {
				if err := v.BindPFlag(field, flag); err != nil {
					return nil, fmt.Errorf("could not bind flag %s: %w", field, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("could not read config: %w", err)
		}
		log.Debugf("No %s found, using environment and flags", path)
	}

	for _, field := range requiredFields {
		if !v.IsSet(field) {
			return nil, fmt.Errorf("missing required config field: %s", field)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("could not unmarshal config: %w", err)
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func keys(m map[string]interface{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func (c *Config) validate() error {
	switch c.TerminalMode {
	case "bridge", "paper":
	default:
		return fmt.Errorf("terminal-mode must be bridge or paper, got %q", c.TerminalMode)
	}
	switch c.AccountMode {
	case "none", "auto":
	default:
		return fmt.Errorf("account-mode must be none or auto, got %q", c.AccountMode)
	}
	for name, d := range map[string]time.Duration{
		"heartbeat-interval": c.HeartbeatInterval,
		"sweep-interval":     c.SweepInterval,
		"retention":          c.Retention,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %v", name, d)
		}
	}
	if c.ReconnectAttempts < 1 {
		return fmt.Errorf("reconnect-attempts must be at least 1, got %d", c.ReconnectAttempts)
	}
	return nil
}
