// Command mt5-bridge serves the MT5 extraction protocol and offers small
// client tools to talk to a running bridge.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/op/go-logging"
	"github.com/spf13/cobra"
)

const logFileName = "mt5-bridge.log"

var log = logging.MustGetLogger("log")

// InitLogger Receives the log level to be set in go-logging as a string. This method
// parses the string and set the level to the logger. If the level string is not
// valid an error is returned. When logsDir is not empty the same records are
// appended to a file there; the returned func releases it.
func InitLogger(logLevel string, logsDir string) (func(), error) {
	format := logging.MustStringFormatter(
		`%{time:2006-01-02 15:04:05} %{level:.5s}     %{message}`,
	)
	backends := []logging.Backend{
		logging.NewBackendFormatter(logging.NewLogBackend(os.Stdout, "", 0), format),
	}

	var file *os.File
	if logsDir != "" {
		f, err := os.OpenFile(filepath.Join(logsDir, logFileName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		file = f
		backends = append(backends, logging.NewBackendFormatter(logging.NewLogBackend(f, "", 0), format))
	}

	backendLeveled := logging.MultiLogger(backends...)
	logLevelCode, err := logging.LogLevel(logLevel)
	if err != nil {
		if file != nil {
			file.Close()
		}
		return nil, err
	}
	backendLeveled.SetLevel(logLevelCode, "")

	// Set the backends to be used.
	logging.SetBackend(backendLeveled)
	return func() {
		if file != nil {
			file.Close()
		}
	}, nil
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "mt5-bridge",
		Short:         "Bridge between MetaTrader 5 and the adherence analysis tools",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCommand())
	root.AddCommand(newRequestCommand())
	root.AddCommand(newEventsCommand())
	return root
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
