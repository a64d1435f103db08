package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/RaelFilh96/Analise-de-Aderencia/dispatcher"
)

func newRequestCommand() *cobra.Command {
	var (
		address string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "request <action> [key=value...]",
		Short: "Send one request to a running bridge and print the reply",
		Example: `  mt5-bridge request status
  mt5-bridge request extract start_date=2024-01-01 end_date=2024-03-31
  mt5-bridge request select_account login=5001 server=Demo-Server`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := buildRequest(args[0], args[1:])
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			reply, err := dispatcher.Call(ctx, address, payload)
			if err != nil {
				return err
			}
			var pretty bytes.Buffer
			if err := json.Indent(&pretty, reply, "", "  "); err != nil {
				pretty.Reset()
				pretty.Write(reply)
			}
			fmt.Fprintln(cmd.OutOrStdout(), pretty.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&address, "address", "tcp://127.0.0.1:5555", "bridge endpoint")
	cmd.Flags().DurationVar(&timeout, "timeout", 60*time.Second, "how long to wait for the reply")
	return cmd
}

// buildRequest turns key=value pairs into a request object. Values that
// parse as JSON numbers, booleans or null keep that type; anything else is
// sent as a string.
func buildRequest(action string, pairs []string) ([]byte, error) {
	req := map[string]any{
		"action":    action,
		"requestId": uuid.NewString(),
	}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("argument %q is not key=value", pair)
		}
		req[key] = parseValue(value)
	}
	return json.Marshal(req)
}

func parseValue(value string) any {
	dec := json.NewDecoder(strings.NewReader(value))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return value
	}
	switch v.(type) {
	case json.Number, bool, nil:
		return v
	}
	return value
}
