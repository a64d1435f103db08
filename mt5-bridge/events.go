package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/RaelFilh96/Analise-de-Aderencia/jobs"
	mw "github.com/RaelFilh96/Analise-de-Aderencia/middleware"
)

func newEventsCommand() *cobra.Command {
	var address, exchange string
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print extraction lifecycle events published by a bridge",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if address == "" {
				address = os.Getenv(envPrefix + "_EVENTS_ADDRESS")
			}
			if address == "" {
				return fmt.Errorf("no events address: use --events-address or %s_EVENTS_ADDRESS", envPrefix)
			}
			return tailEvents(address, exchange, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&address, "events-address", "", "AMQP url of the events broker")
	cmd.Flags().StringVar(&exchange, "events-exchange", "EXTRACTION_EVENTS", "exchange the bridge publishes to")
	return cmd
}

func tailEvents(address, exchange string, out io.Writer) error {
	conn, err := mw.Dial(address)
	if err != nil {
		return err
	}
	defer conn.Close()

	consumer, err := mw.NewConsumer(conn, "", exchange)
	if err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		consumer.StopConsuming()
	}()

	if err := consumer.StartConsuming(printEvent(out)); err != nil {
		consumer.Close()
		return err
	}
	consumer.Close()
	return nil
}

func printEvent(out io.Writer) mw.OnMessageCallback {
	return func(msg mw.MiddlewareMessage, done chan *mw.MessageMiddlewareError) {
		var ev jobs.Event
		if err := json.Unmarshal(msg.Body, &ev); err != nil {
			log.Warningf("Skipping undecodable event: %v", err)
			done <- nil
			return
		}
		line := fmt.Sprintf("%s %-22s %s status=%s", ev.At, ev.Type, ev.ExtractID, ev.Status)
		if ev.Operations > 0 {
			line += fmt.Sprintf(" operations=%d", ev.Operations)
		}
		if ev.Error != "" {
			line += " error=" + ev.Error
		}
		fmt.Fprintln(out, line)
		done <- nil
	}
}
