package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/RaelFilh96/Analise-de-Aderencia/dispatcher"
	"github.com/RaelFilh96/Analise-de-Aderencia/extraction"
	"github.com/RaelFilh96/Analise-de-Aderencia/jobs"
	"github.com/RaelFilh96/Analise-de-Aderencia/metrics"
	"github.com/RaelFilh96/Analise-de-Aderencia/middleware"
	"github.com/RaelFilh96/Analise-de-Aderencia/persistance"
	"github.com/RaelFilh96/Analise-de-Aderencia/preferences"
	"github.com/RaelFilh96/Analise-de-Aderencia/session"
	"github.com/RaelFilh96/Analise-de-Aderencia/terminal"
)

const metricsShutdownTimeout = 5 * time.Second

func newServeCommand() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge: request endpoint, heartbeat and extraction workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			config, err := InitConfig(configPath, cmd)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			layout := persistance.NewLayout(config.DataDir)
			if err := layout.Ensure(); err != nil {
				return fmt.Errorf("failed to create data directories: %w", err)
			}
			closeLog, err := InitLogger(config.LogLevel, layout.Logs)
			if err != nil {
				return err
			}
			defer closeLog()

			log.Debugf("Config: %+v", redacted(*config))
			return serve(cmd.Context(), config, layout)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configPath, "config", "", "config file (default ./config.json)")
	flags.String("address", "", "REP endpoint to bind, e.g. tcp://*:5555")
	flags.String("log-level", "", "log level (DEBUG, INFO, WARNING, ERROR)")
	flags.String("data-dir", "", "root of the data directory")
	flags.String("terminal-mode", "", "bridge or paper")
	flags.String("bridge-address", "", "address of the MT5 sidecar")
	flags.String("paper-deals-file", "", "JSON deals served in paper mode")
	flags.Int("max-workers", 0, "number of extraction workers")
	flags.String("metrics-address", "", "serve /metrics and /healthz on this address")
	flags.String("events-address", "", "AMQP url for extraction lifecycle events")
	flags.String("account-mode", "", "none or auto")
	return cmd
}

func redacted(c Config) Config {
	if c.TerminalPassword != "" {
		c.TerminalPassword = "***"
	}
	return c
}

func newTerminal(config *Config) (terminal.Terminal, error) {
	if config.TerminalMode == "paper" {
		var deals []terminal.Deal
		if config.PaperDealsFile != "" {
			loaded, err := terminal.LoadPaperDeals(config.PaperDealsFile)
			if err != nil {
				return nil, err
			}
			deals = loaded
		}
		log.Infof("Using paper terminal with %d deals", len(deals))
		return terminal.NewPaper(nil, deals), nil
	}
	log.Infof("Using MT5 sidecar at %s", config.BridgeAddress)
	return terminal.NewBridge(config.BridgeAddress, config.BridgeTimeout), nil
}

// newEventSink connects the lifecycle event producer. Without an events
// address every event is dropped.
func newEventSink(config *Config) (jobs.EventSink, func(), error) {
	if config.EventsAddress == "" {
		return jobs.NopEvents{}, func() {}, nil
	}
	conn, err := middleware.Dial(config.EventsAddress)
	if err != nil {
		return nil, nil, err
	}
	producer, err := middleware.NewProducer(conn, config.EventsExchange)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	log.Infof("Publishing extraction events to exchange %s", config.EventsExchange)
	return jobs.NewBrokerEvents(producer), func() {
		producer.Close()
		conn.Close()
	}, nil
}

// selectSavedAccount connects and switches to the saved preference. Failures
// are logged and leave selection to the client.
func selectSavedAccount(ctx context.Context, sup *session.Supervisor, prefs *preferences.Store, config *Config) {
	pref, err := prefs.Load("")
	if err != nil {
		log.Warningf("Could not load account preference: %v", err)
		return
	}
	if pref == nil {
		log.Infof("No saved account preference, waiting for the client to select one")
		return
	}
	if err := sup.Reconnect(ctx, config.ReconnectAttempts, config.ReconnectDelay); err != nil {
		log.Warningf("MT5 unavailable at startup: %v", err)
		return
	}
	if err := sup.SelectAccount(ctx, pref.Login, "", pref.Server); err != nil {
		log.Warningf("Could not select saved account %d: %v", pref.Login, err)
		return
	}
	log.Infof("Selected saved account %d", pref.Login)
}

func serve(ctx context.Context, config *Config, layout persistance.Layout) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	term, err := newTerminal(config)
	if err != nil {
		return fmt.Errorf("failed to create terminal: %w", err)
	}
	sup := session.NewSupervisor(term, session.ConnectParams{
		Path:     config.TerminalPath,
		Login:    config.TerminalLogin,
		Password: config.TerminalPassword,
		Server:   config.TerminalServer,
	})
	sup.OnStateChange(func(s session.State) {
		metrics.SetSessionConnected(s == session.Connected)
	})

	checkpoints := persistance.NewCheckpointStore(layout.Checkpoints)
	results := persistance.NewExtractionStore(layout.Extractions)
	engine := extraction.NewEngine(sup, checkpoints, results)
	registry := jobs.NewRegistry(config.Retention, checkpoints, results)
	pool := jobs.NewPool(config.MaxWorkers, config.QueueSize)

	events, closeEvents, err := newEventSink(config)
	if err != nil {
		pool.Close()
		return fmt.Errorf("failed to connect events broker: %w", err)
	}
	defer closeEvents()

	svc := jobs.NewService(registry, pool, engine, events, config.CheckpointInterval, config.CancelGrace)
	defer svc.Close()

	prefs := preferences.NewStore(config.PreferencePath)
	if config.AccountMode == "auto" {
		selectSavedAccount(ctx, sup, prefs, config)
	}

	transport, err := dispatcher.ListenZmq(ctx, config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	server := dispatcher.NewServer(transport, dispatcher.NewDispatcher(sup, svc, prefs))
	heartbeat := dispatcher.NewHeartbeat(sup, config.HeartbeatInterval, config.ReconnectDelay)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error { return heartbeat.Run(gctx) })
	g.Go(func() error { return registry.RunSweeper(gctx, config.SweepInterval) })
	g.Go(func() error {
		<-gctx.Done()
		if err := transport.Close(); err != nil {
			log.Debugf("Closing transport: %v", err)
		}
		return nil
	})

	if config.MetricsAddress != "" {
		srv := &http.Server{Addr: config.MetricsAddress, Handler: metrics.Handler()}
		g.Go(func() error {
			log.Infof("Serving metrics on %s", config.MetricsAddress)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	log.Infof("MT5 bridge ready on %s", config.Address)
	err = g.Wait()
	log.Infof("Shutting down MT5 bridge")
	svc.Close()
	sup.Disconnect(context.Background())
	return err
}
