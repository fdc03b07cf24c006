package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/skybridge/bridge/internal/archive"
	"github.com/telhawk-systems/skybridge/bridge/internal/attributes"
	"github.com/telhawk-systems/skybridge/bridge/internal/blockstore"
	"github.com/telhawk-systems/skybridge/bridge/internal/complexevent"
	"github.com/telhawk-systems/skybridge/bridge/internal/config"
	"github.com/telhawk-systems/skybridge/bridge/internal/dlq"
	"github.com/telhawk-systems/skybridge/bridge/internal/engine"
	"github.com/telhawk-systems/skybridge/bridge/internal/listener"
	"github.com/telhawk-systems/skybridge/bridge/internal/parser"
	"github.com/telhawk-systems/skybridge/bridge/internal/results"
	"github.com/telhawk-systems/skybridge/bridge/internal/schema"
	"github.com/telhawk-systems/skybridge/bridge/internal/server"
	"github.com/telhawk-systems/skybridge/bridge/internal/stats"
	"github.com/telhawk-systems/skybridge/bridge/internal/transport"
	"github.com/telhawk-systems/skybridge/common/logging"

	natsclient "github.com/telhawk-systems/skybridge/common/messaging/nats"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Run the firehose listener and, when enabled, the results consumer",
	Long: `Connect to the firehose, encode every created post, like, repost,
follow, block and profile update, and hand the vectors to the engine.

With results.enabled the bridge also consumes complex-event exports,
decodes them, and forwards them to OpenSearch, Redis stats and the DLQ
as configured. Stops cleanly on SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runListen,
}

func init() {
	rootCmd.AddCommand(listenCmd)
}

func runListen(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := newLogger(cmd, cfg)
	logging.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := schema.Default()
	table := attributes.DefaultTable()
	if err := attributes.VerifyRegistry(reg, table); err != nil {
		return fmt.Errorf("encoders disagree with the schema registry: %w", err)
	}
	catalog := engine.NewCatalog(reg)

	logger.Info("Starting bridge",
		"firehose_url", cfg.Firehose.URL,
		"engine_sink", cfg.Engine.Sink,
		"results_enabled", cfg.Results.Enabled,
		"log_level", cfg.Logging.Level,
	)

	var js *natsclient.JetStreamClient
	if cfg.UsesNATS() {
		js, err = natsclient.NewJetStreamClient(natsclient.Config{
			URL:           cfg.NATS.URL,
			Name:          cfg.NATS.Name,
			MaxReconnects: cfg.NATS.MaxReconnects,
			ReconnectWait: cfg.NATS.ReconnectWait,
			Timeout:       cfg.NATS.Timeout,
			Username:      cfg.NATS.Username,
			Password:      cfg.NATS.Password,
			Token:         cfg.NATS.Token,
			Logger:        logger,
		})
		if err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		defer func() {
			if err := js.Drain(); err != nil {
				logger.Warn("NATS drain failed", logging.Error(err))
			}
		}()
		logger.Info("Connected to NATS", "url", cfg.NATS.URL)
	}

	sink, err := newSink(ctx, cfg, js, logger)
	if err != nil {
		return err
	}
	defer sink.Close()

	if err := sink.Declare(ctx, reg.DDL()); err != nil {
		return fmt.Errorf("declare streams: %w", err)
	}

	var collector *stats.Collector
	if cfg.Redis.Enabled {
		hostname, _ := os.Hostname()
		instanceID := fmt.Sprintf("%s-%d", hostname, os.Getpid())

		statsClient, err := stats.NewClient(ctx, cfg.Redis.URL, instanceID)
		if err != nil {
			logger.Warn("Usage stats disabled", logging.Error(err))
		} else {
			collector = stats.NewCollector(statsClient, cfg.Stats.FlushInterval, logger)
			defer statsClient.Close()
			defer collector.Stop()
			logger.Info("Usage stats enabled", "flush_interval", cfg.Stats.FlushInterval, "instance", instanceID)
		}
	}

	var deadLetters *dlq.Queue
	if cfg.DLQ.Enabled {
		deadLetters, err = dlq.NewJetStreamQueue(ctx, js, logger)
		if err != nil {
			return fmt.Errorf("initialize DLQ: %w", err)
		}
	}

	if cfg.Results.Enabled {
		stopResults, err := startResults(ctx, cfg, js, reg, catalog, collector, deadLetters, logger)
		if err != nil {
			return err
		}
		defer stopResults()
	}

	deps := listener.Deps{
		Dialer: transport.NewDialer(transport.Config{
			URL:              cfg.Firehose.URL,
			ReadLimit:        cfg.Firehose.ReadLimit,
			HandshakeTimeout: cfg.Firehose.HandshakeTimeout,
			ReadTimeout:      cfg.Firehose.ReadTimeout,
			PingInterval:     cfg.Firehose.PingInterval,
		}),
		Sink:    sink,
		Store:   blockstore.New(blockstore.WithLimits(cfg.BlockStore.MaxEntries, cfg.BlockStore.EvictCount)),
		Table:   table,
		Catalog: catalog,
		Logger:  logger,
	}
	if collector != nil {
		deps.Usage = collector
	}
	l := listener.New(listener.Config{
		SummaryEvery:     cfg.Listener.SummaryEvery,
		FrameLogEvery:    cfg.Listener.FrameLogEvery,
		ClosedRetryDelay: cfg.Firehose.ClosedRetryDelay,
		ErrorRetryDelay:  cfg.Firehose.ErrorRetryDelay,
	}, deps)

	var srv *http.Server
	if cfg.Metrics.Enabled {
		routerDeps := server.Deps{Listener: l, Logger: logger}
		if js != nil {
			routerDeps.Broker = js
		}
		if deadLetters != nil {
			routerDeps.DLQ = deadLetters
		}
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler:           server.NewRouter(routerDeps),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("Ops server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Ops server failed", logging.Error(err))
			}
		}()
	}

	runErr := l.Run(ctx)

	logger.Info("Shutting down", "stats", l.Stats())
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Ops server forced to shutdown", logging.Error(err))
		}
	}
	return runErr
}

func newSink(ctx context.Context, cfg *config.Config, js *natsclient.JetStreamClient, logger *logging.Logger) (engine.Sink, error) {
	if cfg.Engine.Sink != "nats" {
		return engine.NewLogSink(logger), nil
	}
	if cfg.Engine.JetStream {
		if _, err := js.CreateOrUpdateStream(ctx, natsclient.EngineEventsStream); err != nil {
			return nil, fmt.Errorf("engine events stream: %w", err)
		}
	}
	return engine.NewNATSSink(js, cfg.Engine.SubjectPrefix), nil
}

func startResults(
	ctx context.Context,
	cfg *config.Config,
	js *natsclient.JetStreamClient,
	reg *schema.Registry,
	catalog *engine.Catalog,
	collector *stats.Collector,
	deadLetters *dlq.Queue,
	logger *logging.Logger,
) (func(), error) {
	deps := results.Deps{
		Decoder: complexevent.NewDecoder(catalog, parser.New(reg, parser.WithMaxLineBytes(cfg.Parser.MaxLineBytes))),
		Logger:  logger,
	}
	if collector != nil {
		deps.Usage = collector
	}
	if deadLetters != nil {
		deps.DLQ = deadLetters
	}
	if cfg.Results.Print {
		deps.Output = os.Stdout
	}

	if cfg.OpenSearch.Enabled {
		client, err := archive.NewClient(archive.Config{
			URL:             cfg.OpenSearch.URL,
			Username:        cfg.OpenSearch.Username,
			Password:        cfg.OpenSearch.Password,
			TLSSkipVerify:   cfg.OpenSearch.TLSSkipVerify,
			IndexPrefix:     cfg.OpenSearch.IndexPrefix,
			ShardCount:      cfg.OpenSearch.ShardCount,
			ReplicaCount:    cfg.OpenSearch.ReplicaCount,
			RefreshInterval: cfg.OpenSearch.RefreshInterval,
		}, logger)
		if err != nil {
			return nil, err
		}
		initCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
		if err := client.Initialize(initCtx); err != nil {
			logger.Warn("OpenSearch initialization failed; complex events may fail to index", logging.Error(err))
		}
		cancel()
		deps.Archive = client
	}

	consumer, err := results.New(deps)
	if err != nil {
		return nil, err
	}

	switch cfg.Results.Mode {
	case "jetstream":
		return consumer.Consume(ctx, js, cfg.Results.Consumer)
	default:
		sub, err := consumer.Subscribe(js, cfg.Results.Subject, cfg.Results.Queue)
		if err != nil {
			return nil, err
		}
		return func() { _ = sub.Unsubscribe() }, nil
	}
}
