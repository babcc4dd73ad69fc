package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	apiserver "github.com/openlibris/catalog-storage/internal/api_server"
	"github.com/openlibris/catalog-storage/internal/bus"
	"github.com/openlibris/catalog-storage/internal/config"
	"github.com/openlibris/catalog-storage/internal/events"
	"github.com/openlibris/catalog-storage/internal/export"
	"github.com/openlibris/catalog-storage/internal/jobs"
	"github.com/openlibris/catalog-storage/internal/store"
	"github.com/openlibris/catalog-storage/internal/streaming"
	"github.com/openlibris/catalog-storage/internal/taskpool"
	"github.com/openlibris/catalog-storage/pkg/log"
	"github.com/openlibris/catalog-storage/pkg/metrics"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the catalog storage api",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			zap.S().Fatalw("reading configuration", "error", err)
		}

		logLvl, err := zap.ParseAtomicLevel(cfg.Service.LogLevel)
		if err != nil {
			logLvl = zap.NewAtomicLevelAt(zapcore.InfoLevel)
		}

		logger := log.InitLog(logLvl)
		defer func() { _ = logger.Sync() }()

		undo := zap.ReplaceGlobals(logger)
		defer undo()

		zap.S().Info("Starting API service")
		defer zap.S().Info("API service stopped")

		zap.S().Info("Initializing data store")
		db, err := store.InitDB(cfg)
		if err != nil {
			zap.S().Fatalw("initializing data store", "error", err)
		}

		s := store.NewStore(db)
		defer s.Close()

		if err := s.InitialMigration(); err != nil {
			zap.S().Fatalw("running initial migration", "error", err)
		}

		producer := newProducer(cfg)
		defer func() {
			if err := producer.Close(); err != nil {
				zap.S().Errorw("failed to close bus producer", "error", err)
			}
		}()

		eventProducer := events.NewEventProducer(
			events.NewBusWriter(producer),
			events.WithOutputTopic(cfg.Service.Kafka.NotificationTopic),
		)
		defer func() {
			if err := eventProducer.Close(); err != nil {
				zap.S().Errorw("failed to close event producer", "error", err)
			}
		}()

		metrics.RegisterMetrics()

		jobPool := taskpool.New(int64(cfg.Service.Jobs.Workers))
		ioPool := taskpool.New(int64(cfg.Service.Jobs.Workers))

		publisher := streaming.NewPublisher(producer)
		exporter := newExporter(cfg, ioPool, eventProducer)

		runner := jobs.NewRunner(s, publisher, exporter, jobPool, eventProducer, jobs.RunnerConfig{
			RecordTopicPrefix: cfg.Service.Kafka.RecordTopicPrefix,
			CheckpointEvery:   cfg.Service.Jobs.CheckpointEvery,
		})

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
		defer cancel()

		listener, err := newListener(cfg.Service.Address)
		if err != nil {
			zap.S().Fatalw("creating listener", "error", err)
		}

		server := apiserver.New(cfg, s, runner, listener)
		runErr := server.Run(ctx)

		// let queued and running jobs drain before the deferred closes tear
		// down the producer and the store
		zap.S().Info("Waiting for running jobs")
		runner.Wait()

		if runErr != nil {
			zap.S().Fatalw("running server", "error", runErr)
		}

		return nil
	},
}

func newProducer(cfg *config.Config) bus.Producer {
	if len(cfg.Service.Kafka.Brokers) == 0 {
		zap.S().Warn("no kafka brokers configured, using stdout producer")
		return &bus.StdoutProducer{}
	}

	producer, err := bus.NewKafkaProducer(bus.KafkaConfig{
		Brokers:     cfg.Service.Kafka.Brokers,
		ClientID:    cfg.Service.Kafka.ClientID,
		Version:     cfg.Service.Kafka.Version,
		MaxInFlight: cfg.Service.Kafka.MaxInFlight,
	})
	if err != nil {
		zap.S().Fatalw("creating kafka producer", "error", err)
	}
	return producer
}

func newExporter(cfg *config.Config, pool *taskpool.Pool, sink export.NotificationSink) *export.Orchestrator {
	if cfg.Service.Storage.Endpoint == "" {
		zap.S().Warn("no object storage endpoint configured, bulk export disabled")
		return nil
	}

	objectStore, err := export.NewMinioStore(
		export.WithEndpoint(cfg.Service.Storage.Endpoint),
		export.WithBucket(cfg.Service.Storage.Bucket),
		export.WithAccessKey(cfg.Service.Storage.AccessKey),
		export.WithSecretKey(cfg.Service.Storage.SecretKey),
		export.WithSSL(cfg.Service.Storage.UseSSL),
	)
	if err != nil {
		zap.S().Fatalw("creating object store client", "error", err)
	}

	uploader := export.NewUploader(objectStore, pool, cfg.Service.Storage.PartSize, cfg.Service.Storage.TmpDir)
	return export.NewOrchestrator(uploader, sink, cfg.Service.Storage.Bucket)
}

func newListener(address string) (net.Listener, error) {
	if address == "" {
		address = "localhost:0"
	}
	return net.Listen("tcp", address)
}
