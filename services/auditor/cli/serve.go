package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ramiqadoumi/go-task-kernel/internal/kafka"
	"github.com/ramiqadoumi/go-task-kernel/internal/postgres"
	"github.com/ramiqadoumi/go-task-kernel/pkg/telemetry"
	"github.com/ramiqadoumi/go-task-kernel/services/auditor"
	"github.com/ramiqadoumi/go-task-kernel/services/auditor/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the auditor",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("auditor-id", "", "instance identifier (default: random)")
	serveCmd.Flags().String("kafka-brokers", "localhost:9092", "comma-separated Kafka broker addresses")
	serveCmd.Flags().String("lifecycle-topic", kafka.LifecycleTopic, "Kafka topic carrying lifecycle events")
	serveCmd.Flags().String("group-id", "auditor-group", "Kafka consumer group")
	serveCmd.Flags().Int("max-retries", 3, "retries per failed insert before the event is left for redelivery")
	serveCmd.Flags().Bool("migrate-on-start", false, "apply migrations before consuming")
	serveCmd.Flags().String("metrics-addr", ":9097", "Prometheus metrics server address")
	serveCmd.Flags().String("otel-endpoint", "", "OTLP HTTP endpoint for tracing (e.g. localhost:4318); empty disables tracing")

	bindFlag("auditor_id", serveCmd.Flags(), "auditor-id")
	bindFlag("kafka_brokers", serveCmd.Flags(), "kafka-brokers")
	bindFlag("lifecycle_topic", serveCmd.Flags(), "lifecycle-topic")
	bindFlag("group_id", serveCmd.Flags(), "group-id")
	bindFlag("max_retries", serveCmd.Flags(), "max-retries")
	bindFlag("migrate_on_start", serveCmd.Flags(), "migrate-on-start")
	bindFlag("metrics_addr", serveCmd.Flags(), "metrics-addr")
	bindFlag("otel_endpoint", serveCmd.Flags(), "otel-endpoint")
	_ = viper.BindEnv("otel_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg := config.Load(viper.GetViper())
	auditorID := cfg.AuditorID
	if auditorID == "" {
		auditorID = "auditor-" + uuid.New().String()[:8]
	}
	logger := buildLogger(cfg.LogLevel, "auditor").With(slog.String("auditor_id", auditorID))

	shutdownTracer, err := telemetry.InitTracer(context.Background(), telemetry.TracerConfig{
		ServiceName: "auditor",
		Endpoint:    cfg.OTelEndpoint,
	})
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer shutdownTracer()

	initCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	pool, err := postgres.NewPool(initCtx, cfg.PostgresDSN)
	if err == nil && cfg.MigrateOnStart {
		_, err = postgres.Migrate(initCtx, pool)
	}
	cancel()
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()

	consumer := kafka.NewConsumer(cfg.Brokers(), cfg.LifecycleTopic, cfg.GroupID, logger)
	defer func() { _ = consumer.Close() }()

	a := auditor.NewAuditor(auditorID, consumer, postgres.NewExitRepository(pool),
		auditor.WithLogger(logger),
		auditor.WithRetries(cfg.MaxRetries),
	)

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	telemetry.StartMetricsServer(runCtx, cfg.MetricsAddr, logger, func(ctx context.Context) error {
		return pool.Ping(ctx)
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-quit
		logger.Info("shutting down...")
		runCancel()
	}()

	logger.Info("auditor starting",
		slog.String("topic", cfg.LifecycleTopic),
		slog.String("group_id", cfg.GroupID),
	)
	if err := a.Run(runCtx); err != nil {
		return fmt.Errorf("auditor: %w", err)
	}
	logger.Info("stopped")
	return nil
}
