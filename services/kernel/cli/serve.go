package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ramiqadoumi/go-task-kernel/internal/api"
	"github.com/ramiqadoumi/go-task-kernel/internal/clock"
	"github.com/ramiqadoumi/go-task-kernel/internal/exporter"
	"github.com/ramiqadoumi/go-task-kernel/internal/kafka"
	"github.com/ramiqadoumi/go-task-kernel/internal/kernel"
	redisstore "github.com/ramiqadoumi/go-task-kernel/internal/redis"
	"github.com/ramiqadoumi/go-task-kernel/internal/syscalls"
	"github.com/ramiqadoumi/go-task-kernel/internal/workload"
	"github.com/ramiqadoumi/go-task-kernel/pkg/telemetry"
	"github.com/ramiqadoumi/go-task-kernel/services/kernel/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the kernel with its introspection API, snapshot exporter and event stream",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("kernel-id", "", "kernel identifier used in events and cache keys (default: random)")
	serveCmd.Flags().Bool("auto-reap", false, "free a task's slot as soon as it exits")
	serveCmd.Flags().Duration("idle-interval", 50*time.Millisecond, "poll interval when no task is Ready")
	serveCmd.Flags().String("manifest", "", "workload manifest spawned at startup")
	serveCmd.Flags().String("http-addr", ":8080", "introspection API address")
	serveCmd.Flags().String("grpc-addr", ":9090", "gRPC health and reflection address; empty disables")
	serveCmd.Flags().String("metrics-addr", ":9096", "Prometheus metrics server address")
	serveCmd.Flags().String("kafka-brokers", "localhost:9092", "comma-separated Kafka brokers; empty disables lifecycle events")
	serveCmd.Flags().String("lifecycle-topic", kafka.LifecycleTopic, "Kafka topic for lifecycle events")
	serveCmd.Flags().String("redis-addr", "localhost:6379", "Redis address; empty disables the snapshot cache and rate limiting")
	serveCmd.Flags().Duration("snapshot-ttl", 10*time.Minute, "lifetime of cached snapshots")
	serveCmd.Flags().String("export-schedule", exporter.DefaultSchedule, "cron schedule for snapshot export")
	serveCmd.Flags().Int("rate-limit", 100, "API requests per client per window")
	serveCmd.Flags().Duration("rate-window", time.Second, "API rate limit window")
	serveCmd.Flags().String("otel-endpoint", "", "OTLP HTTP endpoint for tracing (e.g. localhost:4318); empty disables tracing")
	serveCmd.Flags().Float64("trace-sample-ratio", 1, "fraction of traces sampled")

	bindFlag("kernel_id", serveCmd.Flags(), "kernel-id")
	bindFlag("auto_reap", serveCmd.Flags(), "auto-reap")
	bindFlag("idle_interval", serveCmd.Flags(), "idle-interval")
	bindFlag("manifest", serveCmd.Flags(), "manifest")
	bindFlag("http_addr", serveCmd.Flags(), "http-addr")
	bindFlag("grpc_addr", serveCmd.Flags(), "grpc-addr")
	bindFlag("metrics_addr", serveCmd.Flags(), "metrics-addr")
	bindFlag("kafka_brokers", serveCmd.Flags(), "kafka-brokers")
	bindFlag("lifecycle_topic", serveCmd.Flags(), "lifecycle-topic")
	bindFlag("redis_addr", serveCmd.Flags(), "redis-addr")
	bindFlag("snapshot_ttl", serveCmd.Flags(), "snapshot-ttl")
	bindFlag("export_schedule", serveCmd.Flags(), "export-schedule")
	bindFlag("rate_limit", serveCmd.Flags(), "rate-limit")
	bindFlag("rate_window", serveCmd.Flags(), "rate-window")
	bindFlag("otel_endpoint", serveCmd.Flags(), "otel-endpoint")
	bindFlag("trace_sample_ratio", serveCmd.Flags(), "trace-sample-ratio")
	_ = viper.BindEnv("otel_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg := config.Load(viper.GetViper())
	logger := buildLogger(cfg.LogLevel, "kernel")

	shutdownTracer, err := telemetry.InitTracer(context.Background(), telemetry.TracerConfig{
		ServiceName: "kernel",
		Endpoint:    cfg.OTelEndpoint,
		SampleRatio: cfg.TraceSampleRatio,
	})
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer shutdownTracer()

	// ── task table ───────────────────────────────────────────────────────────
	clk := clock.NewBoot()
	table := kernel.NewTable(cfg.Capacity, clk)
	if cfg.Manifest != "" {
		m, err := workload.Load(cfg.Manifest)
		if err != nil {
			return err
		}
		ids, err := m.SpawnAll(table)
		if err != nil {
			return err
		}
		logger.Info("manifest loaded", slog.String("path", cfg.Manifest), slog.Int("tasks", len(ids)))
	}

	kernelID := cfg.KernelID
	if kernelID == "" {
		kernelID = "kernel-" + uuid.New().String()[:8]
	}
	logger = logger.With(slog.String("kernel_id", kernelID))

	// ── redis: snapshot cache, exporter, rate limiter ────────────────────────
	var (
		checks  []telemetry.ReadyCheck
		store   redisstore.SnapshotStore
		limiter redisstore.RateLimiter
		exp     *exporter.Exporter
	)
	if cfg.RedisAddr != "" {
		redisClient := redisstore.NewClient(cfg.RedisAddr)
		defer func() { _ = redisClient.Close() }()
		checks = append(checks, func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })

		store = redisstore.NewSnapshotStore(redisClient, cfg.SnapshotTTL)
		limiter = redisstore.NewRateLimiter(redisClient, cfg.RateLimit, cfg.RateWindow)
		exp, err = exporter.New(table, store, kernelID,
			exporter.WithSchedule(cfg.ExportSchedule),
			exporter.WithLogger(logger),
		)
		if err != nil {
			return err
		}
	}

	// ── scheduler ────────────────────────────────────────────────────────────
	dispatcher := syscalls.NewDispatcher(syscalls.NewDefaultRegistry(os.Stderr, clk), logger)
	opts := []kernel.Option{
		kernel.WithKernelID(kernelID),
		kernel.WithLogger(logger),
		kernel.WithStrictTransitions(cfg.StrictTransitions),
		kernel.WithAutoReap(cfg.AutoReap),
		kernel.WithIdleInterval(cfg.IdleInterval),
		kernel.WithObserver(kernel.LogObserver{Logger: logger}),
		kernel.WithObserver(kernel.MetricsObserver{}),
	}
	if exp != nil {
		// Reaped tasks stay readable through the cache with their Exited view.
		opts = append(opts, kernel.WithOnReap(func(ctx context.Context, v kernel.TaskView) {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := exp.ExportFinal(ctx, v); err != nil {
				logger.Warn("final snapshot not cached", slog.Int("task_id", v.ID), slog.String("error", err.Error()))
			}
		}))
	}
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		producer := kafka.NewProducer(brokers)
		defer func() { _ = producer.Close() }()
		opts = append(opts, kernel.WithObserver(kafka.NewEventPublisher(producer,
			kafka.WithTopic(cfg.LifecycleTopic),
			kafka.WithPublisherLogger(logger),
		)))
	}
	sched := kernel.NewScheduler(table, dispatcher, opts...)

	// ── HTTP API ─────────────────────────────────────────────────────────────
	restOpts := []api.Option{api.WithLogger(logger), api.WithReadyChecks(checks...)}
	if store != nil {
		restOpts = append(restOpts, api.WithCache(store))
	}
	var rl redisstore.RateLimiter
	if limiter != nil && cfg.RateLimit > 0 {
		rl = limiter
	}
	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api.NewRouter(api.NewREST(table, kernelID, restOpts...), rl, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	var grpcSrv *api.GRPCServer
	var grpcLis net.Listener
	if cfg.GRPCAddr != "" {
		grpcSrv = api.NewGRPCServer(api.WithHealthChecks(checks...), api.WithGRPCLogger(logger))
		grpcLis, err = net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
	}

	// ── run ──────────────────────────────────────────────────────────────────
	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	telemetry.StartMetricsServer(runCtx, cfg.MetricsAddr, logger, checks...)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sched.Run(runCtx); err != nil {
			logger.Error("scheduler stopped", slog.String("error", err.Error()))
			runCancel()
		}
	}()
	if exp != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			exp.Run(runCtx)
		}()
	}

	go func() {
		logger.Info("kernel API starting", slog.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", slog.String("error", err.Error()))
			runCancel()
		}
	}()

	if grpcSrv != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Info("kernel gRPC starting", slog.String("addr", grpcLis.Addr().String()))
			if err := grpcSrv.Serve(runCtx, grpcLis); err != nil {
				logger.Error("gRPC server error", slog.String("error", err.Error()))
				runCancel()
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	select {
	case <-quit:
	case <-runCtx.Done():
	}
	logger.Info("shutting down...")
	runCancel()

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutCancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		logger.Error("HTTP shutdown error", slog.String("error", err.Error()))
	}
	wg.Wait()
	logger.Info("stopped")
	return nil
}
