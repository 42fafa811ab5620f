package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/jewelry/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/jewelry/internal/health"
	"github.com/vladislavdragonenkov/jewelry/internal/metrics"
	"github.com/vladislavdragonenkov/jewelry/internal/service/catalog"
	"github.com/vladislavdragonenkov/jewelry/internal/service/idempotency"
	"github.com/vladislavdragonenkov/jewelry/internal/service/outbox"
	"github.com/vladislavdragonenkov/jewelry/internal/service/rest"
	"github.com/vladislavdragonenkov/jewelry/internal/version"
)

const (
	// grpcServiceName публикуется в gRPC health наряду с пустым именем.
	grpcServiceName   = "jewelry.catalog"
	readHeaderTimeout = 5 * time.Second
)

// Run поднимает REST API, метрики, gRPC health и фоновые воркеры до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	broker, err := initMessaging(cfg.KafkaBrokers, logger)
	if err != nil {
		logger.WithError(err).Warn("kafka недоступна, продолжаем без публикации событий")
	}
	defer broker.close(logger)

	outboxRepo := deps.outbox
	if !broker.enabled() && deps.closeFn == nil {
		// Без брокера in-memory outbox некому вычитывать.
		logger.Warn("kafka is not configured, sequence events are not recorded")
		outboxRepo = nil
	}

	svc := catalog.NewService(deps.items, deps.history, outboxRepo,
		catalog.WithLogger(logger.WithField("layer", "catalog")),
		catalog.WithMetrics(metrics.NewCatalogMetrics()),
	)
	api := rest.NewHandler(svc,
		rest.WithLogger(logger.WithField("layer", "rest")),
		rest.WithIdempotency(deps.idempotency, cfg.IdempotencyTTL),
		rest.WithCORSOrigins(cfg.CORSOrigins),
	)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("storage", deps.storageChecker)
	if broker.enabled() {
		healthHandler.RegisterOptional("kafka", broker.checker())
	}

	restLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen rest %s: %w", cfg.HTTPAddr, err)
	}
	metricsLis, err := net.Listen("tcp", cfg.MetricsAddr)
	if err != nil {
		_ = restLis.Close()
		return fmt.Errorf("listen metrics %s: %w", cfg.MetricsAddr, err)
	}
	var grpcLis net.Listener
	if cfg.GRPCAddr != "" {
		grpcLis, err = net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			_ = restLis.Close()
			_ = metricsLis.Close()
			return fmt.Errorf("listen grpc %s: %w", cfg.GRPCAddr, err)
		}
	}

	restSrv := &http.Server{Handler: api.Routes(), ReadHeaderTimeout: readHeaderTimeout}
	metricsSrv := &http.Server{Handler: newMetricsHandler(healthHandler), ReadHeaderTimeout: readHeaderTimeout}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Infof("REST API слушает %s", restLis.Addr())
		return serveHTTP(restSrv, restLis)
	})
	g.Go(func() error {
		logger.Infof("метрики доступны по адресу %s/metrics", metricsLis.Addr())
		logger.Infof("health checks: %s/healthz, /livez, /readyz", metricsLis.Addr())
		return serveHTTP(metricsSrv, metricsLis)
	})

	var grpcServer *grpc.Server
	var healthServer *health.Server
	if grpcLis != nil {
		grpcServer, healthServer = newGRPCServer(logger)
		g.Go(func() error {
			logger.Infof("gRPC health слушает %s", grpcLis.Addr())
			if err := grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}

	startWorkers(gctx, g, cfg, deps, outboxRepo, broker, logger)

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("получен сигнал остановки, останавливаем серверы")
		if healthServer != nil {
			healthServer.Shutdown()
		}
		stopGRPC(grpcServer, cfg.ShutdownTimeout, logger)
		shutdownHTTP(restSrv, cfg.ShutdownTimeout, logger)
		shutdownHTTP(metricsSrv, cfg.ShutdownTimeout, logger)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// startWorkers запускает outbox и cleanup воркеры в группе g.
func startWorkers(ctx context.Context, g *errgroup.Group, cfg Config, deps runtimeDependencies, outboxRepo domain.OutboxRepository, broker messaging, logger *log.Entry) {
	if outboxRepo != nil && broker.enabled() {
		worker := outbox.NewWorker(outboxRepo, broker.events,
			outbox.WithLogger(logger.WithField("component", "outbox-worker")),
			outbox.WithDLQPublisher(broker.deadLetter),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
		)
		g.Go(func() error {
			worker.Run(ctx)
			return nil
		})
	}

	cleanup := idempotency.NewCleanupWorker(deps.idempotency,
		idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup")),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)
	g.Go(func() error {
		cleanup.Run(ctx)
		return nil
	})
}

// newGRPCServer создаёт gRPC сервер со стандартным health сервисом и reflection.
func newGRPCServer(logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := metrics.Register(prometheus.DefaultRegisterer, "grpc_server", promgrpc.NewServerMetrics())
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(grpcServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	// reflection нужен grpcurl и пробам оркестратора
	reflection.Register(grpcServer)
	grpcMetrics.InitializeMetrics(grpcServer)

	logger.Debug("gRPC health server initialized")
	return grpcServer, healthServer
}

// newMetricsHandler собирает /metrics, /healthz, /livez и /readyz.
func newMetricsHandler(healthHandler *healthcheck.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	return mux
}

func serveHTTP(srv *http.Server, lis net.Listener) error {
	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// stopGRPC останавливает сервер, принудительно по истечении timeout.
func stopGRPC(srv *grpc.Server, timeout time.Duration, logger *log.Entry) {
	if srv == nil {
		return
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	stopped := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(timeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		srv.Stop()
	}
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, timeout time.Duration, logger *log.Entry) {
	if srv == nil {
		return
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
