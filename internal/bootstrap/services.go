package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/imagemill/imagemill/config"
	"github.com/imagemill/imagemill/internal/adapters/reconciler"
	"github.com/imagemill/imagemill/internal/adapters/worker"
	"github.com/imagemill/imagemill/internal/data"
	imhttp "github.com/imagemill/imagemill/internal/http"
	"github.com/imagemill/imagemill/internal/notify"
	"github.com/imagemill/imagemill/internal/observability/metrics"
	"github.com/imagemill/imagemill/internal/observability/statsd"
	"github.com/imagemill/imagemill/internal/queue"
	"github.com/imagemill/imagemill/internal/service"
	"github.com/imagemill/imagemill/internal/storage"
	"github.com/imagemill/imagemill/internal/transform"
)

// Services holds the wired application graph for the enabled service modes.
type Services struct {
	cfg    *config.AppConfig
	logger *slog.Logger

	pool    *pgxpool.Pool
	redis   *redis.Client
	statsd  *statsd.Client
	metrics *metrics.Pipeline

	httpServer *http.Server
	worker     *worker.Runner
	reconciler *reconciler.Runner
}

// NewServices connects infrastructure and wires every enabled service mode.
func NewServices(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (*Services, error) {
	s := &Services{cfg: cfg, logger: logger}

	statsdClient, err := statsd.New(statsd.Options{
		Address: statsdAddress(cfg),
		Prefix:  cfg.Observability.Metrics.Prefix,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("statsd: %w", err)
	}
	s.statsd = statsdClient
	s.metrics = metrics.NewPipeline(statsdClient)

	s.pool, err = ConnectDB(ctx, cfg, logger)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.redis, err = ConnectRedis(ctx, cfg, logger)
	if err != nil {
		s.Close()
		return nil, err
	}

	repo := data.NewJobRepo(s.pool, data.RepoConfig{Logger: logger})
	store := storage.NewRedisStore(s.redis, cfg.Redis.ObjectTTL)
	consumer := "imagemill-" + uuid.NewString()

	workQueue, err := queue.NewStream(queue.StreamOptions{
		Client:         s.redis,
		Stream:         cfg.Queue.WorkStream,
		Group:          "workers",
		Consumer:       consumer,
		Block:          cfg.Queue.Block,
		RedeliverAfter: cfg.Queue.RedeliverAfter,
		Logger:         logger,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("work queue: %w", err)
	}
	resultQueue, err := queue.NewStream(queue.StreamOptions{
		Client:         s.redis,
		Stream:         cfg.Queue.ResultStream,
		Group:          "reconcilers",
		Consumer:       consumer,
		Block:          cfg.Queue.Block,
		RedeliverAfter: cfg.Queue.RedeliverAfter,
		Logger:         logger,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("result queue: %w", err)
	}

	if cfg.IsHTTPServerEnabled() {
		submit := service.NewSubmitService(service.SubmitOptions{
			Repo:      repo,
			WorkQueue: workQueue,
			Logger:    logger,
		})
		status := service.NewStatusService(service.StatusOptions{Repo: repo, Logger: logger})
		handlers := imhttp.NewHandlers(imhttp.HandlerOptions{
			Submit:         submit,
			Status:         status,
			Store:          store,
			MaxUploadBytes: cfg.HTTP.MaxUploadBytes,
			Logger:         logger,
			Metrics:        s.metrics,
		})
		s.httpServer = &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
			Handler:      handlers.Routes(),
			ReadTimeout:  cfg.HTTP.ReadTimeout,
			WriteTimeout: cfg.HTTP.WriteTimeout,
		}
	}

	if cfg.IsWorkerEnabled() {
		s.worker, err = worker.NewRunner(worker.Options{
			WorkQueue:      workQueue,
			ResultQueue:    resultQueue,
			Store:          store,
			Registry:       transform.NewRegistry(),
			Concurrency:    cfg.Worker.Concurrency,
			MaxAttempts:    cfg.Worker.MaxAttempts,
			EmitProcessing: cfg.Worker.EmitProcessing,
			Logger:         logger,
			Metrics:        s.metrics,
		})
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("worker: %w", err)
		}
	}

	if cfg.IsReconcilerEnabled() {
		s.reconciler, err = reconciler.NewRunner(reconciler.Options{
			ResultQueue:       resultQueue,
			Repo:              repo,
			Notifier:          notify.NewWebhookClient(notify.WebhookOptions{Logger: logger}),
			Concurrency:       cfg.Reconciler.Concurrency,
			OrphanRetryDelay:  cfg.Reconciler.OrphanRetryDelay,
			NotifyMaxAttempts: cfg.Reconciler.NotifyMaxAttempts,
			NotifyBackoff:     cfg.Reconciler.NotifyBackoff,
			Logger:            logger,
			Metrics:           s.metrics,
		})
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("reconciler: %w", err)
		}
	}

	return s, nil
}

func statsdAddress(cfg *config.AppConfig) string {
	if !cfg.Observability.Metrics.IsEnabled() {
		return ""
	}
	return cfg.Observability.Metrics.StatsdAddress
}

// Close releases infrastructure connections.
func (s *Services) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
	_ = s.statsd.Close()
}

// Run starts every enabled service and blocks until a termination signal or
// the first service error, then drains with a timeout.
func (s *Services) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 3)

	if s.httpServer != nil {
		go func() {
			s.logger.InfoContext(ctx, "http server listening", "addr", s.httpServer.Addr)
			if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("http server: %w", err)
			}
		}()
	}
	if s.worker != nil {
		go func() {
			s.logger.InfoContext(ctx, "worker started", "concurrency", s.cfg.Worker.Concurrency)
			if err := s.worker.Run(ctx); err != nil {
				errCh <- fmt.Errorf("worker: %w", err)
			}
		}()
	}
	if s.reconciler != nil {
		go func() {
			s.logger.InfoContext(ctx, "reconciler started", "concurrency", s.cfg.Reconciler.Concurrency)
			if err := s.reconciler.Run(ctx); err != nil {
				errCh <- fmt.Errorf("reconciler: %w", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case sig := <-sigCh:
		s.logger.InfoContext(ctx, "shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		s.logger.ErrorContext(ctx, "service failed, shutting down", "error", err)
		runErr = err
	case <-ctx.Done():
	}

	cancel()
	s.shutdown()
	return runErr
}

// shutdown stops the HTTP server gracefully; consumer loops exit via context
// cancellation and unacked deliveries are redelivered elsewhere.
func (s *Services) shutdown() {
	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown", "error", err)
		}
	}
}
