package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/voxkit/batchd/api/handlers"
	"github.com/voxkit/batchd/config"
	"github.com/voxkit/batchd/internal/metrics"
	"github.com/voxkit/batchd/internal/server"
	"github.com/voxkit/batchd/internal/telemetry"
	"github.com/voxkit/batchd/queue"
	"github.com/voxkit/batchd/scheduler"
	"github.com/voxkit/batchd/sink"
	"github.com/voxkit/batchd/transcribe"
	"github.com/voxkit/batchd/types"
)

// Server owns the whole batchd runtime: queue connection, scheduling
// pipeline, HTTP API, and metrics listener.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger
	otel   *telemetry.Providers

	redisQueue *queue.RedisQueue
	gate       *scheduler.Gate
	pipeline   *scheduler.Pipeline
	waiters    *sink.WaiterRegistry

	httpManager    *server.Manager
	metricsManager *server.Manager

	healthHandler *handlers.HealthHandler
	jobsHandler   *handlers.JobsHandler

	metricsCollector *metrics.Collector

	pipelineCancel context.CancelFunc
	pipelineDone   chan struct{}

	rateLimiterCancel context.CancelFunc

	wg sync.WaitGroup
}

// NewServer creates an unstarted server.
func NewServer(cfg *config.Config, logger *zap.Logger, otelProviders *telemetry.Providers) *Server {
	return &Server{
		cfg:          cfg,
		logger:       logger,
		otel:         otelProviders,
		pipelineDone: make(chan struct{}),
	}
}

// Start brings up the queue connection, the scheduling pipeline, and both
// HTTP listeners.
func (s *Server) Start() error {
	s.metricsCollector = metrics.NewCollector("batchd", prometheus.DefaultRegisterer, s.logger)

	if err := s.initQueue(); err != nil {
		return fmt.Errorf("failed to init queue: %w", err)
	}

	s.initPipeline()
	s.initHandlers()

	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.startPipeline()
	s.startQueueDepthProbe()

	s.logger.Info("All components started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Int("max_batch_size", s.cfg.Scheduler.MaxBatchSize),
		zap.Int("max_concurrency", s.cfg.Scheduler.MaxConcurrency),
	)

	return nil
}

func (s *Server) initQueue() error {
	q, err := queue.NewRedisQueue(queue.Config{
		Addr:      s.cfg.Redis.Addr,
		Username:  s.cfg.Redis.Username,
		Password:  s.cfg.Redis.Password,
		DB:        s.cfg.Redis.DB,
		PoolSize:  s.cfg.Redis.PoolSize,
		QueueName: s.cfg.Redis.QueueName,
	}, s.logger)
	if err != nil {
		return err
	}
	s.redisQueue = q
	return nil
}

// initPipeline assembles the scheduling stages around the domain
// collaborators.
func (s *Server) initPipeline() {
	preprocessor := transcribe.NewHTTPPreprocessor(transcribe.PreprocessorConfig{
		FetchTimeout:     s.cfg.Audio.FetchTimeout,
		MaxDownloadBytes: s.cfg.Audio.MaxDownloadBytes,
	}, nil, s.logger)

	engine := transcribe.NewHTTPEngine(transcribe.EngineConfig{
		Endpoint:       s.cfg.Engine.Endpoint,
		APIKey:         s.cfg.Engine.APIKey,
		RequestTimeout: s.cfg.Engine.RequestTimeout,
		ComputeRate:    s.cfg.Engine.ComputeRatePerSecond,
	}, s.logger)

	collector := scheduler.NewCollector(s.redisQueue, scheduler.CollectorConfig{
		Capacity:     s.cfg.Scheduler.MaxBatchSize,
		BatchTimeout: s.cfg.Scheduler.BatchTimeout,
		BRPopTimeout: s.cfg.Scheduler.BRPopTimeout,
		PollInterval: s.cfg.Scheduler.StragglerPollInterval,
	}, s.logger, s.metricsCollector)

	pool := scheduler.NewPreprocessPool(s.cfg.Scheduler.PreprocessWorkers,
		func(ctx context.Context, job *types.Job) (any, error) {
			return preprocessor.Prepare(ctx, job)
		}, s.logger)

	executor := scheduler.NewSequentialExecutor(
		func(ctx context.Context, job *types.Job, input any) (*types.TranscriptionResult, error) {
			prepared, ok := input.(*transcribe.PreparedInput)
			if !ok {
				return nil, types.Errorf(types.ErrInternalError, "job %s: unexpected prepared input type", job.ID)
			}
			return engine.Transcribe(ctx, prepared)
		}, s.logger)

	s.gate = scheduler.NewGate(s.cfg.Scheduler.MaxConcurrency)
	s.waiters = sink.NewWaiterRegistry()

	dispatcher := sink.NewDispatcher(s.waiters, sink.Config{
		CallbackTimeout:  s.cfg.Dispatcher.CallbackTimeout,
		CallbackAttempts: s.cfg.Dispatcher.CallbackAttempts,
		RetryDelay:       s.cfg.Dispatcher.RetryDelay,
	}, s.logger, s.metricsCollector)

	s.pipeline = scheduler.NewPipeline(collector, pool, s.gate, executor, dispatcher,
		scheduler.PipelineConfig{
			MaxInflightCycles: s.cfg.Scheduler.MaxInflightCycles,
			ExecDeadline:      s.cfg.Scheduler.ExecDeadline,
		}, s.logger, s.metricsCollector)
}

func (s *Server) initHandlers() {
	s.healthHandler = handlers.NewHealthHandler(s.logger)
	s.healthHandler.RegisterCheck(handlers.NewPingHealthCheck("redis", s.redisQueue.Ping))

	s.jobsHandler = handlers.NewJobsHandler(
		s.redisQueue,
		s.waiters,
		s.gate,
		s.cfg.Server.SyncWaitTimeout,
		s.logger,
	)
}

func (s *Server) startPipeline() {
	ctx, cancel := context.WithCancel(context.Background())
	s.pipelineCancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(s.pipelineDone)
		if err := s.pipeline.Run(ctx); err != nil {
			s.logger.Error("pipeline exited with error", zap.Error(err))
		}
	}()
}

// startQueueDepthProbe samples the queue length for the metrics gauge.
func (s *Server) startQueueDepthProbe() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-s.pipelineDone:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				if n, err := s.redisQueue.Len(ctx); err == nil {
					s.metricsCollector.SetQueueDepth(n)
				}
				cancel()
			}
		}
	}()
}

func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.healthHandler.HandleHealth)
	mux.HandleFunc("/healthz", s.healthHandler.HandleHealth)
	mux.HandleFunc("/ready", s.healthHandler.HandleReady)
	mux.HandleFunc("/readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("/version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	mux.HandleFunc("/api/v1/jobs", s.jobsHandler.HandleSubmit)
	mux.HandleFunc("/api/v1/transcribe", s.jobsHandler.HandleTranscribeSync)
	mux.HandleFunc("/api/v1/languages", handlers.HandleLanguages)
	mux.HandleFunc("/queue_status", s.jobsHandler.HandleQueueStatus)
	mux.HandleFunc("/queue_size", s.jobsHandler.HandleQueueSize)

	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel
	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		OTelTracing(),
		MetricsMiddleware(s.metricsCollector),
		RateLimiter(rateLimiterCtx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
	)

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		// The synchronous transcribe path holds the response open until the
		// job executes, so the write timeout must exceed the sync wait.
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20, // 1 MB
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)

	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)

	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// WaitForShutdown blocks until a termination signal, then shuts down.
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}

	s.Shutdown()
}

// Shutdown stops intake first, then the pipeline, then everything else, so
// held jobs get their failure outcomes delivered before the process exits.
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx := context.Background()

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	// Stop accepting new work.
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	// Stop the pipeline and wait for in-flight cycles to finish delivery.
	if s.pipelineCancel != nil {
		s.pipelineCancel()
		select {
		case <-s.pipelineDone:
		case <-time.After(s.cfg.Server.ShutdownTimeout):
			s.logger.Warn("pipeline did not stop within shutdown timeout")
		}
	}

	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	if s.redisQueue != nil {
		if err := s.redisQueue.Close(); err != nil {
			s.logger.Error("Queue close error", zap.Error(err))
		}
	}

	if s.otel != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := s.otel.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
		cancel()
	}

	s.wg.Wait()

	s.logger.Info("Graceful shutdown completed")
}
