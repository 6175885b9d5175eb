package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/mindflow/api/handlers"
	"github.com/BaSui01/mindflow/config"
	"github.com/BaSui01/mindflow/internal/idempotency"
	"github.com/BaSui01/mindflow/internal/metrics"
	"github.com/BaSui01/mindflow/internal/server"
	"github.com/BaSui01/mindflow/memory"
	"github.com/BaSui01/mindflow/orchestrator"
	"github.com/BaSui01/mindflow/pipeline"
	"github.com/BaSui01/mindflow/provider"
	"github.com/BaSui01/mindflow/provider/anthropic"
	"github.com/BaSui01/mindflow/provider/openai"
	"github.com/BaSui01/mindflow/router"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 组装并管理 MindFlow 的全部运行组件：
// 后端注册表与探针、记忆存储与清理器、编排引擎以及两个 HTTP 服务器。
type Server struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *gorm.DB

	httpManager    *server.Manager
	metricsManager *server.Manager

	registry *provider.Registry
	prober   *provider.Prober
	store    *memory.GormStore
	sweeper  *memory.Sweeper
	redisCli *redis.Client
	engine   *orchestrator.Engine

	orchestrateHandler *handlers.OrchestrateHandler
	healthHandler      *handlers.HealthHandler

	metricsCollector *metrics.Collector

	rateLimiterCancel context.CancelFunc

	wg sync.WaitGroup
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger, db *gorm.DB) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger,
		db:     db,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start() error {
	s.metricsCollector = metrics.NewCollector("mindflow", s.logger)

	if err := s.initProviders(); err != nil {
		return fmt.Errorf("failed to init providers: %w", err)
	}

	if err := s.initMemory(); err != nil {
		return fmt.Errorf("failed to init memory: %w", err)
	}

	if err := s.initEngine(); err != nil {
		return fmt.Errorf("failed to init engine: %w", err)
	}

	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Int("providers", len(s.cfg.Providers)),
		zap.Bool("memory_enabled", s.cfg.Memory.Enabled),
		zap.Bool("idempotency_enabled", s.cfg.Redis.Enabled),
	)

	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initProviders 构建后端实例，注册到注册表并启动健康探针
func (s *Server) initProviders() error {
	s.registry = provider.NewRegistry(s.cfg.Health, s.logger).WithCollector(s.metricsCollector)

	for i := range s.cfg.Providers {
		pc := &s.cfg.Providers[i]

		var (
			p   provider.Provider
			err error
		)
		switch pc.Type {
		case "openai":
			p, err = openai.New(openai.Config{
				APIKey:         pc.APIKey,
				BaseURL:        pc.BaseURL,
				Model:          pc.Model,
				EmbeddingModel: pc.EmbeddingModel,
			}, s.logger)
		case "anthropic":
			p, err = anthropic.New(anthropic.Config{
				APIKey:  pc.APIKey,
				BaseURL: pc.BaseURL,
				Model:   pc.Model,
			}, s.logger)
		default:
			err = fmt.Errorf("unknown provider type: %s", pc.Type)
		}
		if err != nil {
			return fmt.Errorf("provider %s: %w", pc.ID, err)
		}

		if err := s.registry.Register(pc.Descriptor(), p); err != nil {
			return fmt.Errorf("register provider %s: %w", pc.ID, err)
		}
		s.logger.Info("Provider registered",
			zap.String("id", pc.ID),
			zap.String("type", pc.Type),
			zap.Strings("capabilities", pc.Capabilities),
		)
	}

	s.prober = provider.NewProber(s.registry, s.cfg.Probe, s.logger)
	s.prober.Start()

	return nil
}

// initMemory 初始化记忆存储与过期清理器（记忆禁用时跳过）
func (s *Server) initMemory() error {
	if !s.cfg.Memory.Enabled {
		s.logger.Info("Memory disabled, requests run without memory context")
		return nil
	}

	store, err := memory.NewGormStore(s.db, s.cfg.Memory.Store, s.logger)
	if err != nil {
		return fmt.Errorf("create memory store: %w", err)
	}
	s.store = store

	s.sweeper = memory.NewSweeper(store, s.cfg.Memory.Sweep, s.logger)
	s.sweeper.Start()

	return nil
}

// initEngine 组装检索器、回退路由、处理管线与编排引擎
func (s *Server) initEngine() error {
	embedder := s.findEmbedder()

	var memStore memory.Store
	if s.store != nil {
		memStore = s.store
	}
	retriever := memory.NewRetriever(memStore, embedder, s.cfg.Memory.Retrieval, s.logger).
		WithCollector(s.metricsCollector)

	fallback := router.NewFallbackRouter(s.registry, s.cfg.Router, s.logger).
		WithCollector(s.metricsCollector)

	completer := pipeline.NewCompleteStage(s.registry, fallback, s.cfg.Pipeline.Completion, s.logger)
	chain := pipeline.NewChain([]pipeline.Stage{
		pipeline.NewClassifyStage(s.cfg.Pipeline.Classifier, s.logger),
		pipeline.NewContextBuildStage(retriever, pipeline.ContextBuildConfig{Facts: s.cfg.Pipeline.Facts}, s.logger),
		completer,
		pipeline.NewValidateStage(completer, s.cfg.Pipeline.Validate, s.logger),
		pipeline.NewPersonalizeStage(s.logger),
	}, pipeline.NewMonitorStage(s.metricsCollector, s.logger), s.logger)

	var idem idempotency.Manager
	if s.cfg.Redis.Enabled {
		s.redisCli = redis.NewClient(&redis.Options{
			Addr:     s.cfg.Redis.Addr,
			Password: s.cfg.Redis.Password,
			DB:       s.cfg.Redis.DB,
			PoolSize: s.cfg.Redis.PoolSize,
		})
		idem = idempotency.NewRedisManager(s.redisCli, "", s.logger)
	}

	engine, err := orchestrator.NewEngine(chain, memStore, embedder, idem, s.metricsCollector, s.cfg.Engine, s.logger)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	s.engine = engine

	s.orchestrateHandler = handlers.NewOrchestrateHandler(engine, s.logger)
	s.healthHandler = handlers.NewHealthHandler(s.registry, s.logger)

	if s.db != nil {
		s.healthHandler.RegisterCheck(handlers.NewPingHealthCheck("database", func(ctx context.Context) error {
			sqlDB, err := s.db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}))
	}
	if s.redisCli != nil {
		s.healthHandler.RegisterCheck(handlers.NewPingHealthCheck("redis", func(ctx context.Context) error {
			return s.redisCli.Ping(ctx).Err()
		}))
	}

	return nil
}

// findEmbedder 返回第一个声明 embedding 能力的后端。
// 没有时返回 nil，检索退化为纯词面模式。
func (s *Server) findEmbedder() memory.Embedder {
	for i := range s.cfg.Providers {
		pc := &s.cfg.Providers[i]
		desc := pc.Descriptor()
		if !desc.HasCapability(provider.CapabilityEmbedding) {
			continue
		}
		if p, ok := s.registry.Get(pc.ID); ok {
			s.logger.Info("Embedder selected", zap.String("provider", pc.ID))
			return p
		}
	}
	s.logger.Info("No embedding-capable provider, retrieval runs keyword-only")
	return nil
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// startHTTPServer 启动业务 HTTP 服务器
func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	mux.HandleFunc("/orchestrate", s.orchestrateHandler.HandleOrchestrate)

	mux.HandleFunc("/health", s.healthHandler.HandleHealth)
	mux.HandleFunc("/healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("/ready", s.healthHandler.HandleReady)
	mux.HandleFunc("/readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("/version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel
	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		RateLimiter(rateLimiterCtx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
	)

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
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

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

// startMetricsServer 启动 Metrics 服务器
func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)

	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}

	s.Shutdown()
}

// Shutdown 优雅关闭所有服务
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx := context.Background()

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	if s.prober != nil {
		s.prober.Stop()
	}

	if s.sweeper != nil {
		s.sweeper.Stop()
	}

	if s.redisCli != nil {
		if err := s.redisCli.Close(); err != nil {
			s.logger.Error("Redis close error", zap.Error(err))
		}
	}

	s.wg.Wait()

	s.logger.Info("Graceful shutdown completed")
}
