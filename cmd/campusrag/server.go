package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/campusrag/api/handlers"
	"github.com/BaSui01/campusrag/config"
	"github.com/BaSui01/campusrag/internal/metrics"
	"github.com/BaSui01/campusrag/internal/server"
	"github.com/BaSui01/campusrag/types"
)

// =============================================================================
// 🖥️ Server：API 与 Metrics 双端口
// =============================================================================

// Server 是 campusrag 的主服务器
type Server struct {
	cfg       *config.Config
	app       *App
	collector *metrics.Collector
	logger    *zap.Logger

	health *handlers.HealthHandler

	httpManager    *server.Manager
	metricsManager *server.Manager
}

// NewServer 创建服务器，并把 App 的依赖检查注册到就绪探针
func NewServer(cfg *config.Config, app *App, collector *metrics.Collector, logger *zap.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		app:       app,
		collector: collector,
		logger:    logger,
		health:    handlers.NewHealthHandler(Version, logger),
	}
	for _, c := range app.ReadinessChecks() {
		s.health.RegisterCheck(c)
	}
	return s
}

// Router 构建 API 路由。ctx 结束时停止限流器的后台清理。
func (s *Server) Router(ctx context.Context) http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddlewares(
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
		OTelTracing(),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(ctx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
	)...)

	r.Get("/health", s.health.HandleHealth)
	r.Get("/healthz", s.health.HandleHealth)
	r.Get("/ready", s.health.HandleReady)
	r.Get("/version", s.health.HandleVersion(BuildTime, GitCommit))

	r.Mount("/api/v1/rag", s.app.RAGHandler().Routes())

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		handlers.WriteErrorMessage(w, http.StatusNotFound, types.ErrInvalidRequest, "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		handlers.WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", nil)
	})
	return r
}

// Run 启动 Metrics 与 API 服务并阻塞到 ctx 结束，然后依次关闭
func (s *Server) Run(ctx context.Context) error {
	routerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	s.metricsManager = server.NewManager("metrics", metricsMux,
		server.FromServerConfig(s.cfg.Server, s.cfg.Server.MetricsPort), s.logger)
	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.httpManager = server.NewManager("api", s.Router(routerCtx),
		server.FromServerConfig(s.cfg.Server, s.cfg.Server.HTTPPort), s.logger)

	s.logger.Info("campusrag serving",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.String("vector_store", s.cfg.VectorStore.Backend),
		zap.String("llm_provider", s.cfg.LLM.Provider))

	runErr := runWithSidecar(ctx, s.httpManager.Run, s.metricsManager.Errors(), s.logger)
	shutdownErr := s.metricsManager.Shutdown(context.WithoutCancel(ctx))
	return errors.Join(runErr, shutdownErr)
}

// runWithSidecar 阻塞执行 run；sidecar 通道报错时取消 run，并把该错误一并返回
func runWithSidecar(ctx context.Context, run func(context.Context) error, sidecar <-chan error, logger *zap.Logger) error {
	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	sidecarErr := make(chan error, 1)
	go func() {
		select {
		case err := <-sidecar:
			logger.Error("metrics server failed, stopping API server", zap.Error(err))
			sidecarErr <- fmt.Errorf("metrics server: %w", err)
			stop()
		case <-runCtx.Done():
			sidecarErr <- nil
		}
	}()

	runErr := run(runCtx)
	stop()
	return errors.Join(runErr, <-sidecarErr)
}
