package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/inkfeed/inkfeed/internal/api/handlers"
	"github.com/inkfeed/inkfeed/internal/api/middleware"
	"github.com/inkfeed/inkfeed/internal/config"
	"github.com/inkfeed/inkfeed/internal/core"
)

// Server wires the HTTP surface: REST handlers, the websocket event hub and
// auth, all backed by the orchestrator.
type Server struct {
	cfg    config.ServerConfig
	logger *zap.Logger
	hub    *Hub
	http   *http.Server
}

func NewServer(cfg config.ServerConfig, logger *zap.Logger, orchestrator *core.Orchestrator, hub *Hub) (*Server, error) {
	auth, err := middleware.NewAuthMiddleware()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize auth: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(ginLogger(logger), gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	middleware.RegisterAuthRoutes(router, auth)

	apiGroup := router.Group("/api", auth.RequireAuth())
	handlers.RegisterJobRoutes(apiGroup, handlers.NewJobHandler(orchestrator))
	handlers.RegisterPendingRoutes(apiGroup, handlers.NewPendingHandler())
	handlers.RegisterPrinterRoutes(apiGroup, handlers.NewPrinterHandler(orchestrator, logger))
	handlers.RegisterSettingsRoutes(apiGroup, handlers.NewSettingsHandler(orchestrator, logger))
	handlers.RegisterWebhookRoutes(apiGroup, handlers.NewWebhookHandler())
	apiGroup.GET("/events", hub.HandleWS)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return &Server{cfg: cfg, logger: logger, hub: hub, http: srv}, nil
}

func (s *Server) Run() error {
	s.logger.Info("http server listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)))
	}
}
