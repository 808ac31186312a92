package admin

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"sluice/internal/config"
	"sluice/internal/constants"
	"sluice/internal/logger"
	"sluice/pkg/middleware"
	"sluice/pkg/ratelimit"
	"sluice/pkg/tracing"

	_ "sluice/internal/admin/docs"
)

// NewEngine builds the admin router. limiter may be nil.
func NewEngine(h *Handler, limiter *ratelimit.Limiter, tracingEnabled bool, log logger.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if tracingEnabled {
		router.Use(tracing.GinMiddleware(constants.ServiceName + "-admin"))
	}
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.LoggerMiddleware(log, false))
	router.Use(middleware.RequestIDMiddleware())
	if limiter != nil {
		router.Use(limiter.Middleware())
	}

	h.RegisterRoutes(router)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return router
}

type Server struct {
	srv    *http.Server
	logger logger.Logger
}

func NewServer(cfg config.ServerConfig, handler http.Handler, log logger.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		logger: log,
	}
}

// Run serves until Shutdown is called.
func (s *Server) Run(ctx context.Context) error {
	s.logger.InfowCtx(ctx, "Admin server listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("admin server error: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
