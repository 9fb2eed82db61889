package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/compozy/policyrag/engine/infra/server/middleware/ratelimit"
	"github.com/compozy/policyrag/engine/infra/server/router"
	knowledgerouter "github.com/compozy/policyrag/engine/infra/server/router/knowledge"
	"github.com/compozy/policyrag/engine/infra/server/routes"
	"github.com/compozy/policyrag/pkg/logger"
)

const storeRedis = "redis"

func (s *Server) apiBase() string {
	return routes.Base()
}

func (s *Server) buildRouter(ctx context.Context) error {
	cfg := s.config
	log := logger.FromContext(ctx)
	if strings.TrimSpace(cfg.Server.BasePath) != "" {
		routes.SetBase(cfg.Server.BasePath)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(log))
	if s.monitoring.IsInitialized() {
		r.Use(s.monitoring.GinMiddleware())
	}
	if cfg.Server.CORS.Enabled {
		r.Use(CORSMiddleware(cfg.Server.CORS))
	}
	if cfg.RateLimit.Enabled && cfg.RateLimit.Limit > 0 {
		if err := s.attachRateLimit(ctx, r); err != nil {
			return err
		}
	}
	if s.monitoring.IsInitialized() {
		r.GET(s.monitoring.Path(), gin.WrapH(s.monitoring.ExporterHandler()))
	}
	r.NoRoute(func(c *gin.Context) {
		router.RespondProblemWithCode(c, http.StatusNotFound, router.ErrNotFoundCode, "route not found")
	})
	api := r.Group(routes.Base())
	health := CreateHealthHandler(s.health)
	api.GET("/health", health)
	r.GET("/health", health)
	knowledgerouter.Register(api, s.svc, knowledgerouter.Options{
		AllowedExtensions: cfg.Server.AllowedExtensions,
		DefaultTopK:       cfg.Knowledge.TopK,
		IngestTimeout:     cfg.Server.Timeouts.Ingest,
		QueryTimeout:      cfg.Server.Timeouts.Query,
	}, cfg.Server.MaxUploadBytes)
	s.router = r
	return nil
}

func (s *Server) attachRateLimit(ctx context.Context, r *gin.Engine) error {
	log := logger.FromContext(ctx)
	excluded := []string{routes.Health()}
	if s.monitoring.IsInitialized() {
		excluded = append(excluded, s.monitoring.Path())
	}
	rlCfg := ratelimit.FromAppConfig(s.config, excluded...)
	client := s.redis
	if !strings.EqualFold(s.config.RateLimit.Store, storeRedis) {
		client = nil
	} else if client == nil {
		log.Warn("Rate limit store is redis but no client is configured; using memory")
	}
	manager, err := ratelimit.NewManagerWithMetrics(ctx, rlCfg, client, s.monitoring.Meter())
	if err != nil {
		return err
	}
	r.Use(manager.Middleware())
	log.Info("Rate limiter initialized",
		"driver", manager.Driver(),
		"limit", rlCfg.GlobalRate.Limit,
		"period", rlCfg.GlobalRate.Period)
	return nil
}
