package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/compozy/policyrag/engine/infra/monitoring"
	knowledgerouter "github.com/compozy/policyrag/engine/infra/server/router/knowledge"
	"github.com/compozy/policyrag/pkg/config"
	"github.com/compozy/policyrag/pkg/logger"
)

const (
	httpReadTimeout           = 30 * time.Second
	httpWriteTimeout          = 5 * time.Minute
	httpIdleTimeout           = 2 * time.Minute
	serverShutdownTimeout     = 15 * time.Second
	monitoringShutdownTimeout = 5 * time.Second
	hostAny                   = "0.0.0.0"
	hostLoopback              = "127.0.0.1"
)

// Options carries everything the HTTP server needs from the composition root.
type Options struct {
	Config     *config.Config
	Service    knowledgerouter.Service
	Monitoring *monitoring.Service
	// Redis backs the rate limiter when ratelimit.store is "redis".
	Redis  redis.UniversalClient
	Health map[string]HealthChecker
}

type Server struct {
	config     *config.Config
	router     *gin.Engine
	monitoring *monitoring.Service
	redis      redis.UniversalClient
	health     map[string]HealthChecker
	svc        knowledgerouter.Service
	httpServer *http.Server
}

func NewServer(ctx context.Context, opts Options) (*Server, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("server: configuration is required")
	}
	if opts.Service == nil {
		return nil, fmt.Errorf("server: knowledge service is required")
	}
	mon := opts.Monitoring
	if mon == nil {
		mon = monitoring.NewMonitoringServiceWithFallback(ctx, monitoring.FromAppConfig(opts.Config))
	}
	s := &Server{
		config:     opts.Config,
		monitoring: mon,
		redis:      opts.Redis,
		health:     opts.Health,
		svc:        opts.Service,
	}
	if err := s.buildRouter(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Addr() string {
	return net.JoinHostPort(s.config.Server.Host, strconv.Itoa(s.config.Server.Port))
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	timeouts := s.config.Server.Timeouts
	s.httpServer = &http.Server{
		Addr:              s.Addr(),
		Handler:           s.router,
		ReadTimeout:       durationOr(timeouts.HTTPRead, httpReadTimeout),
		ReadHeaderTimeout: durationOr(timeouts.HTTPRead, httpReadTimeout),
		WriteTimeout:      durationOr(timeouts.HTTPWrite, httpWriteTimeout),
		IdleTimeout:       durationOr(timeouts.HTTPIdle, httpIdleTimeout),
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logStartupBanner(ctx)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return s.shutdown(context.WithoutCancel(ctx))
	})
	return g.Wait()
}

func (s *Server) shutdown(ctx context.Context) error {
	log := logger.FromContext(ctx)
	log.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(ctx, durationOr(s.config.Server.Timeouts.Shutdown, serverShutdownTimeout))
	defer cancel()
	var errs []error
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	monCtx, monCancel := context.WithTimeout(ctx, monitoringShutdownTimeout)
	defer monCancel()
	if err := s.monitoring.Shutdown(monCtx); err != nil {
		log.Warn("Failed to shut down monitoring", "error", err)
	}
	log.Info("Server stopped")
	return errors.Join(errs...)
}

func (s *Server) logStartupBanner(ctx context.Context) {
	httpURL := fmt.Sprintf("http://%s", net.JoinHostPort(friendlyHost(s.config.Server.Host), strconv.Itoa(s.config.Server.Port)))
	args := []any{
		"version", monitoring.CurrentBuild().Version,
		"api", httpURL + s.apiBase(),
		"vector_db", s.config.VectorDB.Provider,
		"documents", s.config.Documents.Driver,
	}
	if s.monitoring.IsInitialized() {
		args = append(args, "metrics", httpURL+s.monitoring.Path())
	}
	logger.FromContext(ctx).Info("Policy RAG server listening", args...)
}

func friendlyHost(h string) string {
	if h == hostAny || h == "::" || h == "" {
		return hostLoopback
	}
	return h
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
