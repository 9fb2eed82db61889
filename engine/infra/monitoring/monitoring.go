package monitoring

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/compozy/policyrag/engine/infra/monitoring/middleware"
	"github.com/compozy/policyrag/pkg/logger"
)

const meterName = "policyrag"

// Service owns the meter provider and the private Prometheus registry
// scraped at Config.Path. A disabled service hands out a no-op meter.
type Service struct {
	config   *Config
	meter    metric.Meter
	provider *sdkmetric.MeterProvider
	exporter *prometheus.Exporter
	handler  http.Handler
	initErr  error
}

func disabled(cfg *Config, err error) *Service {
	return &Service{config: cfg, meter: noop.NewMeterProvider().Meter(meterName), initErr: err}
}

// NewMonitoringService wires an otel meter provider to a Prometheus exporter
// on a registry that also carries the Go runtime and process collectors.
func NewMonitoringService(ctx context.Context, cfg *Config) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx)
	if !cfg.Enabled {
		log.Debug("Monitoring disabled, using no-op meter")
		return disabled(cfg, nil), nil
	}
	registry := prom.NewRegistry()
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("monitoring: register go collector: %w", err)
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("monitoring: register process collector: %w", err)
	}
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("monitoring: prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	s := &Service{
		config:   cfg,
		meter:    provider.Meter(meterName),
		provider: provider,
		exporter: exporter,
		handler:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
	}
	InitSystemMetrics(ctx, s.meter)
	log.Info("Monitoring service initialized", "path", cfg.Path)
	return s, nil
}

// NewMonitoringServiceWithFallback never fails: an invalid config or a broken
// exporter yields a disabled service carrying the error.
func NewMonitoringServiceWithFallback(ctx context.Context, cfg *Config) *Service {
	s, err := NewMonitoringService(ctx, cfg)
	if err == nil {
		return s
	}
	logger.FromContext(ctx).Error("Failed to initialize monitoring, using no-op implementation", "error", err)
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return disabled(cfg, err)
}

func (s *Service) Meter() metric.Meter { return s.meter }

func (s *Service) Path() string { return s.config.Path }

func (s *Service) IsInitialized() bool { return s.provider != nil }

func (s *Service) InitializationError() error { return s.initErr }

// GinMiddleware returns the HTTP metrics middleware, or a pass-through when disabled.
func (s *Service) GinMiddleware() gin.HandlerFunc {
	if !s.IsInitialized() {
		return func(c *gin.Context) { c.Next() }
	}
	return middleware.HTTPMetrics(s.meter)
}

// ExporterHandler serves the Prometheus exposition format, or 503 when disabled.
func (s *Service) ExporterHandler() http.Handler {
	if s.handler != nil {
		return s.handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		if _, err := w.Write([]byte("Monitoring service not initialized")); err != nil {
			logger.FromContext(r.Context()).Error("Failed to write response", "error", err)
		}
	})
}

// SetAsGlobal installs the provider globally so lazily created package
// instruments export through it.
func (s *Service) SetAsGlobal() {
	if s.provider != nil {
		otel.SetMeterProvider(s.provider)
	}
}

func (s *Service) Shutdown(ctx context.Context) error {
	if s.provider == nil {
		return nil
	}
	return s.provider.Shutdown(ctx)
}
