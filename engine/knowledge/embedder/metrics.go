package embedder

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/compozy/policyrag/engine/infra/monitoring/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type errorType string

const (
	errorTypeRateLimit     errorType = "rate_limit"
	errorTypeAuth          errorType = "auth"
	errorTypeInvalidInput  errorType = "invalid_input"
	errorTypeInvalidOutput errorType = "invalid_output"
	errorTypeTimeout       errorType = "timeout"
	errorTypeServer        errorType = "server_error"
)

var (
	metricsOnce     sync.Once
	metricsMu       sync.Mutex
	latencyHist     metric.Float64Histogram
	textsCounter    metric.Int64Counter
	errorsCounter   metric.Int64Counter
	cacheCounter    metric.Int64Counter
	metricsInitFail bool
)

func ensureMetrics() bool {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("policyrag.embedder")
		var err error
		latencyHist, err = meter.Float64Histogram(
			metrics.MetricNameWithSubsystem("embedder", "request_duration_seconds"),
			metric.WithDescription("Latency of embedding backend requests"),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(metrics.LatencyBuckets...),
		)
		if err != nil {
			metricsInitFail = true
			return
		}
		textsCounter, err = meter.Int64Counter(
			metrics.MetricNameWithSubsystem("embedder", "texts_total"),
			metric.WithDescription("Number of texts embedded by intent"),
		)
		if err != nil {
			metricsInitFail = true
			return
		}
		errorsCounter, err = meter.Int64Counter(
			metrics.MetricNameWithSubsystem("embedder", "errors_total"),
			metric.WithDescription("Embedding failures by category"),
		)
		if err != nil {
			metricsInitFail = true
			return
		}
		cacheCounter, err = meter.Int64Counter(
			metrics.MetricNameWithSubsystem("embedder", "cache_lookups_total"),
			metric.WithDescription("Embedding cache lookups by result"),
		)
		metricsInitFail = err != nil
	})
	return !metricsInitFail
}

func recordGeneration(ctx context.Context, provider Provider, intent Intent, texts int, d time.Duration) {
	if !ensureMetrics() {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("provider", string(provider)),
		attribute.String("intent", string(intent)),
	)
	latencyHist.Record(ctx, d.Seconds(), attrs)
	textsCounter.Add(ctx, int64(texts), attrs)
}

func recordError(ctx context.Context, provider Provider, kind errorType) {
	if !ensureMetrics() {
		return
	}
	errorsCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", string(provider)),
		attribute.String("type", string(kind)),
	))
}

func recordCache(ctx context.Context, provider Provider, hit bool) {
	if !ensureMetrics() {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", string(provider)),
		attribute.String("result", result),
	))
}

// categorizeError buckets provider errors by their message.
// NOTE: string matching only; providers do not share typed errors.
func categorizeError(err error) errorType {
	if err == nil {
		return errorTypeServer
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errorTypeTimeout
	}
	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "rate limit"), strings.Contains(lower, "429"), strings.Contains(lower, "quota"):
		return errorTypeRateLimit
	case strings.Contains(lower, "unauthorized"), strings.Contains(lower, "forbidden"), strings.Contains(lower, "api key"):
		return errorTypeAuth
	case strings.Contains(lower, "invalid"), strings.Contains(lower, "bad request"), strings.Contains(lower, "400"):
		return errorTypeInvalidInput
	default:
		return errorTypeServer
	}
}
