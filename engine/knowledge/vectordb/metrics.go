package vectordb

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	monitoringmetrics "github.com/compozy/policyrag/engine/infra/monitoring/metrics"
)

const meterName = "policyrag.vectordb"

type vectorMetrics struct {
	latency     metric.Float64Histogram
	results     metric.Int64Histogram
	topScore    metric.Float64Histogram
	errors      metric.Int64Counter
	connections metric.Int64ObservableGauge
	callback    metric.Registration
}

var (
	metricsMu      sync.Mutex
	instruments    *vectorMetrics
	instrumentsErr error
	pools          sync.Map // pool id -> *pgxpool.Pool
)

func vectorMetricName(suffix string) string {
	return monitoringmetrics.MetricNameWithSubsystem("vectordb", suffix)
}

func newVectorMetrics(meter metric.Meter) (*vectorMetrics, error) {
	m := &vectorMetrics{}
	var errs [5]error
	m.latency, errs[0] = meter.Float64Histogram(vectorMetricName("operation_duration_seconds"),
		metric.WithDescription("Vector store operation latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(monitoringmetrics.LatencyBuckets...))
	m.results, errs[1] = meter.Int64Histogram(vectorMetricName("results_per_search"),
		metric.WithDescription("Number of matches returned per search"),
		metric.WithExplicitBucketBoundaries(0, 1, 3, 5, 10, 25, 50))
	m.topScore, errs[2] = meter.Float64Histogram(vectorMetricName("top_score"),
		metric.WithDescription("Similarity score of the best match"),
		metric.WithExplicitBucketBoundaries(0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0))
	m.errors, errs[3] = meter.Int64Counter(vectorMetricName("errors_total"),
		metric.WithDescription("Vector store operation errors"))
	m.connections, errs[4] = meter.Int64ObservableGauge(vectorMetricName("connections_active"),
		metric.WithDescription("Acquired pgvector pool connections"))
	if err := errors.Join(errs[:]...); err != nil {
		return nil, err
	}
	reg, err := meter.RegisterCallback(m.observePools, m.connections)
	if err != nil {
		return nil, err
	}
	m.callback = reg
	return m, nil
}

func (m *vectorMetrics) observePools(_ context.Context, o metric.Observer) error {
	pools.Range(func(key, value any) bool {
		pool, ok := value.(*pgxpool.Pool)
		if !ok || pool == nil {
			return true
		}
		id, _ := key.(string)
		o.ObserveInt64(m.connections, int64(pool.Stat().AcquiredConns()),
			metric.WithAttributes(attribute.String("vector_db_id", id)))
		return true
	})
	return nil
}

// loadMetrics builds the instruments from the global meter provider on
// first use. A failed build is remembered and disables recording.
func loadMetrics() *vectorMetrics {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	if instruments == nil && instrumentsErr == nil {
		instruments, instrumentsErr = newVectorMetrics(otel.GetMeterProvider().Meter(meterName))
	}
	return instruments
}

// ResetMetricsForTesting drops the instruments so the next call binds to the
// current global meter provider.
func ResetMetricsForTesting() {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	if instruments != nil && instruments.callback != nil {
		_ = instruments.callback.Unregister()
	}
	instruments, instrumentsErr = nil, nil
}

func providerAttr(provider Provider) attribute.KeyValue {
	return attribute.String("provider", labelValue(string(provider)))
}

func recordVectorOperation(ctx context.Context, provider Provider, operation string, d time.Duration, err error) {
	m := loadMetrics()
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(providerAttr(provider), attribute.String("operation", operation))
	m.latency.Record(ctx, d.Seconds(), attrs)
	if err != nil {
		m.errors.Add(ctx, 1, attrs)
	}
}

func recordVectorSearch(ctx context.Context, provider Provider, matches []Match) {
	m := loadMetrics()
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(providerAttr(provider))
	m.results.Record(ctx, int64(len(matches)), attrs)
	if len(matches) > 0 {
		m.topScore.Record(ctx, matches[0].Score, attrs)
	}
}

func trackVectorPool(poolID string, pool *pgxpool.Pool) {
	if pool == nil || loadMetrics() == nil {
		return
	}
	pools.Store(labelValue(poolID), pool)
}

func untrackVectorPool(poolID string) {
	pools.Delete(labelValue(poolID))
}

func labelValue(value string) string {
	if v := strings.ToLower(strings.TrimSpace(value)); v != "" {
		return v
	}
	return "unknown"
}
