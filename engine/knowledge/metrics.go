package knowledge

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/compozy/policyrag/engine/infra/monitoring/metrics"
)

// Consistency gap lifecycle states reported by RecordConsistencyGap.
const (
	GapDetected   = "detected"
	GapResolved   = "resolved"
	GapRolledBack = "rolled_back"
)

type pipelineMetrics struct {
	ingestDuration metric.Float64Histogram
	chunks         metric.Int64Counter
	queryLatency   metric.Float64Histogram
	emptyResults   metric.Int64Counter
	answers        metric.Int64Counter
	gaps           metric.Int64Counter
}

var (
	metricsMu     sync.Mutex
	pipeline      *pipelineMetrics
	pipelineBuilt bool
)

func buildPipelineMetrics(meter metric.Meter) (*pipelineMetrics, error) {
	name := func(s string) string { return metrics.MetricNameWithSubsystem("knowledge", s) }
	m := &pipelineMetrics{}
	var errs []error
	collect := func(err error) { errs = append(errs, err) }
	var err error
	m.ingestDuration, err = meter.Float64Histogram(name("ingest_duration_seconds"),
		metric.WithDescription("Latency of document ingestion runs"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120))
	collect(err)
	m.chunks, err = meter.Int64Counter(name("chunks_total"),
		metric.WithDescription("Number of chunks indexed"))
	collect(err)
	m.queryLatency, err = meter.Float64Histogram(name("query_latency_seconds"),
		metric.WithDescription("Latency of retrieval for answered questions"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(metrics.LatencyBuckets...))
	collect(err)
	m.emptyResults, err = meter.Int64Counter(name("retrieval_empty_total"),
		metric.WithDescription("Number of questions that matched no passages"))
	collect(err)
	m.answers, err = meter.Int64Counter(name("answers_total"),
		metric.WithDescription("Number of synthesized answers by grounding outcome"))
	collect(err)
	m.gaps, err = meter.Int64Counter(name("consistency_gaps_total"),
		metric.WithDescription("Consistency gaps by lifecycle state"))
	collect(err)
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return m, nil
}

// current returns the instruments bound to the global meter provider, or nil
// when they could not be created.
func current() *pipelineMetrics {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	if !pipelineBuilt {
		pipelineBuilt = true
		pipeline, _ = buildPipelineMetrics(otel.GetMeterProvider().Meter("policyrag.knowledge"))
	}
	return pipeline
}

func namespaceAttr(namespace string) attribute.KeyValue {
	return attribute.String("namespace", namespace)
}

func RecordIngestDuration(ctx context.Context, namespace string, outcome string, d time.Duration) {
	if m := current(); m != nil {
		m.ingestDuration.Record(ctx, d.Seconds(),
			metric.WithAttributes(namespaceAttr(namespace), attribute.String("outcome", outcome)))
	}
}

func RecordIngestChunks(ctx context.Context, namespace string, chunks int) {
	if chunks <= 0 {
		return
	}
	if m := current(); m != nil {
		m.chunks.Add(ctx, int64(chunks), metric.WithAttributes(namespaceAttr(namespace)))
	}
}

func RecordQueryLatency(ctx context.Context, namespace string, d time.Duration) {
	if m := current(); m != nil {
		m.queryLatency.Record(ctx, d.Seconds(), metric.WithAttributes(namespaceAttr(namespace)))
	}
}

func RecordRetrievalEmpty(ctx context.Context, namespace string) {
	if m := current(); m != nil {
		m.emptyResults.Add(ctx, 1, metric.WithAttributes(namespaceAttr(namespace)))
	}
}

func RecordAnswer(ctx context.Context, namespace string, grounded bool) {
	if m := current(); m != nil {
		m.answers.Add(ctx, 1,
			metric.WithAttributes(namespaceAttr(namespace), attribute.Bool("grounded", grounded)))
	}
}

// RecordConsistencyGap counts a gap transition; state is one of the Gap* constants.
func RecordConsistencyGap(ctx context.Context, namespace string, state string) {
	if m := current(); m != nil {
		m.gaps.Add(ctx, 1,
			metric.WithAttributes(namespaceAttr(namespace), attribute.String("state", state)))
	}
}

// ResetMetricsForTesting drops the instruments so the next record binds to
// the current global meter provider.
func ResetMetricsForTesting() {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	pipeline, pipelineBuilt = nil, false
}
