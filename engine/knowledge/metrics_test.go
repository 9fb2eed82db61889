package knowledge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func withManualReader(t *testing.T) *sdkmetric.ManualReader {
	t.Helper()
	prev := otel.GetMeterProvider()
	reader := sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	ResetMetricsForTesting()
	t.Cleanup(func() {
		ResetMetricsForTesting()
		otel.SetMeterProvider(prev)
	})
	return reader
}

func sumPoints(t *testing.T, reader *sdkmetric.ManualReader, name string) []metricdata.DataPoint[int64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is not an int64 sum", name)
			return sum.DataPoints
		}
	}
	return nil
}

func TestPipelineMetrics(t *testing.T) {
	ctx := context.Background()

	t.Run("Should count answers by grounding", func(t *testing.T) {
		reader := withManualReader(t)
		RecordAnswer(ctx, "policies", true)
		RecordAnswer(ctx, "policies", true)
		RecordAnswer(ctx, "policies", false)

		points := sumPoints(t, reader, "policyrag_knowledge_answers_total")
		require.Len(t, points, 2)
		byGrounded := map[bool]int64{}
		for _, p := range points {
			v, _ := p.Attributes.Value(attribute.Key("grounded"))
			byGrounded[v.AsBool()] = p.Value
		}
		assert.Equal(t, map[bool]int64{true: 2, false: 1}, byGrounded)
	})

	t.Run("Should tag gap transitions", func(t *testing.T) {
		reader := withManualReader(t)
		RecordConsistencyGap(ctx, "policies", GapDetected)

		points := sumPoints(t, reader, "policyrag_knowledge_consistency_gaps_total")
		require.Len(t, points, 1)
		state, _ := points[0].Attributes.Value(attribute.Key("state"))
		assert.Equal(t, GapDetected, state.AsString())
	})

	t.Run("Should skip empty chunk counts", func(t *testing.T) {
		reader := withManualReader(t)
		RecordIngestChunks(ctx, "policies", 0)
		RecordIngestChunks(ctx, "policies", 4)
		RecordIngestDuration(ctx, "policies", "success", time.Second)

		points := sumPoints(t, reader, "policyrag_knowledge_chunks_total")
		require.Len(t, points, 1)
		assert.EqualValues(t, 4, points[0].Value)
	})
}
