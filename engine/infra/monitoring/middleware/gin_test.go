package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestHTTPMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	t.Run("Should record route template and status", func(t *testing.T) {
		ResetMetricsForTesting()
		t.Cleanup(ResetMetricsForTesting)
		reader := sdkmetric.NewManualReader()
		meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test")
		router := gin.New()
		router.Use(HTTPMetrics(meter))
		router.GET("/documents/:id", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"id": c.Param("id")})
		})
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/documents/abc", http.NoBody))
		require.Equal(t, http.StatusOK, rec.Code)

		got := collect(t, reader)
		total, ok := got["policyrag_http_requests_total"]
		require.True(t, ok)
		sum, ok := total.Data.(metricdata.Sum[int64])
		require.True(t, ok)
		require.Len(t, sum.DataPoints, 1)
		point := sum.DataPoints[0]
		assert.EqualValues(t, 1, point.Value)
		path, _ := point.Attributes.Value(attribute.Key("path"))
		assert.Equal(t, "/documents/:id", path.AsString())
		status, _ := point.Attributes.Value(attribute.Key("status_code"))
		assert.Equal(t, "200", status.AsString())
		_, ok = got["policyrag_http_request_duration_seconds"]
		assert.True(t, ok)
	})

	t.Run("Should label unmatched routes", func(t *testing.T) {
		ResetMetricsForTesting()
		t.Cleanup(ResetMetricsForTesting)
		reader := sdkmetric.NewManualReader()
		meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test")
		router := gin.New()
		router.Use(HTTPMetrics(meter))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", http.NoBody))
		assert.Equal(t, http.StatusNotFound, rec.Code)

		sum, ok := collect(t, reader)["policyrag_http_requests_total"].Data.(metricdata.Sum[int64])
		require.True(t, ok)
		require.Len(t, sum.DataPoints, 1)
		path, _ := sum.DataPoints[0].Attributes.Value(attribute.Key("path"))
		assert.Equal(t, "unmatched", path.AsString())
	})

	t.Run("Should pass through without meter", func(t *testing.T) {
		ResetMetricsForTesting()
		router := gin.New()
		router.Use(HTTPMetrics(nil))
		router.GET("/ok", func(c *gin.Context) { c.Status(http.StatusNoContent) })
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ok", http.NoBody))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}
