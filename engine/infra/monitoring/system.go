package monitoring

import (
	"context"
	"errors"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/compozy/policyrag/engine/infra/monitoring/metrics"
	"github.com/compozy/policyrag/pkg/logger"
)

const unknownBuildValue = "unknown"

// Set via ldflags, e.g.
// -X 'github.com/compozy/policyrag/engine/infra/monitoring.Version=v1.0.0'
var (
	Version    = unknownBuildValue
	CommitHash = unknownBuildValue
)

// Build describes the running binary.
type Build struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	GoVersion string `json:"go_version"`
}

// CurrentBuild prefers the ldflags values and falls back to the module build info.
func CurrentBuild() Build {
	b := Build{Version: Version, Commit: CommitHash, GoVersion: runtime.Version()}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return b
	}
	if b.Version == unknownBuildValue && info.Main.Version != "" && info.Main.Version != "(devel)" {
		b.Version = info.Main.Version
	}
	if b.Commit == unknownBuildValue {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" {
				b.Commit = s.Value
				break
			}
		}
	}
	return b
}

type systemMetrics struct {
	started  time.Time
	uptime   metric.Float64ObservableGauge
	build    metric.Int64ObservableGauge
	callback metric.Registration
}

var (
	systemMu sync.Mutex
	system   *systemMetrics
)

func newSystemMetrics(meter metric.Meter, b Build) (*systemMetrics, error) {
	s := &systemMetrics{started: time.Now()}
	var errUptime, errBuild error
	s.uptime, errUptime = meter.Float64ObservableGauge(metrics.MetricName("uptime_seconds"),
		metric.WithDescription("Service uptime in seconds"), metric.WithUnit("s"))
	s.build, errBuild = meter.Int64ObservableGauge(metrics.MetricName("build_info"),
		metric.WithDescription("Build information (value=1)"))
	if err := errors.Join(errUptime, errBuild); err != nil {
		return nil, err
	}
	buildAttrs := metric.WithAttributes(
		attribute.String("version", b.Version),
		attribute.String("commit_hash", b.Commit),
		attribute.String("go_version", b.GoVersion),
	)
	reg, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveFloat64(s.uptime, time.Since(s.started).Seconds())
		o.ObserveInt64(s.build, 1, buildAttrs)
		return nil
	}, s.uptime, s.build)
	if err != nil {
		return nil, err
	}
	s.callback = reg
	return s, nil
}

// InitSystemMetrics registers uptime and build info on meter. Only the first
// call registers; later calls are ignored until ResetSystemMetricsForTesting.
func InitSystemMetrics(ctx context.Context, meter metric.Meter) {
	systemMu.Lock()
	defer systemMu.Unlock()
	if system != nil || meter == nil {
		return
	}
	b := CurrentBuild()
	s, err := newSystemMetrics(meter, b)
	if err != nil {
		logger.FromContext(ctx).Error("Failed to register system metrics", "error", err)
		return
	}
	system = s
	logger.FromContext(ctx).Debug("System metrics initialized",
		"version", b.Version, "commit", b.Commit, "go_version", b.GoVersion)
}

// ResetSystemMetricsForTesting unregisters the system instruments between tests.
func ResetSystemMetricsForTesting() {
	systemMu.Lock()
	defer systemMu.Unlock()
	if system != nil && system.callback != nil {
		_ = system.callback.Unregister()
	}
	system = nil
}
