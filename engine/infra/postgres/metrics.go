package postgres

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	monitoringmetrics "github.com/compozy/policyrag/engine/infra/monitoring/metrics"
)

const postgresMeterName = "policyrag.postgres"

// poolGauges publishes pgxpool statistics for one pool through a single
// observable callback.
type poolGauges struct {
	once sync.Once
	reg  metric.Registration
}

func watchPool(label string, pool *pgxpool.Pool) (*poolGauges, error) {
	meter := otel.GetMeterProvider().Meter(postgresMeterName)
	name := func(s string) string { return monitoringmetrics.MetricNameWithSubsystem("postgres", s) }
	open, errOpen := meter.Int64ObservableGauge(name("connections_open"),
		metric.WithDescription("Number of open Postgres connections"))
	inUse, errInUse := meter.Int64ObservableGauge(name("connections_in_use"),
		metric.WithDescription("Number of Postgres connections currently in use"))
	idle, errIdle := meter.Int64ObservableGauge(name("connections_idle"),
		metric.WithDescription("Number of idle Postgres connections"))
	acquires, errAcq := meter.Int64ObservableCounter(name("acquires_total"),
		metric.WithDescription("Connections acquired from the pool"))
	waits, errWait := meter.Int64ObservableCounter(name("empty_acquires_total"),
		metric.WithDescription("Acquires that waited for a free connection"))
	if err := errors.Join(errOpen, errInUse, errIdle, errAcq, errWait); err != nil {
		return nil, err
	}
	attrs := metric.WithAttributes(attribute.String("pool", label))
	reg, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		st := pool.Stat()
		o.ObserveInt64(open, int64(st.TotalConns()), attrs)
		o.ObserveInt64(inUse, int64(st.AcquiredConns()), attrs)
		o.ObserveInt64(idle, int64(st.IdleConns()), attrs)
		o.ObserveInt64(acquires, st.AcquireCount(), attrs)
		o.ObserveInt64(waits, st.EmptyAcquireCount(), attrs)
		return nil
	}, open, inUse, idle, acquires, waits)
	if err != nil {
		return nil, err
	}
	return &poolGauges{reg: reg}, nil
}

func (g *poolGauges) stop() {
	if g == nil {
		return
	}
	g.once.Do(func() { _ = g.reg.Unregister() })
}

// poolLabel names a pool host-port-db with unsafe characters replaced.
func poolLabel(cfg *Config) string {
	clean := strings.NewReplacer(" ", "_", "/", "_", ":", "_", "@", "_")
	parts := make([]string, 0, 3)
	for _, c := range []string{cfg.Host, cfg.Port, cfg.DBName} {
		if s := strings.Trim(clean.Replace(strings.ToLower(strings.TrimSpace(c))), "_"); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return "default"
	}
	return strings.Join(parts, "-")
}
