// Package observability provides OpenTelemetry metrics exported in Prometheus
// format and optional OTLP tracing.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ternarybob/drover/internal/interfaces"
	"github.com/ternarybob/drover/internal/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "github.com/ternarybob/drover"

// Metrics owns the meter provider and the instruments recorded by the master
type Metrics struct {
	provider *sdkmetric.MeterProvider
	handler  http.Handler
	meter    metric.Meter

	events       metric.Int64Counter
	httpRequests metric.Int64Counter
	httpDuration metric.Float64Histogram
}

// NewMetrics creates a meter provider backed by a Prometheus exporter on its
// own registry and installs it as the global provider.
func NewMetrics() (*Metrics, error) {
	registry := promclient.NewRegistry()

	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	m := &Metrics{
		provider: provider,
		handler:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		meter:    provider.Meter(meterName),
	}

	if m.events, err = m.meter.Int64Counter("drover.events",
		metric.WithDescription("Events published on the event bus, by type")); err != nil {
		return nil, err
	}
	if m.httpRequests, err = m.meter.Int64Counter("drover.http.requests",
		metric.WithDescription("HTTP requests served, by method and status")); err != nil {
		return nil, err
	}
	if m.httpDuration, err = m.meter.Float64Histogram("drover.http.duration",
		metric.WithDescription("HTTP request latency"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}

	return m, nil
}

// Handler serves the Prometheus scrape endpoint
func (m *Metrics) Handler() http.Handler {
	return m.handler
}

// Shutdown flushes and stops the meter provider
func (m *Metrics) Shutdown(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}

// SubscribeEvents counts every event published on the bus by type
func (m *Metrics) SubscribeEvents(events interfaces.EventService) error {
	handler := func(ctx context.Context, event interfaces.Event) error {
		m.events.Add(ctx, 1, metric.WithAttributes(attribute.String("type", string(event.Type))))
		return nil
	}
	for _, eventType := range interfaces.AllEventTypes {
		if err := events.Subscribe(eventType, handler); err != nil {
			return err
		}
	}
	return nil
}

// RegisterFleetGauges exposes fleet and queue state as gauges read at scrape time
func (m *Metrics) RegisterFleetGauges(stats func() models.FleetStats, queueLen func(ctx context.Context) (int, error)) error {
	total, err := m.meter.Int64ObservableGauge("drover.workers.registered", metric.WithDescription("Registered workers"))
	if err != nil {
		return err
	}
	online, err := m.meter.Int64ObservableGauge("drover.workers.online", metric.WithDescription("Workers accepting jobs"))
	if err != nil {
		return err
	}
	busy, err := m.meter.Int64ObservableGauge("drover.workers.busy", metric.WithDescription("Workers at capacity"))
	if err != nil {
		return err
	}
	active, err := m.meter.Int64ObservableGauge("drover.jobs.active", metric.WithDescription("Jobs running on workers"))
	if err != nil {
		return err
	}
	queued, err := m.meter.Int64ObservableGauge("drover.queue.depth", metric.WithDescription("Jobs waiting for assignment"))
	if err != nil {
		return err
	}

	_, err = m.meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		s := stats()
		o.ObserveInt64(total, int64(s.TotalWorkers))
		o.ObserveInt64(online, int64(s.OnlineWorkers))
		o.ObserveInt64(busy, int64(s.BusyWorkers))
		o.ObserveInt64(active, int64(s.TotalActiveJobs))
		if n, err := queueLen(ctx); err == nil {
			o.ObserveInt64(queued, int64(n))
		}
		return nil
	}, total, online, busy, active, queued)
	return err
}

// RecordRequest records one served HTTP request
func (m *Metrics) RecordRequest(ctx context.Context, method string, status int, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("status", strconv.Itoa(status)),
	)
	m.httpRequests.Add(ctx, 1, attrs)
	m.httpDuration.Record(ctx, elapsed.Seconds(), attrs)
}
