package session

import (
	"context"
	"log/slog"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// sessionMetrics wraps the OTel instruments for the controller. Counter adds
// happen on the controller loop; the failure gauge is observed asynchronously,
// so it is kept in an atomic.
type sessionMetrics struct {
	restarts  metric.Int64Counter
	recreates metric.Int64Counter
	errors    metric.Int64Counter
	captions  metric.Int64Counter
	failures  atomic.Int64
}

func newSessionMetrics(log *slog.Logger) *sessionMetrics {
	m := &sessionMetrics{}
	meter := otel.Meter("github.com/livecap/livecapd/session")

	var err error
	if m.restarts, err = meter.Int64Counter("livecap.session.restarts",
		metric.WithDescription("Engine restarts by trigger")); err != nil {
		log.Warn("failed to initialize session metrics", slog.String("error", err.Error()))
		return m
	}
	m.recreates, _ = meter.Int64Counter("livecap.session.recreations",
		metric.WithDescription("Engine instance recreations"))
	m.errors, _ = meter.Int64Counter("livecap.engine.errors",
		metric.WithDescription("Engine errors by kind"))
	m.captions, _ = meter.Int64Counter("livecap.captions",
		metric.WithDescription("Caption results by finality"))

	gauge, err := meter.Int64ObservableGauge("livecap.session.consecutive_failures",
		metric.WithDescription("Current consecutive restart failures"))
	if err == nil {
		_, _ = meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
			obs.ObserveInt64(gauge, m.failures.Load())
			return nil
		}, gauge)
	}
	return m
}

func (m *sessionMetrics) restart(trigger Trigger) {
	if m.restarts == nil {
		return
	}
	m.restarts.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("trigger", trigger.String())))
}

func (m *sessionMetrics) recreate() {
	if m.recreates == nil {
		return
	}
	m.recreates.Add(context.Background(), 1)
}

func (m *sessionMetrics) engineError(kind string) {
	if m.errors == nil {
		return
	}
	m.errors.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *sessionMetrics) caption(final bool) {
	if m.captions == nil {
		return
	}
	m.captions.Add(context.Background(), 1,
		metric.WithAttributes(attribute.Bool("final", final)))
}

func (m *sessionMetrics) setFailures(n int) {
	m.failures.Store(int64(n))
}
