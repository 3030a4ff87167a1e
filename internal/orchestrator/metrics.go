package orchestrator

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// metrics are recorded on the global meter provider; without an SDK
// installed they are no-ops.
type metrics struct {
	ticks   metric.Int64Counter
	errors  metric.Int64Counter
	intents metric.Int64Counter
}

func newMetrics(logger *slog.Logger) metrics {
	meter := otel.Meter("github.com/lazypower/aide/orchestrator")
	fallback := noop.NewMeterProvider().Meter("aide")

	counter := func(name, desc, unit string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
		if err != nil {
			logger.Warn("metric unavailable", "name", name, "err", err)
			c, _ = fallback.Int64Counter(name)
		}
		return c
	}
	return metrics{
		ticks:   counter("aide.loop.ticks", "Completed loop ticks", "{tick}"),
		errors:  counter("aide.loop.errors", "Loop ticks that failed or panicked", "{error}"),
		intents: counter("aide.intents", "Intents by final outcome", "{intent}"),
	}
}

func (m metrics) tick(ctx context.Context, loop string) {
	m.ticks.Add(ctx, 1, metric.WithAttributes(attribute.String("loop", loop)))
}

func (m metrics) tickError(ctx context.Context, loop string) {
	m.errors.Add(ctx, 1, metric.WithAttributes(attribute.String("loop", loop)))
}

func (m metrics) intent(ctx context.Context, tool, outcome string) {
	m.intents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("outcome", outcome),
	))
}
