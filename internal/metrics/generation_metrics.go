package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("workflow-metrics")

// GenerationMetrics provides metrics collection for generation calls and
// workflow state handling
type GenerationMetrics struct {
	callsCounter         metric.Int64Counter
	failuresCounter      metric.Int64Counter
	retriesCounter       metric.Int64Counter
	callDurationHist     metric.Float64Histogram
	callsActiveGauge     metric.Int64UpDownCounter
	evictionsCounter     metric.Int64Counter
	staleDiscardsCounter metric.Int64Counter
	persistenceCounter   metric.Int64Counter
}

// NewGenerationMetrics creates a new generation metrics collector
func NewGenerationMetrics() (*GenerationMetrics, error) {
	callsCounter, err := meter.Int64Counter(
		"domain_orchestrator.generation.calls",
		metric.WithDescription("Total number of generation service calls"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	failuresCounter, err := meter.Int64Counter(
		"domain_orchestrator.generation.failures",
		metric.WithDescription("Total number of failed generation service calls"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	retriesCounter, err := meter.Int64Counter(
		"domain_orchestrator.generation.retries",
		metric.WithDescription("Total number of retried generation attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	callDurationHist, err := meter.Float64Histogram(
		"domain_orchestrator.generation.duration",
		metric.WithDescription("Duration of generation service calls in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	callsActiveGauge, err := meter.Int64UpDownCounter(
		"domain_orchestrator.generation.active",
		metric.WithDescription("Number of generation calls in flight"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	evictionsCounter, err := meter.Int64Counter(
		"domain_orchestrator.cache.evictions",
		metric.WithDescription("Total number of stale derived artifacts evicted"),
		metric.WithUnit("{artifact}"),
	)
	if err != nil {
		return nil, err
	}

	staleDiscardsCounter, err := meter.Int64Counter(
		"domain_orchestrator.generation.stale_discards",
		metric.WithDescription("Responses discarded because their inputs changed in flight"),
		metric.WithUnit("{response}"),
	)
	if err != nil {
		return nil, err
	}

	persistenceCounter, err := meter.Int64Counter(
		"domain_orchestrator.state.persistence_warnings",
		metric.WithDescription("State store operations that failed and were downgraded to warnings"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, err
	}

	return &GenerationMetrics{
		callsCounter:         callsCounter,
		failuresCounter:      failuresCounter,
		retriesCounter:       retriesCounter,
		callDurationHist:     callDurationHist,
		callsActiveGauge:     callsActiveGauge,
		evictionsCounter:     evictionsCounter,
		staleDiscardsCounter: staleDiscardsCounter,
		persistenceCounter:   persistenceCounter,
	}, nil
}

// RecordCallStarted records a generation call being dispatched
func (gm *GenerationMetrics) RecordCallStarted(ctx context.Context, endpoint string) {
	if gm == nil {
		return
	}
	gm.callsCounter.Add(ctx, 1,
		metric.WithAttributes(attribute.String("endpoint", endpoint)),
	)
	gm.callsActiveGauge.Add(ctx, 1,
		metric.WithAttributes(attribute.String("endpoint", endpoint)),
	)
}

// RecordCallCompleted records a successful generation call
func (gm *GenerationMetrics) RecordCallCompleted(ctx context.Context, endpoint string, duration time.Duration) {
	if gm == nil {
		return
	}
	gm.callDurationHist.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("endpoint", endpoint),
			attribute.String("status", "completed"),
		),
	)
	gm.callsActiveGauge.Add(ctx, -1,
		metric.WithAttributes(attribute.String("endpoint", endpoint)),
	)
}

// RecordCallFailed records a failed generation call
func (gm *GenerationMetrics) RecordCallFailed(ctx context.Context, endpoint, errorType string, duration time.Duration) {
	if gm == nil {
		return
	}
	gm.failuresCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("endpoint", endpoint),
			attribute.String("error.type", errorType),
		),
	)
	gm.callDurationHist.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("endpoint", endpoint),
			attribute.String("status", "failed"),
		),
	)
	gm.callsActiveGauge.Add(ctx, -1,
		metric.WithAttributes(attribute.String("endpoint", endpoint)),
	)
}

// RecordRetry records a retried attempt of an operation
func (gm *GenerationMetrics) RecordRetry(ctx context.Context, operation string, attempt int) {
	if gm == nil {
		return
	}
	gm.retriesCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.Int("attempt", attempt),
		),
	)
}

// RecordEviction records a stale artifact eviction
func (gm *GenerationMetrics) RecordEviction(ctx context.Context, artifact string) {
	if gm == nil {
		return
	}
	gm.evictionsCounter.Add(ctx, 1,
		metric.WithAttributes(attribute.String("artifact", artifact)),
	)
}

// RecordStaleDiscard records a response dropped because its inputs changed
func (gm *GenerationMetrics) RecordStaleDiscard(ctx context.Context, operation string) {
	if gm == nil {
		return
	}
	gm.staleDiscardsCounter.Add(ctx, 1,
		metric.WithAttributes(attribute.String("operation", operation)),
	)
}

// RecordPersistenceWarning records a failed store operation
func (gm *GenerationMetrics) RecordPersistenceWarning(ctx context.Context, op string) {
	if gm == nil {
		return
	}
	gm.persistenceCounter.Add(ctx, 1,
		metric.WithAttributes(attribute.String("op", op)),
	)
}
