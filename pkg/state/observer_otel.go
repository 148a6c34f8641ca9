package state

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// OTelObserver implements Observer using OpenTelemetry for traces and metrics.
// Cleanup passes become spans; tasks and handle traffic are recorded as span
// events on whatever span is active in the caller's context.
//
// Example:
//
//	observer, _ := state.NewOTelObserver(otel.Tracer("gwstate"), otel.Meter("gwstate"))
type OTelObserver struct {
	tracer trace.Tracer

	// Metrics
	storeResolveLatency metric.Float64Histogram
	handleAllocations   metric.Int64Counter
	handleDisposals     metric.Int64Counter
	liveHandles         metric.Int64UpDownCounter
	cleanupDuration     metric.Float64Histogram
	cleanupTasks        metric.Int64Counter
	cleanupFailures     metric.Int64Counter
}

// NewOTelObserver creates an OpenTelemetry observer.
func NewOTelObserver(tracer trace.Tracer, meter metric.Meter) (*OTelObserver, error) {
	storeResolveLatency, err := meter.Float64Histogram(
		"gwstate.store.resolve_latency",
		metric.WithDescription("Latency of store lookups in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store latency histogram: %w", err)
	}

	handleAllocations, err := meter.Int64Counter(
		"gwstate.handle.allocations",
		metric.WithDescription("Number of handle allocation attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create allocations counter: %w", err)
	}

	handleDisposals, err := meter.Int64Counter(
		"gwstate.handle.disposals",
		metric.WithDescription("Number of handle disposals"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create disposals counter: %w", err)
	}

	liveHandles, err := meter.Int64UpDownCounter(
		"gwstate.handle.live",
		metric.WithDescription("Number of live handles"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create live handles counter: %w", err)
	}

	cleanupDuration, err := meter.Float64Histogram(
		"gwstate.cleanup.duration",
		metric.WithDescription("Duration of cleanup passes in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cleanup duration histogram: %w", err)
	}

	cleanupTasks, err := meter.Int64Counter(
		"gwstate.cleanup.tasks",
		metric.WithDescription("Number of cleanup tasks and sweeps executed"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cleanup tasks counter: %w", err)
	}

	cleanupFailures, err := meter.Int64Counter(
		"gwstate.cleanup.failures",
		metric.WithDescription("Number of failed cleanup tasks and sweeps"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cleanup failures counter: %w", err)
	}

	return &OTelObserver{
		tracer:              tracer,
		storeResolveLatency: storeResolveLatency,
		handleAllocations:   handleAllocations,
		handleDisposals:     handleDisposals,
		liveHandles:         liveHandles,
		cleanupDuration:     cleanupDuration,
		cleanupTasks:        cleanupTasks,
		cleanupFailures:     cleanupFailures,
	}, nil
}

func (o *OTelObserver) OnStoreResolve(ctx context.Context, event *StoreResolveEvent) {
	o.storeResolveLatency.Record(ctx, event.Latency.Seconds(), metric.WithAttributes(
		attribute.String("id_type", event.IDType),
		attribute.Bool("success", event.Error == nil),
	))
}

func (o *OTelObserver) OnHandleAllocate(ctx context.Context, event *HandleAllocateEvent) {
	o.handleAllocations.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("success", event.Error == nil),
	))
	if event.Error == nil {
		o.liveHandles.Add(ctx, 1)
	}

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		span.AddEvent("handle_allocate", trace.WithAttributes(
			attribute.String("handle_id", event.HandleID.String()),
			attribute.String("store", event.Store),
			attribute.String("entity_id", event.EntityID),
			attribute.Bool("success", event.Error == nil),
		))
	}
}

func (o *OTelObserver) OnHandleDispose(ctx context.Context, event *HandleDisposeEvent) {
	o.handleDisposals.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("success", event.Error == nil),
		attribute.Bool("removed", event.Removed),
	))
	if event.Error == nil {
		o.liveHandles.Add(ctx, -1)
	}

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		span.AddEvent("handle_dispose", trace.WithAttributes(
			attribute.String("handle_id", event.HandleID.String()),
			attribute.String("store", event.Store),
			attribute.Bool("removed", event.Removed),
			attribute.Bool("success", event.Error == nil),
		))
	}
}

// StartCleanupScope starts the span a cleanup pass runs under, so task
// events and the pass status land on it. The returned func ends the span.
func (o *OTelObserver) StartCleanupScope(ctx context.Context) (context.Context, func()) {
	ctx, span := o.tracer.Start(ctx, "gwstate.cleanup")
	return ctx, func() { span.End() }
}

func (o *OTelObserver) OnCleanupStart(ctx context.Context, event *CleanupStartEvent) {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		span.SetAttributes(
			attribute.Int64("pass", int64(event.Pass)),
			attribute.Int("queued", event.Queued),
		)
	}
}

func (o *OTelObserver) OnCleanupTask(ctx context.Context, event *CleanupTaskEvent) {
	attrs := []attribute.KeyValue{
		attribute.Bool("sweep", event.Sweep),
		attribute.Bool("success", event.Error == nil),
		attribute.Bool("panicked", event.Panicked),
	}
	o.cleanupTasks.Add(ctx, 1, metric.WithAttributes(attrs...))
	if event.Error != nil {
		o.cleanupFailures.Add(ctx, 1, metric.WithAttributes(attribute.Bool("sweep", event.Sweep)))
	}

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		span.AddEvent("cleanup_task", trace.WithAttributes(
			attribute.String("task", event.Name),
			attribute.Bool("sweep", event.Sweep),
			attribute.String("duration", event.Duration.String()),
		))
		if event.Error != nil {
			span.RecordError(event.Error)
		}
	}
}

func (o *OTelObserver) OnCleanupEnd(ctx context.Context, event *CleanupEndEvent) {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		if event.Error != nil {
			span.SetStatus(codes.Error, event.Error.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.SetAttributes(
			attribute.Int("tasks", event.Tasks),
			attribute.Int("failures", event.Failures),
		)
	}

	o.cleanupDuration.Record(ctx, event.Duration.Seconds(), metric.WithAttributes(
		attribute.Bool("success", event.Error == nil),
	))
}
