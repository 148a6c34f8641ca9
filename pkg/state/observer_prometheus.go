package state

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusObserver implements Observer using Prometheus metrics.
//
// Example:
//
//	observer := state.NewPrometheusObserver("mybot", prometheus.DefaultRegisterer)
//	ctrl := state.NewController(provider, state.WithObserver(observer))
type PrometheusObserver struct {
	storeResolveLatency *prometheus.HistogramVec
	handleAllocations   *prometheus.CounterVec
	handleDisposals     *prometheus.CounterVec
	liveHandles         prometheus.Gauge
	cleanupDuration     *prometheus.HistogramVec
	cleanupTasks        *prometheus.CounterVec
	cleanupTaskDuration *prometheus.HistogramVec
}

// NewPrometheusObserver creates a Prometheus observer with the given namespace.
// All metrics will be prefixed with "{namespace}_gwstate_".
func NewPrometheusObserver(namespace string, registerer prometheus.Registerer) *PrometheusObserver {
	if namespace == "" {
		namespace = "gateway"
	}

	storeResolveLatency := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gwstate",
			Name:      "store_resolve_latency_seconds",
			Help:      "Latency of store lookups in seconds",
			Buckets:   []float64{0.0001, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"status"},
	)

	handleAllocations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gwstate",
			Name:      "handle_allocations_total",
			Help:      "Total number of handle allocation attempts",
		},
		[]string{"status"},
	)

	handleDisposals := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gwstate",
			Name:      "handle_disposals_total",
			Help:      "Total number of handle disposals",
		},
		[]string{"status", "removed"},
	)

	liveHandles := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gwstate",
			Name:      "live_handles",
			Help:      "Number of handles currently registered",
		},
	)

	cleanupDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gwstate",
			Name:      "cleanup_pass_duration_seconds",
			Help:      "Duration of cleanup passes in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	cleanupTasks := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gwstate",
			Name:      "cleanup_tasks_total",
			Help:      "Total number of cleanup tasks and sweeps executed",
		},
		[]string{"kind", "status"},
	)

	cleanupTaskDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gwstate",
			Name:      "cleanup_task_duration_seconds",
			Help:      "Duration of individual cleanup tasks in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// Register all metrics
	registerer.MustRegister(
		storeResolveLatency,
		handleAllocations,
		handleDisposals,
		liveHandles,
		cleanupDuration,
		cleanupTasks,
		cleanupTaskDuration,
	)

	return &PrometheusObserver{
		storeResolveLatency: storeResolveLatency,
		handleAllocations:   handleAllocations,
		handleDisposals:     handleDisposals,
		liveHandles:         liveHandles,
		cleanupDuration:     cleanupDuration,
		cleanupTasks:        cleanupTasks,
		cleanupTaskDuration: cleanupTaskDuration,
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (o *PrometheusObserver) OnStoreResolve(ctx context.Context, event *StoreResolveEvent) {
	o.storeResolveLatency.WithLabelValues(status(event.Error)).Observe(event.Latency.Seconds())
}

func (o *PrometheusObserver) OnHandleAllocate(ctx context.Context, event *HandleAllocateEvent) {
	o.handleAllocations.WithLabelValues(status(event.Error)).Inc()
	if event.Error == nil {
		o.liveHandles.Set(float64(event.Live))
	}
}

func (o *PrometheusObserver) OnHandleDispose(ctx context.Context, event *HandleDisposeEvent) {
	removed := "false"
	if event.Removed {
		removed = "true"
	}
	o.handleDisposals.WithLabelValues(status(event.Error), removed).Inc()
	if event.Error == nil {
		o.liveHandles.Set(float64(event.Live))
	}
}

func (o *PrometheusObserver) OnCleanupStart(ctx context.Context, event *CleanupStartEvent) {
	// Nothing to do on start for Prometheus
}

func (o *PrometheusObserver) OnCleanupTask(ctx context.Context, event *CleanupTaskEvent) {
	kind := "task"
	if event.Sweep {
		kind = "sweep"
	}
	taskStatus := status(event.Error)
	if event.Panicked {
		taskStatus = "panic"
	}
	o.cleanupTasks.WithLabelValues(kind, taskStatus).Inc()
	o.cleanupTaskDuration.WithLabelValues(kind).Observe(event.Duration.Seconds())
}

func (o *PrometheusObserver) OnCleanupEnd(ctx context.Context, event *CleanupEndEvent) {
	o.cleanupDuration.WithLabelValues(status(event.Error)).Observe(event.Duration.Seconds())
}
