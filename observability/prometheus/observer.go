// Package prometheus exports FramePool events as Prometheus metrics.
package prometheus

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	executor "github.com/vearne/frameexecutor"
)

// Observer implements executor.Observer.
type Observer struct {
	ExecutorsSpawned   prometheus.Counter
	ExecutorsDiscarded *prometheus.CounterVec
	Executors          prometheus.Gauge
	Bootstraps         *prometheus.CounterVec
	BootstrapDuration  *prometheus.HistogramVec
	TasksTotal         *prometheus.CounterVec
	TaskDuration       prometheus.Histogram
	Queue              prometheus.Gauge
}

var _ executor.Observer = (*Observer)(nil)

// NewObserver registers the pool metrics with registerer.
// A nil registerer falls back to prometheus.DefaultRegisterer.
func NewObserver(registerer prometheus.Registerer) *Observer {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &Observer{
		ExecutorsSpawned: factory.NewCounter(prometheus.CounterOpts{
			Name: "framepool_executors_spawned_total",
			Help: "Total number of executors created",
		}),
		ExecutorsDiscarded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "framepool_executors_discarded_total",
			Help: "Total number of executors discarded after a fault",
		}, []string{"reason"}),
		Executors: factory.NewGauge(prometheus.GaugeOpts{
			Name: "framepool_executors",
			Help: "Number of live executors",
		}),
		Bootstraps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "framepool_bootstraps_total",
			Help: "Executor bootstraps by kind (construct, resume) and outcome",
		}, []string{"kind", "outcome"}),
		BootstrapDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "framepool_bootstrap_duration_seconds",
			Help:    "Executor bootstrap duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8), // 1ms to ~16s
		}, []string{"kind"}),
		TasksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "framepool_tasks_total",
			Help: "Finished frame tasks by outcome",
		}, []string{"outcome"}),
		TaskDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "framepool_task_duration_seconds",
			Help:    "Frame computation duration in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		Queue: factory.NewGauge(prometheus.GaugeOpts{
			Name: "framepool_queue_length",
			Help: "Number of frames waiting for an executor",
		}),
	}
}

func (o *Observer) ExecutorSpawned(string) {
	o.ExecutorsSpawned.Inc()
	o.Executors.Inc()
}

func (o *Observer) ExecutorDiscarded(_ string, err error) {
	o.ExecutorsDiscarded.WithLabelValues(reason(err)).Inc()
	o.Executors.Dec()
}

func (o *Observer) BootstrapFinished(_ string, constructed bool, d time.Duration, err error) {
	kind := "resume"
	if constructed {
		kind = "construct"
	}
	o.Bootstraps.WithLabelValues(kind, outcome(err)).Inc()
	o.BootstrapDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (o *Observer) TaskFinished(d time.Duration, err error) {
	o.TasksTotal.WithLabelValues(outcome(err)).Inc()
	if err == nil {
		o.TaskDuration.Observe(d.Seconds())
	}
}

func (o *Observer) QueueLength(n int) {
	o.Queue.Set(float64(n))
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, executor.ErrPoolClosed):
		return "closed"
	case errors.Is(err, executor.ErrReplyTimeout):
		return "timeout"
	}
	return "error"
}

func reason(err error) string {
	switch {
	case errors.Is(err, executor.ErrReplyTimeout):
		return "timeout"
	case errors.Is(err, executor.ErrExecutorCrashed):
		return "crash"
	case errors.Is(err, executor.ErrDoubleInitialization),
		errors.Is(err, executor.ErrComputeBeforeInit),
		errors.Is(err, executor.ErrMalformedInput):
		return "protocol"
	case errors.Is(err, executor.ErrPoolClosed):
		return "closed"
	}
	return "other"
}
