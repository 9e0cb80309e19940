// Package metrics turns scheduler bus events into Prometheus series.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"remindbot/internal/eventbus"
	"remindbot/internal/reconcile"
	"remindbot/internal/rsvp"
	"remindbot/internal/task/engine"
	logx "remindbot/pkg/logx"
)

const namespace = "remindbot"

// Collector owns a private registry; nothing is registered globally.
type Collector struct {
	reg *prometheus.Registry
	log logx.Logger

	jobsScheduled  prometheus.Counter
	jobsCanceled   prometheus.Counter
	jobsFired      *prometheus.CounterVec
	jobsDropped    *prometheus.CounterVec
	delivered      *prometheus.CounterVec
	deliveryFailed *prometheus.CounterVec
	consumed       prometheus.Counter
	rsvpVotes      *prometheus.CounterVec
	reconcileRuns  prometheus.Counter
	reconcileJobs  prometheus.Gauge
	tasks          *prometheus.CounterVec
	taskDuration   prometheus.Histogram
}

func New(log logx.Logger) *Collector {
	if log.IsZero() {
		log = logx.Nop()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Collector{
		reg: reg,
		log: log.With(logx.String("comp", "metrics")),
		jobsScheduled: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_scheduled_total",
			Help: "Jobs armed in the job table.",
		}),
		jobsCanceled: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_canceled_total",
			Help: "Jobs removed from the job table before firing.",
		}),
		jobsFired: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_fired_total",
			Help: "Job fires handed to the task engine.",
		}, []string{"kind", "fire"}),
		jobsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_dropped_total",
			Help: "Job fires the task engine rejected; the fire is lost.",
		}, []string{"kind", "fire"}),
		delivered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "deliveries_total",
			Help: "Messages delivered for job fires.",
		}, []string{"kind"}),
		deliveryFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "delivery_failures_total",
			Help: "Job fires whose message could not be delivered.",
		}, []string{"kind"}),
		consumed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reminders_consumed_total",
			Help: "One-shot reminders removed after firing.",
		}),
		rsvpVotes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "rsvp_votes_total",
			Help: "RSVP votes recorded.",
		}, []string{"status"}),
		reconcileRuns: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reconcile_runs_total",
			Help: "Completed reconciliation passes.",
		}),
		reconcileJobs: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "reconcile_installed_jobs",
			Help: "Jobs installed by the last reconciliation pass.",
		}),
		tasks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "tasks_total",
			Help: "Task engine executions by result.",
		}, []string{"result"}),
		taskDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "task_duration_seconds",
			Help:    "Task engine execution time.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}
}

// TrackJobs exposes the current job table size, read on each scrape.
func (c *Collector) TrackJobs(size func() int) {
	c.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Name: "jobs_armed",
		Help: "Jobs currently armed in the job table.",
	}, func() float64 { return float64(size()) }))
}

func (c *Collector) Registry() *prometheus.Registry { return c.reg }

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

func fireLabel(d eventbus.JobData) string {
	if d.Lead > 0 {
		return "lead"
	}
	return "primary"
}

// Observe applies one bus event. Unknown types are ignored.
func (c *Collector) Observe(e eventbus.Event) {
	switch e.Type {
	case eventbus.TypeJobScheduled:
		c.jobsScheduled.Inc()
	case eventbus.TypeJobCanceled:
		c.jobsCanceled.Inc()
	case eventbus.TypeJobFired:
		if d, ok := e.Data.(eventbus.JobData); ok {
			c.jobsFired.WithLabelValues(d.Kind, fireLabel(d)).Inc()
		}
	case eventbus.TypeJobDropped:
		if d, ok := e.Data.(eventbus.JobData); ok {
			c.jobsDropped.WithLabelValues(d.Kind, fireLabel(d)).Inc()
		}
	case eventbus.TypeDelivered:
		if d, ok := e.Data.(eventbus.JobData); ok {
			c.delivered.WithLabelValues(d.Kind).Inc()
		}
	case eventbus.TypeDeliveryFailed:
		if d, ok := e.Data.(eventbus.JobData); ok {
			c.deliveryFailed.WithLabelValues(d.Kind).Inc()
		}
	case eventbus.TypeItemConsumed:
		c.consumed.Inc()
	case eventbus.TypeRSVPUpdated:
		if u, ok := e.Data.(rsvp.Update); ok {
			c.rsvpVotes.WithLabelValues(string(u.Status)).Inc()
		}
	case eventbus.TypeReconcileFinish:
		c.reconcileRuns.Inc()
		if r, ok := e.Data.(reconcile.Report); ok {
			c.reconcileJobs.Set(float64(r.Installed))
		}
	case eventbus.TypeTaskFinished:
		if t, ok := e.Data.(engine.TaskEvent); ok {
			result := "ok"
			if t.Error != "" {
				result = "error"
			}
			c.tasks.WithLabelValues(result).Inc()
			c.taskDuration.Observe(t.Duration.Seconds())
		}
	}
}

// Attach subscribes to bus immediately and returns the loop that consumes
// the subscription until ctx ends. Subscribing before the loop starts means
// events published in between are buffered, not lost. A slow collector drops
// events rather than blocking publishers.
func (c *Collector) Attach(bus eventbus.Bus) func(ctx context.Context) error {
	ch, unsub := bus.Subscribe(512)
	return func(ctx context.Context) error {
		defer unsub()
		c.log.Debug("metrics collector started")
		for {
			select {
			case <-ctx.Done():
				return nil
			case e, ok := <-ch:
				if !ok {
					return nil
				}
				c.Observe(e)
			}
		}
	}
}
