// Package metrics exposes Prometheus collectors fed from the event bus and an
// optional HTTP server for /metrics, /healthz and /status.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"postbot/internal/eventbus"
	logx "postbot/pkg/logx"
)

const namespace = "postbot"

// Sources are read on every scrape.
type Sources struct {
	QueueLen    func() int
	PendingJobs func() int
	BusDropped  func() uint64
}

// Metrics groups the instruments. Register once per registry.
type Metrics struct {
	Enqueued      *prometheus.CounterVec
	Duplicates    prometheus.Counter
	Released      *prometheus.CounterVec
	Batches       *prometheus.CounterVec
	BatchSeconds  *prometheus.HistogramVec
	Plans         prometheus.Counter
	PlannedToday  prometheus.Gauge
	AutopostOn    prometheus.Gauge
	LastReleaseAt prometheus.Gauge
}

func New(reg prometheus.Registerer, src Sources) *Metrics {
	m := &Metrics{
		Enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_enqueued_total",
			Help:      "Media items accepted into the queue.",
		}, []string{"kind"}),
		Duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_duplicates_total",
			Help:      "Media items rejected because they were already queued.",
		}),
		Released: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "release_items_total",
			Help:      "Publish attempts by trigger and result.",
		}, []string{"trigger", "result"}),
		Batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "release_batches_total",
			Help:      "Release runs by trigger and selection mode.",
		}, []string{"trigger", "mode"}),
		BatchSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "release_batch_seconds",
			Help:      "Wall time of one release run.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"trigger"}),
		Plans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plans_total",
			Help:      "Daily plans created.",
		}),
		PlannedToday: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "plan_entries",
			Help:      "Entries in the most recent daily plan.",
		}),
		AutopostOn: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "autopost_enabled",
			Help:      "1 while automatic posting is enabled.",
		}),
		LastReleaseAt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "release_last_timestamp_seconds",
			Help:      "Unix time of the last finished release run.",
		}),
	}

	cs := []prometheus.Collector{
		m.Enqueued, m.Duplicates, m.Released, m.Batches, m.BatchSeconds,
		m.Plans, m.PlannedToday, m.AutopostOn, m.LastReleaseAt,
	}
	if src.QueueLen != nil {
		cs = append(cs, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_size",
			Help:      "Items waiting in the queue.",
		}, func() float64 { return float64(src.QueueLen()) }))
	}
	if src.PendingJobs != nil {
		cs = append(cs, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "release_jobs_pending",
			Help:      "Release jobs still scheduled for today.",
		}, func() float64 { return float64(src.PendingJobs()) }))
	}
	if src.BusDropped != nil {
		cs = append(cs, prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "eventbus_dropped_total",
			Help:      "Events lost because a subscriber was full.",
		}, func() float64 { return float64(src.BusDropped()) }))
	}
	reg.MustRegister(cs...)
	return m
}

// Observe updates the instruments for one bus event. Unknown events are ignored.
func (m *Metrics) Observe(e eventbus.Event) {
	switch e.Type {
	case eventbus.QueueEnqueued:
		if ev, ok := e.Data.(eventbus.QueueEvent); ok {
			kind := ev.Kind
			if kind == "" {
				kind = "photo"
			}
			m.Enqueued.WithLabelValues(kind).Inc()
		}
	case eventbus.QueueDuplicate:
		m.Duplicates.Inc()
	case eventbus.ReleaseItem:
		if ev, ok := e.Data.(eventbus.ReleaseItemEvent); ok {
			result := "ok"
			if !ev.OK {
				result = "failed"
			}
			m.Released.WithLabelValues(ev.Trigger, result).Inc()
		}
	case eventbus.ReleaseBatch:
		if ev, ok := e.Data.(eventbus.ReleaseBatchEvent); ok {
			m.Batches.WithLabelValues(ev.Trigger, ev.Mode).Inc()
			m.BatchSeconds.WithLabelValues(ev.Trigger).Observe(ev.Took.Seconds())
			m.LastReleaseAt.Set(float64(e.Time.Unix()))
		}
	case eventbus.PlanCreated:
		if ev, ok := e.Data.(eventbus.PlanEvent); ok {
			m.Plans.Inc()
			m.PlannedToday.Set(float64(ev.Entries))
		}
	case eventbus.AutopostToggled:
		if ev, ok := e.Data.(eventbus.AutopostEvent); ok {
			if ev.Enabled {
				m.AutopostOn.Set(1)
			} else {
				m.AutopostOn.Set(0)
				m.PlannedToday.Set(0)
			}
		}
	}
}

// Consume feeds bus events into the instruments until ctx is done.
func (m *Metrics) Consume(ctx context.Context, bus eventbus.Bus, log logx.Logger) error {
	if bus == nil {
		<-ctx.Done()
		return nil
	}
	ch, unsub := bus.Subscribe(256)
	defer unsub()
	log.Debug("metrics consumer started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			if e.Time.IsZero() {
				e.Time = time.Now()
			}
			m.Observe(e)
		}
	}
}
