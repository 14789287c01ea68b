// Package metrics exports pipeline counters to Prometheus. Everything is fed
// from the event bus so producers stay unaware of it.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/navid-fn/optionsradar/internal/buffer"
	"github.com/navid-fn/optionsradar/internal/cleaner"
	"github.com/navid-fn/optionsradar/internal/events"
	"github.com/navid-fn/optionsradar/internal/syncer"
)

const namespace = "optionsradar"

// Subscriber is the part of the event bus the collectors listen on.
type Subscriber interface {
	Subscribe(topic string, fn func(payload any)) error
}

type Metrics struct {
	syncs         *prometheus.CounterVec
	optionsStored prometheus.Counter
	recordErrors  prometheus.Counter
	batches       prometheus.Counter
	batchDuration prometheus.Histogram
	bufferLen     prometheus.Gauge
	bufferEmpty   prometheus.Counter
	cleanups      *prometheus.CounterVec
	strikesGC     prometheus.Counter

	reg prometheus.Registerer
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		syncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "syncs_total",
			Help:      "Symbol sync attempts by outcome.",
		}, []string{"result"}),
		optionsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "options_stored_total",
			Help:      "Option entries written to the store.",
		}),
		recordErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "record_errors_total",
			Help:      "Option entries rejected or not saved during syncs.",
		}),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buffer_batches_total",
			Help:      "Buffer batches processed.",
		}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "buffer_batch_duration_seconds",
			Help:      "Wall time of one buffer batch.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		bufferLen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffer_remaining",
			Help:      "Symbols left in the buffer after the last batch.",
		}),
		bufferEmpty: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buffer_emptied_total",
			Help:      "Times a drain chain finished with an empty buffer.",
		}),
		cleanups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanups_total",
			Help:      "Garbage collection runs by outcome.",
		}, []string{"result"}),
		strikesGC: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "strikes_deleted_total",
			Help:      "Strikes removed by garbage collection.",
		}),
		reg: reg,
	}

	reg.MustRegister(
		m.syncs,
		m.optionsStored,
		m.recordErrors,
		m.batches,
		m.batchDuration,
		m.bufferLen,
		m.bufferEmpty,
		m.cleanups,
		m.strikesGC,
	)
	return m
}

// RegisterBreaker exposes a circuit breaker as a 0/1/2 gauge
// (closed, open, half open).
func (m *Metrics) RegisterBreaker(name string, state func() string) {
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "circuit_breaker_state",
		Help:        "Circuit breaker state: 0 closed, 1 open, 2 half open.",
		ConstLabels: prometheus.Labels{"breaker": name},
	}, func() float64 {
		switch state() {
		case "OPEN":
			return 1
		case "HALF_OPEN":
			return 2
		default:
			return 0
		}
	}))
}

// Subscribe attaches the collectors to every pipeline topic.
func (m *Metrics) Subscribe(bus Subscriber) error {
	handlers := map[string]func(any){
		events.TopicSyncCompleted:    m.observeSync,
		events.TopicBatchProcessed:   m.observeBatch,
		events.TopicBufferEmpty:      func(any) { m.bufferEmpty.Inc() },
		events.TopicCleanupCompleted: m.observeCleanup,
	}
	for _, topic := range events.AllTopics {
		if err := bus.Subscribe(topic, handlers[topic]); err != nil {
			return err
		}
	}
	return nil
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func (m *Metrics) observeSync(payload any) {
	res, ok := payload.(syncer.SyncResult)
	if !ok {
		return
	}
	m.syncs.WithLabelValues(outcome(res.Success)).Inc()
	m.optionsStored.Add(float64(res.Processed))
	m.recordErrors.Add(float64(len(res.Errors)))
}

func (m *Metrics) observeBatch(payload any) {
	res, ok := payload.(buffer.BatchResult)
	if !ok {
		return
	}
	m.batches.Inc()
	m.bufferLen.Set(float64(res.Remaining))
	if !res.FinishedAt.IsZero() && !res.StartedAt.IsZero() {
		m.batchDuration.Observe(res.FinishedAt.Sub(res.StartedAt).Seconds())
	}
}

func (m *Metrics) observeCleanup(payload any) {
	res, ok := payload.(cleaner.CleanupResult)
	if !ok {
		return
	}
	m.cleanups.WithLabelValues(outcome(res.Success)).Inc()
	m.strikesGC.Add(float64(res.Deleted))
}
