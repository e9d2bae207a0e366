// Package metrics holds the Prometheus collectors of the scheduling service.
// A nil *Metrics is valid and records nothing.
package metrics

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	remindersScheduled *prometheus.CounterVec
	remindersFired     prometheus.Counter
	remindersOutcome   *prometheus.CounterVec
	remindersPending   prometheus.Gauge
	sendLatency        prometheus.Histogram
	generatorSlots     *prometheus.CounterVec
	sweepRescheduled   prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		remindersScheduled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicsched",
			Subsystem: "reminders",
			Name:      "scheduled_total",
			Help:      "Reminder schedule calls by path (timer, immediate, skipped)",
		}, []string{"path"}),
		remindersFired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinicsched",
			Subsystem: "reminders",
			Name:      "fired_total",
			Help:      "Reminder timers that fired",
		}),
		remindersOutcome: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicsched",
			Subsystem: "reminders",
			Name:      "outcome_total",
			Help:      "Reminder delivery outcomes",
		}, []string{"outcome"}),
		remindersPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "clinicsched",
			Subsystem: "reminders",
			Name:      "pending",
			Help:      "Reminder jobs currently waiting on a timer",
		}),
		sendLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "clinicsched",
			Subsystem: "reminders",
			Name:      "send_latency_seconds",
			Help:      "Latency of the outbound message send",
			Buckets:   prometheus.DefBuckets,
		}),
		generatorSlots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicsched",
			Subsystem: "generator",
			Name:      "slots_total",
			Help:      "Recurring generator candidate slots by result",
		}, []string{"result"}),
		sweepRescheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinicsched",
			Subsystem: "sweep",
			Name:      "rescheduled_total",
			Help:      "Appointments handed to the scheduler by recovery sweeps",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.remindersScheduled,
		m.remindersFired,
		m.remindersOutcome,
		m.remindersPending,
		m.sendLatency,
		m.generatorSlots,
		m.sweepRescheduled,
	)
	return m
}

func (m *Metrics) ObserveScheduled(path string) {
	if m == nil {
		return
	}
	m.remindersScheduled.WithLabelValues(path).Inc()
}

func (m *Metrics) ObserveFired() {
	if m == nil {
		return
	}
	m.remindersFired.Inc()
}

// ObserveOutcome records sent, failed, skipped or dead_lettered.
func (m *Metrics) ObserveOutcome(outcome string) {
	if m == nil {
		return
	}
	m.remindersOutcome.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.remindersPending.Set(float64(n))
}

func (m *Metrics) ObserveSendLatency(seconds float64) {
	if m == nil {
		return
	}
	m.sendLatency.Observe(seconds)
}

func (m *Metrics) ObserveGeneratorSlot(result string) {
	if m == nil {
		return
	}
	m.generatorSlots.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveSweep(n int) {
	if m == nil {
		return
	}
	m.sweepRescheduled.Add(float64(n))
}
