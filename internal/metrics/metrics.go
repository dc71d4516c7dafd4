package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes counters/histograms for state transitions and sweeps.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	appointmentTransitions *prometheus.CounterVec
	roomTransitions        *prometheus.CounterVec
	stageTransitions       *prometheus.CounterVec
	sweepActions           *prometheus.CounterVec
	sweepErrors            prometheus.Counter
	sweepDuration          prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		appointmentTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "appointment",
			Name:      "transitions_total",
			Help:      "Appointment status transitions by target status",
		}, []string{"to"}),
		roomTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "room",
			Name:      "transitions_total",
			Help:      "Room status transitions by target status",
		}, []string{"to"}),
		stageTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "pathway",
			Name:      "stage_transitions_total",
			Help:      "Pathway stage transitions by target status",
		}, []string{"to"}),
		sweepActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "sweep",
			Name:      "actions_total",
			Help:      "Corrective actions applied by the reconciliation sweep",
		}, []string{"action"}),
		sweepErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "sweep",
			Name:      "errors_total",
			Help:      "Per-entity failures isolated by the reconciliation sweep",
		}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "sweep",
			Name:      "duration_seconds",
			Help:      "Wall time of one reconciliation sweep",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.appointmentTransitions,
		m.roomTransitions,
		m.stageTransitions,
		m.sweepActions,
		m.sweepErrors,
		m.sweepDuration,
	)
	return m
}

func (m *Metrics) AppointmentTransition(to string) {
	if m == nil {
		return
	}
	m.appointmentTransitions.WithLabelValues(to).Inc()
}

func (m *Metrics) RoomTransition(to string) {
	if m == nil {
		return
	}
	m.roomTransitions.WithLabelValues(to).Inc()
}

func (m *Metrics) StageTransition(to string) {
	if m == nil {
		return
	}
	m.stageTransitions.WithLabelValues(to).Inc()
}

func (m *Metrics) SweepAction(action string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.sweepActions.WithLabelValues(action).Add(float64(n))
}

func (m *Metrics) SweepErrors(n int) {
	if m == nil || n == 0 {
		return
	}
	m.sweepErrors.Add(float64(n))
}

func (m *Metrics) ObserveSweep(seconds float64) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(seconds)
}
