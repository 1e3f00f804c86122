package o11y

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the domain counters. A nil *Metrics is valid and records
// nothing, which keeps tests free of registry setup.
type Metrics struct {
	bookings            *prometheus.CounterVec
	samples             *prometheus.CounterVec
	replicationFailures *prometheus.CounterVec
	repairs             *prometheus.CounterVec
	activeRides         prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		bookings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookings_total",
				Help: "Booking attempts by result",
			},
			[]string{"result"},
		),
		samples: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ride_location_samples_total",
				Help: "Location samples received by result",
			},
			[]string{"result"},
		),
		replicationFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telemetry_replication_failures_total",
				Help: "Failed telemetry writes by sink",
			},
			[]string{"sink"},
		),
		repairs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audit_repairs_total",
				Help: "Bikes changed by the consistency sweep",
			},
			[]string{"kind"},
		),
		activeRides: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rides_active",
			Help: "Rides tracked in memory by this process",
		}),
	}
	reg.MustRegister(m.bookings, m.samples, m.replicationFailures, m.repairs, m.activeRides)
	return m
}

func (m *Metrics) BookingResult(result string) {
	if m == nil {
		return
	}
	m.bookings.WithLabelValues(result).Inc()
}

func (m *Metrics) Sample(result string) {
	if m == nil {
		return
	}
	m.samples.WithLabelValues(result).Inc()
}

func (m *Metrics) ReplicationFailure(sink string) {
	if m == nil {
		return
	}
	m.replicationFailures.WithLabelValues(sink).Inc()
}

func (m *Metrics) Repaired(kind string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.repairs.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) RidesActive(n int) {
	if m == nil {
		return
	}
	m.activeRides.Set(float64(n))
}
