package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bulletin-service/internal/admission"
)

// AdmissionMetrics exports admission decisions as prometheus series. It is
// an admission.Observer and can wrap the janitor's sweep target.
type AdmissionMetrics struct {
	registry  *prometheus.Registry
	decisions *prometheus.CounterVec
	lockouts  prometheus.Counter
	evictions *prometheus.CounterVec
	sweeps    prometheus.Histogram
}

func NewAdmissionMetrics() *AdmissionMetrics {
	m := &AdmissionMetrics{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bulletin_admission_decisions_total",
			Help: "Admission decisions by operation, result and deny kind",
		}, []string{"operation", "result", "kind"}),
		lockouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bulletin_auth_lockouts_total",
			Help: "Authentication lockouts started",
		}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bulletin_admission_evictions_total",
			Help: "Stale admission entries evicted by the janitor",
		}, []string{"store"}),
		sweeps: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bulletin_admission_sweep_duration_seconds",
			Help:    "Duration of janitor sweeps",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
		}),
	}

	m.registry.MustRegister(
		m.decisions,
		m.lockouts,
		m.evictions,
		m.sweeps,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *AdmissionMetrics) Decided(op admission.Operation, address, identity string, d admission.Decision) {
	result := "allowed"
	if !d.Allowed {
		result = "denied"
	}
	m.decisions.WithLabelValues(string(op), result, string(d.Kind)).Inc()
}

func (m *AdmissionMetrics) LockedOut(identifier string, failures int, until time.Time) {
	m.lockouts.Inc()
}

// InstrumentSweeper records eviction counts and timing of every sweep
func (m *AdmissionMetrics) InstrumentSweeper(target admission.Sweeper) admission.Sweeper {
	return sweeperFunc(func() admission.SweepStats {
		start := time.Now()
		stats := target.Sweep()
		m.sweeps.Observe(time.Since(start).Seconds())

		m.evictions.WithLabelValues("address").Add(float64(stats.Addresses))
		m.evictions.WithLabelValues("identity").Add(float64(stats.Identities))
		m.evictions.WithLabelValues("linkage").Add(float64(stats.Linkages))
		m.evictions.WithLabelValues("auth").Add(float64(stats.AuthEntries))
		m.evictions.WithLabelValues("registration").Add(float64(stats.Registrations))
		return stats
	})
}

// TrackEntries exposes the live entry counts reported by status
func (m *AdmissionMetrics) TrackEntries(c *admission.Controller) {
	gauge := func(name, help string, read func(admission.StatusReport) int) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, func() float64 {
			return float64(read(c.Status(admission.StatusQuery{})))
		})
	}

	m.registry.MustRegister(
		gauge("bulletin_admission_address_entries", "Tracked address quota entries",
			func(r admission.StatusReport) int { return r.AddressEntries }),
		gauge("bulletin_admission_identity_entries", "Tracked identity quota entries",
			func(r admission.StatusReport) int { return r.IdentityEntries }),
		gauge("bulletin_admission_linkage_entries", "Tracked identity linkages",
			func(r admission.StatusReport) int { return r.LinkageEntries }),
		gauge("bulletin_admission_auth_entries", "Tracked auth attempt entries",
			func(r admission.StatusReport) int { return r.AuthEntries }),
		gauge("bulletin_admission_registration_entries", "Tracked registration quota entries",
			func(r admission.StatusReport) int { return r.RegistrationEntries }),
	)
}

func (m *AdmissionMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *AdmissionMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

type sweeperFunc func() admission.SweepStats

func (f sweeperFunc) Sweep() admission.SweepStats { return f() }
