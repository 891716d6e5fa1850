package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is safe to use as a nil pointer; every recorder becomes a no-op.
type Metrics struct {
	registry    *prometheus.Registry
	Tracked     *prometheus.CounterVec
	Breaches    *prometheus.CounterVec
	Punishments *prometheus.CounterVec
	Reversals   *prometheus.CounterVec
	Skips       *prometheus.CounterVec
	Errors      *prometheus.CounterVec
}

func New(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	m := &Metrics{
		registry: registry,
		Tracked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "antinuke",
			Name:      "actions_tracked_total",
			Help:      "Destructive actions recorded by the tracker.",
		}, []string{"action"}),
		Breaches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "antinuke",
			Name:      "breaches_total",
			Help:      "Threshold or pattern breaches that started the punishment pipeline.",
		}, []string{"action", "kind"}),
		Punishments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "antinuke",
			Name:      "punishments_total",
			Help:      "Punishment attempts by type and outcome.",
		}, []string{"punishment", "result"}),
		Reversals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "antinuke",
			Name:      "reversals_total",
			Help:      "Reversal calls by action type and outcome.",
		}, []string{"action", "result"}),
		Skips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "antinuke",
			Name:      "sensor_skips_total",
			Help:      "Sensor invocations that stopped before tracking.",
		}, []string{"action", "reason"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "antinuke",
			Name:      "errors_total",
			Help:      "Swallowed pipeline errors by stage.",
		}, []string{"stage"}),
	}
	registry.MustRegister(m.Tracked, m.Breaches, m.Punishments, m.Reversals, m.Skips, m.Errors)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ActionTracked(action string) {
	if m == nil {
		return
	}
	m.Tracked.WithLabelValues(action).Inc()
}

func (m *Metrics) Breach(action, kind string) {
	if m == nil {
		return
	}
	m.Breaches.WithLabelValues(action, kind).Inc()
}

func (m *Metrics) Punishment(punishment string, applied bool) {
	if m == nil {
		return
	}
	m.Punishments.WithLabelValues(punishment, result(applied)).Inc()
}

func (m *Metrics) Reversal(action string, reverted, failed int) {
	if m == nil {
		return
	}
	if reverted > 0 {
		m.Reversals.WithLabelValues(action, "reverted").Add(float64(reverted))
	}
	if failed > 0 {
		m.Reversals.WithLabelValues(action, "failed").Add(float64(failed))
	}
}

func (m *Metrics) Skip(action, reason string) {
	if m == nil {
		return
	}
	m.Skips.WithLabelValues(action, reason).Inc()
}

func (m *Metrics) Error(stage string) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(stage).Inc()
}

func result(ok bool) string {
	if ok {
		return "applied"
	}
	return "failed"
}
