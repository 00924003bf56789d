package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Gauge is a value sampled at scrape time.
type Gauge struct {
	Name string
	Help string
	Fn   func() int
}

// RegisterGauge exposes g as huddle_<name>. Registering the same name twice
// is a no-op.
func (m *Metrics) RegisterGauge(g Gauge) error {
	if m == nil {
		return nil
	}
	fn := g.Fn
	err := m.reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      g.Name,
		Help:      g.Help,
	}, func() float64 { return float64(fn()) }))
	if are := (prometheus.AlreadyRegisteredError{}); errors.As(err, &are) {
		return nil
	}
	return err
}

// PrometheusHandler serves the registry of m, with the given gauges added,
// in the Prometheus exposition format.
func PrometheusHandler(m *Metrics, gauges ...Gauge) http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
		})
	}
	for _, g := range gauges {
		if err := m.RegisterGauge(g); err != nil {
			log.Error().Err(err).Str("module", "metrics").Str("gauge", g.Name).Msg("register gauge")
		}
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
