package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/counselhq/counsel/internal/engine"
)

// metrics exposes engine activity as Prometheus series. Each server
// carries its own registry so multiple instances can coexist in tests.
type metrics struct {
	registry *prometheus.Registry
	events   *prometheus.CounterVec
}

func newMetrics(eng *engine.Engine) *metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(reg)

	m := &metrics{
		registry: reg,
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "counsel",
			Name:      "engine_events_total",
			Help:      "Engine events by kind.",
		}, []string{"kind"}),
	}

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "counsel",
		Name:      "active_streams",
		Help:      "Responses currently streaming.",
	}, func() float64 {
		return float64(eng.ActiveStreams())
	})

	return m
}

// OnEvent counts each engine event by kind.
func (m *metrics) OnEvent(ev engine.Event) {
	m.events.WithLabelValues(string(ev.Kind)).Inc()
}
