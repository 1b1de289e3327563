// Package monitor exposes kernel activity as Prometheus metrics and serves
// them, together with a health snapshot, over HTTP.
package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/najoast/zkernel/core"
)

const namespace = "zkernel"

// Metrics holds the kernel's Prometheus metrics. It implements core.Metrics.
type Metrics struct {
	registry *prometheus.Registry

	CommandsSent      *prometheus.CounterVec
	CommandsProcessed *prometheus.CounterVec

	SocketsOpen   prometheus.Gauge
	SocketsTotal  prometheus.Counter
	PipesOpen     prometheus.Gauge
	PipesTotal    prometheus.Counter
	ObjectsTermed *prometheus.CounterVec
}

// NewMetrics creates the kernel metrics on a fresh registry, labelled with
// the application name. Go runtime and process collectors are registered
// alongside.
func NewMetrics(app string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	labels := prometheus.Labels{"app": app}
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		CommandsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "commands_sent_total",
				Help:        "Commands posted to kernel mailboxes",
				ConstLabels: labels,
			},
			[]string{"command"},
		),
		CommandsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "commands_processed_total",
				Help:        "Commands dispatched on their home slot",
				ConstLabels: labels,
			},
			[]string{"command"},
		),
		SocketsOpen: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Name:        "sockets_open",
				Help:        "Sockets holding a slot",
				ConstLabels: labels,
			},
		),
		SocketsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "sockets_created_total",
				Help:        "Sockets created",
				ConstLabels: labels,
			},
		),
		PipesOpen: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Name:        "pipes_open",
				Help:        "Pipe ends not yet released",
				ConstLabels: labels,
			},
		),
		PipesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "pipes_created_total",
				Help:        "Pipe ends created",
				ConstLabels: labels,
			},
		),
		ObjectsTermed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "objects_terminated_total",
				Help:        "Owned objects that finished terminating",
				ConstLabels: labels,
			},
			[]string{"kind"},
		),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) CommandSent(t core.CommandType) {
	m.CommandsSent.WithLabelValues(t.String()).Inc()
}

func (m *Metrics) CommandProcessed(t core.CommandType) {
	m.CommandsProcessed.WithLabelValues(t.String()).Inc()
}

func (m *Metrics) SocketOpened() {
	m.SocketsOpen.Inc()
	m.SocketsTotal.Inc()
}

func (m *Metrics) SocketClosed() {
	m.SocketsOpen.Dec()
}

func (m *Metrics) PipeOpened() {
	m.PipesOpen.Inc()
	m.PipesTotal.Inc()
}

func (m *Metrics) PipeClosed() {
	m.PipesOpen.Dec()
}

func (m *Metrics) ObjectTerminated(kind string) {
	m.ObjectsTermed.WithLabelValues(kind).Inc()
}

var _ core.Metrics = (*Metrics)(nil)
