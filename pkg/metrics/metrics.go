// Package metrics exposes venue counters on a private prometheus registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "agentvenue"

// Metrics is safe for concurrent use. A nil *Metrics records nothing.
type Metrics struct {
	reg *prometheus.Registry

	eventsAppended prometheus.Counter
	appendBlocked  prometheus.Counter
	subscribers    prometheus.Gauge

	ordersSubmitted *prometheus.CounterVec
	ordersDropped   *prometheus.CounterVec
	trades          *prometheus.CounterVec
	tradeVolume     *prometheus.CounterVec
	restingOrders   *prometheus.GaugeVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		eventsAppended: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_appended_total",
			Help:      "Events appended to any event store.",
		}),
		appendBlocked: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "append_blocked_total",
			Help:      "Times an append waited on a full subscriber queue.",
		}),
		subscribers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers",
			Help:      "Live event subscriptions.",
		}),
		ordersSubmitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_submitted_total",
			Help:      "Orders that reached a book, by type.",
		}, []string{"symbol", "type"}),
		ordersDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_dropped_total",
			Help:      "Intents clipped to nothing by the risk guard.",
		}, []string{"symbol"}),
		trades: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_total",
			Help:      "Executed trades.",
		}, []string{"symbol"}),
		tradeVolume: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trade_volume_total",
			Help:      "Executed quantity.",
		}, []string{"symbol"}),
		restingOrders: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "resting_orders",
			Help:      "Orders resting on the book.",
		}, []string{"symbol"}),
	}
}

// Registry returns the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) EventAppended() {
	if m == nil {
		return
	}
	m.eventsAppended.Inc()
}

func (m *Metrics) AppendBlocked() {
	if m == nil {
		return
	}
	m.appendBlocked.Inc()
}

func (m *Metrics) SubscriberAdded() {
	if m == nil {
		return
	}
	m.subscribers.Inc()
}

func (m *Metrics) SubscriberRemoved() {
	if m == nil {
		return
	}
	m.subscribers.Dec()
}

func (m *Metrics) OrderSubmitted(symbol, orderType string) {
	if m == nil {
		return
	}
	m.ordersSubmitted.WithLabelValues(symbol, orderType).Inc()
}

func (m *Metrics) OrderDropped(symbol string) {
	if m == nil {
		return
	}
	m.ordersDropped.WithLabelValues(symbol).Inc()
}

func (m *Metrics) TradeExecuted(symbol string, qty float64) {
	if m == nil {
		return
	}
	m.trades.WithLabelValues(symbol).Inc()
	m.tradeVolume.WithLabelValues(symbol).Add(qty)
}

func (m *Metrics) RestingOrders(symbol string, n int) {
	if m == nil {
		return
	}
	m.restingOrders.WithLabelValues(symbol).Set(float64(n))
}
