// Package metrics holds the prometheus collectors of the checkout services.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "checkout"

type Metrics struct {
	SagaTransitions   *prometheus.CounterVec
	SagaIgnored       *prometheus.CounterVec
	OutboxPublished   prometheus.Counter
	OutboxFailed      prometheus.Counter
	ConsumerMessages  *prometheus.CounterVec
	StockLow          *prometheus.CounterVec
	ReservationsSwept prometheus.Counter
	CheckoutsTimedOut prometheus.Counter
	HTTPRequests      *prometheus.CounterVec
	HTTPLatencyMS     *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SagaTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "saga_transitions_total",
			Help:      "Applied checkout saga transitions.",
		}, []string{"from", "event", "to"}),
		SagaIgnored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "saga_ignored_events_total",
			Help:      "Saga events that did not apply to the current state.",
		}, []string{"state", "event"}),
		OutboxPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_published_total",
			Help:      "Outbox messages published to the broker.",
		}),
		OutboxFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_failed_total",
			Help:      "Failed outbox publish attempts.",
		}),
		ConsumerMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consumer_messages_total",
			Help:      "Messages handled per consumer and result.",
		}, []string{"consumer", "result"}),
		StockLow: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_low_total",
			Help:      "Stock changes that left a product at or below the low stock threshold.",
		}, []string{"product_id"}),
		ReservationsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservations_swept_total",
			Help:      "Expired stock reservations released by the sweeper.",
		}),
		CheckoutsTimedOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkouts_timed_out_total",
			Help:      "Checkouts failed by the sweeper after waiting too long for payment.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"route", "status"}),
		HTTPLatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"route"}),
	}
	reg.MustRegister(
		m.SagaTransitions, m.SagaIgnored, m.OutboxPublished, m.OutboxFailed,
		m.ConsumerMessages, m.StockLow, m.ReservationsSwept, m.CheckoutsTimedOut,
		m.HTTPRequests, m.HTTPLatencyMS,
	)
	return m
}

func (m *Metrics) Transition(from, event, to string) {
	if m == nil {
		return
	}
	m.SagaTransitions.WithLabelValues(from, event, to).Inc()
}

func (m *Metrics) Ignored(state, event string) {
	if m == nil {
		return
	}
	m.SagaIgnored.WithLabelValues(state, event).Inc()
}

func (m *Metrics) Published(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.OutboxPublished.Add(float64(n))
}

func (m *Metrics) PublishFailed() {
	if m == nil {
		return
	}
	m.OutboxFailed.Inc()
}

// Consumed counts one handled message. result is "ok", "duplicate",
// "skipped", "retry" or "dead_letter".
func (m *Metrics) Consumed(consumer, result string) {
	if m == nil {
		return
	}
	m.ConsumerMessages.WithLabelValues(consumer, result).Inc()
}

// LowStock matches inventory.LowStockObserver.
func (m *Metrics) LowStock(productID string, _ int) {
	if m == nil {
		return
	}
	m.StockLow.WithLabelValues(productID).Inc()
}

func (m *Metrics) Swept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ReservationsSwept.Add(float64(n))
}

func (m *Metrics) TimedOut(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.CheckoutsTimedOut.Add(float64(n))
}

func (m *Metrics) ObserveHTTP(route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.HTTPLatencyMS.WithLabelValues(route).Observe(float64(elapsed.Milliseconds()))
}

// Handler serves the collectors registered with g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
