package observability

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the relay. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	WebhookRequests *prometheus.CounterVec
	Events          *prometheus.CounterVec
	ModelErrors     prometheus.Counter
	StoreErrors     *prometheus.CounterVec
	RotatedBuckets  prometheus.Counter
	ReplyErrors     prometheus.Counter

	gatherer prometheus.Gatherer
}

// NewMetrics registers the relay instruments on a fresh registry.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		WebhookRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_requests_total",
			Help:      "Webhook deliveries by response status code.",
		}, []string{"status"}),
		Events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "message_events_total",
			Help:      "Decoded message events by outcome.",
		}, []string{"outcome"}),
		ModelErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_errors_total",
			Help:      "Model calls replaced by the fallback reply.",
		}),
		StoreErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_store_errors_total",
			Help:      "History store failures by operation.",
		}, []string{"op"}),
		RotatedBuckets: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rotated_buckets_total",
			Help:      "Daily history buckets deleted by retention rotation.",
		}),
		ReplyErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reply_errors_total",
			Help:      "Replies the messaging gateway failed to deliver.",
		}),
		gatherer: reg,
	}
}

func (m *Metrics) ObserveWebhook(status int) {
	if m == nil {
		return
	}
	m.WebhookRequests.WithLabelValues(strconv.Itoa(status)).Inc()
}

func (m *Metrics) ObserveEvent(outcome string) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveModelError() {
	if m == nil {
		return
	}
	m.ModelErrors.Inc()
}

func (m *Metrics) ObserveStoreError(op string) {
	if m == nil {
		return
	}
	m.StoreErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) ObserveRotated(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RotatedBuckets.Add(float64(n))
}

func (m *Metrics) ObserveReplyError() {
	if m == nil {
		return
	}
	m.ReplyErrors.Inc()
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
