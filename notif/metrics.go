package notif

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "notif").
	Namespace   string
	Subsystem   string
	ConstLabels prometheus.Labels
	// Registry defaults to prometheus.DefaultRegisterer.
	Registry prometheus.Registerer
}

type MetricsOption func(*MetricsConfig)

func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

// Metrics records client activity. A nil *Metrics records nothing.
type Metrics struct {
	eventsReceived  *prometheus.CounterVec
	deliveryErrors  *prometheus.CounterVec
	acksSent        *prometheus.CounterVec
	reconnects      prometheus.Counter
	connected       prometheus.Gauge
	handlerDuration prometheus.Histogram
	requests        *prometheus.CounterVec
}

// NewMetrics registers the client collectors.
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := MetricsConfig{
		Namespace: "notif",
		Registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&config)
	}

	factory := promauto.With(config.Registry)

	return &Metrics{
		eventsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "events_received_total",
			Help:        "Total number of events delivered to subscribers by subscribed pattern",
			ConstLabels: config.ConstLabels,
		}, []string{"pattern"}),

		deliveryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "delivery_errors_total",
			Help:        "Total number of error items yielded by subscriptions",
			ConstLabels: config.ConstLabels,
		}, []string{"kind"}),

		acksSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "acks_sent_total",
			Help:        "Total number of ack and nack frames written",
			ConstLabels: config.ConstLabels,
		}, []string{"decision"}),

		reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "reconnects_total",
			Help:        "Total number of reconnection attempts made by supervisors",
			ConstLabels: config.ConstLabels,
		}),

		connected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "connected_subscriptions",
			Help:        "Number of subscriptions with a live connection",
			ConstLabels: config.ConstLabels,
		}),

		handlerDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "handler_duration_seconds",
			Help:        "Worker handler execution time in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     prometheus.DefBuckets,
		}),

		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "requests_total",
			Help:        "Total number of HTTP API requests by operation and outcome",
			ConstLabels: config.ConstLabels,
		}, []string{"op", "status"}),
	}
}

func (m *Metrics) eventReceived(pattern string) {
	if m == nil {
		return
	}
	m.eventsReceived.WithLabelValues(pattern).Inc()
}

func (m *Metrics) deliveryError(err error) {
	if m == nil {
		return
	}
	m.deliveryErrors.WithLabelValues(errorKind(err)).Inc()
}

func (m *Metrics) ackSent(decision string) {
	if m == nil {
		return
	}
	m.acksSent.WithLabelValues(decision).Inc()
}

func (m *Metrics) reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) connectionUp() {
	if m == nil {
		return
	}
	m.connected.Inc()
}

func (m *Metrics) connectionDown() {
	if m == nil {
		return
	}
	m.connected.Dec()
}

func (m *Metrics) observeHandler(seconds float64) {
	if m == nil {
		return
	}
	m.handlerDuration.Observe(seconds)
}

func (m *Metrics) request(op string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = errorKind(err)
	}
	m.requests.WithLabelValues(op, status).Inc()
}
