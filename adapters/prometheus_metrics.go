package adapters

import (
	"mqtt-telemetry/application"

	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "mqtt_telemetry_"

// PrometheusMetrics records telemetry service metrics on its own registry.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	received   *prometheus.CounterVec
	dropped    *prometheus.CounterVec
	latest     *prometheus.GaugeVec
	undefined  *prometheus.CounterVec
	publishes  *prometheus.CounterVec
	connection prometheus.Gauge
}

func NewPrometheusMetrics() *PrometheusMetrics {
	m := &PrometheusMetrics{
		registry: prometheus.NewRegistry(),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "messages_received_total",
			Help: "Messages received from the broker",
		}, []string{"topic"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "messages_dropped_total",
			Help: "Messages dropped before reaching a reading store",
		}, []string{"topic", "reason"}),
		latest: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: metricPrefix + "latest_value",
			Help: "Latest reading per numeric topic",
		}, []string{"topic"}),
		undefined: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "trend_undefined_total",
			Help: "Trend snapshots with an undefined mean or delta",
		}, []string{"topic", "reason"}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "publish_total",
			Help: "Button toggle publish attempts by result",
		}, []string{"result"}),
		connection: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "connection_state",
			Help: "Broker connection state (0 disconnected, 1 connecting, 2 connected)",
		}),
	}

	m.registry.MustRegister(m.received, m.dropped, m.latest, m.undefined, m.publishes, m.connection)
	return m
}

func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *PrometheusMetrics) MessageReceived(topic string) {
	m.received.WithLabelValues(topicLabel(topic)).Inc()
}

func (m *PrometheusMetrics) MessageDropped(topic string, reason string) {
	m.dropped.WithLabelValues(topicLabel(topic), reason).Inc()
}

func (m *PrometheusMetrics) ReadingRecorded(topic application.TopicID, value float64) {
	m.latest.WithLabelValues(topic.String()).Set(value)
}

func (m *PrometheusMetrics) TrendUndefined(topic application.TopicID, reason string) {
	m.undefined.WithLabelValues(topic.String(), reason).Inc()
}

func (m *PrometheusMetrics) PublishAttempted(result string) {
	m.publishes.WithLabelValues(result).Inc()
}

func (m *PrometheusMetrics) ConnectionChanged(state application.ConnectionState) {
	m.connection.Set(float64(state))
}

// topicLabel keeps label cardinality bounded when the broker sends on
// topics the service does not know.
func topicLabel(topic string) string {
	if id, ok := application.TopicFromName(topic); ok {
		return id.String()
	}
	return "unknown"
}

var _ application.Metrics = &PrometheusMetrics{}
