package kafka

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// producerMetrics tracks publish outcomes per topic.
type producerMetrics struct {
	published *prometheus.CounterVec
	failed    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
}

func newProducerMetrics(reg prometheus.Registerer) *producerMetrics {
	factory := promauto.With(reg)
	return &producerMetrics{
		published: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_kafka_messages_published_total",
			Help: "Analytics messages accepted by the Kafka leader",
		}, []string{"topic"}),
		failed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_kafka_publish_errors_total",
			Help: "Analytics messages the Kafka writer failed to deliver",
		}, []string{"topic"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "storefront_kafka_publish_duration_seconds",
			Help:    "Time spent writing one analytics message",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2},
		}, []string{"topic"}),
	}
}
