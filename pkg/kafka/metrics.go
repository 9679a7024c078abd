package kafka

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Results recorded in kafka_consumer_messages_total.
const (
	resultProcessed    = "processed"
	resultFailed       = "failed"
	resultDeadLettered = "dead_lettered"
)

var (
	consumerFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kafka_consumer_fetched_total",
		Help: "Messages fetched from the broker",
	}, []string{"topic", "consumer_group"})

	consumerMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kafka_consumer_messages_total",
		Help: "Fetched messages by handling result",
	}, []string{"topic", "consumer_group", "result"})

	consumerHandleSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kafka_consumer_handle_duration_seconds",
		Help:    "Time spent handling one message, retries included",
		Buckets: prometheus.DefBuckets,
	}, []string{"topic", "consumer_group"})

	// Duplicates are detected below the consumer, where only the event is known.
	consumerDuplicates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kafka_consumer_duplicate_events_total",
		Help: "Events skipped because their id was already handled",
	}, []string{"event_type"})

	producerMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kafka_producer_messages_total",
		Help: "Publish attempts by outcome",
	}, []string{"topic", "outcome"})

	producerPublishSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kafka_producer_publish_duration_seconds",
		Help:    "Time until the brokers acknowledged a publish",
		Buckets: prometheus.DefBuckets,
	}, []string{"topic"})
)
