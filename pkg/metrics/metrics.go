// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// MessagesTotal tracks total messages sent.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Total chat messages sent",
		},
		[]string{"sender_role"},
	)

	// ConversationsTotal tracks total conversations created.
	ConversationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_conversations_total",
			Help: "Total conversations created",
		},
	)

	// ConversationsDeleted tracks total conversations deleted.
	ConversationsDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_conversations_deleted_total",
			Help: "Total conversations deleted",
		},
	)

	// CacheHits tracks cache hits.
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_cache_hits_total",
			Help: "Total cache hits",
		},
	)

	// CacheMisses tracks cache misses.
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_cache_misses_total",
			Help: "Total cache misses",
		},
	)

	// CacheEntries tracks live cache entries.
	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_cache_entries",
			Help: "Number of live cache entries",
		},
	)

	// RealtimeSubscriptionsActive tracks active realtime subscriptions.
	RealtimeSubscriptionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_realtime_subscriptions_active",
			Help: "Number of active realtime subscriptions",
		},
	)

	// StoreQueryDuration tracks message store query duration.
	StoreQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_store_query_duration_seconds",
			Help:    "Message store query duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"operation"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordStoreQuery records the duration of a message store operation.
func RecordStoreQuery(operation string, duration float64) {
	StoreQueryDuration.WithLabelValues(operation).Observe(duration)
}

// IncrementSubscriptions increments the active subscription count.
func IncrementSubscriptions() {
	RealtimeSubscriptionsActive.Inc()
}

// DecrementSubscriptions decrements the active subscription count.
func DecrementSubscriptions() {
	RealtimeSubscriptionsActive.Dec()
}
