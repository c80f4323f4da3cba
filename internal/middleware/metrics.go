package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestDuration tracks request latency by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"method", "path", "status"},
	)

	// OrdersTotal counts order commands by action and outcome.
	OrdersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matching_orders_total",
			Help: "Total number of order commands by action and result",
		},
		[]string{"action", "result"},
	)

	// TradesTotal counts executed trades.
	TradesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "matching_trades_total",
			Help: "Total number of trades",
		},
	)

	// TradedVolume accumulates traded volume. Float precision is fine for a
	// dashboard; the exact figures live in the store.
	TradedVolume = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "matching_traded_volume",
			Help: "Total traded volume",
		},
	)

	// BookLevels tracks the number of price levels per side.
	BookLevels = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "matching_book_levels",
			Help: "Current number of price levels",
		},
		[]string{"side"},
	)

	// SequencerInboundSeq tracks the current inbound sequence number.
	SequencerInboundSeq = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "matching_sequencer_inbound_seq",
			Help: "Current inbound sequence number",
		},
	)

	// SequencerOutboundSeq tracks the current outbound sequence number.
	SequencerOutboundSeq = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "matching_sequencer_outbound_seq",
			Help: "Current outbound sequence number",
		},
	)

	// IngestMessagesTotal counts queue messages by result.
	IngestMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matching_ingest_messages_total",
			Help: "Total number of consumed order command messages by result",
		},
		[]string{"result"}, // accepted, rejected, malformed, retry
	)

	// BroadcastPublishedTotal counts events published to subscribers.
	BroadcastPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matching_broadcast_published_total",
			Help: "Total number of published events by kind and result",
		},
		[]string{"kind", "result"},
	)
)

// PrometheusMiddleware records request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start).Seconds()

		HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			strconv.Itoa(c.Writer.Status()),
		).Observe(duration)
	}
}
