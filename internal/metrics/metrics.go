package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsim_http_requests_total",
			Help: "Total number of HTTP requests handled by the hub daemon.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatsim_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsim_sessions_active",
			Help: "Number of attached WebSocket sessions.",
		},
	)
	sessionsClosedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsim_sessions_closed_total",
			Help: "Total number of sessions closed, by reason.",
		},
		[]string{"reason"},
	)
	brokerTicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsim_broker_ticks_total",
			Help: "Total number of broker ticks, by result.",
		},
		[]string{"result"},
	)
	eventsBroadcastTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsim_events_broadcast_total",
			Help: "Total number of sync events written to sessions.",
		},
	)
	broadcastErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsim_broadcast_errors_total",
			Help: "Total number of failed session writes during broadcast.",
		},
	)
	busDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsim_bus_dropped_events_total",
			Help: "Total number of bus events dropped on full subscriber buffers.",
		},
		[]string{"namespace"},
	)
	storeWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsim_store_writes_total",
			Help: "Total number of store write operations, by op and result.",
		},
		[]string{"op", "result"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		sessionsActive,
		sessionsClosedTotal,
		brokerTicksTotal,
		eventsBroadcastTotal,
		broadcastErrorsTotal,
		busDroppedTotal,
		storeWritesTotal,
	)
}

// HTTPMiddleware records request counts and latencies per gin route.
func HTTPMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func IncSessionsActive() {
	sessionsActive.Inc()
}

func DecSessionsActive() {
	sessionsActive.Dec()
}

func IncSessionClosed(reason string) {
	sessionsClosedTotal.WithLabelValues(reason).Inc()
}

func IncBrokerTick(result string) {
	brokerTicksTotal.WithLabelValues(result).Inc()
}

func IncEventsBroadcast() {
	eventsBroadcastTotal.Inc()
}

func IncBroadcastError() {
	broadcastErrorsTotal.Inc()
}

func IncBusDropped(namespace string) {
	busDroppedTotal.WithLabelValues(namespace).Inc()
}

func IncStoreWrite(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	storeWritesTotal.WithLabelValues(op, result).Inc()
}
