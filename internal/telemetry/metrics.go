package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	// ---- Protocol ----
	DatagramsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zephyrchat",
			Name:      "datagrams_total",
			Help:      "Protocol datagrams by direction (in|out) and action.",
		},
		[]string{"direction", "action"},
	)

	DroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zephyrchat",
			Name:      "dropped_total",
			Help:      "Inbound datagrams dropped, by reason.",
		},
		[]string{"reason"},
	)

	SendErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zephyrchat",
			Name:      "send_errors_total",
			Help:      "Failed datagram sends, by action.",
		},
		[]string{"action"},
	)

	Members = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "zephyrchat",
			Name:      "members",
			Help:      "Peers in the local membership view.",
		},
	)

	Connected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "zephyrchat",
			Name:      "connected",
			Help:      "1 once a chat connection is established.",
		},
	)

	// ---- Admin HTTP ----
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zephyrchat",
			Name:      "requests_total",
			Help:      "Total number of admin HTTP requests.",
		},
		[]string{"op", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "zephyrchat",
			Name:      "request_duration_seconds",
			Help:      "Latency of admin HTTP requests.",
			// 1ms .. ~4s
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 13),
		},
		[]string{"op"},
	)

	InFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "zephyrchat",
			Name:      "in_flight_requests",
			Help:      "Current number of in-flight admin HTTP requests.",
		},
		[]string{"op"},
	)

	// ---- Process / build info ----
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "zephyrchat",
			Name:      "build_info",
			Help:      "Build info (constant 1, labeled by version and git_sha).",
		},
		[]string{"version", "git_sha"},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "zephyrchat",
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	Registry.MustRegister(
		DatagramsTotal, DroppedTotal, SendErrors, Members, Connected,
		RequestsTotal, RequestDuration, InFlight, buildInfo, uptime,
	)
}

// MetricsHandler exposes /metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetBuildInfo should be called once at startup, e.g. with ldflags-provided values.
func SetBuildInfo(version, gitSHA string) {
	buildInfo.WithLabelValues(version, gitSHA).Set(1)
}

// Inbound counts a datagram received for action.
func Inbound(action string) { DatagramsTotal.WithLabelValues("in", action).Inc() }

// Outbound counts a datagram sent for action.
func Outbound(action string) { DatagramsTotal.WithLabelValues("out", action).Inc() }

// Dropped counts an inbound datagram discarded for reason.
func Dropped(reason string) { DroppedTotal.WithLabelValues(reason).Inc() }

// ---- Middleware instrumentation ----

// Instrument records request metrics under the provided "op" label.
//
//	r.GET("/peers", telemetry.Instrument("peers"), h.Peers)
func Instrument(op string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		InFlight.WithLabelValues(op).Inc()
		defer InFlight.WithLabelValues(op).Dec()

		c.Next()

		class := strconv.Itoa(c.Writer.Status()/100) + "xx"
		RequestsTotal.WithLabelValues(op, class).Inc()
		RequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}
