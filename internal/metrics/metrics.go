package metrics

import (
	"log"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Relay metrics
var (
	ConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pentagent_connections_active",
			Help: "Number of remote connections with a live heartbeat",
		},
	)

	CommandsDispatchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pentagent_commands_dispatched_total",
			Help: "Total commands enqueued for remote connections",
		},
		[]string{"mode"},
	)

	CommandsCompletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pentagent_commands_completed_total",
			Help: "Total commands with a submitted result",
		},
	)

	// Abandoned means the enqueueing run() gave up before any client
	// claimed the command. Kept separate from timeouts of claimed
	// commands so "client never picked it up" is visible on its own.
	CommandsAbandonedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pentagent_commands_abandoned_total",
			Help: "Total commands never claimed before the dispatcher gave up",
		},
	)

	CommandsTimedOutTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pentagent_commands_timed_out_total",
			Help: "Total claimed commands whose result never arrived in time",
		},
	)

	CommandDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pentagent_command_duration_seconds",
			Help:    "Wall time from enqueue to result",
			Buckets: []float64{0.1, 0.5, 1.0, 5.0, 15.0, 60.0, 300.0},
		},
	)

	HeartbeatsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pentagent_heartbeats_total",
			Help: "Total heartbeats received",
		},
		[]string{"status"},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pentagent_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		ConnectionsActive,
		CommandsDispatchedTotal,
		CommandsCompletedTotal,
		CommandsAbandonedTotal,
		CommandsTimedOutTotal,
		CommandDuration,
		HeartbeatsTotal,
		HTTPRequestsTotal,
	)
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// EchoMiddleware returns Echo middleware that counts HTTP requests.
func EchoMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}

			HTTPRequestsTotal.WithLabelValues(
				c.Request().Method,
				c.Path(),
				strconv.Itoa(status),
			).Inc()

			return err
		}
	}
}

// StartMetricsServer starts a standalone HTTP server serving /metrics.
func StartMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics: server stopped: %v", err)
		}
	}()
	return srv
}
