// Package metrics exposes Prometheus collectors for the crawl task
// service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	tasksTotal                 *prometheus.CounterVec
	taskDurationSeconds        *prometheus.HistogramVec
	activeTasks                prometheus.Gauge
	wsConnections              prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		tasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawltask_tasks_total",
				Help: "Total number of tasks reaching a terminal state, labeled by status.",
			},
			[]string{"status"},
		)

		taskDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawltask_task_duration_seconds",
				Help:    "Histogram of engine crawl durations, labeled by terminal status.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		)

		activeTasks = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawltask_active_tasks",
				Help: "Number of tasks currently executing.",
			},
		)

		wsConnections = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawltask_ws_connections",
				Help: "Number of live WebSocket connections.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveTask records one terminal task with its crawl duration.
func ObserveTask(status string, duration time.Duration) {
	if tasksTotal == nil {
		return
	}
	tasksTotal.WithLabelValues(status).Inc()
	taskDurationSeconds.WithLabelValues(status).Observe(duration.Seconds())
}

// IncActiveTasks increments the executing-task gauge.
func IncActiveTasks() {
	if activeTasks == nil {
		return
	}
	activeTasks.Inc()
}

// DecActiveTasks decrements the executing-task gauge.
func DecActiveTasks() {
	if activeTasks == nil {
		return
	}
	activeTasks.Dec()
}

// IncWSConnections increments the live connection gauge.
func IncWSConnections() {
	if wsConnections == nil {
		return
	}
	wsConnections.Inc()
}

// DecWSConnections decrements the live connection gauge.
func DecWSConnections() {
	if wsConnections == nil {
		return
	}
	wsConnections.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
