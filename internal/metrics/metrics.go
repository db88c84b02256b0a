// Package metrics defines the Prometheus collectors of the web client.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	upstreamRequestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardauction_upstream_request_total",
			Help: "Requests sent to the marketplace API, by resource group and status class.",
		},
		[]string{"group", "status"},
	)

	upstreamRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cardauction_upstream_request_duration_seconds",
			Help:    "Latency of marketplace API requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"group"},
	)

	feedReconnectTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cardauction_feed_reconnect_total",
			Help: "Reconnect attempts against the notification socket.",
		},
	)

	feedPollTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardauction_feed_poll_total",
			Help: "Polling fallback requests for notifications, by result.",
		},
		[]string{"result"},
	)

	browserSockets = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cardauction_browser_sockets",
			Help: "Browser websocket connections currently attached to the notification hub.",
		},
	)
)

func init() {
	prometheus.MustRegister(Collectors()...)
}

// Collectors returns all collectors owned by this package.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		upstreamRequestTotal,
		upstreamRequestDuration,
		feedReconnectTotal,
		feedPollTotal,
		browserSockets,
	}
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveUpstream records one API call. code is 0 when no response arrived.
func ObserveUpstream(group string, code int, elapsed time.Duration) {
	upstreamRequestTotal.WithLabelValues(group, statusClass(code)).Inc()
	upstreamRequestDuration.WithLabelValues(group).Observe(elapsed.Seconds())
}

func FeedReconnect() { feedReconnectTotal.Inc() }

func FeedPoll(ok bool) {
	if ok {
		feedPollTotal.WithLabelValues("ok").Inc()
		return
	}
	feedPollTotal.WithLabelValues("error").Inc()
}

func BrowserSocketOpened() { browserSockets.Inc() }
func BrowserSocketClosed() { browserSockets.Dec() }

func statusClass(code int) string {
	if code <= 0 {
		return "error"
	}
	return strconv.Itoa(code/100) + "xx"
}
