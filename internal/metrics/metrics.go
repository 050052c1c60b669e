package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ticks_total", Help: "Count of market ticks ingested"},
		[]string{"symbol"},
	)
	EvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "evaluations_total", Help: "Velocity evaluations performed"},
		[]string{"symbol"},
	)
	AlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "alerts_total", Help: "High-momentum alerts enqueued"},
		[]string{"symbol", "window"},
	)
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "notifications_total", Help: "Notification delivery outcomes"},
		[]string{"status"},
	)
	FeedConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "feed_connected", Help: "1 while the upstream feed is connected"},
	)
)

func init() {
	prometheus.MustRegister(TicksTotal, EvaluationsTotal, AlertsTotal, NotificationsTotal, FeedConnected)
}

func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{ Addr: addr, Handler: mux }
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
