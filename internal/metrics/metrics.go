package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	ActiveSessions prometheus.Gauge

	SessionsStarted  prometheus.Counter
	SessionsFinished prometheus.Counter

	Cycles         prometheus.Counter
	FeedErrors     *prometheus.CounterVec // reason label: auth|fetch|config
	BusesProcessed prometheus.Counter
	RecordsSkipped prometheus.Counter
	MissingMarks   prometheus.Counter
	RoutingErrors  prometheus.Counter

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge

	DBPingFailures prometheus.Counter

	CycleDuration   prometheus.Histogram
	FeedDuration    prometheus.Histogram
	RoutingDuration prometheus.Histogram
	PublishDuration prometheus.Histogram

	PollInterval    prometheus.Gauge // seconds
	RefreshInterval prometheus.Gauge // seconds
}

func NewCollector(pollInterval, refreshInterval time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_active_sessions",
			Help: "Number of running session goroutines.",
		}),
		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_sessions_started_total",
			Help: "Total session runners started.",
		}),
		SessionsFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_sessions_finished_total",
			Help: "Total session runners finished.",
		}),
		Cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_cycles_total",
			Help: "Total polling cycles executed.",
		}),
		FeedErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_feed_errors_total",
			Help: "Polling cycles whose feed fetch failed.",
		}, []string{"reason"}),
		BusesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_buses_processed_total",
			Help: "Total bus samples ingested.",
		}),
		RecordsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_samples_skipped_total",
			Help: "Bus samples dropped because their timestamp was already stored.",
		}),
		MissingMarks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_missing_marks_total",
			Help: "Total times a tracked bus was absent from a cycle.",
		}),
		RoutingErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_routing_errors_total",
			Help: "Routing requests that produced no route.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		DBPingFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_db_ping_failures_total",
			Help: "Failed periodic database health checks.",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_cycle_duration_seconds",
			Help:    "Duration of one polling cycle including the feed fetch.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		}),
		FeedDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_feed_duration_seconds",
			Help:    "Duration of live position fetches.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		}),
		RoutingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_routing_duration_seconds",
			Help:    "Duration of routing service requests.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		PollInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_poll_interval_seconds",
			Help: "Delay between polling cycles of a session.",
		}),
		RefreshInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_refresh_interval_seconds",
			Help: "Active sessions refresh interval in seconds.",
		}),
	}

	reg.MustRegister(
		c.ActiveSessions, c.SessionsStarted, c.SessionsFinished,
		c.Cycles, c.FeedErrors, c.BusesProcessed, c.RecordsSkipped, c.MissingMarks, c.RoutingErrors,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected, c.DBPingFailures,
		c.CycleDuration, c.FeedDuration, c.RoutingDuration, c.PublishDuration,
		c.PollInterval, c.RefreshInterval,
	)

	c.PollInterval.Set(pollInterval.Seconds())
	c.RefreshInterval.Set(refreshInterval.Seconds())

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	log.Printf("metrics listening on %s", addr)
	return srv
}
