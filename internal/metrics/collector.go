package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/librfs/rfs-fuse/internal/util"
)

const namespace = "rfs_fuse"

// Collector records driver metrics on a private registry. A nil *Collector
// is valid and records nothing, so call sites need no enabled-guard.
type Collector struct {
	registry *prometheus.Registry

	ops            *prometheus.CounterVec
	opLatency      *prometheus.HistogramVec
	backendReqs    *prometheus.CounterVec
	backendLatency *prometheus.HistogramVec
	activeMounts   prometheus.Gauge

	log zerolog.Logger
}

// NewCollector builds the registry and all instruments.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		log:      util.GetLogger("metrics"),
	}

	c.ops = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fuse_ops_total",
		Help:      "FUSE operations handled, by mount point, operation, and outcome.",
	}, []string{"mount", "op", "outcome"})

	c.opLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "fuse_op_duration_seconds",
		Help:      "FUSE operation latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"mount", "op"})

	c.backendReqs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "backend_requests_total",
		Help:      "Backend listing calls, by driver and outcome.",
	}, []string{"driver", "outcome"})

	c.backendLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "backend_request_duration_seconds",
		Help:      "Backend listing call latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"driver"})

	c.activeMounts = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_mounts",
		Help:      "Kernel sessions currently established.",
	})

	c.registry.MustRegister(c.ops, c.opLatency, c.backendReqs, c.backendLatency, c.activeMounts)
	return c
}

// ObserveOp records one handled kernel operation.
func (c *Collector) ObserveOp(mount, op, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.ops.WithLabelValues(mount, op, outcome).Inc()
	c.opLatency.WithLabelValues(mount, op).Observe(d.Seconds())
}

// ObserveBackend records one backend listing call.
func (c *Collector) ObserveBackend(driver string, ok bool, d time.Duration) {
	if c == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	c.backendReqs.WithLabelValues(driver, outcome).Inc()
	c.backendLatency.WithLabelValues(driver).Observe(d.Seconds())
}

// MountUp marks one session established.
func (c *Collector) MountUp() {
	if c == nil {
		return
	}
	c.activeMounts.Inc()
}

// MountDown marks one session released.
func (c *Collector) MountDown() {
	if c == nil {
		return
	}
	c.activeMounts.Dec()
}

// Serve exposes the registry over HTTP at addr until ctx is cancelled.
// A nil collector or empty addr serves nothing.
func (c *Collector) Serve(ctx context.Context, addr, path string) error {
	if c == nil || addr == "" {
		return nil
	}
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	c.log.Info().Str("addr", addr).Str("path", path).Msg("Metrics exporter listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
