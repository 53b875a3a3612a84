// Package metrics exposes the proxy's reliability state and request
// outcomes as Prometheus collectors, plus a small secondary HTTP server for
// /metrics and /healthz. It is a pure observer: nothing in here feeds back
// into selection or grading, which stay pure functions of the registry.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BigBIueWhale/ollama-load-balancer/internal/registry"
	"github.com/BigBIueWhale/ollama-load-balancer/pkg/logger"
)

// Collector holds every Prometheus collector the proxy publishes.
type Collector struct {
	requestsTotal       *prometheus.CounterVec
	selectionRejections prometheus.Counter
	upstreamBusy        *prometheus.GaugeVec
	upstreamGrade       *prometheus.GaugeVec
}

// NewCollector builds and registers the proxy's Prometheus collectors
// against reg (use prometheus.NewRegistry() for test isolation).
func NewCollector(reg *prometheus.Registry, namespace string) *Collector {
	c := &Collector{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total proxied requests by terminal outcome.",
		}, []string{"outcome"}),
		selectionRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "selection_rejections_total",
			Help:      "Requests that received 503 because no upstream was eligible.",
		}),
		upstreamBusy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "upstream_busy",
			Help:      "1 if the upstream currently has an in-flight request, else 0.",
		}, []string{"upstream"}),
		upstreamGrade: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "upstream_grade",
			Help:      "Reliability grade: 0=Reliable, 1=SecondChanceGiven, 2=Unreliable.",
		}, []string{"upstream"}),
	}
	reg.MustRegister(c.requestsTotal, c.selectionRejections, c.upstreamBusy, c.upstreamGrade)
	return c
}

// RecordOutcome increments the per-outcome request counter. Safe to call
// with a nil *Collector (a no-op), so callers don't need to nil-check when
// metrics are disabled.
func (c *Collector) RecordOutcome(outcome string) {
	if c == nil {
		return
	}
	c.requestsTotal.WithLabelValues(outcome).Inc()
}

// RecordRejection increments the 503 counter.
func (c *Collector) RecordRejection() {
	if c == nil {
		return
	}
	c.selectionRejections.Inc()
}

// gradeValue maps a registry.Grade onto the gauge's documented numbering.
func gradeValue(g registry.Grade) float64 {
	switch g {
	case registry.Reliable:
		return 0
	case registry.SecondChanceGiven:
		return 1
	case registry.Unreliable:
		return 2
	default:
		return -1
	}
}

// Observe syncs the busy/grade gauges from a registry snapshot. Called
// whenever the registry publishes a mutation.
func (c *Collector) Observe(entries []registry.Entry) {
	if c == nil {
		return
	}
	for _, e := range entries {
		v := 0.0
		if e.Busy {
			v = 1
		}
		c.upstreamBusy.WithLabelValues(e.Key).Set(v)
		c.upstreamGrade.WithLabelValues(e.Key).Set(gradeValue(e.Grade))
	}
}

// Server is the secondary HTTP listener exposing /metrics and /healthz,
// kept separate from the main proxy listener since the proxy's own listen
// surface must proxy every path verbatim and cannot reserve any of its own.
type Server struct {
	httpServer *http.Server
	log        *logger.Logger
}

// NewServer builds (but does not start) the metrics/health server.
func NewServer(bind string, promReg *prometheus.Registry, log *logger.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &Server{
		httpServer: &http.Server{Addr: bind, Handler: mux},
		log:        log,
	}
}

// Serve runs the metrics server until ctx is canceled.
func (s *Server) Serve(ctx context.Context) {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()
	s.log.Info("metrics: listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.log.Error("metrics: server error", "error", err)
	}
}
