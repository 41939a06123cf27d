// Package metrics provides Prometheus instrumentation for the matching engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OrdersTotal counts accepted orders by side and final status after the
	// initial matching pass.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atmx_clob_orders_total",
		Help: "Total number of orders accepted",
	}, []string{"side", "status"})

	// OrderRejections counts orders rejected before touching the book.
	OrderRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atmx_clob_order_rejections_total",
		Help: "Orders rejected at validation or admission",
	}, []string{"reason"})

	// OrdersCanceled counts successful cancels.
	OrdersCanceled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atmx_clob_orders_canceled_total",
		Help: "Total number of orders canceled",
	})

	// FillsTotal counts fills by the ledger path they went through.
	FillsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atmx_clob_fills_total",
		Help: "Total number of fills applied to the ledger",
	}, []string{"path"})

	// TradesTotal counts immutable trade records written.
	TradesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atmx_clob_trades_total",
		Help: "Total number of trades recorded",
	})

	// TradedVolume tracks cumulative traded contracts per outcome.
	TradedVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atmx_clob_traded_volume_total",
		Help: "Cumulative traded quantity in contracts",
	}, []string{"outcome_id"})

	// MatchLatency tracks one locked matching pass, by operation.
	MatchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "atmx_clob_match_latency_seconds",
		Help:    "Matching pass latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// SelfMatchDropped counts fills discarded because the maker was the
	// taker order itself or belonged to the same user. Any nonzero value is
	// a bug in the book query.
	SelfMatchDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atmx_clob_self_match_dropped_total",
		Help: "Fills dropped because maker and taker were the same order or user",
	})

	// SystemOffsets counts writes to system position rows.
	SystemOffsets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atmx_clob_system_offsets_total",
		Help: "Offsets applied to per-outcome system positions",
	})

	// RoundingResidual accumulates the magnitude of basis rounding gaps
	// booked to system rows.
	RoundingResidual = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atmx_clob_rounding_residual_abs_total",
		Help: "Cumulative absolute rounding residual booked to system rows",
	})

	// ReconcileRepairs counts order rows corrected from trade history.
	ReconcileRepairs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atmx_clob_reconcile_repairs_total",
		Help: "Order rows repaired by reconciliation",
	})

	// ExposureRejections counts orders rejected by the exposure limiter.
	ExposureRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atmx_clob_exposure_rejections_total",
		Help: "Orders rejected by the exposure limiter",
	})

	// PublishFailures counts trade events that could not be published.
	PublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atmx_clob_publish_failures_total",
		Help: "Trade events that failed to publish",
	})

	// OpenOutcomes tracks the number of outcomes accepting orders.
	OpenOutcomes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "atmx_clob_open_outcomes",
		Help: "Number of outcomes currently open for trading",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "atmx_clob_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atmx_clob_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "atmx_clob_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		path := routePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routePattern labels by chi route pattern so IDs in the path do not
// blow up cardinality. Unmatched requests share one label.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
