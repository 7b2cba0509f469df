// Package metrics provides Prometheus instrumentation for the market engine.
package metrics

import (
	"bufio"
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
	// BetsTotal counts accepted bets, partitioned by position.
	BetsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pari_bets_total",
		Help: "Total number of bets placed",
	}, []string{"position"})

	// BetsRejected counts bets refused by a domain rule.
	BetsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pari_bets_rejected_total",
		Help: "Bets rejected, by reason",
	}, []string{"reason"})

	// StakeVolume tracks cumulative staked amount.
	StakeVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pari_stake_volume_total",
		Help: "Cumulative staked amount in play-money units",
	}, []string{"position"})

	// BetLatency tracks PlaceBet duration including lock wait.
	BetLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pari_bet_latency_seconds",
		Help:    "Bet placement latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// MarketsCreated counts created markets.
	MarketsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pari_markets_created_total",
		Help: "Total markets created",
	})

	// MarketsResolved counts resolutions by outcome.
	MarketsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pari_markets_resolved_total",
		Help: "Total markets resolved",
	}, []string{"outcome"})

	// PayoutVolume tracks cumulative amount credited at settlement.
	PayoutVolume = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pari_payout_volume_total",
		Help: "Cumulative amount paid out to winners",
	})

	// UsersCreated counts first logins.
	UsersCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pari_users_created_total",
		Help: "Total users created",
	})

	// LockConflicts counts entity lock acquisitions that gave up.
	LockConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pari_lock_conflicts_total",
		Help: "Entity lock acquisitions that exhausted their wait budget",
	})

	// Rollbacks counts compensating writes run after a partial failure.
	Rollbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pari_rollbacks_total",
		Help: "Multi-write operations rolled back, by operation",
	}, []string{"operation"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pari_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pari_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pari_http_request_duration_seconds",
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

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
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

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack is required for websocket upgrades behind this middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(w.ResponseWriter).Hijack()
}
