// Package metrics exposes the server's Prometheus collectors. A nil
// *Recorder is valid and records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "solana_mcp"

// UnknownMethod labels requests for methods with no registered handler.
const UnknownMethod = "unknown"

type Recorder struct {
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	notifications   *prometheus.CounterVec
	ledgerCalls     *prometheus.CounterVec
	ledgerDuration  *prometheus.HistogramVec
	lifecycleState  prometheus.Gauge
}

func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		requests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "JSON-RPC requests answered, by method and response code (0 for success).",
			},
			[]string{"method", "code"},
		),
		requestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Time spent handling a JSON-RPC request.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"method"},
		),
		notifications: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rpc",
				Name:      "notifications_total",
				Help:      "JSON-RPC notifications received, by method.",
			},
			[]string{"method"},
		),
		ledgerCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "calls_total",
				Help:      "Calls made to the ledger endpoint, by RPC method and outcome.",
			},
			[]string{"method", "outcome"},
		),
		ledgerDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "call_duration_seconds",
				Help:      "Ledger endpoint round-trip time.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		lifecycleState: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "lifecycle_state",
				Help:      "Current lifecycle state: 0 uninitialized, 1 ready, 2 shutting down, 3 stopped.",
			},
		),
	}
}

// ObserveRequest records one answered request. code is 0 on success.
func (r *Recorder) ObserveRequest(method string, code int, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.requests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	r.requestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (r *Recorder) ObserveNotification(method string) {
	if r == nil {
		return
	}
	r.notifications.WithLabelValues(method).Inc()
}

// ObserveLedgerCall matches ledger.Observer.
func (r *Recorder) ObserveLedgerCall(method string, elapsed time.Duration, err error) {
	if r == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.ledgerCalls.WithLabelValues(method, outcome).Inc()
	r.ledgerDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (r *Recorder) SetLifecycleState(state int) {
	if r == nil {
		return
	}
	r.lifecycleState.Set(float64(state))
}
