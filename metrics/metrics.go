// Package metrics exposes the ingestion pipeline's Prometheus counters and
// histograms: admission, fetch, verification, handler commits, rejections,
// and scheduler retries. Collectors are registered at package init so any
// component can record against them without threading a registry through
// every constructor.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aleph-im/go-ccn/log"
)

var (
	// PendingTxAdmitted counts chain transactions handed to the Pending-Tx
	// Processor, labeled by chain.
	PendingTxAdmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ccn",
		Subsystem: "pendingtx",
		Name:      "admitted_total",
		Help:      "Chain transactions handed to the pending-tx processor.",
	}, []string{"chain"})

	// MessagesAdmitted counts candidate messages accepted into the
	// admission gate, labeled by message type.
	MessagesAdmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ccn",
		Subsystem: "publisher",
		Name:      "admitted_total",
		Help:      "Candidate messages admitted as new PendingMessages.",
	}, []string{"type"})

	// MessagesDuplicate counts candidates whose logical key was already
	// known, so admission returned the existing PendingMessage unchanged.
	MessagesDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ccn",
		Subsystem: "publisher",
		Name:      "duplicate_total",
		Help:      "Candidate messages that matched an existing logical key.",
	})

	// ProcessDuration observes the time spent evaluating one pending
	// message end to end, labeled by message type and terminal outcome.
	ProcessDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ccn",
		Subsystem: "pendingmsg",
		Name:      "process_duration_seconds",
		Help:      "Time spent evaluating one pending message.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"type", "outcome"})

	// Rejections counts messages rejected, labeled by message type and
	// RejectionError code.
	Rejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ccn",
		Subsystem: "pendingmsg",
		Name:      "rejections_total",
		Help:      "Messages rejected, by error code.",
	}, []string{"type", "code"})

	// Retries counts reschedules, labeled by message type.
	Retries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ccn",
		Subsystem: "pendingmsg",
		Name:      "retries_total",
		Help:      "Messages rescheduled for a later attempt.",
	}, []string{"type"})

	// SchedulerSweepDuration observes one high-water-mark sweep pass.
	SchedulerSweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ccn",
		Subsystem: "scheduler",
		Name:      "sweep_duration_seconds",
		Help:      "Time spent sweeping due pending messages.",
		Buckets:   prometheus.DefBuckets,
	})

	// SchedulerDue reports the queue depth found by the most recent sweep.
	SchedulerDue = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ccn",
		Subsystem: "scheduler",
		Name:      "due_messages",
		Help:      "Pending messages due for an attempt as of the last sweep.",
	})
)

// ObserveProcess records ProcessDuration only; Rejections and Retries are
// incremented separately through ObserveRejection and ObserveRetry.
func ObserveProcess(msgType, outcome string, d time.Duration) {
	ProcessDuration.WithLabelValues(msgType, outcome).Observe(d.Seconds())
}

// ObserveRejection increments Rejections for msgType/code.
func ObserveRejection(msgType, code string) {
	Rejections.WithLabelValues(msgType, code).Inc()
}

// ObserveRetry increments Retries for msgType.
func ObserveRetry(msgType string) {
	Retries.WithLabelValues(msgType).Inc()
}

// Server serves /metrics on addr until ctx is cancelled.
type Server struct {
	addr string
	log  log.Logger
}

// NewServer returns a metrics HTTP server bound to addr (e.g. ":9090").
func NewServer(addr string) *Server {
	return &Server{addr: addr, log: log.New("component", "metrics")}
}

// Start runs the HTTP listener in a goroutine and returns immediately,
// satisfying ccnnode.Lifecycle.
func (s *Server) Start(ctx context.Context) error {
	if s.addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: s.addr, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("metrics server stopped", "err", err)
		}
	}()
	s.log.Info("metrics server listening", "addr", s.addr)
	return nil
}

// Stop is a no-op; Start's context cancellation tears the server down.
func (s *Server) Stop() error { return nil }
