// Package metrics records quote and swap outcomes.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"celofx/pkg/types"
)

// Recorder receives protocol outcomes. Kind is types.KindNone on success.
type Recorder interface {
	QuoteIssued(kind types.ErrorKind)
	QuoteVerified(kind types.ErrorKind)
	SwapFinished(kind types.ErrorKind, elapsed time.Duration)
}

// Nop discards everything.
type Nop struct{}

func (Nop) QuoteIssued(types.ErrorKind)                  {}
func (Nop) QuoteVerified(types.ErrorKind)                {}
func (Nop) SwapFinished(types.ErrorKind, time.Duration) {}

// Prometheus exports outcomes as counters and a latency histogram.
type Prometheus struct {
	issued   *prometheus.CounterVec
	verified *prometheus.CounterVec
	swaps    *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewPrometheus registers the collectors on reg.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	p := &Prometheus{
		issued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "celofx",
			Subsystem: "quote",
			Name:      "issued_total",
			Help:      "Signed quotes requested, segmented by outcome.",
		}, []string{"outcome"}),
		verified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "celofx",
			Subsystem: "quote",
			Name:      "verifications_total",
			Help:      "Quote verifications, segmented by outcome.",
		}, []string{"outcome"}),
		swaps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "celofx",
			Subsystem: "swap",
			Name:      "attempts_total",
			Help:      "Swap attempts, segmented by outcome.",
		}, []string{"outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "celofx",
			Subsystem: "swap",
			Name:      "duration_seconds",
			Help:      "End-to-end swap latency from authorization to settlement.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
	}
	reg.MustRegister(p.issued, p.verified, p.swaps, p.latency)
	return p
}

func outcome(kind types.ErrorKind) string {
	if kind == types.KindNone {
		return "success"
	}
	return string(kind)
}

// QuoteIssued counts a signing outcome.
func (p *Prometheus) QuoteIssued(kind types.ErrorKind) {
	p.issued.WithLabelValues(outcome(kind)).Inc()
}

// QuoteVerified counts a verification outcome.
func (p *Prometheus) QuoteVerified(kind types.ErrorKind) {
	p.verified.WithLabelValues(outcome(kind)).Inc()
}

// SwapFinished counts a swap outcome and observes its latency.
func (p *Prometheus) SwapFinished(kind types.ErrorKind, elapsed time.Duration) {
	label := outcome(kind)
	p.swaps.WithLabelValues(label).Inc()
	p.latency.WithLabelValues(label).Observe(elapsed.Seconds())
}
