package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics records the checkout-to-fulfillment pipeline counters.
type PipelineMetrics struct {
	checkouts        *prometheus.CounterVec
	payments         *prometheus.CounterVec
	dispatchAttempts prometheus.Counter
	dispatchOutcomes *prometheus.CounterVec
	dispatchDuration prometheus.Histogram
	commissions      prometheus.Counter
	payouts          *prometheus.CounterVec
}

// NewPipelineMetrics registers the pipeline metrics on the provided registerer.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	if reg == nil {
		return &PipelineMetrics{}
	}
	checkouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_total",
		Help: "Checkout attempts by outcome.",
	}, []string{"outcome"})
	payments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_events_total",
		Help: "Payment gateway events by result.",
	}, []string{"result"})
	dispatchAttempts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fulfillment_dispatch_attempts_total",
		Help: "Provider submission attempts including retries.",
	})
	dispatchOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillment_dispatch_outcomes_total",
		Help: "Terminal dispatch outcomes per order.",
	}, []string{"outcome"})
	dispatchDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "fulfillment_dispatch_duration_seconds",
		Help:    "Wall time from first attempt to terminal outcome.",
		Buckets: prometheus.DefBuckets,
	})
	commissions := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "commissions_accrued_total",
		Help: "Affiliate commissions recorded.",
	})
	payouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payout_requests_total",
		Help: "Payout requests by outcome.",
	}, []string{"outcome"})
	reg.MustRegister(checkouts, payments, dispatchAttempts, dispatchOutcomes, dispatchDuration, commissions, payouts)
	return &PipelineMetrics{
		checkouts:        checkouts,
		payments:         payments,
		dispatchAttempts: dispatchAttempts,
		dispatchOutcomes: dispatchOutcomes,
		dispatchDuration: dispatchDuration,
		commissions:      commissions,
		payouts:          payouts,
	}
}

// IncCheckout counts a checkout attempt outcome (created, rejected).
func (p *PipelineMetrics) IncCheckout(outcome string) {
	if p == nil || p.checkouts == nil {
		return
	}
	p.checkouts.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncPayment counts a payment gateway event result (confirmed, failed, duplicate).
func (p *PipelineMetrics) IncPayment(result string) {
	if p == nil || p.payments == nil {
		return
	}
	p.payments.WithLabelValues(normalizeLabel(result)).Inc()
}

// IncDispatchAttempt counts one provider submission attempt.
func (p *PipelineMetrics) IncDispatchAttempt() {
	if p == nil || p.dispatchAttempts == nil {
		return
	}
	p.dispatchAttempts.Inc()
}

// IncDispatchOutcome counts a terminal dispatch outcome (accepted, failed).
func (p *PipelineMetrics) IncDispatchOutcome(outcome string) {
	if p == nil || p.dispatchOutcomes == nil {
		return
	}
	p.dispatchOutcomes.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// ObserveDispatchDuration records the total dispatch latency for an order.
func (p *PipelineMetrics) ObserveDispatchDuration(duration time.Duration) {
	if p == nil || p.dispatchDuration == nil {
		return
	}
	p.dispatchDuration.Observe(duration.Seconds())
}

// IncCommission counts a recorded affiliate commission.
func (p *PipelineMetrics) IncCommission() {
	if p == nil || p.commissions == nil {
		return
	}
	p.commissions.Inc()
}

// IncPayout counts a payout request outcome (created, rejected, approved, paid).
func (p *PipelineMetrics) IncPayout(outcome string) {
	if p == nil || p.payouts == nil {
		return
	}
	p.payouts.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
