package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EscrowMetrics wraps the collectors tracking trade actions and payout
// dispatch.
type EscrowMetrics struct {
	actions         *prometheus.CounterVec
	legs            *prometheus.CounterVec
	dispatchLatency *prometheus.HistogramVec
	dispatchPaused  prometheus.Gauge
	queueDepth      prometheus.Gauge
}

var (
	escrowMetricsOnce sync.Once
	escrowRegistry    *EscrowMetrics
)

// Escrow exposes the lazily-initialised escrow metrics registry.
func Escrow() *EscrowMetrics {
	escrowMetricsOnce.Do(func() {
		escrowRegistry = newEscrowMetrics()
		prometheus.MustRegister(
			escrowRegistry.actions,
			escrowRegistry.legs,
			escrowRegistry.dispatchLatency,
			escrowRegistry.dispatchPaused,
			escrowRegistry.queueDepth,
		)
	})
	return escrowRegistry
}

func newEscrowMetrics() *EscrowMetrics {
	return &EscrowMetrics{
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "escrow",
			Name:      "actions_total",
			Help:      "Trade actions segmented by action and outcome.",
		}, []string{"action", "outcome"}),
		legs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "escrow",
			Name:      "payout_legs_total",
			Help:      "Payout leg transfer results segmented by leg and result.",
		}, []string{"leg", "result"}),
		dispatchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "escrow",
			Name:      "dispatch_latency_seconds",
			Help:      "Time from dispatch to confirmed or failed delivery of a transfer.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"asset"}),
		dispatchPaused: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "escrow",
			Name:      "dispatcher_paused",
			Help:      "Indicates whether the transfer dispatcher is paused (1) or not (0).",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "escrow",
			Name:      "dispatch_queue_depth",
			Help:      "Transfers waiting to be dispatched.",
		}),
	}
}

func label(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return "unknown"
	}
	return value
}

// RecordAction counts a trade action under its outcome class.
func (m *EscrowMetrics) RecordAction(action, outcome string) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(label(action), label(outcome)).Inc()
}

// RecordLeg counts the result reported for a payout leg.
func (m *EscrowMetrics) RecordLeg(leg, result string) {
	if m == nil {
		return
	}
	m.legs.WithLabelValues(label(leg), label(result)).Inc()
}

// ObserveDispatch records how long a transfer took to settle.
func (m *EscrowMetrics) ObserveDispatch(asset string, d time.Duration) {
	if m == nil {
		return
	}
	m.dispatchLatency.WithLabelValues(strings.ToUpper(strings.TrimSpace(asset))).Observe(d.Seconds())
}

// SetPaused toggles the dispatcher pause gauge.
func (m *EscrowMetrics) SetPaused(paused bool) {
	if m == nil {
		return
	}
	if paused {
		m.dispatchPaused.Set(1)
		return
	}
	m.dispatchPaused.Set(0)
}

// SetQueueDepth reports the number of queued transfers.
func (m *EscrowMetrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}
