package observability

import "github.com/prometheus/client_golang/prometheus"

// Merchant collectors. Labels are limited to fixed outcome strings so that
// cardinality stays bounded.
var (
	// RotationsTotal counts installed rotations.
	RotationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "merchant_rotations_total",
		Help: "Total number of merchant rotations installed.",
	})

	// RotationSkipsTotal counts rollovers skipped because the item pool was empty.
	RotationSkipsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "merchant_rotation_skips_total",
		Help: "Rollovers skipped because no catalog entry was eligible.",
	})

	// PurchasesTotal counts purchase attempts by outcome.
	PurchasesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merchant_purchases_total",
			Help: "Purchase attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// PurchaseDuration observes the end-to-end purchase latency in seconds.
	PurchaseDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "merchant_purchase_duration_seconds",
		Help:    "Duration of purchase attempts in seconds.",
		Buckets: prometheus.DefBuckets,
	})

	// CompensationFailuresTotal counts rollback steps that themselves failed.
	CompensationFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "merchant_compensation_failures_total",
		Help: "Refund or revoke steps that failed while rolling back a purchase.",
	})

	// AuditDroppedTotal counts audit records dropped because the buffer was full.
	AuditDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "merchant_audit_dropped_total",
		Help: "Audit records dropped before reaching the store.",
	})

	// AuditWriteFailuresTotal counts audit records abandoned after retries.
	AuditWriteFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "merchant_audit_write_failures_total",
		Help: "Audit records that could not be written after retries.",
	})

	// RateLimitedTotal counts requests rejected by the HTTP rate limiter, by
	// registered route.
	RateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merchant_http_rate_limited_total",
			Help: "Requests rejected by the rate limiter.",
		},
		[]string{"path"},
	)

	// AuditDegraded is 1 while the audit log is degraded.
	AuditDegraded = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "merchant_audit_degraded",
		Help: "1 when audit records have been lost, 0 otherwise.",
	})
)

func init() {
	prometheus.MustRegister(
		RotationsTotal,
		RotationSkipsTotal,
		PurchasesTotal,
		PurchaseDuration,
		CompensationFailuresTotal,
		AuditDroppedTotal,
		AuditWriteFailuresTotal,
		AuditDegraded,
		RateLimitedTotal,
	)
}

// Purchase outcome label values.
const (
	OutcomeOK           = "ok"
	OutcomeUnavailable  = "unavailable"
	OutcomeNotFound     = "offer_not_found"
	OutcomeCooldown     = "on_cooldown"
	OutcomeInsufficient = "insufficient_funds"
	OutcomeFailed       = "transaction_failed"
)
