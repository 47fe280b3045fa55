package businessflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Popup renders recorded through the storefront API
	displaysRecordedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "popup_displays_recorded_total",
			Help: "Total popup displays recorded",
		},
	)

	// Display check denials partitioned by reason
	displayDenialsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "popup_display_denials_total",
			Help: "Display checks denied, by reason",
		},
		[]string{"reason"},
	)

	// Challenge token lifecycle
	challengeTokensIssuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "challenge_tokens_issued_total",
			Help: "One-time challenge tokens issued",
		},
	)
	challengeTokensConsumedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "challenge_tokens_consumed_total",
			Help: "Challenge token consumption attempts, by outcome",
		},
		[]string{"outcome"},
	)

	// Rate limit denials partitioned by action
	rateLimitDenialsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_denials_total",
			Help: "Requests denied by the fixed-window rate limiter, by action",
		},
		[]string{"action"},
	)

	// Leads captured through popup submissions
	leadsCapturedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leads_captured_total",
			Help: "Leads captured from popup submissions",
		},
	)

	// Discount issuance outcomes
	discountIssuanceTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discount_issuance_total",
			Help: "Discount code issuance attempts, by outcome",
		},
		[]string{"outcome"},
	)

	// Order attribution outcomes partitioned by conversion source
	attributionOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_attribution_total",
			Help: "Order webhook attribution outcomes, by result",
		},
		[]string{"result"},
	)
)
