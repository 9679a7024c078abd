package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	redemptionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vouchers_redemptions_total",
		Help: "Total number of redemption attempts, by voucher kind and outcome.",
	}, []string{"kind", "outcome"})

	redemptionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vouchers_redemption_duration_seconds",
		Help:    "Duration of redemption requests in seconds.",
		Buckets: prometheus.DefBuckets,
	})

	checkRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vouchers_check_requests_total",
		Help: "Total number of code checks, by result.",
	}, []string{"result"})

	previewRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vouchers_preview_requests_total",
		Help: "Total number of redemption previews.",
	})

	pointsCreditTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vouchers_points_credit_total",
		Help: "Total number of points credits after redemption, by result.",
	}, []string{"result"})

	giftCardsIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vouchers_gift_cards_issued_total",
		Help: "Total number of gift cards issued.",
	})
)

const (
	outcomeSuccess  = "success"
	outcomeReplayed = "replayed"
	outcomeError    = "error"

	// kindUnknown labels attempts rejected before a voucher was resolved.
	kindUnknown = "unknown"
)
