package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "discrecovery_transitions_total",
		Help: "Total number of successful lifecycle transitions, by action.",
	},
		[]string{"action"},
	)

	TransitionErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "discrecovery_transition_errors_total",
		Help: "Total number of rejected transition requests, by reason.",
	},
		[]string{"reason"},
	)

	RewardsSettledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "discrecovery_rewards_settled_total",
		Help: "Total number of reward settlements, by payment method.",
	},
		[]string{"method"},
	)

	NotificationsPublishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "discrecovery_notifications_published_total",
		Help: "Total number of change notifications published to the feed.",
	})

	RecoveryCacheItems = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "discrecovery_recovery_cache_items",
		Help: "Current number of active recoveries in the read cache.",
	})
)
